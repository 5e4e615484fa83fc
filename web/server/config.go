/*
 * Copyright 2024 caiflower Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package server

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/caiflower/hotpocket/pkg/tools"
)

type Config struct {
	Host               string        `yaml:"host" default:"127.0.0.1"`
	Port               int           `yaml:"port" default:"3000"`
	CacheRetention     time.Duration `yaml:"cacheRetention" default:"60s"`
	CacheSweepInterval time.Duration `yaml:"cacheSweepInterval" default:"60s"`
	ReadBufferSize     int           `yaml:"readBufferSize" default:"1024"`
	KeyPolicy          string        `yaml:"keyPolicy" default:"raw"` // raw | canonical
	LegacyStatusLine   bool          `yaml:"legacyStatusLine"`        // 状态行以\n结尾
	MetricsAddr        string        `yaml:"metricsAddr"`             // 为空时不暴露/metrics
	AcceptRate         int           `yaml:"acceptRate"`              // 每秒accept的连接数上限，0为不限制
	AcceptBurst        int           `yaml:"acceptBurst"`
}

// DefaultConfig 所有字段取default标签的值
func DefaultConfig() Config {
	cfg := Config{}
	_ = tools.LoadDefaultConfig(&cfg)
	return cfg
}

func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.ReadBufferSize <= 0 {
		return fmt.Errorf("invalid readBufferSize %d", c.ReadBufferSize)
	}
	if c.CacheRetention <= 0 {
		return fmt.Errorf("invalid cacheRetention %s", c.CacheRetention)
	}
	if c.CacheSweepInterval <= 0 {
		return fmt.Errorf("invalid cacheSweepInterval %s", c.CacheSweepInterval)
	}
	if c.AcceptRate < 0 || c.AcceptBurst < 0 {
		return fmt.Errorf("invalid acceptRate %d or acceptBurst %d", c.AcceptRate, c.AcceptBurst)
	}
	if _, err := ParseKeyPolicy(c.KeyPolicy); err != nil {
		return err
	}
	return nil
}
