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

package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/caiflower/hotpocket/pkg/logger"
	"github.com/caiflower/hotpocket/pkg/tools"
	"github.com/caiflower/hotpocket/web/server"
)

const (
	EnvConfigPath     = "CONFIG_PATH"
	defaultConfigPath = "./etc"
	defaultConfigFile = "default.yaml"
)

type DefaultConfig struct {
	LoggerConfig logger.Config `yaml:"logger"`
	ServerConfig server.Config `yaml:"server"`
}

// ConfigPath 配置目录，取环境变量CONFIG_PATH，默认./etc
func ConfigPath() string {
	if path := os.Getenv(EnvConfigPath); path != "" {
		return path
	}
	return defaultConfigPath
}

// LoadConfig 读取指定的配置文件，文件必须存在
func LoadConfig(file string, v *DefaultConfig) error {
	if err := tools.LoadConfig(file, v); err != nil {
		return err
	}
	return v.ServerConfig.Validate()
}

// LoadDefaultConfig 读取 ConfigPath()/default.yaml，文件不存在时全部使用默认值
func LoadDefaultConfig(v *DefaultConfig) error {
	file := filepath.Join(ConfigPath(), defaultConfigFile)
	if _, err := os.Stat(file); errors.Is(err, fs.ErrNotExist) {
		if err = tools.LoadDefaultConfig(v); err != nil {
			return err
		}
		return v.ServerConfig.Validate()
	}
	return LoadConfig(file, v)
}
