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

package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/caiflower/hotpocket/pkg/crontab"
	"github.com/caiflower/hotpocket/pkg/logger"
)

// Fingerprint 请求原始字节的SHA-256摘要，作为缓存key
type Fingerprint [sha256.Size]byte

func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

type Entry struct {
	Response  []byte
	CreatedAt time.Time
}

type Config struct {
	Retention     time.Duration `yaml:"retention" default:"60s"`
	SweepInterval time.Duration `yaml:"sweepInterval" default:"60s"`
}

type Option func(c *ResponseCache)

func WithLogger(l logger.ILog) Option {
	return func(c *ResponseCache) {
		c.logger = l
	}
}

// WithClock 替换sweeper使用的时钟，测试用
func WithClock(now func() time.Time) Option {
	return func(c *ResponseCache) {
		c.now = now
	}
}

// WithSweepHook 每次清理结束后回调，参数为本次删除数和剩余数
func WithSweepHook(fn func(removed, remaining int)) Option {
	return func(c *ResponseCache) {
		c.onSweep = fn
	}
}

// ResponseCache 进程内共享的响应缓存，整个map由一把互斥锁保护。
// 锁只在访问map时持有，不覆盖任何网络IO。
type ResponseCache struct {
	lock    sync.Mutex
	entries map[Fingerprint]Entry

	retention     time.Duration
	sweepInterval time.Duration
	now           func() time.Time
	onSweep       func(removed, remaining int)
	logger        logger.ILog

	cronLock sync.Mutex
	cron     *crontab.CronManger
}

func NewResponseCache(cfg Config, opts ...Option) *ResponseCache {
	if cfg.Retention <= 0 {
		cfg.Retention = 60 * time.Second
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 60 * time.Second
	}

	c := &ResponseCache{
		entries:       make(map[Fingerprint]Entry),
		retention:     cfg.Retention,
		sweepInterval: cfg.SweepInterval,
		now:           time.Now,
		logger:        logger.DefaultLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get 返回的切片与缓存共享，调用方不能修改
func (c *ResponseCache) Get(fp Fingerprint) ([]byte, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()

	e, ok := c.entries[fp]
	if !ok {
		return nil, false
	}
	return e.Response, true
}

// Put 无条件覆盖同一指纹的旧值
func (c *ResponseCache) Put(fp Fingerprint, response []byte, createdAt time.Time) {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.entries[fp] = Entry{Response: response, CreatedAt: createdAt}
}

// Sweep 删除存活时间达到retention的条目，整个过程只获取一次锁
func (c *ResponseCache) Sweep(now time.Time) (removed int) {
	c.lock.Lock()
	defer c.lock.Unlock()

	for fp, e := range c.entries {
		if now.Sub(e.CreatedAt) >= c.retention {
			delete(c.entries, fp)
			removed++
		}
	}
	return
}

func (c *ResponseCache) Len() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return len(c.entries)
}
