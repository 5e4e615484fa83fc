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
	"github.com/caiflower/hotpocket/pkg/crontab"
	golocalv1 "github.com/caiflower/hotpocket/pkg/golocal/v1"
	"github.com/caiflower/hotpocket/pkg/tools"
)

type sweeper struct {
	cache *ResponseCache
}

func (s *sweeper) Run() {
	golocalv1.PutTraceID("sweeper-" + tools.UUID())
	defer golocalv1.Clean()

	c := s.cache
	removed := c.Sweep(c.now())
	remaining := c.Len()
	if removed > 0 {
		c.logger.Debug("[cache] sweep removed %d entries, %d remaining", removed, remaining)
	}
	if c.onSweep != nil {
		c.onSweep(removed, remaining)
	}
}

// Start 按SweepInterval周期性清理过期条目，重复调用无副作用
func (c *ResponseCache) Start() {
	c.cronLock.Lock()
	defer c.cronLock.Unlock()

	if c.cron != nil {
		return
	}
	c.cron = crontab.NewCronTabManger("response-cache-sweeper", c.logger)
	c.cron.AddIntervalJob(c.sweepInterval, &sweeper{cache: c})
	c.cron.Start()
	c.logger.Info("[cache] sweeper started. retention=%s. interval=%s", c.retention, c.sweepInterval)
}

// Close 停止清理任务，已缓存的数据保留
func (c *ResponseCache) Close() {
	c.cronLock.Lock()
	defer c.cronLock.Unlock()

	if c.cron == nil {
		return
	}
	c.cron.Close()
	c.cron = nil
	c.logger.Info("[cache] sweeper stopped")
}
