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

package crontab

import (
	"time"

	"github.com/caiflower/hotpocket/pkg/logger"
	"github.com/robfig/cron/v3"
)

type CronManger struct {
	name   string
	cron   *cron.Cron
	logger logger.ILog
}

func NewCronTabManger(name string, log logger.ILog) *CronManger {
	if log == nil {
		panic("[Crontab] logger must not be nil. ")
	}
	return &CronManger{
		name:   name,
		logger: log,
		cron:   cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(cron.DefaultLogger))),
	}
}

func (c *CronManger) Name() string {
	return c.name
}

func (c *CronManger) GetCron() *cron.Cron {
	return c.cron
}

func (c *CronManger) Start() {
	c.cron.Start()
}

// Close 停止调度，并等待正在执行的job结束
func (c *CronManger) Close() {
	<-c.cron.Stop().Done()
}

// AddCronJob spec为6位cron表达式，第一位是秒
func (c *CronManger) AddCronJob(spec string, job cron.Job) (cron.EntryID, error) {
	eid, err := c.cron.AddJob(spec, job)
	if err != nil {
		c.logger.Error("[Crontab] %s add crontab failed. spec=%s. err=%v", c.name, spec, err)
		return eid, err
	}
	c.logger.Info("[Crontab] %s add crontab. spec=%s. jobId=%v", c.name, spec, eid)
	return eid, nil
}

// AddIntervalJob 固定间隔执行，间隔不足1秒时按1秒处理
func (c *CronManger) AddIntervalJob(interval time.Duration, job cron.Job) cron.EntryID {
	eid := c.cron.Schedule(cron.Every(interval), job)
	c.logger.Info("[Crontab] %s add interval job. interval=%s. jobId=%v", c.name, interval, eid)
	return eid
}

func (c *CronManger) RemoveCronJob(id cron.EntryID) {
	c.cron.Remove(id)
}
