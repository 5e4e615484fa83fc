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

package global

import (
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"

	"github.com/caiflower/hotpocket/pkg/logger"
	"github.com/caiflower/hotpocket/pkg/syncx"
)

// DefaultResourceManger
// 用于进程的启动与优雅退出，如 hotpocket server、日志

type Resource interface {
	Close()
}

type DaemonResource interface {
	Resource
	Name() string
	Start() error
}

type resourceEntry struct {
	resource Resource
	daemon   DaemonResource
	order    int
}

func (e resourceEntry) name() string {
	if e.daemon != nil {
		return e.daemon.Name()
	}
	return fmt.Sprintf("%T", e.resource)
}

func (e resourceEntry) close() {
	if e.daemon != nil {
		e.daemon.Close()
	} else {
		e.resource.Close()
	}
}

type ResourceManger struct {
	lock    sync.Locker
	entries []resourceEntry
	started []resourceEntry
	running bool
}

var DefaultResourceManger = NewResourceManger()

func NewResourceManger() *ResourceManger {
	return &ResourceManger{lock: syncx.NewSpinLock()}
}

// Add 普通资源不需要启动，在所有daemon关闭后关闭
func (rm *ResourceManger) Add(resource Resource) {
	rm.lock.Lock()
	defer rm.lock.Unlock()

	for _, v := range rm.entries {
		if v.daemon == nil && v.resource == resource {
			return
		}
	}
	rm.entries = append(rm.entries, resourceEntry{resource: resource, order: -1})
}

func (rm *ResourceManger) AddDaemon(daemon DaemonResource) {
	rm.AddDaemonWithOrder(daemon, 100000)
}

// AddDaemonWithOrder order越大越先启动，越晚关闭
func (rm *ResourceManger) AddDaemonWithOrder(daemon DaemonResource, order int) {
	rm.lock.Lock()
	defer rm.lock.Unlock()

	for _, v := range rm.entries {
		if v.daemon == daemon {
			return
		}
	}
	rm.entries = append(rm.entries, resourceEntry{daemon: daemon, order: order})
}

// Start 按order启动所有daemon，任一启动失败时关闭已启动的daemon并返回错误
func (rm *ResourceManger) Start() error {
	rm.lock.Lock()
	defer rm.lock.Unlock()

	if rm.running {
		return nil
	}

	sort.SliceStable(rm.entries, func(i, j int) bool {
		return rm.entries[i].order > rm.entries[j].order
	})

	rm.started = rm.started[:0]
	for _, entry := range rm.entries {
		if entry.daemon == nil {
			continue
		}
		if err := entry.daemon.Start(); err != nil {
			logger.Error("[global] start '%s' failed. err: %s", entry.name(), err.Error())
			rm.closeStarted()
			return fmt.Errorf("start %s: %w", entry.name(), err)
		}
		logger.Info("[global] '%s' started", entry.name())
		rm.started = append(rm.started, entry)
	}
	rm.running = true
	return nil
}

// Shutdown 逆序关闭daemon，再关闭普通资源
func (rm *ResourceManger) Shutdown() {
	rm.lock.Lock()
	defer rm.lock.Unlock()

	rm.closeStarted()
	for _, entry := range rm.entries {
		if entry.daemon == nil {
			entry.close()
		}
	}
	rm.running = false
}

func (rm *ResourceManger) closeStarted() {
	for i := len(rm.started) - 1; i >= 0; i-- {
		logger.Info("[global] closing '%s'", rm.started[i].name())
		rm.started[i].close()
	}
	rm.started = rm.started[:0]
}

// Wait 阻塞直到收到信号后关闭所有资源
func (rm *ResourceManger) Wait(sign <-chan os.Signal) os.Signal {
	s := <-sign
	logger.Info("[global] accept signal %s. The application is shutting down...", s)
	rm.Shutdown()
	return s
}

// Signal 启动所有daemon并等待退出信号
func (rm *ResourceManger) Signal() error {
	if err := rm.Start(); err != nil {
		logger.Fatal("[global] Signal failed. %s", err.Error())
		rm.Shutdown()
		return err
	}

	sign := make(chan os.Signal, 1)
	signal.Notify(sign, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer signal.Stop(sign)
	rm.Wait(sign)
	return nil
}
