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

package v1

import (
	"sync"

	"github.com/modern-go/gls"
)

// TraceID 连接级别的追踪ID，日志会自动带上
const TraceID = "X-Trace-ID"

// goroutine id -> *sync.Map
var locals sync.Map

func current() *sync.Map {
	goID := gls.GoID()
	if v, ok := locals.Load(goID); ok {
		return v.(*sync.Map)
	}
	m, _ := locals.LoadOrStore(goID, &sync.Map{})
	return m.(*sync.Map)
}

func Put(key string, value interface{}) {
	current().Store(key, value)
}

func Get(key string) interface{} {
	if v, ok := current().Load(key); ok {
		return v
	}
	return nil
}

func PutTraceID(value string) {
	Put(TraceID, value)
}

func GetTraceID() string {
	if v, ok := Get(TraceID).(string); ok {
		return v
	}
	return ""
}

// Clean 必须在goroutine退出前调用，否则goroutine id复用时会读到旧值
func Clean() {
	locals.Delete(gls.GoID())
}
