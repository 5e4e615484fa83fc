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

package safego

import (
	"github.com/caiflower/hotpocket/pkg/e"
	golocalv1 "github.com/caiflower/hotpocket/pkg/golocal/v1"
)

// Go 启动一个goroutine，panic会被拦截
func Go(fn func()) {
	go func() {
		defer e.OnError("safeGo")
		fn()
	}()
}

// GoWithTrace 同Go，新goroutine会带上traceID，退出时清理goroutine本地存储
func GoWithTrace(traceID string, fn func()) {
	go func() {
		golocalv1.PutTraceID(traceID)
		defer golocalv1.Clean()
		defer e.OnError("safeGo")
		fn()
	}()
}
