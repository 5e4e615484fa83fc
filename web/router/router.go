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

package router

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/caiflower/hotpocket/web/protocol"
)

var (
	ErrFrozen         = errors.New("route table is frozen")
	ErrDuplicateRoute = errors.New("duplicate route")
)

// ResponseWriter 所有handler共用的响应输出，一个连接只会输出第一次Respond的结果
type ResponseWriter interface {
	// Respond body为nil时输出{}，headers中未设置的默认header会自动补齐
	Respond(code int, headers map[string]string, body interface{}) error
	Responded() bool
}

type Handler interface {
	ServeRequest(w ResponseWriter, r *protocol.Request)
}

type HandlerFunc func(w ResponseWriter, r *protocol.Request)

func (f HandlerFunc) ServeRequest(w ResponseWriter, r *protocol.Request) {
	f(w, r)
}

type Route struct {
	Path    string
	Handler Handler
	methods map[string]string // method -> 默认Content-Type
}

func (r *Route) Allows(method string) bool {
	_, ok := r.methods[method]
	return ok
}

// ContentType 方法未注册时返回空字符串
func (r *Route) ContentType(method string) string {
	return r.methods[method]
}

func (r *Route) Methods() []string {
	methods := make([]string, 0, len(r.methods))
	for m := range r.methods {
		methods = append(methods, m)
	}
	sort.Strings(methods)
	return methods
}

// Table 静态路由表。Freeze之后不可修改，可被任意多个连接并发读取
type Table struct {
	lock   sync.Mutex
	routes map[string]*Route
	frozen bool
}

func NewTable() *Table {
	return &Table{routes: make(map[string]*Route)}
}

func (t *Table) Register(path string, handler Handler, methods map[string]string) error {
	if path == "" {
		return errors.New("route path must not be empty")
	}
	if handler == nil {
		return fmt.Errorf("route %s: handler must not be nil", path)
	}
	if len(methods) == 0 {
		return fmt.Errorf("route %s: at least one method is required", path)
	}

	t.lock.Lock()
	defer t.lock.Unlock()

	if t.frozen {
		return fmt.Errorf("route %s: %w", path, ErrFrozen)
	}
	if _, ok := t.routes[path]; ok {
		return fmt.Errorf("route %s: %w", path, ErrDuplicateRoute)
	}

	copied := make(map[string]string, len(methods))
	for m, ct := range methods {
		if ct == "" {
			ct = protocol.MIMEApplicationJSON
		}
		copied[m] = ct
	}
	t.routes[path] = &Route{Path: path, Handler: handler, methods: copied}
	return nil
}

// MustRegister 启动阶段注册，出错直接panic
func (t *Table) MustRegister(path string, handler Handler, methods map[string]string) {
	if err := t.Register(path, handler, methods); err != nil {
		panic(fmt.Sprintf("[router] %s", err.Error()))
	}
}

func (t *Table) Freeze() {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.frozen = true
}

func (t *Table) Frozen() bool {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.frozen
}

// Lookup 不加锁，只能在Freeze之后并发调用
func (t *Table) Lookup(path string) (*Route, bool) {
	r, ok := t.routes[path]
	return r, ok
}

func (t *Table) Paths() []string {
	t.lock.Lock()
	defer t.lock.Unlock()

	paths := make([]string, 0, len(t.routes))
	for p := range t.routes {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
