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
	"bytes"
	"fmt"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/caiflower/hotpocket/web/protocol"
	"github.com/caiflower/hotpocket/web/router"
)

var notFoundBody = map[string]string{"error": "The requested resource was not found."}

// serveConn 一个连接只处理一个请求:
// 读取 -> 查缓存 -> 解析 -> 路由 -> 校验方法 -> 调用handler -> 响应并缓存
func (s *Server) serveConn(sessionID int64, conn net.Conn) {
	start := time.Now()
	atomic.AddInt64(&s.sessionCnt, 1)
	s.metric.activeConnections.Inc()

	w := &responseWriter{server: s, conn: conn, sessionID: sessionID}
	defer func() {
		if err := conn.Close(); err != nil {
			s.logger.Debug("[server] [%d] close connection err: %s", sessionID, err.Error())
		}
		atomic.AddInt64(&s.sessionCnt, -1)
		s.metric.activeConnections.Dec()
		if w.responded || w.replayed {
			s.metric.saveMetric(w.code, w.method, w.path, time.Since(start).Milliseconds())
		}
	}()

	buf := make([]byte, s.cfg.ReadBufferSize)
	for i := range buf {
		buf[i] = ' '
	}
	n, err := conn.Read(buf)
	if err != nil {
		// 连接级别的读失败不缓存
		s.logger.Warn("[server] [%d] read request failed. remote=%s. err: %s", sessionID, conn.RemoteAddr(), err.Error())
		_ = w.Respond(protocol.StatusInternalServerError, nil, nil)
		return
	}
	s.logger.Debug("[server] [%d] read %d bytes. remote=%s", sessionID, n, conn.RemoteAddr())

	var (
		req      *protocol.Request
		parseErr error
		parsed   bool
	)
	if s.keyPolicy == KeyPolicyCanonical {
		req, parseErr = protocol.ParseRequest(buf)
		parsed = true
	}
	fp := s.keyPolicy.fingerprint(buf, req)
	w.fingerprint = &fp

	if cached, ok := s.cache.Get(fp); ok {
		s.metric.cacheHitTotal.Inc()
		s.logger.Debug("[server] [%d] cache hit. fingerprint=%s", sessionID, fp)
		w.replayed = true
		w.code = replayedStatus(cached)
		w.path = replayedPath
		_ = w.write(cached)
		return
	}
	s.metric.cacheMissTotal.Inc()

	if !parsed {
		req, parseErr = protocol.ParseRequest(buf)
	}
	if parseErr != nil {
		s.logger.Info("[server] [%d] bad request. remote=%s. err: %s", sessionID, conn.RemoteAddr(), parseErr.Error())
		_ = w.Respond(protocol.StatusBadRequest, nil, nil)
		return
	}

	route, ok := s.routes.Lookup(req.Path)
	if !ok {
		s.dispatch(s.notFound, w, req)
		if !w.Responded() {
			_ = w.Respond(protocol.StatusNotFound, nil, notFoundBody)
		}
		return
	}
	w.path = route.Path

	if !route.Allows(req.Method) {
		_ = w.Respond(protocol.StatusMethodNotAllowed, nil, nil)
		return
	}

	// 只有路由声明过的方法才作为metric label
	w.method = req.Method
	w.contentType = route.ContentType(req.Method)
	s.dispatch(route.Handler, w, req)
	if !w.Responded() {
		_ = w.Respond(protocol.StatusOK, nil, nil)
	}
}

// replayedStatus 从缓存的状态行"HTTP/1.1 200 OK"中取状态码
func replayedStatus(resp []byte) int {
	fields := bytes.Fields(bytes.SplitN(resp, []byte("\n"), 2)[0])
	if len(fields) < 2 {
		return 0
	}
	code, _ := strconv.Atoi(string(fields[1]))
	return code
}

// dispatch handler的panic只影响当前请求，尚未响应时返回500
func (s *Server) dispatch(handler router.Handler, w *responseWriter, req *protocol.Request) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("[server] [%d] handler panic. method=%s. path=%s. err: %s", w.sessionID, req.Method, req.Path, fmt.Sprint(r))
			if !w.Responded() {
				w.contentType = ""
				_ = w.Respond(protocol.StatusInternalServerError, nil, nil)
			}
		}
	}()

	handler.ServeRequest(w, req)
}

// NotFoundHandler 路由未命中时的默认处理
type NotFoundHandler struct{}

func (NotFoundHandler) ServeRequest(w router.ResponseWriter, _ *protocol.Request) {
	_ = w.Respond(protocol.StatusNotFound, nil, notFoundBody)
}
