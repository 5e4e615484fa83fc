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
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/caiflower/hotpocket/pkg/cache"
	"github.com/caiflower/hotpocket/web/protocol"
)

var ErrAlreadyResponded = errors.New("response already sent")

// responseWriter 连接级别的响应输出：渲染、写入缓存、发送，每个连接只发送一次
type responseWriter struct {
	server      *Server
	conn        net.Conn
	sessionID   int64
	fingerprint *cache.Fingerprint
	contentType string

	responded bool
	replayed  bool // 直接回放了缓存的响应
	code      int
	method    string
	path      string
}

func (w *responseWriter) Responded() bool {
	return w.responded
}

func (w *responseWriter) Respond(code int, headers map[string]string, body interface{}) error {
	if w.responded {
		return ErrAlreadyResponded
	}

	if w.contentType != "" {
		if _, ok := headers[protocol.HeaderContentType]; !ok {
			withType := make(map[string]string, len(headers)+1)
			for k, v := range headers {
				withType[k] = v
			}
			withType[protocol.HeaderContentType] = w.contentType
			headers = withType
		}
	}

	resp, err := protocol.RenderWith(w.server.renderOpts, code, headers, body)
	if err != nil {
		w.server.logger.Error("[server] [%d] render response failed. code=%d. err: %s", w.sessionID, code, err.Error())
		code = protocol.StatusInternalServerError
		if resp, err = protocol.RenderWith(w.server.renderOpts, code, nil, nil); err != nil {
			return err
		}
	}
	w.responded = true
	w.code = code

	if w.fingerprint != nil {
		w.server.cache.Put(*w.fingerprint, resp, time.Now())
		w.server.metric.cacheEntries.Set(float64(w.server.cache.Len()))
	}

	return w.write(resp)
}

func (w *responseWriter) write(resp []byte) error {
	if _, err := w.conn.Write(resp); err != nil {
		w.server.logger.Error("[server] [%d] write response failed. remote=%s. err: %s", w.sessionID, w.conn.RemoteAddr(), err.Error())
		return fmt.Errorf("write response: %w", err)
	}
	return nil
}
