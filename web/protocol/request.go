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

package protocol

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

const CRLF = "\r\n"

var (
	ErrMalformedRequestLine = errors.New("malformed request line")
	ErrMalformedHeader      = errors.New("malformed header line")
)

// Request 从单次读取的缓冲区中解析出的请求，只属于处理它的连接
type Request struct {
	Method  string
	Path    string
	Version string
	Headers map[string]string // key区分大小写，保持收到时的原样
	Body    string
	HasBody bool
}

// ParseRequest 缓冲区按UTF-8解码(非法字节替换为U+FFFD)，去掉尾部空白后按CRLF分行。
// 第一行必须恰好是 METHOD PATH VERSION 三段；之后到第一个空行为止是header，
// 每行按第一个": "切分；空行之后的内容是body。
func ParseRequest(buf []byte) (*Request, error) {
	text := strings.ToValidUTF8(string(buf), string(unicode.ReplacementChar))
	text = strings.TrimRightFunc(text, unicode.IsSpace)
	lines := strings.Split(text, CRLF)

	requestLine := strings.Fields(lines[0])
	if len(requestLine) != 3 {
		return nil, fmt.Errorf("%w: %q", ErrMalformedRequestLine, lines[0])
	}

	req := &Request{
		Method:  requestLine[0],
		Path:    requestLine[1],
		Version: requestLine[2],
		Headers: make(map[string]string),
	}

	i := 1
	for ; i < len(lines); i++ {
		line := lines[i]
		if line == "" {
			i++
			break
		}
		idx := strings.Index(line, ": ")
		if idx < 0 {
			return nil, fmt.Errorf("%w: %q", ErrMalformedHeader, line)
		}
		req.Headers[line[:idx]] = line[idx+2:]
	}

	if i < len(lines) {
		if body := strings.Join(lines[i:], CRLF); body != "" {
			req.Body = body
			req.HasBody = true
		}
	}

	return req, nil
}
