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
	"bytes"
	"sort"
	"strconv"

	"github.com/caiflower/hotpocket/pkg/tools"
)

const (
	ServerBanner = "Hotpocket :3"

	HeaderContentType   = "Content-Type"
	HeaderContentLength = "Content-Length"
	HeaderConnection    = "Connection"
	HeaderServer        = "Server"
	HeaderFrameOptions  = "X-Frame-Options"

	MIMEApplicationJSON = "application/json"
)

type RenderOptions struct {
	// LegacyStatusLine 状态行以\n结尾，与最早的线上格式逐字节一致
	LegacyStatusLine bool
}

// Render 组装完整的HTTP响应报文
func Render(code int, headers map[string]string, body interface{}) ([]byte, error) {
	return RenderWith(RenderOptions{}, code, headers, body)
}

// RenderWith body为nil时输出{}，string和[]byte原样输出，其余类型json序列化。
// 缺省的header只在调用方没有设置时补充，Content-Length总是按实际body长度设置。
func RenderWith(opts RenderOptions, code int, headers map[string]string, body interface{}) ([]byte, error) {
	reason := MustStatusText(code)

	if body == nil {
		body = struct{}{}
	}
	payload, err := tools.ToByte(body)
	if err != nil {
		return nil, err
	}

	merged := make(map[string]string, len(headers)+5)
	for k, v := range headers {
		merged[k] = v
	}
	setIfAbsent(merged, HeaderContentType, MIMEApplicationJSON)
	merged[HeaderContentLength] = strconv.Itoa(len(payload))
	setIfAbsent(merged, HeaderConnection, "close")
	setIfAbsent(merged, HeaderServer, ServerBanner)
	setIfAbsent(merged, HeaderFrameOptions, "SAMEORIGIN")

	names := make([]string, 0, len(merged))
	for k := range merged {
		names = append(names, k)
	}
	sort.Strings(names)

	buf := bytes.NewBuffer(make([]byte, 0, 160+len(payload)))
	buf.WriteString("HTTP/1.1 ")
	buf.WriteString(strconv.Itoa(code))
	buf.WriteByte(' ')
	buf.WriteString(reason)
	if opts.LegacyStatusLine {
		buf.WriteByte('\n')
	} else {
		buf.WriteString(CRLF)
	}
	for i, name := range names {
		if i > 0 {
			buf.WriteString(CRLF)
		}
		buf.WriteString(name)
		buf.WriteString(": ")
		buf.WriteString(merged[name])
	}
	buf.WriteString(CRLF + CRLF)
	buf.Write(payload)

	return buf.Bytes(), nil
}

func setIfAbsent(headers map[string]string, name, value string) {
	if _, ok := headers[name]; !ok {
		headers[name] = value
	}
}
