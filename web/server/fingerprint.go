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
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/caiflower/hotpocket/pkg/cache"
	"github.com/caiflower/hotpocket/pkg/tools"
	"github.com/caiflower/hotpocket/web/protocol"
)

type KeyPolicy string

const (
	// KeyPolicyRaw 对整个读缓冲区(含填充的空格)做摘要，字节不同即视为不同请求
	KeyPolicyRaw KeyPolicy = "raw"
	// KeyPolicyCanonical 对解析后的 method、path、version、按名称排序的header和body做摘要
	KeyPolicyCanonical KeyPolicy = "canonical"
)

func ParseKeyPolicy(s string) (KeyPolicy, error) {
	switch KeyPolicy(s) {
	case "", KeyPolicyRaw:
		return KeyPolicyRaw, nil
	case KeyPolicyCanonical:
		return KeyPolicyCanonical, nil
	default:
		return "", fmt.Errorf("unknown key policy %q", s)
	}
}

// fingerprint req为nil(未解析或解析失败)时总是使用原始字节
func (p KeyPolicy) fingerprint(buf []byte, req *protocol.Request) cache.Fingerprint {
	if p != KeyPolicyCanonical || req == nil {
		return cache.Fingerprint(tools.SHA256(buf))
	}
	return cache.Fingerprint(tools.SHA256([]byte(canonicalForm(req))))
}

// canonicalForm 每个字段写成"长度:内容"，字段内容中的\n等字符不会与分隔混淆
func canonicalForm(req *protocol.Request) string {
	names := make([]string, 0, len(req.Headers))
	for name := range req.Headers {
		names = append(names, name)
	}
	sort.Strings(names)

	b := strings.Builder{}
	writeField(&b, req.Method)
	writeField(&b, req.Path)
	writeField(&b, req.Version)
	b.WriteString(strconv.Itoa(len(names)))
	b.WriteByte('#')
	for _, name := range names {
		writeField(&b, name)
		writeField(&b, req.Headers[name])
	}
	writeField(&b, req.Body)
	return b.String()
}

func writeField(b *strings.Builder, field string) {
	b.WriteString(strconv.Itoa(len(field)))
	b.WriteByte(':')
	b.WriteString(field)
}
