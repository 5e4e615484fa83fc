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
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// splitResponse 按空行拆分报文，返回状态行、header和body
func splitResponse(t *testing.T, resp []byte) (string, map[string]string, string) {
	t.Helper()
	parts := strings.SplitN(string(resp), CRLF+CRLF, 2)
	require.Len(t, parts, 2)

	lines := strings.Split(parts[0], CRLF)
	headers := make(map[string]string)
	for _, line := range lines[1:] {
		kv := strings.SplitN(line, ": ", 2)
		require.Len(t, kv, 2)
		headers[kv[0]] = kv[1]
	}
	return lines[0], headers, parts[1]
}

func TestRenderDefaults(t *testing.T) {
	resp, err := Render(StatusOK, nil, nil)
	require.NoError(t, err)

	want := "HTTP/1.1 200 OK\r\n" +
		"Connection: close\r\n" +
		"Content-Length: 2\r\n" +
		"Content-Type: application/json\r\n" +
		"Server: Hotpocket :3\r\n" +
		"X-Frame-Options: SAMEORIGIN\r\n" +
		"\r\n" +
		"{}"
	assert.Equal(t, want, string(resp))
}

func TestRenderNotFoundBody(t *testing.T) {
	resp, err := Render(StatusNotFound, nil, map[string]string{"error": "The requested resource was not found."})
	require.NoError(t, err)

	statusLine, headers, body := splitResponse(t, resp)
	assert.Equal(t, "HTTP/1.1 404 Not Found", statusLine)
	assert.Equal(t, `{"error":"The requested resource was not found."}`, body)
	assert.Equal(t, strconv.Itoa(len(body)), headers[HeaderContentLength])
}

func TestRenderHeaderOverrides(t *testing.T) {
	resp, err := Render(StatusCreated, map[string]string{
		HeaderContentType:   "text/plain",
		HeaderServer:        "custom",
		HeaderContentLength: "999",
		"X-Request-Id":      "abc",
	}, "héllo")
	require.NoError(t, err)

	_, headers, body := splitResponse(t, resp)
	assert.Equal(t, "héllo", body)
	assert.Equal(t, "text/plain", headers[HeaderContentType])
	assert.Equal(t, "custom", headers[HeaderServer])
	assert.Equal(t, "abc", headers["X-Request-Id"])
	assert.Equal(t, "close", headers[HeaderConnection])
	assert.Equal(t, "SAMEORIGIN", headers[HeaderFrameOptions])
	// 按字节计算
	assert.Equal(t, "6", headers[HeaderContentLength])
}

func TestRenderLegacyStatusLine(t *testing.T) {
	resp, err := RenderWith(RenderOptions{LegacyStatusLine: true}, StatusMethodNotAllowed, nil, nil)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(resp), "HTTP/1.1 405 Method Not Allowed\nConnection: close\r\n"))
	assert.True(t, strings.HasSuffix(string(resp), "\r\n\r\n{}"))
}

func TestRenderIsDeterministic(t *testing.T) {
	first, err := Render(StatusOK, map[string]string{"B": "2", "A": "1", "C": "3"}, nil)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := Render(StatusOK, map[string]string{"C": "3", "A": "1", "B": "2"}, nil)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestRenderUnknownStatusPanics(t *testing.T) {
	assert.Panics(t, func() {
		_, _ = Render(418, nil, nil)
	})
}

func TestStatusText(t *testing.T) {
	text, ok := StatusText(StatusMethodNotAllowed)
	assert.True(t, ok)
	assert.Equal(t, "Method Not Allowed", text)

	_, ok = StatusText(302)
	assert.False(t, ok)
}
