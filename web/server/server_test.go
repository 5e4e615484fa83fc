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
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/caiflower/hotpocket/pkg/cache"
	"github.com/caiflower/hotpocket/pkg/logger"
	"github.com/caiflower/hotpocket/web/protocol"
	"github.com/caiflower/hotpocket/web/router"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingHandler struct {
	calls int64
	code  int
	body  interface{}
}

func (h *countingHandler) ServeRequest(w router.ResponseWriter, r *protocol.Request) {
	atomic.AddInt64(&h.calls, 1)
	if h.code != 0 {
		_ = w.Respond(h.code, nil, h.body)
	}
}

func (h *countingHandler) Calls() int64 {
	return atomic.LoadInt64(&h.calls)
}

type response struct {
	raw        string
	statusLine string
	headers    map[string]string
	body       string
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Port = 0
	return cfg
}

func testOptions(opts ...Option) []Option {
	return append([]Option{
		WithRegisterer(prometheus.NewRegistry()),
		WithLogger(logger.NewLogger(&logger.Config{Level: logger.WarnLevel})),
	}, opts...)
}

func startServer(t *testing.T, cfg Config, table *router.Table, opts ...Option) *Server {
	t.Helper()
	s := NewServer(cfg, table, testOptions(opts...)...)
	require.NoError(t, s.Open())
	t.Cleanup(s.Close)
	return s
}

func send(addr, raw string) (string, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
	if _, err = conn.Write([]byte(raw)); err != nil {
		return "", err
	}
	data, err := io.ReadAll(conn)
	return string(data), err
}

func roundTrip(t *testing.T, s *Server, raw string) response {
	t.Helper()
	data, err := send(s.Addr().String(), raw)
	require.NoError(t, err)
	return parseResponse(t, data)
}

func parseResponse(t *testing.T, raw string) response {
	t.Helper()
	parts := strings.SplitN(raw, "\r\n\r\n", 2)
	require.Len(t, parts, 2, "raw=%q", raw)

	lines := strings.Split(parts[0], "\r\n")
	statusLine := lines[0]
	if idx := strings.IndexByte(statusLine, '\n'); idx >= 0 {
		lines = append([]string{statusLine[:idx], statusLine[idx+1:]}, lines[1:]...)
		statusLine = lines[0]
	}
	headers := make(map[string]string)
	for _, line := range lines[1:] {
		kv := strings.SplitN(line, ": ", 2)
		require.Len(t, kv, 2, "header=%q", line)
		headers[kv[0]] = kv[1]
	}
	return response{raw: raw, statusLine: statusLine, headers: headers, body: parts[1]}
}

func assertContentLength(t *testing.T, resp response) {
	t.Helper()
	assert.Equal(t, strconv.Itoa(len(resp.body)), resp.headers["Content-Length"])
}

func TestGetRoot(t *testing.T) {
	root := &countingHandler{code: protocol.StatusOK}
	table := router.NewTable()
	table.MustRegister("/", root, map[string]string{"GET": "application/json"})
	s := startServer(t, testConfig(), table)

	resp := roundTrip(t, s, "GET / HTTP/1.1\r\nHost: x\r\n\r\n")
	assert.Equal(t, "HTTP/1.1 200 OK", resp.statusLine)
	assert.Equal(t, "{}", resp.body)
	assert.Equal(t, "application/json", resp.headers["Content-Type"])
	assert.Equal(t, "close", resp.headers["Connection"])
	assert.Equal(t, "Hotpocket :3", resp.headers["Server"])
	assert.Equal(t, "SAMEORIGIN", resp.headers["X-Frame-Options"])
	assertContentLength(t, resp)
	assert.EqualValues(t, 1, root.Calls())
	assert.Equal(t, 1, s.Cache().Len())
}

func TestCacheReplaysIdenticalRequest(t *testing.T) {
	root := &countingHandler{code: protocol.StatusCreated, body: map[string]int{"n": 1}}
	table := router.NewTable()
	table.MustRegister("/", root, map[string]string{"GET": ""})
	s := startServer(t, testConfig(), table)

	raw := "GET / HTTP/1.1\r\nHost: x\r\n\r\n"
	first := roundTrip(t, s, raw)
	second := roundTrip(t, s, raw)

	assert.Equal(t, first.raw, second.raw)
	assert.Equal(t, "HTTP/1.1 201 Created", second.statusLine)
	assert.EqualValues(t, 1, root.Calls())
	assert.Equal(t, float64(1), testutil.ToFloat64(s.metric.cacheHitTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(s.metric.cacheMissTotal))

	// 字节不同(header顺序不同)即不命中
	roundTrip(t, s, "GET / HTTP/1.1\r\nHost: x\r\nAccept: */*\r\n\r\n")
	roundTrip(t, s, "GET / HTTP/1.1\r\nAccept: */*\r\nHost: x\r\n\r\n")
	assert.EqualValues(t, 3, root.Calls())
}

func TestCanonicalKeyPolicy(t *testing.T) {
	root := &countingHandler{code: protocol.StatusOK}
	table := router.NewTable()
	table.MustRegister("/", root, map[string]string{"GET": ""})
	cfg := testConfig()
	cfg.KeyPolicy = string(KeyPolicyCanonical)
	s := startServer(t, cfg, table)

	first := roundTrip(t, s, "GET / HTTP/1.1\r\nHost: x\r\nAccept: */*\r\n\r\n")
	second := roundTrip(t, s, "GET / HTTP/1.1\r\nAccept: */*\r\nHost: x\r\n\r\n")
	assert.Equal(t, first.raw, second.raw)
	assert.EqualValues(t, 1, root.Calls())

	// header值中夹带\n不能与两个独立的header混淆
	roundTrip(t, s, "GET / HTTP/1.1\r\nA: x\nB: y\r\n\r\n")
	roundTrip(t, s, "GET / HTTP/1.1\r\nA: x\r\nB: y\r\n\r\n")
	assert.EqualValues(t, 3, root.Calls())
}

func TestCacheEvictedAfterRetention(t *testing.T) {
	root := &countingHandler{code: protocol.StatusOK}
	table := router.NewTable()
	table.MustRegister("/", root, map[string]string{"GET": ""})
	cfg := testConfig()
	cfg.CacheRetention = 200 * time.Millisecond
	cfg.CacheSweepInterval = time.Second
	s := startServer(t, cfg, table)

	raw := "GET / HTTP/1.1\r\nHost: x\r\n\r\n"
	roundTrip(t, s, raw)
	roundTrip(t, s, raw)
	assert.EqualValues(t, 1, root.Calls())

	require.Eventually(t, func() bool {
		return s.Cache().Len() == 0
	}, 3*time.Second, 20*time.Millisecond)

	roundTrip(t, s, raw)
	assert.EqualValues(t, 2, root.Calls())
}

func TestNotFound(t *testing.T) {
	table := router.NewTable()
	table.MustRegister("/", &countingHandler{}, map[string]string{"GET": ""})
	s := startServer(t, testConfig(), table)

	resp := roundTrip(t, s, "GET /missing HTTP/1.1\r\nHost: x\r\n\r\n")
	assert.Equal(t, "HTTP/1.1 404 Not Found", resp.statusLine)
	assert.Equal(t, `{"error":"The requested resource was not found."}`, resp.body)
	assertContentLength(t, resp)
	assert.Equal(t, float64(1), testutil.ToFloat64(s.metric.httpRequestTotal.WithLabelValues("404", otherMethod, unmatchedPath)))
}

func TestMethodNotAllowed(t *testing.T) {
	root := &countingHandler{code: protocol.StatusOK}
	table := router.NewTable()
	table.MustRegister("/", root, map[string]string{"GET": ""})
	s := startServer(t, testConfig(), table)

	resp := roundTrip(t, s, "DELETE / HTTP/1.1\r\nHost: x\r\n\r\n")
	assert.Equal(t, "HTTP/1.1 405 Method Not Allowed", resp.statusLine)
	assert.Equal(t, "{}", resp.body)
	assertContentLength(t, resp)
	assert.EqualValues(t, 0, root.Calls())

	// 错误响应同样会被缓存
	assert.Equal(t, 1, s.Cache().Len())
	again := roundTrip(t, s, "DELETE / HTTP/1.1\r\nHost: x\r\n\r\n")
	assert.Equal(t, resp.raw, again.raw)
	assert.Equal(t, float64(1), testutil.ToFloat64(s.metric.cacheHitTotal))
}

func TestBadRequestLine(t *testing.T) {
	table := router.NewTable()
	table.MustRegister("/", &countingHandler{}, map[string]string{"GET": ""})
	s := startServer(t, testConfig(), table)

	for _, raw := range []string{"GET /\r\nHost: x\r\n\r\n", "GET / HTTP/1.1 extra\r\n\r\n", "GET / HTTP/1.1\r\nHost:x\r\n\r\n"} {
		resp := roundTrip(t, s, raw)
		assert.Equal(t, "HTTP/1.1 400 Bad Request", resp.statusLine, "raw=%q", raw)
		assertContentLength(t, resp)
	}
}

func TestDefaultResponseForNoopHandler(t *testing.T) {
	noop := &countingHandler{}
	table := router.NewTable()
	table.MustRegister("/noop", noop, map[string]string{"POST": "text/plain"})
	s := startServer(t, testConfig(), table)

	resp := roundTrip(t, s, "POST /noop HTTP/1.1\r\nHost: x\r\n\r\nhello")
	assert.Equal(t, "HTTP/1.1 200 OK", resp.statusLine)
	assert.Equal(t, "{}", resp.body)
	assert.Equal(t, "text/plain", resp.headers["Content-Type"])
	assert.EqualValues(t, 1, noop.Calls())
}

func TestRespondOnlyOnce(t *testing.T) {
	var secondErr atomic.Value
	table := router.NewTable()
	table.MustRegister("/twice", router.HandlerFunc(func(w router.ResponseWriter, r *protocol.Request) {
		_ = w.Respond(protocol.StatusNoContent, map[string]string{"X-Seq": "1"}, nil)
		secondErr.Store(w.Respond(protocol.StatusOK, map[string]string{"X-Seq": "2"}, nil))
	}), map[string]string{"GET": ""})
	s := startServer(t, testConfig(), table)

	resp := roundTrip(t, s, "GET /twice HTTP/1.1\r\n\r\n")
	assert.Equal(t, "HTTP/1.1 204 No Content", resp.statusLine)
	assert.Equal(t, "1", resp.headers["X-Seq"])
	err, _ := secondErr.Load().(error)
	assert.True(t, errors.Is(err, ErrAlreadyResponded))
}

func TestHandlerPanic(t *testing.T) {
	table := router.NewTable()
	table.MustRegister("/panic", router.HandlerFunc(func(w router.ResponseWriter, r *protocol.Request) {
		panic("boom")
	}), map[string]string{"GET": ""})
	table.MustRegister("/teapot", router.HandlerFunc(func(w router.ResponseWriter, r *protocol.Request) {
		_ = w.Respond(418, nil, nil)
	}), map[string]string{"GET": ""})
	s := startServer(t, testConfig(), table)

	resp := roundTrip(t, s, "GET /panic HTTP/1.1\r\n\r\n")
	assert.Equal(t, "HTTP/1.1 500 Internal Server Error", resp.statusLine)

	resp = roundTrip(t, s, "GET /teapot HTTP/1.1\r\n\r\n")
	assert.Equal(t, "HTTP/1.1 500 Internal Server Error", resp.statusLine)

	// 监听不受影响
	resp = roundTrip(t, s, "GET /missing HTTP/1.1\r\n\r\n")
	assert.Equal(t, "HTTP/1.1 404 Not Found", resp.statusLine)
}

func TestReadFailureIsNotCached(t *testing.T) {
	table := router.NewTable()
	table.MustRegister("/", &countingHandler{}, map[string]string{"GET": ""})
	s := startServer(t, testConfig(), table)

	conn, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(s.metric.httpRequestTotal.WithLabelValues("500", otherMethod, unmatchedPath)) == 1
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, s.Cache().Len())
}

func TestLegacyStatusLine(t *testing.T) {
	table := router.NewTable()
	table.MustRegister("/", &countingHandler{}, map[string]string{"GET": ""})
	cfg := testConfig()
	cfg.LegacyStatusLine = true
	s := startServer(t, cfg, table)

	resp := roundTrip(t, s, "GET / HTTP/1.1\r\n\r\n")
	assert.True(t, strings.HasPrefix(resp.raw, "HTTP/1.1 200 OK\nConnection: close\r\n"))
}

func TestConcurrentDistinctRequests(t *testing.T) {
	root := &countingHandler{code: protocol.StatusOK}
	table := router.NewTable()
	table.MustRegister("/", root, map[string]string{"GET": ""})
	s := startServer(t, testConfig(), table)

	wg := sync.WaitGroup{}
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			data, err := send(s.Addr().String(), fmt.Sprintf("GET / HTTP/1.1\r\nX-N: %d\r\n\r\n", i))
			assert.NoError(t, err)
			assert.True(t, strings.HasPrefix(data, "HTTP/1.1 200 OK\r\n"))
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 50, root.Calls())
	assert.Equal(t, 50, s.Cache().Len())
}

func TestOpenBindFailure(t *testing.T) {
	table := router.NewTable()
	s := startServer(t, testConfig(), table)

	cfg := testConfig()
	cfg.Port = s.Addr().(*net.TCPAddr).Port
	other := NewServer(cfg, router.NewTable(), testOptions()...)
	assert.Error(t, other.Open())
}

func TestCloseStopsAccepting(t *testing.T) {
	table := router.NewTable()
	s := NewServer(testConfig(), table, testOptions()...)
	require.NoError(t, s.Open())
	assert.True(t, table.Frozen())
	addr := s.Addr().String()

	s.Close()
	s.Close()

	_, err := net.DialTimeout("tcp", addr, time.Second)
	assert.Error(t, err)
}

func TestAcceptRate(t *testing.T) {
	table := router.NewTable()
	table.MustRegister("/", &countingHandler{}, map[string]string{"GET": ""})
	cfg := testConfig()
	cfg.AcceptRate = 10
	cfg.AcceptBurst = 1
	s := startServer(t, cfg, table)

	now := time.Now()
	for i := 0; i < 4; i++ {
		resp := roundTrip(t, s, fmt.Sprintf("GET / HTTP/1.1\r\nX-N: %d\r\n\r\n", i))
		assert.Equal(t, "HTTP/1.1 200 OK", resp.statusLine)
	}
	assert.GreaterOrEqual(t, time.Since(now), 250*time.Millisecond)
}

func TestMethodLabelIsBounded(t *testing.T) {
	root := &countingHandler{code: protocol.StatusOK}
	table := router.NewTable()
	table.MustRegister("/", root, map[string]string{"GET": ""})
	s := startServer(t, testConfig(), table)

	for i := 0; i < 20; i++ {
		resp := roundTrip(t, s, fmt.Sprintf("M%d /missing HTTP/1.1\r\n\r\n", i))
		assert.Equal(t, "HTTP/1.1 404 Not Found", resp.statusLine)
		resp = roundTrip(t, s, fmt.Sprintf("M%d / HTTP/1.1\r\n\r\n", i))
		assert.Equal(t, "HTTP/1.1 405 Method Not Allowed", resp.statusLine)
	}
	roundTrip(t, s, "GET / HTTP/1.1\r\n\r\n")

	assert.Equal(t, 3, testutil.CollectAndCount(s.metric.httpRequestTotal))
	assert.Equal(t, float64(20), testutil.ToFloat64(s.metric.httpRequestTotal.WithLabelValues("404", otherMethod, unmatchedPath)))
	assert.Equal(t, float64(20), testutil.ToFloat64(s.metric.httpRequestTotal.WithLabelValues("405", otherMethod, "/")))
	assert.Equal(t, float64(1), testutil.ToFloat64(s.metric.httpRequestTotal.WithLabelValues("200", "GET", "/")))
}

func TestCacheReplayIsRecorded(t *testing.T) {
	root := &countingHandler{code: protocol.StatusCreated}
	table := router.NewTable()
	table.MustRegister("/", root, map[string]string{"GET": ""})
	s := startServer(t, testConfig(), table)

	raw := "GET / HTTP/1.1\r\n\r\n"
	roundTrip(t, s, raw)
	roundTrip(t, s, raw)
	roundTrip(t, s, raw)

	assert.Equal(t, float64(1), testutil.ToFloat64(s.metric.httpRequestTotal.WithLabelValues("201", "GET", "/")))
	assert.Equal(t, float64(2), testutil.ToFloat64(s.metric.httpRequestTotal.WithLabelValues("201", otherMethod, replayedPath)))
	assert.Equal(t, float64(2), testutil.ToFloat64(s.metric.cacheHitTotal))
}

func TestReplayedStatus(t *testing.T) {
	resp, err := protocol.Render(protocol.StatusNotFound, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusNotFound, replayedStatus(resp))

	legacy, err := protocol.RenderWith(protocol.RenderOptions{LegacyStatusLine: true}, protocol.StatusCreated, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusCreated, replayedStatus(legacy))

	assert.Equal(t, 0, replayedStatus([]byte("garbage")))
}

func TestOpenTwice(t *testing.T) {
	table := router.NewTable()
	table.MustRegister("/", &countingHandler{}, map[string]string{"GET": ""})
	s := NewServer(testConfig(), table, testOptions()...)
	require.NoError(t, s.Open())
	first := s.Addr().String()

	assert.ErrorIs(t, s.Open(), ErrAlreadyOpen)
	assert.Equal(t, first, s.Addr().String())

	s.Close()
	require.NoError(t, s.Open())
	t.Cleanup(s.Close)

	resp := roundTrip(t, s, "GET / HTTP/1.1\r\n\r\n")
	assert.Equal(t, "HTTP/1.1 200 OK", resp.statusLine)
}

func TestCustomNotFoundHandler(t *testing.T) {
	table := router.NewTable()
	table.MustRegister("/", &countingHandler{}, map[string]string{"GET": ""})
	notFound := router.HandlerFunc(func(w router.ResponseWriter, r *protocol.Request) {
		_ = w.Respond(protocol.StatusNotFound, map[string]string{protocol.HeaderContentType: "text/plain"}, "no route for "+r.Path)
	})
	s := startServer(t, testConfig(), table, WithNotFoundHandler(notFound))

	resp := roundTrip(t, s, "GET /missing HTTP/1.1\r\n\r\n")
	assert.Equal(t, "HTTP/1.1 404 Not Found", resp.statusLine)
	assert.Equal(t, "no route for /missing", resp.body)
	assert.Equal(t, "text/plain", resp.headers["Content-Type"])
	assertContentLength(t, resp)
}

func TestSharedCache(t *testing.T) {
	shared := cache.NewResponseCache(cache.Config{Retention: time.Minute, SweepInterval: time.Minute})
	root := &countingHandler{code: protocol.StatusOK}
	table := router.NewTable()
	table.MustRegister("/", root, map[string]string{"GET": ""})
	s := startServer(t, testConfig(), table, WithCache(shared))

	roundTrip(t, s, "GET / HTTP/1.1\r\n\r\n")
	assert.Equal(t, 1, shared.Len())
	assert.Same(t, shared, s.Cache())
}

func TestSessionCount(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	table := router.NewTable()
	table.MustRegister("/slow", router.HandlerFunc(func(w router.ResponseWriter, r *protocol.Request) {
		close(entered)
		<-release
	}), map[string]string{"GET": ""})
	s := startServer(t, testConfig(), table)
	assert.Equal(t, 0, s.GetSessionCount())

	done := make(chan error, 1)
	go func() {
		_, err := send(s.Addr().String(), "GET /slow HTTP/1.1\r\n\r\n")
		done <- err
	}()

	select {
	case <-entered:
	case <-time.After(3 * time.Second):
		t.Fatal("handler was not invoked")
	}
	assert.Equal(t, 1, s.GetSessionCount())
	assert.Equal(t, float64(1), testutil.ToFloat64(s.metric.activeConnections))

	close(release)
	assert.NoError(t, <-done)
	require.Eventually(t, func() bool {
		return s.GetSessionCount() == 0
	}, 3*time.Second, 10*time.Millisecond)
}
