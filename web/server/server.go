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
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/caiflower/hotpocket/pkg/cache"
	"github.com/caiflower/hotpocket/pkg/limiter"
	"github.com/caiflower/hotpocket/pkg/logger"
	"github.com/caiflower/hotpocket/pkg/safego"
	"github.com/caiflower/hotpocket/pkg/tools"
	"github.com/caiflower/hotpocket/web/protocol"
	"github.com/caiflower/hotpocket/web/router"
	"github.com/prometheus/client_golang/prometheus"
)

const acceptRetryDelay = 10 * time.Millisecond

var ErrAlreadyOpen = errors.New("server is already open")

type Option func(s *Server)

func WithLogger(l logger.ILog) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithRegisterer 指定metrics注册位置，默认prometheus.DefaultRegisterer
func WithRegisterer(r prometheus.Registerer) Option {
	return func(s *Server) {
		s.registerer = r
	}
}

// WithCache 使用外部创建的缓存，Open/Close会启停它的清理任务
func WithCache(c *cache.ResponseCache) Option {
	return func(s *Server) {
		s.cache = c
	}
}

func WithNotFoundHandler(h router.Handler) Option {
	return func(s *Server) {
		s.notFound = h
	}
}

// Server 每接受一个连接启动一个goroutine处理，不限制并发数量
type Server struct {
	cfg        Config
	routes     *router.Table
	cache      *cache.ResponseCache
	logger     logger.ILog
	registerer prometheus.Registerer
	metric     *HttpMetric
	keyPolicy  KeyPolicy
	renderOpts protocol.RenderOptions
	notFound   router.Handler

	lifecycle      sync.Mutex
	acceptor       net.Listener
	acceptLimiter  *limiter.TokenBucket
	ctx            context.Context
	cancel         context.CancelFunc
	closed         int32
	buildSessionID int64
	sessionCnt     int64
}

func NewServer(cfg Config, routes *router.Table, opts ...Option) *Server {
	if routes == nil {
		panic("[server] route table must not be nil. ")
	}

	s := &Server{
		cfg:        cfg,
		routes:     routes,
		logger:     logger.DefaultLogger(),
		registerer: prometheus.DefaultRegisterer,
		notFound:   NotFoundHandler{},
		closed:     1,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		panic("[server] logger must not be nil. ")
	}

	if s.cfg.ReadBufferSize <= 0 {
		s.cfg.ReadBufferSize = 1024
	}
	policy, err := ParseKeyPolicy(s.cfg.KeyPolicy)
	if err != nil {
		s.logger.Warn("[server] %s, fall back to %s", err.Error(), KeyPolicyRaw)
		policy = KeyPolicyRaw
	}
	s.keyPolicy = policy
	s.renderOpts = protocol.RenderOptions{LegacyStatusLine: s.cfg.LegacyStatusLine}

	if s.cfg.AcceptRate > 0 {
		burst := s.cfg.AcceptBurst
		if burst <= 0 {
			burst = s.cfg.AcceptRate
		}
		s.acceptLimiter = limiter.NewTokenBucket(s.cfg.AcceptRate, burst)
	}

	s.metric = NewHttpMetric(s.registerer)
	if s.cache == nil {
		s.cache = cache.NewResponseCache(cache.Config{
			Retention:     s.cfg.CacheRetention,
			SweepInterval: s.cfg.CacheSweepInterval,
		}, cache.WithLogger(s.logger), cache.WithSweepHook(s.metric.onSweep))
	}

	return s
}

func (s *Server) Name() string {
	return fmt.Sprintf("HOTPOCKET_SERVER:%s", s.cfg.Addr())
}

// Start 供global.DefaultResourceManger启动
func (s *Server) Start() error {
	return s.Open()
}

// Open 绑定地址失败直接返回错误，由调用方决定是否退出进程。Close之前重复Open返回ErrAlreadyOpen
func (s *Server) Open() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if atomic.LoadInt32(&s.closed) == 0 {
		return ErrAlreadyOpen
	}

	addr := s.cfg.Addr()
	s.logger.Info("[server] Open socket %s acceptor and listening...", addr)

	listen, err := net.Listen("tcp", addr)
	if err != nil {
		s.logger.Error("[server] Open socket %s err: %s .", addr, err.Error())
		return err
	}

	s.routes.Freeze()
	s.acceptor = listen
	s.ctx, s.cancel = context.WithCancel(context.Background())
	atomic.StoreInt32(&s.closed, 0)
	s.cache.Start()

	s.logger.Info(
		"\n***************************** hotpocket startup *****************************\n"+
			"*********** listening on %s. routes=[%s]. keyPolicy=%s ***********\n"+
			"******************************************************************************", listen.Addr(), strings.Join(s.routes.Paths(), ", "), s.keyPolicy)

	ctx := s.ctx
	safego.Go(func() {
		s.handlerConnection(ctx, listen)
	})
	return nil
}

// Close 停止接受新连接并停止缓存清理，正在处理的连接自行结束
func (s *Server) Close() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return
	}
	s.logger.Info("[server] Close socket %s acceptor. ", s.cfg.Addr())
	s.cancel()

	if err := s.acceptor.Close(); err != nil {
		s.logger.Warn("[server] Close socket %s err: %s .", s.cfg.Addr(), err.Error())
	}
	s.cache.Close()
	s.logger.Info("[server] Close socket %s success.", s.cfg.Addr())
}

// Addr 实际监听的地址，端口为0时可以拿到系统分配的端口
func (s *Server) Addr() net.Addr {
	if s.acceptor == nil {
		return nil
	}
	return s.acceptor.Addr()
}

func (s *Server) Cache() *cache.ResponseCache {
	return s.cache
}

func (s *Server) GetSessionCount() int {
	return int(atomic.LoadInt64(&s.sessionCnt))
}

func (s *Server) handlerConnection(ctx context.Context, acceptor net.Listener) {
	for {
		// 未开启限速时不做任何准入控制
		if s.acceptLimiter != nil {
			if err := s.acceptLimiter.Wait(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				continue
			}
		}

		conn, err := acceptor.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				s.logger.Info("[server] socket is closed and stop handlerConnection.")
				return
			}
			// 单次accept失败不影响监听
			s.logger.Error("[server] accept client err: %s", err.Error())
			time.Sleep(acceptRetryDelay)
			continue
		}

		sessionID := atomic.AddInt64(&s.buildSessionID, 1)
		safego.GoWithTrace(tools.UUID(), func() {
			s.serveConn(sessionID, conn)
		})
	}
}
