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

package main

import (
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/caiflower/hotpocket/global"
	"github.com/caiflower/hotpocket/global/config"
	"github.com/caiflower/hotpocket/pkg/logger"
	"github.com/caiflower/hotpocket/pkg/safego"
	"github.com/caiflower/hotpocket/web/handler"
	"github.com/caiflower/hotpocket/web/router"
	"github.com/caiflower/hotpocket/web/server"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var configFile = flag.String("config", "", "path of the yaml config file, default $CONFIG_PATH/default.yaml")

func main() {
	flag.Parse()

	cfg := config.DefaultConfig{}
	var err error
	if *configFile != "" {
		err = config.LoadConfig(*configFile, &cfg)
	} else {
		err = config.LoadDefaultConfig(&cfg)
	}
	if err != nil {
		logger.Error("load config failed. err: %s", err.Error())
		logger.DefaultLogger().Close()
		os.Exit(1)
	}
	logger.InitLogger(&cfg.LoggerConfig)

	table := router.NewTable()
	if err = handler.Register(table); err != nil {
		logger.Fatal("register routes failed. err: %s", err.Error())
		logger.DefaultLogger().Close()
		os.Exit(1)
	}

	s := server.NewServer(cfg.ServerConfig, table)
	global.DefaultResourceManger.AddDaemon(s)
	if cfg.ServerConfig.MetricsAddr != "" {
		global.DefaultResourceManger.AddDaemonWithOrder(newMetricsServer(cfg.ServerConfig.MetricsAddr), 1)
	}
	global.DefaultResourceManger.Add(logger.DefaultLogger())

	if err = global.DefaultResourceManger.Signal(); err != nil {
		os.Exit(1)
	}
}

// metricsServer 暴露prometheus /metrics
type metricsServer struct {
	srv *http.Server
}

func newMetricsServer(addr string) *metricsServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &metricsServer{srv: &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}}
}

func (m *metricsServer) Name() string {
	return "METRICS_SERVER:" + m.srv.Addr
}

func (m *metricsServer) Start() error {
	l, err := net.Listen("tcp", m.srv.Addr)
	if err != nil {
		return err
	}
	safego.Go(func() {
		if err := m.srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("[metrics] serve %s failed. err: %s", m.srv.Addr, err.Error())
		}
	})
	return nil
}

func (m *metricsServer) Close() {
	_ = m.srv.Close()
}
