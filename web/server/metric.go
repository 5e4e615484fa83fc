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
	"strconv"

	"github.com/caiflower/hotpocket/pkg/env"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	unmatchedPath = "unmatched"
	replayedPath  = "replayed"
	otherMethod   = "other"
)

type HttpMetric struct {
	httpRequestTotal  *prometheus.CounterVec
	costHistogram     prometheus.Histogram
	cacheHitTotal     prometheus.Counter
	cacheMissTotal    prometheus.Counter
	cacheEntries      prometheus.Gauge
	activeConnections prometheus.Gauge
}

func NewHttpMetric(registerer prometheus.Registerer) *HttpMetric {
	constLabels := prometheus.Labels{"ip": env.GetLocalHostIP()}

	buckets := []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000}
	metric := &HttpMetric{
		httpRequestTotal:  prometheus.NewCounterVec(prometheus.CounterOpts{Name: "hotpocket_request_total", Help: "handled requests by status code, method and route. method is other unless the route allows it, cache replays use path replayed", ConstLabels: constLabels}, []string{"code", "method", "path"}),
		costHistogram:     prometheus.NewHistogram(prometheus.HistogramOpts{Name: "hotpocket_request_cost_ms", Help: "request handling time in milliseconds", Buckets: buckets, ConstLabels: constLabels}),
		cacheHitTotal:     prometheus.NewCounter(prometheus.CounterOpts{Name: "hotpocket_cache_hit_total", Help: "responses replayed from the response cache", ConstLabels: constLabels}),
		cacheMissTotal:    prometheus.NewCounter(prometheus.CounterOpts{Name: "hotpocket_cache_miss_total", Help: "requests not found in the response cache", ConstLabels: constLabels}),
		cacheEntries:      prometheus.NewGauge(prometheus.GaugeOpts{Name: "hotpocket_cache_entries", Help: "entries currently held by the response cache", ConstLabels: constLabels}),
		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{Name: "hotpocket_active_connections", Help: "connections currently being handled", ConstLabels: constLabels}),
	}

	if registerer != nil {
		metric.httpRequestTotal = register(registerer, metric.httpRequestTotal).(*prometheus.CounterVec)
		metric.costHistogram = register(registerer, metric.costHistogram).(prometheus.Histogram)
		metric.cacheHitTotal = register(registerer, metric.cacheHitTotal).(prometheus.Counter)
		metric.cacheMissTotal = register(registerer, metric.cacheMissTotal).(prometheus.Counter)
		metric.cacheEntries = register(registerer, metric.cacheEntries).(prometheus.Gauge)
		metric.activeConnections = register(registerer, metric.activeConnections).(prometheus.Gauge)
	}

	return metric
}

// register 重复注册时复用已存在的collector
func register(registerer prometheus.Registerer, c prometheus.Collector) prometheus.Collector {
	if err := registerer.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return are.ExistingCollector
		}
	}
	return c
}

func (m *HttpMetric) saveMetric(code int, method, path string, cost int64) {
	if path == "" {
		path = unmatchedPath
	}
	if method == "" {
		method = otherMethod
	}
	m.httpRequestTotal.WithLabelValues(strconv.Itoa(code), method, path).Inc()
	m.costHistogram.Observe(float64(cost))
}

func (m *HttpMetric) onSweep(_, remaining int) {
	m.cacheEntries.Set(float64(remaining))
}
