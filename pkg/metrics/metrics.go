// Copyright 2025 The Steward Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics exposes the runtime's Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every collector on one registry.
type Metrics struct {
	registry *prometheus.Registry

	ToolCalls    *prometheus.CounterVec
	ToolDuration *prometheus.HistogramVec
	Sessions     *prometheus.CounterVec
	ModelCalls   *prometheus.CounterVec
	ModelTokens  *prometheus.CounterVec
	Confirms     *prometheus.CounterVec
}

// New creates the collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ToolCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "steward_tool_calls_total",
			Help: "Total tool calls by server, tool and outcome.",
		}, []string{"server", "tool", "status"}),
		ToolDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "steward_tool_duration_seconds",
			Help:    "Tool call duration in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"server", "tool"}),
		Sessions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "steward_sessions_total",
			Help: "Sessions finished, by terminal state.",
		}, []string{"outcome"}),
		ModelCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "steward_model_requests_total",
			Help: "Model API requests by provider and outcome.",
		}, []string{"provider", "status"}),
		ModelTokens: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "steward_model_tokens_total",
			Help: "Tokens exchanged with model providers.",
		}, []string{"provider", "direction"}),
		Confirms: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "steward_confirmations_total",
			Help: "Confirmation verdicts by action.",
		}, []string{"action"}),
	}
}

// Handler serves the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveToolCall records one finished tool call.
func (m *Metrics) ObserveToolCall(server, tool, status string, d time.Duration) {
	m.ToolCalls.WithLabelValues(server, tool, status).Inc()
	m.ToolDuration.WithLabelValues(server, tool).Observe(d.Seconds())
}
