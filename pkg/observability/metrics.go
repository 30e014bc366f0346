// Copyright 2025 Kadir Pekel
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//     http://www.apache.org/licenses/LICENSE-2.0
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package observability provides Prometheus metrics collection for the
// kernel's supervisors: background task lifecycle, subagent executions,
// and session creation.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a dedicated Prometheus registry and the instruments the
// core components record into. Every method is safe on a nil receiver so
// components can carry an optional *Metrics without guarding call sites.
type Metrics struct {
	registry *prometheus.Registry

	tasksStarted  *prometheus.CounterVec
	tasksFinished *prometheus.CounterVec
	tasksActive   *prometheus.GaugeVec

	subagentRuns *prometheus.CounterVec

	sessionsCreated prometheus.Counter
}

// NewMetrics creates a Metrics instance with its own registry. namespace
// defaults to "wave".
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "wave"
	}

	m := &Metrics{registry: prometheus.NewRegistry()}

	m.tasksStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "task",
			Name:      "started_total",
			Help:      "Total number of background tasks started",
		},
		[]string{"kind"},
	)
	m.tasksFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "task",
			Name:      "finished_total",
			Help:      "Total number of background tasks reaching a terminal status",
		},
		[]string{"kind", "status"},
	)
	m.tasksActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "task",
			Name:      "active",
			Help:      "Number of currently running background tasks",
		},
		[]string{"kind"},
	)
	m.subagentRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subagent",
			Name:      "executions_total",
			Help:      "Total number of subagent executions by terminal status",
		},
		[]string{"status"},
	)
	m.sessionsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "created_total",
			Help:      "Total number of sessions created",
		},
	)

	m.registry.MustRegister(m.tasksStarted, m.tasksFinished, m.tasksActive, m.subagentRuns, m.sessionsCreated)
	return m
}

// RecordTaskStarted records a background task entering the running state.
func (m *Metrics) RecordTaskStarted(kind string) {
	if m == nil {
		return
	}
	m.tasksStarted.WithLabelValues(kind).Inc()
	m.tasksActive.WithLabelValues(kind).Inc()
}

// RecordTaskFinished records a background task reaching a terminal
// status. Must be called exactly once per started task.
func (m *Metrics) RecordTaskFinished(kind, status string) {
	if m == nil {
		return
	}
	m.tasksFinished.WithLabelValues(kind, status).Inc()
	m.tasksActive.WithLabelValues(kind).Dec()
}

// RecordSubagentExecution records a subagent run's terminal status.
func (m *Metrics) RecordSubagentExecution(status string) {
	if m == nil {
		return
	}
	m.subagentRuns.WithLabelValues(status).Inc()
}

// RecordSessionCreated records a session creation.
func (m *Metrics) RecordSessionCreated() {
	if m == nil {
		return
	}
	m.sessionsCreated.Inc()
}

// Handler returns an HTTP handler serving the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}
