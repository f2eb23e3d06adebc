// Copyright 2026 The Prefork Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package prefork

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors describing a worker pool.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	workers       *prometheus.GaugeVec
	transitions   *prometheus.CounterVec
	crashes       prometheus.Counter
	restarts      prometheus.Counter
	rateLimited   prometheus.Counter
	drainTimeouts prometheus.Counter
	reloads       prometheus.Counter
	registry      *prometheus.Registry
}

// NewMetrics creates the collectors in a private registry.  An empty
// namespace selects "prefork".
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "prefork"
	}
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.workers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workers",
			Help:      "Number of workers in each state",
		},
		[]string{"state"},
	)
	m.transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_state_transitions_total",
			Help:      "Total number of worker state transitions",
		},
		[]string{"from_state", "to_state"},
	)
	m.crashes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "worker_crashes_total",
		Help:      "Workers that exited without being asked to",
	})
	m.restarts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "worker_restarts_total",
		Help:      "Replacement workers spawned after a crash",
	})
	m.rateLimited = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "worker_restarts_deferred_total",
		Help:      "Restarts deferred by the rate limit",
	})
	m.drainTimeouts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "worker_drain_timeouts_total",
		Help:      "Workers killed after the grace period expired",
	})
	m.reloads = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reloads_total",
		Help:      "Rolling reloads of the pool",
	})

	m.registry.MustRegister(
		m.workers,
		m.transitions,
		m.crashes,
		m.restarts,
		m.rateLimited,
		m.drainTimeouts,
		m.reloads,
	)
	return m
}

// Registry returns the registry holding the collectors, so callers can
// add their own or gather them directly.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an http.Handler serving the metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) transition(from, to WorkerState) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from.String(), to.String()).Inc()
}

// setWorkers publishes the number of workers per state.
func (m *Metrics) setWorkers(counts map[WorkerState]int) {
	if m == nil {
		return
	}
	for st := Starting; st <= Crashed; st++ {
		m.workers.WithLabelValues(st.String()).Set(float64(counts[st]))
	}
}

func (m *Metrics) event(k EventKind) {
	if m == nil {
		return
	}
	switch k {
	case WorkerCrash:
		m.crashes.Inc()
	case WorkerRestart:
		m.restarts.Inc()
	case RateLimited:
		m.rateLimited.Inc()
	case DrainTimeout:
		m.drainTimeouts.Inc()
	case ReloadStarted:
		m.reloads.Inc()
	}
}
