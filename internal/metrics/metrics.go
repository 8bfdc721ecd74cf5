// Anvil is a declarative, content-addressed configuration manager.
// Copyright (C) 2026 The Anvil Authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package metrics records apply-run counters: builds realized/failed,
// binds created/updated/destroyed/rolled back, and fetch retries. One
// Recorder is created per apply invocation rather than kept as package
// global state, since a single process may drive several applies (tests,
// the `apply`+`plan` sequence in one CLI run).
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder owns one apply run's Prometheus collectors.
type Recorder struct {
	registry *prometheus.Registry

	buildsRealized *prometheus.CounterVec
	buildsFailed   prometheus.Counter
	buildDuration  prometheus.Histogram

	bindsApplied  *prometheus.CounterVec
	bindsRolledBack prometheus.Counter

	fetchRetries prometheus.Counter
}

// New creates a Recorder with a fresh registry.
func New() *Recorder {
	registry := prometheus.NewRegistry()

	r := &Recorder{
		registry: registry,
		buildsRealized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "anvil",
			Subsystem: "engine",
			Name:      "builds_total",
			Help:      "Builds processed by the execution engine, by outcome.",
		}, []string{"outcome"}), // realized|failed
		buildsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "anvil",
			Subsystem: "engine",
			Name:      "build_failures_total",
			Help:      "Build realizations that failed.",
		}),
		buildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "anvil",
			Subsystem: "engine",
			Name:      "build_duration_seconds",
			Help:      "Wall-clock time spent realizing a single build.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300, 900},
		}),
		bindsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "anvil",
			Subsystem: "apply",
			Name:      "binds_total",
			Help:      "Binds processed by the apply orchestrator, by action.",
		}, []string{"action"}), // create|update|destroy
		bindsRolledBack: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "anvil",
			Subsystem: "apply",
			Name:      "binds_rolled_back_total",
			Help:      "Binds reversed during a failed apply's rollback.",
		}),
		fetchRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "anvil",
			Subsystem: "sandbox",
			Name:      "fetch_retries_total",
			Help:      "FetchUrl retry attempts across all builds.",
		}),
	}

	registry.MustRegister(
		r.buildsRealized, r.buildsFailed, r.buildDuration,
		r.bindsApplied, r.bindsRolledBack, r.fetchRetries,
	)
	return r
}

// Handler exposes the Recorder's collectors for scraping, for embeddings
// that want to run anvil alongside an HTTP endpoint (out of scope for the
// CLI itself, but the seam costs nothing to keep).
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// BuildOutcome records one build's terminal state.
func (r *Recorder) BuildOutcome(outcome string) {
	r.buildsRealized.WithLabelValues(outcome).Inc()
	if outcome == "failed" {
		r.buildsFailed.Inc()
	}
}

// BuildDuration records how long a single realize took.
func (r *Recorder) BuildDuration(d time.Duration) {
	r.buildDuration.Observe(d.Seconds())
}

// BindAction records one bind's processed action.
func (r *Recorder) BindAction(action string) {
	r.bindsApplied.WithLabelValues(action).Inc()
}

// BindRolledBack records one bind reversed during rollback.
func (r *Recorder) BindRolledBack() {
	r.bindsRolledBack.Inc()
}

// FetchRetry records one FetchUrl retry attempt.
func (r *Recorder) FetchRetry() {
	r.fetchRetries.Inc()
}
