// BSD 2-Clause License
//
// Copyright (c) 2020, Andrea Giacomo Baldan
// All rights reserved.
//
// Redistribution and use in source and binary forms, with or without
// modification, are permitted provided that the following conditions are met:
//
// * Redistributions of source code must retain the above copyright notice, this
//   list of conditions and the following disclaimer.
//
// * Redistributions in binary form must reproduce the above copyright notice,
//   this list of conditions and the following disclaimer in the documentation
//   and/or other materials provided with the distribution.
//
// THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND CONTRIBUTORS "AS IS"
// AND ANY EXPRESS OR IMPLIED WARRANTIES, INCLUDING, BUT NOT LIMITED TO, THE
// IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE ARE
// DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR CONTRIBUTORS BE LIABLE
// FOR ANY DIRECT, INDIRECT, INCIDENTAL, SPECIAL, EXEMPLARY, OR CONSEQUENTIAL
// DAMAGES (INCLUDING, BUT NOT LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR
// SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS INTERRUPTION) HOWEVER
// CAUSED AND ON ANY THEORY OF LIABILITY, WHETHER IN CONTRACT, STRICT LIABILITY,
// OR TORT (INCLUDING NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE
// OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH DAMAGE.

// Package metrics exposes the scheduler's operational counters and a
// liveness endpoint over HTTP.
package metrics

import (
	"context"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	JobsIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "debussy_jobs_ingested_total",
		Help: "Submissions inserted into the jobs mapping by Phase 1.",
	})
	JobsRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "debussy_jobs_running",
		Help: "Jobs currently in the Running state.",
	})
	JobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "debussy_jobs_finished_total",
		Help: "Jobs classified by Phase 2, labeled by result.",
	}, []string{"result"})
	JobsTimedOut = promauto.NewCounter(prometheus.CounterOpts{
		Name: "debussy_jobs_timed_out_total",
		Help: "Jobs whose wall-clock deadline was enforced by kill.",
	})
	CacheRefills = promauto.NewCounter(prometheus.CounterOpts{
		Name: "debussy_cache_refills_total",
		Help: "Problem-cache refills triggered by a miss or checksum mismatch.",
	})
	FlushFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "debussy_flush_failures_total",
		Help: "Phase 3 flush attempts that failed and were retained for retry.",
	})
	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "debussy_tick_duration_seconds",
		Help:    "Wall-clock duration of a single scheduler tick.",
		Buckets: prometheus.DefBuckets,
	})
)

var ready int32

// SetReady flips the /healthz endpoint from 503 to 200. The daemon calls
// this once startup (problems/jobs directory setup) completes.
func SetReady(v bool) {
	if v {
		atomic.StoreInt32(&ready, 1)
	} else {
		atomic.StoreInt32(&ready, 0)
	}
}

func healthz(w http.ResponseWriter, r *http.Request) {
	if atomic.LoadInt32(&ready) == 1 {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	w.Write([]byte("starting"))
}

// Server exposes /healthz and /metrics on addr.
type Server struct {
	http *http.Server
}

// NewServer builds a metrics Server bound to addr. Pass an empty addr to
// disable it entirely.
func NewServer(addr string) *Server {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", healthz)
	mux.Handle("/metrics", promhttp.Handler())
	return &Server{http: &http.Server{Addr: addr, Handler: mux}}
}

// Start runs the HTTP server in the background until Shutdown is called.
// Errors other than a clean shutdown are sent on the returned channel.
func (s *Server) Start() <-chan error {
	errc := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
		close(errc)
	}()
	return errc
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
