/*
Copyright 2025 The Aibrix Team.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package server exposes health, readiness, Prometheus metrics and read-only debug views
// of the autoscaler state.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"k8s.io/klog/v2"
	"sigs.k8s.io/controller-runtime/pkg/metrics"

	"github.com/vllm-project/aibrix-resource-autoscaler/pkg/controller/resourceautoscaler/trend"
	"github.com/vllm-project/aibrix-resource-autoscaler/pkg/controller/resourceautoscaler/types"
)

const shutdownTimeout = 5 * time.Second

// StatusProvider is implemented by resourceautoscaler.Manager.
type StatusProvider interface {
	Ready() bool
	LastReports() map[types.Source]types.CycleReport
	Forecast(key string) (trend.TrackedForecast, bool)
	Allocations() map[string]types.Allocation
	Cooldowns() map[string]time.Time
}

type Server struct {
	server *http.Server
	status StatusProvider
}

type ledgerView struct {
	Allocations map[string]types.Allocation `json:"allocations"`
	Cooldowns   map[string]time.Time        `json:"cooldowns"`
}

func NewServer(addr string, status StatusProvider) *Server {
	s := &Server{status: status}

	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})).Methods("GET")

	// Health related handlers
	r.HandleFunc("/healthz", s.healthz).Methods("GET")
	r.HandleFunc("/readyz", s.readyz).Methods("GET")

	r.HandleFunc("/debug/report", s.report).Methods("GET")
	r.HandleFunc("/debug/ledger", s.ledger).Methods("GET")
	r.HandleFunc("/debug/forecast/{key}", s.forecast).Methods("GET")

	s.server = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) Start() error {
	klog.InfoS("Starting HTTP server", "address", s.server.Addr)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			klog.ErrorS(err, "Failed to start HTTP server")
		}
	}()

	return nil
}

func (s *Server) Stop() error {
	klog.Info("Shutting down HTTP server")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "healthy")
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if !s.status.Ready() {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, "not ready: first evaluation cycle has not finished")
		return
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "ready")
}

// report serves the last report of every source, or of one with ?source=rules|reduction.
func (s *Server) report(w http.ResponseWriter, r *http.Request) {
	reports := s.status.LastReports()
	source := r.URL.Query().Get("source")
	if source == "" {
		writeJSON(w, reports)
		return
	}
	report, ok := reports[types.Source(source)]
	if !ok {
		http.Error(w, fmt.Sprintf("no report for source %q", source), http.StatusNotFound)
		return
	}
	writeJSON(w, report)
}

func (s *Server) ledger(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, ledgerView{
		Allocations: s.status.Allocations(),
		Cooldowns:   s.status.Cooldowns(),
	})
}

// forecast expects the container key namespace:deployment:container.
func (s *Server) forecast(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	fc, ok := s.status.Forecast(key)
	if !ok {
		http.Error(w, fmt.Sprintf("no forecast for %s", key), http.StatusNotFound)
		return
	}
	writeJSON(w, fc)
}

func writeJSON(w http.ResponseWriter, v any) {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		klog.ErrorS(err, "Failed to encode response")
		http.Error(w, "error in processing response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(jsonBytes)
}
