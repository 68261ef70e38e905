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

package monitor

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"

	"github.com/vllm-project/aibrix-resource-autoscaler/pkg/controller/resourceautoscaler/types"
)

var (
	outcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resource_autoscaler_outcomes_total",
			Help: "Per-container dispatch outcomes by source",
		},
		[]string{"namespace", "deployment", "container", "source", "outcome"},
	)
	appliedCPUCores = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "resource_autoscaler_applied_cpu_cores",
			Help: "Last CPU allocation applied to a container",
		},
		[]string{"namespace", "deployment", "container"},
	)
	appliedMemoryMiB = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "resource_autoscaler_applied_memory_mib",
			Help: "Last memory allocation applied to a container",
		},
		[]string{"namespace", "deployment", "container"},
	)
	cycleDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "resource_autoscaler_cycle_duration_seconds",
			Help:    "Duration of evaluation and reduction passes",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"source"},
	)
	ledgerPersistErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resource_autoscaler_ledger_persist_errors_total",
			Help: "Failed ledger writes; the in-memory ledger stays authoritative",
		},
		[]string{"ledger"},
	)
	forecast = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "resource_autoscaler_forecast",
			Help: "Advisory trend forecast of the next allocation",
		},
		[]string{"namespace", "deployment", "container", "resource", "bound"},
	)
)

func init() {
	// Register with controller-runtime metrics registry
	metrics.Registry.MustRegister(outcomesTotal, appliedCPUCores, appliedMemoryMiB, cycleDuration, ledgerPersistErrors, forecast)
}

// Monitor records autoscaler activity.
type Monitor struct{}

func New() *Monitor {
	return &Monitor{}
}

func (m *Monitor) RecordOutcome(result types.ContainerResult) {
	ns, dep, container := splitKey(result.ContainerID)
	// Reason is free text and stays out of the label set.
	outcomesTotal.WithLabelValues(ns, dep, container, string(result.Source), string(result.Outcome)).Inc()

	if result.Outcome == types.Applied && result.Target != nil {
		if result.Target.CPUCores != nil {
			appliedCPUCores.WithLabelValues(ns, dep, container).Set(*result.Target.CPUCores)
		}
		if result.Target.MemoryMi != nil {
			appliedMemoryMiB.WithLabelValues(ns, dep, container).Set(float64(*result.Target.MemoryMi))
		}
	}
}

func (m *Monitor) ObserveCycle(source types.Source, d time.Duration) {
	cycleDuration.WithLabelValues(string(source)).Observe(d.Seconds())
}

func (m *Monitor) RecordPersistError(ledger string) {
	ledgerPersistErrors.WithLabelValues(ledger).Inc()
}

// RecordForecast exports a forecast and its safe range for one resource.
func (m *Monitor) RecordForecast(containerID, resource string, value, low, high float64) {
	ns, dep, container := splitKey(containerID)
	forecast.WithLabelValues(ns, dep, container, resource, "predicted").Set(value)
	forecast.WithLabelValues(ns, dep, container, resource, "low").Set(low)
	forecast.WithLabelValues(ns, dep, container, resource, "high").Set(high)
}

func splitKey(key string) (string, string, string) {
	parts := strings.SplitN(key, ":", 3)
	for len(parts) < 3 {
		parts = append(parts, "")
	}
	return parts[0], parts[1], parts[2]
}
