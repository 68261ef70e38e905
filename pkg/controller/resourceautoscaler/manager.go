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

// Package resourceautoscaler wires the evaluation loop and the reduction task into a
// single process lifecycle.
package resourceautoscaler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"k8s.io/klog/v2"

	"github.com/vllm-project/aibrix-resource-autoscaler/pkg/controller/resourceautoscaler/algorithm"
	"github.com/vllm-project/aibrix-resource-autoscaler/pkg/controller/resourceautoscaler/allocation"
	"github.com/vllm-project/aibrix-resource-autoscaler/pkg/controller/resourceautoscaler/config"
	"github.com/vllm-project/aibrix-resource-autoscaler/pkg/controller/resourceautoscaler/cooldown"
	"github.com/vllm-project/aibrix-resource-autoscaler/pkg/controller/resourceautoscaler/dispatcher"
	"github.com/vllm-project/aibrix-resource-autoscaler/pkg/controller/resourceautoscaler/metrics"
	"github.com/vllm-project/aibrix-resource-autoscaler/pkg/controller/resourceautoscaler/monitor"
	"github.com/vllm-project/aibrix-resource-autoscaler/pkg/controller/resourceautoscaler/reduction"
	"github.com/vllm-project/aibrix-resource-autoscaler/pkg/controller/resourceautoscaler/trend"
	"github.com/vllm-project/aibrix-resource-autoscaler/pkg/controller/resourceautoscaler/types"
	"github.com/vllm-project/aibrix-resource-autoscaler/pkg/controller/resourceautoscaler/workload"
	"github.com/vllm-project/aibrix-resource-autoscaler/pkg/store"
)

// Stores holds the persistence backends of both ledgers.
type Stores struct {
	Cooldown   store.Store[time.Time]
	Allocation store.Store[types.Allocation]
}

// Manager owns the ledgers and runs the main loop next to the reduction task.
type Manager struct {
	cfg        *config.Config
	gate       *cooldown.Gate
	ledger     *allocation.Ledger
	tracker    *trend.Tracker
	dispatcher *dispatcher.Dispatcher
	reduction  *reduction.Task

	ready   atomic.Bool
	mu      sync.RWMutex
	reports map[types.Source]types.CycleReport
}

// NewManager builds every component from a validated configuration.
func NewManager(cfg *config.Config, source metrics.Source, orchestrator workload.Orchestrator, stores Stores) (*Manager, error) {
	m := &Manager{
		cfg:     cfg,
		gate:    cooldown.NewGate(cfg.Rules.Cooldown.Duration, stores.Cooldown),
		ledger:  allocation.NewLedger(stores.Allocation),
		reports: make(map[types.Source]types.CycleReport),
	}

	mon := monitor.New()
	opts := []dispatcher.Option{
		dispatcher.WithTimeouts(cfg.Loop.MetricsTimeout.Duration, cfg.Loop.PatchTimeout.Duration),
		dispatcher.WithMonitor(mon),
	}
	if cfg.Trend.Enabled {
		learner, err := trend.NewLearner(cfg.Trend)
		if err != nil {
			return nil, err
		}
		m.tracker = trend.NewTracker(learner)
		opts = append(opts, dispatcher.WithTracker(m.tracker))
	}
	m.dispatcher = dispatcher.New(source, algorithm.NewRuleEvaluator(cfg.Rules), m.gate, m.ledger, orchestrator, opts...)

	if cfg.Reduction.Enabled {
		m.reduction = reduction.NewTask(m.dispatcher, m.ledger, cfg.Containers, cfg.Rules, cfg.Reduction,
			reduction.WithSpecReader(orchestrator),
			reduction.WithReportHandler(m.storeReport))
	}
	return m, nil
}

// Run loads both ledgers and blocks until ctx is cancelled. After cancellation it waits up
// to the shutdown timeout for the loops to return.
func (m *Manager) Run(ctx context.Context) error {
	if err := m.gate.Load(ctx); err != nil {
		return fmt.Errorf("failed to load cooldown ledger: %w", err)
	}
	if err := m.ledger.Load(ctx); err != nil {
		return fmt.Errorf("failed to load allocation ledger: %w", err)
	}

	klog.InfoS("Starting resource autoscaler", "containers", len(m.cfg.Containers),
		"interval", m.cfg.Loop.Interval.Duration, "cooldown", m.cfg.Rules.Cooldown.Duration,
		"reduction", m.cfg.Reduction.Enabled, "trend", m.cfg.Trend.Enabled)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.loop(ctx)
	}()
	if m.reduction != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.reduction.Run(ctx)
		}()
	}

	<-ctx.Done()
	klog.InfoS("Shutting down resource autoscaler", "timeout", m.cfg.Loop.ShutdownTimeout.Duration)

	stopped := make(chan struct{})
	go func() {
		wg.Wait()
		close(stopped)
	}()
	select {
	case <-stopped:
		klog.InfoS("Resource autoscaler stopped")
		return nil
	case <-time.After(m.cfg.Loop.ShutdownTimeout.Duration):
		return fmt.Errorf("loops did not stop within %s", m.cfg.Loop.ShutdownTimeout.Duration)
	}
}

func (m *Manager) loop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Loop.Interval.Duration)
	defer ticker.Stop()

	m.runCycle(ctx)
	for {
		select {
		case <-ticker.C:
			m.runCycle(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) runCycle(ctx context.Context) {
	report := m.dispatcher.RunCycle(ctx, m.cfg.Containers)
	m.storeReport(report)
	m.ready.Store(true)
}

func (m *Manager) storeReport(report types.CycleReport) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports[report.Source] = report
}

// Ready reports whether the ledgers are loaded and the first cycle has finished.
func (m *Manager) Ready() bool {
	return m.ready.Load()
}

// LastReports returns the most recent report of each source.
func (m *Manager) LastReports() map[types.Source]types.CycleReport {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[types.Source]types.CycleReport, len(m.reports))
	for k, v := range m.reports {
		out[k] = v
	}
	return out
}

// Forecast returns the latest advisory forecast of a container. It is always empty when
// the trend learner is disabled.
func (m *Manager) Forecast(key string) (trend.TrackedForecast, bool) {
	if m.tracker == nil {
		return trend.TrackedForecast{}, false
	}
	return m.tracker.Latest(key)
}

// Allocations returns a copy of the allocation ledger.
func (m *Manager) Allocations() map[string]types.Allocation {
	return m.ledger.Snapshot()
}

// Cooldowns returns a copy of the cooldown ledger.
func (m *Manager) Cooldowns() map[string]time.Time {
	return m.gate.Snapshot()
}
