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

// Package reduction ratchets allocations that have not changed for a while back towards
// the configured floor.
package reduction

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/klog/v2"
	"k8s.io/utils/ptr"

	"github.com/vllm-project/aibrix-resource-autoscaler/pkg/controller/resourceautoscaler/allocation"
	"github.com/vllm-project/aibrix-resource-autoscaler/pkg/controller/resourceautoscaler/config"
	"github.com/vllm-project/aibrix-resource-autoscaler/pkg/controller/resourceautoscaler/convergence"
	"github.com/vllm-project/aibrix-resource-autoscaler/pkg/controller/resourceautoscaler/monitor"
	"github.com/vllm-project/aibrix-resource-autoscaler/pkg/controller/resourceautoscaler/types"
	"github.com/vllm-project/aibrix-resource-autoscaler/pkg/controller/resourceautoscaler/workload"
)

const specReadTimeout = 15 * time.Second

// Applier is the dispatch primitive the reduction targets go through.
type Applier interface {
	Apply(ctx context.Context, c types.ManagedContainer, target types.ResourceTarget, source types.Source) types.ContainerResult
}

// Task scans the allocation ledger on its own period. It never patches directly, so the
// cooldown gate and the per-container lock of the dispatcher also apply here.
type Task struct {
	applier    Applier
	ledger     *allocation.Ledger
	rules      config.Rules
	containers map[string]types.ManagedContainer
	interval   time.Duration
	staleAfter time.Duration
	now        func() time.Time
	monitor    *monitor.Monitor
	specs      workload.SpecReader

	onReport func(types.CycleReport)
	done     chan struct{}
}

type Option func(*Task)

func WithClock(now func() time.Time) Option {
	return func(t *Task) { t.now = now }
}

// WithSpecReader makes every pass decay from the live spec when it is below the ledger,
// and drop dimensions the live spec already satisfies.
func WithSpecReader(r workload.SpecReader) Option {
	return func(t *Task) { t.specs = r }
}

// WithReportHandler is called with every finished pass.
func WithReportHandler(fn func(types.CycleReport)) Option {
	return func(t *Task) { t.onReport = fn }
}

func NewTask(applier Applier, ledger *allocation.Ledger, containers []types.ManagedContainer,
	rules config.Rules, cfg config.Reduction, opts ...Option) *Task {
	managed := make(map[string]types.ManagedContainer, len(containers))
	for _, c := range containers {
		managed[c.Key()] = c
	}
	t := &Task{
		applier:    applier,
		ledger:     ledger,
		rules:      rules,
		containers: managed,
		interval:   cfg.Interval.Duration,
		staleAfter: cfg.StaleAfter.Duration,
		now:        time.Now,
		monitor:    monitor.New(),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Run blocks until ctx is cancelled. The stop signal is checked between passes; a pass in
// progress runs to completion.
func (t *Task) Run(ctx context.Context) {
	defer close(t.done)
	klog.InfoS("Starting reduction task", "interval", t.interval, "staleAfter", t.staleAfter)
	wait.UntilWithContext(ctx, func(ctx context.Context) {
		report := t.ReduceOnce(ctx, t.now())
		if t.onReport != nil {
			t.onReport(report)
		}
	}, t.interval)
	klog.InfoS("Reduction task stopped")
}

// Done is closed once Run has returned.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// ReduceOnce dispatches one decrement for every managed container whose allocation is
// older than staleAfter at now.
func (t *Task) ReduceOnce(ctx context.Context, now time.Time) types.CycleReport {
	report := types.CycleReport{
		ID:        uuid.NewString(),
		Source:    types.SourceReduction,
		StartedAt: now,
	}
	for _, entry := range t.ledger.StaleSince(now.Add(-t.staleAfter)) {
		if ctx.Err() != nil {
			break
		}
		c, ok := t.containers[entry.Key]
		if !ok {
			klog.V(4).InfoS("Skipping unmanaged ledger entry", "key", entry.Key)
			continue
		}
		current := t.currentSpec(ctx, c)
		target, ok := t.Target(withCurrent(entry.Allocation, current))
		if ok {
			target, ok = belowCurrent(target, current)
		}
		if !ok {
			klog.V(4).InfoS("Allocation already at floor", "container", c.String())
			continue
		}
		target.ContainerID = entry.Key
		report.Results = append(report.Results, t.applier.Apply(ctx, c, target, types.SourceReduction))
	}
	report.FinishedAt = t.now()
	t.monitor.ObserveCycle(types.SourceReduction, report.FinishedAt.Sub(report.StartedAt))
	klog.InfoS("Reduction pass finished", "pass", report.ID, "dispatched", len(report.Results),
		"applied", report.Count(types.Applied), "failed", report.Count(types.Failed))
	return report
}

// Target lowers each recorded dimension by one decrement, never below the minimum.
// Dimensions already at or below the minimum are left out; ok is false when none remain.
func (t *Task) Target(alloc types.Allocation) (types.ResourceTarget, bool) {
	var target types.ResourceTarget
	if alloc.CPUCores != nil && *alloc.CPUCores > t.rules.MinCPU {
		cpu := math.Round((*alloc.CPUCores-t.rules.CPUDecrement)*100) / 100
		target.CPUCores = ptr.To(math.Min(math.Max(cpu, t.rules.MinCPU), t.rules.MaxCPU))
	}
	if alloc.MemoryMi != nil && *alloc.MemoryMi > t.rules.MinMemoryMi {
		mem := *alloc.MemoryMi - t.rules.MemDecrementMi
		if mem < t.rules.MinMemoryMi {
			mem = t.rules.MinMemoryMi
		}
		if mem > t.rules.MaxMemoryMi {
			mem = t.rules.MaxMemoryMi
		}
		target.MemoryMi = ptr.To(mem)
	}
	return target, !target.IsEmpty()
}

// currentSpec returns nil when no reader is configured or the read fails, in which case
// the ledger alone drives the pass.
func (t *Task) currentSpec(ctx context.Context, c types.ManagedContainer) *convergence.CurrentSpec {
	if t.specs == nil {
		return nil
	}
	readCtx, cancel := context.WithTimeout(ctx, specReadTimeout)
	defer cancel()
	current, err := t.specs.CurrentResources(readCtx, c.ServiceName, c.Namespace, c.ContainerName)
	if err != nil {
		klog.ErrorS(err, "Failed to read current resources, reducing from ledger", "container", c.String())
		return nil
	}
	return current
}

// withCurrent lowers each recorded dimension to the live value when the workload was
// changed below it outside the autoscaler.
func withCurrent(alloc types.Allocation, current *convergence.CurrentSpec) types.Allocation {
	if v, ok := current.CPUCores(); ok && alloc.CPUCores != nil && v < *alloc.CPUCores {
		alloc.CPUCores = ptr.To(v)
	}
	if v, ok := current.MemoryMi(); ok && alloc.MemoryMi != nil && v < *alloc.MemoryMi {
		alloc.MemoryMi = ptr.To(v)
	}
	return alloc
}

// belowCurrent drops dimensions whose target would not lower the live value.
func belowCurrent(target types.ResourceTarget, current *convergence.CurrentSpec) (types.ResourceTarget, bool) {
	if v, ok := current.CPUCores(); ok && target.CPUCores != nil && *target.CPUCores >= v {
		target.CPUCores = nil
	}
	if v, ok := current.MemoryMi(); ok && target.MemoryMi != nil && *target.MemoryMi >= v {
		target.MemoryMi = nil
	}
	return target, !target.IsEmpty()
}
