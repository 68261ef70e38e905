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

// Package dispatcher runs evaluation cycles and owns the single path through which
// resource targets reach the orchestrator.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"k8s.io/klog/v2"
	"k8s.io/utils/ptr"

	"github.com/vllm-project/aibrix-resource-autoscaler/pkg/controller/resourceautoscaler/algorithm"
	"github.com/vllm-project/aibrix-resource-autoscaler/pkg/controller/resourceautoscaler/allocation"
	"github.com/vllm-project/aibrix-resource-autoscaler/pkg/controller/resourceautoscaler/convergence"
	"github.com/vllm-project/aibrix-resource-autoscaler/pkg/controller/resourceautoscaler/cooldown"
	"github.com/vllm-project/aibrix-resource-autoscaler/pkg/controller/resourceautoscaler/metrics"
	"github.com/vllm-project/aibrix-resource-autoscaler/pkg/controller/resourceautoscaler/monitor"
	"github.com/vllm-project/aibrix-resource-autoscaler/pkg/controller/resourceautoscaler/trend"
	"github.com/vllm-project/aibrix-resource-autoscaler/pkg/controller/resourceautoscaler/types"
	"github.com/vllm-project/aibrix-resource-autoscaler/pkg/controller/resourceautoscaler/workload"
)

const (
	defaultMetricsTimeout = 10 * time.Second
	defaultPatchTimeout   = 15 * time.Second
)

// Dispatcher makes at most one patch call per container per cycle. Containers are handled
// sequentially and a failure or panic in one never aborts the others.
type Dispatcher struct {
	source       metrics.Source
	evaluator    *algorithm.RuleEvaluator
	gate         *cooldown.Gate
	ledger       *allocation.Ledger
	orchestrator workload.Orchestrator
	monitor      *monitor.Monitor
	tracker      *trend.Tracker

	metricsTimeout time.Duration
	patchTimeout   time.Duration
	now            func() time.Time

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

type Option func(*Dispatcher)

func WithTimeouts(metricsTimeout, patchTimeout time.Duration) Option {
	return func(d *Dispatcher) {
		d.metricsTimeout = metricsTimeout
		d.patchTimeout = patchTimeout
	}
}

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// WithTracker enables advisory trend forecasts for every container with both samples.
func WithTracker(t *trend.Tracker) Option {
	return func(d *Dispatcher) { d.tracker = t }
}

func WithMonitor(m *monitor.Monitor) Option {
	return func(d *Dispatcher) { d.monitor = m }
}

func New(source metrics.Source, evaluator *algorithm.RuleEvaluator, gate *cooldown.Gate,
	ledger *allocation.Ledger, orchestrator workload.Orchestrator, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		source:         source,
		evaluator:      evaluator,
		gate:           gate,
		ledger:         ledger,
		orchestrator:   orchestrator,
		monitor:        monitor.New(),
		metricsTimeout: defaultMetricsTimeout,
		patchTimeout:   defaultPatchTimeout,
		now:            time.Now,
		locks:          make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// RunCycle evaluates every container once. When ctx is cancelled the in-flight container
// finishes and the remaining ones are left for the next process.
func (d *Dispatcher) RunCycle(ctx context.Context, containers []types.ManagedContainer) types.CycleReport {
	report := types.CycleReport{
		ID:        uuid.NewString(),
		Source:    types.SourceRules,
		StartedAt: d.now(),
		Results:   make([]types.ContainerResult, 0, len(containers)),
	}
	for _, c := range containers {
		if ctx.Err() != nil {
			klog.InfoS("Evaluation cycle interrupted", "cycle", report.ID, "remaining", len(containers)-len(report.Results))
			break
		}
		report.Results = append(report.Results, d.processContainer(ctx, c))
	}
	report.FinishedAt = d.now()
	d.monitor.ObserveCycle(types.SourceRules, report.FinishedAt.Sub(report.StartedAt))

	klog.InfoS("Evaluation cycle finished", "cycle", report.ID,
		"applied", report.Count(types.Applied),
		"cooldown", report.Count(types.SkippedCooldown),
		"noop", report.Count(types.SkippedNoOp),
		"nodata", report.Count(types.SkippedNoData),
		"stable", report.Count(types.SkippedStable),
		"failed", report.Count(types.Failed),
		"duration", report.FinishedAt.Sub(report.StartedAt))
	return report
}

// Apply sends one target through the cooldown gate, the no-op filter and the orchestrator.
// It is shared by the evaluation loop and the reduction task.
func (d *Dispatcher) Apply(ctx context.Context, c types.ManagedContainer, target types.ResourceTarget, source types.Source) (result types.ContainerResult) {
	defer d.recoverInto(c, source, &result)
	result = d.apply(ctx, c, target, source)
	d.record(c, result)
	return result
}

func (d *Dispatcher) processContainer(ctx context.Context, c types.ManagedContainer) (result types.ContainerResult) {
	defer d.recoverInto(c, types.SourceRules, &result)
	result = d.evaluate(ctx, c)
	d.record(c, result)
	return result
}

func (d *Dispatcher) evaluate(ctx context.Context, c types.ManagedContainer) types.ContainerResult {
	key := c.Key()
	cpuSamples, cpuErr := d.fetch(ctx, c, types.CPU)
	memSamples, memErr := d.fetch(ctx, c, types.Memory)

	if cpuErr != nil && memErr != nil {
		var cpuMetricsErr, memMetricsErr *types.MetricsError
		if errors.As(cpuErr, &cpuMetricsErr) && errors.As(memErr, &memMetricsErr) {
			return failed(key, types.SourceRules, fmt.Sprintf("%v; %v", cpuErr, memErr))
		}
		return types.ContainerResult{ContainerID: key, Outcome: types.SkippedNoData, Source: types.SourceRules,
			Reason: fmt.Sprintf("cpu: %v; memory: %v", cpuErr, memErr)}
	}

	samples := make([]types.MetricSample, 0, len(cpuSamples)+len(memSamples))
	samples = append(samples, cpuSamples...)
	samples = append(samples, memSamples...)
	if cpuErr == nil && memErr == nil {
		d.observeTrend(c, samples)
	}

	var target *types.ResourceTarget
	for _, t := range d.evaluator.Evaluate(samples) {
		if t.ContainerID == key {
			t := t
			target = &t
		}
	}
	if target == nil {
		return types.ContainerResult{ContainerID: key, Outcome: types.SkippedStable, Source: types.SourceRules}
	}
	return d.apply(ctx, c, *target, types.SourceRules)
}

// fetch returns types.ErrNoData or a *types.MetricsError when the dimension must be skipped.
func (d *Dispatcher) fetch(ctx context.Context, c types.ManagedContainer, kind types.MetricKind) ([]types.MetricSample, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, d.metricsTimeout)
	defer cancel()

	samples, err := d.source.Fetch(fetchCtx, c, kind)
	switch {
	case errors.Is(err, types.ErrNoData):
		klog.V(4).InfoS("No metric data", "container", c.String(), "kind", kind)
		return nil, types.ErrNoData
	case err != nil:
		var merr *types.MetricsError
		if !errors.As(err, &merr) {
			err = &types.MetricsError{Kind: kind, Err: err}
		}
		klog.ErrorS(err, "Skipping metric for this cycle", "container", c.String(), "kind", kind)
		return nil, err
	}
	return samples, nil
}

func (d *Dispatcher) apply(ctx context.Context, c types.ManagedContainer, target types.ResourceTarget, source types.Source) types.ContainerResult {
	key := c.Key()
	target.ContainerID = key
	result := types.ContainerResult{ContainerID: key, Source: source, Target: &target}

	if target.IsEmpty() {
		result.Outcome = types.SkippedNoOp
		result.Reason = "empty target"
		return result
	}
	if !d.evaluator.Bounds(target) {
		return failed(key, source, fmt.Sprintf("target %s outside configured bounds", target.String()))
	}

	lock := d.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	now := d.now()
	if !d.gate.MayApply(key, now) {
		result.Outcome = types.SkippedCooldown
		result.Reason = fmt.Sprintf("%s remaining", d.gate.Remaining(key, now).Round(time.Second))
		return result
	}

	// patch calls are not aborted by shutdown, only bounded by patchTimeout
	opCtx := context.WithoutCancel(ctx)

	readCtx, cancelRead := context.WithTimeout(opCtx, d.patchTimeout)
	current, err := d.orchestrator.CurrentResources(readCtx, c.ServiceName, c.Namespace, c.ContainerName)
	cancelRead()
	if err != nil {
		klog.ErrorS(err, "Failed to read current resources, patching without no-op check", "container", c.String())
		current = nil
	}

	cpu, memory, changed := convergence.ShouldPatch(target, current)
	if !changed {
		result.Outcome = types.SkippedNoOp
		result.Reason = "target matches current spec"
		return result
	}

	patchCtx, cancelPatch := context.WithTimeout(opCtx, d.patchTimeout)
	err = d.orchestrator.PatchContainerResources(patchCtx, c.ServiceName, c.ContainerName, c.Namespace, cpu, memory)
	cancelPatch()
	if err != nil {
		klog.ErrorS(err, "Failed to patch container resources", "container", c.String(), "source", source)
		return failed(key, source, err.Error())
	}

	appliedAt := d.now()
	if err := d.gate.RecordApplied(opCtx, key, appliedAt); err != nil {
		klog.ErrorS(err, "Cooldown ledger not persisted", "container", c.String())
		d.monitor.RecordPersistError("cooldown")
	}
	alloc := types.Allocation{CPUCores: target.CPUCores, MemoryMi: target.MemoryMi, AppliedAt: appliedAt}
	if alloc.CPUCores == nil {
		if v, ok := current.CPUCores(); ok {
			alloc.CPUCores = ptr.To(v)
		}
	}
	if alloc.MemoryMi == nil {
		if v, ok := current.MemoryMi(); ok {
			alloc.MemoryMi = ptr.To(v)
		}
	}
	if _, err := d.ledger.Record(opCtx, key, alloc); err != nil {
		klog.ErrorS(err, "Allocation ledger not persisted", "container", c.String())
		d.monitor.RecordPersistError("allocation")
	}

	result.Outcome = types.Applied
	return result
}

func (d *Dispatcher) observeTrend(c types.ManagedContainer, samples []types.MetricSample) {
	if d.tracker == nil {
		return
	}
	latest := metrics.Latest(samples)[c.Key()]
	cpu, okCPU := latest[types.CPU]
	mem, okMem := latest[types.Memory]
	if !okCPU || !okMem {
		return
	}
	f := trend.Features{CPUUsage: cpu.Value, MemoryUsageMi: metrics.BytesToMi(mem.Value)}
	if alloc, ok := d.ledger.Get(c.Key()); ok {
		if alloc.CPUCores != nil {
			f.CPULimit = *alloc.CPUCores
		}
		if alloc.MemoryMi != nil {
			f.MemoryLimitMi = float64(*alloc.MemoryMi)
		}
	}
	fc, ok := d.tracker.Feed(c.Key(), f, d.now())
	if !ok {
		return
	}
	d.monitor.RecordForecast(c.Key(), "cpu", fc.CPU, fc.CPURange.Low, fc.CPURange.High)
	d.monitor.RecordForecast(c.Key(), "memory", fc.MemoryMi, fc.MemoryRange.Low, fc.MemoryRange.High)
	klog.V(4).InfoS("Trend forecast", "container", c.String(), "cpu", fc.CPU, "memoryMi", fc.MemoryMi,
		"cpuRange", fc.CPURange, "memoryRange", fc.MemoryRange)
}

func (d *Dispatcher) lockFor(key string) *sync.Mutex {
	d.locksMu.Lock()
	defer d.locksMu.Unlock()
	l, ok := d.locks[key]
	if !ok {
		l = &sync.Mutex{}
		d.locks[key] = l
	}
	return l
}

func (d *Dispatcher) record(c types.ManagedContainer, result types.ContainerResult) {
	d.monitor.RecordOutcome(result)
	klog.InfoS("Container outcome", "container", c.String(), "source", result.Source, "outcome", result.Outcome,
		"reason", result.Reason, "target", targetString(result.Target))
}

func (d *Dispatcher) recoverInto(c types.ManagedContainer, source types.Source, result *types.ContainerResult) {
	if r := recover(); r != nil {
		klog.ErrorS(fmt.Errorf("%v", r), "Recovered panic while handling container", "container", c.String(), "stack", string(debug.Stack()))
		*result = failed(c.Key(), source, fmt.Sprintf("panic: %v", r))
		d.monitor.RecordOutcome(*result)
	}
}

func failed(key string, source types.Source, reason string) types.ContainerResult {
	return types.ContainerResult{ContainerID: key, Outcome: types.Failed, Reason: reason, Source: source}
}

func targetString(t *types.ResourceTarget) string {
	if t == nil {
		return ""
	}
	return t.String()
}
