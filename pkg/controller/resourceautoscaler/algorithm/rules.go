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

// Package algorithm turns utilization samples into bounded resource targets using
// dual-threshold hysteresis. The evaluator is stateless and safe for concurrent use.
package algorithm

import (
	"math"
	"sort"

	"k8s.io/klog/v2"
	"k8s.io/utils/ptr"

	"github.com/vllm-project/aibrix-resource-autoscaler/pkg/controller/resourceautoscaler/config"
	"github.com/vllm-project/aibrix-resource-autoscaler/pkg/controller/resourceautoscaler/metrics"
	"github.com/vllm-project/aibrix-resource-autoscaler/pkg/controller/resourceautoscaler/types"
)

// RuleEvaluator applies the configured thresholds. Usage exactly on a threshold is inside
// the stable band and produces no action.
type RuleEvaluator struct {
	rules config.Rules
}

// NewRuleEvaluator expects rules that already passed config validation.
func NewRuleEvaluator(rules config.Rules) *RuleEvaluator {
	return &RuleEvaluator{rules: rules}
}

// Evaluate returns one target per container that needs action in at least one dimension.
// Only the newest sample per container and kind is considered. Results are ordered by
// container id.
func (e *RuleEvaluator) Evaluate(samples []types.MetricSample) []types.ResourceTarget {
	latest := metrics.Latest(samples)

	ids := make([]string, 0, len(latest))
	for id := range latest {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var targets []types.ResourceTarget
	for _, id := range ids {
		target := types.ResourceTarget{ContainerID: id}
		if s, ok := latest[id][types.CPU]; ok {
			if cpu, act := e.EvaluateCPU(s.Value); act {
				target.CPUCores = ptr.To(cpu)
			}
		}
		if s, ok := latest[id][types.Memory]; ok {
			if mem, act := e.EvaluateMemory(metrics.BytesToMi(s.Value)); act {
				target.MemoryMi = ptr.To(mem)
			}
		}
		if target.IsEmpty() {
			klog.V(4).InfoS("Usage inside stable band", "container", id)
			continue
		}
		klog.V(4).InfoS("Rule evaluation produced target", "container", id, "target", target.String())
		targets = append(targets, target)
	}
	return targets
}

// EvaluateCPU maps usage in cores to a new allocation. The second result is false inside
// the stable band.
func (e *RuleEvaluator) EvaluateCPU(usage float64) (float64, bool) {
	r := e.rules
	var target float64
	switch {
	case usage > r.CPUThreshold:
		target = math.Min(usage+r.CPUIncrement, r.MaxCPU)
	case usage < r.CPUDownscaleThreshold:
		target = math.Max(usage-r.CPUDecrement, r.MinCPU)
	default:
		return 0, false
	}
	return clampFloat(roundCores(target), r.MinCPU, r.MaxCPU), true
}

// EvaluateMemory maps usage in MiB to a new allocation. Thresholds are fractions of
// MaxMemoryMi in both directions.
func (e *RuleEvaluator) EvaluateMemory(usageMi float64) (int64, bool) {
	r := e.rules
	maxMi := float64(r.MaxMemoryMi)
	var target float64
	switch {
	case usageMi > r.MemThreshold*maxMi:
		target = math.Min(usageMi+float64(r.MemIncrementMi), maxMi)
	case usageMi < r.MemDownscaleThreshold*maxMi:
		target = math.Max(usageMi-float64(r.MemDecrementMi), float64(r.MinMemoryMi))
	default:
		return 0, false
	}
	return clampInt(int64(math.Trunc(target)), r.MinMemoryMi, r.MaxMemoryMi), true
}

// Bounds reports whether a target lies inside the configured limits.
func (e *RuleEvaluator) Bounds(t types.ResourceTarget) bool {
	r := e.rules
	if t.CPUCores != nil && (*t.CPUCores < r.MinCPU || *t.CPUCores > r.MaxCPU) {
		return false
	}
	if t.MemoryMi != nil && (*t.MemoryMi < r.MinMemoryMi || *t.MemoryMi > r.MaxMemoryMi) {
		return false
	}
	return true
}

// roundCores rounds half away from zero to hundredths of a core.
func roundCores(v float64) float64 {
	return math.Round(v*100) / 100
}

func clampFloat(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(v, hi))
}

func clampInt(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
