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

// Package convergence suppresses patches that would not change the running spec.
package convergence

import (
	"fmt"
	"math"
	"strconv"

	"k8s.io/apimachinery/pkg/api/resource"
	"k8s.io/klog/v2"

	"github.com/vllm-project/aibrix-resource-autoscaler/pkg/controller/resourceautoscaler/types"
)

// CurrentSpec is the resource spec a container currently runs with, as quantity strings.
// Empty fields are unset.
type CurrentSpec struct {
	CPU    string
	Memory string
}

// FormatCPU renders cores as the decimal string sent to the orchestrator.
func FormatCPU(cores float64) string {
	return strconv.FormatFloat(cores, 'f', 2, 64)
}

// FormatMemory renders whole mebibytes with the Mi suffix.
func FormatMemory(mi int64) string {
	return fmt.Sprintf("%dMi", mi)
}

// ShouldPatch returns the normalized values of the dimensions that differ from current.
// ok is false when the target would change nothing. A nil current fails open and every
// dimension set in target is returned.
func ShouldPatch(target types.ResourceTarget, current *CurrentSpec) (cpu *string, memory *string, ok bool) {
	if target.CPUCores != nil {
		want := FormatCPU(*target.CPUCores)
		if current == nil || !sameCPU(want, current.CPU) {
			cpu = &want
		}
	}
	if target.MemoryMi != nil {
		want := FormatMemory(*target.MemoryMi)
		if current == nil || !sameMemory(*target.MemoryMi, current.Memory) {
			memory = &want
		}
	}
	return cpu, memory, cpu != nil || memory != nil
}

func sameCPU(want, current string) bool {
	if current == "" {
		return false
	}
	cur, err := resource.ParseQuantity(current)
	if err != nil {
		klog.V(4).InfoS("Unparsable current cpu, treating as changed", "value", current, "error", err)
		return false
	}
	w := resource.MustParse(want)
	return w.MilliValue() == cur.MilliValue()
}

func sameMemory(wantMi int64, current string) bool {
	if current == "" {
		return false
	}
	cur, err := resource.ParseQuantity(current)
	if err != nil {
		klog.V(4).InfoS("Unparsable current memory, treating as changed", "value", current, "error", err)
		return false
	}
	return int64(math.Floor(float64(cur.Value())/types.BytesPerMi)) == wantMi
}

// CPUCores parses the current cpu quantity into cores.
func (c *CurrentSpec) CPUCores() (float64, bool) {
	if c == nil || c.CPU == "" {
		return 0, false
	}
	q, err := resource.ParseQuantity(c.CPU)
	if err != nil {
		return 0, false
	}
	return float64(q.MilliValue()) / 1000, true
}

// MemoryMi parses the current memory quantity into whole mebibytes.
func (c *CurrentSpec) MemoryMi() (int64, bool) {
	if c == nil || c.Memory == "" {
		return 0, false
	}
	q, err := resource.ParseQuantity(c.Memory)
	if err != nil {
		return 0, false
	}
	return int64(math.Floor(float64(q.Value()) / types.BytesPerMi)), true
}
