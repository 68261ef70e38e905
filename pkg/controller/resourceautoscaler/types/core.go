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

package types

import (
	"fmt"
	"time"
)

// BytesPerMi is the number of bytes in one mebibyte.
const BytesPerMi = 1024 * 1024

// ManagedContainer identifies a scaling target. It is loaded once from configuration
// and never mutated afterwards.
type ManagedContainer struct {
	// ServiceName is the name of the Deployment that owns the container.
	ServiceName   string `json:"serviceName" validate:"required"`
	ContainerName string `json:"containerName" validate:"required"`
	Namespace     string `json:"namespace" validate:"required"`
	// PodSelector is a regular expression matched against the pod label of the samples.
	PodSelector string `json:"podSelector,omitempty"`
}

// Key returns the composite ledger key namespace:deployment:container.
func (c ManagedContainer) Key() string {
	return fmt.Sprintf("%s:%s:%s", c.Namespace, c.ServiceName, c.ContainerName)
}

func (c ManagedContainer) String() string {
	return fmt.Sprintf("%s/%s[%s]", c.Namespace, c.ServiceName, c.ContainerName)
}

// MetricKind is the resource dimension a sample belongs to.
type MetricKind string

const (
	CPU    MetricKind = "cpu"
	Memory MetricKind = "memory"
)

// MetricSample is a single normalized observation. CPU values are fractional cores,
// memory values are raw bytes.
type MetricSample struct {
	ContainerID string
	Kind        MetricKind
	Value       float64
	SampleTime  time.Time
}

// ResourceTarget is a proposed allocation. A nil field means no action for that dimension.
type ResourceTarget struct {
	ContainerID string   `json:"containerId"`
	CPUCores    *float64 `json:"cpuCores,omitempty"`
	MemoryMi    *int64   `json:"memoryMi,omitempty"`
}

// IsEmpty reports whether the target proposes nothing.
func (t ResourceTarget) IsEmpty() bool {
	return t.CPUCores == nil && t.MemoryMi == nil
}

func (t ResourceTarget) String() string {
	cpu, mem := "-", "-"
	if t.CPUCores != nil {
		cpu = fmt.Sprintf("%.2f", *t.CPUCores)
	}
	if t.MemoryMi != nil {
		mem = fmt.Sprintf("%dMi", *t.MemoryMi)
	}
	return fmt.Sprintf("cpu=%s memory=%s", cpu, mem)
}

// Allocation is the most recently applied resource spec of a container.
type Allocation struct {
	CPUCores  *float64  `json:"cpuCores,omitempty"`
	MemoryMi  *int64    `json:"memoryMi,omitempty"`
	AppliedAt time.Time `json:"appliedAt"`
}

// Source names the producer of a ResourceTarget.
type Source string

const (
	SourceRules     Source = "rules"
	SourceReduction Source = "reduction"
)
