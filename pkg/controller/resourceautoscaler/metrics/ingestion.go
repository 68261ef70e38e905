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

package metrics

import (
	"fmt"
	"math"

	"k8s.io/klog/v2"

	"github.com/vllm-project/aibrix-resource-autoscaler/pkg/controller/resourceautoscaler/types"
)

// ValidateSample rejects samples that cannot be attributed or evaluated.
func ValidateSample(s types.MetricSample) error {
	if s.ContainerID == "" {
		return fmt.Errorf("sample has no container identity")
	}
	if s.Kind != types.CPU && s.Kind != types.Memory {
		return fmt.Errorf("unknown metric kind %q", s.Kind)
	}
	if math.IsNaN(s.Value) {
		return fmt.Errorf("metric value is NaN")
	}
	if math.IsInf(s.Value, 0) {
		return fmt.Errorf("metric value is infinite")
	}
	if s.Value < 0 {
		return fmt.Errorf("metric value %f is negative", s.Value)
	}
	return nil
}

// Sanitize drops invalid samples. Dropped samples are logged and never fail the batch.
func Sanitize(samples []types.MetricSample) []types.MetricSample {
	valid := make([]types.MetricSample, 0, len(samples))
	for _, s := range samples {
		if err := ValidateSample(s); err != nil {
			klog.V(2).InfoS("Dropping metric sample", "container", s.ContainerID, "kind", s.Kind, "reason", err.Error())
			continue
		}
		valid = append(valid, s)
	}
	return valid
}

// Latest keeps the newest valid sample per container and kind. Samples sharing the newest
// timestamp resolve to the largest value so that a hot replica is never masked.
func Latest(samples []types.MetricSample) map[string]map[types.MetricKind]types.MetricSample {
	latest := make(map[string]map[types.MetricKind]types.MetricSample)
	for _, s := range Sanitize(samples) {
		byKind, ok := latest[s.ContainerID]
		if !ok {
			byKind = make(map[types.MetricKind]types.MetricSample, 2)
			latest[s.ContainerID] = byKind
		}
		cur, seen := byKind[s.Kind]
		switch {
		case !seen, s.SampleTime.After(cur.SampleTime):
			byKind[s.Kind] = s
		case s.SampleTime.Equal(cur.SampleTime) && s.Value > cur.Value:
			byKind[s.Kind] = s
		}
	}
	return latest
}

// BytesToMi converts a memory sample from bytes to mebibytes.
func BytesToMi(bytes float64) float64 {
	return bytes / types.BytesPerMi
}
