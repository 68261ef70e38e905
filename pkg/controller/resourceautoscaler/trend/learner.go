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

// Package trend forecasts the next usage of a container from recent load features. Its
// output is advisory and never feeds back into rule evaluation.
package trend

import (
	"fmt"
	"math"

	"github.com/vllm-project/aibrix-resource-autoscaler/pkg/controller/resourceautoscaler/config"
	"github.com/vllm-project/aibrix-resource-autoscaler/pkg/controller/resourceautoscaler/types"
)

// Features is one observation of a container's load.
type Features struct {
	CPUUsage      float64 `json:"cpuUsage"`
	MemoryUsageMi float64 `json:"memoryUsageMi"`
	RequestRate   float64 `json:"requestRate"`
	CPULimit      float64 `json:"cpuLimit"`
	MemoryLimitMi float64 `json:"memoryLimitMi"`
}

func (f Features) vector() []float64 {
	return []float64{1, f.CPUUsage, f.MemoryUsageMi, f.RequestRate, f.CPULimit, f.MemoryLimitMi}
}

// Delta is the change in usage between two consecutive observations.
type Delta struct {
	CPU      float64 `json:"cpu"`
	MemoryMi float64 `json:"memoryMi"`
}

type Range struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// Forecast is the predicted next usage with a safe operating range around it.
type Forecast struct {
	CPUDelta    float64 `json:"cpuDelta"`
	MemoryDelta float64 `json:"memoryDelta"`
	CPU         float64 `json:"cpu"`
	MemoryMi    float64 `json:"memoryMi"`
	CPURange    Range   `json:"cpuRange"`
	MemoryRange Range   `json:"memoryRange"`
}

// Learner is an online model keyed by container.
type Learner interface {
	Observe(key string, f Features, d Delta)
	// Predict returns false until the key has been observed at least once.
	Predict(key string, f Features) (Forecast, bool)
	Backend() string
}

// NewLearner selects the backend at construction. An unknown backend is a *types.ConfigError.
func NewLearner(cfg config.Trend) (Learner, error) {
	switch cfg.Backend {
	case config.TrendBackendSGD:
		return newSGDLearner(cfg.Alpha, cfg.LearningRate, cfg.Margin), nil
	case config.TrendBackendEMA:
		return newEMALearner(cfg.Alpha, cfg.Margin), nil
	default:
		return nil, &types.ConfigError{Field: "trend.backend", Reason: fmt.Sprintf("unknown backend %q", cfg.Backend)}
	}
}

// SafeRange widens pred by margin in both directions and clamps at zero.
func SafeRange(pred, margin float64) Range {
	return Range{
		Low:  math.Max(0, pred*(1-margin)),
		High: math.Max(0, pred*(1+margin)),
	}
}

func forecastFrom(f Features, d Delta, margin float64) Forecast {
	cpu := math.Max(0, f.CPUUsage+d.CPU)
	mem := math.Max(0, f.MemoryUsageMi+d.MemoryMi)
	return Forecast{
		CPUDelta:    d.CPU,
		MemoryDelta: d.MemoryMi,
		CPU:         cpu,
		MemoryMi:    mem,
		CPURange:    SafeRange(cpu, margin),
		MemoryRange: SafeRange(mem, margin),
	}
}

func ema(prev, next, alpha float64) float64 {
	return alpha*next + (1-alpha)*prev
}
