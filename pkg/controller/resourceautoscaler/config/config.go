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

package config

import (
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/vllm-project/aibrix-resource-autoscaler/pkg/controller/resourceautoscaler/types"
)

const (
	MetricsBackendPrometheus    = "prometheus"
	MetricsBackendMetricsServer = "metrics-server"

	TrendBackendSGD = "sgd"
	TrendBackendEMA = "ema"
)

// Config is loaded once at startup and shared read-only afterwards.
type Config struct {
	Rules      Rules                    `json:"rules"`
	Loop       Loop                     `json:"loop"`
	Reduction  Reduction                `json:"reduction"`
	Metrics    Metrics                  `json:"metrics"`
	Ledger     Ledger                   `json:"ledger"`
	Trend      Trend                    `json:"trend"`
	Containers []types.ManagedContainer `json:"containers" validate:"required,min=1,dive"`
}

// Rules holds the bounds and rates of the rule evaluator.
// CPU values are cores. Memory thresholds are fractions of MaxMemoryMi.
type Rules struct {
	CPUThreshold          float64 `json:"cpuThreshold" validate:"gt=0"`
	CPUDownscaleThreshold float64 `json:"cpuDownscaleThreshold" validate:"gte=0"`
	CPUIncrement          float64 `json:"cpuIncrement" validate:"gt=0"`
	CPUDecrement          float64 `json:"cpuDecrement" validate:"gt=0"`
	MinCPU                float64 `json:"minCpu" validate:"gt=0"`
	MaxCPU                float64 `json:"maxCpu" validate:"gt=0"`

	MemThreshold          float64 `json:"memThreshold" validate:"gt=0,lte=1"`
	MemDownscaleThreshold float64 `json:"memDownscaleThreshold" validate:"gte=0,lt=1"`
	MemIncrementMi        int64   `json:"memIncrementMi" validate:"gt=0"`
	MemDecrementMi        int64   `json:"memDecrementMi" validate:"gt=0"`
	MinMemoryMi           int64   `json:"minMemoryMi" validate:"gt=0"`
	MaxMemoryMi           int64   `json:"maxMemoryMi" validate:"gt=0"`

	Cooldown metav1.Duration `json:"cooldown"`
}

type Loop struct {
	Interval        metav1.Duration `json:"interval"`
	MetricsTimeout  metav1.Duration `json:"metricsTimeout"`
	PatchTimeout    metav1.Duration `json:"patchTimeout"`
	ShutdownTimeout metav1.Duration `json:"shutdownTimeout"`
}

type Reduction struct {
	Enabled    bool            `json:"enabled"`
	Interval   metav1.Duration `json:"interval"`
	StaleAfter metav1.Duration `json:"staleAfter"`
}

type Metrics struct {
	Backend    string     `json:"backend" validate:"oneof=prometheus metrics-server"`
	Prometheus Prometheus `json:"prometheus"`
}

// Prometheus configures the query backend. Queries accept the ${namespace},
// ${deployment}, ${container} and ${pod} placeholders.
type Prometheus struct {
	Endpoint          string            `json:"endpoint"`
	BasicAuthUsername string            `json:"basicAuthUsername,omitempty"`
	BasicAuthPassword string            `json:"basicAuthPassword,omitempty"`
	CPUQuery          string            `json:"cpuQuery"`
	MemoryQuery       string            `json:"memoryQuery"`
	// ExtraLabels are added to the first selector of both queries, e.g. cluster="prod".
	ExtraLabels       map[string]string `json:"extraLabels,omitempty"`
}

type Ledger struct {
	Backend string `json:"backend" validate:"oneof=file redis memory"`
	// Dir holds cooldown.json and allocations.json for the file backend.
	Dir            string `json:"dir"`
	RedisKeyPrefix string `json:"redisKeyPrefix"`
}

type Trend struct {
	Enabled      bool    `json:"enabled"`
	Backend      string  `json:"backend"`
	Alpha        float64 `json:"alpha" validate:"gt=0,lte=1"`
	LearningRate float64 `json:"learningRate" validate:"gt=0"`
	Margin       float64 `json:"margin" validate:"gte=0,lt=1"`
}

const (
	DefaultCPUQuery    = `sum by (pod) (rate(container_cpu_usage_seconds_total{namespace="${namespace}", container="${container}", pod=~"${pod}"}[5m]))`
	DefaultMemoryQuery = `sum by (pod) (container_memory_usage_bytes{namespace="${namespace}", container="${container}", pod=~"${pod}"})`
)

// Default returns the configuration used for every field the file leaves unset.
func Default() *Config {
	return &Config{
		Rules: Rules{
			CPUThreshold:          0.8,
			CPUDownscaleThreshold: 0.3,
			CPUIncrement:          0.1,
			CPUDecrement:          0.1,
			MinCPU:                0.1,
			MaxCPU:                1.0,
			MemThreshold:          0.8,
			MemDownscaleThreshold: 0.3,
			MemIncrementMi:        128,
			MemDecrementMi:        128,
			MinMemoryMi:           256,
			MaxMemoryMi:           2048,
			Cooldown:              metav1.Duration{Duration: 30 * time.Minute},
		},
		Loop: Loop{
			Interval:        metav1.Duration{Duration: 30 * time.Second},
			MetricsTimeout:  metav1.Duration{Duration: 10 * time.Second},
			PatchTimeout:    metav1.Duration{Duration: 15 * time.Second},
			ShutdownTimeout: metav1.Duration{Duration: 10 * time.Second},
		},
		Reduction: Reduction{
			Enabled:    true,
			Interval:   metav1.Duration{Duration: 10 * time.Minute},
			StaleAfter: metav1.Duration{Duration: time.Hour},
		},
		Metrics: Metrics{
			Backend: MetricsBackendPrometheus,
			Prometheus: Prometheus{
				CPUQuery:    DefaultCPUQuery,
				MemoryQuery: DefaultMemoryQuery,
			},
		},
		Ledger: Ledger{
			Backend:        "file",
			Dir:            "/var/lib/resource-autoscaler",
			RedisKeyPrefix: "aibrix:resource-autoscaler",
		},
		Trend: Trend{
			Enabled:      false,
			Backend:      TrendBackendSGD,
			Alpha:        0.3,
			LearningRate: 0.01,
			Margin:       0.1,
		},
	}
}
