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
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"k8s.io/klog/v2"
	"sigs.k8s.io/yaml"

	"github.com/vllm-project/aibrix-resource-autoscaler/pkg/controller/resourceautoscaler/types"
	"github.com/vllm-project/aibrix-resource-autoscaler/pkg/utils"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// CPUGranularity is the precision CPU targets are rounded and formatted to. Steps and bounds
// must sit on it, otherwise rounding can move a target against the usage or out of bounds.
const CPUGranularity = 0.01

func onCPUGrid(v float64) bool {
	steps := v / CPUGranularity
	return math.Abs(steps-math.Round(steps)) < 1e-6
}

// Load reads a YAML file on top of Default, applies environment overrides and validates
// the result. Any invariant violation is returned as a *types.ConfigError.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return nil, &types.ConfigError{Field: "file", Reason: err.Error()}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	klog.InfoS("Loaded resource autoscaler configuration",
		"containers", len(cfg.Containers),
		"metricsBackend", cfg.Metrics.Backend,
		"ledgerBackend", cfg.Ledger.Backend,
		"cooldown", cfg.Rules.Cooldown.Duration,
		"interval", cfg.Loop.Interval.Duration)
	return cfg, nil
}

func (c *Config) applyEnv() {
	p := &c.Metrics.Prometheus
	p.Endpoint = utils.LoadEnv("PROMETHEUS_ENDPOINT", p.Endpoint)
	p.BasicAuthUsername = utils.LoadEnv("PROMETHEUS_BASIC_AUTH_USERNAME", p.BasicAuthUsername)
	p.BasicAuthPassword = utils.LoadEnv("PROMETHEUS_BASIC_AUTH_PASSWORD", p.BasicAuthPassword)
	c.Ledger.Backend = utils.LoadEnv("RESOURCE_AUTOSCALER_LEDGER_BACKEND", c.Ledger.Backend)
	c.Ledger.Dir = utils.LoadEnv("RESOURCE_AUTOSCALER_LEDGER_DIR", c.Ledger.Dir)
	c.Trend.Enabled = utils.LoadEnvBool("RESOURCE_AUTOSCALER_TREND_ENABLED", c.Trend.Enabled)
}

// Validate checks field shapes and the cross-field invariants that keep the loop from
// oscillating or leaving its bounds.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return &types.ConfigError{
				Field:  fe.Namespace(),
				Reason: fmt.Sprintf("failed %q constraint (value %v)", fe.Tag(), fe.Value()),
			}
		}
		return &types.ConfigError{Field: "config", Reason: err.Error()}
	}

	r := c.Rules
	switch {
	case r.CPUDownscaleThreshold >= r.CPUThreshold:
		return &types.ConfigError{Field: "rules.cpuDownscaleThreshold",
			Reason: fmt.Sprintf("must be below cpuThreshold (%v >= %v)", r.CPUDownscaleThreshold, r.CPUThreshold)}
	case r.MemDownscaleThreshold >= r.MemThreshold:
		return &types.ConfigError{Field: "rules.memDownscaleThreshold",
			Reason: fmt.Sprintf("must be below memThreshold (%v >= %v)", r.MemDownscaleThreshold, r.MemThreshold)}
	case r.MinCPU > r.MaxCPU:
		return &types.ConfigError{Field: "rules.minCpu",
			Reason: fmt.Sprintf("must not exceed maxCpu (%v > %v)", r.MinCPU, r.MaxCPU)}
	case r.MinMemoryMi > r.MaxMemoryMi:
		return &types.ConfigError{Field: "rules.minMemoryMi",
			Reason: fmt.Sprintf("must not exceed maxMemoryMi (%d > %d)", r.MinMemoryMi, r.MaxMemoryMi)}
	case r.Cooldown.Duration < 0:
		return &types.ConfigError{Field: "rules.cooldown", Reason: "must not be negative"}
	}

	for _, f := range []struct {
		field string
		value float64
	}{
		{"rules.cpuIncrement", r.CPUIncrement},
		{"rules.cpuDecrement", r.CPUDecrement},
		{"rules.minCpu", r.MinCPU},
		{"rules.maxCpu", r.MaxCPU},
	} {
		if !onCPUGrid(f.value) {
			return &types.ConfigError{Field: f.field,
				Reason: fmt.Sprintf("must be a multiple of %v cores (got %v)", CPUGranularity, f.value)}
		}
	}

	for _, d := range []struct {
		field string
		value time.Duration
	}{
		{"loop.interval", c.Loop.Interval.Duration},
		{"loop.metricsTimeout", c.Loop.MetricsTimeout.Duration},
		{"loop.patchTimeout", c.Loop.PatchTimeout.Duration},
		{"loop.shutdownTimeout", c.Loop.ShutdownTimeout.Duration},
	} {
		if d.value <= 0 {
			return &types.ConfigError{Field: d.field, Reason: "must be positive"}
		}
	}
	if c.Reduction.Enabled && (c.Reduction.Interval.Duration <= 0 || c.Reduction.StaleAfter.Duration <= 0) {
		return &types.ConfigError{Field: "reduction", Reason: "interval and staleAfter must be positive when enabled"}
	}

	if c.Metrics.Backend == MetricsBackendPrometheus {
		p := c.Metrics.Prometheus
		if p.Endpoint == "" {
			return &types.ConfigError{Field: "metrics.prometheus.endpoint", Reason: "required for the prometheus backend"}
		}
		if strings.TrimSpace(p.CPUQuery) == "" || strings.TrimSpace(p.MemoryQuery) == "" {
			return &types.ConfigError{Field: "metrics.prometheus", Reason: "cpuQuery and memoryQuery are required"}
		}
	}
	if c.Ledger.Backend == "file" && c.Ledger.Dir == "" {
		return &types.ConfigError{Field: "ledger.dir", Reason: "required for the file backend"}
	}
	if c.Trend.Enabled && c.Trend.Backend != TrendBackendSGD && c.Trend.Backend != TrendBackendEMA {
		return &types.ConfigError{Field: "trend.backend", Reason: fmt.Sprintf("unknown backend %q", c.Trend.Backend)}
	}

	seen := make(map[string]struct{}, len(c.Containers))
	for _, mc := range c.Containers {
		if _, dup := seen[mc.Key()]; dup {
			return &types.ConfigError{Field: "containers", Reason: fmt.Sprintf("duplicate container %s", mc.Key())}
		}
		seen[mc.Key()] = struct{}{}
	}
	return nil
}
