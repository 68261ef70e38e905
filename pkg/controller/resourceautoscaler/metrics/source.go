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

	"k8s.io/metrics/pkg/client/clientset/versioned"

	"github.com/vllm-project/aibrix-resource-autoscaler/pkg/controller/resourceautoscaler/config"
)

// NewSource returns the backend selected in cfg. metricsClient is only used by the
// metrics-server backend and may be nil otherwise.
func NewSource(cfg config.Metrics, metricsClient versioned.Interface) (Source, error) {
	switch cfg.Backend {
	case config.MetricsBackendPrometheus:
		p := cfg.Prometheus
		promAPI, err := InitializePrometheusAPI(p.Endpoint, p.BasicAuthUsername, p.BasicAuthPassword)
		if err != nil {
			return nil, err
		}
		return NewQuerySource(NewPrometheusQuerier(promAPI), p.CPUQuery, p.MemoryQuery, p.ExtraLabels), nil
	case config.MetricsBackendMetricsServer:
		if metricsClient == nil {
			return nil, fmt.Errorf("metrics-server backend requires a metrics client")
		}
		return NewResourceMetricsSource(metricsClient), nil
	default:
		return nil, fmt.Errorf("unknown metrics backend %q", cfg.Backend)
	}
}
