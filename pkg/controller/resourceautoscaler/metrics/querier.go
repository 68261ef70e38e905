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
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	prometheusv1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/config"
	"github.com/prometheus/common/model"
	"k8s.io/klog/v2"

	"github.com/vllm-project/aibrix-resource-autoscaler/pkg/controller/resourceautoscaler/types"
)

// InitializePrometheusAPI initializes the Prometheus API client.
func InitializePrometheusAPI(endpoint, username, password string) (prometheusv1.API, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("prometheus endpoint is not provided")
	}

	cfg := api.Config{Address: endpoint}
	if username != "" {
		cfg.RoundTripper = config.NewBasicAuthRoundTripper(config.NewInlineSecret(username),
			config.NewInlineSecret(password), api.DefaultRoundTripper)
	}
	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}

	return prometheusv1.NewAPI(client), nil
}

// PrometheusQuerier runs instant queries through the Prometheus HTTP API.
type PrometheusQuerier struct {
	api prometheusv1.API
	now func() time.Time
}

var _ Querier = (*PrometheusQuerier)(nil)

func NewPrometheusQuerier(promAPI prometheusv1.API) *PrometheusQuerier {
	return &PrometheusQuerier{api: promAPI, now: time.Now}
}

func (q *PrometheusQuerier) Query(ctx context.Context, query string) ([]LabeledSample, error) {
	result, warnings, err := q.api.Query(ctx, query, q.now())
	if err != nil {
		return nil, fmt.Errorf("error executing query: %w", err)
	}
	if len(warnings) > 0 {
		klog.V(4).InfoS("Prometheus query returned warnings", "query", query, "warnings", warnings)
	}

	var samples []LabeledSample
	switch v := result.(type) {
	case model.Vector:
		samples = make([]LabeledSample, 0, len(v))
		for _, s := range v {
			labels := make(map[string]string, len(s.Metric))
			for name, value := range s.Metric {
				labels[string(name)] = string(value)
			}
			samples = append(samples, LabeledSample{
				Labels:    labels,
				Timestamp: s.Timestamp.Time(),
				Value:     s.Value.String(),
			})
		}
	case *model.Scalar:
		samples = []LabeledSample{{Labels: map[string]string{}, Timestamp: v.Timestamp.Time(), Value: v.Value.String()}}
	case nil:
	default:
		return nil, fmt.Errorf("unexpected result type %s for query %q", result.Type(), query)
	}

	if len(samples) == 0 {
		if len(warnings) > 0 {
			return nil, fmt.Errorf("query %q returned only warnings: %v", query, warnings)
		}
		return nil, types.ErrNoData
	}
	return samples, nil
}
