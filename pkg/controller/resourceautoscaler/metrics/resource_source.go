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

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/klog/v2"
	"k8s.io/metrics/pkg/client/clientset/versioned"

	"github.com/vllm-project/aibrix-resource-autoscaler/pkg/controller/resourceautoscaler/types"
)

// ResourceMetricsSource reads container usage from the resource metrics API (metrics.k8s.io).
type ResourceMetricsSource struct {
	metricsClient versioned.Interface
}

var _ Source = (*ResourceMetricsSource)(nil)

func NewResourceMetricsSource(metricsClient versioned.Interface) *ResourceMetricsSource {
	return &ResourceMetricsSource{metricsClient: metricsClient}
}

func (s *ResourceMetricsSource) Name() string { return "metrics-server" }

func (s *ResourceMetricsSource) Fetch(ctx context.Context, c types.ManagedContainer, kind types.MetricKind) ([]types.MetricSample, error) {
	podPattern, err := PodMatcher(c)
	if err != nil {
		return nil, &types.MetricsError{Kind: kind, Err: fmt.Errorf("invalid pod selector %q: %w", c.PodSelector, err)}
	}

	list, err := s.metricsClient.MetricsV1beta1().PodMetricses(c.Namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, &types.MetricsError{Kind: kind, Err: fmt.Errorf("failed to list pod metrics in %s: %w", c.Namespace, err)}
	}

	var samples []types.MetricSample
	for _, pm := range list.Items {
		if !podPattern.MatchString(pm.Name) {
			continue
		}
		for _, container := range pm.Containers {
			if container.Name != c.ContainerName {
				continue
			}
			var value float64
			switch kind {
			case types.CPU:
				value = float64(container.Usage.Cpu().MilliValue()) / 1000
			case types.Memory:
				value = float64(container.Usage.Memory().Value())
			default:
				return nil, &types.MetricsError{Kind: kind, Err: fmt.Errorf("unsupported metric kind")}
			}
			samples = append(samples, types.MetricSample{
				ContainerID: c.Key(),
				Kind:        kind,
				Value:       value,
				SampleTime:  pm.Timestamp.Time,
			})
		}
	}
	if len(samples) == 0 {
		return nil, types.ErrNoData
	}
	klog.V(4).InfoS("Fetched resource metrics", "container", c.String(), "kind", kind, "pods", len(samples))
	return samples, nil
}
