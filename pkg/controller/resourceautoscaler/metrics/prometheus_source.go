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
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"k8s.io/klog/v2"

	"github.com/vllm-project/aibrix-resource-autoscaler/pkg/controller/resourceautoscaler/types"
)

// QuerySource builds PromQL from per-kind templates. A returned series belongs to the
// container only when its pod label matches the container's pod pattern and its container
// label, if present, names the container.
type QuerySource struct {
	querier     Querier
	templates   map[types.MetricKind]string
	extraLabels map[string]string
}

var _ Source = (*QuerySource)(nil)

func NewQuerySource(querier Querier, cpuQuery, memoryQuery string, extraLabels map[string]string) *QuerySource {
	return &QuerySource{
		querier: querier,
		templates: map[types.MetricKind]string{
			types.CPU:    cpuQuery,
			types.Memory: memoryQuery,
		},
		extraLabels: extraLabels,
	}
}

func (s *QuerySource) Name() string { return "prometheus" }

func (s *QuerySource) Fetch(ctx context.Context, c types.ManagedContainer, kind types.MetricKind) ([]types.MetricSample, error) {
	tmpl, ok := s.templates[kind]
	if !ok {
		return nil, &types.MetricsError{Kind: kind, Err: fmt.Errorf("no query configured")}
	}
	podPattern, err := PodMatcher(c)
	if err != nil {
		return nil, &types.MetricsError{Kind: kind, Err: fmt.Errorf("invalid pod selector %q: %w", c.PodSelector, err)}
	}
	query := BuildQuery(tmpl, Placeholders(c), s.extraLabels)

	series, err := s.querier.Query(ctx, query)
	if errors.Is(err, types.ErrNoData) {
		return nil, types.ErrNoData
	}
	if err != nil {
		return nil, &types.MetricsError{Kind: kind, Query: query, Err: err}
	}

	samples := make([]types.MetricSample, 0, len(series))
	for _, ls := range series {
		value, err := strconv.ParseFloat(ls.Value, 64)
		if err != nil {
			klog.V(2).InfoS("Skipping unparsable series", "container", c.String(), "kind", kind, "labels", ls.Labels, "value", ls.Value)
			continue
		}
		id, reason := seriesIdentity(c, podPattern, ls.Labels)
		if id == "" {
			klog.V(2).InfoS("Dropping series without container identity", "container", c.String(), "kind", kind, "labels", ls.Labels, "reason", reason)
			continue
		}
		samples = append(samples, types.MetricSample{
			ContainerID: id,
			Kind:        kind,
			Value:       value,
			SampleTime:  ls.Timestamp,
		})
	}
	samples = Sanitize(samples)
	if len(samples) == 0 {
		return nil, types.ErrNoData
	}
	klog.V(4).InfoS("Fetched metric samples", "container", c.String(), "kind", kind, "series", len(samples), "query", query)
	return samples, nil
}

// seriesIdentity joins a series to the container through its pod and container labels.
// It returns an empty identity and the reason when the series belongs elsewhere.
func seriesIdentity(c types.ManagedContainer, podPattern *regexp.Regexp, labels map[string]string) (string, string) {
	pod, ok := labels["pod"]
	if !ok || pod == "" {
		return "", "missing pod label"
	}
	if !podPattern.MatchString(pod) {
		return "", fmt.Sprintf("pod %q does not match %q", pod, podPattern.String())
	}
	if name, ok := labels["container"]; ok && name != c.ContainerName {
		return "", fmt.Sprintf("container label %q differs", name)
	}
	return c.Key(), ""
}
