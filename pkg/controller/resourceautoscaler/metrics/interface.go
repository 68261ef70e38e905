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
	"time"

	"github.com/vllm-project/aibrix-resource-autoscaler/pkg/controller/resourceautoscaler/types"
)

// LabeledSample is one series of an instant query result.
type LabeledSample struct {
	Labels    map[string]string
	Timestamp time.Time
	Value     string
}

// Querier runs an instant query against a time-series backend.
// An empty result set is reported as types.ErrNoData.
type Querier interface {
	Query(ctx context.Context, query string) ([]LabeledSample, error)
}

// Source produces normalized samples for one container and resource kind.
// Implementations return types.ErrNoData when nothing matched and a *types.MetricsError
// for transient failures.
type Source interface {
	Fetch(ctx context.Context, container types.ManagedContainer, kind types.MetricKind) ([]types.MetricSample, error)
	Name() string
}
