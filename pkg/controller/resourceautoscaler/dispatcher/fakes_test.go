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

package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vllm-project/aibrix-resource-autoscaler/pkg/controller/resourceautoscaler/convergence"
	"github.com/vllm-project/aibrix-resource-autoscaler/pkg/controller/resourceautoscaler/metrics"
	"github.com/vllm-project/aibrix-resource-autoscaler/pkg/controller/resourceautoscaler/types"
	"github.com/vllm-project/aibrix-resource-autoscaler/pkg/controller/resourceautoscaler/workload"
)

// fakeSource serves a fixed usage per container and kind. Missing entries are ErrNoData.
// Blocked kinds hang until the fetch context ends.
type fakeSource struct {
	mu      sync.Mutex
	usage   map[string]map[types.MetricKind]float64
	errs    map[string]map[types.MetricKind]error
	blocked map[string]map[types.MetricKind]bool
	panics  map[string]bool
	at      time.Time
}

var _ metrics.Source = (*fakeSource)(nil)

func newFakeSource(at time.Time) *fakeSource {
	return &fakeSource{
		usage:  map[string]map[types.MetricKind]float64{},
		errs:    map[string]map[types.MetricKind]error{},
		blocked: map[string]map[types.MetricKind]bool{},
		panics:  map[string]bool{},
		at:      at,
	}
}

func (s *fakeSource) set(c types.ManagedContainer, kind types.MetricKind, value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.usage[c.Key()] == nil {
		s.usage[c.Key()] = map[types.MetricKind]float64{}
	}
	s.usage[c.Key()][kind] = value
}

func (s *fakeSource) fail(c types.ManagedContainer, kind types.MetricKind, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errs[c.Key()] == nil {
		s.errs[c.Key()] = map[types.MetricKind]error{}
	}
	s.errs[c.Key()][kind] = err
}

func (s *fakeSource) block(c types.ManagedContainer, kind types.MetricKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.blocked[c.Key()] == nil {
		s.blocked[c.Key()] = map[types.MetricKind]bool{}
	}
	s.blocked[c.Key()][kind] = true
}

func (s *fakeSource) Name() string { return "fake" }

func (s *fakeSource) Fetch(ctx context.Context, c types.ManagedContainer, kind types.MetricKind) ([]types.MetricSample, error) {
	s.mu.Lock()
	blocked := s.blocked[c.Key()][kind]
	s.mu.Unlock()
	if blocked {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.panics[c.Key()] {
		panic("metrics backend exploded")
	}
	if err := s.errs[c.Key()][kind]; err != nil {
		return nil, err
	}
	v, ok := s.usage[c.Key()][kind]
	if !ok {
		return nil, types.ErrNoData
	}
	return []types.MetricSample{{ContainerID: c.Key(), Kind: kind, Value: v, SampleTime: s.at}}, nil
}

type patchCall struct {
	Key    string
	CPU    *string
	Memory *string
}

// fakeOrchestrator stores container specs in memory and records every patch. Patches to
// blocked keys hang until their context ends. patchDelay widens the window in which
// concurrent patches to one key would overlap.
type fakeOrchestrator struct {
	mu          sync.Mutex
	specs       map[string]convergence.CurrentSpec
	patches     []patchCall
	failing     map[string]error
	readErrs    map[string]error
	blocked     map[string]bool
	patchDelay  time.Duration
	inFlight    map[string]int
	maxInFlight map[string]int
}

var _ workload.Orchestrator = (*fakeOrchestrator)(nil)

func newFakeOrchestrator() *fakeOrchestrator {
	return &fakeOrchestrator{
		specs:    map[string]convergence.CurrentSpec{},
		failing:     map[string]error{},
		readErrs:    map[string]error{},
		blocked:     map[string]bool{},
		inFlight:    map[string]int{},
		maxInFlight: map[string]int{},
	}
}

func orchestratorKey(namespace, deployment, container string) string {
	return fmt.Sprintf("%s:%s:%s", namespace, deployment, container)
}

func (o *fakeOrchestrator) CurrentResources(_ context.Context, deployment, namespace, container string) (*convergence.CurrentSpec, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	key := orchestratorKey(namespace, deployment, container)
	if err := o.readErrs[key]; err != nil {
		return nil, err
	}
	spec, ok := o.specs[key]
	if !ok {
		return nil, errors.New("deployment not found")
	}
	return &spec, nil
}

func (o *fakeOrchestrator) PatchContainerResources(ctx context.Context, deployment, container, namespace string, cpu, memory *string) error {
	key := orchestratorKey(namespace, deployment, container)
	o.mu.Lock()
	o.patches = append(o.patches, patchCall{Key: key, CPU: cpu, Memory: memory})
	o.inFlight[key]++
	if o.inFlight[key] > o.maxInFlight[key] {
		o.maxInFlight[key] = o.inFlight[key]
	}
	blocked, delay := o.blocked[key], o.patchDelay
	o.mu.Unlock()

	if blocked {
		<-ctx.Done()
	} else if delay > 0 {
		time.Sleep(delay)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.inFlight[key]--
	if blocked {
		return &types.PatchError{Namespace: namespace, Deployment: deployment, Container: container, Err: ctx.Err()}
	}
	if err := o.failing[key]; err != nil {
		return &types.PatchError{Namespace: namespace, Deployment: deployment, Container: container, Err: err}
	}
	spec := o.specs[key]
	if cpu != nil {
		spec.CPU = *cpu
	}
	if memory != nil {
		spec.Memory = *memory
	}
	o.specs[key] = spec
	return nil
}

func (o *fakeOrchestrator) maxConcurrentPatches(key string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.maxInFlight[key]
}

func (o *fakeOrchestrator) patchesFor(key string) []patchCall {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []patchCall
	for _, p := range o.patches {
		if p.Key == key {
			out = append(out, p)
		}
	}
	return out
}

// fakeClock is advanced explicitly by tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
