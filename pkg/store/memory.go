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

package store

import (
	"context"
	"sync"
)

// MemoryStore keeps the snapshot in process. Nothing survives a restart.
type MemoryStore[V any] struct {
	mu      sync.Mutex
	entries map[string]V
}

var _ Store[int] = (*MemoryStore[int])(nil)

func NewMemoryStore[V any]() *MemoryStore[V] {
	return &MemoryStore[V]{entries: map[string]V{}}
}

func (s *MemoryStore[V]) Load(_ context.Context) (map[string]V, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyMap(s.entries), nil
}

func (s *MemoryStore[V]) Save(_ context.Context, entries map[string]V) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = copyMap(entries)
	return nil
}

func copyMap[V any](in map[string]V) map[string]V {
	out := make(map[string]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
