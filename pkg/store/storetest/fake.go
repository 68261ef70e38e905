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

// Package storetest provides a Store double for tests of ledger consumers.
package storetest

import (
	"context"
	"sync"

	"github.com/vllm-project/aibrix-resource-autoscaler/pkg/store"
)

// FakeStore is an in-memory store whose saves can be made to fail and are counted.
type FakeStore[V any] struct {
	*store.MemoryStore[V]

	mu      sync.Mutex
	saveErr error
	saves   int
}

var _ store.Store[int] = (*FakeStore[int])(nil)

func NewFakeStore[V any]() *FakeStore[V] {
	return &FakeStore[V]{MemoryStore: store.NewMemoryStore[V]()}
}

func (s *FakeStore[V]) Save(ctx context.Context, entries map[string]V) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	if err := s.MemoryStore.Save(ctx, entries); err != nil {
		return err
	}
	s.saves++
	return nil
}

// SetSaveError makes subsequent saves fail with err; nil restores normal behavior.
func (s *FakeStore[V]) SetSaveError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveErr = err
}

// Saves returns the number of successful saves.
func (s *FakeStore[V]) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}
