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

// Package allocation records the last resource spec applied to each container. The
// dispatcher writes it and the reduction task reads it.
package allocation

import (
	"context"
	"sort"
	"sync"
	"time"

	"k8s.io/klog/v2"

	"github.com/vllm-project/aibrix-resource-autoscaler/pkg/controller/resourceautoscaler/types"
	"github.com/vllm-project/aibrix-resource-autoscaler/pkg/store"
)

const ledgerName = "allocation"

// Entry pairs a ledger key with its allocation.
type Entry struct {
	Key string
	types.Allocation
}

// Ledger guards the allocation map. AppliedAt never decreases for a key.
type Ledger struct {
	store store.Store[types.Allocation]

	mu      sync.Mutex
	entries map[string]types.Allocation

	persistMu sync.Mutex
}

func NewLedger(s store.Store[types.Allocation]) *Ledger {
	return &Ledger{
		store:   s,
		entries: make(map[string]types.Allocation),
	}
}

func (l *Ledger) Load(ctx context.Context) error {
	loaded, err := l.store.Load(ctx)
	if err != nil {
		return &types.PersistenceError{Ledger: ledgerName, Err: err}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, a := range loaded {
		if cur, ok := l.entries[key]; !ok || a.AppliedAt.After(cur.AppliedAt) {
			l.entries[key] = a
		}
	}
	klog.InfoS("Loaded allocation ledger", "entries", len(loaded))
	return nil
}

// Record stores alloc for key unless a newer record already exists. Dimensions missing
// from alloc keep their previous value. It reports whether the entry changed; the ledger is
// persisted either way so a save failure surfaces on every write.
func (l *Ledger) Record(ctx context.Context, key string, alloc types.Allocation) (bool, error) {
	l.mu.Lock()
	cur, ok := l.entries[key]
	updated := !ok || !alloc.AppliedAt.Before(cur.AppliedAt)
	if updated {
		if alloc.CPUCores == nil {
			alloc.CPUCores = cur.CPUCores
		}
		if alloc.MemoryMi == nil {
			alloc.MemoryMi = cur.MemoryMi
		}
		l.entries[key] = alloc
	}
	l.mu.Unlock()

	if err := l.persist(ctx); err != nil {
		return updated, err
	}
	return updated, nil
}

func (l *Ledger) Get(key string) (types.Allocation, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.entries[key]
	return a, ok
}

// StaleSince returns entries applied strictly before cutoff, ordered by key.
func (l *Ledger) StaleSince(cutoff time.Time) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	var stale []Entry
	for key, a := range l.entries {
		if a.AppliedAt.Before(cutoff) {
			stale = append(stale, Entry{Key: key, Allocation: a})
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].Key < stale[j].Key })
	return stale
}

func (l *Ledger) Snapshot() map[string]types.Allocation {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]types.Allocation, len(l.entries))
	for k, v := range l.entries {
		out[k] = v
	}
	return out
}

func (l *Ledger) persist(ctx context.Context) error {
	l.persistMu.Lock()
	defer l.persistMu.Unlock()
	if err := l.store.Save(ctx, l.Snapshot()); err != nil {
		return &types.PersistenceError{Ledger: ledgerName, Err: err}
	}
	return nil
}
