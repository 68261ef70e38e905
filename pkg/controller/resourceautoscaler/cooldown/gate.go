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

// Package cooldown rate-limits patches per container. A container is InCooldown from the
// moment a patch succeeds until the configured window has strictly elapsed.
package cooldown

import (
	"context"
	"sync"
	"time"

	"k8s.io/klog/v2"

	"github.com/vllm-project/aibrix-resource-autoscaler/pkg/controller/resourceautoscaler/types"
	"github.com/vllm-project/aibrix-resource-autoscaler/pkg/store"
)

const ledgerName = "cooldown"

// Gate owns the cooldown ledger. The map mutex is only held for in-memory work; the
// snapshot is written under a separate mutex so saves land in order.
type Gate struct {
	cooldown time.Duration
	store    store.Store[time.Time]

	mu     sync.Mutex
	ledger map[string]time.Time

	persistMu sync.Mutex
}

func NewGate(cooldown time.Duration, s store.Store[time.Time]) *Gate {
	return &Gate{
		cooldown: cooldown,
		store:    s,
		ledger:   make(map[string]time.Time),
	}
}

// Load restores the persisted ledger. Entries already in memory that are newer win.
func (g *Gate) Load(ctx context.Context) error {
	entries, err := g.store.Load(ctx)
	if err != nil {
		return &types.PersistenceError{Ledger: ledgerName, Err: err}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for key, ts := range entries {
		if cur, ok := g.ledger[key]; !ok || ts.After(cur) {
			g.ledger[key] = ts
		}
	}
	klog.InfoS("Loaded cooldown ledger", "entries", len(entries))
	return nil
}

// MayApply reports whether the container is Cooled at now.
func (g *Gate) MayApply(key string, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	last, ok := g.ledger[key]
	if !ok {
		return true
	}
	return now.Sub(last) > g.cooldown
}

// Remaining returns how long the container stays in cooldown, zero when Cooled.
func (g *Gate) Remaining(key string, now time.Time) time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	last, ok := g.ledger[key]
	if !ok {
		return 0
	}
	if left := g.cooldown - now.Sub(last); left > 0 {
		return left
	}
	return 0
}

// RecordApplied must be called if and only if a patch succeeded. The entry never moves
// backwards. The ledger is persisted before returning; a *types.PersistenceError leaves
// the in-memory entry in place.
func (g *Gate) RecordApplied(ctx context.Context, key string, now time.Time) error {
	g.mu.Lock()
	if cur, ok := g.ledger[key]; !ok || now.After(cur) {
		g.ledger[key] = now
	}
	g.mu.Unlock()
	return g.persist(ctx)
}

// Snapshot returns a copy of the ledger.
func (g *Gate) Snapshot() map[string]time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]time.Time, len(g.ledger))
	for k, v := range g.ledger {
		out[k] = v
	}
	return out
}

func (g *Gate) persist(ctx context.Context) error {
	g.persistMu.Lock()
	defer g.persistMu.Unlock()
	// taken under persistMu so a later save always carries a superset of earlier state
	snapshot := g.Snapshot()
	if err := g.store.Save(ctx, snapshot); err != nil {
		return &types.PersistenceError{Ledger: ledgerName, Err: err}
	}
	return nil
}
