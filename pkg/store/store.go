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

// Package store persists small keyed ledgers. Every Save replaces the full snapshot.
package store

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Store loads and saves a whole keyed snapshot.
type Store[V any] interface {
	// Load returns the persisted snapshot. A missing snapshot is an empty map, not an error.
	Load(ctx context.Context) (map[string]V, error)
	// Save atomically replaces the persisted snapshot.
	Save(ctx context.Context, entries map[string]V) error
}

const (
	BackendFile   = "file"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Options selects and configures a backend.
type Options struct {
	Backend string
	// Path is the snapshot file for the file backend.
	Path string
	// Key is the hash key for the redis backend.
	Key         string
	RedisClient redis.UniversalClient
}

// New returns the backend named by opts.Backend.
func New[V any](opts Options) (Store[V], error) {
	switch opts.Backend {
	case BackendFile:
		if opts.Path == "" {
			return nil, fmt.Errorf("file store requires a path")
		}
		return NewFileStore[V](opts.Path), nil
	case BackendRedis:
		if opts.RedisClient == nil || opts.Key == "" {
			return nil, fmt.Errorf("redis store requires a client and a key")
		}
		return NewRedisStore[V](opts.RedisClient, opts.Key), nil
	case BackendMemory, "":
		return NewMemoryStore[V](), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", opts.Backend)
	}
}
