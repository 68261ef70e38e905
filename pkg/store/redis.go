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
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps the snapshot as a hash, one JSON encoded field per entry.
type RedisStore[V any] struct {
	client redis.UniversalClient
	key    string
}

var _ Store[int] = (*RedisStore[int])(nil)

func NewRedisStore[V any](client redis.UniversalClient, key string) *RedisStore[V] {
	return &RedisStore[V]{client: client, key: key}
}

func (s *RedisStore[V]) Load(ctx context.Context) (map[string]V, error) {
	raw, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read hash %s: %w", s.key, err)
	}
	entries := make(map[string]V, len(raw))
	for field, value := range raw {
		var v V
		if err := json.Unmarshal([]byte(value), &v); err != nil {
			return nil, fmt.Errorf("failed to decode field %s of %s: %w", field, s.key, err)
		}
		entries[field] = v
	}
	return entries, nil
}

// Save replaces the hash inside MULTI/EXEC so readers never observe a partial snapshot.
func (s *RedisStore[V]) Save(ctx context.Context, entries map[string]V) error {
	values := make([]interface{}, 0, 2*len(entries))
	for field, v := range entries {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to encode field %s: %w", field, err)
		}
		values = append(values, field, string(data))
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key)
		if len(values) > 0 {
			pipe.HSet(ctx, s.key, values...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write hash %s: %w", s.key, err)
	}
	return nil
}
