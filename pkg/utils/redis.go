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

package utils

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"k8s.io/klog/v2"
)

const (
	defaultRedisHost = "localhost"
	defaultRedisPort = "6379"
)

// NewRedisClient builds a client from REDIS_HOST, REDIS_PORT and REDIS_PASSWORD and
// verifies the connection with a bounded ping.
func NewRedisClient(ctx context.Context) (*redis.Client, error) {
	addr := fmt.Sprintf("%s:%s", LoadEnv("REDIS_HOST", defaultRedisHost), LoadEnv("REDIS_PORT", defaultRedisPort))
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: LoadEnv("REDIS_PASSWORD", ""),
		DB:       LoadEnvInt("REDIS_DB", 0),
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	pong, err := client.Ping(pingCtx).Result()
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("error connecting to redis at %s: %w", addr, err)
	}
	klog.InfoS("Connected to Redis", "address", addr, "response", pong)
	return client, nil
}
