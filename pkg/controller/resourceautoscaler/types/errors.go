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

package types

import (
	"errors"
	"fmt"
)

// ErrNoData is returned when a metrics query succeeds with an empty result set.
// It is not a failure: the dimension is skipped for the current cycle.
var ErrNoData = errors.New("no data")

// MetricsError is a transient metrics failure (timeout, non-success status, malformed payload).
type MetricsError struct {
	Kind  MetricKind
	Query string
	Err   error
}

func (e *MetricsError) Error() string {
	return fmt.Sprintf("failed to query %s metrics: %v", e.Kind, e.Err)
}

func (e *MetricsError) Unwrap() error { return e.Err }

// PatchError is returned when the orchestrator rejects or cannot be reached for a patch.
type PatchError struct {
	Namespace  string
	Deployment string
	Container  string
	Err        error
}

func (e *PatchError) Error() string {
	return fmt.Sprintf("failed to patch %s/%s container %s: %v", e.Namespace, e.Deployment, e.Container, e.Err)
}

func (e *PatchError) Unwrap() error { return e.Err }

// ConfigError is a configuration invariant violation. It is fatal at startup.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %s", e.Field, e.Reason)
}

// PersistenceError is returned when a ledger could not be written to stable storage.
// The in-memory ledger stays authoritative.
type PersistenceError struct {
	Ledger string
	Err    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to persist %s ledger: %v", e.Ledger, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
