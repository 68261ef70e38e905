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
	"time"
)

// Outcome is the per-container result of one dispatch attempt.
type Outcome string

const (
	Applied         Outcome = "Applied"
	SkippedCooldown Outcome = "Skipped(cooldown)"
	SkippedNoOp     Outcome = "Skipped(no-op)"
	SkippedNoData   Outcome = "Skipped(no-data)"
	// SkippedStable means every observed dimension sat inside the hysteresis band.
	SkippedStable Outcome = "Skipped(stable)"
	Failed        Outcome = "Failed"
)

// ContainerResult records what happened to one container in a cycle.
type ContainerResult struct {
	ContainerID string          `json:"containerId"`
	Outcome     Outcome         `json:"outcome"`
	Reason      string          `json:"reason,omitempty"`
	Source      Source          `json:"source"`
	Target      *ResourceTarget `json:"target,omitempty"`
}

// CycleReport aggregates the results of one RunCycle or reduction pass.
type CycleReport struct {
	ID         string            `json:"id"`
	Source     Source            `json:"source"`
	StartedAt  time.Time         `json:"startedAt"`
	FinishedAt time.Time         `json:"finishedAt"`
	Results    []ContainerResult `json:"results"`
}

// Count returns how many containers ended with the given outcome.
func (r CycleReport) Count(outcome Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == outcome {
			n++
		}
	}
	return n
}

// Result returns the result recorded for the container, if any.
func (r CycleReport) Result(containerID string) (ContainerResult, bool) {
	for _, res := range r.Results {
		if res.ContainerID == containerID {
			return res, true
		}
	}
	return ContainerResult{}, false
}
