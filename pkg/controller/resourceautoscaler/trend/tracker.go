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

package trend

import (
	"sync"
	"time"
)

// Tracker turns a stream of observations into training pairs: each new observation
// trains the learner on the delta from the previous one, then forecasts the next.
type Tracker struct {
	learner Learner

	mu        sync.Mutex
	previous  map[string]Features
	forecasts map[string]TrackedForecast
}

// TrackedForecast is the latest forecast of a container.
type TrackedForecast struct {
	Forecast
	Backend   string    `json:"backend"`
	Features  Features  `json:"features"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func NewTracker(learner Learner) *Tracker {
	return &Tracker{
		learner:   learner,
		previous:  make(map[string]Features),
		forecasts: make(map[string]TrackedForecast),
	}
}

// Feed records f for key and returns the forecast once at least two observations exist.
func (t *Tracker) Feed(key string, f Features, now time.Time) (Forecast, bool) {
	t.mu.Lock()
	prev, seen := t.previous[key]
	t.previous[key] = f
	t.mu.Unlock()

	if !seen {
		return Forecast{}, false
	}
	t.learner.Observe(key, prev, Delta{CPU: f.CPUUsage - prev.CPUUsage, MemoryMi: f.MemoryUsageMi - prev.MemoryUsageMi})
	fc, ok := t.learner.Predict(key, f)
	if !ok {
		return Forecast{}, false
	}

	t.mu.Lock()
	t.forecasts[key] = TrackedForecast{Forecast: fc, Backend: t.learner.Backend(), Features: f, UpdatedAt: now}
	t.mu.Unlock()
	return fc, true
}

// Latest returns the most recent forecast for key.
func (t *Tracker) Latest(key string) (TrackedForecast, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fc, ok := t.forecasts[key]
	return fc, ok
}
