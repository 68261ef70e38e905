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

import "sync"

// emaLearner predicts the exponentially weighted mean of recent deltas, ignoring features.
type emaLearner struct {
	alpha  float64
	margin float64

	mu     sync.Mutex
	deltas map[string]Delta
}

var _ Learner = (*emaLearner)(nil)

func newEMALearner(alpha, margin float64) *emaLearner {
	return &emaLearner{alpha: alpha, margin: margin, deltas: make(map[string]Delta)}
}

func (l *emaLearner) Backend() string { return "ema" }

func (l *emaLearner) Observe(key string, _ Features, d Delta) {
	l.mu.Lock()
	defer l.mu.Unlock()
	prev, ok := l.deltas[key]
	if !ok {
		l.deltas[key] = d
		return
	}
	l.deltas[key] = Delta{
		CPU:      ema(prev.CPU, d.CPU, l.alpha),
		MemoryMi: ema(prev.MemoryMi, d.MemoryMi, l.alpha),
	}
}

func (l *emaLearner) Predict(key string, f Features) (Forecast, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	d, ok := l.deltas[key]
	if !ok {
		return Forecast{}, false
	}
	return forecastFrom(f, d, l.margin), true
}
