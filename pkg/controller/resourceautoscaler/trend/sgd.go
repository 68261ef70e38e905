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
)

// sgdLearner fits one linear model per resource on EMA-smoothed features. Updates are
// normalized by the squared feature norm so features of different scale stay stable.
type sgdLearner struct {
	alpha        float64
	learningRate float64
	margin       float64

	mu     sync.Mutex
	models map[string]*sgdModel
}

type sgdModel struct {
	smoothed []float64
	cpu      []float64
	memory   []float64
}

var _ Learner = (*sgdLearner)(nil)

func newSGDLearner(alpha, learningRate, margin float64) *sgdLearner {
	return &sgdLearner{
		alpha:        alpha,
		learningRate: learningRate,
		margin:       margin,
		models:       make(map[string]*sgdModel),
	}
}

func (l *sgdLearner) Backend() string { return "sgd" }

func (l *sgdLearner) Observe(key string, f Features, d Delta) {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, ok := l.models[key]
	x := f.vector()
	if !ok {
		m = &sgdModel{
			smoothed: x,
			cpu:      make([]float64, len(x)),
			memory:   make([]float64, len(x)),
		}
		l.models[key] = m
	} else {
		for i := range x {
			m.smoothed[i] = ema(m.smoothed[i], x[i], l.alpha)
		}
	}

	norm := 1e-9
	for _, v := range m.smoothed {
		norm += v * v
	}
	step(m.cpu, m.smoothed, d.CPU, l.learningRate/norm)
	step(m.memory, m.smoothed, d.MemoryMi, l.learningRate/norm)
}

func (l *sgdLearner) Predict(key string, f Features) (Forecast, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, ok := l.models[key]
	if !ok {
		return Forecast{}, false
	}
	x := f.vector()
	smoothed := make([]float64, len(x))
	for i := range x {
		smoothed[i] = ema(m.smoothed[i], x[i], l.alpha)
	}
	d := Delta{CPU: dot(m.cpu, smoothed), MemoryMi: dot(m.memory, smoothed)}
	return forecastFrom(f, d, l.margin), true
}

func step(w, x []float64, y, rate float64) {
	err := y - dot(w, x)
	for i := range w {
		w[i] += rate * err * x[i]
	}
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}
