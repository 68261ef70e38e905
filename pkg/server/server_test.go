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

package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/ptr"

	"github.com/vllm-project/aibrix-resource-autoscaler/pkg/controller/resourceautoscaler/monitor"
	"github.com/vllm-project/aibrix-resource-autoscaler/pkg/controller/resourceautoscaler/trend"
	"github.com/vllm-project/aibrix-resource-autoscaler/pkg/controller/resourceautoscaler/types"
)

const webKey = "default:web:app"

type fakeStatus struct {
	ready     bool
	reports   map[types.Source]types.CycleReport
	forecasts map[string]trend.TrackedForecast
}

func (f *fakeStatus) Ready() bool { return f.ready }

func (f *fakeStatus) LastReports() map[types.Source]types.CycleReport { return f.reports }

func (f *fakeStatus) Forecast(key string) (trend.TrackedForecast, bool) {
	fc, ok := f.forecasts[key]
	return fc, ok
}

func (f *fakeStatus) Allocations() map[string]types.Allocation {
	return map[string]types.Allocation{webKey: {CPUCores: ptr.To(0.5)}}
}

func (f *fakeStatus) Cooldowns() map[string]time.Time {
	return map[string]time.Time{webKey: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func newStatus() *fakeStatus {
	return &fakeStatus{
		reports: map[types.Source]types.CycleReport{
			types.SourceRules: {
				ID:     "cycle-1",
				Source: types.SourceRules,
				Results: []types.ContainerResult{
					{ContainerID: webKey, Outcome: types.Applied, Source: types.SourceRules,
						Target: &types.ResourceTarget{ContainerID: webKey, CPUCores: ptr.To(1.0)}},
				},
			},
		},
		forecasts: map[string]trend.TrackedForecast{
			webKey: {Forecast: trend.Forecast{CPU: 0.6, CPURange: trend.Range{Low: 0.54, High: 0.66}}, Backend: "sgd"},
		},
	}
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthAndReadiness(t *testing.T) {
	status := newStatus()
	s := NewServer(":0", status)

	rec := get(t, s, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", rec.Body.String())

	rec = get(t, s, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	status.ready = true
	rec = get(t, s, "/readyz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", rec.Body.String())
}

func TestReport(t *testing.T) {
	s := NewServer(":0", newStatus())

	rec := get(t, s, "/debug/report")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var all map[types.Source]types.CycleReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	assert.Equal(t, "cycle-1", all[types.SourceRules].ID)

	rec = get(t, s, "/debug/report?source=rules")
	require.Equal(t, http.StatusOK, rec.Code)
	var one types.CycleReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &one))
	assert.Equal(t, 1, one.Count(types.Applied))

	var raw struct {
		Results []struct {
			Target map[string]any `json:"target"`
		} `json:"results"`
	}
	rec = get(t, s, "/debug/report?source=rules")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	require.Len(t, raw.Results, 1)
	assert.Equal(t, map[string]any{"containerId": webKey, "cpuCores": 1.0}, raw.Results[0].Target)

	rec = get(t, s, "/debug/report?source=reduction")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLedger(t *testing.T) {
	s := NewServer(":0", newStatus())
	rec := get(t, s, "/debug/ledger")
	require.Equal(t, http.StatusOK, rec.Code)

	var view ledgerView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, 0.5, *view.Allocations[webKey].CPUCores)
	assert.Contains(t, view.Cooldowns, webKey)
}

func TestForecast(t *testing.T) {
	s := NewServer(":0", newStatus())

	rec := get(t, s, "/debug/forecast/"+webKey)
	require.Equal(t, http.StatusOK, rec.Code)
	var fc trend.TrackedForecast
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fc))
	assert.Equal(t, "sgd", fc.Backend)
	assert.InDelta(t, 0.66, fc.CPURange.High, 1e-9)

	rec = get(t, s, "/debug/forecast/default:api:app")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	monitor.New().RecordPersistError("cooldown")
	s := NewServer(":0", newStatus())

	rec := get(t, s, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "resource_autoscaler_ledger_persist_errors_total")
}

func TestMethodNotAllowed(t *testing.T) {
	s := NewServer(":0", newStatus())
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/healthz", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestStartStop(t *testing.T) {
	s := NewServer("127.0.0.1:0", newStatus())
	require.NoError(t, s.Start())
	assert.NoError(t, s.Stop())
}
