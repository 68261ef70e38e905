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

package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vllm-project/aibrix-resource-autoscaler/pkg/controller/resourceautoscaler/types"
)

func newPrometheus(t *testing.T, status int, body string, gotQuery *string) *PrometheusQuerier {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if gotQuery != nil {
			*gotQuery = r.Form.Get("query")
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	promAPI, err := InitializePrometheusAPI(srv.URL, "", "")
	require.NoError(t, err)
	return NewPrometheusQuerier(promAPI)
}

func TestPrometheusQuerierVector(t *testing.T) {
	var got string
	q := newPrometheus(t, http.StatusOK, `{
		"status": "success",
		"data": {
			"resultType": "vector",
			"result": [
				{"metric": {"pod": "web-1", "container": "app"}, "value": [1700000000, "0.85"]},
				{"metric": {"pod": "web-2", "container": "app"}, "value": [1700000000, "0.25"]}
			]
		}
	}`, &got)

	samples, err := q.Query(context.Background(), `up{job="x"}`)
	require.NoError(t, err)
	assert.Equal(t, `up{job="x"}`, got)
	require.Len(t, samples, 2)
	assert.Equal(t, "web-1", samples[0].Labels["pod"])
	assert.Equal(t, "0.85", samples[0].Value)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), samples[0].Timestamp.UTC())
}

func TestPrometheusQuerierEmptyVector(t *testing.T) {
	q := newPrometheus(t, http.StatusOK, `{"status":"success","data":{"resultType":"vector","result":[]}}`, nil)

	_, err := q.Query(context.Background(), "up")
	assert.ErrorIs(t, err, types.ErrNoData)
}

func TestPrometheusQuerierWarningsOnly(t *testing.T) {
	q := newPrometheus(t, http.StatusOK,
		`{"status":"success","warnings":["partial response"],"data":{"resultType":"vector","result":[]}}`, nil)

	_, err := q.Query(context.Background(), "up")
	require.Error(t, err)
	assert.False(t, errors.Is(err, types.ErrNoData))
}

func TestPrometheusQuerierErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"bad data", http.StatusBadRequest, `{"status":"error","errorType":"bad_data","error":"parse error"}`},
		{"server error", http.StatusInternalServerError, `{"status":"error","errorType":"internal","error":"boom"}`},
		{"malformed body", http.StatusOK, `{"status":"success","data":`},
		{"matrix result", http.StatusOK, `{"status":"success","data":{"resultType":"matrix","result":[]}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := newPrometheus(t, tt.status, tt.body, nil)
			_, err := q.Query(context.Background(), "up")
			require.Error(t, err)
			assert.False(t, errors.Is(err, types.ErrNoData))
		})
	}
}

func TestPrometheusQuerierTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()
	promAPI, err := InitializePrometheusAPI(srv.URL, "user", "secret")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = NewPrometheusQuerier(promAPI).Query(ctx, "up")
	assert.Error(t, err)
}

func TestInitializePrometheusAPIRequiresEndpoint(t *testing.T) {
	_, err := InitializePrometheusAPI("", "", "")
	assert.Error(t, err)
}

func TestPrometheusQuerierBasicAuth(t *testing.T) {
	var user, pass string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, _ = r.BasicAuth()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"success","data":{"resultType":"vector","result":[]}}`))
	}))
	defer srv.Close()

	promAPI, err := InitializePrometheusAPI(srv.URL, "admin", "hunter2")
	require.NoError(t, err)
	_, _ = NewPrometheusQuerier(promAPI).Query(context.Background(), "up")
	assert.Equal(t, "admin", user)
	assert.Equal(t, "hunter2", pass)
}
