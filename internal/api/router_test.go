package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mtr002/docjobs/internal/api"
	"github.com/mtr002/docjobs/internal/interfaces"
	"github.com/mtr002/docjobs/internal/jobs"
	"github.com/mtr002/docjobs/internal/memstore"
	"github.com/mtr002/docjobs/internal/notify"
	"github.com/mtr002/docjobs/internal/worker"
)

// gatedExecutor blocks every call until release is closed.
type gatedExecutor struct {
	release chan struct{}
}

func (g *gatedExecutor) Execute(ctx context.Context, action string, _ json.RawMessage) (json.RawMessage, error) {
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if action == "REVIEW_ARTICLE" {
		return nil, errors.New("upstream refused")
	}
	return json.RawMessage(`{"done":true}`), nil
}

type fixture struct {
	srv  *httptest.Server
	sup  *jobs.Supervisor
	gate *gatedExecutor
}

func newFixture(t *testing.T, ready api.ReadinessCheck) *fixture {
	t.Helper()
	gate := &gatedExecutor{release: make(chan struct{})}
	notes := notify.New(time.Hour)
	sup, err := jobs.New(jobs.Options{Store: memstore.New(), Executor: gate, Notifications: notes})
	require.NoError(t, err)

	srv := httptest.NewServer(api.NewServer(sup, nil, ready, "0", []string{"https://dash.example"}).Handler())
	t.Cleanup(func() {
		srv.Close()
		sup.Close()
		notes.Clear()
	})
	return &fixture{srv: srv, sup: sup, gate: gate}
}

func (f *fixture) do(t *testing.T, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequestWithContext(t.Context(), method, f.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

func waitDone(t *testing.T, sup *jobs.Supervisor, id string) jobs.Outcome {
	t.Helper()
	h, ok := sup.Handle(id)
	require.True(t, ok)
	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel()
	o, err := h.Wait(ctx)
	require.NoError(t, err)
	return o
}

func TestCreateAndFollowJob(t *testing.T) {
	f := newFixture(t, nil)

	resp, body := f.do(t, http.MethodPost, "/jobs", `{"type":"query-intelligence","payload":{"question":"q"}}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get("X-Correlation-ID"))
	id, _ := body["id"].(string)
	require.NotEmpty(t, id)
	require.Equal(t, "QUERY_INTELLIGENCE", body["action"])
	require.Equal(t, "running", body["status"])

	resp, body = f.do(t, http.MethodGet, "/jobs?type=query-intelligence", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.EqualValues(t, 1, body["count"])

	resp, body = f.do(t, http.MethodGet, "/badge/query-intelligence", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.EqualValues(t, 1, body["count"])

	resp, body = f.do(t, http.MethodGet, "/jobs/"+id, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "running", body["status"])
	require.Equal(t, "query-intelligence", body["type"])

	close(f.gate.release)
	require.Equal(t, interfaces.StatusCompleted, waitDone(t, f.sup, id).Status)

	_, body = f.do(t, http.MethodGet, "/results/query-intelligence", "")
	require.EqualValues(t, 1, body["count"])

	_, body = f.do(t, http.MethodGet, "/jobs", "")
	require.EqualValues(t, 0, body["count"])

	_, body = f.do(t, http.MethodGet, "/notifications", "")
	require.EqualValues(t, 2, body["count"])
}

func TestCreateJobErrors(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"bad json", `{`, http.StatusBadRequest},
		{"unknown type", `{"type":"translation","action":"TRANSLATE"}`, http.StatusBadRequest},
		{"no action for unknown type", `{"type":"translation"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := f.do(t, http.MethodPost, "/jobs", tt.body)
			require.Equal(t, tt.want, resp.StatusCode)
		})
	}

	resp, _ := f.do(t, http.MethodGet, "/jobs/missing", "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = f.do(t, http.MethodDelete, "/jobs/missing", "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = f.do(t, http.MethodGet, "/results/translation", "")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = f.do(t, http.MethodGet, "/badge/translation", "")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = f.do(t, http.MethodPut, "/jobs", "")
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestCancelAndClear(t *testing.T) {
	f := newFixture(t, nil)

	_, body := f.do(t, http.MethodPost, "/jobs", `{"type":"structured-summary","payload":{"documentId":"d"}}`)
	id := body["id"].(string)

	resp, _ := f.do(t, http.MethodDelete, "/jobs/"+id, "")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Equal(t, interfaces.StatusCancelled, waitDone(t, f.sup, id).Status)

	_, body = f.do(t, http.MethodGet, "/jobs/"+id, "")
	require.Equal(t, "cancelled", body["status"])

	_, body = f.do(t, http.MethodPost, "/jobs", `{"type":"review-article","payload":{"topic":"t"}}`)
	other := body["id"].(string)
	require.NotEmpty(t, other)

	resp, _ = f.do(t, http.MethodPost, "/clear", "")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	_, body = f.do(t, http.MethodGet, "/jobs", "")
	require.EqualValues(t, 0, body["count"])
	_, body = f.do(t, http.MethodGet, "/notifications", "")
	require.EqualValues(t, 0, body["count"])
	resp, _ = f.do(t, http.MethodGet, "/jobs/"+id, "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestFailedJobRaisesBadge(t *testing.T) {
	f := newFixture(t, nil)
	close(f.gate.release)

	_, body := f.do(t, http.MethodPost, "/jobs", `{"type":"review-article","payload":{"topic":"t"}}`)
	id := body["id"].(string)

	o := waitDone(t, f.sup, id)
	require.Equal(t, interfaces.StatusError, o.Status)
	require.ErrorContains(t, o.Err, "upstream refused")

	_, body = f.do(t, http.MethodGet, "/badge/review-article", "")
	require.EqualValues(t, 1, body["count"])
	_, body = f.do(t, http.MethodGet, "/jobs/"+id, "")
	require.Equal(t, "upstream refused", body["error"])
}

func TestHealth(t *testing.T) {
	var down atomic.Bool
	f := newFixture(t, func(context.Context) error {
		if down.Load() {
			return errors.New("connection refused")
		}
		return nil
	})

	resp, body := f.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", body["status"])

	resp, body = f.do(t, http.MethodGet, "/health/live", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "alive", body["status"])

	resp, body = f.do(t, http.MethodGet, "/health/ready", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "connected", body["store"])

	down.Store(true)
	resp, body = f.do(t, http.MethodGet, "/health/ready", "")
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	require.Equal(t, "not ready", body["status"])

	resp, _ = f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCORS(t *testing.T) {
	f := newFixture(t, nil)

	req, err := http.NewRequestWithContext(t.Context(), http.MethodOptions, f.srv.URL+"/jobs", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://dash.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, "https://dash.example", resp.Header.Get("Access-Control-Allow-Origin"))

	req, err = http.NewRequestWithContext(t.Context(), http.MethodGet, f.srv.URL+"/jobs", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://evil.example")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

var _ worker.Executor = (*gatedExecutor)(nil)
