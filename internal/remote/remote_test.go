package remote_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtr002/docjobs/internal/remote"
)

func TestClientDo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"question":"why"}`, string(body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"answer":"because"}`))
	}))
	defer srv.Close()

	c := remote.NewClient(0, "secret")
	out, err := c.Do(t.Context(), http.MethodPost, srv.URL, json.RawMessage(`{"question":"why"}`))
	require.NoError(t, err)
	require.JSONEq(t, `{"answer":"because"}`, string(out))
}

func TestClientEmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	out, err := remote.NewClient(0, "").Do(t.Context(), http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	require.Equal(t, "null", string(out))
}

func TestClientErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/busy":
			http.Error(w, "model overloaded", http.StatusServiceUnavailable)
		case "/html":
			_, _ = w.Write([]byte("<html>"))
		}
	}))
	defer srv.Close()

	c := remote.NewClient(0, "")

	_, err := c.Do(t.Context(), http.MethodPost, srv.URL+"/busy", nil)
	var netErr *remote.NetworkError
	require.ErrorAs(t, err, &netErr)
	require.Equal(t, http.StatusServiceUnavailable, netErr.StatusCode)
	require.Equal(t, "model overloaded", netErr.Body)
	require.Contains(t, err.Error(), "503")

	_, err = c.Do(t.Context(), http.MethodGet, srv.URL+"/html", nil)
	require.ErrorAs(t, err, &netErr)
	require.Equal(t, http.StatusOK, netErr.StatusCode)

	srv.Close()
	_, err = c.Do(t.Context(), http.MethodGet, srv.URL, nil)
	require.ErrorAs(t, err, &netErr)
	require.Zero(t, netErr.StatusCode)
}

func TestClientContextCancel(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()

	_, err := remote.NewClient(0, "").Do(ctx, http.MethodPost, srv.URL, json.RawMessage(`{}`))
	require.Error(t, err)
	require.True(t, errors.Is(err, context.DeadlineExceeded))
}

type recordingDoer struct {
	method string
	url    string
	body   json.RawMessage
}

func (r *recordingDoer) Do(_ context.Context, method, url string, body json.RawMessage) (json.RawMessage, error) {
	r.method, r.url, r.body = method, url, body
	return json.RawMessage(`{"ok":true}`), nil
}

func TestDispatcherRoutes(t *testing.T) {
	providers := map[string]string{
		"gpt-":    "https://openai.example/",
		"gpt-4o-": "https://azure.example",
		"claude-": "https://anthropic.example",
	}

	tests := []struct {
		name    string
		action  string
		payload string
		method  string
		url     string
		body    bool
	}{
		{"query default provider", remote.ActionQueryIntelligence, `{"question":"q"}`, http.MethodPost, "https://api.example/v1/query", true},
		{"summary by prefix", remote.ActionStructuredSummary, `{"model":"claude-3"}`, http.MethodPost, "https://anthropic.example/v1/summaries", true},
		{"longest prefix wins", remote.ActionReviewArticle, `{"model":"gpt-4o-mini"}`, http.MethodPost, "https://azure.example/v1/reviews", true},
		{"short prefix", remote.ActionBatchSummary, `{"model":"gpt-3.5"}`, http.MethodPost, "https://openai.example/v1/summaries/batch", true},
		{"fetch document", remote.ActionFetchDocument, `{"documentId":"a b"}`, http.MethodGet, "https://api.example/v1/documents/a%20b", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doer := &recordingDoer{}
			d := remote.NewDispatcher(doer, "https://api.example/", providers)

			out, err := d.Execute(t.Context(), tt.action, json.RawMessage(tt.payload))
			require.NoError(t, err)
			require.JSONEq(t, `{"ok":true}`, string(out))
			require.Equal(t, tt.method, doer.method)
			require.Equal(t, tt.url, doer.url)
			if tt.body {
				require.JSONEq(t, tt.payload, string(doer.body))
			} else {
				require.Nil(t, doer.body)
			}
		})
	}
}

func TestDispatcherRejects(t *testing.T) {
	d := remote.NewDispatcher(&recordingDoer{}, "https://api.example", nil)

	_, err := d.Execute(t.Context(), "TRANSLATE", nil)
	require.ErrorIs(t, err, remote.ErrUnknownAction)

	_, err = d.Execute(t.Context(), remote.ActionFetchDocument, json.RawMessage(`{}`))
	require.ErrorIs(t, err, remote.ErrMissingDocument)
}

func TestDispatcherAgainstServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/documents/doc-7", r.URL.Path)
		_, _ = w.Write([]byte(`{"id":"doc-7","pages":3}`))
	}))
	defer srv.Close()

	d := remote.NewDispatcher(remote.NewClient(time.Second, ""), srv.URL, nil)
	out, err := d.Execute(t.Context(), remote.ActionFetchDocument, json.RawMessage(`{"documentId":"doc-7"}`))
	require.NoError(t, err)
	require.JSONEq(t, `{"id":"doc-7","pages":3}`, string(out))
}
