package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

const (
	ActionQueryIntelligence = "QUERY_INTELLIGENCE"
	ActionStructuredSummary = "STRUCTURED_SUMMARY"
	ActionReviewArticle     = "REVIEW_ARTICLE"
	ActionBatchSummary      = "BATCH_SUMMARY"
	ActionFetchDocument     = "FETCH_DOCUMENT"
)

var (
	ErrUnknownAction   = errors.New("unknown action")
	ErrMissingDocument = errors.New("payload has no documentId")
)

// Route is the single remote call behind an action. Path may contain
// {documentId}, filled from the payload.
type Route struct {
	Method string
	Path   string
}

var Routes = map[string]Route{
	ActionQueryIntelligence: {Method: http.MethodPost, Path: "/v1/query"},
	ActionStructuredSummary: {Method: http.MethodPost, Path: "/v1/summaries"},
	ActionReviewArticle:     {Method: http.MethodPost, Path: "/v1/reviews"},
	ActionBatchSummary:      {Method: http.MethodPost, Path: "/v1/summaries/batch"},
	ActionFetchDocument:     {Method: http.MethodGet, Path: "/v1/documents/{documentId}"},
}

// Doer is the request primitive. *Client implements it.
type Doer interface {
	Do(ctx context.Context, method, url string, body json.RawMessage) (json.RawMessage, error)
}

// Dispatcher maps an action to one remote call. It implements worker.Executor.
type Dispatcher struct {
	doer     Doer
	baseURL  string
	prefixes []string
	provider map[string]string
}

// NewDispatcher routes to baseURL unless payload.model starts with one of the
// providers keys, in which case the longest matching prefix wins.
func NewDispatcher(doer Doer, baseURL string, providers map[string]string) *Dispatcher {
	d := &Dispatcher{
		doer:     doer,
		baseURL:  strings.TrimRight(baseURL, "/"),
		provider: make(map[string]string, len(providers)),
	}
	for prefix, u := range providers {
		d.provider[prefix] = strings.TrimRight(u, "/")
		d.prefixes = append(d.prefixes, prefix)
	}
	sort.Slice(d.prefixes, func(i, j int) bool {
		return len(d.prefixes[i]) > len(d.prefixes[j])
	})
	return d
}

type routingFields struct {
	Model      string `json:"model"`
	DocumentID string `json:"documentId"`
}

func (d *Dispatcher) Execute(ctx context.Context, action string, payload json.RawMessage) (json.RawMessage, error) {
	route, ok := Routes[action]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAction, action)
	}

	var fields routingFields
	if len(payload) > 0 {
		// non-object payloads are forwarded untouched and use the default provider
		_ = json.Unmarshal(payload, &fields)
	}

	path := route.Path
	if strings.Contains(path, "{documentId}") {
		if fields.DocumentID == "" {
			return nil, ErrMissingDocument
		}
		path = strings.ReplaceAll(path, "{documentId}", url.PathEscape(fields.DocumentID))
	}

	var body json.RawMessage
	if route.Method != http.MethodGet {
		body = payload
	}
	return d.doer.Do(ctx, route.Method, d.BaseURLFor(fields.Model)+path, body)
}

// BaseURLFor returns the provider base URL for a model identifier.
func (d *Dispatcher) BaseURLFor(model string) string {
	for _, prefix := range d.prefixes {
		if strings.HasPrefix(model, prefix) {
			return d.provider[prefix]
		}
	}
	return d.baseURL
}
