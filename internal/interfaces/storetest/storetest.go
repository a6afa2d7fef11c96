// Package storetest holds the contract every interfaces.Store backend must satisfy.
package storetest

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mtr002/docjobs/internal/interfaces"
)

// Run executes the contract against stores produced by newStore. Each subtest
// gets a fresh, initialized store.
func Run(t *testing.T, newStore func(t *testing.T) interfaces.Store) {
	t.Helper()

	fresh := func(t *testing.T) (context.Context, interfaces.Store) {
		t.Helper()
		s := newStore(t)
		ctx := t.Context()
		require.NoError(t, s.Init(ctx))
		require.NoError(t, s.Init(ctx), "init must be idempotent")
		return ctx, s
	}

	t.Run("put and get", func(t *testing.T) {
		ctx, s := fresh(t)
		d := descriptor("p-1", interfaces.TypeQueryIntelligence, interfaces.StatusPending, 0)
		require.NoError(t, s.Put(ctx, d))
		require.False(t, d.LastUpdated.IsZero(), "put stamps lastUpdated")

		got, err := s.GetByID(ctx, "p-1")
		require.NoError(t, err)
		require.Equal(t, d.ID, got.ID)
		require.Equal(t, d.Type, got.Type)
		require.Equal(t, d.Status, got.Status)
		require.Equal(t, d.Action, got.Action)
		require.JSONEq(t, string(d.Payload), string(got.Payload))
		require.WithinDuration(t, d.CreatedAt, got.CreatedAt, time.Millisecond)
		require.Nil(t, got.CompletedAt)
	})

	t.Run("payload key order survives", func(t *testing.T) {
		ctx, s := fresh(t)
		d := descriptor("p-1", interfaces.TypeStructuredSummary, interfaces.StatusPending, 0)
		d.Payload = json.RawMessage(`{"sections":["b","a"], "documentId":"doc-9", "model":"gpt-4o"}`)
		require.NoError(t, s.Put(ctx, d))

		got, err := s.GetByID(ctx, "p-1")
		require.NoError(t, err)
		require.Equal(t, compact(t, d.Payload), compact(t, got.Payload))
	})

	t.Run("missing id", func(t *testing.T) {
		ctx, s := fresh(t)
		_, err := s.GetByID(ctx, "nope")
		require.ErrorIs(t, err, interfaces.ErrNotFound)
	})

	t.Run("put replaces whole record", func(t *testing.T) {
		ctx, s := fresh(t)
		d := descriptor("p-1", interfaces.TypeReviewArticle, interfaces.StatusRunning, 0)
		d.Message = "halfway"
		require.NoError(t, s.Put(ctx, d))

		done := time.Now().UTC().Truncate(time.Millisecond)
		replaced := descriptor("p-1", interfaces.TypeReviewArticle, interfaces.StatusCompleted, 0)
		replaced.Result = json.RawMessage(`{"answer":42}`)
		replaced.CompletedAt = &done
		require.NoError(t, s.Put(ctx, replaced))

		got, err := s.GetByID(ctx, "p-1")
		require.NoError(t, err)
		require.Equal(t, interfaces.StatusCompleted, got.Status)
		require.Empty(t, got.Message)
		require.JSONEq(t, `{"answer":42}`, string(got.Result))
		require.NotNil(t, got.CompletedAt)
		require.WithinDuration(t, done, *got.CompletedAt, time.Millisecond)
	})

	t.Run("get all and delete", func(t *testing.T) {
		ctx, s := fresh(t)
		require.NoError(t, s.Put(ctx, descriptor("p-1", interfaces.TypeBatchSummary, interfaces.StatusPending, 0)))
		require.NoError(t, s.Put(ctx, descriptor("p-2", interfaces.TypeBatchSummary, interfaces.StatusError, time.Second)))

		all, err := s.GetAll(ctx)
		require.NoError(t, err)
		require.Len(t, all, 2)
		require.Equal(t, "p-1", all[0].ID)
		require.Equal(t, "p-2", all[1].ID)

		require.NoError(t, s.Delete(ctx, "p-1"))
		all, err = s.GetAll(ctx)
		require.NoError(t, err)
		require.Len(t, all, 1)
	})

	t.Run("query active", func(t *testing.T) {
		ctx, s := fresh(t)
		records := []*interfaces.Descriptor{
			descriptor("a", interfaces.TypeQueryIntelligence, interfaces.StatusPending, 0),
			descriptor("b", interfaces.TypeQueryIntelligence, interfaces.StatusRunning, time.Second),
			descriptor("c", interfaces.TypeStructuredSummary, interfaces.StatusRunning, 2*time.Second),
			descriptor("d", interfaces.TypeQueryIntelligence, interfaces.StatusCompleted, 3*time.Second),
			descriptor("e", interfaces.TypeStructuredSummary, interfaces.StatusCancelled, 4*time.Second),
			descriptor("f", interfaces.TypeStructuredSummary, interfaces.StatusTerminated, 5*time.Second),
		}
		for _, d := range records {
			require.NoError(t, s.Put(ctx, d))
		}

		all, err := s.QueryActive(ctx, "")
		require.NoError(t, err)
		require.ElementsMatch(t, []string{"a", "b", "c"}, ids(all))

		query, err := s.QueryActive(ctx, interfaces.TypeQueryIntelligence)
		require.NoError(t, err)
		require.ElementsMatch(t, []string{"a", "b"}, ids(query))

		review, err := s.QueryActive(ctx, interfaces.TypeReviewArticle)
		require.NoError(t, err)
		require.Empty(t, review)
	})

	t.Run("results per category", func(t *testing.T) {
		ctx, s := fresh(t)
		now := time.Now().UTC().Truncate(time.Millisecond)
		require.NoError(t, s.PutResult(ctx, &interfaces.ResultRecord{
			ID: "a", Type: interfaces.TypeStructuredSummary, Result: json.RawMessage(`{"sections":[]}`), Timestamp: now,
		}))
		require.NoError(t, s.PutResult(ctx, &interfaces.ResultRecord{
			ID: "b", Type: interfaces.TypeStructuredSummary, Result: json.RawMessage(`"text"`), Timestamp: now.Add(time.Second),
		}))
		require.NoError(t, s.PutResult(ctx, &interfaces.ResultRecord{
			ID: "c", Type: interfaces.TypeBatchSummary, Result: json.RawMessage(`[]`), Timestamp: now,
		}))

		summaries, err := s.GetResults(ctx, interfaces.TypeStructuredSummary)
		require.NoError(t, err)
		require.Len(t, summaries, 2)
		require.Equal(t, "a", summaries[0].ID)
		require.JSONEq(t, `{"sections":[]}`, string(summaries[0].Result))
		require.WithinDuration(t, now, summaries[0].Timestamp, time.Millisecond)

		require.NoError(t, s.DeleteResult(ctx, interfaces.TypeStructuredSummary, "a"))
		summaries, err = s.GetResults(ctx, interfaces.TypeStructuredSummary)
		require.NoError(t, err)
		require.Len(t, summaries, 1)

		none, err := s.GetResults(ctx, interfaces.TypeQueryIntelligence)
		require.NoError(t, err)
		require.Empty(t, none)
	})

	t.Run("clear", func(t *testing.T) {
		ctx, s := fresh(t)
		require.NoError(t, s.Put(ctx, descriptor("a", interfaces.TypeReviewArticle, interfaces.StatusRunning, 0)))
		require.NoError(t, s.PutResult(ctx, &interfaces.ResultRecord{
			ID: "a", Type: interfaces.TypeReviewArticle, Result: json.RawMessage(`{}`), Timestamp: time.Now(),
		}))

		require.NoError(t, s.Clear(ctx))

		all, err := s.GetAll(ctx)
		require.NoError(t, err)
		require.Empty(t, all)
		for _, jt := range interfaces.JobTypes {
			results, err := s.GetResults(ctx, jt)
			require.NoError(t, err)
			require.Empty(t, results)
		}
	})
}

func descriptor(id string, jt interfaces.JobType, status interfaces.JobStatus, offset time.Duration) *interfaces.Descriptor {
	created := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC).Add(offset)
	return &interfaces.Descriptor{
		ID:        id,
		Type:      jt,
		Status:    status,
		Action:    "QUERY_INTELLIGENCE",
		Payload:   json.RawMessage(`{"documentIds":["d1"],"question":"what?"}`),
		CreatedAt: created,
	}
}

func compact(t *testing.T, raw json.RawMessage) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.Compact(&buf, raw))
	return buf.String()
}

func ids(ds []*interfaces.Descriptor) []string {
	out := make([]string, 0, len(ds))
	for _, d := range ds {
		out = append(out, d.ID)
	}
	return out
}
