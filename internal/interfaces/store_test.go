package interfaces_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtr002/docjobs/internal/interfaces"
)

func TestCanTransition(t *testing.T) {
	t.Parallel()

	var testCases = []struct {
		from, to interfaces.JobStatus
		then     bool
	}{
		{interfaces.StatusPending, interfaces.StatusRunning, true},
		{interfaces.StatusPending, interfaces.StatusCancelled, true},
		{interfaces.StatusPending, interfaces.StatusTerminated, true},
		{interfaces.StatusPending, interfaces.StatusCompleted, false},
		{interfaces.StatusRunning, interfaces.StatusRunning, true},
		{interfaces.StatusRunning, interfaces.StatusCompleted, true},
		{interfaces.StatusRunning, interfaces.StatusError, true},
		{interfaces.StatusRunning, interfaces.StatusCancelled, true},
		{interfaces.StatusRunning, interfaces.StatusPending, false},
		{interfaces.StatusCompleted, interfaces.StatusRunning, false},
		{interfaces.StatusError, interfaces.StatusCompleted, false},
		{interfaces.StatusCancelled, interfaces.StatusTerminated, false},
		{interfaces.StatusTerminated, interfaces.StatusCancelled, false},
	}

	for _, tt := range testCases {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.then, interfaces.CanTransition(tt.from, tt.to))
		})
	}
}

func TestJobType(t *testing.T) {
	t.Parallel()
	require.True(t, interfaces.TypeBatchSummary.Valid())
	require.False(t, interfaces.JobType("podcast").Valid())
	require.Equal(t, "results:review-article", interfaces.TypeReviewArticle.ResultCollection())
}

func TestDescriptorWireFormat(t *testing.T) {
	t.Parallel()
	created := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	d := interfaces.Descriptor{
		ID:          "p-1",
		Type:        interfaces.TypeQueryIntelligence,
		Status:      interfaces.StatusRunning,
		Action:      "QUERY_INTELLIGENCE",
		Payload:     json.RawMessage(`{"question":"why"}`),
		CreatedAt:   created,
		LastUpdated: created,
	}

	raw, err := json.Marshal(&d)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))
	require.Contains(t, fields, "timestamp")
	require.Contains(t, fields, "lastUpdated")
	require.NotContains(t, fields, "completedAt")
	require.NotContains(t, fields, "result")
	require.NotContains(t, fields, "error")
}

func TestDescriptorClone(t *testing.T) {
	t.Parallel()
	done := time.Now()
	d := &interfaces.Descriptor{ID: "p-1", Payload: json.RawMessage(`{"a":1}`), CompletedAt: &done}
	c := d.Clone()
	c.Payload[2] = 'b'
	*c.CompletedAt = done.Add(time.Hour)

	require.JSONEq(t, `{"a":1}`, string(d.Payload))
	require.Equal(t, done, *d.CompletedAt)
}
