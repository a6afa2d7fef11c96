package nats

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mtr002/docjobs/internal/events"
	"github.com/mtr002/docjobs/internal/interfaces"
	"github.com/mtr002/docjobs/internal/jobs"
	"github.com/mtr002/docjobs/internal/memstore"
	"github.com/mtr002/docjobs/internal/remote"
	"github.com/mtr002/docjobs/internal/worker"
)

func newSupervisor(t *testing.T) (*jobs.Supervisor, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	sup, err := jobs.New(jobs.Options{
		Store: store,
		Executor: worker.ExecutorFunc(func(_ context.Context, action string, _ json.RawMessage) (json.RawMessage, error) {
			return json.RawMessage(`{"action":"` + action + `"}`), nil
		}),
	})
	require.NoError(t, err)
	t.Cleanup(sup.Close)
	return sup, store
}

func TestSubmitStartsJob(t *testing.T) {
	sup, store := newSupervisor(t)
	s := &Server{starter: sup}

	data, err := json.Marshal(JobSubmissionMessage{
		Type:    interfaces.TypeBatchSummary,
		Payload: json.RawMessage(`{"documentIds":["a","b"]}`),
	})
	require.NoError(t, err)

	reply := s.submit(t.Context(), data)
	require.Empty(t, reply.Error)
	require.NotEmpty(t, reply.JobID)

	h, ok := sup.Handle(reply.JobID)
	require.True(t, ok)
	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel()
	o, err := h.Wait(ctx)
	require.NoError(t, err)
	require.JSONEq(t, `{"action":"BATCH_SUMMARY"}`, string(o.Result))

	d, err := store.GetByID(t.Context(), reply.JobID)
	require.NoError(t, err)
	require.Equal(t, remote.ActionBatchSummary, d.Action)
}

func TestSubmitRejects(t *testing.T) {
	sup, _ := newSupervisor(t)
	s := &Server{starter: sup}

	reply := s.submit(t.Context(), []byte(`{not json`))
	require.Contains(t, reply.Error, "invalid message")

	reply = s.submit(t.Context(), []byte(`{"type":"translation","action":"TRANSLATE"}`))
	require.Contains(t, reply.Error, jobs.ErrUnknownType.Error())
	require.Empty(t, reply.JobID)
}

func TestDecodeReply(t *testing.T) {
	id, err := decodeReply([]byte(`{"job_id":"p-1"}`))
	require.NoError(t, err)
	require.Equal(t, "p-1", id)

	_, err = decodeReply([]byte(`{"error":"too many live workers"}`))
	require.ErrorContains(t, err, "too many live workers")

	_, err = decodeReply([]byte(`<`))
	require.Error(t, err)
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs map[string][][]byte
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.msgs == nil {
		f.msgs = make(map[string][][]byte)
	}
	f.msgs[subject] = append(f.msgs[subject], data)
	return nil
}

func (f *fakePublisher) count(subject string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.msgs[subject])
}

func TestForward(t *testing.T) {
	bus := events.NewBus()
	pub := &fakePublisher{}
	ctx, cancel := context.WithCancel(t.Context())

	done := make(chan struct{})
	go func() {
		defer close(done)
		Forward(ctx, pub, bus)
	}()

	// the subscription is registered asynchronously
	require.Eventually(t, func() bool {
		bus.Publish(events.Event{Kind: events.KindCleared})
		return pub.count("jobs.events.cleared") > 0
	}, 2*time.Second, 10*time.Millisecond)

	bus.Publish(events.Event{Kind: events.KindJobUpdated, JobID: "p-1"})
	require.Eventually(t, func() bool { return pub.count("jobs.events.job.updated") == 1 }, 2*time.Second, 10*time.Millisecond)

	pub.mu.Lock()
	var e events.Event
	require.NoError(t, json.Unmarshal(pub.msgs["jobs.events.job.updated"][0], &e))
	pub.mu.Unlock()
	require.Equal(t, "p-1", e.JobID)

	cancel()
	<-done
}
