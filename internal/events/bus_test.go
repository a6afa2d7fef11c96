package events_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtr002/docjobs/internal/events"
	"github.com/mtr002/docjobs/internal/interfaces"
)

func receive(t *testing.T, ch <-chan events.Event) events.Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return events.Event{}
	}
}

func TestBusPubSub(t *testing.T) {
	bus := events.NewBus()

	jobCh, unsubJob := bus.Subscribe("job-123")
	defer unsubJob()
	allCh, unsubAll := bus.Subscribe(events.All)
	defer unsubAll()

	bus.Publish(events.Event{
		Kind:  events.KindJobUpdated,
		JobID: "job-123",
		Job:   &interfaces.Descriptor{ID: "job-123", Status: interfaces.StatusRunning},
	})

	got := receive(t, jobCh)
	assert.Equal(t, events.KindJobUpdated, got.Kind)
	assert.Equal(t, interfaces.StatusRunning, got.Job.Status)
	assert.False(t, got.Timestamp.IsZero())

	got = receive(t, allCh)
	assert.Equal(t, "job-123", got.JobID)
}

func TestBusFiltersByJob(t *testing.T) {
	bus := events.NewBus()
	ch, unsub := bus.Subscribe("job-a")
	defer unsub()

	bus.Publish(events.Event{Kind: events.KindJobUpdated, JobID: "job-b"})
	bus.Publish(events.Event{Kind: events.KindCleared})
	bus.Publish(events.Event{Kind: events.KindJobUpdated, JobID: "job-a"})

	got := receive(t, ch)
	require.Equal(t, "job-a", got.JobID)
	select {
	case e := <-ch:
		t.Fatalf("unexpected event %v", e)
	default:
	}
}

func TestBusUnsubscribe(t *testing.T) {
	bus := events.NewBus()
	ch, unsub := bus.Subscribe(events.All)
	unsub()
	unsub()

	bus.Publish(events.Event{Kind: events.KindCleared})

	_, ok := <-ch
	require.False(t, ok, "channel is closed on unsubscribe")
}

func TestBusDropsWhenFull(t *testing.T) {
	bus := events.NewBus()
	ch, unsub := bus.Subscribe(events.All)
	defer unsub()

	for i := 0; i < 150; i++ {
		bus.Publish(events.Event{Kind: events.KindNotification})
	}
	require.Len(t, ch, cap(ch))
}
