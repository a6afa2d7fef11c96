// Package events publishes job state changes to whoever renders them.
package events

import (
	"sync"
	"time"

	"github.com/mtr002/docjobs/internal/interfaces"
	"github.com/mtr002/docjobs/internal/logger"
	"github.com/mtr002/docjobs/internal/notify"
)

type Kind string

const (
	KindJobUpdated   Kind = "job.updated"
	KindResultStored Kind = "result.stored"
	KindNotification Kind = "notification"
	KindCleared      Kind = "cleared"

	// KindNotificationRemoved reports an entry that expired or was dismissed.
	KindNotificationRemoved Kind = "notification.removed"
)

// All subscribes to events of every job.
const All = ""

type Event struct {
	Kind         Kind                     `json:"kind"`
	JobID        string                   `json:"jobId,omitempty"`
	Job          *interfaces.Descriptor   `json:"job,omitempty"`
	Result       *interfaces.ResultRecord `json:"result,omitempty"`
	Notification *notify.Notification     `json:"notification,omitempty"`
	Timestamp    time.Time                `json:"timestamp"`
}

const subscriberBuffer = 100

// Bus fans events out to subscribers without ever blocking the publisher.
type Bus struct {
	mu   sync.RWMutex
	subs map[string][]chan Event
}

func NewBus() *Bus {
	return &Bus{subs: make(map[string][]chan Event)}
}

// Subscribe returns a channel receiving events for jobID, or for every job
// when jobID is All. The returned func unsubscribes and closes the channel.
func (b *Bus) Subscribe(jobID string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	b.subs[jobID] = append(b.subs[jobID], ch)

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()

			subscribers := b.subs[jobID]
			for i, sub := range subscribers {
				if sub == ch {
					close(ch)
					b.subs[jobID] = append(subscribers[:i], subscribers[i+1:]...)
					break
				}
			}
			if len(b.subs[jobID]) == 0 {
				delete(b.subs, jobID)
			}
		})
	}
	return ch, unsub
}

// Publish stamps e and delivers it. Slow subscribers lose events.
func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	b.deliver(b.subs[All], e)
	if e.JobID != All {
		b.deliver(b.subs[e.JobID], e)
	}
}

func (b *Bus) deliver(subscribers []chan Event, e Event) {
	for _, ch := range subscribers {
		select {
		case ch <- e:
		default:
			logger.Logger.Warn().
				Str("job_id", e.JobID).
				Str("kind", string(e.Kind)).
				Msg("Event bus channel full, dropping event")
		}
	}
}
