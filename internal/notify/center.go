// Package notify keeps the short-lived, user-facing list of job lifecycle
// notifications. Entries expire on their own; nothing here touches job state.
package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mtr002/docjobs/internal/metrics"
)

// DefaultTTL is how long a notification stays listed.
const DefaultTTL = 8 * time.Second

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

type Notification struct {
	ID        string    `json:"id"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
	ProcessID string    `json:"processId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Center is an append-only list whose entries are removed TTL after creation,
// whether or not anyone looked at them.
type Center struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries []Notification
	timers  map[string]*time.Timer

	onRemove func(Notification)
}

type Option func(*Center)

// WithClock overrides the clock used for CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(c *Center) { c.now = now }
}

func New(ttl time.Duration, opts ...Option) *Center {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Center{
		ttl:    ttl,
		now:    time.Now,
		timers: make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnRemove registers fn to run, outside the lock, whenever a single entry
// expires or is removed. Clear does not call it. It replaces any earlier hook.
func (c *Center) OnRemove(fn func(Notification)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onRemove = fn
}

// TTL returns the lifetime of every entry.
func (c *Center) TTL() time.Duration {
	return c.ttl
}

// Add appends a notification and schedules its removal.
func (c *Center) Add(severity Severity, message, processID string) Notification {
	n := Notification{
		ID:        uuid.New().String(),
		Severity:  severity,
		Message:   message,
		ProcessID: processID,
		CreatedAt: c.now().UTC(),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, n)
	c.timers[n.ID] = time.AfterFunc(c.ttl, func() { c.expire(n.ID) })
	metrics.Notifications.Set(float64(len(c.entries)))
	return n
}

func (c *Center) expire(id string) {
	c.mu.Lock()
	// Clear may have stopped the timer too late; removeLocked is a no-op then.
	n, ok := c.removeLocked(id)
	hook := c.onRemove
	c.mu.Unlock()

	if ok && hook != nil {
		hook(n)
	}
}

// Remove drops a notification early. It reports whether it was listed.
func (c *Center) Remove(id string) bool {
	c.mu.Lock()
	if t, ok := c.timers[id]; ok {
		t.Stop()
	}
	n, ok := c.removeLocked(id)
	hook := c.onRemove
	c.mu.Unlock()

	if ok && hook != nil {
		hook(n)
	}
	return ok
}

func (c *Center) removeLocked(id string) (Notification, bool) {
	delete(c.timers, id)
	for i, n := range c.entries {
		if n.ID == id {
			c.entries = append(c.entries[:i], c.entries[i+1:]...)
			metrics.Notifications.Set(float64(len(c.entries)))
			return n, true
		}
	}
	return Notification{}, false
}

// List returns the live notifications in creation order.
func (c *Center) List() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Notification(nil), c.entries...)
}

func (c *Center) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// ErrorCount counts live error-severity notifications.
func (c *Center) ErrorCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := 0
	for _, n := range c.entries {
		if n.Severity == SeverityError {
			count++
		}
	}
	return count
}

// Clear drops every notification and cancels pending expiries.
func (c *Center) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.timers {
		t.Stop()
	}
	c.timers = make(map[string]*time.Timer)
	c.entries = nil
	metrics.Notifications.Set(0)
}
