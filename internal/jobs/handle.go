package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/mtr002/docjobs/internal/interfaces"
)

// progressBuffer is how many unread progress events a handle keeps before
// dropping new ones.
const progressBuffer = 16

// Progress is a non-terminal status change of a job
type Progress struct {
	ProcessID string               `json:"processId"`
	Status    interfaces.JobStatus `json:"status"`
	Message   string               `json:"message,omitempty"`
	At        time.Time            `json:"at"`
}

// Outcome is the terminal state of a job. Result is set for completed jobs,
// Err for failed ones; cancelled and terminated jobs carry neither.
type Outcome struct {
	Status interfaces.JobStatus `json:"status"`
	Result json.RawMessage      `json:"result,omitempty"`
	Err    *JobError            `json:"error,omitempty"`
}

// JobError describes why a job ended in the error status
type JobError struct {
	ProcessID string             `json:"processId"`
	Type      interfaces.JobType `json:"type"`
	Action    string             `json:"action"`
	Err       error              `json:"-"`
}

func (e *JobError) Error() string {
	return fmt.Sprintf("job %s (%s) failed: %v", e.ProcessID, e.Action, e.Err)
}

func (e *JobError) Unwrap() error {
	return e.Err
}

// MarshalJSON keeps the underlying error text on the wire.
func (e *JobError) MarshalJSON() ([]byte, error) {
	type alias JobError
	msg := ""
	if e.Err != nil {
		msg = e.Err.Error()
	}
	return json.Marshal(struct {
		*alias
		Message string `json:"message"`
	}{(*alias)(e), msg})
}

// Handle is returned by Start. It reports progress and resolves exactly once.
type Handle struct {
	id       string
	progress chan Progress
	done     chan struct{}

	once    sync.Once
	outcome Outcome
	err     error
}

func newHandle(id string) *Handle {
	return &Handle{
		id:       id,
		progress: make(chan Progress, progressBuffer),
		done:     make(chan struct{}),
	}
}

func (h *Handle) ID() string {
	return h.id
}

// Progress is closed when the job reaches a terminal state. Events are
// dropped, not queued, when nobody reads them.
func (h *Handle) Progress() <-chan Progress {
	return h.progress
}

// Done is closed once the outcome is known.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Outcome returns the terminal state and whether it is known yet.
func (h *Handle) Outcome() (Outcome, bool) {
	select {
	case <-h.done:
		return h.outcome, true
	default:
		return Outcome{}, false
	}
}

// Wait blocks until the job ends or ctx is done. It returns ErrClosed when the
// supervisor shut down while the job was still live.
func (h *Handle) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-h.done:
		return h.outcome, h.err
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// publish must not race with resolve; callers hold the job lock.
func (h *Handle) publish(p Progress) bool {
	select {
	case <-h.done:
		return false
	default:
	}
	select {
	case h.progress <- p:
		return true
	default:
		return false
	}
}

func (h *Handle) resolve(o Outcome, err error) {
	h.once.Do(func() {
		h.outcome = o
		h.err = err
		close(h.progress)
		close(h.done)
	})
}
