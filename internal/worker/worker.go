package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/mtr002/docjobs/internal/interfaces"
	"github.com/mtr002/docjobs/internal/logger"
	"github.com/mtr002/docjobs/internal/metrics"
)

var (
	// ErrWorkerCrash wraps a panic recovered inside the executor
	ErrWorkerCrash = errors.New("worker crashed")
	// ErrAlreadyAssigned is returned when a second assignment is sent
	ErrAlreadyAssigned = errors.New("worker already assigned")
)

// Executor performs the one remote call behind an action
type Executor interface {
	Execute(ctx context.Context, action string, payload json.RawMessage) (json.RawMessage, error)
}

// ExecutorFunc adapts a function to the Executor interface
type ExecutorFunc func(ctx context.Context, action string, payload json.RawMessage) (json.RawMessage, error)

// Execute implements Executor
func (f ExecutorFunc) Execute(ctx context.Context, action string, payload json.RawMessage) (json.RawMessage, error) {
	return f(ctx, action, payload)
}

// Worker is an isolated goroutine that serves exactly one Assignment.
// It talks to its owner only through Send and Outbox.
type Worker struct {
	exec   Executor
	inbox  chan Assignment
	outbox chan Message
	stop   chan struct{}
	done   chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	stopOnce   sync.Once
	assignOnce sync.Once
}

// Spawn starts a worker goroutine that waits for its assignment
func Spawn(exec Executor) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		exec: exec,
		// one assignment, and at most status + terminal message out
		inbox:  make(chan Assignment, 1),
		outbox: make(chan Message, 2),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
	metrics.ActiveWorkers.Inc()
	go w.run()
	return w
}

// Send delivers a command. Only the first Assignment is accepted;
// Terminate may be sent any number of times.
func (w *Worker) Send(cmd Command) error {
	switch c := cmd.(type) {
	case Assignment:
		accepted := false
		w.assignOnce.Do(func() {
			w.inbox <- c
			accepted = true
		})
		if !accepted {
			return ErrAlreadyAssigned
		}
	case Terminate:
		w.stopOnce.Do(func() { close(w.stop) })
	default:
		return fmt.Errorf("unsupported command %T", cmd)
	}
	return nil
}

// Kill terminates the worker and cancels the context of an in-flight call.
// Whether the remote side stops its work is up to the remote side.
func (w *Worker) Kill() {
	_ = w.Send(Terminate{})
	w.cancel()
}

// Outbox is closed once the worker goroutine exits.
func (w *Worker) Outbox() <-chan Message {
	return w.outbox
}

// Done is closed once the worker goroutine exits.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

type outcome struct {
	result json.RawMessage
	err    error
}

func (w *Worker) run() {
	defer func() {
		w.cancel()
		close(w.outbox)
		close(w.done)
		metrics.ActiveWorkers.Dec()
	}()

	var a Assignment
	select {
	case <-w.stop:
		return
	case a = <-w.inbox:
	}

	log := logger.WithJobID(a.ProcessID)
	if !w.emit(StatusUpdate{ID: a.ProcessID, Status: interfaces.StatusRunning, Message: "started " + a.Action}) {
		return
	}

	started := time.Now()
	res := make(chan outcome, 1)
	go func() {
		res <- w.execute(a)
	}()

	select {
	case <-w.stop:
		log.Debug().Str("action", a.Action).Msg("Worker terminated during remote call")
		return
	case o := <-res:
		metrics.JobProcessingDuration.Observe(time.Since(started).Seconds())
		if o.err != nil {
			log.Debug().Err(o.err).Str("action", a.Action).Msg("Remote call failed")
			w.emit(Error{ID: a.ProcessID, Err: o.err})
			return
		}
		w.emit(Result{ID: a.ProcessID, Result: o.result})
	}
}

// execute runs the executor and turns a panic into ErrWorkerCrash.
func (w *Worker) execute(a Assignment) (o outcome) {
	defer func() {
		if r := recover(); r != nil {
			logger.WithJobID(a.ProcessID).Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("Worker crashed")
			o = outcome{err: fmt.Errorf("%w: %v", ErrWorkerCrash, r)}
		}
	}()
	result, err := w.exec.Execute(w.ctx, a.Action, a.Payload)
	return outcome{result: result, err: err}
}

// emit posts m unless the worker has been told to stop.
func (w *Worker) emit(m Message) bool {
	select {
	case <-w.stop:
		return false
	default:
	}
	select {
	case <-w.stop:
		return false
	case w.outbox <- m:
		return true
	}
}
