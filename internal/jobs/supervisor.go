package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/mtr002/docjobs/internal/events"
	"github.com/mtr002/docjobs/internal/interfaces"
	"github.com/mtr002/docjobs/internal/logger"
	"github.com/mtr002/docjobs/internal/metrics"
	"github.com/mtr002/docjobs/internal/notify"
	"github.com/mtr002/docjobs/internal/worker"
)

var (
	ErrUnknownType    = errors.New("unknown job type")
	ErrEmptyAction    = errors.New("action cannot be empty")
	ErrInvalidPayload = errors.New("invalid payload")
	ErrTooManyWorkers = errors.New("too many live workers")
	ErrClosed         = errors.New("supervisor closed")
)

// Options configures a Supervisor. Store and Executor are required; Bus and
// Notifications are created when nil. MaxWorkers caps the workers spawned by
// Start, 0 means no cap.
type Options struct {
	Store         interfaces.Store
	Executor      worker.Executor
	Bus           *events.Bus
	Notifications *notify.Center
	MaxWorkers    int
	Now           func() time.Time
}

// job is a live descriptor and the worker serving it. mu orders every
// change of one job, including its store write.
type job struct {
	mu     sync.Mutex
	desc   *interfaces.Descriptor
	w      *worker.Worker
	h      *Handle
	permit bool
}

// Supervisor owns every live worker. It persists lifecycle changes, keeps the
// active list and raises notifications.
type Supervisor struct {
	store interfaces.Store
	exec  worker.Executor
	bus   *events.Bus
	notes *notify.Center
	sem   *semaphore.Weighted
	now   func() time.Time

	mu      sync.Mutex
	jobs    map[string]*job
	handles map[string]*Handle
	closed  bool
	wg      sync.WaitGroup
}

func New(opts Options) (*Supervisor, error) {
	if opts.Store == nil {
		return nil, errors.New("store is required")
	}
	if opts.Executor == nil {
		return nil, errors.New("executor is required")
	}

	s := &Supervisor{
		store:   opts.Store,
		exec:    opts.Executor,
		bus:     opts.Bus,
		notes:   opts.Notifications,
		now:     opts.Now,
		jobs:    make(map[string]*job),
		handles: make(map[string]*Handle),
	}
	if s.bus == nil {
		s.bus = events.NewBus()
	}
	if s.notes == nil {
		s.notes = notify.New(notify.DefaultTTL)
	}
	if s.now == nil {
		s.now = time.Now
	}
	if opts.MaxWorkers > 0 {
		s.sem = semaphore.NewWeighted(int64(opts.MaxWorkers))
	}
	s.notes.OnRemove(func(n notify.Notification) {
		s.bus.Publish(events.Event{Kind: events.KindNotificationRemoved, JobID: n.ProcessID, Notification: &n})
	})
	return s, nil
}

// Bus returns the bus lifecycle events are published on.
func (s *Supervisor) Bus() *events.Bus {
	return s.bus
}

// Start persists a pending descriptor, spawns its worker and returns at once.
// Only the shape of the input is checked. A failure to persist the initial
// descriptor is returned and nothing is started.
func (s *Supervisor) Start(ctx context.Context, jobType interfaces.JobType, action string, payload json.RawMessage) (*Handle, error) {
	if !jobType.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, jobType)
	}
	if action == "" {
		return nil, ErrEmptyAction
	}
	if len(payload) > 0 && !json.Valid(payload) {
		return nil, fmt.Errorf("%w: payload is not valid JSON", ErrInvalidPayload)
	}

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	permit := false
	if s.sem != nil {
		if !s.sem.TryAcquire(1) {
			return nil, ErrTooManyWorkers
		}
		permit = true
	}

	now := s.now().UTC()
	d := &interfaces.Descriptor{
		ID:        uuid.New().String(),
		Type:      jobType,
		Status:    interfaces.StatusPending,
		Action:    action,
		Payload:   append(json.RawMessage(nil), payload...),
		CreatedAt: now,
	}
	if len(d.Payload) == 0 {
		d.Payload = nil
	}

	if err := s.store.Put(ctx, d); err != nil {
		s.release(permit)
		return nil, fmt.Errorf("failed to persist job: %w", err)
	}

	h, err := s.spawn(ctx, d, permit)
	if err != nil {
		return nil, err
	}

	metrics.JobsStartedTotal.WithLabelValues(string(jobType)).Inc()
	log := logger.WithJobID(d.ID)
	log.Info().Str("type", string(jobType)).Str("action", action).Msg("Job started")
	s.notify(notify.SeverityInfo, fmt.Sprintf("Started %s", label(jobType)), d.ID)
	return h, nil
}

// spawn attaches a fresh worker to d, marks it running and sends the
// assignment. It is shared by Start and Recover.
func (s *Supervisor) spawn(ctx context.Context, d *interfaces.Descriptor, permit bool) (*Handle, error) {
	j := &job{
		desc:   d.Clone(),
		h:      newHandle(d.ID),
		permit: permit,
	}

	// The listener cannot handle a message before the running state is stored.
	j.mu.Lock()
	defer j.mu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.release(permit)
		return nil, ErrClosed
	}
	j.w = worker.Spawn(s.exec)
	j.desc.Status = interfaces.StatusRunning
	j.desc.LastUpdated = s.now().UTC()
	s.jobs[d.ID] = j
	s.handles[d.ID] = j.h
	s.wg.Add(1)
	snapshot := j.desc.Clone()
	s.mu.Unlock()

	metrics.ActiveJobs.WithLabelValues(string(d.Type)).Inc()

	s.persist(ctx, d.ID, func(p *interfaces.Descriptor) {
		p.Status = interfaces.StatusRunning
	})
	s.publishJob(snapshot)

	if err := j.w.Send(worker.Assignment{
		Action:    d.Action,
		Payload:   d.Payload,
		ProcessID: d.ID,
	}); err != nil {
		logger.WithJobID(d.ID).Error().Err(err).Msg("Failed to assign worker")
	}

	go s.listen(j)
	return j.h, nil
}

func (s *Supervisor) listen(j *job) {
	defer s.wg.Done()
	for msg := range j.w.Outbox() {
		s.handle(j, msg)
	}
}

// handle applies one worker message. Messages for a job that is no longer
// live, or that would break the state machine, are dropped.
func (s *Supervisor) handle(j *job, msg worker.Message) {
	j.mu.Lock()
	defer j.mu.Unlock()

	id := j.desc.ID
	log := logger.WithJobID(id)

	s.mu.Lock()
	if s.jobs[id] != j || j.desc.Status.IsTerminal() || msg.ProcessID() != id {
		s.mu.Unlock()
		log.Debug().Interface("message", worker.Wrap(msg)).Msg("Ignoring message for inactive job")
		return
	}

	now := s.now().UTC()
	switch m := msg.(type) {
	case worker.StatusUpdate:
		if !interfaces.CanTransition(j.desc.Status, m.Status) || m.Status.IsTerminal() {
			s.mu.Unlock()
			log.Debug().Str("status", string(m.Status)).Msg("Ignoring invalid status update")
			return
		}
		j.desc.Status = m.Status
		j.desc.Message = m.Message
		j.desc.LastUpdated = now
		snapshot := j.desc.Clone()
		s.mu.Unlock()

		s.persist(context.Background(), id, func(d *interfaces.Descriptor) {
			d.Status = m.Status
			d.Message = m.Message
		})
		if !j.h.publish(Progress{ProcessID: id, Status: m.Status, Message: m.Message, At: now}) {
			log.Debug().Msg("Progress channel full, dropping update")
		}
		s.publishJob(snapshot)

	case worker.Result:
		j.desc.Status = interfaces.StatusCompleted
		j.desc.Result = m.Result
		j.desc.Error = ""
		j.desc.LastUpdated = now
		j.desc.CompletedAt = &now
		delete(s.jobs, id)
		snapshot := j.desc.Clone()
		s.mu.Unlock()

		s.persist(context.Background(), id, func(d *interfaces.Descriptor) {
			d.Status = interfaces.StatusCompleted
			d.Result = m.Result
			d.Error = ""
			d.CompletedAt = &now
		})
		rec := &interfaces.ResultRecord{ID: id, Type: snapshot.Type, Result: m.Result, Timestamp: now}
		if err := s.store.PutResult(context.Background(), rec); err != nil {
			log.Error().Err(err).Msg("Failed to store result")
		}
		s.bus.Publish(events.Event{Kind: events.KindResultStored, JobID: id, Result: rec.Clone()})
		s.finished(j, snapshot)
		s.notify(notify.SeveritySuccess, fmt.Sprintf("%s completed", capitalized(snapshot.Type)), id)
		j.h.resolve(Outcome{Status: interfaces.StatusCompleted, Result: snapshot.Result}, nil)
		log.Info().Msg("Job completed")

	case worker.Error:
		errText := "unknown error"
		if m.Err != nil {
			errText = m.Err.Error()
		}
		j.desc.Status = interfaces.StatusError
		j.desc.Error = errText
		j.desc.Result = nil
		j.desc.LastUpdated = now
		j.desc.CompletedAt = &now
		delete(s.jobs, id)
		snapshot := j.desc.Clone()
		s.mu.Unlock()

		s.persist(context.Background(), id, func(d *interfaces.Descriptor) {
			d.Status = interfaces.StatusError
			d.Error = errText
			d.Result = nil
			d.CompletedAt = &now
		})
		s.finished(j, snapshot)
		s.notify(notify.SeverityError, fmt.Sprintf("%s failed: %s", capitalized(snapshot.Type), errText), id)
		j.h.resolve(Outcome{
			Status: interfaces.StatusError,
			Err:    &JobError{ProcessID: id, Type: snapshot.Type, Action: snapshot.Action, Err: m.Err},
		}, nil)
		log.Warn().Str("error", errText).Msg("Job failed")

	default:
		s.mu.Unlock()
		log.Warn().Str("message", fmt.Sprintf("%T", msg)).Msg("Unknown worker message")
	}
}

// finished tears down the worker of a job that just left the active list.
// Callers hold j.mu.
func (s *Supervisor) finished(j *job, snapshot *interfaces.Descriptor) {
	j.w.Kill()
	s.release(j.permit)
	j.permit = false
	metrics.ActiveJobs.WithLabelValues(string(snapshot.Type)).Dec()
	metrics.JobsFinishedTotal.WithLabelValues(string(snapshot.Type), string(snapshot.Status)).Inc()
	s.publishJob(snapshot)
}

// Cancel stops a live job and marks it cancelled. Cancelling a job that
// already ended is a no-op; unknown ids yield interfaces.ErrNotFound.
func (s *Supervisor) Cancel(ctx context.Context, id string) error {
	s.mu.Lock()
	j, ok := s.jobs[id]
	s.mu.Unlock()

	if !ok {
		d, err := s.store.GetByID(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to cancel job %s: %w", id, err)
		}
		if d.Status.IsTerminal() {
			return nil
		}
		// persisted as active but nothing serves it, e.g. before Recover
		now := s.now().UTC()
		d.Status = interfaces.StatusCancelled
		d.CompletedAt = &now
		if err := s.store.Put(ctx, d); err != nil {
			return fmt.Errorf("failed to cancel job %s: %w", id, err)
		}
		s.publishJob(d)
		s.notify(notify.SeverityWarning, fmt.Sprintf("%s cancelled", capitalized(d.Type)), id)
		logger.WithJobID(id).Info().Msg("Job cancelled")
		return nil
	}

	if s.stop(ctx, j, interfaces.StatusCancelled) {
		s.notify(notify.SeverityWarning, fmt.Sprintf("%s cancelled", capitalized(j.desc.Type)), id)
		logger.WithJobID(id).Info().Msg("Job cancelled")
	}
	return nil
}

// stop kills a live job's worker and moves it to a terminal status. It
// reports false when the job had already left the active list.
func (s *Supervisor) stop(ctx context.Context, j *job, status interfaces.JobStatus) bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	id := j.desc.ID
	s.mu.Lock()
	if s.jobs[id] != j {
		s.mu.Unlock()
		return false
	}
	now := s.now().UTC()
	j.desc.Status = status
	j.desc.LastUpdated = now
	j.desc.CompletedAt = &now
	delete(s.jobs, id)
	snapshot := j.desc.Clone()
	s.mu.Unlock()

	if err := j.w.Send(worker.Terminate{}); err != nil {
		logger.WithJobID(id).Error().Err(err).Msg("Failed to terminate worker")
	}
	s.persist(ctx, id, func(d *interfaces.Descriptor) {
		d.Status = status
		d.CompletedAt = &now
	})
	s.finished(j, snapshot)
	j.h.resolve(Outcome{Status: status}, nil)
	return true
}

// ClearAll terminates every live job and empties notifications and every
// collection.
func (s *Supervisor) ClearAll(ctx context.Context) error {
	for _, j := range s.liveJobs() {
		s.stop(ctx, j, interfaces.StatusTerminated)
	}

	s.notes.Clear()
	if err := s.store.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear store: %w", err)
	}

	s.mu.Lock()
	s.handles = make(map[string]*Handle)
	s.mu.Unlock()

	s.bus.Publish(events.Event{Kind: events.KindCleared})
	logger.Logger.Info().Msg("Cleared all jobs")
	return nil
}

// Recover re-spawns a worker for every descriptor persisted as pending or
// running, using its stored action and payload under the same id. The
// remote call is issued again from the start. Ids that are already live are
// skipped. It returns how many workers were spawned.
func (s *Supervisor) Recover(ctx context.Context) (int, error) {
	descs, err := s.store.QueryActive(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("failed to query active jobs: %w", err)
	}

	n := 0
	for _, d := range descs {
		s.mu.Lock()
		_, live := s.jobs[d.ID]
		s.mu.Unlock()
		if live {
			continue
		}

		// recovered jobs are not subject to the worker cap
		if _, err := s.spawn(ctx, d, false); err != nil {
			return n, err
		}
		n++
		metrics.JobsRecoveredTotal.WithLabelValues(string(d.Type)).Inc()
		logger.WithJobID(d.ID).Info().
			Str("type", string(d.Type)).
			Str("action", d.Action).
			Msg("Job recovered")
		s.notify(notify.SeverityInfo, fmt.Sprintf("Resumed %s", label(d.Type)), d.ID)
	}
	return n, nil
}

// Close kills every live worker without touching persisted state, so a later
// Recover picks the jobs up again. Outstanding handles resolve with ErrClosed.
func (s *Supervisor) Close() {
	s.mu.Lock()
	s.closed = true
	live := make([]*job, 0, len(s.jobs))
	for _, j := range s.jobs {
		live = append(live, j)
	}
	s.jobs = make(map[string]*job)
	s.mu.Unlock()

	for _, j := range live {
		j.mu.Lock()
		j.w.Kill()
		s.release(j.permit)
		j.permit = false
		metrics.ActiveJobs.WithLabelValues(string(j.desc.Type)).Dec()
		j.h.resolve(Outcome{Status: j.desc.Status}, ErrClosed)
		j.mu.Unlock()
	}
	s.wg.Wait()
}

// Get returns the live copy of a job, or the stored one once it ended.
func (s *Supervisor) Get(ctx context.Context, id string) (*interfaces.Descriptor, error) {
	s.mu.Lock()
	if j, ok := s.jobs[id]; ok {
		d := j.desc.Clone()
		s.mu.Unlock()
		return d, nil
	}
	s.mu.Unlock()
	return s.store.GetByID(ctx, id)
}

// Handle returns the handle of a job started or recovered by this supervisor.
func (s *Supervisor) Handle(id string) (*Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handles[id]
	return h, ok
}

// ActiveByType lists pending and running jobs of one category, oldest first.
func (s *Supervisor) ActiveByType(jobType interfaces.JobType) []*interfaces.Descriptor {
	return s.active(jobType)
}

// ListActive lists every pending and running job, oldest first.
func (s *Supervisor) ListActive() []*interfaces.Descriptor {
	return s.active("")
}

func (s *Supervisor) active(jobType interfaces.JobType) []*interfaces.Descriptor {
	s.mu.Lock()
	out := make([]*interfaces.Descriptor, 0, len(s.jobs))
	for _, j := range s.jobs {
		if jobType == "" || j.desc.Type == jobType {
			out = append(out, j.desc.Clone())
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, k int) bool {
		if out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].ID < out[k].ID
		}
		return out[i].CreatedAt.Before(out[k].CreatedAt)
	})
	return out
}

// ResultsByType reads the result collection of one category.
func (s *Supervisor) ResultsByType(ctx context.Context, jobType interfaces.JobType) ([]*interfaces.ResultRecord, error) {
	if !jobType.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, jobType)
	}
	return s.store.GetResults(ctx, jobType)
}

func (s *Supervisor) Notifications() []notify.Notification {
	return s.notes.List()
}

// BadgeCount is the number of live jobs of a category plus live error
// notifications.
func (s *Supervisor) BadgeCount(jobType interfaces.JobType) int {
	return len(s.ActiveByType(jobType)) + s.notes.ErrorCount()
}

func (s *Supervisor) liveJobs() []*job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	return out
}

// persist performs the read-modify-write of one descriptor. Failures are
// logged only; the in-memory copy stays authoritative for live jobs. A stored
// terminal status is never replaced by a different one.
func (s *Supervisor) persist(ctx context.Context, id string, mutate func(*interfaces.Descriptor)) {
	log := logger.WithJobID(id)
	d, err := s.store.GetByID(ctx, id)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load job for update")
		return
	}
	stored := d.Status
	mutate(d)
	if stored.IsTerminal() && d.Status != stored {
		log.Warn().
			Str("stored", string(stored)).
			Str("status", string(d.Status)).
			Msg("Job already ended in store, skipping update")
		return
	}
	if err := s.store.Put(ctx, d); err != nil {
		log.Error().Err(err).Str("status", string(d.Status)).Msg("Failed to persist job")
	}
}

func (s *Supervisor) notify(severity notify.Severity, message, processID string) {
	n := s.notes.Add(severity, message, processID)
	s.bus.Publish(events.Event{Kind: events.KindNotification, JobID: processID, Notification: &n})
}

func (s *Supervisor) publishJob(d *interfaces.Descriptor) {
	s.bus.Publish(events.Event{Kind: events.KindJobUpdated, JobID: d.ID, Job: d})
}

func (s *Supervisor) release(permit bool) {
	if permit && s.sem != nil {
		s.sem.Release(1)
	}
}
