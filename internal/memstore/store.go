// Package memstore is an in-process implementation of interfaces.Store.
// It does not survive a restart and is used for tests and the "memory" driver.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mtr002/docjobs/internal/interfaces"
)

type Store struct {
	mu        sync.RWMutex
	processes map[string]*interfaces.Descriptor
	results   map[interfaces.JobType]map[string]*interfaces.ResultRecord
	now       func() time.Time
}

var _ interfaces.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used to stamp lastUpdated.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(opts ...Option) *Store {
	s := &Store{now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	s.reset()
	return s
}

func (s *Store) reset() {
	s.processes = make(map[string]*interfaces.Descriptor)
	s.results = make(map[interfaces.JobType]map[string]*interfaces.ResultRecord)
}

func (s *Store) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.processes == nil {
		s.reset()
	}
	return nil
}

func (s *Store) Put(_ context.Context, d *interfaces.Descriptor) error {
	if d == nil || d.ID == "" {
		return fmt.Errorf("descriptor id is required")
	}
	d.LastUpdated = s.now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.processes[d.ID] = d.Clone()
	return nil
}

func (s *Store) GetByID(_ context.Context, id string) (*interfaces.Descriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.processes[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, interfaces.ErrNotFound)
	}
	return d.Clone(), nil
}

func (s *Store) GetAll(_ context.Context) ([]*interfaces.Descriptor, error) {
	return s.filter(func(*interfaces.Descriptor) bool { return true }), nil
}

func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.processes, id)
	return nil
}

func (s *Store) QueryActive(_ context.Context, jobType interfaces.JobType) ([]*interfaces.Descriptor, error) {
	return s.filter(func(d *interfaces.Descriptor) bool {
		return d.Status.IsActive() && (jobType == "" || d.Type == jobType)
	}), nil
}

func (s *Store) filter(keep func(*interfaces.Descriptor) bool) []*interfaces.Descriptor {
	s.mu.RLock()
	out := make([]*interfaces.Descriptor, 0, len(s.processes))
	for _, d := range s.processes {
		if keep(d) {
			out = append(out, d.Clone())
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *Store) PutResult(_ context.Context, r *interfaces.ResultRecord) error {
	if r == nil || r.ID == "" || r.Type == "" {
		return fmt.Errorf("result id and type are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	coll, ok := s.results[r.Type]
	if !ok {
		coll = make(map[string]*interfaces.ResultRecord)
		s.results[r.Type] = coll
	}
	coll[r.ID] = r.Clone()
	return nil
}

func (s *Store) GetResults(_ context.Context, jobType interfaces.JobType) ([]*interfaces.ResultRecord, error) {
	s.mu.RLock()
	out := make([]*interfaces.ResultRecord, 0, len(s.results[jobType]))
	for _, r := range s.results[jobType] {
		out = append(out, r.Clone())
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *Store) DeleteResult(_ context.Context, jobType interfaces.JobType, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.results[jobType], id)
	return nil
}

func (s *Store) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
	return nil
}

func (s *Store) Close() error {
	return nil
}
