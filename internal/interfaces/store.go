package interfaces

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// JobStatus represents the current state of a job
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusRunning    JobStatus = "running"
	StatusCompleted  JobStatus = "completed"
	StatusError      JobStatus = "error"
	StatusCancelled  JobStatus = "cancelled"
	StatusTerminated JobStatus = "terminated"
)

// IsTerminal reports whether no further transition is accepted from s.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusError, StatusCancelled, StatusTerminated:
		return true
	}
	return false
}

// IsActive reports whether s is pending or running.
func (s JobStatus) IsActive() bool {
	return s == StatusPending || s == StatusRunning
}

// CanTransition reports whether the state machine allows from -> to.
// running -> running is the progress self-loop.
func CanTransition(from, to JobStatus) bool {
	switch from {
	case StatusPending:
		return to == StatusRunning || to == StatusCancelled || to == StatusTerminated
	case StatusRunning:
		return to == StatusRunning || to.IsTerminal()
	}
	return false
}

// JobType is one of the fixed job categories
type JobType string

const (
	TypeQueryIntelligence JobType = "query-intelligence"
	TypeStructuredSummary JobType = "structured-summary"
	TypeReviewArticle     JobType = "review-article"
	TypeBatchSummary      JobType = "batch-summary"
)

// JobTypes lists every known category in a stable order.
var JobTypes = []JobType{
	TypeQueryIntelligence,
	TypeStructuredSummary,
	TypeReviewArticle,
	TypeBatchSummary,
}

// Valid reports whether t is a known category.
func (t JobType) Valid() bool {
	for _, known := range JobTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ResultCollection returns the name of the collection holding results of t.
func (t JobType) ResultCollection() string {
	return "results:" + string(t)
}

// ProcessCollection is the collection holding job descriptors.
const ProcessCollection = "processes"

// Descriptor is the persisted record of a background job
type Descriptor struct {
	ID          string          `json:"id"`
	Type        JobType         `json:"type"`
	Status      JobStatus       `json:"status"`
	Action      string          `json:"action"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Message     string          `json:"message,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"timestamp"`
	LastUpdated time.Time       `json:"lastUpdated"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
}

// String returns a string representation of the job
func (d *Descriptor) String() string {
	return fmt.Sprintf("Job{ID: %s, Type: %s, Status: %s, Action: %s}",
		d.ID, d.Type, d.Status, d.Action)
}

// Clone returns a deep copy so callers never share payload buffers.
func (d *Descriptor) Clone() *Descriptor {
	if d == nil {
		return nil
	}
	c := *d
	c.Payload = cloneRaw(d.Payload)
	c.Result = cloneRaw(d.Result)
	if d.CompletedAt != nil {
		t := *d.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// ResultRecord is an entry of a category result collection, keyed by job id
type ResultRecord struct {
	ID        string          `json:"id"`
	Type      JobType         `json:"type"`
	Result    json.RawMessage `json:"result"`
	Timestamp time.Time       `json:"timestamp"`
}

// Clone returns a deep copy of r.
func (r *ResultRecord) Clone() *ResultRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.Result = cloneRaw(r.Result)
	return &c
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}

// ErrNotFound is returned by stores when a record does not exist.
var ErrNotFound = errors.New("not found")

// Store is the durable keyed storage behind the supervisor.
//
// Writes are full replaces. The store does not lock across operations, so two
// read-modify-write sequences on the same id may lose one update.
type Store interface {
	Init(ctx context.Context) error
	Put(ctx context.Context, d *Descriptor) error
	GetByID(ctx context.Context, id string) (*Descriptor, error)
	GetAll(ctx context.Context) ([]*Descriptor, error)
	Delete(ctx context.Context, id string) error
	// QueryActive returns pending and running descriptors; an empty jobType
	// matches every category.
	QueryActive(ctx context.Context, jobType JobType) ([]*Descriptor, error)

	PutResult(ctx context.Context, r *ResultRecord) error
	GetResults(ctx context.Context, jobType JobType) ([]*ResultRecord, error)
	DeleteResult(ctx context.Context, jobType JobType, id string) error

	// Clear empties the process collection and every result collection.
	Clear(ctx context.Context) error
	Close() error
}
