package nats

import (
	"encoding/json"

	"github.com/mtr002/docjobs/internal/interfaces"
)

const (
	JobSubmitSubject   = "jobs.submit"
	EventSubjectPrefix = "jobs.events."
)

// JobSubmissionMessage asks a server to start a job. Action falls back to the
// default action of Type.
type JobSubmissionMessage struct {
	Type          interfaces.JobType `json:"type"`
	Action        string             `json:"action,omitempty"`
	Payload       json.RawMessage    `json:"payload,omitempty"`
	CorrelationID string             `json:"correlation_id,omitempty"`
}

// JobSubmissionReply answers a submission sent with a reply subject.
type JobSubmissionReply struct {
	JobID string `json:"job_id,omitempty"`
	Error string `json:"error,omitempty"`
}
