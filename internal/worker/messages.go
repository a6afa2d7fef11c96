package worker

import (
	"encoding/json"

	"github.com/mtr002/docjobs/internal/interfaces"
)

// Command is sent from the supervisor to a worker
type Command interface {
	isCommand()
}

// Assignment starts the single remote call a worker performs
type Assignment struct {
	Action    string          `json:"action"`
	Payload   json.RawMessage `json:"payload"`
	ProcessID string          `json:"processId"`
}

// Terminate asks the worker to stop; nothing is emitted afterwards
type Terminate struct{}

func (Assignment) isCommand() {}
func (Terminate) isCommand()  {}

// MessageType is the wire tag of a worker message
type MessageType string

const (
	TypeStatusUpdate MessageType = "STATUS_UPDATE"
	TypeResult       MessageType = "RESULT"
	TypeError        MessageType = "ERROR"
)

// Message is posted by a worker. The set of implementations is closed:
// StatusUpdate, Result and Error.
type Message interface {
	ProcessID() string
	Type() MessageType
	isMessage()
}

type StatusUpdate struct {
	ID      string
	Status  interfaces.JobStatus
	Message string
}

type Result struct {
	ID     string
	Result json.RawMessage
}

type Error struct {
	ID  string
	Err error
}

func (m StatusUpdate) ProcessID() string { return m.ID }
func (m Result) ProcessID() string       { return m.ID }
func (m Error) ProcessID() string        { return m.ID }

func (StatusUpdate) Type() MessageType { return TypeStatusUpdate }
func (Result) Type() MessageType       { return TypeResult }
func (Error) Type() MessageType        { return TypeError }

func (StatusUpdate) isMessage() {}
func (Result) isMessage()       {}
func (Error) isMessage()        {}

// Envelope is the JSON form of a Message:
// {type, processId, status?, message?, result?, error?}
type Envelope struct {
	Type      MessageType          `json:"type"`
	ProcessID string               `json:"processId"`
	Status    interfaces.JobStatus `json:"status,omitempty"`
	Message   string               `json:"message,omitempty"`
	Result    json.RawMessage      `json:"result,omitempty"`
	Error     string               `json:"error,omitempty"`
}

// Wrap converts a message to its wire envelope.
func Wrap(m Message) Envelope {
	env := Envelope{Type: m.Type(), ProcessID: m.ProcessID()}
	switch m := m.(type) {
	case StatusUpdate:
		env.Status = m.Status
		env.Message = m.Message
	case Result:
		env.Result = m.Result
	case Error:
		if m.Err != nil {
			env.Error = m.Err.Error()
		}
	}
	return env
}

func (m StatusUpdate) MarshalJSON() ([]byte, error) { return json.Marshal(Wrap(m)) }
func (m Result) MarshalJSON() ([]byte, error)       { return json.Marshal(Wrap(m)) }
func (m Error) MarshalJSON() ([]byte, error)        { return json.Marshal(Wrap(m)) }
