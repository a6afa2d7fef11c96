package nats

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/mtr002/docjobs/internal/interfaces"
	"github.com/mtr002/docjobs/internal/jobs"
	"github.com/mtr002/docjobs/internal/logger"
)

// Starter is the part of jobs.Supervisor a submission needs.
type Starter interface {
	Start(ctx context.Context, jobType interfaces.JobType, action string, payload json.RawMessage) (*jobs.Handle, error)
}

// Server starts a job for every message on JobSubmitSubject.
type Server struct {
	conn    *nats.Conn
	sub     *nats.Subscription
	starter Starter
}

func NewServer(url string, starter Starter) (*Server, error) {
	if url == "" {
		url = nats.DefaultURL
	}

	conn, err := nats.Connect(url, nats.Name("docjobs-server"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &Server{
		conn:    conn,
		starter: starter,
	}, nil
}

// Conn exposes the connection so the event forwarder can share it.
func (s *Server) Conn() *nats.Conn {
	return s.conn
}

func (s *Server) Subscribe() error {
	sub, err := s.conn.Subscribe(JobSubmitSubject, func(msg *nats.Msg) {
		reply := s.submit(context.Background(), msg.Data)
		if msg.Reply == "" {
			return
		}
		data, err := json.Marshal(reply)
		if err != nil {
			logger.Logger.Error().Err(err).Msg("Failed to marshal submission reply")
			return
		}
		if err := msg.Respond(data); err != nil {
			logger.Logger.Warn().Err(err).Msg("Failed to reply to submission")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to NATS: %w", err)
	}

	s.sub = sub
	return nil
}

func (s *Server) submit(ctx context.Context, data []byte) JobSubmissionReply {
	var jobMsg JobSubmissionMessage
	if err := json.Unmarshal(data, &jobMsg); err != nil {
		logger.Logger.Warn().Err(err).Msg("Invalid job submission message")
		return JobSubmissionReply{Error: "invalid message: " + err.Error()}
	}

	log := logger.WithCorrelationID(jobMsg.CorrelationID)
	action := jobMsg.Action
	if action == "" {
		action = jobs.DefaultAction[jobMsg.Type]
	}

	h, err := s.starter.Start(ctx, jobMsg.Type, action, jobMsg.Payload)
	if err != nil {
		log.Warn().Err(err).Str("type", string(jobMsg.Type)).Msg("Failed to start job from NATS")
		return JobSubmissionReply{Error: err.Error()}
	}

	log.Info().Str("job_id", h.ID()).Str("type", string(jobMsg.Type)).Msg("Job submitted via NATS")
	return JobSubmissionReply{JobID: h.ID()}
}

func (s *Server) Close() {
	if s.sub != nil {
		_ = s.sub.Unsubscribe()
	}
	if s.conn != nil {
		s.conn.Close()
	}
}
