package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

type Client struct {
	conn *nats.Conn
}

func NewClient(url string) (*Client, error) {
	if url == "" {
		url = nats.DefaultURL
	}

	conn, err := nats.Connect(url, nats.Name("docjobs-client"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &Client{conn: conn}, nil
}

// PublishJobSubmission fires a submission without waiting for the job id.
func (c *Client) PublishJobSubmission(msg *JobSubmissionMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal job submission message: %w", err)
	}

	if err := c.conn.Publish(JobSubmitSubject, data); err != nil {
		return fmt.Errorf("failed to publish job submission: %w", err)
	}

	return nil
}

// SubmitJob sends a submission and waits for the server to reply with the id.
func (c *Client) SubmitJob(ctx context.Context, msg *JobSubmissionMessage) (string, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job submission message: %w", err)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
	}

	resp, err := c.conn.RequestWithContext(ctx, JobSubmitSubject, data)
	if err != nil {
		return "", fmt.Errorf("failed to submit job: %w", err)
	}
	return decodeReply(resp.Data)
}

func decodeReply(data []byte) (string, error) {
	var reply JobSubmissionReply
	if err := json.Unmarshal(data, &reply); err != nil {
		return "", fmt.Errorf("failed to decode submission reply: %w", err)
	}
	if reply.Error != "" {
		return "", fmt.Errorf("job rejected: %s", reply.Error)
	}
	return reply.JobID, nil
}

func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}
