package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mtr002/docjobs/internal/interfaces"
	"github.com/mtr002/docjobs/internal/remote"
)

// QueryIntelligenceRequest asks a question across one or more documents.
type QueryIntelligenceRequest struct {
	DocumentIDs []string `json:"documentIds"`
	Question    string   `json:"question"`
	Model       string   `json:"model,omitempty"`
}

// StructuredSummaryRequest summarizes one document into named sections.
type StructuredSummaryRequest struct {
	DocumentID string   `json:"documentId"`
	Sections   []string `json:"sections,omitempty"`
	Model      string   `json:"model,omitempty"`
}

// ReviewArticleRequest drafts a review article from several documents.
type ReviewArticleRequest struct {
	DocumentIDs []string `json:"documentIds"`
	Topic       string   `json:"topic"`
	Model       string   `json:"model,omitempty"`
}

// BatchSummaryRequest summarizes every document independently.
type BatchSummaryRequest struct {
	DocumentIDs []string `json:"documentIds"`
	Model       string   `json:"model,omitempty"`
}

// DefaultAction is the action started for each category when none is given.
var DefaultAction = map[interfaces.JobType]string{
	interfaces.TypeQueryIntelligence: remote.ActionQueryIntelligence,
	interfaces.TypeStructuredSummary: remote.ActionStructuredSummary,
	interfaces.TypeReviewArticle:     remote.ActionReviewArticle,
	interfaces.TypeBatchSummary:      remote.ActionBatchSummary,
}

func (s *Supervisor) StartQueryIntelligence(ctx context.Context, req QueryIntelligenceRequest) (*Handle, error) {
	if strings.TrimSpace(req.Question) == "" {
		return nil, fmt.Errorf("%w: question is required", ErrInvalidPayload)
	}
	if len(req.DocumentIDs) == 0 {
		return nil, fmt.Errorf("%w: at least one document is required", ErrInvalidPayload)
	}
	return s.startTyped(ctx, interfaces.TypeQueryIntelligence, req)
}

func (s *Supervisor) StartStructuredSummary(ctx context.Context, req StructuredSummaryRequest) (*Handle, error) {
	if req.DocumentID == "" {
		return nil, fmt.Errorf("%w: documentId is required", ErrInvalidPayload)
	}
	return s.startTyped(ctx, interfaces.TypeStructuredSummary, req)
}

func (s *Supervisor) StartReviewArticle(ctx context.Context, req ReviewArticleRequest) (*Handle, error) {
	if strings.TrimSpace(req.Topic) == "" {
		return nil, fmt.Errorf("%w: topic is required", ErrInvalidPayload)
	}
	if len(req.DocumentIDs) == 0 {
		return nil, fmt.Errorf("%w: at least one document is required", ErrInvalidPayload)
	}
	return s.startTyped(ctx, interfaces.TypeReviewArticle, req)
}

func (s *Supervisor) StartBatchSummary(ctx context.Context, req BatchSummaryRequest) (*Handle, error) {
	if len(req.DocumentIDs) == 0 {
		return nil, fmt.Errorf("%w: at least one document is required", ErrInvalidPayload)
	}
	return s.startTyped(ctx, interfaces.TypeBatchSummary, req)
}

func (s *Supervisor) startTyped(ctx context.Context, jobType interfaces.JobType, req any) (*Handle, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return s.Start(ctx, jobType, DefaultAction[jobType], payload)
}

// label renders a job type for notifications, e.g. "query intelligence".
func label(t interfaces.JobType) string {
	return strings.ReplaceAll(string(t), "-", " ")
}

func capitalized(t interfaces.JobType) string {
	l := label(t)
	if l == "" {
		return l
	}
	return strings.ToUpper(l[:1]) + l[1:]
}
