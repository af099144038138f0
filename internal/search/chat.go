package search

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/audit"
	"github.com/fyrsmithlabs/ragd/internal/privacy"
)

const chatContextTopK = 3

// Generator produces text from a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// ChatRequest is one chat call. Context, when set, replaces the
// retrieval step with caller-provided grounding text.
type ChatRequest struct {
	Query     string
	Context   string
	OrgID     string
	UserID    string
	Role      string
	IPAddress string
	UserAgent string
}

// ChatResponse is a completed chat turn.
type ChatResponse struct {
	Answer  string   `json:"answer"`
	Sources []Result `json:"sources,omitempty"`
	Blocked bool     `json:"blocked,omitempty"`
}

// Chat answers a query grounded in the tenant's documents. Queries
// matching a jailbreak signature are refused before the generation
// backend is ever invoked; generated text passes through the leakage
// filter and redaction on the way out.
type Chat struct {
	guard     *privacy.Guard
	search    *Service
	generator Generator
	auditor   Recorder
	logger    *zap.Logger
}

// NewChat creates a chat pipeline over the search service.
func NewChat(guard *privacy.Guard, search *Service, generator Generator, auditor Recorder, logger *zap.Logger) *Chat {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chat{
		guard:     guard,
		search:    search,
		generator: generator,
		auditor:   auditor,
		logger:    logger,
	}
}

// Answer runs one chat turn.
func (c *Chat) Answer(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if req.Query == "" {
		return nil, ErrEmptyQuery
	}

	if ok, refusal := c.guard.CheckQuery(req.Query); !ok {
		c.auditChat(ctx, req, "blocked", 0)
		return &ChatResponse{Answer: refusal, Blocked: true}, nil
	}

	grounding := req.Context
	var sources []Result
	if grounding == "" {
		resp, err := c.search.Search(ctx, Request{
			Query:     req.Query,
			TopK:      chatContextTopK,
			OrgID:     req.OrgID,
			UserID:    req.UserID,
			IPAddress: req.IPAddress,
			UserAgent: req.UserAgent,
		})
		if err != nil {
			return nil, err
		}
		sources = resp.Results
		grounding = joinSources(sources)
	}

	prompt := buildPrompt(req.Role, grounding, req.Query)
	generated, err := c.generator.Generate(ctx, prompt)
	if err != nil {
		c.auditChat(ctx, req, "generation_failed", len(sources))
		return nil, fmt.Errorf("generating answer: %w", err)
	}

	answer := c.guard.FilterResponse(generated)
	c.auditChat(ctx, req, "ok", len(sources))

	return &ChatResponse{Answer: answer, Sources: sources}, nil
}

func joinSources(sources []Result) string {
	parts := make([]string, len(sources))
	for i, s := range sources {
		parts[i] = s.Content
	}
	return strings.Join(parts, "\n\n")
}

// buildPrompt assembles the generation prompt. The role directive is
// advisory scope text only; actual isolation happens upstream via the
// tenant collection the context was retrieved from.
func buildPrompt(role, grounding, query string) string {
	var b strings.Builder
	b.WriteString(privacy.RoleDirective(role))
	b.WriteString("\n\nContext:\n")
	if grounding == "" {
		b.WriteString("(no matching documents)")
	} else {
		b.WriteString(grounding)
	}
	b.WriteString("\n\nQuestion: ")
	b.WriteString(query)
	b.WriteString("\nAnswer:")
	return b.String()
}

func (c *Chat) auditChat(ctx context.Context, req ChatRequest, status string, sourceCount int) {
	c.auditor.Record(ctx, audit.Entry{
		UserID:       req.UserID,
		Action:       audit.ActionChat,
		ResourceType: "collection",
		ResourceID:   req.OrgID,
		Details: map[string]any{
			"query_hash":   privacy.HashQuery(c.search.salt, req.Query),
			"status":       status,
			"source_count": sourceCount,
		},
		IPAddress: req.IPAddress,
		UserAgent: req.UserAgent,
	})
}
