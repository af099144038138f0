package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/audit"
	"github.com/fyrsmithlabs/ragd/internal/privacy"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

var (
	// ErrEmptyQuery indicates an empty query, rejected without retry.
	ErrEmptyQuery = errors.New("query cannot be empty")

	// ErrEmbeddingFailed indicates the query could not be embedded;
	// terminal for the request, still audited.
	ErrEmbeddingFailed = errors.New("query embedding failed")
)

const (
	defaultTopK = 5

	// poolFactor oversamples neighbors so the perturber has an
	// overflow tail to swap distractors from.
	poolFactor = 2
)

// Embedder embeds queries with the process-wide pinned model.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// VectorSearcher queries a tenant's collection, satisfied by
// *vectorstore.Router.
type VectorSearcher interface {
	Query(ctx context.Context, orgID string, embedding []float32, topK int) ([]vectorstore.SearchResult, error)
}

// Recorder is the audit boundary, satisfied by *audit.Logger.
type Recorder interface {
	Record(ctx context.Context, entry audit.Entry)
}

// Request is one search call.
type Request struct {
	Query     string
	TopK      int
	OrgID     string
	UserID    string
	IPAddress string
	UserAgent string
}

// Result is one scored match.
type Result struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Score    float64           `json:"score"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Response is a completed search.
type Response struct {
	Results   []Result `json:"results"`
	QueryHash string   `json:"query_hash"`
	Duration  string   `json:"duration"`
}

// Service runs the retrieval pipeline.
type Service struct {
	redactor  *privacy.Redactor
	embedder  Embedder
	vectors   VectorSearcher
	perturber *Perturber
	auditor   Recorder
	salt      string
	logger    *zap.Logger
}

// NewService creates a search service.
func NewService(redactor *privacy.Redactor, embedder Embedder, vectors VectorSearcher, perturber *Perturber, auditor Recorder, salt string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		redactor:  redactor,
		embedder:  embedder,
		vectors:   vectors,
		perturber: perturber,
		auditor:   auditor,
		salt:      salt,
		logger:    logger,
	}
}

// Search redacts and hashes the query, embeds it, fetches the tenant's
// nearest neighbors, perturbs the scores, and audits the call. Raw
// query text never reaches the audit trail; only the redacted form and
// the salted hash do.
func (s *Service) Search(ctx context.Context, req Request) (*Response, error) {
	if req.Query == "" {
		return nil, ErrEmptyQuery
	}
	if req.TopK <= 0 {
		req.TopK = defaultTopK
	}

	start := time.Now()
	redacted := s.redactor.Redact(req.Query)
	queryHash := privacy.HashQuery(s.salt, req.Query)

	embedding, err := s.embedder.EmbedQuery(ctx, redacted)
	if err != nil {
		s.audit(ctx, req, audit.ActionSearch, redacted, queryHash, nil, "embedding_failed")
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}

	matches, err := s.vectors.Query(ctx, req.OrgID, embedding, req.TopK*poolFactor)
	if err != nil {
		s.audit(ctx, req, audit.ActionSearch, redacted, queryHash, nil, "vector_query_failed")
		return nil, fmt.Errorf("querying vectors: %w", err)
	}

	results := make([]Result, len(matches))
	for i, m := range matches {
		results[i] = Result{
			ID:       m.ID,
			Content:  m.Content,
			Score:    similarityToScore(m.Similarity),
			Metadata: m.Metadata,
		}
	}
	results = s.perturber.Perturb(results, req.TopK)

	s.audit(ctx, req, audit.ActionSearch, redacted, queryHash, results, "ok")

	s.logger.Debug("search completed",
		zap.String("org_id", req.OrgID),
		zap.Int("results", len(results)),
		zap.Duration("duration", time.Since(start)),
	)

	return &Response{
		Results:   results,
		QueryHash: queryHash,
		Duration:  time.Since(start).String(),
	}, nil
}

// similarityToScore maps cosine similarity onto (0,1] via the distance
// form score = 1/(1+distance), distance = 1-similarity. Monotonic, so
// relative ranking is preserved before perturbation.
func similarityToScore(similarity float32) float64 {
	distance := 1 - float64(similarity)
	if distance < 0 {
		distance = 0
	}
	return 1 / (1 + distance)
}

func (s *Service) audit(ctx context.Context, req Request, action, redacted, queryHash string, results []Result, status string) {
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ID
	}
	details := map[string]any{
		"query":        redacted,
		"query_hash":   queryHash,
		"result_count": len(results),
		"result_ids":   ids,
		"status":       status,
	}
	if types := s.redactor.PIITypes(req.Query); len(types) > 0 {
		details["pii_types"] = types
	}
	s.auditor.Record(ctx, audit.Entry{
		UserID:       req.UserID,
		Action:       action,
		ResourceType: "collection",
		ResourceID:   req.OrgID,
		Details:      details,
		IPAddress:    req.IPAddress,
		UserAgent:    req.UserAgent,
	})
}
