package server

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/database"
	"github.com/fyrsmithlabs/ragd/internal/queue"
	"github.com/fyrsmithlabs/ragd/internal/search"
)

const healthProbeTimeout = 5 * time.Second

// SearchRequest is the request body for POST /search.
type SearchRequest struct {
	Query  string `json:"query"`
	TopK   int    `json:"top_k"`
	Tenant string `json:"tenant"`
	UserID string `json:"user_id"`
}

func (s *Server) handleSearch(c echo.Context) error {
	var req SearchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query field is required")
	}
	if req.Tenant == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "tenant field is required")
	}

	resp, err := s.deps.Searcher.Search(c.Request().Context(), search.Request{
		Query:     req.Query,
		TopK:      req.TopK,
		OrgID:     req.Tenant,
		UserID:    req.UserID,
		IPAddress: c.RealIP(),
		UserAgent: c.Request().UserAgent(),
	})
	if errors.Is(err, search.ErrEmptyQuery) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err != nil {
		s.logger.Error("search failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, "search failed")
	}
	return c.JSON(http.StatusOK, resp)
}

// ChatRequest is the request body for POST /chat. The question may
// arrive under query, message, or prompt; query wins when several are
// set.
type ChatRequest struct {
	Query   string `json:"query"`
	Message string `json:"message,omitempty"`
	Prompt  string `json:"prompt,omitempty"`
	Context string `json:"context,omitempty"`
	Tenant  string `json:"tenant"`
	UserID  string `json:"user_id"`
	Role    string `json:"role,omitempty"`
}

func (r *ChatRequest) question() string {
	if r.Query != "" {
		return r.Query
	}
	if r.Message != "" {
		return r.Message
	}
	return r.Prompt
}

func (s *Server) handleChat(c echo.Context) error {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	query := req.question()
	if query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query field is required")
	}
	if req.Tenant == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "tenant field is required")
	}

	resp, err := s.deps.Chatter.Answer(c.Request().Context(), search.ChatRequest{
		Query:     query,
		Context:   req.Context,
		OrgID:     req.Tenant,
		UserID:    req.UserID,
		Role:      req.Role,
		IPAddress: c.RealIP(),
		UserAgent: c.Request().UserAgent(),
	})
	if errors.Is(err, search.ErrEmptyQuery) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err != nil {
		s.logger.Error("chat failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, "chat failed")
	}
	return c.JSON(http.StatusOK, resp)
}

// EmbedRequest is the request body for POST /embed.
type EmbedRequest struct {
	ID   string `json:"id,omitempty"`
	Text string `json:"text"`
}

// EmbedResponse is the response body for POST /embed.
type EmbedResponse struct {
	ID        string    `json:"id,omitempty"`
	Embedding []float32 `json:"embedding"`
	Dimension int       `json:"dimension"`
}

func (s *Server) handleEmbed(c echo.Context) error {
	var req EmbedRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Text == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "text field is required")
	}

	embedding, err := s.deps.Embedder.EmbedQuery(c.Request().Context(), req.Text)
	if err != nil {
		s.logger.Error("embed failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, "embedding failed")
	}
	return c.JSON(http.StatusOK, EmbedResponse{
		ID:        req.ID,
		Embedding: embedding,
		Dimension: len(embedding),
	})
}

// IngestRequest is the request body for POST /ingest.
type IngestRequest struct {
	OrgID        string `json:"org_id"`
	Type         string `json:"type"`
	Key          string `json:"key,omitempty"`
	URL          string `json:"url,omitempty"`
	Department   string `json:"department,omitempty"`
	UserCategory string `json:"user_category,omitempty"`
	Filename     string `json:"filename,omitempty"`
	DocumentID   uint   `json:"document_id,omitempty"`
}

// IngestResponse is the response body for POST /ingest.
type IngestResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleIngest(c echo.Context) error {
	var req IngestRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.OrgID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "org_id field is required")
	}

	job := &queue.Job{
		Type:         req.Type,
		Key:          req.Key,
		URL:          req.URL,
		OrgID:        req.OrgID,
		Department:   req.Department,
		UserCategory: req.UserCategory,
		Filename:     req.Filename,
		DocumentID:   req.DocumentID,
	}
	if err := job.Validate(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := c.Request().Context()
	s.recordJob(ctx, job)
	if err := s.deps.Queue.Enqueue(ctx, job); err != nil {
		s.logger.Error("ingest enqueue failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusServiceUnavailable, "queue unavailable")
	}
	return c.JSON(http.StatusAccepted, IngestResponse{Status: "queued"})
}

// recordJob mirrors an accepted job into processing_jobs and stamps
// the row id onto the payload so the worker can close the row out. A
// failed insert is not fatal; the job still runs.
func (s *Server) recordJob(ctx context.Context, job *queue.Job) {
	if s.deps.Jobs == nil {
		return
	}
	data, err := json.Marshal(job)
	if err != nil {
		s.logger.Warn("job payload not serializable", zap.Error(err))
		return
	}
	row := &database.ProcessingJob{JobData: string(data)}
	if err := s.deps.Jobs.CreateJob(ctx, row); err != nil {
		s.logger.Warn("job row insert failed", zap.Error(err))
		return
	}
	job.JobID = row.ID
}

// ProcessBatchRequest is the request body for POST /process-batch.
type ProcessBatchRequest struct {
	OrgID     string `json:"org_id"`
	BatchSize int    `json:"batch_size"`
}

// ProcessBatchResponse is the response body for POST /process-batch.
type ProcessBatchResponse struct {
	Queued int `json:"queued"`
}

// handleProcessBatch re-enqueues pending documents for an
// organization, draining stale uploads whose jobs were lost.
func (s *Server) handleProcessBatch(c echo.Context) error {
	var req ProcessBatchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.OrgID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "org_id field is required")
	}

	ctx := c.Request().Context()
	docs, err := s.deps.Pending.PendingDocuments(ctx, req.OrgID, req.BatchSize)
	if err != nil {
		s.logger.Error("pending document lookup failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "pending lookup failed")
	}

	queued := 0
	for _, doc := range docs {
		job := &queue.Job{
			Type:       queue.TypeFile,
			Key:        doc.FileKey,
			OrgID:      doc.OrgID,
			Department: doc.Department,
			Filename:   doc.Filename,
			DocumentID: doc.ID,
		}
		s.recordJob(ctx, job)
		if err := s.deps.Queue.Enqueue(ctx, job); err != nil {
			s.logger.Warn("re-enqueue failed",
				zap.String("file_key", doc.FileKey), zap.Error(err))
			continue
		}
		queued++
	}
	return c.JSON(http.StatusOK, ProcessBatchResponse{Queued: queued})
}

// ProcessingStatusResponse is the response body for
// GET /processing-status.
type ProcessingStatusResponse struct {
	OrgID              string  `json:"org_id"`
	TotalDocuments     int64   `json:"total_documents"`
	Pending            int64   `json:"pending"`
	Processed          int64   `json:"processed"`
	ProgressPercentage float64 `json:"progress_percentage"`
}

// handleProcessingStatus reports per-status document counts for one
// organization so callers can track ingestion progress.
func (s *Server) handleProcessingStatus(c echo.Context) error {
	orgID := c.QueryParam("org_id")
	if orgID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "org_id query parameter is required")
	}

	counts, err := s.deps.Status.DocumentStatusCounts(c.Request().Context(), orgID)
	if err != nil {
		s.logger.Error("status count failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "status lookup failed")
	}

	var total int64
	for _, n := range counts {
		total += n
	}
	resp := ProcessingStatusResponse{
		OrgID:          orgID,
		TotalDocuments: total,
		Pending:        counts[database.StatusPending],
		Processed:      counts[database.StatusProcessed],
	}
	if total > 0 {
		pct := float64(resp.Processed) / float64(total) * 100
		resp.ProgressPercentage = math.Round(pct*100) / 100
	}
	return c.JSON(http.StatusOK, resp)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status       string          `json:"status"`
	Dependencies map[string]bool `json:"dependencies"`
}

// handleHealth probes every registered dependency. Any failing probe
// degrades the overall status and the response code.
func (s *Server) handleHealth(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), healthProbeTimeout)
	defer cancel()

	resp := HealthResponse{Status: "ok", Dependencies: make(map[string]bool)}
	code := http.StatusOK
	for name, check := range s.deps.HealthChecks {
		healthy := check(ctx)
		resp.Dependencies[name] = healthy
		if !healthy {
			resp.Status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}
	return c.JSON(code, resp)
}
