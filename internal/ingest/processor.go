package ingest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/audit"
	"github.com/fyrsmithlabs/ragd/internal/database"
	"github.com/fyrsmithlabs/ragd/internal/queue"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

var (
	// ErrNoText indicates a job whose source yielded no usable text.
	ErrNoText = errors.New("no text extracted")

	// ErrAllChunksFailed indicates every chunk in a document failed
	// to embed; nothing was stored.
	ErrAllChunksFailed = errors.New("all chunks failed to embed")
)

const (
	defaultBatchSize  = 10
	defaultPreview    = 500
	embedMaxTries     = 3
	embedInitialDelay = 500 * time.Millisecond
)

// Embedder generates embeddings with the process-wide pinned model.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// BlobFetcher fetches stored document payloads by key.
type BlobFetcher interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// DocumentStore is the document lifecycle boundary, satisfied by
// *database.DB.
type DocumentStore interface {
	DocumentByFileKey(ctx context.Context, fileKey string) (*database.Document, error)
	DocumentByID(ctx context.Context, id uint) (*database.Document, error)
	MarkDocumentProcessed(ctx context.Context, fileKey, preview string, previewBytes int) error
	MarkJobProcessed(ctx context.Context, id uint) error
}

// Recorder records audit entries, satisfied by *audit.Logger.
type Recorder interface {
	Record(ctx context.Context, entry audit.Entry)
}

// VectorWriter stores embedded chunks in a tenant's collection,
// satisfied by *vectorstore.Router.
type VectorWriter interface {
	Add(ctx context.Context, orgID string, docs []vectorstore.Document) error
}

// Config holds ingestion pipeline settings.
type Config struct {
	ChunkSize    int
	ChunkOverlap int
	BatchSize    int
	PreviewBytes int
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.ChunkSize <= 0 {
		c.ChunkSize = defaultChunkSize
	}
	if c.ChunkOverlap <= 0 {
		c.ChunkOverlap = defaultChunkOverlap
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.PreviewBytes <= 0 {
		c.PreviewBytes = defaultPreview
	}
}

// Result reports what one job produced. Skipped counts chunks dropped
// after exhausting embedding retries; a partial success still stores
// and marks the document processed.
type Result struct {
	Chunks   int
	Embedded int
	Skipped  int
}

// Processor runs the per-job pipeline: resolve text, chunk, embed in
// batches, store vectors, mark the document processed. A failure
// before storage leaves the document pending; retries are re-enqueued
// externally.
type Processor struct {
	config   Config
	chunker  *Chunker
	scraper  *Scraper
	embedder Embedder
	blobs    BlobFetcher
	docs     DocumentStore
	vectors  VectorWriter
	auditor  Recorder
	logger   *zap.Logger

	// retryDelay seeds the embedding backoff, shortened in tests.
	retryDelay time.Duration
}

// NewProcessor creates a processor. auditor may be nil, disabling
// audit records for processed jobs.
func NewProcessor(config Config, embedder Embedder, blobs BlobFetcher, docs DocumentStore, vectors VectorWriter, auditor Recorder, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	config.ApplyDefaults()
	return &Processor{
		config:     config,
		chunker:    NewChunker(config.ChunkSize, config.ChunkOverlap, logger),
		scraper:    NewScraper(logger),
		embedder:   embedder,
		blobs:      blobs,
		docs:       docs,
		vectors:    vectors,
		auditor:    auditor,
		logger:     logger,
		retryDelay: embedInitialDelay,
	}
}

// Process executes one job end to end and records the outcome in the
// audit trail, success or failure.
func (p *Processor) Process(ctx context.Context, job *queue.Job) (*Result, error) {
	result, err := p.run(ctx, job)
	p.auditJob(ctx, job, result, err)
	return result, err
}

func (p *Processor) run(ctx context.Context, job *queue.Job) (*Result, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}

	text, filename, err := p.resolveText(ctx, job)
	if err != nil {
		return nil, err
	}

	chunks := p.chunker.Chunk(text)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: job for %s", ErrNoText, filename)
	}

	result, err := p.embedAndStore(ctx, job, filename, chunks)
	if err != nil {
		return nil, err
	}

	if job.Type == queue.TypeFile {
		if err := p.docs.MarkDocumentProcessed(ctx, job.Key, text, p.config.PreviewBytes); err != nil {
			// Vectors are already stored; report but do not undo.
			p.logger.Warn("document status update failed",
				zap.String("file_key", job.Key), zap.Error(err))
		}
	}
	if job.JobID > 0 {
		if err := p.docs.MarkJobProcessed(ctx, job.JobID); err != nil {
			p.logger.Warn("job status update failed",
				zap.Uint("job_id", job.JobID), zap.Error(err))
		}
	}

	p.logger.Info("job processed",
		zap.String("type", job.Type),
		zap.String("org_id", job.OrgID),
		zap.String("filename", filename),
		zap.Int("chunks", result.Chunks),
		zap.Int("embedded", result.Embedded),
		zap.Int("skipped", result.Skipped),
	)
	return result, nil
}

// auditJob records one best-effort audit entry per job outcome. Jobs
// carry no user identity; the record keys on the source instead.
func (p *Processor) auditJob(ctx context.Context, job *queue.Job, result *Result, jobErr error) {
	if p.auditor == nil {
		return
	}

	resourceID := job.Key
	if resourceID == "" {
		resourceID = job.URL
	}
	details := map[string]any{
		"org_id": job.OrgID,
		"type":   job.Type,
	}
	if jobErr != nil {
		details["status"] = "failed"
		details["error"] = jobErr.Error()
	} else {
		details["status"] = "ok"
		details["chunks"] = result.Chunks
		details["embedded"] = result.Embedded
		details["skipped"] = result.Skipped
	}

	p.auditor.Record(ctx, audit.Entry{
		Action:       audit.ActionIngest,
		ResourceType: "document",
		ResourceID:   resourceID,
		Details:      details,
	})
}

// resolveText obtains the raw text for a job based on its type.
func (p *Processor) resolveText(ctx context.Context, job *queue.Job) (text, filename string, err error) {
	switch job.Type {
	case queue.TypeFile:
		return p.resolveFile(ctx, job)
	case queue.TypeWeb:
		page, err := p.scraper.Scrape(ctx, job.URL)
		if err != nil {
			return "", "", err
		}
		return page.Content, page.Title, nil
	case queue.TypeSeedSource:
		url, err := ResolveSeed(job.URL)
		if err != nil {
			return "", "", err
		}
		page, err := p.scraper.Scrape(ctx, url)
		if err != nil {
			return "", "", err
		}
		return page.Content, page.Title, nil
	default:
		return "", "", fmt.Errorf("%w: unknown type %q", queue.ErrInvalidJob, job.Type)
	}
}

// resolveFile fetches the blob by key, falling back to a synthetic
// body reconstructed from stored metadata when the blob is gone. The
// fallback keeps stale jobs making forward progress instead of
// wedging the queue.
func (p *Processor) resolveFile(ctx context.Context, job *queue.Job) (string, string, error) {
	data, fetchErr := p.blobs.Get(ctx, job.Key)
	if fetchErr == nil {
		filename := job.Filename
		if filename == "" {
			filename = job.Key
		}
		return string(data), filename, nil
	}

	p.logger.Warn("blob fetch failed, reconstructing from metadata",
		zap.String("file_key", job.Key), zap.Error(fetchErr))

	doc, err := p.lookupDocument(ctx, job)
	if err != nil {
		return "", "", fmt.Errorf("fetching %s: %w (metadata lookup also failed: %v)", job.Key, fetchErr, err)
	}
	return syntheticBody(doc), doc.Filename, nil
}

func (p *Processor) lookupDocument(ctx context.Context, job *queue.Job) (*database.Document, error) {
	if doc, err := p.docs.DocumentByFileKey(ctx, job.Key); err == nil {
		return doc, nil
	} else if job.DocumentID == 0 {
		return nil, err
	}
	return p.docs.DocumentByID(ctx, job.DocumentID)
}

// syntheticBody renders a document's stored metadata as searchable
// text so the document still surfaces in retrieval.
func syntheticBody(doc *database.Document) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Document: %s\n", doc.Filename)
	if doc.Department != "" {
		fmt.Fprintf(&b, "Department: %s\n", doc.Department)
	}
	if doc.Sensitivity != "" {
		fmt.Fprintf(&b, "Sensitivity: %s\n", doc.Sensitivity)
	}
	if doc.ContentPreview != "" {
		fmt.Fprintf(&b, "Preview: %s\n", doc.ContentPreview)
	}
	fmt.Fprintf(&b, "Uploaded: %s\n", doc.CreatedAt.Format(time.RFC3339))
	return b.String()
}

// embedAndStore embeds chunks in batches and writes each successful
// batch to the tenant's collection. A chunk that exhausts its retries
// is skipped; the job fails only when every chunk failed.
func (p *Processor) embedAndStore(ctx context.Context, job *queue.Job, filename string, chunks []string) (*Result, error) {
	result := &Result{Chunks: len(chunks)}

	for start := 0; start < len(chunks); start += p.config.BatchSize {
		end := start + p.config.BatchSize
		if end > len(chunks) {
			end = len(chunks)
		}

		var batch []vectorstore.Document
		for i, chunk := range chunks[start:end] {
			idx := start + i
			embedding, err := p.embedChunk(ctx, chunk)
			if err != nil {
				result.Skipped++
				p.logger.Warn("chunk embedding failed, skipping",
					zap.String("filename", filename),
					zap.Int("chunk_index", idx),
					zap.Error(err))
				continue
			}
			batch = append(batch, vectorstore.Document{
				ID:        uuid.NewString(),
				Content:   chunk,
				Embedding: embedding,
				Metadata: map[string]string{
					"org_id":        job.OrgID,
					"department":    job.Department,
					"user_category": job.UserCategory,
					"document_id":   strconv.FormatUint(uint64(job.DocumentID), 10),
					"filename":      filename,
					"chunk_index":   strconv.Itoa(idx),
				},
			})
		}
		if len(batch) == 0 {
			continue
		}
		if err := p.vectors.Add(ctx, job.OrgID, batch); err != nil {
			return nil, fmt.Errorf("storing batch: %w", err)
		}
		result.Embedded += len(batch)
	}

	if result.Embedded == 0 {
		return nil, ErrAllChunksFailed
	}
	return result, nil
}

// embedChunk embeds one chunk with bounded exponential-backoff retries.
func (p *Processor) embedChunk(ctx context.Context, chunk string) ([]float32, error) {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = p.retryDelay

	return backoff.Retry(ctx, func() ([]float32, error) {
		return p.embedder.EmbedQuery(ctx, chunk)
	}, backoff.WithBackOff(expo), backoff.WithMaxTries(embedMaxTries))
}
