package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/audit"
	"github.com/fyrsmithlabs/ragd/internal/database"
	"github.com/fyrsmithlabs/ragd/internal/queue"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

type fakeEmbedder struct {
	calls   int
	failOn  map[string]bool
	vectors map[string][]float32
}

func (f *fakeEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	f.calls++
	if f.failOn[text] {
		return nil, errors.New("embedding backend unavailable")
	}
	if vec, ok := f.vectors[text]; ok {
		return vec, nil
	}
	return []float32{float32(len(text)), 1}, nil
}

type fakeBlobs struct {
	objects map[string][]byte
}

func (f *fakeBlobs) Get(_ context.Context, key string) ([]byte, error) {
	data, ok := f.objects[key]
	if !ok {
		return nil, errors.New("object not found")
	}
	return data, nil
}

type fakeDocs struct {
	byKey         map[string]*database.Document
	byID          map[uint]*database.Document
	processed     map[string]string
	jobsProcessed []uint
}

func newFakeDocs() *fakeDocs {
	return &fakeDocs{
		byKey:     make(map[string]*database.Document),
		byID:      make(map[uint]*database.Document),
		processed: make(map[string]string),
	}
}

func (f *fakeDocs) DocumentByFileKey(_ context.Context, key string) (*database.Document, error) {
	doc, ok := f.byKey[key]
	if !ok {
		return nil, database.ErrNotFound
	}
	return doc, nil
}

func (f *fakeDocs) DocumentByID(_ context.Context, id uint) (*database.Document, error) {
	doc, ok := f.byID[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return doc, nil
}

func (f *fakeDocs) MarkDocumentProcessed(_ context.Context, key, preview string, previewBytes int) error {
	if len(preview) > previewBytes {
		preview = preview[:previewBytes]
	}
	f.processed[key] = preview
	return nil
}

func (f *fakeDocs) MarkJobProcessed(_ context.Context, id uint) error {
	f.jobsProcessed = append(f.jobsProcessed, id)
	return nil
}

type fakeVectors struct {
	added map[string][]vectorstore.Document
	err   error
}

func newFakeVectors() *fakeVectors {
	return &fakeVectors{added: make(map[string][]vectorstore.Document)}
}

func (f *fakeVectors) Add(_ context.Context, orgID string, docs []vectorstore.Document) error {
	if f.err != nil {
		return f.err
	}
	f.added[orgID] = append(f.added[orgID], docs...)
	return nil
}

type fakeAuditor struct {
	entries []audit.Entry
}

func (f *fakeAuditor) Record(_ context.Context, entry audit.Entry) {
	f.entries = append(f.entries, entry)
}

type procDeps struct {
	embedder *fakeEmbedder
	blobs    *fakeBlobs
	docs     *fakeDocs
	vectors  *fakeVectors
	auditor  *fakeAuditor
}

func newProcessor(t *testing.T, cfg Config) (*Processor, *procDeps) {
	t.Helper()
	deps := &procDeps{
		embedder: &fakeEmbedder{failOn: map[string]bool{}, vectors: map[string][]float32{}},
		blobs:    &fakeBlobs{objects: map[string][]byte{}},
		docs:     newFakeDocs(),
		vectors:  newFakeVectors(),
		auditor:  &fakeAuditor{},
	}
	p := NewProcessor(cfg, deps.embedder, deps.blobs, deps.docs, deps.vectors, deps.auditor, zap.NewNop())
	p.retryDelay = time.Millisecond
	return p, deps
}

func TestProcessFileJob(t *testing.T) {
	p, deps := newProcessor(t, Config{})
	deps.blobs.objects["org-1/handbook.txt"] = []byte("All employees receive health coverage and dental benefits.")

	job := &queue.Job{
		Type: queue.TypeFile, Key: "org-1/handbook.txt",
		OrgID: "org-1", Department: "hr", Filename: "handbook.txt", DocumentID: 3,
	}

	result, err := p.Process(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Chunks)
	assert.Equal(t, 1, result.Embedded)
	assert.Zero(t, result.Skipped)

	stored := deps.vectors.added["org-1"]
	require.Len(t, stored, 1)
	assert.NotEmpty(t, stored[0].ID)
	assert.Equal(t, "hr", stored[0].Metadata["department"])
	assert.Equal(t, "handbook.txt", stored[0].Metadata["filename"])
	assert.Equal(t, "0", stored[0].Metadata["chunk_index"])
	assert.Equal(t, "3", stored[0].Metadata["document_id"])

	assert.Contains(t, deps.docs.processed, "org-1/handbook.txt")

	// Every completed job leaves an audit record.
	require.Len(t, deps.auditor.entries, 1)
	entry := deps.auditor.entries[0]
	assert.Equal(t, audit.ActionIngest, entry.Action)
	assert.Equal(t, "document", entry.ResourceType)
	assert.Equal(t, "org-1/handbook.txt", entry.ResourceID)
	assert.Equal(t, "org-1", entry.Details["org_id"])
	assert.Equal(t, "ok", entry.Details["status"])
	assert.Equal(t, 1, entry.Details["chunks"])
	assert.Equal(t, 1, entry.Details["embedded"])
}

func TestProcessAuditsFailedJob(t *testing.T) {
	p, deps := newProcessor(t, Config{})

	job := &queue.Job{Type: queue.TypeFile, Key: "missing", OrgID: "org-1"}
	_, err := p.Process(context.Background(), job)
	require.Error(t, err)

	require.Len(t, deps.auditor.entries, 1)
	entry := deps.auditor.entries[0]
	assert.Equal(t, audit.ActionIngest, entry.Action)
	assert.Equal(t, "missing", entry.ResourceID)
	assert.Equal(t, "failed", entry.Details["status"])
	assert.NotEmpty(t, entry.Details["error"])
}

func TestProcessMarksJobRowProcessed(t *testing.T) {
	p, deps := newProcessor(t, Config{})
	deps.blobs.objects["k"] = []byte("benefits text")

	job := &queue.Job{Type: queue.TypeFile, Key: "k", OrgID: "org-1", JobID: 7}
	_, err := p.Process(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, []uint{7}, deps.docs.jobsProcessed)
}

func TestProcessNilAuditor(t *testing.T) {
	deps := &procDeps{
		embedder: &fakeEmbedder{failOn: map[string]bool{}, vectors: map[string][]float32{}},
		blobs:    &fakeBlobs{objects: map[string][]byte{"k": []byte("text")}},
		docs:     newFakeDocs(),
		vectors:  newFakeVectors(),
	}
	p := NewProcessor(Config{}, deps.embedder, deps.blobs, deps.docs, deps.vectors, nil, zap.NewNop())
	p.retryDelay = time.Millisecond

	_, err := p.Process(context.Background(), &queue.Job{Type: queue.TypeFile, Key: "k", OrgID: "org-1"})
	require.NoError(t, err)
}

func TestProcessFileFallsBackToMetadata(t *testing.T) {
	p, deps := newProcessor(t, Config{})
	deps.docs.byKey["org-1/gone.pdf"] = &database.Document{
		FileKey:     "org-1/gone.pdf",
		Filename:    "gone.pdf",
		Department:  "legal",
		Sensitivity: "confidential",
		CreatedAt:   time.Now(),
	}

	job := &queue.Job{Type: queue.TypeFile, Key: "org-1/gone.pdf", OrgID: "org-1"}
	result, err := p.Process(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Embedded)

	stored := deps.vectors.added["org-1"]
	require.Len(t, stored, 1)
	assert.Contains(t, stored[0].Content, "gone.pdf")
	assert.Contains(t, stored[0].Content, "legal")
}

func TestProcessFileFallsBackByDocumentID(t *testing.T) {
	p, deps := newProcessor(t, Config{})
	deps.docs.byID[9] = &database.Document{
		FileKey: "renamed-key", Filename: "report.pdf", CreatedAt: time.Now(),
	}

	job := &queue.Job{Type: queue.TypeFile, Key: "stale-key", OrgID: "org-1", DocumentID: 9}
	_, err := p.Process(context.Background(), job)
	require.NoError(t, err)
	require.Len(t, deps.vectors.added["org-1"], 1)
}

func TestProcessFileFailsWhenNoFallback(t *testing.T) {
	p, deps := newProcessor(t, Config{})

	job := &queue.Job{Type: queue.TypeFile, Key: "missing", OrgID: "org-1"}
	_, err := p.Process(context.Background(), job)
	require.Error(t, err)
	assert.Empty(t, deps.vectors.added)
	// The document row is untouched; nothing was marked processed.
	assert.Empty(t, deps.docs.processed)
}

func TestProcessWebJob(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><head><title>Policy</title></head><body><p>Remote work policy text.</p></body></html>"))
	}))
	defer srv.Close()

	p, deps := newProcessor(t, Config{})
	job := &queue.Job{Type: queue.TypeWeb, URL: srv.URL, OrgID: "org-2"}

	result, err := p.Process(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Embedded)

	stored := deps.vectors.added["org-2"]
	require.Len(t, stored, 1)
	assert.Contains(t, stored[0].Content, "Remote work policy text.")
	assert.Equal(t, "Policy", stored[0].Metadata["filename"])
}

func TestProcessSeedJobUnknownName(t *testing.T) {
	p, _ := newProcessor(t, Config{})
	job := &queue.Job{Type: queue.TypeSeedSource, URL: "dummy_bakery", OrgID: "org-1"}

	_, err := p.Process(context.Background(), job)
	assert.ErrorIs(t, err, ErrUnknownSeedSource)
}

func TestProcessSkipsFailedChunks(t *testing.T) {
	// Tiny chunk size forces multiple chunks; one of them always
	// fails to embed and is skipped without failing the job.
	p, deps := newProcessor(t, Config{ChunkSize: 8, ChunkOverlap: 1, BatchSize: 2})

	// Unique tokens keep every chunk's content distinct so the fake
	// embedder (keyed by chunk text) fails exactly one chunk.
	words := make([]string, 60)
	for i := range words {
		words[i] = fmt.Sprintf("token%02d", i)
	}
	text := strings.Join(words, " ")
	deps.blobs.objects["k"] = []byte(text)

	chunks := p.chunker.Chunk(text)
	require.GreaterOrEqual(t, len(chunks), 3)
	deps.embedder.failOn[chunks[1]] = true

	job := &queue.Job{Type: queue.TypeFile, Key: "k", OrgID: "org-1"}
	result, err := p.Process(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, len(chunks), result.Chunks)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, len(chunks)-1, result.Embedded)
	assert.Len(t, deps.vectors.added["org-1"], len(chunks)-1)
}

func TestProcessFailsWhenAllChunksFail(t *testing.T) {
	p, deps := newProcessor(t, Config{})
	deps.blobs.objects["k"] = []byte("some document text")
	deps.embedder.failOn["some document text"] = true

	job := &queue.Job{Type: queue.TypeFile, Key: "k", OrgID: "org-1"}
	_, err := p.Process(context.Background(), job)
	assert.ErrorIs(t, err, ErrAllChunksFailed)
	assert.Empty(t, deps.docs.processed)
}

func TestProcessEmbeddingRetries(t *testing.T) {
	p, deps := newProcessor(t, Config{})
	deps.blobs.objects["k"] = []byte("text")
	deps.embedder.failOn["text"] = true

	job := &queue.Job{Type: queue.TypeFile, Key: "k", OrgID: "org-1"}
	_, err := p.Process(context.Background(), job)
	require.Error(t, err)
	assert.Equal(t, embedMaxTries, deps.embedder.calls)
}

func TestProcessRejectsInvalidJob(t *testing.T) {
	p, _ := newProcessor(t, Config{})
	_, err := p.Process(context.Background(), &queue.Job{Type: "bogus"})
	assert.ErrorIs(t, err, queue.ErrInvalidJob)
}

func TestProcessVectorWriteFailure(t *testing.T) {
	p, deps := newProcessor(t, Config{})
	deps.blobs.objects["k"] = []byte("text")
	deps.vectors.err = errors.New("store unavailable")

	job := &queue.Job{Type: queue.TypeFile, Key: "k", OrgID: "org-1"}
	_, err := p.Process(context.Background(), job)
	require.Error(t, err)
	assert.Empty(t, deps.docs.processed)
}
