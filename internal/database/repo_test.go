package database

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(Config{Path: filepath.Join(t.TempDir(), "test.db")}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestCreateAndLookupDocument(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	doc := &Document{
		FileKey:    "org-1/report.pdf",
		Filename:   "report.pdf",
		OrgID:      "org-1",
		Department: "finance",
	}
	require.NoError(t, db.CreateDocument(ctx, doc))
	assert.NotZero(t, doc.ID)
	assert.Equal(t, StatusPending, doc.Status)

	found, err := db.DocumentByFileKey(ctx, "org-1/report.pdf")
	require.NoError(t, err)
	assert.Equal(t, doc.ID, found.ID)
	assert.Equal(t, "finance", found.Department)

	byID, err := db.DocumentByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "report.pdf", byID.Filename)
}

func TestCreateDocumentRequiresFileKey(t *testing.T) {
	db := testDB(t)
	err := db.CreateDocument(context.Background(), &Document{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestDocumentFileKeyUnique(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	require.NoError(t, db.CreateDocument(ctx, &Document{FileKey: "dup"}))
	assert.Error(t, db.CreateDocument(ctx, &Document{FileKey: "dup"}))
}

func TestDocumentLookupNotFound(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	_, err := db.DocumentByFileKey(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = db.DocumentByID(ctx, 9999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMarkDocumentProcessed(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	require.NoError(t, db.CreateDocument(ctx, &Document{FileKey: "k1", OrgID: "org-1"}))

	long := strings.Repeat("x", 600)
	require.NoError(t, db.MarkDocumentProcessed(ctx, "k1", long, 500))

	doc, err := db.DocumentByFileKey(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, doc.Status)
	assert.Len(t, doc.ContentPreview, 500)
	require.NotNil(t, doc.ProcessedAt)
}

func TestMarkDocumentProcessedNotFound(t *testing.T) {
	db := testDB(t)
	err := db.MarkDocumentProcessed(context.Background(), "missing", "p", 500)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTruncatePreviewRuneBoundary(t *testing.T) {
	// "héllo" cut at byte 2 would split the é; the cut must back off.
	got := truncatePreview("héllo", 2)
	assert.Equal(t, "h", got)

	assert.Equal(t, "short", truncatePreview("short", 500))
	assert.Equal(t, "trimmed", truncatePreview("  trimmed  ", 500))
}

func TestPendingDocuments(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		require.NoError(t, db.CreateDocument(ctx, &Document{FileKey: key, OrgID: "org-1"}))
	}
	require.NoError(t, db.CreateDocument(ctx, &Document{FileKey: "other", OrgID: "org-2"}))
	require.NoError(t, db.MarkDocumentProcessed(ctx, "b", "done", 500))

	pending, err := db.PendingDocuments(ctx, "org-1", 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "a", pending[0].FileKey)
	assert.Equal(t, "c", pending[1].FileKey)

	limited, err := db.PendingDocuments(ctx, "org-1", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestDocumentStatusCounts(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		require.NoError(t, db.CreateDocument(ctx, &Document{FileKey: key, OrgID: "org-1"}))
	}
	require.NoError(t, db.CreateDocument(ctx, &Document{FileKey: "other", OrgID: "org-2"}))
	require.NoError(t, db.MarkDocumentProcessed(ctx, "b", "done", 500))

	counts, err := db.DocumentStatusCounts(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[StatusPending])
	assert.Equal(t, int64(1), counts[StatusProcessed])

	empty, err := db.DocumentStatusCounts(ctx, "org-absent")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestProcessingJobLifecycle(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	job := &ProcessingJob{JobData: `{"type":"file","key":"k1"}`}
	require.NoError(t, db.CreateJob(ctx, job))
	assert.Equal(t, StatusPending, job.Status)

	require.NoError(t, db.MarkJobProcessed(ctx, job.ID))
	assert.ErrorIs(t, db.MarkJobProcessed(ctx, 9999), ErrNotFound)
}

func TestInsertAuditLog(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	userID := "user-7"
	require.NoError(t, db.InsertAuditLog(ctx, &AuditLog{
		UserID:       &userID,
		Action:       "search",
		ResourceType: "collection",
		Details:      `{"query_hash":"abc"}`,
	}))

	err := db.InsertAuditLog(ctx, &AuditLog{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestHealthy(t *testing.T) {
	db := testDB(t)
	assert.True(t, db.Healthy(context.Background()))
}
