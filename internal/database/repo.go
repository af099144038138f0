package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"
)

// CreateDocument inserts a new document row in the pending state.
func (db *DB) CreateDocument(ctx context.Context, doc *Document) error {
	if doc.FileKey == "" {
		return fmt.Errorf("%w: file key required", ErrInvalidConfig)
	}
	if doc.Status == "" {
		doc.Status = StatusPending
	}
	if err := db.gorm.WithContext(ctx).Create(doc).Error; err != nil {
		return fmt.Errorf("creating document: %w", err)
	}
	return nil
}

// DocumentByFileKey looks up a document by its object-store key.
func (db *DB) DocumentByFileKey(ctx context.Context, fileKey string) (*Document, error) {
	var doc Document
	err := db.gorm.WithContext(ctx).Where("file_key = ?", fileKey).First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: file key %s", ErrNotFound, fileKey)
	}
	if err != nil {
		return nil, fmt.Errorf("querying document: %w", err)
	}
	return &doc, nil
}

// DocumentByID looks up a document by its primary key.
func (db *DB) DocumentByID(ctx context.Context, id uint) (*Document, error) {
	var doc Document
	err := db.gorm.WithContext(ctx).First(&doc, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: document %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("querying document: %w", err)
	}
	return &doc, nil
}

// MarkDocumentProcessed transitions a document to processed with a
// bounded content preview. The preview is truncated on a rune boundary
// so multibyte text is never split mid-character.
func (db *DB) MarkDocumentProcessed(ctx context.Context, fileKey, preview string, previewBytes int) error {
	now := time.Now()
	result := db.gorm.WithContext(ctx).Model(&Document{}).
		Where("file_key = ?", fileKey).
		Updates(map[string]any{
			"status":          StatusProcessed,
			"content_preview": truncatePreview(preview, previewBytes),
			"processed_at":    &now,
		})
	if result.Error != nil {
		return fmt.Errorf("marking document processed: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: file key %s", ErrNotFound, fileKey)
	}
	return nil
}

// truncatePreview bounds a preview to maxBytes without splitting a
// multibyte rune.
func truncatePreview(preview string, maxBytes int) string {
	preview = strings.TrimSpace(preview)
	if maxBytes <= 0 || len(preview) <= maxBytes {
		return preview
	}
	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(preview[cut]) {
		cut--
	}
	return preview[:cut]
}

// PendingDocuments returns up to limit pending documents for an
// organization, oldest first.
func (db *DB) PendingDocuments(ctx context.Context, orgID string, limit int) ([]Document, error) {
	if limit <= 0 {
		limit = 10
	}
	var docs []Document
	err := db.gorm.WithContext(ctx).
		Where("org_id = ? AND status = ?", orgID, StatusPending).
		Order("created_at asc").
		Limit(limit).
		Find(&docs).Error
	if err != nil {
		return nil, fmt.Errorf("querying pending documents: %w", err)
	}
	return docs, nil
}

// DocumentStatusCounts returns document counts grouped by status for
// an organization. Absent statuses are omitted.
func (db *DB) DocumentStatusCounts(ctx context.Context, orgID string) (map[string]int64, error) {
	type statusCount struct {
		Status string
		Count  int64
	}
	var rows []statusCount
	err := db.gorm.WithContext(ctx).Model(&Document{}).
		Select("status, count(*) as count").
		Where("org_id = ?", orgID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("counting documents by status: %w", err)
	}
	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

// CreateJob records a queued ingestion job.
func (db *DB) CreateJob(ctx context.Context, job *ProcessingJob) error {
	if job.Status == "" {
		job.Status = StatusPending
	}
	if err := db.gorm.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("creating processing job: %w", err)
	}
	return nil
}

// MarkJobProcessed transitions a processing job to processed.
func (db *DB) MarkJobProcessed(ctx context.Context, id uint) error {
	now := time.Now()
	result := db.gorm.WithContext(ctx).Model(&ProcessingJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":       StatusProcessed,
			"processed_at": &now,
		})
	if result.Error != nil {
		return fmt.Errorf("marking job processed: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: job %d", ErrNotFound, id)
	}
	return nil
}

// InsertAuditLog appends one audit entry.
func (db *DB) InsertAuditLog(ctx context.Context, entry *AuditLog) error {
	if entry.Action == "" {
		return fmt.Errorf("%w: audit action required", ErrInvalidConfig)
	}
	if err := db.gorm.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("inserting audit log: %w", err)
	}
	return nil
}
