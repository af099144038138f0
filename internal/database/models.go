// Package database provides the relational store for document
// lifecycle state, processing jobs, and the append-only audit trail.
package database

import "time"

// Document lifecycle states. The ingestion consumer owns all
// transitions; a failed ingestion leaves the row pending so the job
// can be re-enqueued externally.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusProcessed  = "processed"
)

// Document is one uploaded document's lifecycle row.
type Document struct {
	ID             uint   `gorm:"primaryKey"`
	FileKey        string `gorm:"uniqueIndex;size:512;not null"`
	Filename       string `gorm:"size:512"`
	Status         string `gorm:"size:32;default:pending;index"`
	ContentPreview string `gorm:"type:text"`
	OrgID          string `gorm:"size:128;index"`
	Department     string `gorm:"size:128"`
	Sensitivity    string `gorm:"size:64"`
	CreatedAt      time.Time
	ProcessedAt    *time.Time
}

// ProcessingJob records a queued ingestion job for inspection and
// batch reprocessing.
type ProcessingJob struct {
	ID          uint   `gorm:"primaryKey"`
	JobData     string `gorm:"type:text"`
	Status      string `gorm:"size:32;default:pending;index"`
	CreatedAt   time.Time
	ProcessedAt *time.Time
}

// AuditLog is one append-only audit entry. Details must contain only
// redacted or hashed query material, never raw PII.
type AuditLog struct {
	ID           uint    `gorm:"primaryKey"`
	UserID       *string `gorm:"size:128"`
	Action       string  `gorm:"size:64;index;not null"`
	ResourceType string  `gorm:"size:64"`
	ResourceID   *string `gorm:"size:256"`
	Details      string  `gorm:"type:text"`
	IPAddress    string  `gorm:"size:64"`
	UserAgent    string  `gorm:"size:256"`
	CreatedAt    time.Time
}
