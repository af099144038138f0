// Package audit records privacy-relevant actions to an append-only
// sink. Writes are best-effort: a failed audit insert is logged and
// counted but never propagated to fail the primary request.
package audit

import (
	"context"
	"encoding/json"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/database"
)

// Actions recorded by the core pipeline.
const (
	ActionSearch = "search"
	ActionChat   = "chat"
	ActionIngest = "ingest"
	ActionEmbed  = "embed"
)

const instrumentationName = "github.com/fyrsmithlabs/ragd/internal/audit"

// Sink is the audit persistence boundary, satisfied by *database.DB.
type Sink interface {
	InsertAuditLog(ctx context.Context, entry *database.AuditLog) error
}

// Entry is one audit record before persistence. Details values must
// already be redacted or hashed; the logger stores them verbatim.
type Entry struct {
	UserID       string
	Action       string
	ResourceType string
	ResourceID   string
	Details      map[string]any
	IPAddress    string
	UserAgent    string
}

// Logger writes audit entries.
type Logger struct {
	sink     Sink
	logger   *zap.Logger
	writes   metric.Int64Counter
	failures metric.Int64Counter
}

// New creates an audit logger over the given sink.
func New(sink Sink, logger *zap.Logger) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	meter := otel.Meter(instrumentationName)

	writes, err := meter.Int64Counter(
		"ragd.audit.writes_total",
		metric.WithDescription("Total audit entries written, by action"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		logger.Warn("failed to create audit writes counter", zap.Error(err))
	}
	failures, err := meter.Int64Counter(
		"ragd.audit.write_failures_total",
		metric.WithDescription("Total audit writes that failed and were dropped, by action"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		logger.Warn("failed to create audit failures counter", zap.Error(err))
	}

	return &Logger{sink: sink, logger: logger, writes: writes, failures: failures}
}

// Record persists one entry. It never returns an error; failures go to
// the log and the failure counter only.
func (l *Logger) Record(ctx context.Context, entry Entry) {
	attrs := metric.WithAttributes(attribute.String("action", entry.Action))

	details := "{}"
	if len(entry.Details) > 0 {
		data, err := json.Marshal(entry.Details)
		if err != nil {
			l.logger.Warn("audit details not serializable, dropping details",
				zap.String("action", entry.Action), zap.Error(err))
		} else {
			details = string(data)
		}
	}

	row := &database.AuditLog{
		Action:       entry.Action,
		ResourceType: entry.ResourceType,
		Details:      details,
		IPAddress:    entry.IPAddress,
		UserAgent:    entry.UserAgent,
	}
	if entry.UserID != "" {
		row.UserID = &entry.UserID
	}
	if entry.ResourceID != "" {
		row.ResourceID = &entry.ResourceID
	}

	if err := l.sink.InsertAuditLog(ctx, row); err != nil {
		l.logger.Warn("audit write failed",
			zap.String("action", entry.Action), zap.Error(err))
		if l.failures != nil {
			l.failures.Add(ctx, 1, attrs)
		}
		return
	}
	if l.writes != nil {
		l.writes.Add(ctx, 1, attrs)
	}
}
