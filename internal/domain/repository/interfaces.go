package repository

import (
	"context"
	"time"

	"CapTrades/internal/domain/models"
)

// SignalStream is an upstream source of baseline signals, consumed by the
// sample feed so playground users have live data to transform.
type SignalStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context) error
	Read(ctx context.Context) (<-chan models.SignalRecord, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// AuditPublisher delivers sandbox audit records to a message broker.
type AuditPublisher interface {
	Publish(ctx context.Context, rec *models.AuditRecord) error
	PublishBatch(ctx context.Context, recs []*models.AuditRecord) error
	Close() error
}

// AuditStorage persists sandbox audit records for operational review.
type AuditStorage interface {
	Init(ctx context.Context) error // ensure tables, health checks
	Store(ctx context.Context, rec *models.AuditRecord) error
	StoreBatch(ctx context.Context, recs []*models.AuditRecord) error
	Query(ctx context.Context, status string, from, to time.Time, limit int) ([]*models.AuditRecord, error)
	Health(ctx context.Context) error // ping
	Close() error
}

type Metrics interface {
	RecordRun(status string)
	RecordValidation(valid bool)
	RecordAuditFlush(backend string, count int)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
}
