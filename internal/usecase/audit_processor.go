package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"CapTrades/internal/domain/models"
	drepo "CapTrades/internal/domain/repository"
	applogger "CapTrades/pkg/logger"
)

// AuditProcessor buffers sandbox audit records and routes them to the
// configured backend. Delivery is best effort; an audit failure never fails
// the request that produced the record.
type AuditProcessor struct {
	pub     drepo.AuditPublisher
	store   drepo.AuditStorage
	metrics drepo.Metrics
	logger  *applogger.Logger
	backend string
	batchSz int
	batchTO time.Duration

	mu  sync.Mutex
	buf []*models.AuditRecord

	stop    chan struct{}
	done    chan struct{}
	started bool
}

// NewAuditProcessor creates a new AuditProcessor instance.
func NewAuditProcessor(
	pub drepo.AuditPublisher,
	store drepo.AuditStorage,
	metrics drepo.Metrics,
	logger *applogger.Logger,
	backend string,
	batchSz int,
	batchTO time.Duration,
) *AuditProcessor {
	if batchSz <= 0 {
		batchSz = 64
	}
	if batchTO <= 0 {
		batchTO = 5 * time.Second
	}
	return &AuditProcessor{
		pub:     pub,
		store:   store,
		metrics: metrics,
		logger:  logger,
		backend: backend,
		batchSz: batchSz,
		batchTO: batchTO,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start launches the periodic flush loop.
func (p *AuditProcessor) Start(ctx context.Context) {
	p.started = true
	go func() {
		defer close(p.done)
		ticker := time.NewTicker(p.batchTO)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.flush(ctx)
			case <-p.stop:
				p.flush(context.Background())
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Record buffers one audit record, flushing when the batch is full.
func (p *AuditProcessor) Record(ctx context.Context, rec *models.AuditRecord) {
	if rec == nil {
		return
	}
	p.mu.Lock()
	p.buf = append(p.buf, rec)
	full := len(p.buf) >= p.batchSz
	p.mu.Unlock()
	if full {
		p.flush(ctx)
	}
}

func (p *AuditProcessor) flush(ctx context.Context) {
	p.mu.Lock()
	batch := p.buf
	p.buf = nil
	p.mu.Unlock()
	if len(batch) == 0 {
		return
	}

	start := time.Now()
	var err error
	switch p.backend {
	case "kafka":
		err = p.pub.PublishBatch(ctx, batch)
	case "clickhouse":
		err = p.store.StoreBatch(ctx, batch)
	default:
		err = fmt.Errorf("unknown backend: %s", p.backend)
	}

	if err != nil {
		if p.metrics != nil {
			p.metrics.RecordError("audit_flush")
		}
		if p.logger != nil {
			p.logger.Warn("audit flush failed",
				applogger.String("backend", p.backend),
				applogger.Int("records", len(batch)),
				applogger.Error(err),
			)
		}
		return
	}

	if p.metrics != nil {
		p.metrics.RecordAuditFlush(p.backend, len(batch))
		p.metrics.RecordLatency("audit_flush", time.Since(start).Seconds())
	}
}

// Close flushes outstanding records and releases backend resources.
func (p *AuditProcessor) Close() {
	close(p.stop)
	if p.started {
		<-p.done
	} else {
		p.flush(context.Background())
	}
	if p.pub != nil {
		_ = p.pub.Close()
	}
	if p.store != nil {
		_ = p.store.Close()
	}
}
