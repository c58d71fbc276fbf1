package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"CapTrades/internal/domain/models"
)

type fakePublisher struct {
	mu      sync.Mutex
	batches [][]*models.AuditRecord
	closed  bool
}

func (p *fakePublisher) Publish(_ context.Context, rec *models.AuditRecord) error {
	return p.PublishBatch(context.Background(), []*models.AuditRecord{rec})
}

func (p *fakePublisher) PublishBatch(_ context.Context, recs []*models.AuditRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batches = append(p.batches, recs)
	return nil
}

func (p *fakePublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePublisher) total() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, b := range p.batches {
		n += len(b)
	}
	return n
}

func auditRec(status string) *models.AuditRecord {
	return &models.AuditRecord{Timestamp: time.Now().UTC(), CodeHash: "h", Status: status}
}

func TestAuditProcessorFlushOnBatchSize(t *testing.T) {
	pub := &fakePublisher{}
	p := NewAuditProcessor(pub, nil, nil, nil, "kafka", 3, time.Hour)
	for i := 0; i < 3; i++ {
		p.Record(context.Background(), auditRec("success"))
	}
	if pub.total() != 3 {
		t.Fatalf("expected 3 records flushed, got %d", pub.total())
	}
}

func TestAuditProcessorFlushOnClose(t *testing.T) {
	pub := &fakePublisher{}
	p := NewAuditProcessor(pub, nil, nil, nil, "kafka", 100, time.Hour)
	p.Record(context.Background(), auditRec("success"))
	p.Record(context.Background(), auditRec("runtime_error"))
	p.Close()
	if pub.total() != 2 {
		t.Fatalf("expected 2 records flushed on close, got %d", pub.total())
	}
	if !pub.closed {
		t.Fatal("publisher must be closed")
	}
}

func TestAuditProcessorPeriodicFlush(t *testing.T) {
	pub := &fakePublisher{}
	p := NewAuditProcessor(pub, nil, nil, nil, "kafka", 100, 20*time.Millisecond)
	p.Start(context.Background())
	p.Record(context.Background(), auditRec("success"))
	deadline := time.After(time.Second)
	for pub.total() == 0 {
		select {
		case <-deadline:
			t.Fatal("record was never flushed")
		case <-time.After(5 * time.Millisecond):
		}
	}
	p.Close()
}
