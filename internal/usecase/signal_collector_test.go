package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"CapTrades/internal/domain/models"
	mid "CapTrades/internal/middleware"
)

type streamPair struct {
	recs chan models.SignalRecord
	errs chan error
}

type fakeStream struct {
	mu         sync.Mutex
	pairs      []streamPair
	next       int
	reconnects int
}

func (s *fakeStream) Connect(context.Context) error   { return nil }
func (s *fakeStream) Subscribe(context.Context) error { return nil }
func (s *fakeStream) Close() error                    { return nil }
func (s *fakeStream) IsConnected() bool               { return true }

func (s *fakeStream) Read(context.Context) (<-chan models.SignalRecord, <-chan error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.pairs[s.next]
	return p.recs, p.errs
}

func (s *fakeStream) Reconnect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reconnects++
	if s.next+1 < len(s.pairs) {
		s.next++
	}
	return nil
}

func (s *fakeStream) reconnectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconnects
}

type recordingSink struct {
	mu   sync.Mutex
	recs []models.SignalRecord
}

func (r *recordingSink) Add(rec models.SignalRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs = append(r.recs, rec)
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.recs)
}

func TestSignalCollectorResumesAfterStreamFailure(t *testing.T) {
	first := streamPair{recs: make(chan models.SignalRecord, 1), errs: make(chan error, 1)}
	second := streamPair{recs: make(chan models.SignalRecord, 1), errs: make(chan error, 1)}
	stream := &fakeStream{pairs: []streamPair{first, second}}
	sink := &recordingSink{}
	col := NewSignalCollector(stream, mid.NewFeedPipeline(sink, nil), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := col.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	// The upstream read loop reports one error and then closes its channels.
	first.errs <- errors.New("feed read: connection reset")
	close(first.errs)
	close(first.recs)

	second.recs <- models.SignalRecord{"ticker": "AAPL", "confidence": 0.8}

	deadline := time.After(time.Second)
	for sink.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("record after reconnect was never consumed")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if stream.reconnectCount() != 1 {
		t.Fatalf("expected exactly one reconnect, got %d", stream.reconnectCount())
	}
}
