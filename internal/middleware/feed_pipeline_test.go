package middleware

import (
	"testing"

	"CapTrades/internal/domain/models"
)

type captureSink struct {
	recs []models.SignalRecord
}

func (s *captureSink) Add(rec models.SignalRecord) { s.recs = append(s.recs, rec) }

func TestPipelineForwardsValidSignal(t *testing.T) {
	sink := &captureSink{}
	p := NewFeedPipeline(sink, nil)

	err := p.Process(models.SignalRecord{"ticker": "AAPL", "confidence": 0.9})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sink.recs) != 1 {
		t.Fatalf("expected 1 forwarded record, got %d", len(sink.recs))
	}
}

func TestPipelineRejectsMissingTicker(t *testing.T) {
	sink := &captureSink{}
	p := NewFeedPipeline(sink, nil)

	if err := p.Process(models.SignalRecord{"confidence": 0.9}); err == nil {
		t.Fatalf("expected error for missing ticker")
	}
	if err := p.Process(nil); err == nil {
		t.Fatalf("expected error for nil record")
	}
	if len(sink.recs) != 0 {
		t.Fatalf("invalid records must not reach the sink")
	}
}

func TestPipelineRejectsNonScalarField(t *testing.T) {
	sink := &captureSink{}
	p := NewFeedPipeline(sink, nil)

	rec := models.SignalRecord{"ticker": "AAPL", "meta": map[string]any{"a": 1}}
	if err := p.Process(rec); err == nil {
		t.Fatalf("expected error for nested field")
	}
}

func TestPipelineThrottlesPerTicker(t *testing.T) {
	sink := &captureSink{}
	p := NewFeedPipeline(sink, nil, WithMaxRPS(1))

	for i := 0; i < 5; i++ {
		if err := p.Process(models.SignalRecord{"ticker": "AAPL", "confidence": 0.5}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	// A different ticker has its own window.
	if err := p.Process(models.SignalRecord{"ticker": "MSFT", "confidence": 0.5}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(sink.recs) != 2 {
		t.Fatalf("expected 1 record per ticker, got %d", len(sink.recs))
	}
}

func TestPipelineTransformHook(t *testing.T) {
	sink := &captureSink{}
	p := NewFeedPipeline(sink, nil, WithTransform(func(rec models.SignalRecord) models.SignalRecord {
		out := models.SignalRecord{}
		for k, v := range rec {
			out[k] = v
		}
		out["source"] = "feed"
		return out
	}))

	if err := p.Process(models.SignalRecord{"ticker": "AAPL"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sink.recs[0]["source"] != "feed" {
		t.Fatalf("transform hook not applied: %v", sink.recs[0])
	}
}
