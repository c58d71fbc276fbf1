package feed

import (
	"testing"

	"CapTrades/internal/domain/models"
)

func TestBufferEvictsOldest(t *testing.T) {
	b := NewSampleBuffer(3)
	for _, ticker := range []string{"AAPL", "MSFT", "NVDA", "AMZN"} {
		b.Add(models.SignalRecord{"ticker": ticker})
	}

	if b.Len() != 3 {
		t.Fatalf("expected 3 buffered, got %d", b.Len())
	}
	got := b.Snapshot(0)
	if len(got) != 3 {
		t.Fatalf("expected 3 in snapshot, got %d", len(got))
	}
	if got[0]["ticker"] != "MSFT" || got[2]["ticker"] != "AMZN" {
		t.Fatalf("unexpected order: %v", got)
	}
}

func TestBufferSnapshotLimit(t *testing.T) {
	b := NewSampleBuffer(8)
	for _, ticker := range []string{"AAPL", "MSFT", "NVDA"} {
		b.Add(models.SignalRecord{"ticker": ticker})
	}

	got := b.Snapshot(2)
	if len(got) != 2 {
		t.Fatalf("expected 2, got %d", len(got))
	}
	// Most recent two, oldest first.
	if got[0]["ticker"] != "MSFT" || got[1]["ticker"] != "NVDA" {
		t.Fatalf("unexpected records: %v", got)
	}
}

func TestBufferSnapshotCopies(t *testing.T) {
	b := NewSampleBuffer(4)
	b.Add(models.SignalRecord{"ticker": "AAPL", "confidence": 0.9})

	got := b.Snapshot(1)
	got[0]["confidence"] = -1.0

	again := b.Snapshot(1)
	if again[0]["confidence"] != 0.9 {
		t.Fatalf("snapshot must not alias the buffer: %v", again[0])
	}
}
