package feed

import (
	"sync"

	"CapTrades/internal/domain/models"
)

// SampleBuffer keeps the most recent signals from the feed so the playground
// can offer a live sample batch to transform.
type SampleBuffer struct {
	mu   sync.RWMutex
	buf  []models.SignalRecord
	next int
	size int
}

// NewSampleBuffer creates a buffer holding up to capacity records.
func NewSampleBuffer(capacity int) *SampleBuffer {
	if capacity <= 0 {
		capacity = 128
	}
	return &SampleBuffer{buf: make([]models.SignalRecord, capacity)}
}

// Add records one signal, evicting the oldest when full.
func (b *SampleBuffer) Add(rec models.SignalRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf[b.next] = rec
	b.next = (b.next + 1) % len(b.buf)
	if b.size < len(b.buf) {
		b.size++
	}
}

// Snapshot returns up to n of the most recent signals, oldest first. Records
// are copied so callers can hand them to the sandbox without aliasing.
func (b *SampleBuffer) Snapshot(n int) []models.SignalRecord {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if n <= 0 || n > b.size {
		n = b.size
	}
	out := make([]models.SignalRecord, 0, n)
	start := b.next - n
	if start < 0 {
		start += len(b.buf)
	}
	for i := 0; i < n; i++ {
		rec := b.buf[(start+i)%len(b.buf)]
		cp := make(models.SignalRecord, len(rec))
		for k, v := range rec {
			cp[k] = v
		}
		out = append(out, cp)
	}
	return out
}

// Len reports how many signals are buffered.
func (b *SampleBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}
