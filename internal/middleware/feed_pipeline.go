package middleware

import (
	"fmt"
	"sync"
	"time"

	"CapTrades/internal/domain/models"
	domrepo "CapTrades/internal/domain/repository"
)

// Sink receives validated signals from the pipeline.
type Sink interface {
	Add(rec models.SignalRecord)
}

// FeedPipeline sits between the signal stream and the sample buffer.
// It validates incoming records, throttles per ticker, and optionally
// transforms before forwarding.
type FeedPipeline struct {
	sink     Sink
	metrics  domrepo.Metrics
	maxRPS   int
	mu       sync.Mutex
	lastSeen map[string]time.Time // per-ticker last accepted time
	// optional format transform hook
	transform func(models.SignalRecord) models.SignalRecord
}

type PipelineOption func(*FeedPipeline)

// WithMaxRPS sets the max records per second per ticker.
func WithMaxRPS(n int) PipelineOption {
	return func(p *FeedPipeline) {
		if n > 0 {
			p.maxRPS = n
		}
	}
}

// WithTransform sets a transformation hook to normalize record format.
func WithTransform(fn func(models.SignalRecord) models.SignalRecord) PipelineOption {
	return func(p *FeedPipeline) { p.transform = fn }
}

// NewFeedPipeline creates a new pipeline.
func NewFeedPipeline(sink Sink, metrics domrepo.Metrics, opts ...PipelineOption) *FeedPipeline {
	p := &FeedPipeline{
		sink:     sink,
		metrics:  metrics,
		maxRPS:   20, // default throttle per ticker
		lastSeen: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process validates, throttles, and forwards a signal to the sink.
func (p *FeedPipeline) Process(rec models.SignalRecord) error {
	start := time.Now()
	if err := validateSignal(rec); err != nil {
		if p.metrics != nil {
			p.metrics.RecordError("pipeline_validate")
		}
		return err
	}
	if p.transform != nil {
		rec = p.transform(rec)
		if err := validateSignal(rec); err != nil {
			if p.metrics != nil {
				p.metrics.RecordError("pipeline_transform_invalid")
			}
			return err
		}
	}
	ticker, _ := rec["ticker"].(string)
	if !p.allow(ticker, start) {
		// throttled; record and drop silently
		if p.metrics != nil {
			p.metrics.RecordError("pipeline_throttle")
		}
		return nil
	}

	p.sink.Add(rec)
	if p.metrics != nil {
		p.metrics.RecordLatency("pipeline_process", time.Since(start).Seconds())
	}
	return nil
}

// validateSignal rejects records the sandbox could not accept later: a
// missing ticker or non-scalar field values.
func validateSignal(rec models.SignalRecord) error {
	if rec == nil {
		return fmt.Errorf("signal nil")
	}
	ticker, ok := rec["ticker"].(string)
	if !ok || ticker == "" {
		return fmt.Errorf("ticker missing")
	}
	for k, v := range rec {
		switch v.(type) {
		case nil, bool, float64, int, int64, string:
		default:
			return fmt.Errorf("field %q is not a scalar", k)
		}
	}
	return nil
}

func (p *FeedPipeline) allow(ticker string, now time.Time) bool {
	if p.maxRPS <= 0 {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	last := p.lastSeen[ticker]
	if last.IsZero() {
		p.lastSeen[ticker] = now
		return true
	}
	if now.Sub(last) < time.Second/time.Duration(p.maxRPS) {
		return false
	}
	p.lastSeen[ticker] = now
	return true
}
