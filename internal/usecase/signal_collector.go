package usecase

import (
	"context"

	"CapTrades/internal/domain/models"
	drepo "CapTrades/internal/domain/repository"
	mid "CapTrades/internal/middleware"
)

// SignalCollector pulls baseline signals from the upstream stream and feeds
// them through the pipeline into the sample buffer.
type SignalCollector struct {
	stream  drepo.SignalStream
	pipe    *mid.FeedPipeline
	metrics drepo.Metrics
}

// NewSignalCollector creates a new SignalCollector instance.
func NewSignalCollector(stream drepo.SignalStream, pipe *mid.FeedPipeline, metrics drepo.Metrics) *SignalCollector {
	return &SignalCollector{stream: stream, pipe: pipe, metrics: metrics}
}

// IsConnected returns true if the signal stream is connected.
func (c *SignalCollector) IsConnected() bool {
	return c.stream.IsConnected()
}

func (c *SignalCollector) Start(ctx context.Context) error {
	if err := c.stream.Connect(ctx); err != nil {
		return err
	}
	if err := c.stream.Subscribe(ctx); err != nil {
		return err
	}
	recCh, errCh := c.stream.Read(ctx)
	go c.consume(ctx, recCh, errCh)
	return nil
}

func (c *SignalCollector) consume(ctx context.Context, recCh <-chan models.SignalRecord, errCh <-chan error) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errCh:
			if !ok {
				// The read goroutine closed both channels; a fresh Read is
				// needed after reconnecting.
				if recCh, errCh = c.reopen(ctx); recCh == nil {
					return
				}
				continue
			}
			if err != nil && c.metrics != nil {
				c.metrics.RecordError("stream")
			}
		case rec, ok := <-recCh:
			if !ok {
				if recCh, errCh = c.reopen(ctx); recCh == nil {
					return
				}
				continue
			}
			if rec == nil {
				continue
			}
			_ = c.pipe.Process(rec)
		}
	}
}

// reopen re-establishes the stream and returns fresh read channels. Nil
// channels mean the context was cancelled. Retry pacing comes from the
// stream's own reconnect delay.
func (c *SignalCollector) reopen(ctx context.Context) (<-chan models.SignalRecord, <-chan error) {
	for {
		if ctx.Err() != nil {
			return nil, nil
		}
		if err := c.stream.Reconnect(ctx); err != nil {
			if c.metrics != nil {
				c.metrics.RecordError("stream_reconnect")
			}
			continue
		}
		return c.stream.Read(ctx)
	}
}

// Shutdown closes the stream.
func (c *SignalCollector) Shutdown(ctx context.Context) error {
	return c.stream.Close()
}
