package feed

import (
	"context"
	"encoding/json"
	"fmt"

	"CapTrades/internal/domain/models"
	drepo "CapTrades/internal/domain/repository"
	pkgkafka "CapTrades/pkg/kafka"
)

// KafkaStream implements a SignalStream backed by a Kafka topic, for
// deployments where the signal pipeline publishes to a broker instead of
// exposing a WebSocket.
type KafkaStream struct {
	consumer *pkgkafka.Consumer
	topic    string
	out      chan models.SignalRecord
	errs     chan error
	started  bool
}

// NewKafkaStream creates a Kafka-backed SignalStream.
func NewKafkaStream(consumer *pkgkafka.Consumer, topic string) drepo.SignalStream {
	return &KafkaStream{
		consumer: consumer,
		topic:    topic,
		out:      make(chan models.SignalRecord, 1024),
		errs:     make(chan error, 1),
	}
}

type signalsHandler struct {
	topic string
	out   chan<- models.SignalRecord
}

func (h *signalsHandler) Topic() string { return h.topic }

func (h *signalsHandler) Handle(_ context.Context, data []byte) error {
	var rec models.SignalRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return fmt.Errorf("decode signal: %w", err)
	}
	select {
	case h.out <- rec:
	default:
		// drop on backpressure
	}
	return nil
}

// Connect registers the topic handler and starts the consumer.
func (s *KafkaStream) Connect(_ context.Context) error {
	s.consumer.RegisterHandler(&signalsHandler{topic: s.topic, out: s.out})
	if err := s.consumer.Start(); err != nil {
		return fmt.Errorf("feed consumer start: %w", err)
	}
	s.started = true
	return nil
}

// Subscribe is a no-op; topic subscription happens on Connect.
func (s *KafkaStream) Subscribe(_ context.Context) error { return nil }

// Read returns the record and error channels.
func (s *KafkaStream) Read(_ context.Context) (<-chan models.SignalRecord, <-chan error) {
	return s.out, s.errs
}

// Reconnect is a no-op; the consumer reconnects internally.
func (s *KafkaStream) Reconnect(_ context.Context) error { return nil }

// Close stops the consumer.
func (s *KafkaStream) Close() error {
	if !s.started {
		return nil
	}
	s.started = false
	return s.consumer.Stop(context.Background())
}

// IsConnected indicates status.
func (s *KafkaStream) IsConnected() bool { return s.started }
