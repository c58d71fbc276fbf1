package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"CapTrades/internal/domain/models"
	"CapTrades/internal/domain/repository"
	pkgkafka "CapTrades/pkg/kafka"
)

// ClickHouseAuditStorage implements AuditStorage for ClickHouse.
type ClickHouseAuditStorage struct {
	db    *sql.DB
	table string
}

// NewClickHouseAuditStorage creates ClickHouse audit storage.
func NewClickHouseAuditStorage(db *sql.DB, table string) repository.AuditStorage {
	return &ClickHouseAuditStorage{db: db, table: table}
}

func (s *ClickHouseAuditStorage) Init(ctx context.Context) error {
	q := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts DateTime64(3),
		code_hash String,
		status LowCardinality(String),
		input_count UInt32,
		output_count UInt32,
		steps UInt64,
		duration_ms Float64,
		error String
	) ENGINE = MergeTree() ORDER BY (ts, status)`, s.table)
	_, err := s.db.ExecContext(ctx, q)
	return err
}

func (s *ClickHouseAuditStorage) Store(ctx context.Context, rec *models.AuditRecord) error {
	return s.StoreBatch(ctx, []*models.AuditRecord{rec})
}

func (s *ClickHouseAuditStorage) StoreBatch(ctx context.Context, recs []*models.AuditRecord) error {
	if len(recs) == 0 {
		return nil
	}
	// Multi-row VALUES insert to reduce round-trips.
	values := make([]string, 0, len(recs))
	args := make([]interface{}, 0, len(recs)*8)
	for _, r := range recs {
		if r == nil || r.CodeHash == "" {
			continue
		}
		values = append(values, "(?, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args,
			r.Timestamp,
			r.CodeHash,
			r.Status,
			uint32(r.InputCount),
			uint32(r.OutputCount),
			uint64(r.Steps),
			r.DurationMs,
			r.Error,
		)
	}
	if len(values) == 0 {
		return nil
	}
	q := fmt.Sprintf("INSERT INTO %s (ts, code_hash, status, input_count, output_count, steps, duration_ms, error) VALUES %s",
		s.table, strings.Join(values, ","))
	_, err := s.db.ExecContext(ctx, q, args...)
	return err
}

func (s *ClickHouseAuditStorage) Query(ctx context.Context, status string, from, to time.Time, limit int) ([]*models.AuditRecord, error) {
	q := fmt.Sprintf("SELECT ts, code_hash, status, input_count, output_count, steps, duration_ms, error FROM %s WHERE status = ? AND ts >= ? AND ts <= ? ORDER BY ts DESC LIMIT ?", s.table)
	rows, err := s.db.QueryContext(ctx, q, status, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*models.AuditRecord
	for rows.Next() {
		var r models.AuditRecord
		var in, out uint32
		var steps uint64
		if err := rows.Scan(&r.Timestamp, &r.CodeHash, &r.Status, &in, &out, &steps, &r.DurationMs, &r.Error); err != nil {
			return nil, err
		}
		r.InputCount = int(in)
		r.OutputCount = int(out)
		r.Steps = int(steps)
		recs = append(recs, &r)
	}
	return recs, rows.Err()
}

func (s *ClickHouseAuditStorage) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *ClickHouseAuditStorage) Close() error {
	return nil // Managed by pkg
}

// KafkaAuditPublisher implements AuditPublisher for Kafka.
type KafkaAuditPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

// NewKafkaAuditPublisher creates Kafka audit publisher.
func NewKafkaAuditPublisher(producer *pkgkafka.Producer, topic string) repository.AuditPublisher {
	return &KafkaAuditPublisher{producer: producer, topic: topic}
}

func (p *KafkaAuditPublisher) Publish(ctx context.Context, rec *models.AuditRecord) error {
	return p.producer.Publish(ctx, p.topic, []byte(rec.CodeHash), rec)
}

func (p *KafkaAuditPublisher) PublishBatch(ctx context.Context, recs []*models.AuditRecord) error {
	if len(recs) == 0 {
		return nil
	}
	msgs := make([]pkgkafka.Message, len(recs))
	for i, r := range recs {
		msgs[i] = pkgkafka.Message{Key: []byte(r.CodeHash), Value: r}
	}
	return p.producer.PublishBatch(ctx, p.topic, msgs)
}

func (p *KafkaAuditPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}
