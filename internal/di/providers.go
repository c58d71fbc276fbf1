package di

import (
	"context"
	"fmt"
	"time"

	"CapTrades/internal/domain/repository"
	"CapTrades/internal/handler/api"
	mid "CapTrades/internal/middleware"
	internalrepo "CapTrades/internal/repository"
	"CapTrades/internal/sandbox"
	icache "CapTrades/internal/service/cache"
	"CapTrades/internal/service/feed"
	"CapTrades/internal/usecase"
	pkgch "CapTrades/pkg/clickhouse"
	"CapTrades/pkg/config"
	pkgkafka "CapTrades/pkg/kafka"
	applogger "CapTrades/pkg/logger"
	"CapTrades/pkg/metrics"
	"CapTrades/pkg/server"
)

// errorLogTopic receives aggregated error logs when Kafka is configured.
const errorLogTopic = "captrades.error-logs"

// ProvideLogger creates the application logger. With a Kafka producer
// present, repeated error logs are aggregated and shipped to a topic.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*applogger.Logger, error) {
	level := "info"
	format := "json"
	if cfg.Environment == "development" {
		level = "debug"
		format = "console"
	}
	l, err := applogger.New(&applogger.Config{Level: level, Format: format, Output: "stdout"})
	if err != nil {
		return nil, err
	}
	if producer != nil {
		l.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   30 * time.Second,
			CountThreshold: 100,
			Topic:          errorLogTopic,
			Publisher:      kafkaLogPublisher{producer},
		})
	}
	return l, nil
}

// kafkaLogPublisher adapts the Kafka producer to the log collector sink.
type kafkaLogPublisher struct {
	p *pkgkafka.Producer
}

func (k kafkaLogPublisher) PublishMessage(ctx context.Context, topic string, payload interface{}) error {
	return k.p.Publish(ctx, topic, nil, payload)
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideSandbox creates the confined interpreter with the operator budget.
func ProvideSandbox(cfg *config.Config) *sandbox.Sandbox {
	return sandbox.New(sandbox.Budget{
		MaxSteps:       cfg.Sandbox.MaxSteps,
		Timeout:        cfg.Sandbox.Timeout,
		MaxOutputBytes: cfg.Sandbox.MaxOutputBytes,
	})
}

// ProvideClickHouseClient creates a ClickHouse client when the audit trail
// is backed by ClickHouse. Returns nil otherwise; downstream providers and
// the app tolerate the nil.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !cfg.Audit.Enabled || cfg.Audit.Backend != "clickhouse" {
		return nil, nil
	}

	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.InitSchema(ctx, []string{
		"CREATE DATABASE IF NOT EXISTS " + cfg.ClickHouse.Database,
	}); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}

	return client, nil
}

// ProvideKafkaProducer creates a Kafka producer for the audit trail when the
// audit backend is Kafka.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Audit.Enabled || cfg.Audit.Backend != "kafka" {
		return nil, nil
	}

	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}

	return producer, nil
}

// ProvideAuditStorage creates the ClickHouse audit sink and its table.
func ProvideAuditStorage(chClient *pkgch.Client, cfg *config.Config) (repository.AuditStorage, error) {
	if chClient == nil {
		return nil, nil
	}
	store := internalrepo.NewClickHouseAuditStorage(chClient.DB(), cfg.ClickHouse.Database+"."+cfg.Audit.Table)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("audit table: %w", err)
	}
	return store, nil
}

// ProvideAuditPublisher creates the Kafka audit sink.
func ProvideAuditPublisher(producer *pkgkafka.Producer, cfg *config.Config) repository.AuditPublisher {
	if producer == nil {
		return nil
	}
	return internalrepo.NewKafkaAuditPublisher(producer, cfg.Audit.Topic)
}

// ProvideAuditProcessor creates the batching audit writer.
func ProvideAuditProcessor(
	pub repository.AuditPublisher,
	store repository.AuditStorage,
	m repository.Metrics,
	l *applogger.Logger,
	cfg *config.Config,
) *usecase.AuditProcessor {
	if !cfg.Audit.Enabled {
		return nil
	}
	return usecase.NewAuditProcessor(pub, store, m, l, cfg.Audit.Backend, cfg.Audit.BatchSize, cfg.Audit.BatchTimeout)
}

// ProvideKafkaConsumer creates a Kafka consumer when the sample feed is
// sourced from a topic.
func ProvideKafkaConsumer(cfg *config.Config) (*pkgkafka.Consumer, error) {
	if !cfg.Feed.Enabled || cfg.Feed.Source != "kafka" {
		return nil, nil
	}

	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithConsumerHook(pkgkafka.NoopHook{})
	return consumer, nil
}

// ProvideSignalStream selects the sample feed source.
func ProvideSignalStream(cfg *config.Config, consumer *pkgkafka.Consumer) repository.SignalStream {
	if !cfg.Feed.Enabled {
		return nil
	}
	switch cfg.Feed.Source {
	case "kafka":
		return feed.NewKafkaStream(consumer, cfg.Feed.Topic)
	default:
		return feed.New(
			cfg.Feed.APIKey,
			cfg.Feed.WebSocketURL,
			cfg.Feed.Channels,
			cfg.Feed.ReconnectDelay,
			cfg.Feed.PingInterval,
		)
	}
}

// ProvideSampleBuffer creates the ring buffer behind /signals/sample.
func ProvideSampleBuffer(cfg *config.Config) *feed.SampleBuffer {
	return feed.NewSampleBuffer(cfg.Feed.BufferSize)
}

// ProvideSignalCollector creates the feed collector with its validation and
// throttling pipeline.
func ProvideSignalCollector(
	stream repository.SignalStream,
	buffer *feed.SampleBuffer,
	m repository.Metrics,
	cfg *config.Config,
) *usecase.SignalCollector {
	if stream == nil {
		return nil
	}
	pipe := mid.NewFeedPipeline(buffer, m,
		mid.WithMaxRPS(cfg.Feed.MaxRPS),
	)
	return usecase.NewSignalCollector(stream, pipe, m)
}

// ProvideLambdaRunner creates the transform orchestrator.
func ProvideLambdaRunner(
	sb *sandbox.Sandbox,
	audit *usecase.AuditProcessor,
	m repository.Metrics,
	l *applogger.Logger,
) *usecase.LambdaRunner {
	return usecase.NewLambdaRunner(sb, audit, m, l)
}

// ProvideValidationCache picks Redis when configured, in-process TTL
// otherwise.
func ProvideValidationCache(cfg *config.Config) icache.BytesCache {
	if cfg.Cache.Redis.Enabled {
		return icache.NewRedisCache(icache.RedisConfig{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
		})
	}
	return icache.NewTTLCache()
}

// ProvideLambdaHandler creates the sandbox boundary handler.
func ProvideLambdaHandler(runner *usecase.LambdaRunner, cache icache.BytesCache, cfg *config.Config, l *applogger.Logger) *api.LambdaHandler {
	h := api.NewLambdaHandler(runner, l)
	h.SetCache(cache)
	h.SetCacheTTL(cfg.Cache.ValidateTTL)
	return h
}

// ProvideSampleHandler creates the sample signals handler.
func ProvideSampleHandler(buffer *feed.SampleBuffer) *api.SampleHandler {
	return api.NewSampleHandler(buffer)
}

// ProvideAuditHandler exposes the audit trail when a queryable backend is
// configured.
func ProvideAuditHandler(store repository.AuditStorage, l *applogger.Logger) *api.AuditHandler {
	if store == nil {
		return nil
	}
	return api.NewAuditHandler(store, l)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	sb *sandbox.Sandbox,
	collector *usecase.SignalCollector,
	audit *usecase.AuditProcessor,
	chClient *pkgch.Client,
	lambdaH *api.LambdaHandler,
	sampleH *api.SampleHandler,
	auditH *api.AuditHandler,
) *server.App {
	app := server.New(cfg, sb, collector, audit, chClient)
	if auditH != nil {
		app.SetHTTPHandlers(lambdaH, sampleH, auditH)
	} else {
		app.SetHTTPHandlers(lambdaH, sampleH)
	}
	return app
}
