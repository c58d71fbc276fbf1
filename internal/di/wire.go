//go:build wireinject
// +build wireinject

package di

import (
	"CapTrades/pkg/config"
	"CapTrades/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		ProvideLogger,
		ProvideMetrics,

		// Sandbox
		ProvideSandbox,

		// Infrastructure clients
		ProvideClickHouseClient,
		ProvideKafkaProducer,
		ProvideKafkaConsumer,

		// Audit trail
		ProvideAuditStorage,
		ProvideAuditPublisher,
		ProvideAuditProcessor,

		// Sample feed
		ProvideSignalStream,
		ProvideSampleBuffer,
		ProvideSignalCollector,

		// Use cases and handlers
		ProvideLambdaRunner,
		ProvideValidationCache,
		ProvideLambdaHandler,
		ProvideSampleHandler,
		ProvideAuditHandler,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
