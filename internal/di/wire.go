//go:build wireinject
// +build wireinject

package di

import (
	"FxPull/pkg/config"
	"FxPull/pkg/server"

	"github.com/google/wire"
)

// coreSet builds the update pipeline shared by the server and the updater
// command.
var coreSet = wire.NewSet(
	// Observability
	ProvideLogger,
	ProvideRegistry,
	ProvideMetrics,

	// Infrastructure clients
	ProvidePostgresClient,
	ProvideMT5Client,
	ProvideRedisCache,
	ProvideKafkaProducer,
	ProvideClickHouseClient,

	// Repositories
	ProvidePriceStore,
	ProvideFetcher,
	ProvideCache,
	ProvideLocker,
	ProvideEventPublisher,
	ProvideCandleSink,

	// Use cases
	ProvideCalendar,
	ProvideGapFinder,
	ProvideStoreNotifier,
	ProvideResampler,
	ProvideUpdater,
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		coreSet,
		ProvideQueue,
		ProvideCandlesUseCase,
		ProvideHTTPHandler,
		ProvideKafkaConsumer,
		ProvideUpdateRequestHandler,
		ProvideScheduler,
		ProvideApp,
	)
	return &server.App{}, nil
}

// InitializeUpdater wires the one-shot updater command.
func InitializeUpdater(cfg *config.Config) (*UpdaterRuntime, error) {
	wire.Build(
		coreSet,
		ProvideUpdaterRuntime,
	)
	return &UpdaterRuntime{}, nil
}
