package di

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"FxPull/internal/domain/models"
	"FxPull/internal/domain/repository"
	"FxPull/internal/handler/api"
	internalrepo "FxPull/internal/repository"
	"FxPull/internal/service/calendar"
	"FxPull/internal/service/mt5"
	"FxPull/internal/usecase"
	"FxPull/pkg/cache"
	pkgch "FxPull/pkg/clickhouse"
	"FxPull/pkg/config"
	pkgkafka "FxPull/pkg/kafka"
	applogger "FxPull/pkg/logger"
	"FxPull/pkg/metrics"
	pkgpg "FxPull/pkg/postgres"
	"FxPull/pkg/queue"
	"FxPull/pkg/server"
	xutil "FxPull/pkg/util"
)

// ProvideLogger builds the app logger with its rotating file sink under
// paths.logs.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	file := ""
	if cfg.Logging.File != "" {
		file = filepath.Join(cfg.Paths.Logs, cfg.Logging.File)
	}
	l, err := applogger.New(&applogger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     "stdout",
		File:       file,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l, nil
}

// ProvideRegistry creates the registry shared by the recorder and /metrics.
func ProvideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics(reg *prometheus.Registry) repository.Metrics {
	return metrics.NewWithRegisterer(reg)
}

// ProvidePostgresClient opens the candle database pool.
func ProvidePostgresClient(cfg *config.Config) (*pkgpg.Client, error) {
	client, err := pkgpg.NewClient(
		pkgpg.WithDSN(cfg.DSN()),
		pkgpg.WithPool(cfg.Database.PoolSize, cfg.Database.MaxOverflow),
		pkgpg.WithPoolRecycle(cfg.Database.PoolRecycle),
		pkgpg.WithPrePing(cfg.Database.PrePing),
		pkgpg.WithQueryLogging(cfg.Logging.Level == "debug"),
	)
	if err != nil {
		return nil, fmt.Errorf("postgres client: %w", err)
	}
	return client, nil
}

// ProvidePriceStore creates the store and makes sure the schema exists.
func ProvidePriceStore(client *pkgpg.Client, l *applogger.Logger) (repository.PriceStore, error) {
	store := internalrepo.NewPostgresPriceStore(client, l)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("price store schema: %w", err)
	}
	return store, nil
}

// ProvideMT5Client creates the terminal client over the configured transport.
func ProvideMT5Client(cfg *config.Config, l *applogger.Logger) (*mt5.Client, error) {
	t, err := mt5.NewTransport(cfg, l)
	if err != nil {
		return nil, fmt.Errorf("mt5 transport: %w", err)
	}
	start, err := xutil.ParseDate(cfg.Data.StartDate)
	if err != nil {
		return nil, fmt.Errorf("data.start_date: %w", err)
	}
	return mt5.NewClient(t,
		mt5.WithCredentials(cfg.MT5.Login, cfg.MT5.Password, cfg.MT5.Server),
		mt5.WithTimeout(cfg.MT5.Timeout),
		mt5.WithStartDate(start),
		mt5.WithMaxCandlesPerRequest(cfg.Data.Update.MaxCandlesPerRequest),
		mt5.WithBreaker(cfg.MT5.Breaker.MaxFailures, cfg.MT5.Breaker.Timeout),
		mt5.WithRateLimit(cfg.MT5.RateLimit.RPS, cfg.MT5.RateLimit.Burst),
		mt5.WithLogger(l),
	), nil
}

// ProvideFetcher exposes the MT5 client as the domain fetcher.
func ProvideFetcher(c *mt5.Client) repository.Fetcher { return c }

// ProvideCalendar builds the trading-hours calendar.
func ProvideCalendar(cfg *config.Config) *calendar.Calendar {
	return calendar.FromConfig(cfg)
}

// ProvideRedisCache connects to Redis. Returns nil when redis is disabled.
func ProvideRedisCache(cfg *config.Config) (*cache.RedisCache, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	rc, err := cache.NewRedisCache(
		cache.WithRedisHost(cfg.Redis.Host),
		cache.WithRedisPort(cfg.Redis.Port),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	return rc, nil
}

// ProvideCache layers an in-process cache over Redis, or falls back to the
// in-process cache alone for single-instance runs.
func ProvideCache(cfg *config.Config, rc *cache.RedisCache) cache.Service {
	if rc == nil {
		return cache.NewMemoryCache(cache.WithMemoryMaxSize(10000), cache.WithMemoryCleanup(time.Minute))
	}
	return cache.NewLayeredCache(rc,
		cache.WithLayeredMemorySize(10000),
		cache.WithLayeredMemoryTTL(cfg.Cache.CoverageTTL/5),
	)
}

// ProvideLocker uses the cache locks for per-pair and scheduler locks.
func ProvideLocker(c cache.Service) repository.Locker { return c }

// ProvideKafkaProducer creates a Kafka producer. Returns nil when kafka is
// disabled.
func ProvideKafkaProducer(cfg *config.Config, reg *prometheus.Registry) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
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
		pkgkafka.WithProducerMetrics(reg),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideEventPublisher announces stored batches on kafka.topic.
func ProvideEventPublisher(producer *pkgkafka.Producer, cfg *config.Config) repository.EventPublisher {
	if producer == nil {
		return internalrepo.NoopEventPublisher{}
	}
	return internalrepo.NewKafkaEventPublisher(producer, cfg.Kafka.Topic)
}

// ProvideClickHouseClient creates a ClickHouse client. Returns nil when the
// mirror is disabled.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithAddress(cfg.ClickHouse.Host, cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, nil
}

// ProvideCandleSink mirrors stored candles into ClickHouse when enabled.
func ProvideCandleSink(client *pkgch.Client, cfg *config.Config, l *applogger.Logger) (repository.CandleSink, error) {
	if client == nil {
		return internalrepo.NoopCandleSink{}, nil
	}
	sink := internalrepo.NewCHCandleSink(client, cfg.ClickHouse.Database, l)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.InitSchema(ctx, sink.Schema()); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return sink, nil
}

// ProvideGapFinder creates the gap and coverage finder.
func ProvideGapFinder(store repository.PriceStore, cal *calendar.Calendar, c cache.Service, m repository.Metrics, cfg *config.Config, l *applogger.Logger) *usecase.GapFinder {
	return usecase.NewGapFinder(store, cal, c, cfg.Cache.CoverageTTL, m, l)
}

// ProvideStoreNotifier creates the notifier that announces and mirrors stored rows.
func ProvideStoreNotifier(publisher repository.EventPublisher, sink repository.CandleSink, gaps *usecase.GapFinder, m repository.Metrics, l *applogger.Logger) *usecase.StoreNotifier {
	return usecase.NewStoreNotifier(publisher, sink, gaps, m, l)
}

// ProvideResampler creates the timeframe resampler.
func ProvideResampler(store repository.PriceStore, notifier *usecase.StoreNotifier, m repository.Metrics, l *applogger.Logger) *usecase.Resampler {
	return usecase.NewResampler(store, notifier, m, l)
}

// ProvideUpdater creates the update orchestrator from data.update settings.
func ProvideUpdater(
	fetcher repository.Fetcher,
	store repository.PriceStore,
	gaps *usecase.GapFinder,
	resampler *usecase.Resampler,
	notifier *usecase.StoreNotifier,
	locker repository.Locker,
	cal *calendar.Calendar,
	m repository.Metrics,
	cfg *config.Config,
	l *applogger.Logger,
) *usecase.Updater {
	pairs := make([]models.CurrencyPair, 0, len(cfg.Data.CurrencyPairs))
	for _, p := range cfg.Data.CurrencyPairs {
		pairs = append(pairs, models.CurrencyPair{
			Name:        xutil.NormalizePair(p.Name),
			Description: p.Description,
			PipValue:    p.PipValue,
			SpreadAvg:   p.SpreadAvg,
		})
	}
	tfs := make([]repository.Timeframe, 0, len(cfg.Data.Timeframes))
	for _, tf := range cfg.Data.Timeframes {
		tfs = append(tfs, repository.Timeframe(tf))
	}

	u := cfg.Data.Update
	return usecase.NewUpdater(fetcher, store, gaps, resampler, notifier, locker, cal, m, l, usecase.UpdaterConfig{
		Pairs:                pairs,
		Timeframes:           tfs,
		MaxCandlesPerRequest: u.MaxCandlesPerRequest,
		MaxGapDays:           u.MaxGapDays,
		MaxWorkers:           u.MaxWorkers,
		RetryAttempts:        u.RetryAttempts,
		RetryDelay:           u.RetryDelay,
		LookbackDays:         u.LookbackDays,
		LockTTL:              cfg.Cache.LockTTL,
	})
}

// ProvideQueue creates the backfill queue on Redis. Returns nil when redis
// is disabled; backfills then run inline.
func ProvideQueue(cfg *config.Config, rc *cache.RedisCache, updater *usecase.Updater, l *applogger.Logger) *queue.RedisQueue {
	if rc == nil {
		return nil
	}
	q := queue.NewRedisQueue(l.With(applogger.String("component", "queue")), &queue.QueueConfig{
		Workers:    cfg.Queue.Workers,
		RetryLimit: cfg.Queue.RetryLimit,
		RetryDelay: cfg.Queue.RetryDelay,
	}, rc.Client(), queue.ModeProducerConsumer, queue.WithKeyPrefix(cfg.Redis.Prefix+":queue"))
	q.RegisterJob(usecase.NewBackfillJob(updater, l))
	return q
}

// ProvideCandlesUseCase creates the API use case.
func ProvideCandlesUseCase(
	store repository.PriceStore,
	updater *usecase.Updater,
	resampler *usecase.Resampler,
	gaps *usecase.GapFinder,
	q *queue.RedisQueue,
	l *applogger.Logger,
) *usecase.CandlesUseCase {
	// a nil *RedisQueue must not become a non-nil interface
	var qs queue.QueueService
	if q != nil {
		qs = q
	}
	return usecase.NewCandlesUseCase(store, updater, resampler, gaps, qs, l)
}

// ProvideHTTPHandler creates the price API handler.
func ProvideHTTPHandler(l *applogger.Logger, uc *usecase.CandlesUseCase) *api.PricesEchoHandler {
	return api.NewPricesEchoHandler(l, uc)
}

// ProvideKafkaConsumer creates the update request consumer. Returns nil
// when kafka is disabled.
func ProvideKafkaConsumer(cfg *config.Config, reg *prometheus.Registry, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled {
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
		pkgkafka.WithConsumerLogger(l),
		pkgkafka.WithConsumerMetrics(reg),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, nil
}

// ProvideUpdateRequestHandler handles messages on kafka.update_topic.
func ProvideUpdateRequestHandler(cfg *config.Config, updater *usecase.Updater, m repository.Metrics, l *applogger.Logger) *usecase.UpdateRequestHandler {
	return usecase.NewUpdateRequestHandler(cfg.Kafka.UpdateTopic, updater, m, l)
}

// ProvideScheduler runs the full update every data.update.frequency minutes.
func ProvideScheduler(updater *usecase.Updater, locker repository.Locker, cfg *config.Config, l *applogger.Logger) *usecase.Scheduler {
	interval := time.Duration(cfg.Data.Update.Frequency) * time.Minute
	return usecase.NewScheduler(updater, locker, interval, 0, l)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	reg *prometheus.Registry,
	handler *api.PricesEchoHandler,
	scheduler *usecase.Scheduler,
	consumer *pkgkafka.Consumer,
	kh *usecase.UpdateRequestHandler,
	q *queue.RedisQueue,
	store repository.PriceStore,
	mt5Client *mt5.Client,
	publisher repository.EventPublisher,
	chClient *pkgch.Client,
	c cache.Service,
) *server.App {
	app := server.New(cfg, l, reg, handler, scheduler)
	if consumer != nil {
		consumer.WithConsumerHook(pkgkafka.NewLoggingHook(l))
		app.SetConsumer(consumer, kh)
	}
	if q != nil {
		app.SetQueue(q)
	}
	// closed in order after everything else stopped
	app.AddCloser("mt5", mt5Client)
	app.AddCloser("publisher", publisher)
	if chClient != nil {
		app.AddCloser("clickhouse", chClient)
	}
	app.AddCloser("cache", c)
	app.AddCloser("postgres", store)
	return app
}
