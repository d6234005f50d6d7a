package server

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"FxPull/internal/usecase"
	"FxPull/pkg/config"
	xhttp "FxPull/pkg/http"
	pkgkafka "FxPull/pkg/kafka"
	applogger "FxPull/pkg/logger"
	"FxPull/pkg/queue"
)

type namedCloser struct {
	name string
	c    io.Closer
}

// App encapsulates the entire application lifecycle.
type App struct {
	cfg         *config.Config
	l           *applogger.Logger
	reg         *prometheus.Registry
	httpHandler xhttp.Handler
	httpServer  *xhttp.Server
	scheduler   *usecase.Scheduler
	consumer    *pkgkafka.Consumer
	kh          pkgkafka.MessageHandler
	queue       *queue.RedisQueue
	closers     []namedCloser
}

// New creates a new App instance with all dependencies.
func New(cfg *config.Config, l *applogger.Logger, reg *prometheus.Registry, handler xhttp.Handler, scheduler *usecase.Scheduler) *App {
	if l == nil {
		l = applogger.Nop()
	}
	return &App{cfg: cfg, l: l, reg: reg, httpHandler: handler, scheduler: scheduler}
}

// SetConsumer attaches the kafka consumer and its update request handler.
func (a *App) SetConsumer(c *pkgkafka.Consumer, h pkgkafka.MessageHandler) {
	a.consumer, a.kh = c, h
}

// SetQueue attaches the backfill queue.
func (a *App) SetQueue(q *queue.RedisQueue) { a.queue = q }

// AddCloser registers a resource closed during shutdown, in order.
func (a *App) AddCloser(name string, c io.Closer) {
	if c != nil {
		a.closers = append(a.closers, namedCloser{name: name, c: c})
	}
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.RunContext(ctx)
}

// RunContext starts every component and blocks until ctx is done or the
// HTTP server fails, then shuts down.
func (a *App) RunContext(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.httpServer = xhttp.NewServer(a.httpHandler,
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
		xhttp.WithMetrics(a.cfg.Metrics.Enabled, a.reg),
		xhttp.WithLogger(a.l),
	)

	if a.queue != nil {
		if err := a.queue.Start(); err != nil {
			return err
		}
	}

	if a.consumer != nil && a.kh != nil {
		a.consumer.RegisterHandler(a.kh)
		if err := a.consumer.Start(); err != nil {
			return err
		}
		a.l.Info("kafka consumer started", applogger.String("topic", a.kh.Topic()))
	}

	schedDone := make(chan struct{})
	if a.scheduler != nil {
		go func() {
			defer close(schedDone)
			if err := a.scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.l.Error("scheduler error", applogger.Error(err))
			}
		}()
	} else {
		close(schedDone)
	}

	errCh := a.httpServer.Start()

	var runErr error
	select {
	case <-ctx.Done():
		a.l.Info("shutdown signal received")
	case err, ok := <-errCh:
		if ok && err != nil {
			runErr = err
		}
	}
	cancel()

	a.shutdown(schedDone)
	return runErr
}

// shutdown gracefully stops all services.
func (a *App) shutdown(schedDone <-chan struct{}) {
	a.l.Info("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := a.httpServer.Stop(ctx); err != nil {
		a.l.Error("http shutdown error", applogger.Error(err))
	}
	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			a.l.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}
	if a.queue != nil {
		if err := a.queue.Stop(ctx); err != nil {
			a.l.Warn("queue stop error", applogger.Error(err))
		}
	}

	select {
	case <-schedDone:
	case <-ctx.Done():
		a.l.Warn("scheduler did not stop in time")
	}

	for _, nc := range a.closers {
		if err := nc.c.Close(); err != nil {
			a.l.Warn("close error", applogger.String("resource", nc.name), applogger.Error(err))
		}
	}
	a.l.Info("shutdown complete")
}
