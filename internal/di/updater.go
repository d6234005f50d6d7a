package di

import (
	"io"

	"FxPull/internal/domain/repository"
	"FxPull/internal/service/mt5"
	"FxPull/internal/usecase"
	"FxPull/pkg/cache"
	pkgch "FxPull/pkg/clickhouse"
	applogger "FxPull/pkg/logger"
)

// UpdaterRuntime is the dependency set of the one-shot updater command.
type UpdaterRuntime struct {
	Updater *usecase.Updater
	Logger  *applogger.Logger
	closers []io.Closer
}

// Close releases every resource, returning the first error.
func (r *UpdaterRuntime) Close() error {
	var first error
	for _, c := range r.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// ProvideUpdaterRuntime bundles the updater with what it must close.
func ProvideUpdaterRuntime(
	updater *usecase.Updater,
	l *applogger.Logger,
	store repository.PriceStore,
	mt5Client *mt5.Client,
	publisher repository.EventPublisher,
	chClient *pkgch.Client,
	c cache.Service,
) *UpdaterRuntime {
	rt := &UpdaterRuntime{Updater: updater, Logger: l}
	rt.closers = append(rt.closers, mt5Client, publisher)
	if chClient != nil {
		rt.closers = append(rt.closers, chClient)
	}
	rt.closers = append(rt.closers, c, store)
	return rt
}
