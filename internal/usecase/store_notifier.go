package usecase

import (
	"context"
	"time"

	"FxPull/internal/domain/models"
	domrepo "FxPull/internal/domain/repository"
	applogger "FxPull/pkg/logger"
)

// StoreNotifier announces and mirrors the rows a store wrote. Its failures
// are logged and never fail the store.
type StoreNotifier struct {
	publisher domrepo.EventPublisher
	sink      domrepo.CandleSink
	gaps      *GapFinder
	metrics   domrepo.Metrics
	l         *applogger.Logger
	now       func() time.Time
}

// NewStoreNotifier builds a notifier. A nil publisher or sink disables that
// side; a nil gap finder skips coverage invalidation.
func NewStoreNotifier(publisher domrepo.EventPublisher, sink domrepo.CandleSink, gaps *GapFinder, metrics domrepo.Metrics, l *applogger.Logger) *StoreNotifier {
	if l == nil {
		l = applogger.Nop()
	}
	return &StoreNotifier{
		publisher: publisher,
		sink:      sink,
		gaps:      gaps,
		metrics:   metrics,
		l:         l,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Stored handles one StoreCandles result. Only res.Written reaches the
// event range and the mirror, so rows that were already stored are left out.
func (n *StoreNotifier) Stored(ctx context.Context, pair string, tf domrepo.Timeframe, res models.StoreResult, source string) {
	if n == nil || len(res.Written) == 0 {
		return
	}
	written := res.Written
	if n.metrics != nil {
		n.metrics.RecordCandlesStored(pair, string(tf), len(written))
	}
	if n.gaps != nil {
		n.gaps.InvalidateCoverage(ctx, pair)
	}

	if n.publisher != nil {
		ev := models.CandlesStoredEvent{
			Pair:      pair,
			Timeframe: string(tf),
			Inserted:  res.Inserted,
			Updated:   res.Updated,
			First:     written[0].Timestamp,
			Last:      written[len(written)-1].Timestamp,
			Source:    source,
			At:        n.now(),
		}
		if err := n.publisher.PublishCandlesStored(ctx, ev); err != nil {
			n.recordError("publish")
			n.l.Warn("publish candles stored failed", applogger.String("pair", pair), applogger.String("tf", string(tf)), applogger.Error(err))
		}
	}
	if n.sink != nil {
		if err := n.sink.WriteCandles(ctx, pair, tf, written); err != nil {
			n.recordError("mirror")
			n.l.Warn("mirror candles failed", applogger.String("pair", pair), applogger.String("tf", string(tf)), applogger.Error(err))
		}
	}
}

func (n *StoreNotifier) recordError(kind string) {
	if n.metrics != nil {
		n.metrics.RecordError(kind)
	}
}
