package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"FxPull/internal/domain/models"
	domrepo "FxPull/internal/domain/repository"
	applogger "FxPull/pkg/logger"
	"FxPull/pkg/queue"
)

const BackfillJobType = "backfill"

// RangeBackfiller stores 1m bars for an explicit range.
type RangeBackfiller interface {
	BackfillRange(ctx context.Context, pair string, start, end time.Time) (models.StoreResult, error)
}

// BackfillJob runs queued range backfills.
type BackfillJob struct {
	backfiller RangeBackfiller
	l          *applogger.Logger
}

func NewBackfillJob(b RangeBackfiller, l *applogger.Logger) *BackfillJob {
	if l == nil {
		l = applogger.Nop()
	}
	return &BackfillJob{backfiller: b, l: l}
}

func (j *BackfillJob) Name() string { return "range-backfill" }

func (j *BackfillJob) Type() string { return BackfillJobType }

func (j *BackfillJob) Handle(ctx context.Context, payload interface{}) error {
	p, err := queue.ParsePayload[models.BackfillJob](payload)
	if err != nil {
		return queue.NonRetryable(err)
	}

	res, err := j.backfiller.BackfillRange(ctx, p.Pair, p.Start, p.End)
	switch {
	case err == nil:
	case errors.Is(err, domrepo.ErrPairNotConfigured), errors.Is(err, domrepo.ErrInvalidRange):
		return queue.NonRetryable(err)
	case errors.Is(err, domrepo.ErrNoData):
		j.l.Warn("backfill found no data",
			applogger.String("job_id", p.ID),
			applogger.String("pair", p.Pair),
			applogger.Time("start", p.Start),
			applogger.Time("end", p.End),
		)
		return nil
	default:
		return fmt.Errorf("backfill job %s: %w", p.ID, err)
	}

	j.l.Info("backfill job done",
		applogger.String("job_id", p.ID),
		applogger.String("pair", p.Pair),
		applogger.Int("inserted", res.Inserted),
		applogger.Int("skipped", res.Skipped),
	)
	return nil
}

var _ queue.Job = (*BackfillJob)(nil)
