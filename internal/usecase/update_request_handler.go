package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"FxPull/internal/domain/models"
	domrepo "FxPull/internal/domain/repository"
	pkgkafka "FxPull/pkg/kafka"
	applogger "FxPull/pkg/logger"
)

// PairUpdater runs a single-pair update.
type PairUpdater interface {
	UpdatePair(ctx context.Context, pair string, opts models.UpdateOptions) error
}

// UpdateRequestHandler consumes update requests from Kafka.
type UpdateRequestHandler struct {
	topic   string
	updater PairUpdater
	metrics domrepo.Metrics
	l       *applogger.Logger
}

func NewUpdateRequestHandler(topic string, updater PairUpdater, metrics domrepo.Metrics, l *applogger.Logger) *UpdateRequestHandler {
	if l == nil {
		l = applogger.Nop()
	}
	return &UpdateRequestHandler{topic: topic, updater: updater, metrics: metrics, l: l}
}

func (h *UpdateRequestHandler) Topic() string { return h.topic }

// incoming message schema: {pair, latest, fill_gaps, resample, count}
// A request with no steps selected runs all of them.
func (h *UpdateRequestHandler) Handle(ctx context.Context, b []byte) error {
	var req models.UpdateRequest
	if err := json.Unmarshal(b, &req); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return pkgkafka.Permanent(fmt.Errorf("decode update request: %w", err))
	}
	if req.Pair == "" {
		return pkgkafka.Permanent(errors.New("update request without pair"))
	}

	opts := models.UpdateOptions{Latest: req.Latest, FillGaps: req.FillGaps, Resample: req.Resample, Count: req.Count}
	if !opts.Latest && !opts.FillGaps && !opts.Resample {
		opts.Latest, opts.FillGaps, opts.Resample = true, true, true
	}

	err := h.updater.UpdatePair(ctx, req.Pair, opts)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domrepo.ErrPairNotConfigured):
		h.metrics.RecordError("consumer_unknown_pair")
		return pkgkafka.Permanent(err)
	case errors.Is(err, domrepo.ErrPairLocked):
		// another instance is already updating the pair
		h.l.Info("update request skipped, pair locked", applogger.String("pair", req.Pair))
		return nil
	default:
		h.metrics.RecordError("consumer_update")
		return err
	}
}

var _ pkgkafka.MessageHandler = (*UpdateRequestHandler)(nil)
