package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"FxPull/internal/domain/models"
	domrepo "FxPull/internal/domain/repository"
	pkgkafka "FxPull/pkg/kafka"
	"FxPull/pkg/queue"
)

type stubPairUpdater struct {
	err  error
	pair string
	opts models.UpdateOptions
}

func (s *stubPairUpdater) UpdatePair(_ context.Context, pair string, opts models.UpdateOptions) error {
	s.pair, s.opts = pair, opts
	return s.err
}

func TestUpdateRequestHandler(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		err       error
		wantErr   bool
		permanent bool
	}{
		{"ok", `{"pair":"EURUSD","latest":true}`, nil, false, false},
		{"bad json", `{"pair":`, nil, true, true},
		{"missing pair", `{"latest":true}`, nil, true, true},
		{"unknown pair", `{"pair":"XAUUSD"}`, fmt.Errorf("%w: XAUUSD", domrepo.ErrPairNotConfigured), true, true},
		{"locked", `{"pair":"EURUSD"}`, domrepo.ErrPairLocked, false, false},
		{"transient", `{"pair":"EURUSD"}`, errors.New("bridge timeout"), true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			up := &stubPairUpdater{err: tt.err}
			h := NewUpdateRequestHandler("fx.update", up, newFakeMetrics(), nil)
			err := h.Handle(context.Background(), []byte(tt.body))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if pkgkafka.IsPermanent(err) != tt.permanent {
				t.Fatalf("permanent = %v, want %v", pkgkafka.IsPermanent(err), tt.permanent)
			}
		})
	}
}

func TestUpdateRequestHandlerDefaultsToAllSteps(t *testing.T) {
	up := &stubPairUpdater{}
	h := NewUpdateRequestHandler("fx.update", up, newFakeMetrics(), nil)
	if h.Topic() != "fx.update" {
		t.Fatalf("topic = %s", h.Topic())
	}
	if err := h.Handle(context.Background(), []byte(`{"pair":"EURUSD","count":50}`)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	want := models.UpdateOptions{Latest: true, FillGaps: true, Resample: true, Count: 50}
	if up.pair != "EURUSD" || up.opts != want {
		t.Fatalf("got %s %+v", up.pair, up.opts)
	}
}

type stubBackfiller struct {
	err        error
	pair       string
	start, end time.Time
}

func (s *stubBackfiller) BackfillRange(_ context.Context, pair string, start, end time.Time) (models.StoreResult, error) {
	s.pair, s.start, s.end = pair, start, end
	return models.StoreResult{Inserted: 10}, s.err
}

func TestBackfillJob(t *testing.T) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	payload := map[string]interface{}{
		"id":    "job-1",
		"pair":  "EURUSD",
		"start": start.Format(time.RFC3339),
		"end":   start.Add(24 * time.Hour).Format(time.RFC3339),
	}

	tests := []struct {
		name         string
		payload      interface{}
		err          error
		wantErr      bool
		nonRetryable bool
	}{
		{"ok", payload, nil, false, false},
		{"bad payload", 17, nil, true, true},
		{"unknown pair", payload, domrepo.ErrPairNotConfigured, true, true},
		{"bad range", payload, domrepo.ErrInvalidRange, true, true},
		{"no data", payload, domrepo.ErrNoData, false, false},
		{"transient", payload, errors.New("db down"), true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &stubBackfiller{err: tt.err}
			job := NewBackfillJob(b, nil)
			err := job.Handle(context.Background(), tt.payload)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if queue.IsNonRetryable(err) != tt.nonRetryable {
				t.Fatalf("non-retryable = %v, want %v", queue.IsNonRetryable(err), tt.nonRetryable)
			}
		})
	}

	b := &stubBackfiller{}
	job := NewBackfillJob(b, nil)
	if job.Type() != BackfillJobType {
		t.Fatalf("type = %s", job.Type())
	}
	if err := job.Handle(context.Background(), payload); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if b.pair != "EURUSD" || !b.start.Equal(start) || !b.end.Equal(start.Add(24*time.Hour)) {
		t.Fatalf("unexpected call %s %v %v", b.pair, b.start, b.end)
	}
}
