package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"FxPull/internal/domain/models"
	domrepo "FxPull/internal/domain/repository"
)

func bar(ts time.Time, o, h, l, c, v float64) models.Candle {
	return models.Candle{Timestamp: ts, Open: o, High: h, Low: l, Close: c, Volume: v}
}

func TestResampleAggregates(t *testing.T) {
	base := time.Date(2024, 3, 6, 10, 0, 0, 0, time.UTC)
	in := []models.Candle{
		bar(base.Add(6*time.Minute), 1.6, 1.9, 1.5, 1.7, 4), // out of order on purpose
		bar(base, 1.0, 1.2, 0.9, 1.1, 1),
		bar(base.Add(time.Minute), 1.1, 1.5, 1.0, 1.4, 2),
		bar(base.Add(4*time.Minute), 1.4, 1.4, 0.8, 1.3, 3),
	}

	out, err := Resample(in, domrepo.TF1m, domrepo.TF5m)
	if err != nil {
		t.Fatalf("resample: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d buckets, want 2", len(out))
	}
	got := out[0]
	if !got.Timestamp.Equal(base) || got.Open != 1.0 || got.High != 1.5 || got.Low != 0.8 || got.Close != 1.3 || got.Volume != 6 {
		t.Fatalf("first bucket = %+v", got)
	}
	if !out[1].Timestamp.Equal(base.Add(5*time.Minute)) || out[1].Volume != 4 {
		t.Fatalf("second bucket = %+v", out[1])
	}
	if !in[0].Timestamp.Equal(base.Add(6 * time.Minute)) {
		t.Fatalf("input was reordered")
	}
}

func TestResampleDailyAlignsToUTCMidnight(t *testing.T) {
	day := time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC)
	in := []models.Candle{
		bar(day.Add(23*time.Hour+59*time.Minute), 1, 1, 1, 1, 1),
		bar(day.Add(24*time.Hour), 2, 2, 2, 2, 1),
	}
	out, err := Resample(in, domrepo.TF1m, domrepo.TF1d)
	if err != nil {
		t.Fatalf("resample: %v", err)
	}
	if len(out) != 2 || !out[0].Timestamp.Equal(day) || !out[1].Timestamp.Equal(day.Add(24*time.Hour)) {
		t.Fatalf("unexpected daily buckets %+v", out)
	}
}

func TestResampleErrors(t *testing.T) {
	c := []models.Candle{bar(time.Date(2024, 3, 6, 10, 0, 0, 0, time.UTC), 1, 1, 1, 1, 1)}
	tests := []struct {
		name     string
		in       []models.Candle
		src, dst domrepo.Timeframe
		want     error
	}{
		{"empty", nil, domrepo.TF1m, domrepo.TF5m, domrepo.ErrNoData},
		{"bad source", c, "2m", domrepo.TF5m, domrepo.ErrInvalidTimeframe},
		{"bad target", c, domrepo.TF1m, "3h", domrepo.ErrInvalidTimeframe},
		{"finer target", c, domrepo.TF1h, domrepo.TF5m, domrepo.ErrInvalidTimeframe},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Resample(tt.in, tt.src, tt.dst); !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}

	same, err := Resample(c, domrepo.TF5m, domrepo.TF5m)
	if err != nil || len(same) != 1 {
		t.Fatalf("identity resample = %v, %v", same, err)
	}
}

func TestResampleLatestSkipsPartialLeadingBucket(t *testing.T) {
	store := newFakeStore()
	r := NewResampler(store, nil, newFakeMetrics(), nil)
	r.now = func() time.Time { return testNow }

	// the window starts at 10:30:20 one day back, inside the 10:30 5m bucket
	start := testNow.AddDate(0, 0, -1)
	store.seed("EURUSD", domrepo.TF1m,
		start.Truncate(time.Minute).Add(time.Minute), // 10:31, partial 10:30 bucket
		start.Truncate(time.Minute).Add(5*time.Minute),
	)

	res := r.ResampleLatest(context.Background(), "EURUSD", []domrepo.Timeframe{domrepo.TF1m, domrepo.TF5m, domrepo.TF1h}, 1)
	if !res[domrepo.TF1m] || !res[domrepo.TF5m] {
		t.Fatalf("unexpected results %v", res)
	}
	got := store.sorted("EURUSD", domrepo.TF5m)
	if len(got) != 1 || !got[0].Timestamp.Equal(time.Date(2024, 3, 5, 10, 35, 0, 0, time.UTC)) {
		t.Fatalf("5m bars = %+v", got)
	}
	// the only 1h bucket starts before the window
	if res[domrepo.TF1h] {
		t.Fatalf("1h should report failure when nothing complete was stored")
	}
}

func TestResampleLatestWithoutData(t *testing.T) {
	r := NewResampler(newFakeStore(), nil, newFakeMetrics(), nil)
	res := r.ResampleLatest(context.Background(), "EURUSD", []domrepo.Timeframe{domrepo.TF1m, domrepo.TF5m}, 30)
	if res[domrepo.TF1m] || res[domrepo.TF5m] {
		t.Fatalf("expected all false without data, got %v", res)
	}
}

func TestGetResampled(t *testing.T) {
	store := newFakeStore()
	r := NewResampler(store, nil, newFakeMetrics(), nil)
	base := time.Date(2024, 3, 6, 10, 0, 0, 0, time.UTC)
	store.seed("EURUSD", domrepo.TF1m, base, base.Add(time.Minute), base.Add(15*time.Minute))

	out, err := r.GetResampled(context.Background(), "EURUSD", domrepo.TF15m, models.CandleQuery{}, true)
	if err != nil {
		t.Fatalf("get resampled: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d bars, want 2", len(out))
	}
	if store.count("EURUSD", domrepo.TF15m) != 2 {
		t.Fatalf("resampled bars not stored")
	}

	// stored 15m rows are served directly
	store.seed("EURUSD", domrepo.TF15m, base.Add(30*time.Minute))
	out, err = r.GetResampled(context.Background(), "EURUSD", domrepo.TF15m, models.CandleQuery{}, false)
	if err != nil || len(out) != 3 {
		t.Fatalf("stored read = %d bars, %v", len(out), err)
	}

	if _, err := r.GetResampled(context.Background(), "USDJPY", domrepo.TF1h, models.CandleQuery{}, false); !errors.Is(err, domrepo.ErrNoData) {
		t.Fatalf("expected ErrNoData, got %v", err)
	}
}

func TestResampleLatestNotifies(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}
	sink := &fakeSink{}
	r := NewResampler(store, NewStoreNotifier(pub, sink, nil, newFakeMetrics(), nil), newFakeMetrics(), nil)
	r.now = func() time.Time { return testNow }

	base := testNow.Truncate(time.Hour).Add(-time.Hour) // 09:00
	var ts []time.Time
	for i := 0; i < 10; i++ {
		ts = append(ts, base.Add(time.Duration(i)*time.Minute))
	}
	store.seed("EURUSD", domrepo.TF1m, ts...)

	r.ResampleLatest(context.Background(), "EURUSD", []domrepo.Timeframe{domrepo.TF5m}, 1)
	if len(pub.events) != 1 {
		t.Fatalf("expected one event, got %d", len(pub.events))
	}
	ev := pub.events[0]
	if ev.Source != "resample" || ev.Timeframe != "5m" || ev.Inserted != 2 || !ev.First.Equal(base) || !ev.Last.Equal(base.Add(5*time.Minute)) {
		t.Fatalf("event = %+v", ev)
	}
	if sink.written != 2 {
		t.Fatalf("mirrored %d candles, want 2", sink.written)
	}

	// unchanged buckets are not announced again
	r.ResampleLatest(context.Background(), "EURUSD", []domrepo.Timeframe{domrepo.TF5m}, 1)
	if len(pub.events) != 1 || sink.written != 2 {
		t.Fatalf("rerun announced %d events, mirrored %d", len(pub.events), sink.written)
	}
}

func TestGetResampledBoundsReads(t *testing.T) {
	base := time.Date(2024, 3, 6, 10, 0, 0, 0, time.UTC)
	minutes := func(n int) []time.Time {
		out := make([]time.Time, n)
		for i := range out {
			out[i] = base.Add(time.Duration(i) * time.Minute)
		}
		return out
	}

	tests := []struct {
		name      string
		q         models.CandleQuery
		wantM1    int
		wantBars  int
		wantFirst time.Time
	}{
		{"latest", models.CandleQuery{Limit: 2, Latest: true}, 15, 2, base.Add(50 * time.Minute)},
		{"earliest", models.CandleQuery{Limit: 2}, 15, 2, base},
		{"unbounded", models.CandleQuery{}, 0, 12, base},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			// 10:00 to 10:57, the last 5m bucket is short
			store.seed("EURUSD", domrepo.TF1m, minutes(58)...)
			r := NewResampler(store, nil, newFakeMetrics(), nil)

			out, err := r.GetResampled(context.Background(), "EURUSD", domrepo.TF5m, tt.q, false)
			if err != nil {
				t.Fatalf("get resampled: %v", err)
			}
			if len(store.reads) != 2 {
				t.Fatalf("reads = %+v", store.reads)
			}
			if got := store.reads[0]; got.tf != domrepo.TF5m || got.q.Limit != tt.q.Limit || got.q.Latest != tt.q.Latest {
				t.Fatalf("stored table read = %+v", got)
			}
			if got := store.reads[1]; got.tf != domrepo.TF1m || got.q.Limit != tt.wantM1 || got.q.Latest != tt.q.Latest {
				t.Fatalf("1m read = %+v, want limit %d", got, tt.wantM1)
			}
			if len(out) != tt.wantBars || !out[0].Timestamp.Equal(tt.wantFirst) {
				t.Fatalf("got %d bars from %v, want %d from %v", len(out), out[0].Timestamp, tt.wantBars, tt.wantFirst)
			}
		})
	}
}
