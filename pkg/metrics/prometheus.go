package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	candlesFetched *prometheus.CounterVec
	candlesStored  *prometheus.CounterVec
	gaps           *prometheus.CounterVec
	pairUpdates    *prometheus.CounterVec
	lastUpdate     *prometheus.GaugeVec
	coverage       *prometheus.GaugeVec
	errorsTotal    *prometheus.CounterVec
	latency        *prometheus.HistogramVec
}

// New creates a recorder registered with the default registry.
func New() *Recorder {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer creates a recorder registered with reg.
func NewWithRegisterer(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		candlesFetched: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fxpull_candles_fetched_total",
				Help: "Bars read from the MT5 terminal",
			},
			[]string{"pair", "tf"},
		),
		candlesStored: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fxpull_candles_stored_total",
				Help: "Bars newly written to the price store",
			},
			[]string{"pair", "tf"},
		),
		gaps: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fxpull_gaps_total",
				Help: "Gaps seen by gap filling, by outcome",
			},
			[]string{"pair", "outcome"},
		),
		pairUpdates: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fxpull_pair_updates_total",
				Help: "Pair update runs by result",
			},
			[]string{"pair", "success"},
		),
		lastUpdate: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fxpull_pair_last_success_timestamp_seconds",
				Help: "Unix time of the last successful pair update",
			},
			[]string{"pair"},
		),
		coverage: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fxpull_coverage_percent",
				Help: "Last computed coverage of a stored series",
			},
			[]string{"pair", "tf"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fxpull_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fxpull_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"operation"},
		),
	}
}

func (r *Recorder) RecordCandlesFetched(pair, tf string, n int) {
	r.candlesFetched.WithLabelValues(pair, tf).Add(float64(n))
}

func (r *Recorder) RecordCandlesStored(pair, tf string, n int) {
	r.candlesStored.WithLabelValues(pair, tf).Add(float64(n))
}

// RecordGaps counts gaps by outcome: found, filled or skipped.
func (r *Recorder) RecordGaps(pair, outcome string, n int) {
	r.gaps.WithLabelValues(pair, outcome).Add(float64(n))
}

func (r *Recorder) RecordPairUpdate(pair string, ok bool) {
	r.pairUpdates.WithLabelValues(pair, strconv.FormatBool(ok)).Inc()
	if ok {
		r.lastUpdate.WithLabelValues(pair).SetToCurrentTime()
	}
}

func (r *Recorder) RecordCoverage(pair, tf string, percent float64) {
	r.coverage.WithLabelValues(pair, tf).Set(percent)
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// Nop discards all measurements.
type Nop struct{}

func (Nop) RecordCandlesFetched(string, string, int) {}
func (Nop) RecordCandlesStored(string, string, int)  {}
func (Nop) RecordGaps(string, string, int)           {}
func (Nop) RecordPairUpdate(string, bool)            {}
func (Nop) RecordCoverage(string, string, float64)   {}
func (Nop) RecordError(string)                       {}
func (Nop) RecordLatency(string, float64)            {}
