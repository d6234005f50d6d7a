package usecase

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"FxPull/internal/domain/models"
	domrepo "FxPull/internal/domain/repository"
)

type fakeStore struct {
	mu       sync.Mutex
	rows     map[string]map[domrepo.Timeframe]map[time.Time]models.Candle
	pairs    map[string]uint
	storeErr error
	stores   int
	reads    []storeRead
}

type storeRead struct {
	tf domrepo.Timeframe
	q  models.CandleQuery
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		rows:  make(map[string]map[domrepo.Timeframe]map[time.Time]models.Candle),
		pairs: make(map[string]uint),
	}
}

func (s *fakeStore) seed(pair string, tf domrepo.Timeframe, ts ...time.Time) {
	candles := make([]models.Candle, 0, len(ts))
	for _, t := range ts {
		candles = append(candles, models.Candle{Timestamp: t, Open: 1, High: 1, Low: 1, Close: 1, Volume: 1})
	}
	_, _ = s.StoreCandles(context.Background(), pair, tf, candles)
}

func (s *fakeStore) table(pair string, tf domrepo.Timeframe) map[time.Time]models.Candle {
	if s.rows[pair] == nil {
		s.rows[pair] = make(map[domrepo.Timeframe]map[time.Time]models.Candle)
	}
	if s.rows[pair][tf] == nil {
		s.rows[pair][tf] = make(map[time.Time]models.Candle)
	}
	return s.rows[pair][tf]
}

func (s *fakeStore) sorted(pair string, tf domrepo.Timeframe) []models.Candle {
	t := s.table(pair, tf)
	out := make([]models.Candle, 0, len(t))
	for _, c := range t {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

func (s *fakeStore) count(pair string, tf domrepo.Timeframe) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.table(pair, tf))
}

func (s *fakeStore) EnsureSchema(context.Context) error { return nil }

func (s *fakeStore) EnsureCurrencyPairs(_ context.Context, pairs []models.CurrencyPair) (map[string]uint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(pairs) == 0 {
		return nil, domrepo.ErrNoPairsConfigured
	}
	out := make(map[string]uint, len(pairs))
	for _, p := range pairs {
		if _, ok := s.pairs[p.Name]; !ok {
			s.pairs[p.Name] = uint(len(s.pairs) + 1)
		}
		out[p.Name] = s.pairs[p.Name]
	}
	return out, nil
}

func (s *fakeStore) EnsurePriceTable(context.Context, string, domrepo.Timeframe) error { return nil }

func (s *fakeStore) ListCurrencyPairs(context.Context) ([]models.CurrencyPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.CurrencyPair, 0, len(s.pairs))
	for name, id := range s.pairs {
		out = append(out, models.CurrencyPair{ID: id, Name: name})
	}
	return out, nil
}

func (s *fakeStore) StoreCandles(_ context.Context, pair string, tf domrepo.Timeframe, candles []models.Candle) (models.StoreResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stores++
	if s.storeErr != nil {
		return models.StoreResult{}, s.storeErr
	}
	t := s.table(pair, tf)
	var res models.StoreResult
	for _, c := range candles {
		c.Timestamp = c.Timestamp.UTC()
		old, exists := t[c.Timestamp]
		switch {
		case !exists:
			res.Inserted++
		case tf == domrepo.TF1m || old == c:
			res.Skipped++
			continue
		default:
			res.Updated++
		}
		t[c.Timestamp] = c
		res.Written = append(res.Written, c)
	}
	sort.Slice(res.Written, func(i, j int) bool { return res.Written[i].Timestamp.Before(res.Written[j].Timestamp) })
	return res, nil
}

func (s *fakeStore) GetCandles(_ context.Context, pair string, tf domrepo.Timeframe, q models.CandleQuery) ([]models.Candle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads = append(s.reads, storeRead{tf: tf, q: q})
	var out []models.Candle
	for _, c := range s.sorted(pair, tf) {
		if q.Start != nil && c.Timestamp.Before(*q.Start) {
			continue
		}
		if q.End != nil && c.Timestamp.After(*q.End) {
			continue
		}
		out = append(out, c)
	}
	if q.Limit > 0 && len(out) > q.Limit {
		if q.Latest {
			out = out[len(out)-q.Limit:]
		} else {
			out = out[:q.Limit]
		}
	}
	if len(out) == 0 {
		return nil, domrepo.ErrNoData
	}
	return out, nil
}

func (s *fakeStore) Timestamps(_ context.Context, pair string, tf domrepo.Timeframe) ([]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.sorted(pair, tf)
	if len(rows) == 0 {
		return nil, domrepo.ErrNoData
	}
	ts := make([]time.Time, len(rows))
	for i, c := range rows {
		ts[i] = c.Timestamp
	}
	return ts, nil
}

func (s *fakeStore) Stats(_ context.Context, pair string, tf domrepo.Timeframe) (models.TableStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.sorted(pair, tf)
	if len(rows) == 0 {
		return models.TableStats{}, domrepo.ErrNoData
	}
	return models.TableStats{Min: rows[0].Timestamp, Max: rows[len(rows)-1].Timestamp, Count: int64(len(rows))}, nil
}

func (s *fakeStore) Health(context.Context) error { return nil }
func (s *fakeStore) Close() error                 { return nil }

// minuteRates builds 1m bars in [from, to].
func minuteRates(from, to time.Time) []models.Rate {
	var out []models.Rate
	for t := from; !t.After(to); t = t.Add(time.Minute) {
		out = append(out, models.Rate{Time: t.Unix(), Open: 1.1, High: 1.2, Low: 1.0, Close: 1.15, TickVolume: 10})
	}
	return out
}

type fakeFetcher struct {
	mu        sync.Mutex
	initErr   error
	inits     int
	shutdowns int
	requests  []models.FetchRequest
	fetch     func(req models.FetchRequest) ([]models.Rate, error)
}

func (f *fakeFetcher) Initialize(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inits++
	return f.initErr
}

func (f *fakeFetcher) Shutdown(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutdowns++
	return nil
}

func (f *fakeFetcher) IsInitialized() bool { return true }

func (f *fakeFetcher) SymbolAvailable(context.Context, string) (bool, error) { return true, nil }

func (f *fakeFetcher) FetchOHLCV(_ context.Context, req models.FetchRequest) ([]models.Rate, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	fn := f.fetch
	f.mu.Unlock()
	if fn == nil {
		return nil, domrepo.ErrNoData
	}
	return fn(req)
}

func (f *fakeFetcher) AvailableSymbols(context.Context) ([]string, error) { return nil, nil }

func (f *fakeFetcher) TradingHours(context.Context, string) (*models.TradingHours, error) {
	return nil, errors.New("not implemented")
}

type fakeLocker struct {
	mu     sync.Mutex
	held   map[string]bool
	tryErr error
}

func newFakeLocker() *fakeLocker { return &fakeLocker{held: make(map[string]bool)} }

func (l *fakeLocker) TryLock(_ context.Context, key string, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.tryErr != nil {
		return false, l.tryErr
	}
	if l.held[key] {
		return false, nil
	}
	l.held[key] = true
	return true, nil
}

func (l *fakeLocker) Unlock(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
	return nil
}

func (l *fakeLocker) isHeld(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held[key]
}

type fakeMetrics struct {
	mu      sync.Mutex
	updates map[string]bool
	errors  map[string]int
	gaps    map[string]int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{updates: map[string]bool{}, errors: map[string]int{}, gaps: map[string]int{}}
}

func (m *fakeMetrics) RecordCandlesFetched(string, string, int) {}
func (m *fakeMetrics) RecordCandlesStored(string, string, int)  {}
func (m *fakeMetrics) RecordCoverage(string, string, float64)    {}
func (m *fakeMetrics) RecordLatency(string, float64)             {}

func (m *fakeMetrics) RecordGaps(pair, outcome string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gaps[pair+":"+outcome] += n
}

func (m *fakeMetrics) RecordPairUpdate(pair string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates[pair] = ok
}

func (m *fakeMetrics) RecordError(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[kind]++
}

type fakePublisher struct {
	mu     sync.Mutex
	events []models.CandlesStoredEvent
}

func (p *fakePublisher) PublishCandlesStored(_ context.Context, ev models.CandlesStoredEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

type fakeSink struct {
	mu      sync.Mutex
	written int
	batches [][]models.Candle
	err     error
}

func (s *fakeSink) WriteCandles(_ context.Context, _ string, _ domrepo.Timeframe, candles []models.Candle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.written += len(candles)
	s.batches = append(s.batches, candles)
	return nil
}

func (s *fakeSink) Close() error { return nil }
