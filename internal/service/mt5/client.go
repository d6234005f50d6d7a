package mt5

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"

	"FxPull/internal/domain/models"
	domrepo "FxPull/internal/domain/repository"
	"FxPull/internal/service/ratelimit"
	applogger "FxPull/pkg/logger"
)

const limiterKey = "mt5"

// ClientOption configures Client.
type ClientOption func(*ClientConfig)

// ClientConfig holds terminal credentials and call limits.
type ClientConfig struct {
	Login                int64
	Password             string
	Server               string
	Timeout              time.Duration
	StartDate            time.Time
	MaxCandlesPerRequest int
	BreakerMaxFailures   uint32
	BreakerTimeout       time.Duration
	RPS                  float64
	Burst                float64
	Logger               *applogger.Logger
}

func WithCredentials(login int64, password, server string) ClientOption {
	return func(c *ClientConfig) {
		c.Login = login
		c.Password = password
		c.Server = server
	}
}

// WithTimeout sets the terminal initialize timeout. It also bounds every
// bridge call, whatever the caller's deadline.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *ClientConfig) { c.Timeout = d }
}

// WithStartDate sets where a fetch without start and count begins.
func WithStartDate(t time.Time) ClientOption {
	return func(c *ClientConfig) { c.StartDate = t.UTC() }
}

func WithMaxCandlesPerRequest(n int) ClientOption {
	return func(c *ClientConfig) {
		if n > 0 {
			c.MaxCandlesPerRequest = n
		}
	}
}

// WithBreaker sets consecutive failures before opening and the open period.
func WithBreaker(maxFailures uint32, timeout time.Duration) ClientOption {
	return func(c *ClientConfig) {
		c.BreakerMaxFailures = maxFailures
		c.BreakerTimeout = timeout
	}
}

// WithRateLimit caps bridge calls per second.
func WithRateLimit(rps, burst float64) ClientOption {
	return func(c *ClientConfig) {
		c.RPS = rps
		c.Burst = burst
	}
}

func WithLogger(l *applogger.Logger) ClientOption {
	return func(c *ClientConfig) { c.Logger = l }
}

// Client implements domain Fetcher over a bridge Transport.
type Client struct {
	t       Transport
	cfg     ClientConfig
	cb      *gobreaker.CircuitBreaker
	limiter *ratelimit.Limiter
	l       *applogger.Logger

	initMu      sync.Mutex
	initialized atomic.Bool
}

var _ domrepo.Fetcher = (*Client)(nil)

func NewClient(t Transport, opts ...ClientOption) *Client {
	cfg := ClientConfig{
		Timeout:              60 * time.Second,
		StartDate:            time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		MaxCandlesPerRequest: 1000,
		BreakerMaxFailures:   5,
		BreakerTimeout:       30 * time.Second,
		RPS:                  20,
		Burst:                20,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	l := cfg.Logger
	if l == nil {
		l = applogger.Nop()
	}

	maxFailures := cfg.BreakerMaxFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "mt5-bridge",
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= maxFailures
		},
		// Terminal-level errors and cancellations say nothing about bridge health.
		IsSuccessful: func(err error) bool {
			var be *BridgeError
			return err == nil || errors.As(err, &be) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			l.Warn("circuit breaker state changed",
				applogger.String("breaker", name),
				applogger.String("from", from.String()),
				applogger.String("to", to.String()),
			)
		},
	})

	return &Client{t: t, cfg: cfg, cb: cb, limiter: ratelimit.New(), l: l}
}

func (c *Client) call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx, limiterKey, c.cfg.Burst, c.cfg.RPS); err != nil {
		return nil, fmt.Errorf("mt5 %s: %w", method, err)
	}
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}
	out, err := c.cb.Execute(func() (interface{}, error) {
		return c.t.Call(ctx, method, params)
	})
	if err != nil {
		return nil, fmt.Errorf("mt5 %s: %w", method, err)
	}
	raw, _ := out.(json.RawMessage)
	return raw, nil
}

func (c *Client) callInto(ctx context.Context, method string, params, dest interface{}) (bool, error) {
	raw, err := c.call(ctx, method, params)
	if err != nil {
		return false, err
	}
	if isNull(raw) {
		return false, nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("mt5 %s: decode result: %w", method, err)
	}
	return true, nil
}

// Initialize logs in to the terminal. Repeated calls are no-ops.
func (c *Client) Initialize(ctx context.Context) error {
	c.initMu.Lock()
	defer c.initMu.Unlock()
	if c.initialized.Load() {
		return nil
	}

	var ok bool
	_, err := c.callInto(ctx, methodInitialize, map[string]interface{}{
		"login":      c.cfg.Login,
		"password":   c.cfg.Password,
		"server":     c.cfg.Server,
		"timeout_ms": c.cfg.Timeout.Milliseconds(),
	}, &ok)
	if err != nil {
		c.l.Error("failed to initialize MT5", applogger.String("server", c.cfg.Server), applogger.Error(err))
		return err
	}
	if !ok {
		return fmt.Errorf("mt5 initialize: terminal rejected login to %s", c.cfg.Server)
	}

	c.initialized.Store(true)
	c.l.Info("MT5 initialized", applogger.String("server", c.cfg.Server))
	return nil
}

// Shutdown closes the terminal session. Errors are logged, not returned.
func (c *Client) Shutdown(ctx context.Context) error {
	c.initMu.Lock()
	defer c.initMu.Unlock()
	if !c.initialized.Load() {
		return nil
	}
	if _, err := c.call(ctx, methodShutdown, nil); err != nil {
		c.l.Warn("mt5 shutdown failed", applogger.Error(err))
	}
	c.initialized.Store(false)
	c.l.Info("MT5 connection closed")
	return nil
}

func (c *Client) IsInitialized() bool { return c.initialized.Load() }

// Close ends the terminal session, then releases the bridge transport. The
// session is shared by every caller, so only the owner of the client closes it.
func (c *Client) Close() error {
	_ = c.Shutdown(context.Background())
	return c.t.Close()
}

func (c *Client) ensureInitialized(ctx context.Context) error {
	if c.initialized.Load() {
		return nil
	}
	return c.Initialize(ctx)
}

func (c *Client) symbolInfo(ctx context.Context, symbol string) (*models.SymbolInfo, error) {
	var info models.SymbolInfo
	found, err := c.callInto(ctx, methodSymbolInfo, map[string]interface{}{"symbol": symbol}, &info)
	if err != nil || !found {
		return nil, err
	}
	return &info, nil
}

// SymbolAvailable reports whether the terminal knows symbol, selecting it
// into Market Watch when hidden.
func (c *Client) SymbolAvailable(ctx context.Context, symbol string) (bool, error) {
	if err := c.ensureInitialized(ctx); err != nil {
		return false, err
	}
	info, err := c.symbolInfo(ctx, symbol)
	if err != nil {
		return false, err
	}
	if info == nil {
		c.l.Warn("symbol not found in MT5", applogger.String("symbol", symbol))
		return false, nil
	}
	if !info.Visible {
		c.l.Info("symbol is not visible, selecting", applogger.String("symbol", symbol))
		if _, err := c.call(ctx, methodSymbolSelect, map[string]interface{}{"symbol": symbol, "enable": true}); err != nil {
			c.l.Warn("symbol_select failed", applogger.String("symbol", symbol), applogger.Error(err))
		}
	}
	return true, nil
}

func (c *Client) FetchOHLCV(ctx context.Context, req models.FetchRequest) ([]models.Rate, error) {
	if !domrepo.IsValidMT5Timeframe(req.Timeframe) {
		return nil, fmt.Errorf("%w: %q", domrepo.ErrInvalidTimeframe, req.Timeframe)
	}
	ok, err := c.SymbolAvailable(ctx, req.Symbol)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", domrepo.ErrSymbolUnavailable, req.Symbol)
	}

	now := time.Now().UTC()
	var rates []models.Rate
	switch {
	case req.Start == nil && req.Count <= 0:
		rates, err = c.copyRatesRange(ctx, req.Symbol, req.Timeframe, c.cfg.StartDate, now)
	case req.Start == nil && req.Count > c.cfg.MaxCandlesPerRequest:
		c.l.Warn("requested count exceeds per-request cap, chunking",
			applogger.String("symbol", req.Symbol),
			applogger.Int("count", req.Count),
			applogger.Int("max", c.cfg.MaxCandlesPerRequest),
		)
		rates, err = c.fetchChunked(ctx, req.Symbol, req.Timeframe, req.Count)
	case req.Start == nil:
		rates, err = c.copyRatesFromPos(ctx, req.Symbol, req.Timeframe, 0, req.Count)
	case req.End == nil && req.Count > 0:
		rates, err = c.copyRatesFrom(ctx, req.Symbol, req.Timeframe, *req.Start, req.Count)
	default:
		end := now
		if req.End != nil {
			end = req.End.UTC()
		}
		rates, err = c.copyRatesRange(ctx, req.Symbol, req.Timeframe, *req.Start, end)
	}
	if err != nil {
		return nil, err
	}
	if len(rates) == 0 {
		c.l.Warn("no data returned", applogger.String("symbol", req.Symbol), applogger.String("timeframe", req.Timeframe))
		return nil, fmt.Errorf("%w: %s %s", domrepo.ErrNoData, req.Symbol, req.Timeframe)
	}
	c.l.Info("retrieved bars",
		applogger.String("symbol", req.Symbol),
		applogger.String("timeframe", req.Timeframe),
		applogger.Int("bars", len(rates)),
	)
	return rates, nil
}

func (c *Client) copyRatesFromPos(ctx context.Context, symbol, tf string, pos, count int) ([]models.Rate, error) {
	var rates []models.Rate
	_, err := c.callInto(ctx, methodCopyRatesFromPos, map[string]interface{}{
		"symbol":    symbol,
		"timeframe": tf,
		"start_pos": pos,
		"count":     count,
	}, &rates)
	return rates, err
}

func (c *Client) copyRatesFrom(ctx context.Context, symbol, tf string, from time.Time, count int) ([]models.Rate, error) {
	var rates []models.Rate
	_, err := c.callInto(ctx, methodCopyRatesFrom, map[string]interface{}{
		"symbol":    symbol,
		"timeframe": tf,
		"date_from": from.Unix(),
		"count":     count,
	}, &rates)
	return rates, err
}

func (c *Client) copyRatesRange(ctx context.Context, symbol, tf string, from, to time.Time) ([]models.Rate, error) {
	var rates []models.Rate
	_, err := c.callInto(ctx, methodCopyRatesRange, map[string]interface{}{
		"symbol":    symbol,
		"timeframe": tf,
		"date_from": from.Unix(),
		"date_to":   to.Unix(),
	}, &rates)
	return rates, err
}

// fetchChunked pages backwards from the newest bar until count bars are
// read or the terminal runs out of history.
func (c *Client) fetchChunked(ctx context.Context, symbol, tf string, count int) ([]models.Rate, error) {
	var (
		all       []models.Rate
		position  int
		remaining = count
	)
	for remaining > 0 {
		size := remaining
		if size > c.cfg.MaxCandlesPerRequest {
			size = c.cfg.MaxCandlesPerRequest
		}
		rates, err := c.copyRatesFromPos(ctx, symbol, tf, position, size)
		if err != nil {
			if len(all) == 0 {
				return nil, err
			}
			c.l.Error("chunk fetch failed, keeping what was read",
				applogger.String("symbol", symbol),
				applogger.Int("position", position),
				applogger.Error(err),
			)
			break
		}
		if len(rates) == 0 {
			break
		}
		all = append(all, rates...)
		position += len(rates)
		remaining -= len(rates)
		if len(rates) < size {
			break
		}
	}
	return sortDedupeRates(all), nil
}

func sortDedupeRates(rates []models.Rate) []models.Rate {
	sort.SliceStable(rates, func(i, j int) bool { return rates[i].Time < rates[j].Time })
	out := rates[:0]
	for i, r := range rates {
		if i > 0 && r.Time == out[len(out)-1].Time {
			continue
		}
		out = append(out, r)
	}
	return out
}

func (c *Client) AvailableSymbols(ctx context.Context) ([]string, error) {
	if err := c.ensureInitialized(ctx); err != nil {
		return nil, err
	}
	var symbols []models.SymbolInfo
	found, err := c.callInto(ctx, methodSymbolsGet, nil, &symbols)
	if err != nil {
		return nil, err
	}
	if !found {
		c.l.Warn("failed to get symbol list from MT5")
		return []string{}, nil
	}
	names := make([]string, 0, len(symbols))
	for _, s := range symbols {
		names = append(names, s.Name)
	}
	return names, nil
}

func (c *Client) TradingHours(ctx context.Context, symbol string) (*models.TradingHours, error) {
	if err := c.ensureInitialized(ctx); err != nil {
		return nil, err
	}
	info, err := c.symbolInfo(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if info == nil {
		return nil, fmt.Errorf("%w: %s", domrepo.ErrSymbolUnavailable, symbol)
	}

	sessions := map[string]string{}
	if info.HasSessions {
		mode := "Limited"
		if info.TradeMode == models.TradeModeFull {
			mode = "24h"
		}
		sessions["trade_sessions"] = mode
	}
	return &models.TradingHours{
		Timezone:         timezoneName(info.TimeZone),
		Sessions:         sessions,
		TradeMode:        info.TradeMode,
		TradeStopsLevel:  info.TradeStopsLevel,
		TradeFreezeLevel: info.TradeFreezeLevel,
	}, nil
}

// timezoneName renders an offset in seconds as GMT+N or GMT-N, flooring to
// whole hours.
func timezoneName(offset int) string {
	h := offset / 3600
	if offset < 0 && offset%3600 != 0 {
		h--
	}
	if offset >= 0 {
		return fmt.Sprintf("GMT+%d", h)
	}
	return fmt.Sprintf("GMT%d", h)
}
