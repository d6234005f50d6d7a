package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	models "FxPull/internal/domain/models"
	domrepo "FxPull/internal/domain/repository"
	"FxPull/internal/usecase"

	"github.com/labstack/echo/v4"
)

type fakeService struct {
	healthErr   error
	candlesErr  error
	updateErr   error
	backfillErr error
	queued      bool

	lastParams usecase.GetCandlesParams
	lastOpts   models.UpdateOptions
	lastStart  time.Time
	lastEnd    time.Time
}

func (f *fakeService) Pairs(ctx context.Context) ([]usecase.PairInfo, error) {
	return []usecase.PairInfo{{ID: 1, Name: "EURUSD"}, {ID: 2, Name: "USDJPY"}}, nil
}

func (f *fakeService) GetCandles(ctx context.Context, p usecase.GetCandlesParams) (*usecase.GetCandlesResult, error) {
	f.lastParams = p
	if f.candlesErr != nil {
		return nil, f.candlesErr
	}
	c := models.Candle{Timestamp: time.Date(2024, 3, 6, 10, 0, 0, 0, time.UTC), Open: 1.1, High: 1.2, Low: 1.0, Close: 1.15}
	return &usecase.GetCandlesResult{Pair: p.Pair, Timeframe: string(p.Timeframe), Count: 1, Candles: []models.Candle{c}}, nil
}

func (f *fakeService) Gaps(ctx context.Context, pair string, tf domrepo.Timeframe) (*usecase.GapsResult, error) {
	if tf != domrepo.TF1m {
		return nil, fmt.Errorf("find gaps: %w", domrepo.ErrInvalidTimeframe)
	}
	return &usecase.GapsResult{Pair: pair, Timeframe: string(tf)}, nil
}

func (f *fakeService) Coverage(ctx context.Context, pair string, tf domrepo.Timeframe) (*models.Coverage, error) {
	return &models.Coverage{Pair: pair, Timeframe: string(tf), CoveragePercent: 99.5}, nil
}

func (f *fakeService) Update(ctx context.Context, pair string, opts models.UpdateOptions) error {
	f.lastOpts = opts
	return f.updateErr
}

func (f *fakeService) Backfill(ctx context.Context, pair string, start, end time.Time) (*usecase.BackfillResult, error) {
	f.lastStart, f.lastEnd = start, end
	if f.backfillErr != nil {
		return nil, f.backfillErr
	}
	if f.queued {
		return &usecase.BackfillResult{JobID: "job-1", Queued: true}, nil
	}
	return &usecase.BackfillResult{JobID: "job-1", Result: &models.StoreResult{Inserted: 10}}, nil
}

func (f *fakeService) Health(ctx context.Context) error { return f.healthErr }

func newTestServer(svc PriceService) *echo.Echo {
	e := echo.New()
	NewPricesEchoHandler(nil, svc).RegisterRoutes(e)
	return e
}

func do(e *echo.Echo, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestCandlesEndpoint(t *testing.T) {
	svc := &fakeService{}
	e := newTestServer(svc)

	rec := do(e, http.MethodGet, "/api/candles?pair=EURUSD&tf=5m&start=2024-03-01&end=2024-03-05&limit=10", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if svc.lastParams.Timeframe != domrepo.TF5m || svc.lastParams.Limit != 10 {
		t.Fatalf("unexpected params: %+v", svc.lastParams)
	}
	if svc.lastParams.Start == nil || !svc.lastParams.Start.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("start = %v", svc.lastParams.Start)
	}
	wantEnd := time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC).Add(-time.Nanosecond)
	if svc.lastParams.End == nil || !svc.lastParams.End.Equal(wantEnd) {
		t.Fatalf("end = %v, want %v", svc.lastParams.End, wantEnd)
	}

	var body struct {
		Status int                      `json:"status"`
		Data   usecase.GetCandlesResult `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != http.StatusOK || body.Data.Count != 1 || body.Data.Pair != "EURUSD" {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestCandlesDefaults(t *testing.T) {
	svc := &fakeService{}
	e := newTestServer(svc)

	rec := do(e, http.MethodGet, "/api/candles?pair=EURUSD", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if svc.lastParams.Timeframe != domrepo.TF1m || svc.lastParams.Limit != 1000 {
		t.Fatalf("defaults not applied: %+v", svc.lastParams)
	}
	if svc.lastParams.Start != nil || svc.lastParams.End != nil {
		t.Fatalf("expected open range: %+v", svc.lastParams)
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"unknown pair", fmt.Errorf("%w: GBPCHF", domrepo.ErrPairNotConfigured), http.StatusNotFound},
		{"no data", fmt.Errorf("get candles: %w", domrepo.ErrNoData), http.StatusNotFound},
		{"bad range", fmt.Errorf("%w: start after end", domrepo.ErrInvalidRange), http.StatusBadRequest},
		{"internal", fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestServer(&fakeService{candlesErr: tt.err})
			rec := do(e, http.MethodGet, "/api/candles?pair=EURUSD", "")
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestValidationErrors(t *testing.T) {
	e := newTestServer(&fakeService{})
	tests := []struct {
		name   string
		target string
	}{
		{"missing pair", "/api/candles"},
		{"bad timeframe", "/api/candles?pair=EURUSD&tf=2m"},
		{"bad date", "/api/candles?pair=EURUSD&start=03/01/2024"},
		{"limit too high", "/api/candles?pair=EURUSD&limit=60000"},
		{"pair with slash", "/api/gaps?pair=EUR/USD"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(e, http.MethodGet, tt.target, "")
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400 body=%s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestGapsCoverageAndPairs(t *testing.T) {
	e := newTestServer(&fakeService{})

	if rec := do(e, http.MethodGet, "/api/gaps?pair=EURUSD", ""); rec.Code != http.StatusOK {
		t.Fatalf("gaps status = %d", rec.Code)
	}
	if rec := do(e, http.MethodGet, "/api/gaps?pair=EURUSD&tf=1h", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("gaps on 1h status = %d, want 400", rec.Code)
	}
	if rec := do(e, http.MethodGet, "/api/coverage?pair=EURUSD&tf=1h", ""); rec.Code != http.StatusOK {
		t.Fatalf("coverage status = %d", rec.Code)
	}

	rec := do(e, http.MethodGet, "/api/pairs", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("pairs status = %d", rec.Code)
	}
	var body struct {
		Data struct {
			Total int64 `json:"total"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Data.Total != 2 {
		t.Fatalf("total = %d, want 2", body.Data.Total)
	}
}

func TestUpdateEndpoint(t *testing.T) {
	svc := &fakeService{}
	e := newTestServer(svc)

	rec := do(e, http.MethodPost, "/api/update", `{"pair":"EURUSD","latest":true,"count":500}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if !svc.lastOpts.Latest || svc.lastOpts.FillGaps || svc.lastOpts.Count != 500 {
		t.Fatalf("unexpected options: %+v", svc.lastOpts)
	}

	svc.updateErr = fmt.Errorf("update EURUSD: %w", domrepo.ErrPairLocked)
	if rec := do(e, http.MethodPost, "/api/update", `{"pair":"EURUSD"}`); rec.Code != http.StatusConflict {
		t.Fatalf("locked status = %d, want 409", rec.Code)
	}
}

func TestBackfillEndpoint(t *testing.T) {
	t.Run("inline", func(t *testing.T) {
		svc := &fakeService{}
		e := newTestServer(svc)
		rec := do(e, http.MethodPost, "/api/backfill", `{"pair":"EURUSD","start":"2024-01-01","end":"2024-01-02"}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
		}
		if !svc.lastStart.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) {
			t.Fatalf("start = %v", svc.lastStart)
		}
		if svc.lastEnd.Day() != 2 || svc.lastEnd.Hour() != 23 {
			t.Fatalf("end not extended to end of day: %v", svc.lastEnd)
		}
	})

	t.Run("queued", func(t *testing.T) {
		e := newTestServer(&fakeService{queued: true})
		rec := do(e, http.MethodPost, "/api/backfill", `{"pair":"EURUSD","start":"2024-01-01","end":"2024-01-02"}`)
		if rec.Code != http.StatusAccepted {
			t.Fatalf("status = %d, want 202", rec.Code)
		}
	})

	t.Run("missing end", func(t *testing.T) {
		e := newTestServer(&fakeService{})
		rec := do(e, http.MethodPost, "/api/backfill", `{"pair":"EURUSD","start":"2024-01-01"}`)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rec.Code)
		}
	})
}

func TestHealthEndpoint(t *testing.T) {
	svc := &fakeService{}
	e := newTestServer(svc)
	if rec := do(e, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	svc.healthErr = fmt.Errorf("connection refused")
	if rec := do(e, http.MethodGet, "/healthz", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}
