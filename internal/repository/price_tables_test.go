package repository

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"FxPull/internal/domain/models"
	domrepo "FxPull/internal/domain/repository"
)

func TestPriceTableName(t *testing.T) {
	tests := []struct {
		pair    string
		tf      domrepo.Timeframe
		want    string
		wantErr error
	}{
		{"EURUSD", domrepo.TF1m, "eurusd_1m", nil},
		{"XAUUSD", domrepo.TF4h, "xauusd_4h", nil},
		{"EUR/USD", domrepo.TF1m, "", domrepo.ErrInvalidPairName},
		{"EU", domrepo.TF1m, "", domrepo.ErrInvalidPairName},
		{"eurusd; drop", domrepo.TF1m, "", domrepo.ErrInvalidPairName},
		{"EURUSD", domrepo.Timeframe("2m"), "", domrepo.ErrInvalidTimeframe},
	}

	for _, tt := range tests {
		t.Run(tt.pair+"_"+string(tt.tf), func(t *testing.T) {
			got, err := PriceTableName(tt.pair, tt.tf)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("PriceTableName = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPriceTableDDL(t *testing.T) {
	tbl, err := newPriceTable("GBPUSD", domrepo.TF1h)
	if err != nil {
		t.Fatalf("newPriceTable: %v", err)
	}
	if tbl.ident != `"price_data"."gbpusd_1h"` {
		t.Fatalf("ident = %s", tbl.ident)
	}
	ddl := tbl.ddl()
	if len(ddl) != 2 {
		t.Fatalf("expected table and index statements, got %d", len(ddl))
	}
	if !strings.Contains(ddl[0], `"timestamp" timestamptz PRIMARY KEY`) {
		t.Errorf("table ddl missing primary key: %s", ddl[0])
	}
	if !strings.Contains(ddl[1], `"ix_gbpusd_1h_timestamp"`) {
		t.Errorf("index ddl missing name: %s", ddl[1])
	}
}

func TestPrepareCandlesRoundsAndDedupes(t *testing.T) {
	base := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	in := []models.Candle{
		{Timestamp: base.Add(time.Minute), Open: 1.1, High: 1.2, Low: 1.0, Close: 1.15, Volume: 3},
		{Timestamp: base, Open: 1.12345678, High: 1.2, Low: 1.0, Close: 1.1, Volume: 5},
		{Timestamp: base.Add(time.Minute), Open: 1.3, High: 1.4, Low: 1.2, Close: 1.35, Volume: 7},
	}

	out := prepareCandles(in)
	if len(out) != 2 {
		t.Fatalf("expected 2 candles after dedupe, got %d", len(out))
	}
	if !out[0].Timestamp.Equal(base) {
		t.Errorf("not sorted ascending: %v", out[0].Timestamp)
	}
	if out[0].Open != 1.123457 {
		t.Errorf("open not rounded to 6 places: %v", out[0].Open)
	}
	if out[1].Open != 1.3 || out[1].Volume != 7 {
		t.Errorf("last duplicate should win, got %+v", out[1])
	}
}

func TestPlanInsertSkipsStoredTimestamps(t *testing.T) {
	base := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	candles := []models.Candle{
		{Timestamp: base},
		{Timestamp: base.Add(time.Minute)},
		{Timestamp: base.Add(2 * time.Minute)},
	}
	// stored timestamps compare by instant, not by zone
	plan := planInsert(candles, []time.Time{base.Add(time.Minute).In(time.FixedZone("X", 3600))})
	if len(plan.fresh) != 2 || len(plan.changed) != 0 {
		t.Fatalf("fresh=%d changed=%d", len(plan.fresh), len(plan.changed))
	}
	if !plan.fresh[1].Timestamp.Equal(base.Add(2 * time.Minute)) {
		t.Errorf("wrong fresh candle: %v", plan.fresh[1].Timestamp)
	}
}

func TestPlanUpsertKeepsOnlyDifferences(t *testing.T) {
	base := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	existing := []models.Candle{
		{Timestamp: base, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10},
		{Timestamp: base.Add(5 * time.Minute), Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10},
	}
	candles := []models.Candle{
		{Timestamp: base, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10},
		{Timestamp: base.Add(5 * time.Minute), Open: 1, High: 2.5, Low: 0.5, Close: 2.4, Volume: 14},
		{Timestamp: base.Add(10 * time.Minute), Open: 2.4, High: 2.6, Low: 2.3, Close: 2.5, Volume: 3},
	}

	plan := planUpsert(candles, existing)
	if len(plan.fresh) != 1 || len(plan.changed) != 1 {
		t.Fatalf("fresh=%d changed=%d, want 1 and 1", len(plan.fresh), len(plan.changed))
	}
	rows := plan.rows()
	if len(rows) != 2 || !rows[0].Timestamp.Equal(base.Add(5*time.Minute)) || !rows[1].Timestamp.Equal(base.Add(10*time.Minute)) {
		t.Fatalf("rows to write not ascending: %+v", rows)
	}
}

func TestStorePlanResult(t *testing.T) {
	base := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	c := func(i int) models.Candle { return models.Candle{Timestamp: base.Add(time.Duration(i) * time.Minute)} }

	tests := []struct {
		name     string
		plan     storePlan
		received int
		affected int64
		upsert   bool
		want     models.StoreResult
	}{
		{"insert all new", storePlan{fresh: []models.Candle{c(0), c(1)}}, 2, 2, false, models.StoreResult{Inserted: 2}},
		{"batch duplicates skipped", storePlan{fresh: []models.Candle{c(0), c(1)}}, 3, 2, false, models.StoreResult{Inserted: 2, Skipped: 1}},
		{"concurrent writer won a row", storePlan{fresh: []models.Candle{c(0), c(1), c(2)}}, 3, 1, false, models.StoreResult{Inserted: 1, Skipped: 2}},
		{"upsert counts new and changed", storePlan{fresh: []models.Candle{c(2)}, changed: []models.Candle{c(1)}}, 4, 2, true, models.StoreResult{Inserted: 1, Updated: 1, Skipped: 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.plan.result(tt.received, tt.affected, tt.upsert)
			if got.Inserted != tt.want.Inserted || got.Updated != tt.want.Updated || got.Skipped != tt.want.Skipped {
				t.Fatalf("result = %+v, want %+v", got, tt.want)
			}
			if len(got.Written) != len(tt.plan.fresh)+len(tt.plan.changed) {
				t.Fatalf("written = %d rows", len(got.Written))
			}
		})
	}
}

func TestSelectCandlesStatement(t *testing.T) {
	const ident = `"price_data"."eurusd_1m"`
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	day := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)

	t.Run("unbounded", func(t *testing.T) {
		q, args := selectCandlesStatement(ident, models.CandleQuery{})
		if strings.Contains(q, "LIMIT") || strings.Contains(q, "WHERE") || len(args) != 0 {
			t.Fatalf("q=%s args=%v", q, args)
		}
	})

	t.Run("earliest with limit", func(t *testing.T) {
		q, args := selectCandlesStatement(ident, models.CandleQuery{Start: &start, Limit: 10})
		if !strings.HasSuffix(q, `WHERE "timestamp" >= ? ORDER BY "timestamp" LIMIT ?`) {
			t.Fatalf("q = %s", q)
		}
		if len(args) != 2 || args[1] != 10 {
			t.Fatalf("args = %v", args)
		}
	})

	t.Run("latest with limit", func(t *testing.T) {
		q, args := selectCandlesStatement(ident, models.CandleQuery{End: &day, Limit: 10, Latest: true})
		if !strings.Contains(q, `ORDER BY "timestamp" DESC LIMIT ?) AS latest ORDER BY "timestamp"`) {
			t.Fatalf("q = %s", q)
		}
		// a date-only end covers that whole day
		end, ok := args[0].(time.Time)
		if !ok || end.Day() != 5 || end.Hour() != 23 {
			t.Fatalf("end arg = %v", args[0])
		}
	})
}

func TestUndefinedTableDetection(t *testing.T) {
	missing := WrapDBError("get candles eurusd_1m", &pgconn.PgError{Code: pgUndefinedTable})
	if !isUndefinedTable(missing) {
		t.Fatalf("wrapped 42P01 must be detected")
	}
	if isUndefinedTable(WrapDBError("get candles", &pgconn.PgError{Code: "23505"})) {
		t.Fatalf("unique violation detected as missing table")
	}
	if isUndefinedTable(errors.New("relation does not exist")) {
		t.Fatalf("plain errors carry no code")
	}
}

func TestInsertStatement(t *testing.T) {
	candles := []models.Candle{{Timestamp: time.Unix(0, 0).UTC()}, {Timestamp: time.Unix(60, 0).UTC()}}

	q, args := insertStatement(`"price_data"."eurusd_1m"`, candles, false)
	if len(args) != 12 {
		t.Fatalf("args = %d, want 12", len(args))
	}
	if !strings.HasSuffix(q, `ON CONFLICT ("timestamp") DO NOTHING`) {
		t.Errorf("1m insert should ignore conflicts: %s", q)
	}
	if strings.Count(q, "(?, ?, ?, ?, ?, ?)") != 2 {
		t.Errorf("expected two value tuples: %s", q)
	}

	q, _ = insertStatement(`"price_data"."eurusd_5m"`, candles, true)
	if !strings.Contains(q, "DO UPDATE SET") {
		t.Errorf("resampled insert should upsert: %s", q)
	}
}

func TestChunkCandles(t *testing.T) {
	candles := make([]models.Candle, 2500)
	for i := range candles {
		candles[i].Timestamp = time.Unix(int64(i)*60, 0).UTC()
	}

	tests := []struct {
		name string
		n    int
		want []int
	}{
		{"empty", 0, nil},
		{"one short chunk", 10, []int{10}},
		{"exact", insertChunk, []int{insertChunk}},
		{"remainder", 2500, []int{1000, 1000, 500}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := chunkCandles(candles[:tt.n], insertChunk)
			if len(chunks) != len(tt.want) {
				t.Fatalf("got %d chunks, want %d", len(chunks), len(tt.want))
			}
			next := 0
			for i, c := range chunks {
				if len(c) != tt.want[i] {
					t.Fatalf("chunk %d has %d rows, want %d", i, len(c), tt.want[i])
				}
				if !c[0].Timestamp.Equal(candles[next].Timestamp) {
					t.Fatalf("chunk %d starts at %v", i, c[0].Timestamp)
				}
				next += len(c)
			}
		})
	}
}

func TestWrapDBError(t *testing.T) {
	if WrapDBError("op", nil) != nil {
		t.Fatalf("nil error must stay nil")
	}
	base := errors.New("boom")
	err := WrapDBError("store", base)
	var dbErr *DBError
	if !errors.As(err, &dbErr) || dbErr.Op != "store" {
		t.Fatalf("expected DBError, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Errorf("DBError must unwrap")
	}
}
