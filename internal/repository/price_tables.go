package repository

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"FxPull/internal/domain/models"
	domrepo "FxPull/internal/domain/repository"
	"FxPull/pkg/util"
)

// PriceSchema holds one table per pair and timeframe.
const PriceSchema = "price_data"

const pricePlaces = 6

var pairNamePattern = regexp.MustCompile(`^[A-Za-z0-9]{3,10}$`)

// PriceTableName returns the unqualified table name, e.g. "eurusd_1m".
func PriceTableName(pair string, tf domrepo.Timeframe) (string, error) {
	if !pairNamePattern.MatchString(pair) {
		return "", fmt.Errorf("%w: %q", domrepo.ErrInvalidPairName, pair)
	}
	if !domrepo.IsValidTimeframe(tf) {
		return "", fmt.Errorf("%w: %q", domrepo.ErrInvalidTimeframe, tf)
	}
	return strings.ToLower(pair) + "_" + string(tf), nil
}

// priceTable is a validated, quoted table reference.
type priceTable struct {
	name  string
	ident string
}

func newPriceTable(pair string, tf domrepo.Timeframe) (priceTable, error) {
	name, err := PriceTableName(pair, tf)
	if err != nil {
		return priceTable{}, err
	}
	return priceTable{name: name, ident: pgx.Identifier{PriceSchema, name}.Sanitize()}, nil
}

func (t priceTable) ddl() []string {
	index := pgx.Identifier{"ix_" + t.name + "_timestamp"}.Sanitize()
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	"timestamp" timestamptz PRIMARY KEY,
	"open" double precision NOT NULL,
	"high" double precision NOT NULL,
	"low" double precision NOT NULL,
	"close" double precision NOT NULL,
	"volume" double precision NOT NULL
)`, t.ident),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s ("timestamp")`, index, t.ident),
	}
}

func roundPrice(v float64) float64 {
	return decimal.NewFromFloat(v).Round(pricePlaces).InexactFloat64()
}

// prepareCandles rounds prices, normalizes timestamps to UTC, keeps the last
// candle per timestamp and sorts ascending.
func prepareCandles(in []models.Candle) []models.Candle {
	byTS := make(map[int64]int, len(in))
	out := make([]models.Candle, 0, len(in))
	for _, c := range in {
		c.Timestamp = c.Timestamp.UTC()
		c.Open = roundPrice(c.Open)
		c.High = roundPrice(c.High)
		c.Low = roundPrice(c.Low)
		c.Close = roundPrice(c.Close)

		key := c.Timestamp.UnixNano()
		if i, ok := byTS[key]; ok {
			out[i] = c
			continue
		}
		byTS[key] = len(out)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// storePlan is what a StoreCandles call will write after comparing the
// batch against stored rows.
type storePlan struct {
	fresh   []models.Candle
	changed []models.Candle
}

// planInsert keeps candles whose timestamp is not yet stored.
func planInsert(candles []models.Candle, existing []time.Time) storePlan {
	if len(existing) == 0 {
		return storePlan{fresh: candles}
	}
	seen := make(map[int64]struct{}, len(existing))
	for _, ts := range existing {
		seen[ts.UTC().UnixNano()] = struct{}{}
	}
	var p storePlan
	for _, c := range candles {
		if _, ok := seen[c.Timestamp.UnixNano()]; !ok {
			p.fresh = append(p.fresh, c)
		}
	}
	return p
}

// planUpsert keeps new candles and stored ones whose values differ.
func planUpsert(candles, existing []models.Candle) storePlan {
	stored := make(map[int64]models.Candle, len(existing))
	for _, c := range existing {
		stored[c.Timestamp.UTC().UnixNano()] = c
	}
	var p storePlan
	for _, c := range candles {
		old, ok := stored[c.Timestamp.UnixNano()]
		switch {
		case !ok:
			p.fresh = append(p.fresh, c)
		case !sameValues(old, c):
			p.changed = append(p.changed, c)
		}
	}
	return p
}

func sameValues(a, b models.Candle) bool {
	return a.Open == b.Open && a.High == b.High && a.Low == b.Low && a.Close == b.Close && a.Volume == b.Volume
}

// rows returns every candle to write, ascending.
func (p storePlan) rows() []models.Candle {
	if len(p.changed) == 0 {
		return p.fresh
	}
	out := make([]models.Candle, 0, len(p.fresh)+len(p.changed))
	out = append(out, p.fresh...)
	out = append(out, p.changed...)
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// result accounts a batch of received candles. Under DO NOTHING a row a
// concurrent writer inserted first is not affected and counts as skipped.
func (p storePlan) result(received int, affected int64, upsert bool) models.StoreResult {
	out := models.StoreResult{Written: p.rows()}
	if upsert {
		out.Inserted = len(p.fresh)
		out.Updated = len(p.changed)
	} else {
		out.Inserted = int(affected)
		if out.Inserted > len(p.fresh) {
			out.Inserted = len(p.fresh)
		}
	}
	out.Skipped = received - out.Inserted - out.Updated
	return out
}

// chunkCandles splits candles into runs of at most size rows.
func chunkCandles(candles []models.Candle, size int) [][]models.Candle {
	var out [][]models.Candle
	for start := 0; start < len(candles); start += size {
		end := start + size
		if end > len(candles) {
			end = len(candles)
		}
		out = append(out, candles[start:end])
	}
	return out
}

// insertStatement builds a multi-row insert for candles. Resampled tables
// are upserted so a bucket that was still forming gets corrected.
func insertStatement(ident string, candles []models.Candle, upsert bool) (string, []interface{}) {
	var b strings.Builder
	args := make([]interface{}, 0, len(candles)*6)
	b.WriteString("INSERT INTO ")
	b.WriteString(ident)
	b.WriteString(` ("timestamp", "open", "high", "low", "close", "volume") VALUES `)
	for i, c := range candles {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString("(?, ?, ?, ?, ?, ?)")
		args = append(args, c.Timestamp, c.Open, c.High, c.Low, c.Close, c.Volume)
	}
	if upsert {
		b.WriteString(` ON CONFLICT ("timestamp") DO UPDATE SET "open" = EXCLUDED."open", "high" = EXCLUDED."high", "low" = EXCLUDED."low", "close" = EXCLUDED."close", "volume" = EXCLUDED."volume"`)
	} else {
		b.WriteString(` ON CONFLICT ("timestamp") DO NOTHING`)
	}
	return b.String(), args
}

const candleColumns = `"timestamp", "open", "high", "low", "close", "volume"`

// selectCandlesStatement builds the range read for GetCandles. A latest
// limited read takes the newest rows descending and re-sorts them.
func selectCandlesStatement(ident string, cq models.CandleQuery) (string, []interface{}) {
	var (
		where []string
		args  []interface{}
	)
	if cq.Start != nil {
		where = append(where, `"timestamp" >= ?`)
		args = append(args, cq.Start.UTC())
	}
	if cq.End != nil {
		end := cq.End.UTC()
		if util.IsMidnight(end) {
			end = util.EndOfDay(end)
		}
		where = append(where, `"timestamp" <= ?`)
		args = append(args, end)
	}

	q := "SELECT " + candleColumns + " FROM " + ident
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	if cq.Limit <= 0 {
		return q + ` ORDER BY "timestamp"`, args
	}
	args = append(args, cq.Limit)
	if !cq.Latest {
		return q + ` ORDER BY "timestamp" LIMIT ?`, args
	}
	return "SELECT " + candleColumns + " FROM (" + q + ` ORDER BY "timestamp" DESC LIMIT ?) AS latest ORDER BY "timestamp"`, args
}
