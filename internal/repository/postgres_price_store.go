package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"

	"FxPull/internal/domain/models"
	domrepo "FxPull/internal/domain/repository"
	applogger "FxPull/pkg/logger"
	pkgpg "FxPull/pkg/postgres"
)

// insertChunk bounds the rows per INSERT statement (6 params each).
const insertChunk = 1000

// PostgresPriceStore implements PriceStore on per-pair tables.
type PostgresPriceStore struct {
	client *pkgpg.Client
	l      *applogger.Logger

	mu     sync.Mutex
	tables map[string]struct{}
}

func NewPostgresPriceStore(client *pkgpg.Client, l *applogger.Logger) *PostgresPriceStore {
	if l == nil {
		l = applogger.Nop()
	}
	return &PostgresPriceStore{client: client, l: l, tables: make(map[string]struct{})}
}

func (s *PostgresPriceStore) db(ctx context.Context) *gorm.DB { return s.client.DB(ctx) }

// EnsureSchema creates the price schema and migrates the pair registry.
func (s *PostgresPriceStore) EnsureSchema(ctx context.Context) error {
	if err := s.db(ctx).Exec("CREATE SCHEMA IF NOT EXISTS " + PriceSchema).Error; err != nil {
		return WrapDBError("ensure schema", err)
	}
	if err := s.db(ctx).AutoMigrate(&models.CurrencyPair{}); err != nil {
		return WrapDBError("migrate currency_pairs", err)
	}
	return nil
}

// EnsureCurrencyPairs syncs the registry with pairs and creates their 1m tables.
func (s *PostgresPriceStore) EnsureCurrencyPairs(ctx context.Context, pairs []models.CurrencyPair) (map[string]uint, error) {
	if len(pairs) == 0 {
		return nil, domrepo.ErrNoPairsConfigured
	}

	ids := make(map[string]uint, len(pairs))
	for _, p := range pairs {
		var row models.CurrencyPair
		err := s.db(ctx).Where("name = ?", p.Name).First(&row).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			row = models.CurrencyPair{
				Name:        p.Name,
				Description: p.Description,
				PipValue:    p.PipValue,
				SpreadAvg:   p.SpreadAvg,
			}
			if err := s.db(ctx).Create(&row).Error; err != nil {
				return nil, WrapDBError("create currency pair", err)
			}
			s.l.Info("currency pair registered", applogger.String("pair", p.Name))
		case err != nil:
			return nil, WrapDBError("load currency pair", err)
		default:
			if row.Description != p.Description || row.PipValue != p.PipValue || row.SpreadAvg != p.SpreadAvg {
				err := s.db(ctx).Model(&row).Updates(map[string]interface{}{
					"description": p.Description,
					"pip_value":   p.PipValue,
					"spread_avg":  p.SpreadAvg,
				}).Error
				if err != nil {
					return nil, WrapDBError("update currency pair", err)
				}
			}
		}

		if err := s.EnsurePriceTable(ctx, p.Name, domrepo.TF1m); err != nil {
			return nil, err
		}
		ids[p.Name] = row.ID
	}
	return ids, nil
}

func (s *PostgresPriceStore) ListCurrencyPairs(ctx context.Context) ([]models.CurrencyPair, error) {
	var rows []models.CurrencyPair
	if err := s.db(ctx).Order("name").Find(&rows).Error; err != nil {
		return nil, WrapDBError("list currency pairs", err)
	}
	return rows, nil
}

// EnsurePriceTable creates the table for pair and tf once per process.
func (s *PostgresPriceStore) EnsurePriceTable(ctx context.Context, pair string, tf domrepo.Timeframe) error {
	t, err := newPriceTable(pair, tf)
	if err != nil {
		return err
	}

	s.mu.Lock()
	_, ok := s.tables[t.name]
	s.mu.Unlock()
	if ok {
		return nil
	}

	for _, stmt := range t.ddl() {
		if err := s.db(ctx).Exec(stmt).Error; err != nil {
			return WrapDBError("ensure price table "+t.name, err)
		}
	}

	s.mu.Lock()
	s.tables[t.name] = struct{}{}
	s.mu.Unlock()
	return nil
}

// StoreCandles merges candles into the table. Timestamps already stored are
// skipped for 1m and overwritten for resampled timeframes when they differ.
func (s *PostgresPriceStore) StoreCandles(ctx context.Context, pair string, tf domrepo.Timeframe, candles []models.Candle) (models.StoreResult, error) {
	if len(candles) == 0 {
		return models.StoreResult{}, domrepo.ErrNoData
	}
	t, err := newPriceTable(pair, tf)
	if err != nil {
		return models.StoreResult{}, err
	}
	if err := s.EnsurePriceTable(ctx, pair, tf); err != nil {
		return models.StoreResult{}, err
	}

	rows := prepareCandles(candles)
	first, last := rows[0].Timestamp, rows[len(rows)-1].Timestamp
	upsert := tf != domrepo.TF1m

	var plan storePlan
	if upsert {
		existing, err := s.candlesBetween(ctx, t, first, last)
		if err != nil {
			return models.StoreResult{}, err
		}
		plan = planUpsert(rows, existing)
	} else {
		existing, err := s.timestampsBetween(ctx, t, first, last)
		if err != nil {
			return models.StoreResult{}, err
		}
		plan = planInsert(rows, existing)
	}

	toWrite := plan.rows()
	if len(toWrite) == 0 {
		s.l.Info("no new data",
			applogger.String("pair", pair),
			applogger.String("tf", string(tf)),
			applogger.Int("received", len(candles)),
		)
		return models.StoreResult{Skipped: len(candles)}, nil
	}

	var affected int64
	err = s.db(ctx).Transaction(func(tx *gorm.DB) error {
		for _, chunk := range chunkCandles(toWrite, insertChunk) {
			q, args := insertStatement(t.ident, chunk, upsert)
			res := tx.Exec(q, args...)
			if res.Error != nil {
				return res.Error
			}
			affected += res.RowsAffected
		}
		return nil
	})
	if err != nil {
		return models.StoreResult{}, WrapDBError("store candles "+t.name, err)
	}

	out := plan.result(len(candles), affected, upsert)
	s.l.Debug("candles stored",
		applogger.String("pair", pair),
		applogger.String("tf", string(tf)),
		applogger.Int("inserted", out.Inserted),
		applogger.Int("updated", out.Updated),
		applogger.Int("skipped", out.Skipped),
	)
	return out, nil
}

func (s *PostgresPriceStore) candlesBetween(ctx context.Context, t priceTable, from, to time.Time) ([]models.Candle, error) {
	q := `SELECT ` + candleColumns + ` FROM ` + t.ident + ` WHERE "timestamp" BETWEEN ? AND ? ORDER BY "timestamp"`
	return s.scanCandles(ctx, "existing candles "+t.name, q, from, to)
}

func (s *PostgresPriceStore) timestampsBetween(ctx context.Context, t priceTable, from, to time.Time) ([]time.Time, error) {
	q := fmt.Sprintf(`SELECT "timestamp" FROM %s WHERE "timestamp" BETWEEN ? AND ? ORDER BY "timestamp"`, t.ident)
	return s.scanTimestamps(ctx, "existing timestamps "+t.name, q, from, to)
}

// Timestamps returns every stored timestamp ascending.
func (s *PostgresPriceStore) Timestamps(ctx context.Context, pair string, tf domrepo.Timeframe) ([]time.Time, error) {
	t, err := newPriceTable(pair, tf)
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`SELECT "timestamp" FROM %s ORDER BY "timestamp"`, t.ident)
	out, err := s.scanTimestamps(ctx, "timestamps "+t.name, q)
	if isUndefinedTable(err) {
		return nil, domrepo.ErrNoData
	}
	return out, err
}

func (s *PostgresPriceStore) scanTimestamps(ctx context.Context, op, q string, args ...interface{}) ([]time.Time, error) {
	rows, err := s.db(ctx).Raw(q, args...).Rows()
	if err != nil {
		return nil, WrapDBError(op, err)
	}
	defer rows.Close()

	var out []time.Time
	for rows.Next() {
		var ts time.Time
		if err := rows.Scan(&ts); err != nil {
			return nil, WrapDBError(op, err)
		}
		out = append(out, ts.UTC())
	}
	return out, WrapDBError(op, rows.Err())
}

// GetCandles returns stored candles ascending. An End without clock time
// covers that whole day.
func (s *PostgresPriceStore) GetCandles(ctx context.Context, pair string, tf domrepo.Timeframe, cq models.CandleQuery) ([]models.Candle, error) {
	t, err := newPriceTable(pair, tf)
	if err != nil {
		return nil, err
	}

	q, args := selectCandlesStatement(t.ident, cq)
	out, err := s.scanCandles(ctx, "get candles "+t.name, q, args...)
	if err != nil {
		if isUndefinedTable(err) {
			return []models.Candle{}, domrepo.ErrNoData
		}
		return nil, err
	}
	if len(out) == 0 {
		return out, domrepo.ErrNoData
	}
	return out, nil
}

func (s *PostgresPriceStore) scanCandles(ctx context.Context, op, q string, args ...interface{}) ([]models.Candle, error) {
	rows, err := s.db(ctx).Raw(q, args...).Rows()
	if err != nil {
		return nil, WrapDBError(op, err)
	}
	defer rows.Close()

	out := make([]models.Candle, 0, 256)
	for rows.Next() {
		var c models.Candle
		if err := rows.Scan(&c.Timestamp, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, WrapDBError(op, err)
		}
		c.Timestamp = c.Timestamp.UTC()
		out = append(out, c)
	}
	return out, WrapDBError(op, rows.Err())
}

// Stats returns min, max and count of the table.
func (s *PostgresPriceStore) Stats(ctx context.Context, pair string, tf domrepo.Timeframe) (models.TableStats, error) {
	t, err := newPriceTable(pair, tf)
	if err != nil {
		return models.TableStats{}, err
	}
	q := fmt.Sprintf(`SELECT min("timestamp"), max("timestamp"), count(*) FROM %s`, t.ident)

	var (
		minTS, maxTS sql.NullTime
		count        int64
	)
	if err := s.db(ctx).Raw(q).Row().Scan(&minTS, &maxTS, &count); err != nil {
		if isUndefinedTable(err) {
			return models.TableStats{}, domrepo.ErrNoData
		}
		return models.TableStats{}, WrapDBError("stats "+t.name, err)
	}
	if count == 0 || !minTS.Valid {
		return models.TableStats{}, domrepo.ErrNoData
	}
	return models.TableStats{Min: minTS.Time.UTC(), Max: maxTS.Time.UTC(), Count: count}, nil
}

func (s *PostgresPriceStore) Health(ctx context.Context) error {
	return s.client.Health(ctx)
}

func (s *PostgresPriceStore) Close() error {
	return s.client.Close()
}
