package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Client wraps a gorm handle over a pgx-backed connection pool.
type Client struct {
	db    *gorm.DB
	sqlDB *sql.DB
}

// NewClient opens the pool and applies pool limits.
func NewClient(opts ...ClientOption) (*Client, error) {
	cfg := &ClientConfig{
		PoolSize:    5,
		MaxOverflow: 10,
		PoolRecycle: time.Hour,
		PingTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.DSN == "" {
		return nil, fmt.Errorf("dsn is required")
	}

	level := logger.Silent
	if cfg.LogQueries {
		level = logger.Info
	}
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(level),
	})
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("postgres pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.PoolSize + cfg.MaxOverflow)
	sqlDB.SetMaxIdleConns(cfg.PoolSize)
	sqlDB.SetConnMaxLifetime(cfg.PoolRecycle)

	if cfg.PrePing {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.PingTimeout)
		defer cancel()
		if err := sqlDB.PingContext(ctx); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("postgres ping: %w", err)
		}
	}

	return &Client{db: db, sqlDB: sqlDB}, nil
}

// DB returns a gorm session bound to ctx.
func (c *Client) DB(ctx context.Context) *gorm.DB {
	return c.db.WithContext(ctx)
}

func (c *Client) Health(ctx context.Context) error {
	return c.sqlDB.PingContext(ctx)
}

// Close closes the connection pool.
func (c *Client) Close() error {
	if c.sqlDB != nil {
		return c.sqlDB.Close()
	}
	return nil
}
