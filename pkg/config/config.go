package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const envPrefix = "FOREX_AI"

var pairNamePattern = regexp.MustCompile(`^[A-Za-z0-9]{3,10}$`)

// CurrencyPairConfig describes one traded pair.
type CurrencyPairConfig struct {
	Name        string  `yaml:"name"`
	Description string  `yaml:"description"`
	PipValue    float64 `yaml:"pip_value" default:"0.0001"`
	SpreadAvg   float64 `yaml:"spread_avg"`
}

// MarketSession is a calendar entry. Day uses 0=Monday .. 6=Sunday.
type MarketSession struct {
	Day  int    `yaml:"day"`
	Time string `yaml:"time"`
}

type Config struct {
	Environment string `yaml:"environment" default:"development"`
	Server      struct {
		Port            int           `yaml:"port" default:"8080"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"30s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"metrics"`
	Database struct {
		Host        string        `yaml:"host"`
		Port        int           `yaml:"port" default:"5432"`
		Name        string        `yaml:"name"`
		User        string        `yaml:"user"`
		Password    string        `yaml:"password"`
		SSLMode     string        `yaml:"sslmode" default:"disable"`
		PoolSize    int           `yaml:"pool_size" default:"5"`
		MaxOverflow int           `yaml:"max_overflow" default:"10"`
		PrePing     bool          `yaml:"pre_ping"`
		PoolRecycle time.Duration `yaml:"pool_recycle" default:"1h"`
	} `yaml:"database"`
	MT5 struct {
		Login        int64         `yaml:"login"`
		Password     string        `yaml:"password"`
		Server       string        `yaml:"server"`
		Timeout      time.Duration `yaml:"timeout" default:"60s"`
		Transport    string        `yaml:"transport" default:"http"` // http, ws or amqp
		BridgeURL    string        `yaml:"bridge_url"`
		AMQPURL      string        `yaml:"amqp_url"`
		RequestQueue string        `yaml:"request_queue" default:"mt5.requests"`
		Breaker      struct {
			MaxFailures uint32        `yaml:"max_failures" default:"5"`
			Timeout     time.Duration `yaml:"timeout" default:"30s"`
		} `yaml:"breaker"`
		RateLimit struct {
			RPS   float64 `yaml:"rps" default:"20"`
			Burst float64 `yaml:"burst" default:"20"`
		} `yaml:"rate_limit"`
	} `yaml:"mt5"`
	Data struct {
		StartDate     string               `yaml:"start_date" default:"2020-01-01"`
		Timeframes    []string             `yaml:"timeframes" default:"[\"1m\",\"5m\",\"15m\",\"30m\",\"1h\",\"4h\",\"1d\"]"`
		CurrencyPairs []CurrencyPairConfig `yaml:"currency_pairs"`
		Update        struct {
			Frequency            int           `yaml:"frequency" default:"60"` // minutes
			MaxCandlesPerRequest int           `yaml:"max_candles_per_request" default:"1000"`
			RetryAttempts        int           `yaml:"retry_attempts" default:"3"`
			RetryDelay           time.Duration `yaml:"retry_delay" default:"300s"`
			MaxWorkers           int           `yaml:"max_workers" default:"4"`
			MaxGapDays           int           `yaml:"max_gap_days" default:"30"`
			LookbackDays         int           `yaml:"lookback_days" default:"30"`
		} `yaml:"update"`
	} `yaml:"data"`
	Calendar struct {
		WeekendTrading  bool            `yaml:"weekend_trading"`
		ForexMarketOpen []MarketSession `yaml:"forex_market_open"`
	} `yaml:"calendar"`
	Paths struct {
		Models string `yaml:"models"`
		Logs   string `yaml:"logs" default:"logs"`
		Data   string `yaml:"data"`
	} `yaml:"paths"`
	Logging struct {
		Level      string `yaml:"level" default:"info"`
		Format     string `yaml:"format" default:"console"`
		File       string `yaml:"file" default:"fxpull.log"`
		MaxSizeMB  int    `yaml:"max_size_mb" default:"10"`
		MaxBackups int    `yaml:"max_backups" default:"10"`
	} `yaml:"logging"`
	Kafka struct {
		Enabled      bool     `yaml:"enabled"`
		Brokers      []string `yaml:"brokers"`
		Topic        string   `yaml:"topic" default:"fx.candles.stored"`
		UpdateTopic  string   `yaml:"update_topic" default:"fx.update.requests"`
		RequiredAcks int      `yaml:"required_acks"`
		Compression  string   `yaml:"compression"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts"`
			Linger       time.Duration `yaml:"linger"`
			BatchBytes   int           `yaml:"batch_bytes"`
			BatchSize    int           `yaml:"batch_size"`
			WriteTimeout time.Duration `yaml:"write_timeout"`
			ReadTimeout  time.Duration `yaml:"read_timeout"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id" default:"fxpull"`
			Workers    int           `yaml:"workers"`
			BufferSize int           `yaml:"buffer_size"`
			RetryMax   int           `yaml:"retry_max"`
			BackoffMin time.Duration `yaml:"backoff_min"`
			BackoffMax time.Duration `yaml:"backoff_max"`
			DLQTopic   string        `yaml:"dlq_topic"`
			MinBytes   int           `yaml:"min_bytes"`
			MaxBytes   int           `yaml:"max_bytes"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Host     string `yaml:"host" default:"localhost"`
		Port     int    `yaml:"port" default:"6379"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix" default:"fxpull"`
	} `yaml:"redis"`
	Cache struct {
		CoverageTTL time.Duration `yaml:"coverage_ttl" default:"5m"`
		LockTTL     time.Duration `yaml:"lock_ttl" default:"30m"`
	} `yaml:"cache"`
	Queue struct {
		Workers    int           `yaml:"workers" default:"2"`
		RetryLimit int           `yaml:"retry_limit" default:"3"`
		RetryDelay time.Duration `yaml:"retry_delay" default:"1m"`
	} `yaml:"queue"`
	ClickHouse struct {
		Enabled          bool          `yaml:"enabled"`
		Host             string        `yaml:"host"`
		Port             int           `yaml:"port"`
		Database         string        `yaml:"database"`
		User             string        `yaml:"user"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout"`
		ReadTimeout      time.Duration `yaml:"read_timeout"`
		WriteTimeout     time.Duration `yaml:"write_timeout"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time"`
	} `yaml:"clickhouse"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.setDefaults(); err != nil {
		return nil, err
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &c, nil
}

// LoadWithEnv loads .env (if present), resolves the config path, reads YAML
// and applies FOREX_AI_* overrides before validating.
func LoadWithEnv(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	path = ResolvePath(path)
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	if err := c.setDefaults(); err != nil {
		return nil, err
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// ResolvePath returns path when it exists, otherwise <FOREX_AI_CONFIG_DIR>/main.yml
// when that exists. The original path is returned if neither is found.
func ResolvePath(path string) string {
	if _, err := os.Stat(path); err == nil {
		return path
	}
	if dir := os.Getenv(envPrefix + "_CONFIG_DIR"); dir != "" {
		candidate := filepath.Join(dir, "main.yml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return path
}

func (c *Config) applyEnv() error {
	str := map[string]*string{
		"DB_HOST":      &c.Database.Host,
		"DB_NAME":      &c.Database.Name,
		"DB_USER":      &c.Database.User,
		"DB_PASSWORD":  &c.Database.Password,
		"MT5_SERVER":   &c.MT5.Server,
		"MT5_PASSWORD": &c.MT5.Password,
		"PATH_MODELS":  &c.Paths.Models,
		"PATH_LOGS":    &c.Paths.Logs,
		"PATH_DATA":    &c.Paths.Data,
		"LOG_LEVEL":    &c.Logging.Level,
	}
	for key, dst := range str {
		if v := os.Getenv(envPrefix + "_" + key); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv(envPrefix + "_DB_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s_DB_PORT: %w", envPrefix, err)
		}
		c.Database.Port = port
	}
	if v := os.Getenv(envPrefix + "_MT5_LOGIN"); v != "" {
		login, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%s_MT5_LOGIN: %w", envPrefix, err)
		}
		c.MT5.Login = login
	}
	if v := os.Getenv(envPrefix + "_KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv(envPrefix + "_REDIS_ADDR"); v != "" {
		host, port, ok := strings.Cut(v, ":")
		c.Redis.Host = host
		if ok {
			p, err := strconv.Atoi(port)
			if err != nil {
				return fmt.Errorf("%s_REDIS_ADDR: %w", envPrefix, err)
			}
			c.Redis.Port = p
		}
	}
	return nil
}

// setDefaults fills pair entries, which only exist once the YAML is read.
func (c *Config) setDefaults() error {
	for i := range c.Data.CurrencyPairs {
		if err := defaults.Set(&c.Data.CurrencyPairs[i]); err != nil {
			return fmt.Errorf("pair defaults: %w", err)
		}
	}
	return nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database.name is required")
	}
	if len(c.Data.CurrencyPairs) == 0 {
		return fmt.Errorf("data.currency_pairs cannot be empty")
	}
	seen := make(map[string]struct{}, len(c.Data.CurrencyPairs))
	for _, p := range c.Data.CurrencyPairs {
		if !pairNamePattern.MatchString(p.Name) {
			return fmt.Errorf("data.currency_pairs: invalid pair name %q", p.Name)
		}
		key := strings.ToUpper(p.Name)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("data.currency_pairs: duplicate pair %q", p.Name)
		}
		seen[key] = struct{}{}
	}
	if _, err := time.Parse("2006-01-02", c.Data.StartDate); err != nil {
		return fmt.Errorf("data.start_date must be YYYY-MM-DD, got '%s'", c.Data.StartDate)
	}
	for _, tf := range c.Data.Timeframes {
		switch tf {
		case "1m", "5m", "15m", "30m", "1h", "4h", "1d":
		default:
			return fmt.Errorf("data.timeframes: unsupported timeframe '%s'", tf)
		}
	}

	switch c.MT5.Transport {
	case "http", "ws":
		if c.MT5.BridgeURL == "" {
			return fmt.Errorf("mt5.bridge_url is required for transport '%s'", c.MT5.Transport)
		}
	case "amqp":
		if c.MT5.AMQPURL == "" {
			return fmt.Errorf("mt5.amqp_url is required for transport 'amqp'")
		}
	default:
		return fmt.Errorf("mt5.transport must be 'http', 'ws' or 'amqp', got '%s'", c.MT5.Transport)
	}

	for _, s := range c.Calendar.ForexMarketOpen {
		if s.Day < 0 || s.Day > 6 {
			return fmt.Errorf("calendar.forex_market_open: day must be 0..6, got %d", s.Day)
		}
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	if c.ClickHouse.Enabled && c.ClickHouse.Host == "" {
		return fmt.Errorf("clickhouse.host is required when clickhouse is enabled")
	}
	return nil
}

// PairNames returns the configured pair names in config order.
func (c *Config) PairNames() []string {
	names := make([]string, 0, len(c.Data.CurrencyPairs))
	for _, p := range c.Data.CurrencyPairs {
		names = append(names, p.Name)
	}
	return names
}

// HasPair reports whether name is a configured pair (case-insensitive).
func (c *Config) HasPair(name string) bool {
	for _, p := range c.Data.CurrencyPairs {
		if strings.EqualFold(p.Name, name) {
			return true
		}
	}
	return false
}

// DSN builds the PostgreSQL connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host, c.Database.Port, c.Database.User, c.Database.Password, c.Database.Name, c.Database.SSLMode)
}
