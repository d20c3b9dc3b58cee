package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"Backtest/internal/domain/models"
	"Backtest/pkg/util"
)

type Config struct {
	Environment string `yaml:"environment" toml:"environment" default:"development" validate:"required"`
	Log         struct {
		Level  string `yaml:"level" toml:"level" default:"info" validate:"oneof=trace debug info warn error"`
		Format string `yaml:"format" toml:"format" default:"console" validate:"oneof=console json"`
		Output string `yaml:"output" toml:"output" default:"stdout"`
	} `yaml:"log" toml:"log"`
	Server struct {
		Enabled         bool          `yaml:"enabled" toml:"enabled" default:"true"`
		Port            int           `yaml:"port" toml:"port" default:"8080" validate:"gte=1,lte=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" toml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" toml:"write_timeout" default:"30s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" toml:"shutdown_timeout" default:"10s"`
		SubmitBurst     int           `yaml:"submit_burst" toml:"submit_burst" default:"5" validate:"gte=0"`
		SubmitPerMinute float64       `yaml:"submit_per_minute" toml:"submit_per_minute" default:"30" validate:"gte=0"`
		CORSOrigins     []string      `yaml:"cors_origins" toml:"cors_origins" default:"[\"*\"]"`
	} `yaml:"server" toml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" toml:"enabled" default:"true"`
		Path    string `yaml:"path" toml:"path" default:"/metrics"`
	} `yaml:"metrics" toml:"metrics"`
	Feed struct {
		Source          string   `yaml:"source" toml:"source" default:"csv" validate:"oneof=csv clickhouse"`
		CSVDir          string   `yaml:"csv_dir" toml:"csv_dir" default:"data"`
		Table           string   `yaml:"table" toml:"table" default:"backtest.bars"`
		Symbols         []string `yaml:"symbols" toml:"symbols"`
		DateFrom        string   `yaml:"date_from" toml:"date_from"`
		DateTo          string   `yaml:"date_to" toml:"date_to"`
		NormalizePrices bool     `yaml:"normalize_prices" toml:"normalize_prices" default:"true"`
		NormalizeVolume bool     `yaml:"normalize_volume" toml:"normalize_volume"`
		RoundDecimals   int32    `yaml:"round_decimals" toml:"round_decimals" default:"2" validate:"gte=0,lte=8"`
	} `yaml:"feed" toml:"feed"`
	Portfolio  models.PortfolioSettings   `yaml:"portfolio" toml:"portfolio"`
	Strategies []models.StrategyRunConfig `yaml:"strategies" toml:"strategies" validate:"dive"`
	Replay     struct {
		Parallel   bool `yaml:"parallel" toml:"parallel" default:"true"`
		Workers    int  `yaml:"workers" toml:"workers" validate:"gte=0"`
		RunOnStart bool `yaml:"run_on_start" toml:"run_on_start"`
	} `yaml:"replay" toml:"replay"`
	Results struct {
		Store      string        `yaml:"store" toml:"store" default:"sqlite" validate:"oneof=none clickhouse sqlite"`
		SQLitePath string        `yaml:"sqlite_path" toml:"sqlite_path" default:"backtest.db"`
		Publish    bool          `yaml:"publish" toml:"publish"`
		SortBy     string        `yaml:"sort_by" toml:"sort_by" default:"sharpe" validate:"oneof=strategy total_return annualized_return sharpe trades pct_profitable dangerous max_drawdown"`
		SortOrder  string        `yaml:"sort_order" toml:"sort_order" default:"desc" validate:"oneof=asc desc"`
		CacheTTL   time.Duration `yaml:"cache_ttl" toml:"cache_ttl" default:"1h"`
		// Bounds of the in-process report cache used when Redis is disabled.
		MemoryCacheEntries int           `yaml:"memory_cache_entries" toml:"memory_cache_entries" default:"1000" validate:"gte=1"`
		MemoryCacheSweep   time.Duration `yaml:"memory_cache_sweep" toml:"memory_cache_sweep" default:"5m"`
	} `yaml:"results" toml:"results"`
	Kafka struct {
		Brokers      []string `yaml:"brokers" toml:"brokers"`
		ReportTopic  string   `yaml:"report_topic" toml:"report_topic" default:"backtest.reports"`
		TradesTopic  string   `yaml:"trades_topic" toml:"trades_topic" default:"backtest.trades"`
		RequiredAcks int      `yaml:"required_acks" toml:"required_acks" default:"-1"`
		Compression  string   `yaml:"compression" toml:"compression" default:"gzip"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts" toml:"max_attempts" default:"3"`
			Linger       time.Duration `yaml:"linger" toml:"linger" default:"100ms"`
			BatchBytes   int           `yaml:"batch_bytes" toml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" toml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" toml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" toml:"read_timeout" default:"10s"`
		} `yaml:"producer" toml:"producer"`
	} `yaml:"kafka" toml:"kafka"`
	ClickHouse struct {
		Host             string        `yaml:"host" toml:"host" default:"localhost"`
		Port             int           `yaml:"port" toml:"port" default:"9000"`
		Database         string        `yaml:"database" toml:"database" default:"backtest"`
		User             string        `yaml:"user" toml:"user" default:"default"`
		Password         string        `yaml:"password" toml:"password"`
		UseHTTP          bool          `yaml:"use_http" toml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert" toml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert" toml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" toml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" toml:"read_timeout" default:"30s"`
		WriteTimeout     time.Duration `yaml:"write_timeout" toml:"write_timeout" default:"30s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" toml:"max_execution_time" default:"60s"`
	} `yaml:"clickhouse" toml:"clickhouse"`
	Redis struct {
		Enabled  bool   `yaml:"enabled" toml:"enabled"`
		Host     string `yaml:"host" toml:"host" default:"localhost"`
		Port     int    `yaml:"port" toml:"port" default:"6379"`
		Password string `yaml:"password" toml:"password"`
		DB       int    `yaml:"db" toml:"db"`
		Prefix   string `yaml:"prefix" toml:"prefix" default:"backtest"`
		Pool     struct {
			Size        int           `yaml:"size" toml:"size" default:"10" validate:"gte=1"`
			MinIdle     int           `yaml:"min_idle" toml:"min_idle" default:"2" validate:"gte=0"`
			WaitTimeout time.Duration `yaml:"wait_timeout" toml:"wait_timeout" default:"30s"`
		} `yaml:"pool" toml:"pool"`
	} `yaml:"redis" toml:"redis"`
	Queue struct {
		Enabled    bool          `yaml:"enabled" toml:"enabled"`
		Workers    int           `yaml:"workers" toml:"workers" default:"1" validate:"gte=1"`
		RetryLimit int           `yaml:"retry_limit" toml:"retry_limit" default:"2"`
		RetryDelay time.Duration `yaml:"retry_delay" toml:"retry_delay" default:"30s"`
	} `yaml:"queue" toml:"queue"`
	Broker struct {
		WebSocketURL     string        `yaml:"websocket_url" toml:"websocket_url"`
		APIKey           string        `yaml:"api_key" toml:"api_key"`
		PingInterval     time.Duration `yaml:"ping_interval" toml:"ping_interval" default:"15s"`
		HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout" toml:"heartbeat_timeout" default:"45s"`
	} `yaml:"broker" toml:"broker"`
}

var validate = validator.New()

// Default returns a configuration holding only default values.
func Default() (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	return &c, nil
}

// Load reads a YAML (or .toml) configuration file on top of the defaults.
func Load(path string) (*Config, error) {
	c, err := Default()
	if err != nil {
		return nil, err
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(b, c)
	default:
		err = yaml.Unmarshal(b, c)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// LoadWithEnv loads config, then overrides it with BACKTEST_* variables from
// the environment or a .env file next to the working directory.
func LoadWithEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	applyEnvOverrides(c)

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func applyEnvOverrides(c *Config) {
	setStr(&c.Environment, "BACKTEST_ENVIRONMENT")
	setStr(&c.Log.Level, "BACKTEST_LOG_LEVEL")
	setInt(&c.Server.Port, "BACKTEST_SERVER_PORT")

	setStr(&c.Feed.Source, "BACKTEST_FEED_SOURCE")
	setStr(&c.Feed.CSVDir, "BACKTEST_FEED_CSV_DIR")
	setList(&c.Feed.Symbols, "BACKTEST_SYMBOLS")
	setStr(&c.Feed.DateFrom, "BACKTEST_DATE_FROM")
	setStr(&c.Feed.DateTo, "BACKTEST_DATE_TO")

	setStr(&c.Results.Store, "BACKTEST_RESULTS_STORE")
	setStr(&c.Results.SQLitePath, "BACKTEST_SQLITE_PATH")
	setBool(&c.Replay.RunOnStart, "BACKTEST_RUN_ON_START")

	setList(&c.Kafka.Brokers, "BACKTEST_KAFKA_BROKERS")
	setStr(&c.ClickHouse.Host, "BACKTEST_CLICKHOUSE_HOST")
	setStr(&c.ClickHouse.User, "BACKTEST_CLICKHOUSE_USER")
	setStr(&c.ClickHouse.Password, "BACKTEST_CLICKHOUSE_PASSWORD")
	setStr(&c.Redis.Host, "BACKTEST_REDIS_HOST")
	setStr(&c.Redis.Password, "BACKTEST_REDIS_PASSWORD")
	setStr(&c.Broker.WebSocketURL, "BACKTEST_BROKER_URL")
	setStr(&c.Broker.APIKey, "BACKTEST_BROKER_API_KEY")
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if _, err := c.FeedOptions(); err != nil {
		return err
	}
	if c.Feed.Source == "csv" && c.Feed.CSVDir == "" {
		return fmt.Errorf("feed.csv_dir is required for the csv source")
	}
	if c.Results.Publish && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required when results.publish is set")
	}
	if c.Queue.Enabled && !c.Redis.Enabled {
		return fmt.Errorf("queue.enabled requires redis.enabled")
	}

	seen := make(map[string]bool, len(c.Strategies))
	for _, s := range c.Strategies {
		if seen[s.Name] {
			return fmt.Errorf("strategy name %q is used twice", s.Name)
		}
		seen[s.Name] = true
		settings, err := ResolvePortfolioSettings(c.Portfolio, s.Settings)
		if err != nil {
			return fmt.Errorf("strategy %s: %w", s.Name, err)
		}
		if settings.Mode == models.ModeLive && c.Broker.WebSocketURL == "" {
			return fmt.Errorf("strategy %s: live mode needs broker.websocket_url", s.Name)
		}
	}
	return nil
}

// FeedOptions converts the feed section into loader options.
func (c *Config) FeedOptions() (models.FeedOptions, error) {
	opts := models.FeedOptions{
		Symbols:         c.Feed.Symbols,
		NormalizePrices: c.Feed.NormalizePrices,
		NormalizeVolume: c.Feed.NormalizeVolume,
		RoundDecimals:   c.Feed.RoundDecimals,
	}
	var ok bool
	if c.Feed.DateFrom != "" {
		if opts.DateFrom, ok = util.ParseTime(c.Feed.DateFrom); !ok {
			return opts, fmt.Errorf("feed.date_from: unparseable %q", c.Feed.DateFrom)
		}
	}
	if c.Feed.DateTo != "" {
		if opts.DateTo, ok = util.ParseTime(c.Feed.DateTo); !ok {
			return opts, fmt.Errorf("feed.date_to: unparseable %q", c.Feed.DateTo)
		}
	}
	if !opts.DateFrom.IsZero() && !opts.DateTo.IsZero() && opts.DateTo.Before(opts.DateFrom) {
		return opts, fmt.Errorf("feed.date_to is before feed.date_from")
	}
	return opts, nil
}
