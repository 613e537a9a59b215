package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App       AppConfig       `yaml:"app"`
	Logging   LoggingConfig   `yaml:"logging"`
	Chains    []string        `yaml:"chains"`
	Security  SecurityConfig  `yaml:"security"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Window    WindowConfig    `yaml:"window"`
	Dedupe    DedupeConfig    `yaml:"dedupe"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Composer  ComposerConfig  `yaml:"composer"`
	Delivery  DeliveryConfig  `yaml:"delivery"`
	Stores    StoresConfig    `yaml:"stores"`
	PubSub    PubSubConfig    `yaml:"pubsub"`
	API       APIConfig       `yaml:"api"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type AppConfig struct {
	InstanceID      string        `yaml:"instance_id"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug|info|warn|error
	Format string `yaml:"format"` // json|console
}

// JWTConfig guards the ingestion webhook. Producers sign with RS256.
type JWTConfig struct {
	Enabled       bool          `yaml:"enabled"`
	PublicKeyPath string        `yaml:"public_key_path"`
	Audience      string        `yaml:"audience"`
	Issuer        string        `yaml:"issuer"`
	Leeway        time.Duration `yaml:"leeway"`
	Producers     []string      `yaml:"producers"` // allowed sub claims, empty -> any
}

type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

type RateBucket struct {
	RefillPerSec int           `yaml:"refill_per_sec"`
	Burst        int           `yaml:"burst"`
	TTL          time.Duration `yaml:"ttl"`
}

type RateLimitConfig struct {
	Enabled bool       `yaml:"enabled"`
	ByJWT   RateBucket `yaml:"by_jwt"`
	ByIP    RateBucket `yaml:"by_ip"`
}

type IngestConfig struct {
	FilterUnknownPools bool  `yaml:"filter_unknown_pools"`
	MaxBodyBytes       int64 `yaml:"max_body_bytes"`
	InsertBatchSize    int   `yaml:"insert_batch_size"`
}

type WindowConfig struct {
	Length time.Duration `yaml:"length"` // trailing window, 24h
	TopN   int           `yaml:"top_n"`
}

type DedupeConfig struct {
	Cache  string        `yaml:"cache"` // redis|memory|none
	Prefix string        `yaml:"prefix"`
	TTL    time.Duration `yaml:"ttl"` // cache entry ttl, 0 -> keep
}

type SchedulerConfig struct {
	Interval      time.Duration `yaml:"interval"`
	MinTradeCount uint64        `yaml:"min_trade_count"`
}

type LLMConfig struct {
	Endpoint string        `yaml:"endpoint"`
	APIKey   string        `yaml:"api_key"`
	Model    string        `yaml:"model"`
	Timeout  time.Duration `yaml:"timeout"`
}

type ComposerConfig struct {
	Mode     string    `yaml:"mode"` // template|llm|plain
	MaxChars int       `yaml:"max_chars"`
	LLM      LLMConfig `yaml:"llm"`
}

type TelegramConfig struct {
	Token   string        `yaml:"token"`
	ChatID  string        `yaml:"chat_id"`
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

type DeliveryConfig struct {
	Channel          string         `yaml:"channel"` // telegram|nats|log
	MaxPerActivation int            `yaml:"max_per_activation"`
	MinDelay         time.Duration  `yaml:"min_delay"`
	MaxDelay         time.Duration  `yaml:"max_delay"`
	MaxAttempts      int            `yaml:"max_attempts"` // 0 -> unlimited
	Telegram         TelegramConfig `yaml:"telegram"`
}

type DatabaseConfig struct {
	DSN           string `yaml:"dsn"`         // postgres, networked store
	SQLitePath    string `yaml:"sqlite_path"` // used when dsn is empty
	RunMigrations bool   `yaml:"run_migrations"`
	MaxOpenConns  int    `yaml:"max_open_conns"`
}

type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type ClickHouseWriterConfig struct {
	BatchMaxRows     int           `yaml:"batch_max_rows"`
	BatchMaxInterval time.Duration `yaml:"batch_max_interval"`
	MaxRetries       int           `yaml:"max_retries"`
	RetryBackoff     time.Duration `yaml:"retry_backoff"`
}

type ClickHouseConfig struct {
	Enabled bool                   `yaml:"enabled"`
	DSN     string                 `yaml:"dsn"`
	Writer  ClickHouseWriterConfig `yaml:"writer"`
}

type StoresConfig struct {
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
}

type NATSConfig struct {
	URL             string `yaml:"url"`
	BroadcastPrefix string `yaml:"broadcast_prefix"`
}

type PubSubConfig struct {
	NATS NATSConfig `yaml:"nats"`
}

type CORSConfig struct {
	Enabled bool     `yaml:"enabled"`
	Origins []string `yaml:"origins"`
	Methods []string `yaml:"methods"`
	Headers []string `yaml:"headers"`
}

type HTTPConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	CORS         CORSConfig    `yaml:"cors"`
}

type APIConfig struct {
	HTTP HTTPConfig `yaml:"http"`
}

type PyroscopeConfig struct {
	Enabled    bool              `yaml:"enabled"`
	AppName    string            `yaml:"app_name"`
	ServerAddr string            `yaml:"server_addr"`
	AuthToken  string            `yaml:"auth_token"`
	Tags       map[string]string `yaml:"tags"`
}

type MetricsConfig struct {
	Pyroscope PyroscopeConfig `yaml:"pyroscope"`
}

// Load reads an optional .env next to the process, expands ${VAR} in the yaml and decodes it
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed load .env, error=%w", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return Parse(b)
}

func Parse(b []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(b))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if len(c.Chains) == 0 {
		c.Chains = []string{"ethereum", "base"}
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.App.ShutdownTimeout <= 0 {
		c.App.ShutdownTimeout = 10 * time.Second
	}
	if c.Window.Length <= 0 {
		c.Window.Length = 24 * time.Hour
	}
	if c.Window.TopN <= 0 {
		c.Window.TopN = 10
	}
	if c.Scheduler.Interval <= 0 {
		c.Scheduler.Interval = 5 * time.Minute
	}
	if c.Scheduler.MinTradeCount == 0 {
		c.Scheduler.MinTradeCount = 1000
	}
	if c.Composer.Mode == "" {
		c.Composer.Mode = "template"
	}
	if c.Composer.MaxChars <= 0 {
		c.Composer.MaxChars = 280
	}
	if c.Delivery.Channel == "" {
		c.Delivery.Channel = "log"
	}
	if c.Delivery.MaxPerActivation <= 0 {
		c.Delivery.MaxPerActivation = 5
	}
	if c.Delivery.MinDelay <= 0 {
		c.Delivery.MinDelay = 30 * time.Second
	}
	if c.Delivery.MaxDelay < c.Delivery.MinDelay {
		c.Delivery.MaxDelay = 120 * time.Second
		if c.Delivery.MaxDelay < c.Delivery.MinDelay {
			c.Delivery.MaxDelay = c.Delivery.MinDelay
		}
	}
	if c.Stores.Database.DSN == "" && c.Stores.Database.SQLitePath == "" {
		c.Stores.Database.SQLitePath = "data/poolwatch.sqlite"
	}
	if c.Dedupe.Cache == "" {
		c.Dedupe.Cache = "memory"
	}
	if c.API.HTTP.Addr == "" {
		c.API.HTTP.Addr = ":3030"
	}
}
