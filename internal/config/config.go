package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StorePostgres = "postgres"
	StorePebble   = "pebble"
)

type Config struct {
	HTTPAddr string
	LogLevel string

	StoreDriver string
	DBUser      string
	DBPassword  string
	DBHost      string
	DBPort      string
	DBName      string
	DBSSLMode   string
	PebblePath  string

	JWTSecret string
	JWTTTL    time.Duration

	BookCapacity              int
	BookLockShards            int
	MatchWorkers              int
	ReplayWorkers             int
	SubscriberPendingLimit    int
	StoreTimeout              time.Duration
	KeepAliveInterval         time.Duration
	InstrumentRefreshInterval time.Duration

	KafkaBrokers    []string
	KafkaTradeTopic string

	ShutdownTimeout time.Duration
}

func Default() Config {
	return Config{
		HTTPAddr:                  ":8080",
		LogLevel:                  "info",
		StoreDriver:               StorePostgres,
		DBHost:                    "localhost",
		DBPort:                    "5432",
		DBSSLMode:                 "disable",
		PebblePath:                "data/matching",
		JWTTTL:                    24 * time.Hour,
		BookCapacity:              10_000,
		BookLockShards:            64,
		MatchWorkers:              runtime.NumCPU(),
		ReplayWorkers:             10,
		SubscriberPendingLimit:    1024,
		StoreTimeout:              5 * time.Second,
		KeepAliveInterval:         30 * time.Second,
		InstrumentRefreshInterval: 15 * time.Minute,
		KafkaTradeTopic:           "trades",
		ShutdownTimeout:           10 * time.Second,
	}
}

// LoadFromEnv loads the optional .env file at path (".env" when empty) and applies
// environment overrides on top of Default().
func LoadFromEnv(path string) (Config, error) {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load %s: %w", path, err)
	}

	cfg := Default()
	p := parser{}
	p.str("HTTP_ADDR", &cfg.HTTPAddr)
	p.str("LOG_LEVEL", &cfg.LogLevel)
	p.str("STORE_DRIVER", &cfg.StoreDriver)
	p.str("DB_USER", &cfg.DBUser)
	p.str("DB_PASSWORD", &cfg.DBPassword)
	p.str("DB_HOST", &cfg.DBHost)
	p.str("DB_PORT", &cfg.DBPort)
	p.str("DB_NAME", &cfg.DBName)
	p.str("DB_SSLMODE", &cfg.DBSSLMode)
	p.str("PEBBLE_PATH", &cfg.PebblePath)
	p.str("JWT_SECRET", &cfg.JWTSecret)
	p.duration("JWT_TTL", &cfg.JWTTTL)
	p.integer("BOOK_CAPACITY", &cfg.BookCapacity)
	p.integer("BOOK_LOCK_SHARDS", &cfg.BookLockShards)
	p.integer("MATCH_WORKERS", &cfg.MatchWorkers)
	p.integer("REPLAY_WORKERS", &cfg.ReplayWorkers)
	p.integer("SUBSCRIBER_PENDING_LIMIT", &cfg.SubscriberPendingLimit)
	p.duration("STORE_TIMEOUT", &cfg.StoreTimeout)
	p.duration("KEEPALIVE_INTERVAL", &cfg.KeepAliveInterval)
	p.duration("INSTRUMENT_REFRESH_INTERVAL", &cfg.InstrumentRefreshInterval)
	p.str("KAFKA_TRADE_TOPIC", &cfg.KafkaTradeTopic)
	p.duration("SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout)
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}
	if p.err != nil {
		return Config{}, p.err
	}

	if cfg.MatchWorkers <= 0 {
		cfg.MatchWorkers = runtime.NumCPU()
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch c.StoreDriver {
	case StorePostgres, StorePebble:
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StorePostgres, StorePebble, c.StoreDriver)
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.BookCapacity <= 0 || c.BookLockShards <= 0 || c.ReplayWorkers <= 0 || c.SubscriberPendingLimit <= 0 {
		return errors.New("BOOK_CAPACITY, BOOK_LOCK_SHARDS, REPLAY_WORKERS and SUBSCRIBER_PENDING_LIMIT must be positive")
	}
	return nil
}

// PostgresDSN builds the lib/pq connection string.
func (c Config) PostgresDSN() string {
	return fmt.Sprintf(
		"user=%s password=%s host=%s port=%s dbname=%s sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// parser keeps the first conversion error.
type parser struct {
	err error
}

func (p *parser) str(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func (p *parser) integer(key string, dst *int) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" || p.err != nil {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.err = fmt.Errorf("%s: %w", key, err)
		return
	}
	*dst = n
}

func (p *parser) duration(key string, dst *time.Duration) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" || p.err != nil {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.err = fmt.Errorf("%s: %w", key, err)
		return
	}
	*dst = d
}
