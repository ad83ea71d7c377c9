package config

import (
	"fmt"
	"maps"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName  string `env:"APP_NAME" envDefault:"wallet-core"`
	AppEnv   string `env:"APP_ENV" envDefault:"development"`
	Port     string `env:"PORT" envDefault:"3000"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	// LogFormat is json or text.
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	DatabaseURL    string        `env:"DATABASE_URL"`
	LockTimeout    time.Duration `env:"LOCK_TIMEOUT" envDefault:"5s"`
	MigrateOnStart bool          `env:"MIGRATE_ON_START" envDefault:"false"`

	RedisURL       string        `env:"REDIS_URL"`
	IdempotencyTTL time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"24h"`
	// IdempotencyTTLSeconds overrides IdempotencyTTL when set.
	IdempotencyTTLSeconds *int `env:"IDEMPOTENCY_TTL_SECONDS"`

	AMQPURL        string `env:"AMQP_URL"`
	EventsQueue    string `env:"EVENTS_QUEUE" envDefault:"wallet.events"`
	EventsPrefetch int    `env:"EVENTS_PREFETCH" envDefault:"16"`

	DefaultCurrency  string `env:"DEFAULT_CURRENCY" envDefault:"NOK"`
	DefaultOwnerType string `env:"DEFAULT_OWNER_TYPE" envDefault:"INVESTOR"`

	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	ShutdownPeriod time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	// ShutdownSeconds overrides ShutdownPeriod when set.
	ShutdownSeconds *int `env:"SHUTDOWN_TIMEOUT_SECONDS"`
}

// durationParsers makes every time.Duration variable accept plain seconds
// ("30") as well as Go duration syntax ("30s", "500ms").
var durationParsers = map[reflect.Type]env.ParserFunc{
	reflect.TypeOf(time.Duration(0)): parseDuration,
}

func parseDuration(v string) (any, error) {
	if seconds, err := strconv.Atoi(v); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}
	return time.ParseDuration(v)
}

// Load reads an optional .env file, then the environment.
func Load() (Config, error) {
	_ = godotenv.Load()
	return parse(env.Options{})
}

func parse(opts env.Options) (Config, error) {
	funcs := maps.Clone(durationParsers)
	maps.Copy(funcs, opts.FuncMap)
	opts.FuncMap = funcs

	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if cfg.ShutdownSeconds != nil {
		cfg.ShutdownPeriod = time.Duration(*cfg.ShutdownSeconds) * time.Second
	}
	if cfg.IdempotencyTTLSeconds != nil {
		cfg.IdempotencyTTL = time.Duration(*cfg.IdempotencyTTLSeconds) * time.Second
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	cfg.LogFormat = strings.ToLower(cfg.LogFormat)
	cfg.DefaultCurrency = strings.ToUpper(cfg.DefaultCurrency)
	cfg.DefaultOwnerType = strings.ToUpper(cfg.DefaultOwnerType)

	if cfg.DatabaseURL == "" && !cfg.IsDevelopment() {
		return Config{}, fmt.Errorf("DATABASE_URL must be set when APP_ENV=%s", cfg.AppEnv)
	}
	if cfg.LockTimeout <= 0 {
		return Config{}, fmt.Errorf("LOCK_TIMEOUT must be positive, got %s", cfg.LockTimeout)
	}
	if cfg.IdempotencyTTL <= 0 {
		return Config{}, fmt.Errorf("IDEMPOTENCY_TTL must be positive, got %s", cfg.IdempotencyTTL)
	}
	if cfg.EventsPrefetch <= 0 {
		return Config{}, fmt.Errorf("EVENTS_PREFETCH must be positive, got %d", cfg.EventsPrefetch)
	}
	return cfg, nil
}

// IsDevelopment reports whether the service may run without Postgres.
func (c Config) IsDevelopment() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}
