package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = ""

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	App      AppConfig
	DB       DBConfig
	Redis    RedisConfig
	Acquirer AcquirerConfig
	Engine   EngineConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"PAYCORE_APP_ENV" default:"dev"`
	Port         string `envconfig:"PAYCORE_APP_PORT" default:"8090"`
	LogLevel     string `envconfig:"PAYCORE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"PAYCORE_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"PAYCORE_DB_DSN"`
	Driver string `envconfig:"PAYCORE_DB_DRIVER" default:"postgres"`

	MaxOpenConns    int           `envconfig:"PAYCORE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"PAYCORE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"PAYCORE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"PAYCORE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

func (d DBConfig) validate() error {
	switch d.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("database driver must be %q or %q", DriverPostgres, DriverSQLite)
	}
	if d.DSN == "" {
		return errors.New("database DSN is required")
	}
	return nil
}

type RedisConfig struct {
	URL          string        `envconfig:"PAYCORE_REDIS_URL"`
	Address      string        `envconfig:"PAYCORE_REDIS_ADDR"`
	Password     string        `envconfig:"PAYCORE_REDIS_PASSWORD"`
	DB           int           `envconfig:"PAYCORE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"PAYCORE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"PAYCORE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"PAYCORE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"PAYCORE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"PAYCORE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type AcquirerConfig struct {
	AccessToken string        `envconfig:"PAYCORE_SQUARE_ACCESS_TOKEN"`
	Env         string        `envconfig:"PAYCORE_SQUARE_ENV" default:"sandbox"`
	LocationID  string        `envconfig:"PAYCORE_SQUARE_LOCATION_ID"`
	CallTimeout time.Duration `envconfig:"PAYCORE_ACQUIRER_CALL_TIMEOUT" default:"15s"`
}

// EngineConfig tunes the state machines and idempotency leases.
type EngineConfig struct {
	InquiryAttempts   int           `envconfig:"PAYCORE_INQUIRY_ATTEMPTS" default:"3"`
	InquiryBackoff    time.Duration `envconfig:"PAYCORE_INQUIRY_BACKOFF" default:"500ms"`
	LeaseTTL          time.Duration `envconfig:"PAYCORE_IDEMPOTENCY_LEASE_TTL" default:"2m"`
	ResultTTL         time.Duration `envconfig:"PAYCORE_IDEMPOTENCY_RESULT_TTL" default:"168h"`
	CompletionTimeout time.Duration `envconfig:"PAYCORE_COMPLETION_TIMEOUT" default:"2m"`
}
