package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const EnvPrefix = "POSLEDGER"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config is built once at process start and passed down explicitly.
type Config struct {
	App        AppConfig
	DB         DBConfig
	Redis      RedisConfig
	JWT        JWTConfig
	Settlement SettlementConfig
	Analytics  AnalyticsConfig
	Gemini     GeminiConfig
}

// Load reads an optional .env file and then the process environment.
func Load(envFiles ...string) (*Config, error) {
	// Missing .env files are fine; the environment may already be populated.
	_ = godotenv.Load(envFiles...)

	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env               string        `envconfig:"POSLEDGER_APP_ENV" default:"dev"`
	Port              string        `envconfig:"POSLEDGER_APP_PORT" default:"8080"`
	LogLevel          string        `envconfig:"POSLEDGER_LOG_LEVEL" default:"info"`
	LogFormat         string        `envconfig:"POSLEDGER_LOG_FORMAT" default:"json"`
	TimeZone          string        `envconfig:"POSLEDGER_TIME_ZONE" default:"UTC"`
	AllowedOrigins    []string      `envconfig:"POSLEDGER_ALLOWED_ORIGINS" default:"http://localhost:5173"`
	AllowRegistration bool          `envconfig:"POSLEDGER_ALLOW_REGISTRATION" default:"false"`
	ShutdownTimeout   time.Duration `envconfig:"POSLEDGER_SHUTDOWN_TIMEOUT" default:"15s"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

// Location resolves the time zone used to decide what "today" means for reports.
func (a AppConfig) Location() (*time.Location, error) {
	if a.TimeZone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(a.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("loading time zone %q: %w", a.TimeZone, err)
	}
	return loc, nil
}

type DBConfig struct {
	Driver          string        `envconfig:"POSLEDGER_DB_DRIVER" default:"mysql"`
	DSN             string        `envconfig:"POSLEDGER_DB_DSN" required:"true"`
	AutoMigrate     bool          `envconfig:"POSLEDGER_DB_AUTO_MIGRATE" default:"false"`
	LogSQL          bool          `envconfig:"POSLEDGER_DB_LOG_SQL" default:"false"`
	ConnectAttempts int           `envconfig:"POSLEDGER_DB_CONNECT_ATTEMPTS" default:"5"`
	ConnectBackoff  time.Duration `envconfig:"POSLEDGER_DB_CONNECT_BACKOFF" default:"2s"`
	MaxOpenConns    int           `envconfig:"POSLEDGER_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"POSLEDGER_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"POSLEDGER_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"POSLEDGER_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL            string        `envconfig:"POSLEDGER_REDIS_URL"`
	Address        string        `envconfig:"POSLEDGER_REDIS_ADDR"`
	Password       string        `envconfig:"POSLEDGER_REDIS_PASSWORD"`
	DB             int           `envconfig:"POSLEDGER_REDIS_DB" default:"0"`
	PoolSize       int           `envconfig:"POSLEDGER_REDIS_POOL_SIZE" default:"10"`
	DialTimeout    time.Duration `envconfig:"POSLEDGER_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout    time.Duration `envconfig:"POSLEDGER_REDIS_READ_TIMEOUT" default:"3s"`
	WriteTimeout   time.Duration `envconfig:"POSLEDGER_REDIS_WRITE_TIMEOUT" default:"3s"`
	IdempotencyTTL time.Duration `envconfig:"POSLEDGER_IDEMPOTENCY_TTL" default:"24h"`
}

// Enabled reports whether a redis endpoint was configured at all.
func (r RedisConfig) Enabled() bool {
	return r.URL != "" || r.Address != ""
}

type JWTConfig struct {
	Secret string        `envconfig:"POSLEDGER_JWT_SECRET" required:"true"`
	Issuer string        `envconfig:"POSLEDGER_JWT_ISSUER" default:"go-pos-ledger"`
	TTL    time.Duration `envconfig:"POSLEDGER_JWT_TTL" default:"24h"`
}

type SettlementConfig struct {
	MaxAttempts  int           `envconfig:"POSLEDGER_SETTLEMENT_MAX_ATTEMPTS" default:"3"`
	RetryBackoff time.Duration `envconfig:"POSLEDGER_SETTLEMENT_RETRY_BACKOFF" default:"25ms"`
}

type AnalyticsConfig struct {
	NearExpiryDays int `envconfig:"POSLEDGER_NEAR_EXPIRY_DAYS" default:"7"`
	TopN           int `envconfig:"POSLEDGER_TOP_PROFIT_LIMIT" default:"5"`
}

type GeminiConfig struct {
	APIKey  string        `envconfig:"POSLEDGER_GEMINI_API_KEY"`
	Model   string        `envconfig:"POSLEDGER_GEMINI_MODEL" default:"gemini-2.0-flash-001"`
	Timeout time.Duration `envconfig:"POSLEDGER_GEMINI_TIMEOUT" default:"20s"`
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.DB.DSN) == "" {
		return fmt.Errorf("%s_DB_DSN is required", EnvPrefix)
	}
	if strings.TrimSpace(c.JWT.Secret) == "" {
		return fmt.Errorf("%s_JWT_SECRET is required", EnvPrefix)
	}
	switch strings.ToLower(c.DB.Driver) {
	case DriverMySQL, DriverPostgres, DriverSQLite:
		c.DB.Driver = strings.ToLower(c.DB.Driver)
	default:
		return fmt.Errorf("unsupported db driver %q", c.DB.Driver)
	}
	if c.Settlement.MaxAttempts < 1 {
		return fmt.Errorf("settlement max attempts must be at least 1")
	}
	if c.Settlement.RetryBackoff <= 0 {
		return fmt.Errorf("settlement retry backoff must be positive")
	}
	if c.Analytics.NearExpiryDays < 0 {
		return fmt.Errorf("near expiry window cannot be negative")
	}
	if c.Analytics.TopN < 1 {
		return fmt.Errorf("top profit limit must be at least 1")
	}
	if _, err := c.App.Location(); err != nil {
		return err
	}
	return nil
}
