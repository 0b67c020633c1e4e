package config

import (
	"encoding/hex"
	"fmt"
	"log"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port               string        `mapstructure:"PORT"`
	Env                string        `mapstructure:"ENV"`
	DatabaseURL        string        `mapstructure:"DATABASE_URL"`
	DBMaxConns         int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns         int32         `mapstructure:"DB_MIN_CONNS"`
	RedisURL           string        `mapstructure:"REDIS_URL"`
	CORSOrigins        []string      `mapstructure:"CORS_ORIGINS"`
	CalendarTokenKey   string        `mapstructure:"CALENDAR_TOKEN_KEY"`
	GoogleClientID     string        `mapstructure:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string        `mapstructure:"GOOGLE_CLIENT_SECRET"`
	CalendarTimezone   string        `mapstructure:"CALENDAR_TIMEZONE"`
	RemoteCallTimeout  time.Duration `mapstructure:"REMOTE_CALL_TIMEOUT"`
	SyncConcurrency    int           `mapstructure:"SYNC_CONCURRENCY"`
	LockTTL            time.Duration `mapstructure:"LOCK_TTL"`
	RequestTimeout     time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	AuditBufferSize    int           `mapstructure:"AUDIT_BUFFER_SIZE"`
	AuthJWTSecret      string        `mapstructure:"AUTH_JWT_SECRET"`
	AuthIssuer         string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience       string        `mapstructure:"AUTH_AUDIENCE"`
}

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "REDIS_URL", "CORS_ORIGINS",
	"CALENDAR_TOKEN_KEY", "GOOGLE_CLIENT_ID", "GOOGLE_CLIENT_SECRET", "CALENDAR_TIMEZONE",
	"REMOTE_CALL_TIMEOUT", "SYNC_CONCURRENCY", "LOCK_TTL", "REQUEST_TIMEOUT", "AUDIT_BUFFER_SIZE",
	"AUTH_JWT_SECRET", "AUTH_ISSUER", "AUTH_AUDIENCE",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("CALENDAR_TIMEZONE", "UTC")
	v.SetDefault("REMOTE_CALL_TIMEOUT", 10*time.Second)
	v.SetDefault("SYNC_CONCURRENCY", 4)
	v.SetDefault("LOCK_TTL", 2*time.Minute)
	v.SetDefault("REQUEST_TIMEOUT", 30*time.Second)
	v.SetDefault("AUDIT_BUFFER_SIZE", 1024)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: running in DEVELOPMENT mode (ENV=development); requests without a token act as dev-user.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Location loads CALENDAR_TIMEZONE. Validate guarantees it succeeds.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.CalendarTimezone)
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.DBMinConns < 0 || c.DBMaxConns < 1 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) and DB_MAX_CONNS (%d) must satisfy 0 <= min <= max, max >= 1",
			c.DBMinConns, c.DBMaxConns)
	}

	if c.IsProduction() && c.CalendarTokenKey == "" {
		return fmt.Errorf("CALENDAR_TOKEN_KEY is required in production")
	}
	if c.CalendarTokenKey != "" {
		keyBytes, err := hex.DecodeString(c.CalendarTokenKey)
		if err != nil {
			return fmt.Errorf("CALENDAR_TOKEN_KEY is not valid hex: %w", err)
		}
		if len(keyBytes) != 32 {
			return fmt.Errorf("CALENDAR_TOKEN_KEY must be 32 bytes (64 hex chars), got %d bytes", len(keyBytes))
		}
	}
	if (c.GoogleClientID == "") != (c.GoogleClientSecret == "") {
		return fmt.Errorf("GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET must be set together")
	}

	if _, err := c.Location(); err != nil {
		return fmt.Errorf("CALENDAR_TIMEZONE %q: %w", c.CalendarTimezone, err)
	}
	if c.RemoteCallTimeout <= 0 {
		return fmt.Errorf("REMOTE_CALL_TIMEOUT must be positive, got %s", c.RemoteCallTimeout)
	}
	if c.SyncConcurrency < 1 {
		return fmt.Errorf("SYNC_CONCURRENCY must be at least 1, got %d", c.SyncConcurrency)
	}
	if c.LockTTL <= 0 {
		return fmt.Errorf("LOCK_TTL must be positive, got %s", c.LockTTL)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive, got %s", c.RequestTimeout)
	}

	if !c.IsDev() && c.AuthJWTSecret == "" {
		return fmt.Errorf("AUTH_JWT_SECRET must be set outside development (current ENV=%q)", c.Env)
	}
	return nil
}
