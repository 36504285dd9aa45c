package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

type Config struct {
	Port      int    `env:"PORT" envDefault:"8080" validate:"min=1,max=65535"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"console" validate:"oneof=console json"`

	StoreBackend  string `env:"STORE_BACKEND" envDefault:"memory" validate:"oneof=memory redis postgres"`
	RedisURL      string `env:"REDIS_URL" validate:"required_if=StoreBackend redis"`
	DatabaseURL   string `env:"DATABASE_URL" validate:"required_if=StoreBackend postgres"`
	EncryptionKey string `env:"ENCRYPTION_KEY" validate:"omitempty,hexadecimal,len=64"`

	CodeLength    int           `env:"CODE_LENGTH" envDefault:"6" validate:"min=6,max=12"`
	PendingTTL    time.Duration `env:"PENDING_TTL" envDefault:"10m" validate:"min=1s"`
	LinkedGrace   time.Duration `env:"LINKED_GRACE" envDefault:"1m" validate:"min=1s"`
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"30s" validate:"min=1s"`
	PollInterval  time.Duration `env:"POLL_INTERVAL" envDefault:"2s" validate:"min=500ms"`

	VerifierTimeout   time.Duration `env:"VERIFIER_TIMEOUT" envDefault:"8s" validate:"min=1s,max=30s"`
	GoogleAPIEndpoint string        `env:"GOOGLE_API_ENDPOINT" validate:"omitempty,url"`

	CreateRateLimitPerMin int `env:"CREATE_RATE_LIMIT_PER_MIN" envDefault:"10" validate:"min=0"`
	LinkRateLimitPerMin   int `env:"LINK_RATE_LIMIT_PER_MIN" envDefault:"10" validate:"min=0"`

	OTelEndpoint string `env:"OTEL_ENDPOINT" validate:"omitempty,url"`
	OTelEnabled  bool   `env:"OTEL_ENABLED" envDefault:"true"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate checks field rules and cross-field constraints. Weak production
// settings are logged, not rejected.
func (c *Config) Validate(isProduction bool) error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid config: %s failed %q", fe.StructField(), fe.Tag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	if c.LinkedGrace < c.PollInterval {
		return fmt.Errorf("LINKED_GRACE (%s) must be at least POLL_INTERVAL (%s)", c.LinkedGrace, c.PollInterval)
	}

	if isProduction {
		if c.StoreBackend == StoreMemory {
			log.Warn().Msg("STORE_BACKEND is memory in production: pairing codes are lost on restart and not shared between instances")
		}
		if c.StoreBackend == StoreRedis && strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
		if c.StoreBackend != StoreMemory && c.EncryptionKey == "" {
			log.Warn().Msg("ENCRYPTION_KEY is empty in production: linked tokens will be stored in plain text")
		}
	}

	return nil
}

// Load reads an optional .env file from the working directory and then parses
// the process environment. Variables already set in the environment win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

func IsProduction() bool {
	return os.Getenv("APP_ENV") == "production"
}
