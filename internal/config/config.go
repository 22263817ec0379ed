package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const minSecretLength = 32

// Config holds process configuration read from the environment.
type Config struct {
	HTTPAddr string `env:"ORGAUTH_HTTP_ADDR" envDefault:":8080"`
	GRPCAddr string `env:"ORGAUTH_GRPC_ADDR" envDefault:":9090"`

	PGDSN string `env:"ORGAUTH_PG_DSN"`

	RedisAddr     string `env:"ORGAUTH_REDIS_ADDR"`
	RedisPassword string `env:"ORGAUTH_REDIS_PASSWORD"`

	JWTSecret      string        `env:"ORGAUTH_JWT_SECRET"`
	JWTIssuer      string        `env:"ORGAUTH_JWT_ISSUER"       envDefault:"orgauth"`
	AccessTokenTTL time.Duration `env:"ORGAUTH_ACCESS_TOKEN_TTL" envDefault:"60m"`
	InviteTTL      time.Duration `env:"ORGAUTH_INVITE_TTL"       envDefault:"72h"`
	BcryptCost     int           `env:"ORGAUTH_BCRYPT_COST"      envDefault:"10"`

	RateBurst     int `env:"ORGAUTH_RATE_BURST"      envDefault:"10"`
	RatePerSecond int `env:"ORGAUTH_RATE_PER_SECOND" envDefault:"5"`

	PruneInterval time.Duration `env:"ORGAUTH_PRUNE_INTERVAL" envDefault:"1m"`
	LogLevel      string        `env:"ORGAUTH_LOG_LEVEL"      envDefault:"info"`

	CORSOrigins []string `env:"ORGAUTH_CORS_ORIGINS" envSeparator:","`

	// Seeded into the in-memory store only; ignored when a DSN is set.
	DevOperatorEmail    string `env:"ORGAUTH_DEV_OPERATOR_EMAIL"`
	DevOperatorPassword string `env:"ORGAUTH_DEV_OPERATOR_PASSWORD"`
}

// Load reads an optional .env file from the working directory and parses the
// environment into Config.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return Parse()
}

// Parse reads Config from the current environment only.
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values env tags cannot express.
func (c Config) Validate() error {
	if len(c.JWTSecret) < minSecretLength {
		return fmt.Errorf("ORGAUTH_JWT_SECRET must be at least %d bytes", minSecretLength)
	}
	if c.AccessTokenTTL <= 0 {
		return errors.New("ORGAUTH_ACCESS_TOKEN_TTL must be positive")
	}
	if c.InviteTTL <= 0 {
		return errors.New("ORGAUTH_INVITE_TTL must be positive")
	}
	if c.RateBurst <= 0 || c.RatePerSecond <= 0 {
		return errors.New("rate limit settings must be positive")
	}
	if (c.DevOperatorEmail == "") != (c.DevOperatorPassword == "") {
		return errors.New("ORGAUTH_DEV_OPERATOR_EMAIL and ORGAUTH_DEV_OPERATOR_PASSWORD must be set together")
	}
	return nil
}
