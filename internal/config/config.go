package config

import (
	"errors"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds runtime configuration for the API server.
type Config struct {
	Addr            string        `envconfig:"ADDR" default:":8080"`
	ReadTimeout     time.Duration `envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"WRITE_TIMEOUT" default:"15s"`
	IdleTimeout     time.Duration `envconfig:"IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`

	PGDSN        string        `envconfig:"PG_DSN"`
	StoreTimeout time.Duration `envconfig:"STORE_TIMEOUT" default:"5s"`

	// Identity provider settings. Tokens are accepted only when signed by a
	// key published at the provider's JWKS endpoint and carrying the
	// configured issuer and audience.
	AuthIssuer      string        `envconfig:"AUTH_ISSUER"`
	AuthAudience    string        `envconfig:"AUTH_AUDIENCE"`
	AuthJWKSURL     string        `envconfig:"AUTH_JWKS_URL"`
	KeyFetchTimeout time.Duration `envconfig:"KEY_FETCH_TIMEOUT" default:"5s"`

	RateCapacity  int           `envconfig:"RATE_CAPACITY" default:"20"`
	RatePerSecond float64       `envconfig:"RATE_PER_SECOND" default:"10"`
	RateBucketTTL time.Duration `envconfig:"RATE_BUCKET_TTL" default:"5m"`
}

// Load reads configuration from RCM_-prefixed environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("rcm", &cfg); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.AuthIssuer) == "" {
		return nil, errors.New("config: RCM_AUTH_ISSUER is required")
	}
	if strings.TrimSpace(cfg.AuthJWKSURL) == "" {
		return nil, errors.New("config: RCM_AUTH_JWKS_URL is required")
	}
	if cfg.RateCapacity <= 0 || cfg.RatePerSecond <= 0 {
		return nil, errors.New("config: rate limit capacity and refill must be positive")
	}
	return &cfg, nil
}
