// Package config loads tollgate configuration.
//
// Values come from, in order of precedence: TOLLGATE_* environment
// variables, the YAML file named by --config or TOLLGATE_CONFIG, and the
// defaults returned by Default.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const minSecretBytes = 32

// Config is the root configuration for the API server and migrate tool.
type Config struct {
	HTTP   HTTPConfig   `yaml:"http"`
	Auth   AuthConfig   `yaml:"auth"`
	Store  StoreConfig  `yaml:"store"`
	Ledger LedgerConfig `yaml:"ledger"`
	Seed   SeedConfig   `yaml:"seed"`
	Log    LogConfig    `yaml:"log"`
}

type HTTPConfig struct {
	Addr         string          `yaml:"addr"`
	ReadTimeout  time.Duration   `yaml:"read_timeout"`
	WriteTimeout time.Duration   `yaml:"write_timeout"`
	MaxBodyBytes int64           `yaml:"max_body_bytes"`
	RateLimit    RateLimitConfig `yaml:"rate_limit"`
}

type RateLimitConfig struct {
	Burst     int `yaml:"burst"`
	PerSecond int `yaml:"per_second"`
}

type AuthConfig struct {
	// Secret signs session tokens. At least 32 bytes.
	Secret      string        `yaml:"secret"`
	Issuer      string        `yaml:"issuer"`
	TokenTTL    time.Duration `yaml:"token_ttl"`
	BcryptCost  int           `yaml:"bcrypt_cost"`
	DefaultRole string        `yaml:"default_role"`
}

// StoreConfig selects the identity/role/permission store: postgres or memory.
type StoreConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// LedgerConfig selects the revocation ledger backend: postgres, redis or memory.
type LedgerConfig struct {
	Driver        string        `yaml:"driver"`
	Redis         RedisConfig   `yaml:"redis"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type SeedConfig struct {
	Enabled       bool   `yaml:"enabled"`
	AdminUsername string `yaml:"admin_username"`
	AdminEmail    string `yaml:"admin_email"`
	AdminPassword string `yaml:"admin_password"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns the base configuration applied before the file and env.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Addr:         ":8080",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			MaxBodyBytes: 1 << 20,
			RateLimit:    RateLimitConfig{Burst: 20, PerSecond: 10},
		},
		Auth: AuthConfig{
			Issuer:      "tollgate",
			TokenTTL:    time.Hour,
			BcryptCost:  10,
			DefaultRole: "USER",
		},
		Store: StoreConfig{Driver: "memory"},
		Ledger: LedgerConfig{
			Driver:        "memory",
			Redis:         RedisConfig{Addr: "localhost:6379", Prefix: "tollgate"},
			SweepInterval: 10 * time.Minute,
		},
		Seed: SeedConfig{
			Enabled:       true,
			AdminUsername: "admin",
			AdminEmail:    "admin@example.com",
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads path (optional) over the defaults, then applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv("TOLLGATE_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	str("TOLLGATE_HTTP_ADDR", &c.HTTP.Addr)
	str("TOLLGATE_AUTH_SECRET", &c.Auth.Secret)
	str("TOLLGATE_AUTH_ISSUER", &c.Auth.Issuer)
	str("TOLLGATE_STORE_DRIVER", &c.Store.Driver)
	str("TOLLGATE_STORE_DSN", &c.Store.DSN)
	str("TOLLGATE_LEDGER_DRIVER", &c.Ledger.Driver)
	str("TOLLGATE_REDIS_ADDR", &c.Ledger.Redis.Addr)
	str("TOLLGATE_REDIS_PASSWORD", &c.Ledger.Redis.Password)
	str("TOLLGATE_SEED_ADMIN_PASSWORD", &c.Seed.AdminPassword)
	str("TOLLGATE_LOG_LEVEL", &c.Log.Level)

	if v, ok := os.LookupEnv("TOLLGATE_AUTH_TOKEN_TTL"); ok {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("TOLLGATE_AUTH_TOKEN_TTL: %w", err)
		}
		c.Auth.TokenTTL = d
	}
	if v, ok := os.LookupEnv("TOLLGATE_SEED_ENABLED"); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("TOLLGATE_SEED_ENABLED: %w", err)
		}
		c.Seed.Enabled = b
	}
	return nil
}

// Validate checks values that would otherwise fail late at startup.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Auth.Secret) < minSecretBytes {
		errs = append(errs, fmt.Errorf("auth.secret must be at least %d bytes", minSecretBytes))
	}
	if c.Auth.TokenTTL <= 0 {
		errs = append(errs, errors.New("auth.token_ttl must be positive"))
	}
	switch c.Store.Driver {
	case "memory":
	case "postgres":
		if c.Store.DSN == "" {
			errs = append(errs, errors.New("store.dsn is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver %q: want postgres or memory", c.Store.Driver))
	}
	switch c.Ledger.Driver {
	case "memory", "redis":
	case "postgres":
		if c.Store.DSN == "" {
			errs = append(errs, errors.New("store.dsn is required for the postgres ledger"))
		}
	default:
		errs = append(errs, fmt.Errorf("ledger.driver %q: want postgres, redis or memory", c.Ledger.Driver))
	}
	if c.Ledger.Driver == "redis" && c.Ledger.Redis.Addr == "" {
		errs = append(errs, errors.New("ledger.redis.addr is required for the redis driver"))
	}
	if c.HTTP.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("http.max_body_bytes must be positive"))
	}
	if c.HTTP.RateLimit.Burst <= 0 || c.HTTP.RateLimit.PerSecond <= 0 {
		errs = append(errs, errors.New("http.rate_limit burst and per_second must be positive"))
	}
	if c.Seed.Enabled && c.Seed.AdminUsername != "" && c.Seed.AdminPassword == "" {
		errs = append(errs, errors.New("seed.admin_password is required when seeding an admin"))
	}
	return errors.Join(errs...)
}
