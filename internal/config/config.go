// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

// Package config loads Keyward's runtime configuration. Sources are layered
// in order: built-in defaults, an optional YAML file, command-line flags that
// were set explicitly, then the DATABASE_URL and REDIS_URL environment
// variables.
package config

import (
	"os"
	"slices"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/keyward/keyward/internal/auth"
	"github.com/keyward/keyward/internal/logging"
)

// Backend names.
const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
	BackendRedis    = "redis"
)

// Password hash algorithms.
const (
	HashBcrypt   = auth.HashBcrypt
	HashArgon2id = auth.HashArgon2id
)

// Config is the full runtime configuration.
type Config struct {
	HTTPAddr       string        `koanf:"http_addr" jsonschema:"description=HTTP API listen address"`
	GRPCAddr       string        `koanf:"grpc_addr" jsonschema:"description=gRPC listen address; empty disables gRPC"`
	MetricsAddr    string        `koanf:"metrics_addr" jsonschema:"description=metrics and health listen address; empty disables it"`
	LogFormat      string        `koanf:"log_format" jsonschema:"enum=json,enum=text"`
	LogLevel       string        `koanf:"log_level" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
	DatabaseURL    string        `koanf:"database_url" jsonschema:"description=PostgreSQL connection URL"`
	AccountBackend string        `koanf:"account_backend" jsonschema:"enum=postgres,enum=memory"`
	TokenBackend   string        `koanf:"token_backend" jsonschema:"enum=postgres,enum=redis,enum=memory"`
	PasswordHash   string        `koanf:"password_hash" jsonschema:"enum=bcrypt,enum=argon2id"`
	SweepInterval  time.Duration `koanf:"sweep_interval" jsonschema:"description=expired token purge interval such as 5m"`
	PublicMethods  []string      `koanf:"public_methods" jsonschema:"description=gRPC full method globs that skip authorization"`
	Redis          RedisConfig   `koanf:"redis"`
}

// RedisConfig configures the redis token backend.
type RedisConfig struct {
	URL       string `koanf:"url" jsonschema:"description=redis:// connection URL"`
	KeyPrefix string `koanf:"key_prefix"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		HTTPAddr:       ":8080",
		GRPCAddr:       "",
		MetricsAddr:    "127.0.0.1:9100",
		LogFormat:      "json",
		LogLevel:       "info",
		AccountBackend: BackendPostgres,
		TokenBackend:   BackendPostgres,
		PasswordHash:   HashBcrypt,
		SweepInterval:  5 * time.Minute,
		PublicMethods:  []string{"/grpc.health.v1.Health/*"},
		Redis: RedisConfig{
			KeyPrefix: "keyward:",
		},
	}
}

func defaultValues() map[string]any {
	d := Defaults()
	return map[string]any{
		"http_addr":        d.HTTPAddr,
		"grpc_addr":        d.GRPCAddr,
		"metrics_addr":     d.MetricsAddr,
		"log_format":       d.LogFormat,
		"log_level":        d.LogLevel,
		"database_url":     d.DatabaseURL,
		"account_backend":  d.AccountBackend,
		"token_backend":    d.TokenBackend,
		"password_hash":    d.PasswordHash,
		"sweep_interval":   d.SweepInterval,
		"public_methods":   d.PublicMethods,
		"redis.url":        d.Redis.URL,
		"redis.key_prefix": d.Redis.KeyPrefix,
	}
}

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"http-addr":        "http_addr",
	"grpc-addr":        "grpc_addr",
	"metrics-addr":     "metrics_addr",
	"log-format":       "log_format",
	"log-level":        "log_level",
	"account-backend":  "account_backend",
	"token-backend":    "token_backend",
	"password-hash":    "password_hash",
	"sweep-interval":   "sweep_interval",
	"public-method":    "public_methods",
	"redis-key-prefix": "redis.key_prefix",
}

// RegisterFlags adds the overridable settings to fs. Only flags the user sets
// take part in Load.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Defaults()
	fs.String("http-addr", d.HTTPAddr, "HTTP API listen address")
	fs.String("grpc-addr", d.GRPCAddr, "gRPC listen address (empty = disabled)")
	fs.String("metrics-addr", d.MetricsAddr, "metrics/health HTTP address (empty = disabled)")
	fs.String("log-format", d.LogFormat, "log format (json or text)")
	fs.String("log-level", d.LogLevel, "log level (debug, info, warn, error)")
	fs.String("account-backend", d.AccountBackend, "account store (postgres or memory)")
	fs.String("token-backend", d.TokenBackend, "token store (postgres, redis or memory)")
	fs.String("password-hash", d.PasswordHash, "password hash algorithm (bcrypt or argon2id)")
	fs.Duration("sweep-interval", d.SweepInterval, "expired token sweep interval")
	fs.StringSlice("public-method", d.PublicMethods, "gRPC method glob that skips authorization (repeatable)")
	fs.String("redis-key-prefix", d.Redis.KeyPrefix, "redis key prefix")
}

// Source describes where Load reads from.
type Source struct {
	// File is an optional YAML file path.
	File string
	// Flags holds the flags registered with RegisterFlags.
	Flags *pflag.FlagSet
	// Getenv defaults to os.Getenv.
	Getenv func(string) string
}

// Load builds a Config from src and validates it.
func Load(src Source) (*Config, error) {
	k := koanf.New(".")
	for key, val := range defaultValues() {
		if err := k.Set(key, val); err != nil {
			return nil, oops.Code("CONFIG_DEFAULTS_FAILED").With("key", key).Wrap(err)
		}
	}

	if src.File != "" {
		data, err := os.ReadFile(src.File)
		if err != nil {
			return nil, oops.Code("CONFIG_READ_FAILED").With("file", src.File).Wrap(err)
		}
		if err := ValidateYAML(data); err != nil {
			return nil, oops.Code("CONFIG_INVALID").With("file", src.File).Wrap(err)
		}
		if err := k.Load(file.Provider(src.File), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_PARSE_FAILED").With("file", src.File).Wrap(err)
		}
	}

	if src.Flags != nil {
		provider := posflag.ProviderWithFlag(src.Flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(src.Flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_FLAGS_FAILED").Wrap(err)
		}
	}

	getenv := src.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	for env, key := range map[string]string{"DATABASE_URL": "database_url", "REDIS_URL": "redis.url"} {
		if v := getenv(env); v != "" {
			if err := k.Set(key, v); err != nil {
				return nil, oops.Code("CONFIG_ENV_FAILED").With("env", env).Wrap(err)
			}
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, oops.Code("CONFIG_DECODE_FAILED").Wrap(err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.HTTPAddr == "" {
		return invalid("http_addr", "http_addr is required")
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return invalid("log_format", "log_format must be 'json' or 'text', got %q", c.LogFormat)
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return invalid("log_level", "log_level must be debug, info, warn or error, got %q", c.LogLevel)
	}
	if !oneOf(c.AccountBackend, BackendPostgres, BackendMemory) {
		return invalid("account_backend", "account_backend must be postgres or memory, got %q", c.AccountBackend)
	}
	if !oneOf(c.TokenBackend, BackendPostgres, BackendRedis, BackendMemory) {
		return invalid("token_backend", "token_backend must be postgres, redis or memory, got %q", c.TokenBackend)
	}
	if !oneOf(c.PasswordHash, HashBcrypt, HashArgon2id) {
		return invalid("password_hash", "password_hash must be bcrypt or argon2id, got %q", c.PasswordHash)
	}
	if c.SweepInterval <= 0 {
		return invalid("sweep_interval", "sweep_interval must be positive, got %s", c.SweepInterval)
	}
	// access_tokens.owner_id references the accounts table.
	if c.TokenBackend == BackendPostgres && c.AccountBackend != BackendPostgres {
		return invalid("token_backend", "token_backend postgres requires account_backend postgres, got %q", c.AccountBackend)
	}
	if c.NeedsDatabase() && c.DatabaseURL == "" {
		return invalid("database_url", "DATABASE_URL is required for the postgres backend")
	}
	if c.TokenBackend == BackendRedis && c.Redis.URL == "" {
		return invalid("redis.url", "REDIS_URL is required for the redis token backend")
	}
	return nil
}

// NeedsDatabase reports whether any backend is PostgreSQL.
func (c *Config) NeedsDatabase() bool {
	return c.AccountBackend == BackendPostgres || c.TokenBackend == BackendPostgres
}

func invalid(key, format string, args ...any) error {
	return oops.Code("CONFIG_INVALID").With("key", key).Errorf(format, args...)
}

func oneOf(v string, allowed ...string) bool {
	return slices.Contains(allowed, v)
}
