// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads authcore settings from defaults, a YAML file,
// AUTHCORE_* environment variables and command-line flags, in that order of
// increasing precedence.
package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/holomush/authcore/internal/auth"
	"github.com/holomush/authcore/internal/logging"
	"github.com/holomush/authcore/internal/xdg"
)

// EnvPrefix prefixes environment overrides. A double underscore separates
// nesting levels: AUTHCORE_TOKENS__ACCESS_SECRET sets tokens.access_secret.
const EnvPrefix = "AUTHCORE_"

// Environments.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// OTP store backends.
const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config is the full authcore configuration.
type Config struct {
	Environment string         `koanf:"environment"`
	Database    DatabaseConfig `koanf:"database"`
	Redis       RedisConfig    `koanf:"redis"`
	OTP         OTPConfig      `koanf:"otp"`
	Lockout     LockoutConfig  `koanf:"lockout"`
	Tokens      TokensConfig   `koanf:"tokens"`
	SMTP        SMTPConfig     `koanf:"smtp"`
	Captcha     CaptchaConfig  `koanf:"captcha"`
	Log         LogConfig      `koanf:"log"`
	Metrics     MetricsConfig  `koanf:"metrics"`
}

// DatabaseConfig locates PostgreSQL.
type DatabaseConfig struct {
	URL      string `koanf:"url"`
	MaxConns int32  `koanf:"max_conns"`
}

// RedisConfig locates Redis for the redis OTP backend.
type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

// OTPConfig tunes one-time codes.
type OTPConfig struct {
	Backend       string        `koanf:"backend"`
	TTL           time.Duration `koanf:"ttl"`
	Digits        int           `koanf:"digits"`
	PurgeInterval time.Duration `koanf:"purge_interval"`
}

// LockoutConfig tunes brute-force lockout.
type LockoutConfig struct {
	Threshold int           `koanf:"threshold"`
	Duration  time.Duration `koanf:"duration"`
}

// TokensConfig configures session tokens.
type TokensConfig struct {
	AccessSecret  string        `koanf:"access_secret"`
	RefreshSecret string        `koanf:"refresh_secret"`
	AccessTTL     time.Duration `koanf:"access_ttl"`
	RefreshTTL    time.Duration `koanf:"refresh_ttl"`
	Issuer        string        `koanf:"issuer"`
	Leeway        time.Duration `koanf:"leeway"`
}

// SMTPConfig configures email delivery.
type SMTPConfig struct {
	Host     string        `koanf:"host"`
	Port     int           `koanf:"port"`
	Username string        `koanf:"username"`
	Password string        `koanf:"password"`
	From     string        `koanf:"from"`
	Timeout  time.Duration `koanf:"timeout"`
}

// CaptchaConfig configures reCAPTCHA verification.
type CaptchaConfig struct {
	Enabled   bool          `koanf:"enabled"`
	Secret    string        `koanf:"secret"`
	VerifyURL string        `koanf:"verify_url"`
	Timeout   time.Duration `koanf:"timeout"`
}

// LogConfig configures slog output.
type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

// MetricsConfig configures the observability listener.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// defaults are loaded before any other source.
var defaults = map[string]any{
	"environment":        EnvProduction,
	"database.max_conns": int32(10),
	"otp.backend":        BackendPostgres,
	"otp.ttl":            auth.DefaultCodeTTL,
	"otp.digits":         auth.DefaultCodeDigits,
	"otp.purge_interval": 5 * time.Minute,
	"lockout.threshold":  auth.DefaultLockoutThreshold,
	"lockout.duration":   auth.DefaultLockoutDuration,
	"tokens.access_ttl":  auth.DefaultAccessTTL,
	"tokens.refresh_ttl": auth.DefaultRefreshTTL,
	"tokens.issuer":      auth.DefaultIssuer,
	"tokens.leeway":      5 * time.Second,
	"smtp.port":          587,
	"smtp.timeout":       10 * time.Second,
	"captcha.enabled":    true,
	"captcha.verify_url": "https://www.google.com/recaptcha/api/siteverify",
	"captcha.timeout":    5 * time.Second,
	"log.format":         "json",
	"log.level":          "info",
	"metrics.addr":       "127.0.0.1:9100",
}

// flagKeys maps command-line flag names to config keys. Flags not listed
// here are ignored by the loader.
var flagKeys = map[string]string{
	"environment":  "environment",
	"database-url": "database.url",
	"redis-addr":   "redis.addr",
	"otp-backend":  "otp.backend",
	"log-format":   "log.format",
	"log-level":    "log.level",
	"metrics-addr": "metrics.addr",
}

// BindFlags registers the flags the loader understands on fs.
func BindFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "config file (default $XDG_CONFIG_HOME/authcore/config.yaml)")
	fs.String("environment", "", "development or production")
	fs.String("database-url", "", "PostgreSQL connection URL")
	fs.String("redis-addr", "", "Redis address for the redis OTP backend")
	fs.String("otp-backend", "", "one-time code store: postgres or redis")
	fs.String("log-format", "", "log format: json or text")
	fs.String("log-level", "", "log level: debug, info, warn or error")
	fs.String("metrics-addr", "", "metrics and health listen address")
}

// Load builds a Config. When flags is non-nil, its --config flag selects the
// file and its bound flags take precedence over everything else. A missing
// default config file is not an error; a missing explicit one is.
func Load(flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")
	for key, val := range defaults {
		if err := k.Set(key, val); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("key", key).Wrap(err)
		}
	}

	path, explicit, err := configPath(flags)
	if err != nil {
		return nil, err
	}
	if err := loadFile(k, path, explicit); err != nil {
		return nil, err
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "env").Wrap(err)
	}

	if flags != nil {
		provider := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, f.Value.String()
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("operation", "decode config").Wrap(err)
	}
	return &cfg, nil
}

func configPath(flags *pflag.FlagSet) (string, bool, error) {
	if flags != nil {
		if f := flags.Lookup("config"); f != nil && f.Value.String() != "" {
			return f.Value.String(), true, nil
		}
	}
	path, err := xdg.ConfigFile()
	if err != nil {
		// No home directory: run on defaults, env and flags alone.
		return "", false, nil
	}
	return path, false, nil
}

func loadFile(k *koanf.Koanf, path string, explicit bool) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) && !explicit {
			return nil
		}
		return oops.Code("CONFIG_FILE_UNREADABLE").With("path", path).Wrap(err)
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return oops.Code("CONFIG_FILE_UNREADABLE").With("path", path).Wrap(err)
	}
	return nil
}

// envKey maps AUTHCORE_TOKENS__ACCESS_SECRET to tokens.access_secret.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// IsDevelopment reports whether the development environment is selected.
func (c *Config) IsDevelopment() bool {
	return c.Environment == EnvDevelopment
}

// CaptchaActive reports whether login and registration require CAPTCHA.
func (c *Config) CaptchaActive() bool {
	return c.Captcha.Enabled && !c.IsDevelopment()
}

// UseLogNotifier reports whether codes go to the log instead of SMTP.
func (c *Config) UseLogNotifier() bool {
	return c.IsDevelopment() && c.SMTP.Host == ""
}

// LockoutPolicy returns the configured lockout policy.
func (c *Config) LockoutPolicy() auth.LockoutPolicy {
	return auth.LockoutPolicy{Threshold: c.Lockout.Threshold, Duration: c.Lockout.Duration}
}

// CodeConfig returns the configured one-time code settings.
func (c *Config) CodeConfig() auth.CodeConfig {
	return auth.CodeConfig{Digits: c.OTP.Digits, TTL: c.OTP.TTL}
}

// TokenConfig returns the configured token lifetimes.
func (c *Config) TokenConfig() auth.TokenConfig {
	return auth.TokenConfig{AccessTTL: c.Tokens.AccessTTL, RefreshTTL: c.Tokens.RefreshTTL}
}

// ValidateDatabase checks only what database-only commands need.
func (c *Config) ValidateDatabase() error {
	if strings.TrimSpace(c.Database.URL) == "" {
		return invalid("database.url", "database.url is required")
	}
	return nil
}

// ValidateTokens checks the signing secrets.
func (c *Config) ValidateTokens() error {
	switch {
	case len(c.Tokens.AccessSecret) < auth.MinSecretLength:
		return invalid("tokens.access_secret", "tokens.access_secret must be at least %d bytes", auth.MinSecretLength)
	case len(c.Tokens.RefreshSecret) < auth.MinSecretLength:
		return invalid("tokens.refresh_secret", "tokens.refresh_secret must be at least %d bytes", auth.MinSecretLength)
	case c.Tokens.AccessSecret == c.Tokens.RefreshSecret:
		return invalid("tokens.refresh_secret", "access and refresh secrets must differ")
	case c.Tokens.AccessTTL <= 0 || c.Tokens.RefreshTTL <= 0:
		return invalid("tokens.access_ttl", "token lifetimes must be positive")
	case c.Tokens.AccessTTL >= c.Tokens.RefreshTTL:
		return invalid("tokens.access_ttl", "access lifetime must be shorter than refresh lifetime")
	}
	return nil
}

// Validate checks everything the serve command needs.
func (c *Config) Validate() error {
	switch c.Environment {
	case EnvDevelopment, EnvProduction:
	default:
		return invalid("environment", "unknown environment %q", c.Environment)
	}
	if err := c.ValidateDatabase(); err != nil {
		return err
	}
	if err := c.ValidateTokens(); err != nil {
		return err
	}

	switch c.OTP.Backend {
	case BackendPostgres:
	case BackendRedis:
		if c.Redis.Addr == "" {
			return invalid("redis.addr", "redis.addr is required for the redis otp backend")
		}
	default:
		return invalid("otp.backend", "unknown otp backend %q", c.OTP.Backend)
	}
	if c.OTP.PurgeInterval <= 0 {
		return invalid("otp.purge_interval", "otp.purge_interval must be positive")
	}
	if err := c.LockoutPolicy().Validate(); err != nil {
		return invalid("lockout", "%v", err)
	}

	switch c.Log.Format {
	case "json", "text":
	default:
		return invalid("log.format", "unknown log format %q", c.Log.Format)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return invalid("log.level", "%v", err)
	}

	if c.CaptchaActive() && c.Captcha.Secret == "" {
		return invalid("captcha.secret", "captcha.secret is required when captcha is enabled")
	}
	if !c.UseLogNotifier() {
		if c.SMTP.Host == "" {
			return invalid("smtp.host", "smtp.host is required outside development")
		}
		if c.SMTP.From == "" {
			return invalid("smtp.from", "smtp.from is required when smtp is configured")
		}
	}
	return nil
}

func invalid(key, format string, args ...any) error {
	return oops.Code("CONFIG_INVALID").With("key", key).Errorf(format, args...)
}
