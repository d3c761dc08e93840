// Package config loads runtime settings from a .env file, BETANIA_* environment
// variables and an optional config file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/revolutedigital/igreja-betania/internal/domain/validation"
)

// EnvPrefix is prepended to every environment variable, e.g. BETANIA_DB_PATH.
const EnvPrefix = "BETANIA"

// Environments.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"
)

// Config is the resolved runtime configuration.
type Config struct {
	Env string `mapstructure:"env" json:"env" validate:"oneof=development production test"`

	RemoteURL     string        `mapstructure:"remote_url" json:"remote_url" validate:"required,url"`
	RemoteTimeout time.Duration `mapstructure:"remote_timeout" json:"remote_timeout" validate:"gt=0"`
	ProbeURL      string        `mapstructure:"probe_url" json:"probe_url" validate:"omitempty,url"`
	ProbeInterval time.Duration `mapstructure:"probe_interval" json:"probe_interval" validate:"gt=0"`
	MaxRetries    int           `mapstructure:"max_retries" json:"max_retries" validate:"min=1,max=20"`

	DBPath    string        `mapstructure:"db_path" json:"db_path" validate:"required"`
	SlowQuery time.Duration `mapstructure:"slow_query" json:"slow_query" validate:"gte=0"`

	ListenAddr  string        `mapstructure:"listen_addr" json:"listen_addr" validate:"required"`
	SlowRequest time.Duration `mapstructure:"slow_request" json:"slow_request" validate:"gte=0"`
	CSRFKey     string        `mapstructure:"csrf_key" json:"csrf_key" validate:"omitempty,hexadecimal,len=64"`

	LogLevel  string `mapstructure:"log_level" json:"log_level" validate:"oneof=debug info warn error"`
	LogFormat string `mapstructure:"log_format" json:"log_format" validate:"oneof=json text"`
	LogFile   string `mapstructure:"log_file" json:"log_file"`

	ResendAPIKey string   `mapstructure:"resend_api_key" json:"resend_api_key"`
	NotifyFrom   string   `mapstructure:"notify_from" json:"notify_from"`
	NotifyTo     []string `mapstructure:"notify_to" json:"notify_to" validate:"dive,email"`
}

// Options controls where Load looks for settings.
type Options struct {
	// EnvFile is a dotenv file; a missing file is skipped. Defaults to ".env".
	EnvFile string
	// ConfigFile is an optional YAML, TOML or JSON file read by viper.
	ConfigFile string
	// Overrides take precedence over every other source, keyed like the config file.
	Overrides map[string]any
}

var defaults = map[string]any{
	"env":            EnvDevelopment,
	"remote_url":     "http://localhost:3000",
	"remote_timeout": 10 * time.Second,
	"probe_url":      "",
	"probe_interval": 30 * time.Second,
	"max_retries":    3,
	"db_path":        "betania-offline.db",
	"slow_query":     100 * time.Millisecond,
	"listen_addr":    "127.0.0.1:8080",
	"slow_request":   200 * time.Millisecond,
	"csrf_key":       "",
	"log_level":      "info",
	"log_format":     "text",
	"log_file":       "",
	"resend_api_key": "",
	"notify_from":    "Betania <noreply@betania.local>",
	"notify_to":      []string{},
}

// Load resolves the configuration.
// Precedence, highest first: Overrides, environment, config file, .env, defaults.
// PRE: none
// POST: Returns a validated Config or an error naming the offending keys
func Load(opts Options) (Config, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	} else {
		slog.Debug("config_env_file_loaded", "path", envFile)
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", opts.ConfigFile, err)
		}
	}
	for key, value := range opts.Overrides {
		v.Set(key, value)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := validation.Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// IsProduction reports whether the app runs in production.
func (c Config) IsProduction() bool {
	return c.Env == EnvProduction
}

// NotificationsEnabled reports whether discard emails can be delivered.
func (c Config) NotificationsEnabled() bool {
	return c.ResendAPIKey != "" && len(c.NotifyTo) > 0
}
