// Package config loads keymint's settings.
//
// Values are layered: built-in defaults < keymint.yaml < KEYMINT_* environment
// variables < command-line flags bound by the CLI. KEYMINT_STORE_DSN overrides
// store.dsn, and so on.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/keymint/keymint/internal/owner"
	"github.com/keymint/keymint/internal/store"
)

// EnvPrefix is the prefix for environment overrides.
const EnvPrefix = "KEYMINT"

// Config holds all keymint configuration.
type Config struct {
	Store  StoreConfig  `mapstructure:"store" yaml:"store"`
	Owners OwnersConfig `mapstructure:"owners" yaml:"owners"`
	Server ServerConfig `mapstructure:"server" yaml:"server"`
	Auth   AuthConfig   `mapstructure:"auth" yaml:"auth"`
	MCP    MCPConfig    `mapstructure:"mcp" yaml:"mcp"`
	Log    LogConfig    `mapstructure:"log" yaml:"log"`
}

// StoreConfig selects the key store backend.
type StoreConfig struct {
	Driver          string        `mapstructure:"driver" yaml:"driver"`
	DSN             string        `mapstructure:"dsn" yaml:"dsn"`
	DataDir         string        `mapstructure:"data_dir" yaml:"data_dir"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
}

// Options converts the store settings for store.Open.
func (c StoreConfig) Options() store.Options {
	return store.Options{
		Driver:          c.Driver,
		DSN:             c.DSN,
		DataDir:         c.DataDir,
		MaxOpenConns:    c.MaxOpenConns,
		MaxIdleConns:    c.MaxIdleConns,
		ConnMaxLifetime: c.ConnMaxLifetime,
	}
}

// OwnersConfig selects the owner directory.
type OwnersConfig struct {
	Source  string        `mapstructure:"source" yaml:"source"`
	File    string        `mapstructure:"file" yaml:"file"`
	BaseURL string        `mapstructure:"base_url" yaml:"base_url"`
	Token   string        `mapstructure:"token" yaml:"token"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// Options converts the owner settings for owner.New.
func (c OwnersConfig) Options() owner.Options {
	return owner.Options{
		Source:  c.Source,
		File:    c.File,
		BaseURL: c.BaseURL,
		Token:   c.Token,
		Timeout: c.Timeout,
	}
}

// ServerConfig controls the admin HTTP server.
type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins" yaml:"cors_origins"`
	RateLimit       int           `mapstructure:"rate_limit" yaml:"rate_limit"`
}

// Address returns host:port.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// AuthConfig controls operator authentication on the admin API.
type AuthConfig struct {
	JWTSecret    string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTExpiry    time.Duration `mapstructure:"jwt_expiry" yaml:"jwt_expiry"`
	APIKeyHeader string        `mapstructure:"api_key_header" yaml:"api_key_header"`
}

// MCPConfig controls the MCP server.
type MCPConfig struct {
	Transport string `mapstructure:"transport" yaml:"transport"`
	Port      int    `mapstructure:"port" yaml:"port"`
}

// LogConfig controls log output.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// SetDefaults registers the built-in defaults on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.data_dir", DefaultDataDir())
	v.SetDefault("store.max_open_conns", 10)
	v.SetDefault("store.max_idle_conns", 5)
	v.SetDefault("store.conn_max_lifetime", "5m")

	v.SetDefault("owners.source", owner.SourceStore)
	v.SetDefault("owners.file", "")
	v.SetDefault("owners.base_url", "")
	v.SetDefault("owners.token", "")
	v.SetDefault("owners.timeout", "5s")

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.request_timeout", "10s")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.rate_limit", 100)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.jwt_expiry", "1h")
	v.SetDefault("auth.api_key_header", "X-API-Key")

	v.SetDefault("mcp.transport", "stdio")
	v.SetDefault("mcp.port", 3001)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// DefaultDataDir is ~/.keymint, or .keymint in the working directory when
// the home directory cannot be determined.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".keymint"
	}
	return filepath.Join(home, ".keymint")
}

// NewViper returns a viper instance with defaults, the config file search
// path and environment overrides configured. cfgFile, when set, replaces the
// search path.
func NewViper(cfgFile string) *viper.Viper {
	v := viper.New()
	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("keymint")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.keymint")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Read loads the config file into v. A missing file is not an error unless
// it was named explicitly.
func Read(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}
	return nil
}

// Load unmarshals and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.Store.DSN = os.ExpandEnv(cfg.Store.DSN)
	cfg.Owners.Token = os.ExpandEnv(cfg.Owners.Token)
	cfg.Auth.JWTSecret = os.ExpandEnv(cfg.Auth.JWTSecret)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg, err := Load(v)
	if err != nil {
		panic(fmt.Sprintf("default config is invalid: %v", err))
	}
	return cfg
}

// Validate checks the configuration for values that cannot work.
func (c *Config) Validate() error {
	known := false
	for _, d := range store.Drivers() {
		if c.Store.Driver == d {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("unsupported store.driver %q (supported: %s)", c.Store.Driver, strings.Join(store.Drivers(), ", "))
	}
	if c.Store.Driver != "sqlite" && c.Store.DSN == "" {
		return fmt.Errorf("store.dsn is required for driver %s", c.Store.Driver)
	}

	switch c.Owners.Source {
	case owner.SourceStore, owner.SourceNone:
	case owner.SourceFile:
		if c.Owners.File == "" {
			return fmt.Errorf("owners.file is required when owners.source is file")
		}
	case owner.SourceHTTP:
		if c.Owners.BaseURL == "" {
			return fmt.Errorf("owners.base_url is required when owners.source is http")
		}
	default:
		return fmt.Errorf("unsupported owners.source %q (must be store, file, http, or none)", c.Owners.Source)
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port: %d", c.Server.Port)
	}

	switch c.MCP.Transport {
	case "stdio", "http":
	default:
		return fmt.Errorf("unsupported mcp.transport %q (must be stdio or http)", c.MCP.Transport)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		return fmt.Errorf("invalid log.level: %s (must be debug, info, warn, or error)", c.Log.Level)
	}
	return nil
}
