// Package config provides configuration management for bloxciting using Viper
// for loading from files, environment variables and command-line flags.
//
// The configuration covers the HTTP server, the watched content tree and its
// shadow output directory, the author identity passed to the renderer, and
// logging. Environment variables use the BLOXCITING_ prefix
// (BLOXCITING_CONTENT_ROOT, BLOXCITING_SERVER_PORT, ...).
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/conneroisu/bloxciting/internal/validation"
)

// Supported content hash algorithms.
const (
	HashMD5         = "md5"
	HashSHA256      = "sha256"
	HashHighwayHash = "highwayhash"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server" yaml:"server" json:"server"`
	Content ContentConfig `mapstructure:"content" yaml:"content" json:"content"`
	Author  AuthorConfig  `mapstructure:"author" yaml:"author" json:"author"`
	Log     LogConfig     `mapstructure:"log" yaml:"log" json:"log"`
}

type ServerConfig struct {
	Port           int             `mapstructure:"port" yaml:"port" json:"port"`
	Host           string          `mapstructure:"host" yaml:"host" json:"host"`
	Environment    string          `mapstructure:"environment" yaml:"environment" json:"environment"`
	AllowedOrigins []string        `mapstructure:"allowed_origins" yaml:"allowed_origins" json:"allowed_origins"`
	RateLimit      RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit" json:"rate_limit"`
}

type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second" json:"requests_per_second"`
	Burst             int     `mapstructure:"burst" yaml:"burst" json:"burst"`
}

// ContentConfig describes the watched source tree and where compiled
// artifacts are written.
type ContentConfig struct {
	Root            string        `mapstructure:"root" yaml:"root" json:"root"`
	OutputDir       string        `mapstructure:"output_dir" yaml:"output_dir" json:"output_dir"`
	Extension       string        `mapstructure:"extension" yaml:"extension" json:"extension"`
	IndexDocument   string        `mapstructure:"index_document" yaml:"index_document" json:"index_document"`
	StabilityWindow time.Duration `mapstructure:"stability_window" yaml:"stability_window" json:"stability_window"`
	Hash            string        `mapstructure:"hash" yaml:"hash" json:"hash"`
}

// AuthorConfig is the identity rendered into every compiled document.
type AuthorConfig struct {
	Email    string `mapstructure:"email" yaml:"email" json:"email"`
	Nickname string `mapstructure:"nickname" yaml:"nickname" json:"nickname"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level" json:"level"`
	Format string `mapstructure:"format" yaml:"format" json:"format"`
}

// EnvPrefix is the prefix of every environment variable override.
const EnvPrefix = "BLOXCITING"

var envKeyReplacer = strings.NewReplacer(".", "_")

// Keys lists every configuration key so that environment overrides resolve
// even when no config file mentions them.
var Keys = []string{
	"server.port",
	"server.host",
	"server.environment",
	"server.allowed_origins",
	"server.rate_limit.enabled",
	"server.rate_limit.requests_per_second",
	"server.rate_limit.burst",
	"content.root",
	"content.output_dir",
	"content.extension",
	"content.index_document",
	"content.stability_window",
	"content.hash",
	"author.email",
	"author.nickname",
	"log.level",
	"log.format",
}

// ConfigureEnv enables BLOXCITING_<SECTION>_<OPTION> overrides on v.
func ConfigureEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(envKeyReplacer)
	v.AutomaticEnv()
	for _, key := range Keys {
		_ = v.BindEnv(key)
	}
}

// Load reads the configuration from the global viper instance.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads the configuration from v, applies defaults and validates it.
func LoadFrom(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Handle allowed origins set via viper (workaround for viper slice handling)
	if v.IsSet("server.allowed_origins") && len(config.Server.AllowedOrigins) == 0 {
		config.Server.AllowedOrigins = v.GetStringSlice("server.allowed_origins")
	}

	applyDefaults(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var config Config
	applyDefaults(&config)
	return &config
}

func applyDefaults(config *Config) {
	if config.Server.Host == "" {
		config.Server.Host = "localhost"
	}
	if config.Server.Port == 0 {
		config.Server.Port = 18888
	}
	if config.Server.Environment == "" {
		config.Server.Environment = "development"
	}
	if config.Server.RateLimit.RequestsPerSecond == 0 {
		config.Server.RateLimit.RequestsPerSecond = 50
	}
	if config.Server.RateLimit.Burst == 0 {
		config.Server.RateLimit.Burst = 100
	}

	if config.Content.Root == "" {
		config.Content.Root = "./blogs"
	}
	if config.Content.OutputDir == "" {
		config.Content.OutputDir = ".bloxciting/compiled"
	}
	if config.Content.Extension == "" {
		config.Content.Extension = ".md"
	}
	if config.Content.IndexDocument == "" {
		config.Content.IndexDocument = "index" + config.Content.Extension
	}
	if config.Content.StabilityWindow == 0 {
		config.Content.StabilityWindow = 2 * time.Second
	}
	if config.Content.Hash == "" {
		config.Content.Hash = HashMD5
	}

	if config.Author.Nickname == "" {
		config.Author.Nickname = "anonymous"
	}

	if config.Log.Level == "" {
		config.Log.Level = "info"
	}
	if config.Log.Format == "" {
		config.Log.Format = "text"
	}
}

// validateConfig validates configuration values for correctness
func validateConfig(config *Config) error {
	if err := validateServerConfig(&config.Server); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := validateContentConfig(&config.Content); err != nil {
		return fmt.Errorf("content config: %w", err)
	}

	if err := validateLogConfig(&config.Log); err != nil {
		return fmt.Errorf("log config: %w", err)
	}

	return nil
}

// validateServerConfig validates server configuration values
func validateServerConfig(config *ServerConfig) error {
	// Allow 0 for system-assigned ports in testing
	if config.Port < 0 || config.Port > 65535 {
		return fmt.Errorf("port %d is not in valid range 0-65535", config.Port)
	}

	if config.Host != "" {
		dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'", "\\"}
		for _, char := range dangerousChars {
			if strings.Contains(config.Host, char) {
				return fmt.Errorf("host contains dangerous character: %s", char)
			}
		}
	}

	for _, origin := range config.AllowedOrigins {
		if err := validation.ValidateOrigin(origin); err != nil {
			return fmt.Errorf("allowed_origins: %w", err)
		}
	}

	if config.RateLimit.Enabled {
		if config.RateLimit.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limit.requests_per_second must be positive")
		}
		if config.RateLimit.Burst <= 0 {
			return fmt.Errorf("rate_limit.burst must be positive")
		}
	}

	return nil
}

// validateContentConfig validates the watched tree settings
func validateContentConfig(config *ContentConfig) error {
	if err := validation.ValidatePath(config.Root); err != nil {
		return fmt.Errorf("invalid root '%s': %w", config.Root, err)
	}
	if err := validation.ValidatePath(config.OutputDir); err != nil {
		return fmt.Errorf("invalid output_dir '%s': %w", config.OutputDir, err)
	}

	root, err := filepath.Abs(config.Root)
	if err != nil {
		return fmt.Errorf("resolving root: %w", err)
	}
	out, err := filepath.Abs(config.OutputDir)
	if err != nil {
		return fmt.Errorf("resolving output_dir: %w", err)
	}
	if root == out {
		return fmt.Errorf("output_dir must differ from root")
	}

	if err := validation.ValidateExtension(config.Extension); err != nil {
		return err
	}
	if strings.ContainsAny(config.IndexDocument, `/\`) {
		return fmt.Errorf("index_document %q must be a bare file name", config.IndexDocument)
	}
	if config.StabilityWindow < 0 {
		return fmt.Errorf("stability_window must not be negative")
	}

	switch config.Hash {
	case HashMD5, HashSHA256, HashHighwayHash:
	default:
		return fmt.Errorf("unsupported hash algorithm %q", config.Hash)
	}

	return nil
}

func validateLogConfig(config *LogConfig) error {
	switch strings.ToLower(config.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unknown level %q", config.Level)
	}
	switch config.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown format %q", config.Format)
	}
	return nil
}
