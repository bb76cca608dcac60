// Package config provides configuration management for hotswap using Viper
// for loading from files, environment variables, and command-line flags.
//
// The configuration system supports YAML files, environment variable overrides
// with the HOTSWAP_ prefix, and validation. It covers the dev server endpoint,
// the project layout (root and shared cache directory), the build options that
// feed build fingerprints, transform-cache tuning, logging and event reporting.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/conneroisu/hotswap/internal/errors"
)

// DefaultSharedDir is the per-project directory holding persisted state.
const DefaultSharedDir = ".hotswap"

// DefaultInvalidateLimit is the per-client invalidate budget per window.
const DefaultInvalidateLimit = 100

// DefaultFlushConcurrency bounds parallel cache writes during a flush.
const DefaultFlushConcurrency = 20

type Config struct {
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Project   ProjectConfig   `mapstructure:"project" yaml:"project"`
	Build     BuildConfig     `mapstructure:"build" yaml:"build"`
	Cache     CacheConfig     `mapstructure:"cache" yaml:"cache"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
	Reporting ReportingConfig `mapstructure:"reporting" yaml:"reporting"`
}

type ServerConfig struct {
	Host           string   `mapstructure:"host" yaml:"host"`
	Port           int      `mapstructure:"port" yaml:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	// InvalidateLimit caps invalidate requests per client within
	// InvalidateWindow. A negative limit disables the check.
	InvalidateLimit  int           `mapstructure:"invalidate_limit" yaml:"invalidate_limit"`
	InvalidateWindow time.Duration `mapstructure:"invalidate_window" yaml:"invalidate_window"`
}

type ProjectConfig struct {
	Root      string `mapstructure:"root" yaml:"root"`
	SharedDir string `mapstructure:"shared_dir" yaml:"shared_dir"`
}

// BuildConfig holds the options that affect compiled output. Everything in
// here except Extensions and Debounce feeds the build fingerprint.
type BuildConfig struct {
	Dev        bool                   `mapstructure:"dev" yaml:"dev"`
	Plugins    []string               `mapstructure:"plugins" yaml:"plugins"`
	Transform  map[string]interface{} `mapstructure:"transform" yaml:"transform"`
	Extensions []string               `mapstructure:"extensions" yaml:"extensions"`
	Debounce   time.Duration          `mapstructure:"debounce" yaml:"debounce"`
}

type CacheConfig struct {
	Concurrency int   `mapstructure:"concurrency" yaml:"concurrency"`
	MemoryBytes int64 `mapstructure:"memory_bytes" yaml:"memory_bytes"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

type ReportingConfig struct {
	// EventsFile receives JSON lifecycle events. Empty disables reporting,
	// "-" writes to stderr.
	EventsFile string `mapstructure:"events_file" yaml:"events_file"`
}

// SharedRoot returns <project>/<shared-dir>.
func (c *Config) SharedRoot() string {
	return filepath.Join(c.Project.Root, c.Project.SharedDir)
}

// Addr returns the host:port the dev server listens on.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Load reads configuration from the global viper instance.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads configuration from v, applies defaults and validates it.
func LoadFrom(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	if config.Server.Host == "" {
		config.Server.Host = "localhost"
	}
	if !v.IsSet("server.port") {
		config.Server.Port = 8081
	}

	if config.Server.InvalidateLimit == 0 {
		config.Server.InvalidateLimit = DefaultInvalidateLimit
	}
	if config.Server.InvalidateWindow <= 0 {
		config.Server.InvalidateWindow = 10 * time.Second
	}

	if config.Project.Root == "" {
		config.Project.Root = "."
	}
	if config.Project.SharedDir == "" {
		config.Project.SharedDir = DefaultSharedDir
	}

	// Handle dev flag set via viper (bool zero value is meaningful)
	if !v.IsSet("build.dev") {
		config.Build.Dev = true
	}
	if len(config.Build.Extensions) == 0 {
		config.Build.Extensions = []string{".js", ".jsx", ".ts", ".tsx", ".json"}
	}
	if config.Build.Debounce == 0 {
		config.Build.Debounce = 100 * time.Millisecond
	}
	if config.Build.Transform == nil {
		config.Build.Transform = make(map[string]interface{})
	}

	if config.Cache.Concurrency == 0 {
		config.Cache.Concurrency = DefaultFlushConcurrency
	}
	if config.Cache.MemoryBytes == 0 {
		config.Cache.MemoryBytes = 64 << 20
	}

	if config.Log.Level == "" {
		config.Log.Level = "info"
	}
	if config.Log.Format == "" {
		config.Log.Format = "text"
	}

	if err := validateConfig(&config); err != nil {
		return nil, errors.WrapConfig(err, errors.ErrCodeConfigInvalid, "invalid configuration")
	}

	return &config, nil
}

// validateConfig validates configuration values for security and correctness
func validateConfig(config *Config) error {
	if err := validateServerConfig(&config.Server); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if err := validateProjectConfig(&config.Project); err != nil {
		return fmt.Errorf("project config: %w", err)
	}
	if err := validateBuildConfig(&config.Build); err != nil {
		return fmt.Errorf("build config: %w", err)
	}
	if err := validateCacheConfig(&config.Cache); err != nil {
		return fmt.Errorf("cache config: %w", err)
	}
	return nil
}

// validateServerConfig validates server configuration values
func validateServerConfig(config *ServerConfig) error {
	// Allow 0 for system-assigned ports in testing
	if config.Port < 0 || config.Port > 65535 {
		return fmt.Errorf("port %d is not in valid range 0-65535", config.Port)
	}

	dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'", "\\"}
	for _, char := range dangerousChars {
		if strings.Contains(config.Host, char) {
			return fmt.Errorf("host contains dangerous character: %s", char)
		}
	}

	return nil
}

func validateProjectConfig(config *ProjectConfig) error {
	cleanPath := filepath.Clean(config.SharedDir)
	if strings.Contains(cleanPath, "..") {
		return fmt.Errorf("shared_dir contains path traversal: %s", config.SharedDir)
	}
	if filepath.IsAbs(cleanPath) {
		return fmt.Errorf("shared_dir should be relative path: %s", config.SharedDir)
	}
	return nil
}

func validateBuildConfig(config *BuildConfig) error {
	for i, name := range config.Plugins {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("plugin at index %d has an empty name", i)
		}
	}
	for _, ext := range config.Extensions {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("extension %q must start with a dot", ext)
		}
	}
	if config.Debounce < 0 {
		return fmt.Errorf("debounce must not be negative")
	}
	return nil
}

func validateCacheConfig(config *CacheConfig) error {
	if config.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", config.Concurrency)
	}
	if config.MemoryBytes < 0 {
		return fmt.Errorf("memory_bytes must not be negative")
	}
	return nil
}
