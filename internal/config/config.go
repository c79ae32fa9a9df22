// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger      LoggerConfig      `mapstructure:"logger" yaml:"logger"`
	Browser     BrowserConfig     `mapstructure:"browser" yaml:"browser"`
	Interpreter InterpreterConfig `mapstructure:"interpreter" yaml:"interpreter"`
	Solver      SolverConfig      `mapstructure:"solver" yaml:"solver"`
	Database    DatabaseConfig    `mapstructure:"database" yaml:"database"`
	Runner      RunnerConfig      `mapstructure:"runner" yaml:"runner"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the headless browser instances.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	DisableCache      bool          `mapstructure:"disable_cache" yaml:"disable_cache"`
	IgnoreTLSErrors   bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	Debug             bool          `mapstructure:"debug" yaml:"debug"`
	Args              []string      `mapstructure:"args" yaml:"args"`
	UserAgent         string        `mapstructure:"user_agent" yaml:"user_agent"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	ViewportWidth     int64         `mapstructure:"viewport_width" yaml:"viewport_width"`
	ViewportHeight    int64         `mapstructure:"viewport_height" yaml:"viewport_height"`
}

// InterpreterConfig tunes scenario execution behavior.
type InterpreterConfig struct {
	// ActionTimeout overrides the built-in per-action default for actions
	// that carry no explicit timeout of their own. Zero keeps the default.
	ActionTimeout time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
}

// SolverConfig configures the remote captcha solving service client.
type SolverConfig struct {
	Endpoint          string        `mapstructure:"endpoint" yaml:"endpoint"`
	APIKey            string        `mapstructure:"api_key" yaml:"-"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	MaxRetries        int           `mapstructure:"max_retries" yaml:"max_retries"`
	RetryInitialDelay time.Duration `mapstructure:"retry_initial_delay" yaml:"retry_initial_delay"`
	RetryMaxDelay     time.Duration `mapstructure:"retry_max_delay" yaml:"retry_max_delay"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Burst             int           `mapstructure:"burst" yaml:"burst"`
	Debug             bool          `mapstructure:"debug" yaml:"debug"`
}

// DatabaseConfig holds the database connection details.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// RunnerConfig controls how scenario documents are scheduled.
type RunnerConfig struct {
	Concurrency int  `mapstructure:"concurrency" yaml:"concurrency"`
	Persist     bool `mapstructure:"persist" yaml:"persist"`
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "scenic")
	v.SetDefault("logger.log_file", "scenic.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.disable_cache", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.debug", false)
	v.SetDefault("browser.navigation_timeout", "90s")
	v.SetDefault("browser.viewport_width", 1280)
	v.SetDefault("browser.viewport_height", 1024)

	// -- Interpreter --
	v.SetDefault("interpreter.action_timeout", "60s")

	// -- Solver --
	v.SetDefault("solver.request_timeout", "120s")
	v.SetDefault("solver.max_retries", 3)
	v.SetDefault("solver.retry_initial_delay", "1s")
	v.SetDefault("solver.retry_max_delay", "30s")
	v.SetDefault("solver.requests_per_second", 5.0)
	v.SetDefault("solver.burst", 1)
	v.SetDefault("solver.debug", false)

	// -- Runner --
	v.SetDefault("runner.concurrency", 4)
	v.SetDefault("runner.persist", false)
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	v.BindEnv("solver.api_key", "SCENIC_SOLVER_API_KEY")
	v.BindEnv("database.url", "SCENIC_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Manually load the key if Unmarshal didn't pick it up
	if cfg.Solver.Endpoint != "" && cfg.Solver.APIKey == "" {
		cfg.Solver.APIKey = os.Getenv("SCENIC_SOLVER_API_KEY")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Runner.Concurrency <= 0 {
		return fmt.Errorf("runner.concurrency must be a positive integer")
	}
	if c.Interpreter.ActionTimeout < 0 {
		return fmt.Errorf("interpreter.action_timeout must not be negative")
	}
	if c.Browser.ViewportWidth <= 0 || c.Browser.ViewportHeight <= 0 {
		return fmt.Errorf("browser viewport dimensions must be positive")
	}
	if err := c.Solver.Validate(); err != nil {
		return fmt.Errorf("solver configuration invalid: %w", err)
	}
	if c.Runner.Persist && c.Database.URL == "" {
		return fmt.Errorf("database.url is required when runner.persist is enabled. Set SCENIC_DATABASE_URL")
	}
	return nil
}

// Validate checks the SolverConfig settings. A solver with no endpoint is
// simply disabled and skips the remaining checks.
func (s *SolverConfig) Validate() error {
	if s.Endpoint == "" {
		return nil
	}
	if s.APIKey == "" {
		return fmt.Errorf("api_key is required but not found. Ensure SCENIC_SOLVER_API_KEY is set")
	}
	if s.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative")
	}
	if s.RequestsPerSecond <= 0 {
		return fmt.Errorf("requests_per_second must be positive")
	}
	return nil
}
