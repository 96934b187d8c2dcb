// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration. Values are populated by
// Viper from the config file, environment variables (GCBOT_ prefix) and
// command line flags, in ascending order of precedence.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	Target  TargetConfig  `mapstructure:"target" yaml:"target"`
	Run     RunConfig     `mapstructure:"run" yaml:"run"`
}

// LoggerConfig controls the zap logger and optional rotating log file.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"` // "console" or "json"
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"` // megabytes
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"` // days
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig maps log levels to terminal colors for the console encoder.
type ColorConfig struct {
	Debug string `mapstructure:"debug" yaml:"debug"`
	Info  string `mapstructure:"info" yaml:"info"`
	Warn  string `mapstructure:"warn" yaml:"warn"`
	Error string `mapstructure:"error" yaml:"error"`
	Fatal string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig controls the Chrome instance driven over CDP.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	UserAgent         string        `mapstructure:"user_agent" yaml:"user_agent"`
	Args              []string      `mapstructure:"args" yaml:"args"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
}

// TargetConfig identifies the external surface the engine drives. The login
// flow classifies the browser location against these hosts and paths.
type TargetConfig struct {
	URL       string `mapstructure:"url" yaml:"url"`
	Host      string `mapstructure:"host" yaml:"host"`
	LoginPath string `mapstructure:"login_path" yaml:"login_path"`
	SSOHost   string `mapstructure:"sso_host" yaml:"sso_host"`
}

// RunConfig holds the pacing, timeout and persistence knobs of a batch run.
type RunConfig struct {
	IdleTimeout      time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	TimeoutScale     float64       `mapstructure:"timeout_scale" yaml:"timeout_scale"`
	PollInterval     time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	AutoLoginTimeout time.Duration `mapstructure:"auto_login_timeout" yaml:"auto_login_timeout"`

	LogsDir   string `mapstructure:"logs_dir" yaml:"logs_dir"`
	StateFile string `mapstructure:"state_file" yaml:"state_file"`

	// Rate-limit cool-down. The observed ban lasts ten minutes from the last
	// request, so the base wait is eleven to leave a margin.
	BackoffBase time.Duration `mapstructure:"backoff_base" yaml:"backoff_base"`
	BackoffCap  time.Duration `mapstructure:"backoff_cap" yaml:"backoff_cap"`

	// Randomized pause between records to stay under abuse detection.
	DelayMin time.Duration `mapstructure:"delay_min" yaml:"delay_min"`
	DelayMax time.Duration `mapstructure:"delay_max" yaml:"delay_max"`

	SubmitRetries int `mapstructure:"submit_retries" yaml:"submit_retries"`
	MatchLogMax   int `mapstructure:"match_log_max" yaml:"match_log_max"`

	CompletedDaysBack int `mapstructure:"completed_days_back" yaml:"completed_days_back"`
}

// NewDefaultConfig returns a Config populated with production defaults. The
// defaults mirror the live deployment against the directory ground-check
// surface.
func NewDefaultConfig() *Config {
	return &Config{
		Logger: LoggerConfig{
			Level:       "info",
			Format:      "console",
			ServiceName: "gcbot",
			MaxSize:     20,
			MaxBackups:  3,
			MaxAge:      14,
			Colors: ColorConfig{
				Debug: "cyan",
				Info:  "green",
				Warn:  "yellow",
				Error: "red",
				Fatal: "red",
			},
		},
		Browser: BrowserConfig{
			Headless:          false,
			NavigationTimeout: 60 * time.Second,
		},
		Target: TargetConfig{
			URL:       "https://matchapro.web.bps.go.id/dirgc",
			Host:      "matchapro.web.bps.go.id",
			LoginPath: "/login",
			SSOHost:   "sso.bps.go.id",
		},
		Run: RunConfig{
			IdleTimeout:       5 * time.Minute,
			TimeoutScale:      1.0,
			PollInterval:      500 * time.Millisecond,
			AutoLoginTimeout:  15 * time.Second,
			LogsDir:           "logs",
			StateFile:         "config/last_run_state.json",
			BackoffBase:       11 * time.Minute,
			BackoffCap:        time.Hour,
			DelayMin:          2 * time.Second,
			DelayMax:          4 * time.Second,
			SubmitRetries:     10,
			MatchLogMax:       3,
			CompletedDaysBack: 30,
		},
	}
}

// SetDefaults registers every default value with Viper so that partial config
// files and environment overrides merge onto a complete baseline.
func SetDefaults(v *viper.Viper) {
	cfg := NewDefaultConfig()

	v.SetDefault("logger.level", cfg.Logger.Level)
	v.SetDefault("logger.format", cfg.Logger.Format)
	v.SetDefault("logger.service_name", cfg.Logger.ServiceName)
	v.SetDefault("logger.max_size", cfg.Logger.MaxSize)
	v.SetDefault("logger.max_backups", cfg.Logger.MaxBackups)
	v.SetDefault("logger.max_age", cfg.Logger.MaxAge)
	v.SetDefault("logger.colors.debug", cfg.Logger.Colors.Debug)
	v.SetDefault("logger.colors.info", cfg.Logger.Colors.Info)
	v.SetDefault("logger.colors.warn", cfg.Logger.Colors.Warn)
	v.SetDefault("logger.colors.error", cfg.Logger.Colors.Error)
	v.SetDefault("logger.colors.fatal", cfg.Logger.Colors.Fatal)

	v.SetDefault("browser.headless", cfg.Browser.Headless)
	v.SetDefault("browser.navigation_timeout", cfg.Browser.NavigationTimeout)

	v.SetDefault("target.url", cfg.Target.URL)
	v.SetDefault("target.host", cfg.Target.Host)
	v.SetDefault("target.login_path", cfg.Target.LoginPath)
	v.SetDefault("target.sso_host", cfg.Target.SSOHost)

	v.SetDefault("run.idle_timeout", cfg.Run.IdleTimeout)
	v.SetDefault("run.timeout_scale", cfg.Run.TimeoutScale)
	v.SetDefault("run.poll_interval", cfg.Run.PollInterval)
	v.SetDefault("run.auto_login_timeout", cfg.Run.AutoLoginTimeout)
	v.SetDefault("run.logs_dir", cfg.Run.LogsDir)
	v.SetDefault("run.state_file", cfg.Run.StateFile)
	v.SetDefault("run.backoff_base", cfg.Run.BackoffBase)
	v.SetDefault("run.backoff_cap", cfg.Run.BackoffCap)
	v.SetDefault("run.delay_min", cfg.Run.DelayMin)
	v.SetDefault("run.delay_max", cfg.Run.DelayMax)
	v.SetDefault("run.submit_retries", cfg.Run.SubmitRetries)
	v.SetDefault("run.match_log_max", cfg.Run.MatchLogMax)
	v.SetDefault("run.completed_days_back", cfg.Run.CompletedDaysBack)
}

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	if c.Target.URL == "" {
		return fmt.Errorf("target.url must not be empty")
	}
	if c.Target.Host == "" {
		return fmt.Errorf("target.host must not be empty")
	}
	if c.Run.TimeoutScale <= 0 {
		return fmt.Errorf("run.timeout_scale must be positive, got %v", c.Run.TimeoutScale)
	}
	if c.Run.IdleTimeout <= 0 {
		return fmt.Errorf("run.idle_timeout must be positive, got %v", c.Run.IdleTimeout)
	}
	if c.Run.PollInterval <= 0 {
		return fmt.Errorf("run.poll_interval must be positive, got %v", c.Run.PollInterval)
	}
	if c.Run.BackoffBase <= 0 || c.Run.BackoffCap < c.Run.BackoffBase {
		return fmt.Errorf("run.backoff_base/backoff_cap invalid: base=%v cap=%v",
			c.Run.BackoffBase, c.Run.BackoffCap)
	}
	if c.Run.DelayMin < 0 || c.Run.DelayMax < c.Run.DelayMin {
		return fmt.Errorf("run.delay_min/delay_max invalid: min=%v max=%v",
			c.Run.DelayMin, c.Run.DelayMax)
	}
	if c.Run.SubmitRetries < 1 {
		return fmt.Errorf("run.submit_retries must be at least 1, got %d", c.Run.SubmitRetries)
	}
	return nil
}
