// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// ErrMissingRequired is returned when a value the suite cannot run without
// (credentials, device key, base URL) has not been supplied.
var ErrMissingRequired = errors.New("required configuration missing")

// Config holds the entire application configuration. It is built once at
// startup and handed to every component that needs it.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	Target    TargetConfig    `mapstructure:"target" yaml:"target"`
	Browser   BrowserConfig   `mapstructure:"browser" yaml:"browser"`
	Network   NetworkConfig   `mapstructure:"network" yaml:"network"`
	Popup     PopupConfig     `mapstructure:"popup" yaml:"popup"`
	Readiness ReadinessConfig `mapstructure:"readiness" yaml:"readiness"`
	Suite     SuiteConfig     `mapstructure:"suite" yaml:"suite"`
	Report    ReportConfig    `mapstructure:"report" yaml:"report"`
	Database  DatabaseConfig  `mapstructure:"database" yaml:"database"`
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

// ColorConfig defines the color names for different log levels.
type ColorConfig struct {
	Debug string `mapstructure:"debug" yaml:"debug"`
	Info  string `mapstructure:"info" yaml:"info"`
	Warn  string `mapstructure:"warn" yaml:"warn"`
	Error string `mapstructure:"error" yaml:"error"`
	Fatal string `mapstructure:"fatal" yaml:"fatal"`
}

// TargetConfig describes the application under test and the account used
// to drive it.
type TargetConfig struct {
	BaseURL  string `mapstructure:"base_url" yaml:"base_url"`
	Email    string `mapstructure:"email" yaml:"email"`
	Password string `mapstructure:"password" yaml:"-"`
	// DeviceKey is the pre-issued device token that lets a login skip the
	// verification-code step.
	DeviceKey       string        `mapstructure:"device_key" yaml:"-"`
	DeviceKeyCookie string        `mapstructure:"device_key_cookie" yaml:"device_key_cookie"`
	Timeout         time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// BrowserConfig holds settings for the headless browser instances.
type BrowserConfig struct {
	Headless        bool          `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	ExecPath        string        `mapstructure:"exec_path" yaml:"exec_path"`
	UserAgent       string        `mapstructure:"user_agent" yaml:"user_agent"`
	Args            []string      `mapstructure:"args" yaml:"args"`
	ViewportWidth   int           `mapstructure:"viewport_width" yaml:"viewport_width"`
	ViewportHeight  int           `mapstructure:"viewport_height" yaml:"viewport_height"`
	ActionTimeout   time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
	// SlowMo spaces out mutating actions (click, fill, navigate) by at
	// least this much. Zero disables pacing.
	SlowMo time.Duration `mapstructure:"slow_mo" yaml:"slow_mo"`
}

// NetworkConfig controls navigation and network-idle detection.
type NetworkConfig struct {
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	IdleQuietPeriod   time.Duration `mapstructure:"idle_quiet_period" yaml:"idle_quiet_period"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
}

// PopupConfig controls transient popup detection.
type PopupConfig struct {
	GracePeriod  time.Duration `mapstructure:"grace_period" yaml:"grace_period"`
	SettlePeriod time.Duration `mapstructure:"settle_period" yaml:"settle_period"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// ReadinessConfig controls the study table readiness wait.
type ReadinessConfig struct {
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
}

// SuiteConfig controls how scenarios are scheduled.
type SuiteConfig struct {
	Workers         int           `mapstructure:"workers" yaml:"workers"`
	Retries         int           `mapstructure:"retries" yaml:"retries"`
	RetryDelay      time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
	ScenarioTimeout time.Duration `mapstructure:"scenario_timeout" yaml:"scenario_timeout"`
	ArtifactsDir    string        `mapstructure:"artifacts_dir" yaml:"artifacts_dir"`
}

// ReportConfig selects the report writer.
type ReportConfig struct {
	Format string `mapstructure:"format" yaml:"format"`
	Output string `mapstructure:"output" yaml:"output"`
}

// DatabaseConfig holds the optional results database connection.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// NewDefaultConfig creates a configuration populated with the default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	// Defaults are statically typed; an unmarshal failure here is a programming error.
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("config: invalid defaults: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for every configuration key.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "rtsm-probe")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Target --
	v.SetDefault("target.base_url", "https://staging.rtsm.mavenclinical.com")
	v.SetDefault("target.device_key_cookie", "cream:auth:device:key:staging")
	v.SetDefault("target.timeout", "30s")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.ignore_tls_errors", true)
	v.SetDefault("browser.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 RTSMProbe")
	v.SetDefault("browser.viewport_width", 1280)
	v.SetDefault("browser.viewport_height", 720)
	v.SetDefault("browser.action_timeout", "30s")
	v.SetDefault("browser.slow_mo", "0s")

	// -- Network --
	v.SetDefault("network.navigation_timeout", "30s")
	v.SetDefault("network.idle_quiet_period", "500ms")
	v.SetDefault("network.idle_timeout", "30s")

	// -- Popup --
	v.SetDefault("popup.grace_period", "2s")
	v.SetDefault("popup.settle_period", "3s")
	v.SetDefault("popup.poll_interval", "250ms")

	// -- Readiness --
	v.SetDefault("readiness.timeout", "15s")
	v.SetDefault("readiness.interval", "1s")

	// -- Suite --
	v.SetDefault("suite.workers", 1)
	v.SetDefault("suite.retries", 0)
	v.SetDefault("suite.retry_delay", "1s")
	v.SetDefault("suite.scenario_timeout", "60s")
	v.SetDefault("suite.artifacts_dir", "test-results")

	// -- Report --
	v.SetDefault("report.format", "json")
	v.SetDefault("report.output", "")
}

// BindEnv wires the environment variable names the suite accepts. The
// TEST_* names are the ones existing .env files already use.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix("RTSM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("target.base_url", "RTSM_TARGET_BASE_URL", "TEST_BASE_URL")
	_ = v.BindEnv("target.email", "RTSM_TARGET_EMAIL", "TEST_EMAIL")
	_ = v.BindEnv("target.password", "RTSM_TARGET_PASSWORD", "TEST_PASSWORD")
	_ = v.BindEnv("target.device_key", "RTSM_TARGET_DEVICE_KEY", "TEST_DEVICE_KEY")
	_ = v.BindEnv("database.url", "RTSM_DATABASE_URL")
}

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment.
// Variables already set are left alone, and a missing file is not an error.
func LoadDotEnv(path string) error {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return fmt.Errorf("failed to expand path %q: %w", path, err)
	}
	if err := gotenv.Load(expanded); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", expanded, err)
	}
	return nil
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	// TEST_TIMEOUT is expressed in milliseconds, which the duration decoder rejects.
	if raw := os.Getenv("TEST_TIMEOUT"); raw != "" {
		ms, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("TEST_TIMEOUT must be an integer number of milliseconds: %w", err)
		}
		v.Set("target.timeout", time.Duration(ms)*time.Millisecond)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) expandPaths() error {
	for _, p := range []*string{&c.Suite.ArtifactsDir, &c.Logger.LogFile, &c.Report.Output, &c.Browser.ExecPath} {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for sane values. It does not require
// credentials; see ValidateTarget.
func (c *Config) Validate() error {
	if c.Suite.Workers <= 0 {
		return fmt.Errorf("suite.workers must be a positive integer")
	}
	if c.Suite.Retries < 0 {
		return fmt.Errorf("suite.retries must not be negative")
	}
	if c.Suite.ScenarioTimeout <= 0 {
		return fmt.Errorf("suite.scenario_timeout must be a positive duration")
	}
	if c.Target.Timeout <= 0 {
		return fmt.Errorf("target.timeout must be a positive duration")
	}
	if c.Popup.GracePeriod < 0 || c.Popup.SettlePeriod < 0 {
		return fmt.Errorf("popup.grace_period and popup.settle_period must not be negative")
	}
	if c.Readiness.Timeout <= 0 {
		return fmt.Errorf("readiness.timeout must be a positive duration")
	}
	switch c.Report.Format {
	case "json", "junit", "sarif":
	default:
		return fmt.Errorf("report.format must be one of json, junit, sarif (got %q)", c.Report.Format)
	}
	return nil
}

// ValidateTarget reports every missing value a login flow depends on. It is
// checked before any browser is started.
func (c *Config) ValidateTarget() error {
	var missing []string
	if c.Target.BaseURL == "" {
		missing = append(missing, "TEST_BASE_URL")
	}
	if c.Target.Email == "" {
		missing = append(missing, "TEST_EMAIL")
	}
	if c.Target.Password == "" {
		missing = append(missing, "TEST_PASSWORD")
	}
	if c.Target.DeviceKey == "" {
		missing = append(missing, "TEST_DEVICE_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s (set them in the environment or a .env file)", ErrMissingRequired, strings.Join(missing, ", "))
	}
	return nil
}
