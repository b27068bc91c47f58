// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger      LoggerConfig      `mapstructure:"logger" yaml:"logger"`
	Browser     BrowserConfig     `mapstructure:"browser" yaml:"browser"`
	Environment EnvironmentConfig `mapstructure:"environment" yaml:"environment"`
	Auth        AuthConfig        `mapstructure:"auth" yaml:"auth"`
	Resolver    ResolverConfig    `mapstructure:"resolver" yaml:"resolver"`
	TestRail    TestRailConfig    `mapstructure:"testrail" yaml:"testrail"`
	Runner      RunnerConfig      `mapstructure:"runner" yaml:"runner"`
	Artifacts   ArtifactsConfig   `mapstructure:"artifacts" yaml:"artifacts"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// BrowserConfig holds settings for the headless browser instance.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	DisableCache      bool          `mapstructure:"disable_cache" yaml:"disable_cache"`
	IgnoreTLSErrors   bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	Args              []string      `mapstructure:"args" yaml:"args"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	PostLoadWait      time.Duration `mapstructure:"post_load_wait" yaml:"post_load_wait"`
}

// EnvironmentConfig describes the application under test. It is immutable for
// the lifetime of a run and passed by reference into every component that
// needs it; no component reads ambient environment state directly.
type EnvironmentConfig struct {
	BaseURL   string `mapstructure:"base_url" yaml:"base_url"`
	Username  string `mapstructure:"username" yaml:"username"`
	Password  string `mapstructure:"password" yaml:"password"`
	OTPSecret string `mapstructure:"otp_secret" yaml:"-"`
	// Optional HTTP basic-auth pair applied to every navigation.
	BasicAuthUser string `mapstructure:"basic_auth_user" yaml:"basic_auth_user"`
	BasicAuthPass string `mapstructure:"basic_auth_pass" yaml:"-"`
}

// AuthConfig drives the login state machine: where the stable controls live
// and how long each bounded wait may take.
type AuthConfig struct {
	LoginPath         string        `mapstructure:"login_path" yaml:"login_path"`
	UsernameSelector  string        `mapstructure:"username_selector" yaml:"username_selector"`
	PasswordSelector  string        `mapstructure:"password_selector" yaml:"password_selector"`
	SubmitSelector    string        `mapstructure:"submit_selector" yaml:"submit_selector"`
	ChallengeSelector string        `mapstructure:"challenge_selector" yaml:"challenge_selector"`
	ChallengeInput    string        `mapstructure:"challenge_input" yaml:"challenge_input"`
	ChallengeSubmit   string        `mapstructure:"challenge_submit" yaml:"challenge_submit"`
	LandmarkSelector  string        `mapstructure:"landmark_selector" yaml:"landmark_selector"`
	ErrorSelector     string        `mapstructure:"error_selector" yaml:"error_selector"`
	ChallengeTimeout  time.Duration `mapstructure:"challenge_timeout" yaml:"challenge_timeout"`
	VerifyTimeout     time.Duration `mapstructure:"verify_timeout" yaml:"verify_timeout"`
}

// ResolverConfig tunes the element resolver's bounded retry loop.
type ResolverConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	// WaitBound is the total wait applied per selector in the fallback chain.
	WaitBound time.Duration `mapstructure:"wait_bound" yaml:"wait_bound"`
}

// TestRailConfig configures the reporting bridge.
type TestRailConfig struct {
	Enabled           bool    `mapstructure:"enabled" yaml:"enabled"`
	URL               string  `mapstructure:"url" yaml:"url"`
	Username          string  `mapstructure:"username" yaml:"username"`
	APIKey            string  `mapstructure:"api_key" yaml:"-"`
	ProjectID         int     `mapstructure:"project_id" yaml:"project_id"`
	SuiteID           int     `mapstructure:"suite_id" yaml:"suite_id"`
	RunPrefix         string  `mapstructure:"run_prefix" yaml:"run_prefix"`
	MappingFile       string  `mapstructure:"mapping_file" yaml:"mapping_file"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"`
}

// RunnerConfig holds settings for scenario execution.
type RunnerConfig struct {
	ScenarioFile string `mapstructure:"scenario_file" yaml:"scenario_file"`
	Concurrency  int    `mapstructure:"concurrency" yaml:"concurrency"`
	Output       string `mapstructure:"output" yaml:"output"`
}

// ArtifactsConfig names the sink for screenshots and markup snapshots.
type ArtifactsConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "veritrail-cli")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.disable_cache", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.navigation_timeout", "30s")
	v.SetDefault("browser.post_load_wait", "500ms")

	// -- Auth --
	v.SetDefault("auth.login_path", "/login")
	v.SetDefault("auth.username_selector", `input[name="username"]`)
	v.SetDefault("auth.password_selector", `input[name="password"]`)
	v.SetDefault("auth.submit_selector", `button[type="submit"]`)
	v.SetDefault("auth.challenge_selector", `form[name="otp"], input[name="otp"]`)
	v.SetDefault("auth.challenge_input", `input[type="text"], input[type="tel"]`)
	v.SetDefault("auth.challenge_submit", `button[type="submit"]`)
	v.SetDefault("auth.landmark_selector", `nav[role="navigation"]`)
	v.SetDefault("auth.error_selector", ".alert-danger, .error-message")
	v.SetDefault("auth.challenge_timeout", "10s")
	v.SetDefault("auth.verify_timeout", "15s")

	// -- Resolver --
	v.SetDefault("resolver.poll_interval", "200ms")
	v.SetDefault("resolver.wait_bound", "5s")

	// -- TestRail --
	v.SetDefault("testrail.enabled", false)
	v.SetDefault("testrail.run_prefix", "Automated run")
	v.SetDefault("testrail.requests_per_second", 3.0)

	// -- Runner --
	v.SetDefault("runner.scenario_file", "scenarios.yaml")
	v.SetDefault("runner.concurrency", 1)
	v.SetDefault("runner.output", "")

	// -- Artifacts --
	v.SetDefault("artifacts.dir", "artifacts")
}

// NewDefaultConfig creates a configuration populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Cannot happen with defaults only.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// NewFromViper creates a configuration instance from a viper object, binding
// sensitive values from the environment before unmarshaling.
func NewFromViper(v *viper.Viper) (*Config, error) {
	v.BindEnv("environment.otp_secret", "VERITRAIL_OTP_SECRET")
	v.BindEnv("environment.password", "VERITRAIL_PASSWORD")
	v.BindEnv("environment.basic_auth_pass", "VERITRAIL_BASIC_AUTH_PASS")
	v.BindEnv("testrail.api_key", "VERITRAIL_TESTRAIL_API_KEY")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
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
	if c.Resolver.PollInterval <= 0 {
		return fmt.Errorf("resolver.poll_interval must be a positive duration")
	}
	if c.Resolver.WaitBound < c.Resolver.PollInterval {
		return fmt.Errorf("resolver.wait_bound must be at least resolver.poll_interval")
	}
	if c.Auth.ChallengeTimeout <= 0 || c.Auth.VerifyTimeout <= 0 {
		return fmt.Errorf("auth timeouts must be positive durations")
	}
	if err := c.TestRail.Validate(); err != nil {
		return fmt.Errorf("testrail configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the TestRail configuration. A disabled bridge is always
// valid; required fields only matter once reporting is switched on.
func (t *TestRailConfig) Validate() error {
	if !t.Enabled {
		return nil
	}
	if t.URL == "" {
		return fmt.Errorf("testrail.url is required when reporting is enabled")
	}
	if t.Username == "" || t.APIKey == "" {
		return fmt.Errorf("testrail.username and api key are required. Ensure VERITRAIL_TESTRAIL_API_KEY is set")
	}
	if t.ProjectID <= 0 || t.SuiteID <= 0 {
		return fmt.Errorf("testrail.project_id and testrail.suite_id must be positive integers")
	}
	if t.RequestsPerSecond <= 0 {
		return fmt.Errorf("testrail.requests_per_second must be positive")
	}
	return nil
}
