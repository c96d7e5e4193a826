// File: internal/config/config.go
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config holds the entire application configuration. It is built once from
// viper (defaults, config file, env, flags) and passed explicitly into every
// component; nothing reads ambient global state.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	Site      SiteConfig      `mapstructure:"site" yaml:"site"`
	Browser   BrowserConfig   `mapstructure:"browser" yaml:"browser"`
	Selectors SelectorsConfig `mapstructure:"selectors" yaml:"selectors"`
	Timing    TimingConfig    `mapstructure:"timing" yaml:"timing"`
	Paths     PathsConfig     `mapstructure:"paths" yaml:"paths"`
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

// SiteConfig holds the remote application endpoints.
type SiteConfig struct {
	BaseURL  string `mapstructure:"base_url" yaml:"base_url"`
	LoginURL string `mapstructure:"login_url" yaml:"login_url"`
}

// BrowserConfig holds settings for the Chrome instance.
type BrowserConfig struct {
	Headless  bool     `mapstructure:"headless" yaml:"headless"`
	UserAgent string   `mapstructure:"user_agent" yaml:"user_agent"`
	Width     int      `mapstructure:"width" yaml:"width"`
	Height    int      `mapstructure:"height" yaml:"height"`
	Args      []string `mapstructure:"args" yaml:"args"`

	// NavigationTimeout bounds a single page load; ElementTimeout bounds one
	// selector-resolution attempt; QueryTimeout is the overall answer deadline.
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	ElementTimeout    time.Duration `mapstructure:"element_timeout" yaml:"element_timeout"`
	QueryTimeout      time.Duration `mapstructure:"query_timeout" yaml:"query_timeout"`
	LoginTimeout      time.Duration `mapstructure:"login_timeout" yaml:"login_timeout"`

	TypingWPMMin int `mapstructure:"typing_wpm_min" yaml:"typing_wpm_min"`
	TypingWPMMax int `mapstructure:"typing_wpm_max" yaml:"typing_wpm_max"`

	Debug bool `mapstructure:"debug" yaml:"debug"`
}

// SelectorsConfig is the set of ordered locator lists probed against the
// remote DOM. Ordering within each list IS the priority; the resolver takes
// the first visible match. These track the production UI and are expected to
// need adjustment when the site layout changes.
type SelectorsConfig struct {
	LoginButton  []string `mapstructure:"login_button" yaml:"login_button"`
	AppleLogin   []string `mapstructure:"apple_login" yaml:"apple_login"`
	QueryInput   []string `mapstructure:"query_input" yaml:"query_input"`
	SubmitButton []string `mapstructure:"submit_button" yaml:"submit_button"`
	Response     []string `mapstructure:"response" yaml:"response"`
	Loading      []string `mapstructure:"loading" yaml:"loading"`
	LoggedIn     []string `mapstructure:"logged_in" yaml:"logged_in"`
	UserProfile  []string `mapstructure:"user_profile" yaml:"user_profile"`
	PopupDismiss []string `mapstructure:"popup_dismiss" yaml:"popup_dismiss"`
}

// Mode is a named bundle of delays and the stability threshold, selected once
// per invocation and never mutated afterwards.
type Mode struct {
	Name           string        `mapstructure:"-" yaml:"-"`
	AfterLoadMin   time.Duration `mapstructure:"after_load_min" yaml:"after_load_min"`
	AfterLoadMax   time.Duration `mapstructure:"after_load_max" yaml:"after_load_max"`
	AfterPopupMin  time.Duration `mapstructure:"after_popup_min" yaml:"after_popup_min"`
	AfterPopupMax  time.Duration `mapstructure:"after_popup_max" yaml:"after_popup_max"`
	AfterSubmitMin time.Duration `mapstructure:"after_submit_min" yaml:"after_submit_min"`
	AfterSubmitMax time.Duration `mapstructure:"after_submit_max" yaml:"after_submit_max"`
	StableChecks   int           `mapstructure:"stable_checks" yaml:"stable_checks"`
	PollInterval   time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// TimingConfig holds the three timing presets plus the poll interval used
// when the caller asked for streaming output.
type TimingConfig struct {
	Normal             Mode          `mapstructure:"normal" yaml:"normal"`
	Fast               Mode          `mapstructure:"fast" yaml:"fast"`
	Turbo              Mode          `mapstructure:"turbo" yaml:"turbo"`
	StreamPollInterval time.Duration `mapstructure:"stream_poll_interval" yaml:"stream_poll_interval"`
}

// SelectMode picks the timing preset for this invocation. Turbo wins over
// fast when both flags are set, matching the flag precedence of the original
// command surface.
func (t TimingConfig) SelectMode(fast, turbo bool) Mode {
	switch {
	case turbo:
		m := t.Turbo
		m.Name = "TURBO"
		return m
	case fast:
		m := t.Fast
		m.Name = "FAST"
		return m
	default:
		m := t.Normal
		m.Name = "NORMAL"
		return m
	}
}

// PathsConfig locates everything the tool persists between runs.
type PathsConfig struct {
	DataDir string `mapstructure:"data_dir" yaml:"data_dir"`
}

// StateFile is the driver-shaped cookies blob.
func (p PathsConfig) StateFile() string { return filepath.Join(p.DataDir, "state.json") }

// AuthInfoFile is the small status record {authenticated, email, last_auth, provider}.
func (p PathsConfig) AuthInfoFile() string { return filepath.Join(p.DataDir, "auth_info.json") }

// ProfileDir is the persistent Chrome user-data dir, kept for fingerprint
// consistency across runs and removed by `auth clear`.
func (p PathsConfig) ProfileDir() string { return filepath.Join(p.DataDir, "browser_profile") }

// ResponsesDir is the default output directory for screenshots and images.
func (p PathsConfig) ResponsesDir() string { return filepath.Join(p.DataDir, "responses") }

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "openevidence-cli")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Site --
	v.SetDefault("site.base_url", "https://www.openevidence.com")
	v.SetDefault("site.login_url", "https://www.openevidence.com/api/auth/login")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.user_agent",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36")
	v.SetDefault("browser.width", 1280)
	v.SetDefault("browser.height", 800)
	v.SetDefault("browser.args", []string{
		"--disable-blink-features=AutomationControlled",
		"--disable-features=IsolateOrigins,site-per-process",
		"--no-sandbox",
		"--disable-setuid-sandbox",
	})
	v.SetDefault("browser.navigation_timeout", 30*time.Second)
	v.SetDefault("browser.element_timeout", 10*time.Second)
	v.SetDefault("browser.query_timeout", 2*time.Minute)
	v.SetDefault("browser.login_timeout", 2*time.Minute)
	v.SetDefault("browser.typing_wpm_min", 160)
	v.SetDefault("browser.typing_wpm_max", 240)
	v.SetDefault("browser.debug", false)

	// -- Selectors --
	v.SetDefault("selectors.login_button", []string{
		`button:has-text("Log In")`,
		`a:has-text("Log In")`,
		`[data-testid="login-button"]`,
		`.MuiButton-root:has-text("Log In")`,
	})
	v.SetDefault("selectors.apple_login", []string{
		`button:has-text("Continue with Apple")`,
		`button:has-text("Sign in with Apple")`,
		`[data-provider="apple"]`,
		`a:has-text("Apple")`,
		`.apple-button`,
		`[aria-label*="Apple"]`,
	})
	v.SetDefault("selectors.query_input", []string{
		`textarea[placeholder*="Ask"]`,
		`textarea[placeholder*="question"]`,
		`input[placeholder*="Ask"]`,
		`.MuiOutlinedInput-input`,
		`.MuiInputBase-input`,
		`[data-testid="chat-input"]`,
		`textarea`,
	})
	v.SetDefault("selectors.submit_button", []string{
		`button[type="submit"]`,
		`button:has-text("Send")`,
		`button[aria-label="Send"]`,
		`.MuiButton-contained`,
		`[data-testid="send-button"]`,
		`button svg[data-testid="SendIcon"]`,
		`button:has(svg)`,
	})
	v.SetDefault("selectors.response", []string{
		`[data-testid="response"]`,
		`[data-testid="answer"]`,
		`[data-testid="ai-message"]`,
		`[data-testid="assistant-message"]`,
		`[class*="response"]`,
		`[class*="answer"]`,
		`[class*="assistant"]`,
		`[class*="ai-message"]`,
		`[class*="bot-message"]`,
		`[class*="chat-message"]`,
		`[class*="prose"]`,
		`[class*="markdown"]`,
		`[class*="MuiBox"]`,
		`[class*="message"]:not([class*="user"])`,
		`div[class*="Message"]`,
		`article`,
		`main [class*="content"]`,
	})
	v.SetDefault("selectors.loading", []string{
		`[data-testid="loading"]`,
		`.MuiCircularProgress-root`,
		`[class*="loading"]`,
		`[class*="typing"]`,
		`[class*="thinking"]`,
	})
	v.SetDefault("selectors.logged_in", []string{
		`[data-testid="user-menu"]`,
		`[data-testid="avatar"]`,
		`button:has-text("Log Out")`,
		`a:has-text("Log Out")`,
		`.user-avatar`,
		`[class*="profile"]`,
	})
	v.SetDefault("selectors.user_profile", []string{
		`button:has-text("Log Out")`,
		`a:has-text("Log Out")`,
		`[data-testid="user-avatar"]`,
		`[class*="avatar"]`,
		`[class*="profile"]`,
		`img[alt*="profile"]`,
		`img[alt*="avatar"]`,
	})
	v.SetDefault("selectors.popup_dismiss", []string{
		`button:has-text("OK")`,
		`button:has-text("Accept")`,
		`button:has-text("I Agree")`,
		`button:has-text("Continue")`,
		`button:has-text("Got it")`,
		`button:has-text("Dismiss")`,
		`button:has-text("Close")`,
		`[aria-label="Close"]`,
		`[data-testid="close-button"]`,
		`.MuiDialog-root button`,
		`[role="dialog"] button`,
	})

	// -- Timing presets --
	v.SetDefault("timing.normal.after_load_min", 2000*time.Millisecond)
	v.SetDefault("timing.normal.after_load_max", 3000*time.Millisecond)
	v.SetDefault("timing.normal.after_popup_min", 500*time.Millisecond)
	v.SetDefault("timing.normal.after_popup_max", 1000*time.Millisecond)
	v.SetDefault("timing.normal.after_submit_min", 1000*time.Millisecond)
	v.SetDefault("timing.normal.after_submit_max", 2000*time.Millisecond)
	v.SetDefault("timing.normal.stable_checks", 3)
	v.SetDefault("timing.normal.poll_interval", 1000*time.Millisecond)

	v.SetDefault("timing.fast.after_load_min", 300*time.Millisecond)
	v.SetDefault("timing.fast.after_load_max", 500*time.Millisecond)
	v.SetDefault("timing.fast.after_popup_min", 100*time.Millisecond)
	v.SetDefault("timing.fast.after_popup_max", 200*time.Millisecond)
	v.SetDefault("timing.fast.after_submit_min", 200*time.Millisecond)
	v.SetDefault("timing.fast.after_submit_max", 400*time.Millisecond)
	v.SetDefault("timing.fast.stable_checks", 1)
	v.SetDefault("timing.fast.poll_interval", 500*time.Millisecond)

	v.SetDefault("timing.turbo.after_load_min", 100*time.Millisecond)
	v.SetDefault("timing.turbo.after_load_max", 200*time.Millisecond)
	v.SetDefault("timing.turbo.after_popup_min", 50*time.Millisecond)
	v.SetDefault("timing.turbo.after_popup_max", 100*time.Millisecond)
	v.SetDefault("timing.turbo.after_submit_min", 100*time.Millisecond)
	v.SetDefault("timing.turbo.after_submit_max", 200*time.Millisecond)
	v.SetDefault("timing.turbo.stable_checks", 1)
	v.SetDefault("timing.turbo.poll_interval", 300*time.Millisecond)

	v.SetDefault("timing.stream_poll_interval", 200*time.Millisecond)

	// -- Paths --
	v.SetDefault("paths.data_dir", defaultDataDir())
}

func defaultDataDir() string {
	home, err := homedir.Dir()
	if err != nil {
		return ".openevidence-cli"
	}
	return filepath.Join(home, ".openevidence-cli")
}

// NewFromViper creates a validated configuration instance from a viper object.
func NewFromViper(v *viper.Viper) (*Config, error) {
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
	if c.Site.BaseURL == "" {
		return fmt.Errorf("site.base_url is required")
	}
	if c.Paths.DataDir == "" {
		return fmt.Errorf("paths.data_dir is required")
	}
	if len(c.Selectors.QueryInput) == 0 {
		return fmt.Errorf("selectors.query_input must contain at least one locator")
	}
	if len(c.Selectors.Response) == 0 {
		return fmt.Errorf("selectors.response must contain at least one locator")
	}
	for _, m := range []Mode{c.Timing.Normal, c.Timing.Fast, c.Timing.Turbo} {
		if m.StableChecks <= 0 {
			return fmt.Errorf("timing: stable_checks must be a positive integer")
		}
		if m.PollInterval <= 0 {
			return fmt.Errorf("timing: poll_interval must be a positive duration")
		}
	}
	if c.Browser.TypingWPMMin <= 0 || c.Browser.TypingWPMMax < c.Browser.TypingWPMMin {
		return fmt.Errorf("browser: typing_wpm range is invalid")
	}
	return nil
}
