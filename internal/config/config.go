// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger       LoggerConfig       `mapstructure:"logger" yaml:"logger"`
	Browser      BrowserConfig      `mapstructure:"browser" yaml:"browser"`
	Throttle     ThrottleConfig     `mapstructure:"throttle" yaml:"throttle"`
	Breaks       BreaksConfig       `mapstructure:"breaks" yaml:"breaks"`
	Executor     ExecutorConfig     `mapstructure:"executor" yaml:"executor"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator" yaml:"orchestrator"`
	Classifier   ClassifierConfig   `mapstructure:"classifier" yaml:"classifier"`
	Simulate     SimulateConfig     `mapstructure:"simulate" yaml:"simulate"`
	Store        StoreConfig        `mapstructure:"store" yaml:"store"`
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

// ColorConfig names the console color of each log level.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig configures the attachment to an already running browser.
// Launching the browser and logging in are left to the user.
type BrowserConfig struct {
	// DevToolsURL is the remote debugging endpoint, e.g. ws://127.0.0.1:9222.
	DevToolsURL string `mapstructure:"devtools_url" yaml:"devtools_url"`
	// TargetURL selects the open page whose address contains it. Empty takes
	// the first page.
	TargetURL string `mapstructure:"target_url" yaml:"target_url"`
	// ContainerSelector scopes enumeration and scrolling, typically a modal list.
	ContainerSelector string `mapstructure:"container_selector" yaml:"container_selector"`
	// CandidateSelector picks the candidate controls inside the container.
	CandidateSelector string `mapstructure:"candidate_selector" yaml:"candidate_selector"`
	// RowSelector finds the enclosing row of a candidate for context signals.
	RowSelector   string        `mapstructure:"row_selector" yaml:"row_selector"`
	ScrollMin     int           `mapstructure:"scroll_min" yaml:"scroll_min"`
	ScrollMax     int           `mapstructure:"scroll_max" yaml:"scroll_max"`
	ScrollRate    float64       `mapstructure:"scroll_rate" yaml:"scroll_rate"`
	ActionTimeout time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
}

// ThrottleConfig holds the quota windows.
type ThrottleConfig struct {
	DailyLimit    int           `mapstructure:"daily_limit" yaml:"daily_limit"`
	HourlyLimit   int           `mapstructure:"hourly_limit" yaml:"hourly_limit"`
	LifetimeLimit int           `mapstructure:"lifetime_limit" yaml:"lifetime_limit"`
	Window        time.Duration `mapstructure:"window" yaml:"window"`
	IntervalMin   time.Duration `mapstructure:"interval_min" yaml:"interval_min"`
	IntervalMax   time.Duration `mapstructure:"interval_max" yaml:"interval_max"`
	// DailyRollover resets the daily quota when a session crosses midnight.
	DailyRollover bool `mapstructure:"daily_rollover" yaml:"daily_rollover"`
	// StateFile carries the quota history between sessions. Empty keeps it
	// in memory only.
	StateFile string `mapstructure:"state_file" yaml:"state_file"`
}

// BreaksConfig holds the rest schedule.
type BreaksConfig struct {
	ShortEvery       int           `mapstructure:"short_every" yaml:"short_every"`
	ShortMin         time.Duration `mapstructure:"short_min" yaml:"short_min"`
	ShortMax         time.Duration `mapstructure:"short_max" yaml:"short_max"`
	LongEvery        int           `mapstructure:"long_every" yaml:"long_every"`
	LongMin          time.Duration `mapstructure:"long_min" yaml:"long_min"`
	LongMax          time.Duration `mapstructure:"long_max" yaml:"long_max"`
	ProgressInterval time.Duration `mapstructure:"progress_interval" yaml:"progress_interval"`
}

// ExecutorConfig holds the pacing around a single interaction.
type ExecutorConfig struct {
	ObserveMin     time.Duration `mapstructure:"observe_min" yaml:"observe_min"`
	ObserveMax     time.Duration `mapstructure:"observe_max" yaml:"observe_max"`
	ReactionMin    time.Duration `mapstructure:"reaction_min" yaml:"reaction_min"`
	ReactionMax    time.Duration `mapstructure:"reaction_max" yaml:"reaction_max"`
	RetryMin       time.Duration `mapstructure:"retry_min" yaml:"retry_min"`
	RetryMax       time.Duration `mapstructure:"retry_max" yaml:"retry_max"`
	ConfirmTimeout time.Duration `mapstructure:"confirm_timeout" yaml:"confirm_timeout"`
}

// OrchestratorConfig holds the loop pacing.
type OrchestratorConfig struct {
	// MaxEmptyScans ends the session after this many consecutive passes
	// without a classified element. Zero never gives up.
	MaxEmptyScans      int           `mapstructure:"max_empty_scans" yaml:"max_empty_scans"`
	EmptyScanDelayMin  time.Duration `mapstructure:"empty_scan_delay_min" yaml:"empty_scan_delay_min"`
	EmptyScanDelayMax  time.Duration `mapstructure:"empty_scan_delay_max" yaml:"empty_scan_delay_max"`
	BetweenDelayMin    time.Duration `mapstructure:"between_delay_min" yaml:"between_delay_min"`
	BetweenDelayMax    time.Duration `mapstructure:"between_delay_max" yaml:"between_delay_max"`
	RestDelayMin       time.Duration `mapstructure:"rest_delay_min" yaml:"rest_delay_min"`
	RestDelayMax       time.Duration `mapstructure:"rest_delay_max" yaml:"rest_delay_max"`
	TelemetryEnabled   bool          `mapstructure:"telemetry_enabled" yaml:"telemetry_enabled"`
	TelemetryQueueSize int           `mapstructure:"telemetry_queue_size" yaml:"telemetry_queue_size"`
}

// ClassifierConfig overrides parts of the built in lexicon. Empty lists keep
// the defaults.
type ClassifierConfig struct {
	Pending           []string            `mapstructure:"pending" yaml:"pending"`
	PendingClasses    []string            `mapstructure:"pending_classes" yaml:"pending_classes"`
	PendingAttributes map[string][]string `mapstructure:"pending_attributes" yaml:"pending_attributes"`
	Active            []string            `mapstructure:"active" yaml:"active"`
	CallToAction      []string            `mapstructure:"call_to_action" yaml:"call_to_action"`
	Close             []string            `mapstructure:"close" yaml:"close"`
	CloseWords        []string            `mapstructure:"close_words" yaml:"close_words"`
	CloseClasses      []string            `mapstructure:"close_classes" yaml:"close_classes"`
}

// StoreConfig selects the PostgreSQL repository for quota history. It takes
// precedence over throttle.state_file when DatabaseURL is set.
type StoreConfig struct {
	DatabaseURL string `mapstructure:"database_url" yaml:"database_url"`
	// Account keys the stored history, so several accounts can share a database.
	Account string `mapstructure:"account" yaml:"account"`
}

// SimulateConfig shapes the in-memory list used by the simulate command.
type SimulateConfig struct {
	Rows     int   `mapstructure:"rows" yaml:"rows"`
	PageSize int   `mapstructure:"page_size" yaml:"page_size"`
	Seed     int64 `mapstructure:"seed" yaml:"seed"`
	// Ratios of rows starting as already followed and as awaiting approval.
	ActiveRatio  float64 `mapstructure:"active_ratio" yaml:"active_ratio"`
	PendingRatio float64 `mapstructure:"pending_ratio" yaml:"pending_ratio"`
	// PrivateRatio of followable rows turn Pending instead of Active.
	PrivateRatio float64 `mapstructure:"private_ratio" yaml:"private_ratio"`
	// ConfirmLag is the read after a click on which the new label shows.
	ConfirmLag int `mapstructure:"confirm_lag" yaml:"confirm_lag"`
	// FailureRate of clicks that never change the row.
	FailureRate float64 `mapstructure:"failure_rate" yaml:"failure_rate"`
	// Fast runs on a fake clock so the whole session completes instantly.
	Fast bool `mapstructure:"fast" yaml:"fast"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for every configuration parameter.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "cadence")
	v.SetDefault("logger.log_file", "cadence.log")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "red")

	// -- Browser --
	v.SetDefault("browser.devtools_url", "ws://127.0.0.1:9222")
	v.SetDefault("browser.target_url", "")
	v.SetDefault("browser.container_selector", "div[role='dialog']")
	v.SetDefault("browser.candidate_selector", "button")
	v.SetDefault("browser.row_selector", "li, div[role='listitem'], div[role='row']")
	v.SetDefault("browser.scroll_min", 300)
	v.SetDefault("browser.scroll_max", 700)
	v.SetDefault("browser.scroll_rate", 1.0)
	v.SetDefault("browser.action_timeout", "15s")

	// -- Throttle --
	v.SetDefault("throttle.daily_limit", 150)
	v.SetDefault("throttle.hourly_limit", 30)
	v.SetDefault("throttle.lifetime_limit", 7500)
	v.SetDefault("throttle.window", "1h")
	v.SetDefault("throttle.interval_min", "60s")
	v.SetDefault("throttle.interval_max", "120s")
	v.SetDefault("throttle.daily_rollover", true)
	v.SetDefault("throttle.state_file", "")

	// -- Breaks --
	v.SetDefault("breaks.short_every", 10)
	v.SetDefault("breaks.short_min", "3m")
	v.SetDefault("breaks.short_max", "7m")
	v.SetDefault("breaks.long_every", 50)
	v.SetDefault("breaks.long_min", "20m")
	v.SetDefault("breaks.long_max", "40m")
	v.SetDefault("breaks.progress_interval", "30s")

	// -- Executor --
	v.SetDefault("executor.observe_min", "1800ms")
	v.SetDefault("executor.observe_max", "4200ms")
	v.SetDefault("executor.reaction_min", "1800ms")
	v.SetDefault("executor.reaction_max", "3200ms")
	v.SetDefault("executor.retry_min", "1500ms")
	v.SetDefault("executor.retry_max", "3000ms")
	v.SetDefault("executor.confirm_timeout", "30s")

	// -- Orchestrator --
	v.SetDefault("orchestrator.max_empty_scans", 25)
	v.SetDefault("orchestrator.empty_scan_delay_min", "1200ms")
	v.SetDefault("orchestrator.empty_scan_delay_max", "2500ms")
	v.SetDefault("orchestrator.between_delay_min", "800ms")
	v.SetDefault("orchestrator.between_delay_max", "1600ms")
	v.SetDefault("orchestrator.rest_delay_min", "1500ms")
	v.SetDefault("orchestrator.rest_delay_max", "3000ms")
	v.SetDefault("orchestrator.telemetry_enabled", true)
	v.SetDefault("orchestrator.telemetry_queue_size", 256)

	// -- Simulate --
	v.SetDefault("simulate.rows", 60)
	v.SetDefault("simulate.page_size", 12)
	v.SetDefault("simulate.seed", 1)
	v.SetDefault("simulate.active_ratio", 0.15)
	v.SetDefault("simulate.pending_ratio", 0.05)
	v.SetDefault("simulate.private_ratio", 0.2)
	v.SetDefault("simulate.confirm_lag", 1)
	v.SetDefault("simulate.failure_rate", 0.05)
	v.SetDefault("simulate.fast", true)

	// -- Store --
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.account", "default")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
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
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	add(c.Throttle.Validate())
	add(c.Breaks.Validate())
	add(c.Executor.Validate())
	add(c.Orchestrator.Validate())
	add(c.Simulate.Validate())
	if c.Browser.ScrollMin <= 0 || c.Browser.ScrollMax < c.Browser.ScrollMin {
		add(fmt.Errorf("browser.scroll_min and browser.scroll_max must form a positive range"))
	}
	if c.Browser.ScrollRate <= 0 {
		add(fmt.Errorf("browser.scroll_rate must be positive"))
	}
	if c.Store.DatabaseURL != "" && strings.TrimSpace(c.Store.Account) == "" {
		add(fmt.Errorf("store.account is required when store.database_url is set"))
	}
	switch strings.ToLower(c.Logger.Format) {
	case "console", "json":
	default:
		add(fmt.Errorf("logger.format must be console or json, got %q", c.Logger.Format))
	}
	return errors.Join(errs...)
}

// Validate checks the quota settings.
func (t ThrottleConfig) Validate() error {
	if t.DailyLimit <= 0 || t.HourlyLimit <= 0 || t.LifetimeLimit <= 0 {
		return fmt.Errorf("throttle limits must be positive integers")
	}
	if t.Window <= 0 {
		return fmt.Errorf("throttle.window must be a positive duration")
	}
	return checkRange("throttle.interval", t.IntervalMin, t.IntervalMax)
}

// Validate checks the rest schedule. A zero threshold disables that break.
func (b BreaksConfig) Validate() error {
	if b.ShortEvery < 0 || b.LongEvery < 0 {
		return fmt.Errorf("break thresholds must not be negative")
	}
	if b.ShortEvery > 0 && b.LongEvery > 0 && b.LongEvery <= b.ShortEvery {
		return fmt.Errorf("breaks.long_every must be greater than breaks.short_every")
	}
	if err := checkRange("breaks.short", b.ShortMin, b.ShortMax); err != nil {
		return err
	}
	return checkRange("breaks.long", b.LongMin, b.LongMax)
}

// Validate checks the interaction pacing.
func (e ExecutorConfig) Validate() error {
	return errors.Join(
		checkRange("executor.observe", e.ObserveMin, e.ObserveMax),
		checkRange("executor.reaction", e.ReactionMin, e.ReactionMax),
		checkRange("executor.retry", e.RetryMin, e.RetryMax),
	)
}

// Validate checks the loop pacing.
func (o OrchestratorConfig) Validate() error {
	if o.MaxEmptyScans < 0 {
		return fmt.Errorf("orchestrator.max_empty_scans must not be negative")
	}
	return errors.Join(
		checkRange("orchestrator.empty_scan_delay", o.EmptyScanDelayMin, o.EmptyScanDelayMax),
		checkRange("orchestrator.between_delay", o.BetweenDelayMin, o.BetweenDelayMax),
		checkRange("orchestrator.rest_delay", o.RestDelayMin, o.RestDelayMax),
	)
}

// Validate checks the simulation shape.
func (s SimulateConfig) Validate() error {
	if s.Rows < 0 || s.PageSize <= 0 {
		return fmt.Errorf("simulate.rows must not be negative and simulate.page_size must be positive")
	}
	for name, ratio := range map[string]float64{
		"active_ratio":  s.ActiveRatio,
		"pending_ratio": s.PendingRatio,
		"private_ratio": s.PrivateRatio,
		"failure_rate":  s.FailureRate,
	} {
		if ratio < 0 || ratio > 1 {
			return fmt.Errorf("simulate.%s must be between 0.0 and 1.0", name)
		}
	}
	if s.ActiveRatio+s.PendingRatio > 1 {
		return fmt.Errorf("simulate.active_ratio and simulate.pending_ratio must not sum above 1.0")
	}
	return nil
}

func checkRange(name string, min, max time.Duration) error {
	if min < 0 || max < min {
		return fmt.Errorf("%s_min and %s_max must form a non negative range, got [%s, %s]", name, name, min, max)
	}
	return nil
}
