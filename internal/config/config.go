package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"
	_ "time/tzdata" // embedded zoneinfo, boards often ship without it

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Tempo           TempoConfig     `yaml:"tempo"`
	Refresh         RefreshConfig   `yaml:"refresh"`
	Backlight       BacklightConfig `yaml:"backlight"`
	Display         DisplayConfig   `yaml:"display"`
	Clock           ClockConfig     `yaml:"clock"`
	Update          UpdateConfig    `yaml:"update"`
	Database        DatabaseConfig  `yaml:"database"`
	Ledger          LedgerConfig    `yaml:"ledger"`
	MQTT            MQTTConfig      `yaml:"mqtt"`
	HTTP            HTTPConfig      `yaml:"http"`
	Log             LogConfig       `yaml:"log"`
	Script          string          `yaml:"script"`
	ShutdownTimeout Duration        `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops
}

// TempoConfig contains the tariff API endpoints
type TempoConfig struct {
	TodayURL    string   `yaml:"today_url"`
	TomorrowURL string   `yaml:"tomorrow_url"`
	Timeout     Duration `yaml:"timeout"` // HTTP timeout for a single color request
}

// RefreshConfig controls the main loop cadence
type RefreshConfig struct {
	Interval Duration `yaml:"interval"` // Time between two redraws (default: 1h)
	Tick     Duration `yaml:"tick"`     // Loop sleep between iterations (default: 100ms)
}

// BacklightConfig contains the backlight line and dimming settings
type BacklightConfig struct {
	Pin          string   `yaml:"pin"` // periph.io pin name, empty = no hardware
	MaxSteps     *int     `yaml:"max_steps"` // nil = 10, 0 = never dim
	DimmingDelay Duration `yaml:"dimming_delay"`
	PulseWidth   Duration `yaml:"pulse_width"`
	PulseGap     Duration `yaml:"pulse_gap"`
}

// Steps returns the dimmest brightness step (default: 10)
func (c *BacklightConfig) Steps() int {
	if c.MaxSteps == nil {
		return 10
	}
	return *c.MaxSteps
}

// DisplayConfig describes the display surface
type DisplayConfig struct {
	Width     int    `yaml:"width"`
	Height    int    `yaml:"height"`
	Border    int    `yaml:"border"`
	Separator int    `yaml:"separator"`
	Output    string `yaml:"output"` // PNG file written on every redraw, "none" = disabled
}

// ClockConfig contains time synchronization settings
type ClockConfig struct {
	NTPServer    string   `yaml:"ntp_server"`
	Timezone     string   `yaml:"timezone"`
	SyncInterval Duration `yaml:"sync_interval"`
	Timeout      Duration `yaml:"timeout"`
}

// UpdateConfig contains self-update settings
type UpdateConfig struct {
	Enabled bool     `yaml:"enabled"`
	Owner   string   `yaml:"owner"`
	Repo    string   `yaml:"repo"`
	APIURL  string   `yaml:"api_url"`
	Timeout Duration `yaml:"timeout"`
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LedgerConfig contains event ledger settings
type LedgerConfig struct {
	Enabled         *bool    `yaml:"enabled"` // nil = enabled
	Retention       Duration `yaml:"retention"`
	CleanupInterval Duration `yaml:"cleanup_interval"`
}

// IsEnabled returns whether the ledger is enabled (default: true)
func (c *LedgerConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// MQTTConfig contains MQTT publication settings
type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// HTTPConfig contains status server settings
type HTTPConfig struct {
	Enabled    *bool   `yaml:"enabled"` // nil = enabled
	Host       string  `yaml:"host"`
	Port       int     `yaml:"port"`
	RefreshRPS float64 `yaml:"refresh_rps"` // Rate limit for manual refresh requests
}

// IsEnabled returns whether the status server is enabled (default: true)
func (c *HTTPConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// Addr returns the listen address
func (c *HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`
	JSON   bool   `yaml:"json"`
	Colors bool   `yaml:"colors"`
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads and parses the configuration file.
// A missing file is not an error: the defaults describe a working headless setup.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		expanded := expandEnvVars(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./tempod.sqlite"
	}

	// Tempo API defaults
	if cfg.Tempo.TodayURL == "" {
		cfg.Tempo.TodayURL = "https://www.api-couleur-tempo.fr/api/jourTempo/today"
	}
	if cfg.Tempo.TomorrowURL == "" {
		cfg.Tempo.TomorrowURL = "https://www.api-couleur-tempo.fr/api/jourTempo/tomorrow"
	}
	if cfg.Tempo.Timeout == 0 {
		cfg.Tempo.Timeout = Duration(10 * time.Second)
	}

	// Loop defaults
	if cfg.Refresh.Interval == 0 {
		cfg.Refresh.Interval = Duration(time.Hour)
	}
	if cfg.Refresh.Tick == 0 {
		cfg.Refresh.Tick = Duration(100 * time.Millisecond)
	}

	// Backlight defaults
	if cfg.Backlight.DimmingDelay == 0 {
		cfg.Backlight.DimmingDelay = Duration(5 * time.Minute)
	}
	if cfg.Backlight.PulseWidth == 0 {
		cfg.Backlight.PulseWidth = Duration(200 * time.Microsecond)
	}
	if cfg.Backlight.PulseGap == 0 {
		cfg.Backlight.PulseGap = Duration(time.Millisecond)
	}

	// Display defaults (LilyGo T-Display S3 panel in landscape)
	if cfg.Display.Width == 0 {
		cfg.Display.Width = 320
	}
	if cfg.Display.Height == 0 {
		cfg.Display.Height = 170
	}
	if cfg.Display.Border == 0 {
		cfg.Display.Border = 4
	}
	if cfg.Display.Separator == 0 {
		cfg.Display.Separator = 4
	}
	if cfg.Display.Output == "" {
		cfg.Display.Output = "./tempo.png"
	}

	// Clock defaults
	if cfg.Clock.NTPServer == "" {
		cfg.Clock.NTPServer = "pool.ntp.org"
	}
	if cfg.Clock.Timezone == "" {
		cfg.Clock.Timezone = "Europe/Paris"
	}
	if cfg.Clock.SyncInterval == 0 {
		cfg.Clock.SyncInterval = Duration(6 * time.Hour)
	}
	if cfg.Clock.Timeout == 0 {
		cfg.Clock.Timeout = Duration(5 * time.Second)
	}

	// Update defaults
	if cfg.Update.APIURL == "" {
		cfg.Update.APIURL = "https://api.github.com"
	}
	if cfg.Update.Timeout == 0 {
		cfg.Update.Timeout = Duration(60 * time.Second)
	}

	// Ledger defaults
	if cfg.Ledger.Retention == 0 {
		cfg.Ledger.Retention = Duration(30 * 24 * time.Hour)
	}
	if cfg.Ledger.CleanupInterval == 0 {
		cfg.Ledger.CleanupInterval = Duration(24 * time.Hour)
	}

	// MQTT defaults
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "tempod"
	}
	if cfg.MQTT.Topic == "" {
		cfg.MQTT.Topic = "tempo"
	}

	// Status server defaults
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 9090
	}
	if cfg.HTTP.Host == "" {
		cfg.HTTP.Host = "0.0.0.0"
	}
	if cfg.HTTP.RefreshRPS == 0 {
		cfg.HTTP.RefreshRPS = 0.2
	}

	// General shutdown timeout
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}
}

// Validate checks settings that have no sensible fallback
func (cfg *Config) Validate() error {
	var errs []string

	if steps := cfg.Backlight.Steps(); steps < 0 {
		errs = append(errs, fmt.Sprintf("backlight.max_steps cannot be negative, got: %d", steps))
	}
	if cfg.Backlight.DimmingDelay < 0 {
		errs = append(errs, fmt.Sprintf("backlight.dimming_delay cannot be negative, got: %s", cfg.Backlight.DimmingDelay.Duration()))
	}
	if cfg.Refresh.Tick <= 0 {
		errs = append(errs, fmt.Sprintf("refresh.tick must be positive, got: %s", cfg.Refresh.Tick.Duration()))
	}
	if cfg.Refresh.Tick.Duration() >= cfg.Refresh.Interval.Duration() {
		errs = append(errs, "refresh.tick must be shorter than refresh.interval")
	}
	if cfg.Clock.SyncInterval <= 0 {
		errs = append(errs, fmt.Sprintf("clock.sync_interval must be positive, got: %s", cfg.Clock.SyncInterval.Duration()))
	}
	if cfg.Ledger.IsEnabled() && cfg.Ledger.CleanupInterval <= 0 {
		errs = append(errs, fmt.Sprintf("ledger.cleanup_interval must be positive, got: %s", cfg.Ledger.CleanupInterval.Duration()))
	}
	if cfg.Display.Width <= 2*cfg.Display.Border+cfg.Display.Separator || cfg.Display.Height <= 2*cfg.Display.Border {
		errs = append(errs, fmt.Sprintf("display %dx%d is too small for border %d and separator %d",
			cfg.Display.Width, cfg.Display.Height, cfg.Display.Border, cfg.Display.Separator))
	}
	if cfg.Update.Enabled && (cfg.Update.Owner == "" || cfg.Update.Repo == "") {
		errs = append(errs, "update.owner and update.repo are required when update.enabled is true")
	}
	if cfg.MQTT.Enabled && cfg.MQTT.Broker == "" {
		errs = append(errs, "mqtt.broker is required when mqtt.enabled is true")
	}
	if cfg.HTTP.Port < 1 || cfg.HTTP.Port > 65535 {
		errs = append(errs, fmt.Sprintf("http.port must be between 1-65535, got: %d", cfg.HTTP.Port))
	}
	if _, err := time.LoadLocation(cfg.Clock.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("clock.timezone %q is invalid: %v", cfg.Clock.Timezone, err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// OutputEnabled reports whether frames are written to a PNG file
func (c *DisplayConfig) OutputEnabled() bool {
	return c.Output != "" && c.Output != "none"
}

// GetShutdownTimeout returns the shutdown timeout
func (cfg *Config) GetShutdownTimeout() time.Duration {
	return cfg.ShutdownTimeout.Duration()
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	// Match ${VAR} or ${VAR:default}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}
