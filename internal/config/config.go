package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"
	"unicode"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Syncbot  SyncbotConfig  `mapstructure:"syncbot" yaml:"syncbot"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database" validate:"required"`
	Notion   NotionConfig   `mapstructure:"notion" yaml:"notion"`
	Google   GoogleConfig   `mapstructure:"google" yaml:"google"`
	Worker   WorkerConfig   `mapstructure:"worker" yaml:"worker"`
	Runner   RunnerConfig   `mapstructure:"runner" yaml:"runner"`
	Report   ReportConfig   `mapstructure:"report" yaml:"report"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
}

// SyncbotConfig identifies this bot instance
type SyncbotConfig struct {
	Prefix  string `mapstructure:"prefix" yaml:"prefix"` // Optional: derived from hostname if not specified
	Version string `mapstructure:"version" yaml:"version"`
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host     string `mapstructure:"host" yaml:"host" validate:"required"`
	Port     int    `mapstructure:"port" yaml:"port" validate:"required,min=1,max=65535"`
	User     string `mapstructure:"user" yaml:"user" validate:"required"`
	Password string `mapstructure:"password" yaml:"password" validate:"required"`
	Database string `mapstructure:"database" yaml:"database" validate:"required"`
	Schema   string `mapstructure:"schema" yaml:"schema"`
	SSLMode  string `mapstructure:"sslmode" yaml:"sslmode"`
}

// NotionConfig holds Notion API settings
type NotionConfig struct {
	BaseURL      string `mapstructure:"base_url" yaml:"base_url" validate:"required,url"`
	APIVersion   string `mapstructure:"api_version" yaml:"api_version" validate:"required"`
	MaxRetry     int    `mapstructure:"max_retry" yaml:"max_retry" validate:"min=1"`
	RetryDelayMs int    `mapstructure:"retry_delay_ms" yaml:"retry_delay_ms" validate:"min=0"`
	IntervalMs   int    `mapstructure:"interval_ms" yaml:"interval_ms" validate:"min=0"`
}

// GoogleConfig holds Google OAuth client and Calendar API settings
type GoogleConfig struct {
	ClientID     string            `mapstructure:"client_id" yaml:"client_id"`
	ClientSecret string            `mapstructure:"client_secret" yaml:"client_secret"`
	Callbacks    map[string]string `mapstructure:"callbacks" yaml:"callbacks"` // redirect url version -> callback url
	Endpoint     string            `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	TokenURL     string            `mapstructure:"token_url" yaml:"token_url,omitempty"`
	MaxRetry     int               `mapstructure:"max_retry" yaml:"max_retry" validate:"min=1"`
	RetryDelayMs int               `mapstructure:"retry_delay_ms" yaml:"retry_delay_ms" validate:"min=0"`
	IntervalMs   int               `mapstructure:"interval_ms" yaml:"interval_ms" validate:"min=0"`
}

// WorkerConfig holds per-run sync settings
type WorkerConfig struct {
	Timeout               time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"min=0"`
	MinDate               string        `mapstructure:"min_date" yaml:"min_date" validate:"required"`
	MaxDate               string        `mapstructure:"max_date" yaml:"max_date" validate:"required"`
	ErrorLogRetentionDays int           `mapstructure:"error_log_retention_days" yaml:"error_log_retention_days" validate:"min=1"`
	IgnoreCalendars       []string      `mapstructure:"ignore_calendars" yaml:"ignore_calendars"`
}

// RunnerConfig holds worker pool settings
type RunnerConfig struct {
	Workers        map[string]int `mapstructure:"workers" yaml:"workers"` // plan -> loop count, "init" for first syncs
	IdlePollMs     int            `mapstructure:"idle_poll_ms" yaml:"idle_poll_ms" validate:"min=1"`
	ReportInterval string         `mapstructure:"report_interval" yaml:"report_interval"`
	Stop           bool           `mapstructure:"stop" yaml:"stop"`
}

// ReportConfig holds the result collector settings
type ReportConfig struct {
	BackendURL    string        `mapstructure:"backend_url" yaml:"backend_url" validate:"omitempty,url"`
	ControlSecret string        `mapstructure:"control_secret" yaml:"control_secret"`
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level      string `mapstructure:"level" yaml:"level" validate:"oneof=debug info warn error"`
	Format     string `mapstructure:"format" yaml:"format" validate:"oneof=text json"`
	File       string `mapstructure:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
}

// ConnectionString returns the PostgreSQL connection string
func (d *DatabaseConfig) ConnectionString() string {
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}
	connStr := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, sslMode,
	)
	if d.Schema != "" {
		connStr += "&search_path=" + d.Schema + ",public"
	}
	return connStr
}

// IsIgnoredCalendar reports whether a Google calendar id matches one of the ignore patterns
func (w *WorkerConfig) IsIgnoredCalendar(googleCalendarID string) bool {
	for _, pattern := range w.IgnoreCalendars {
		if ok, _ := doublestar.Match(pattern, googleCalendarID); ok {
			return true
		}
	}
	return false
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Syncbot: SyncbotConfig{
			Version: "dev",
		},
		Database: DatabaseConfig{
			Port:    5432,
			SSLMode: "require",
		},
		Notion: NotionConfig{
			BaseURL:      "https://api.notion.com/v1",
			APIVersion:   "2022-06-28",
			MaxRetry:     3,
			RetryDelayMs: 3000,
			IntervalMs:   200,
		},
		Google: GoogleConfig{
			MaxRetry:     3,
			RetryDelayMs: 3000,
			IntervalMs:   200,
		},
		Worker: WorkerConfig{
			Timeout:               time.Hour,
			MinDate:               "2022-01-01T01:00:00+09:00",
			MaxDate:               "2024-12-31T01:00:00+09:00",
			ErrorLogRetentionDays: 21,
			IgnoreCalendars: []string{
				"*#holiday@group.v.calendar.google.com",
				"*#contacts@group.v.calendar.google.com",
			},
		},
		Runner: RunnerConfig{
			Workers: map[string]int{
				"init":    5,
				"free":    10,
				"pro":     10,
				"sponsor": 0,
			},
			IdlePollMs:     5000,
			ReportInterval: "@every 1m",
		},
		Report: ReportConfig{
			Timeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
	}
}

func setDefaults(v *viper.Viper) {
	defaults := DefaultConfig()
	v.SetDefault("syncbot.version", defaults.Syncbot.Version)
	v.SetDefault("database.port", defaults.Database.Port)
	v.SetDefault("database.sslmode", defaults.Database.SSLMode)
	v.SetDefault("notion.base_url", defaults.Notion.BaseURL)
	v.SetDefault("notion.api_version", defaults.Notion.APIVersion)
	v.SetDefault("notion.max_retry", defaults.Notion.MaxRetry)
	v.SetDefault("notion.retry_delay_ms", defaults.Notion.RetryDelayMs)
	v.SetDefault("notion.interval_ms", defaults.Notion.IntervalMs)
	v.SetDefault("google.max_retry", defaults.Google.MaxRetry)
	v.SetDefault("google.retry_delay_ms", defaults.Google.RetryDelayMs)
	v.SetDefault("google.interval_ms", defaults.Google.IntervalMs)
	v.SetDefault("worker.timeout", defaults.Worker.Timeout)
	v.SetDefault("worker.min_date", defaults.Worker.MinDate)
	v.SetDefault("worker.max_date", defaults.Worker.MaxDate)
	v.SetDefault("worker.error_log_retention_days", defaults.Worker.ErrorLogRetentionDays)
	v.SetDefault("worker.ignore_calendars", defaults.Worker.IgnoreCalendars)
	v.SetDefault("runner.workers", defaults.Runner.Workers)
	v.SetDefault("runner.idle_poll_ms", defaults.Runner.IdlePollMs)
	v.SetDefault("runner.report_interval", defaults.Runner.ReportInterval)
	v.SetDefault("report.timeout", defaults.Report.Timeout)
	v.SetDefault("log.level", defaults.Log.Level)
	v.SetDefault("log.format", defaults.Log.Format)
	v.SetDefault("log.max_size_mb", defaults.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", defaults.Log.MaxBackups)
	v.SetDefault("log.max_age_days", defaults.Log.MaxAgeDays)
}

func newViper(configPath string) *viper.Viper {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(getConfigDir())
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("SYNCBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	return v
}

// Load reads configuration from file and environment
func Load(configPath string) (*Config, error) {
	v := newViper(configPath)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is okay if we have environment variables
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg.Database.Password = os.ExpandEnv(cfg.Database.Password)
	cfg.Report.ControlSecret = os.ExpandEnv(cfg.Report.ControlSecret)
	cfg.Google.ClientSecret = os.ExpandEnv(cfg.Google.ClientSecret)
	cfg.Log.File = expandPath(cfg.Log.File)

	if cfg.Syncbot.Prefix == "" {
		host, _ := os.Hostname()
		cfg.Syncbot.Prefix = SanitizeIdentifier(host)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks struct constraints and window dates
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	minDate, err := time.Parse(time.RFC3339, cfg.Worker.MinDate)
	if err != nil {
		return fmt.Errorf("config validation failed: worker.min_date: %w", err)
	}
	maxDate, err := time.Parse(time.RFC3339, cfg.Worker.MaxDate)
	if err != nil {
		return fmt.Errorf("config validation failed: worker.max_date: %w", err)
	}
	if !minDate.Before(maxDate) {
		return fmt.Errorf("config validation failed: worker.min_date must be before worker.max_date")
	}

	for _, pattern := range cfg.Worker.IgnoreCalendars {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("config validation failed: invalid ignore_calendars pattern %q", pattern)
		}
	}
	return nil
}

// getConfigDir returns the appropriate config directory for the OS
func getConfigDir() string {
	switch runtime.GOOS {
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "syncbot")
		}
		return filepath.Join(os.Getenv("USERPROFILE"), ".config", "syncbot")
	default:
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			return filepath.Join(xdgConfig, "syncbot")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "syncbot")
	}
}

// DefaultPath returns the config file location used when --config is not set
func DefaultPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// expandPath expands ~ and environment variables in a path
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		home, _ := os.UserHomeDir()
		path = filepath.Join(home, path[1:])
	}
	return os.ExpandEnv(path)
}

var (
	invalidIdentChars = regexp.MustCompile(`[^a-z0-9_]`)
	repeatedUnderline = regexp.MustCompile(`_+`)
)

// SanitizeIdentifier converts a host or instance name into a worker id prefix.
// Rules:
// - Lowercase only
// - Starts with a letter
// - Contains only letters, digits, underscores
// - Spaces, hyphens and dots become underscores
// - Max 63 characters
func SanitizeIdentifier(name string) string {
	name = strings.ToLower(name)

	name = strings.NewReplacer(" ", "_", "-", "_", ".", "_").Replace(name)
	name = invalidIdentChars.ReplaceAllString(name, "")
	name = repeatedUnderline.ReplaceAllString(name, "_")
	name = strings.Trim(name, "_")

	if len(name) == 0 {
		name = "syncbot"
	} else if unicode.IsDigit(rune(name[0])) {
		name = "syncbot_" + name
	}

	if len(name) > 63 {
		name = name[:63]
		name = strings.TrimRight(name, "_")
	}

	return name
}
