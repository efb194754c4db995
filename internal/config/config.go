// ABOUTME: Configuration loading and validation for the invitation gate
// ABOUTME: YAML files with ${VAR} expansion, GATE_* env overrides, and fail-fast validation

package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Default values applied when the configuration file leaves them unset.
const (
	DefaultSessionLifetime = 24 * time.Hour
	DefaultDailyLimit      = 5
	DefaultTimeZone        = "UTC"
	DefaultAuditBuffer     = 1024
	MinSecretLength        = 32
)

// Action names with built-in rate limit defaults.
const (
	ActionAuth   = "auth"
	ActionUpload = "upload"
)

// DefaultRateLimits are the per-action limits used when none are configured.
var DefaultRateLimits = map[string]RateLimitConfig{
	ActionAuth:   {Cap: 5, Window: 15 * time.Minute},
	ActionUpload: {Cap: 10, Window: 60 * time.Minute},
}

// Config represents the complete gate configuration
type Config struct {
	Auth        AuthConfig                 `yaml:"auth"`
	Invitations InvitationsConfig          `yaml:"invitations"`
	RateLimits  map[string]RateLimitConfig `yaml:"rate_limits"`
	Quota       QuotaConfig                `yaml:"quota"`
	Database    DatabaseConfig             `yaml:"database"`
	Redis       RedisConfig                `yaml:"redis"`
	Audit       AuditConfig                `yaml:"audit"`
	Logging     LoggingConfig              `yaml:"logging"`
	Metrics     MetricsConfig              `yaml:"metrics"`
	Admin       AdminConfig                `yaml:"admin"`
}

// AuthConfig holds session signing configuration
type AuthConfig struct {
	SessionSecret   string        `yaml:"session_secret"`
	SessionLifetime time.Duration `yaml:"-"`

	SessionLifetimeRaw string `yaml:"session_lifetime"`
}

// InvitationsConfig points at the invitation list sources.
// Path is a YAML or JSON file; SecretsPath is a TOML secrets file.
type InvitationsConfig struct {
	Path        string `yaml:"path"`
	SecretsPath string `yaml:"secrets_path"`
}

// RateLimitConfig is the fixed-window limit for one action type
type RateLimitConfig struct {
	Cap    int           `yaml:"cap"`
	Window time.Duration `yaml:"-"`

	WindowRaw string `yaml:"window"`
}

// QuotaConfig holds the daily usage cap
type QuotaConfig struct {
	DailyLimit int            `yaml:"daily_limit"`
	TimeZone   string         `yaml:"time_zone"`
	Location   *time.Location `yaml:"-"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// RedisConfig enables the shared Redis backend for counters when URL is set.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// AuditConfig controls the audit trail sinks
type AuditConfig struct {
	LogPath    string `yaml:"log_path"`
	BufferSize int    `yaml:"buffer_size"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Path    string `yaml:"path"`
}

// AdminConfig holds the bcrypt hash that guards administrative commands
type AdminConfig struct {
	PasswordHash string `yaml:"password_hash"`
}

// envOverrides are applied on top of the file. Empty values leave the file alone.
type envOverrides struct {
	SessionSecret     string `env:"GATE_SESSION_SECRET"`
	SessionLifetime   string `env:"GATE_SESSION_LIFETIME"`
	InvitationsPath   string `env:"GATE_INVITATIONS_PATH"`
	DatabasePath      string `env:"GATE_DATABASE_PATH"`
	RedisURL          string `env:"GATE_REDIS_URL"`
	DailyLimit        int    `env:"GATE_DAILY_LIMIT"`
	TimeZone          string `env:"GATE_TIME_ZONE"`
	LogLevel          string `env:"GATE_LOG_LEVEL"`
	AdminPasswordHash string `env:"GATE_ADMIN_PASSWORD_HASH"`
}

// ConfigurationError reports an invalid or unreadable configuration.
// The previous configuration (or invitation snapshot) stays in effect.
type ConfigurationError struct {
	Field string
	Err   error
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("configuration error: %v", e.Err)
	}
	return fmt.Sprintf("configuration error: %s: %v", e.Field, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// Errorf builds a ConfigurationError for field.
func Errorf(field, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Field: field, Err: fmt.Errorf(format, args...)}
}

// IsConfigurationError reports whether err is or wraps a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded, GATE_* variables
// override file values, and defaults are filled before validation.
// All failures are returned as *ConfigurationError.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigurationError{Err: fmt.Errorf("reading config file: %w", err)}
	}
	return Parse(data)
}

// Parse builds a Config from raw YAML bytes. See Load.
func Parse(data []byte) (*Config, error) {
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, &ConfigurationError{Err: fmt.Errorf("parsing config file: %w", err)}
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func applyEnv(cfg *Config) error {
	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return &ConfigurationError{Field: "env", Err: err}
	}

	setString := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	setString(&cfg.Auth.SessionSecret, o.SessionSecret)
	setString(&cfg.Auth.SessionLifetimeRaw, o.SessionLifetime)
	setString(&cfg.Invitations.Path, o.InvitationsPath)
	setString(&cfg.Database.Path, o.DatabasePath)
	setString(&cfg.Redis.URL, o.RedisURL)
	setString(&cfg.Quota.TimeZone, o.TimeZone)
	setString(&cfg.Logging.Level, o.LogLevel)
	setString(&cfg.Admin.PasswordHash, o.AdminPasswordHash)
	if o.DailyLimit != 0 {
		cfg.Quota.DailyLimit = o.DailyLimit
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Auth.SessionLifetimeRaw != "" {
		cfg.Auth.SessionLifetime, err = time.ParseDuration(cfg.Auth.SessionLifetimeRaw)
		if err != nil {
			return Errorf("auth.session_lifetime", "parsing %q: %w", cfg.Auth.SessionLifetimeRaw, err)
		}
	}

	for action, rl := range cfg.RateLimits {
		if rl.WindowRaw == "" {
			continue
		}
		rl.Window, err = time.ParseDuration(rl.WindowRaw)
		if err != nil {
			return Errorf("rate_limits."+action+".window", "parsing %q: %w", rl.WindowRaw, err)
		}
		cfg.RateLimits[action] = rl
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.Auth.SessionLifetime == 0 {
		c.Auth.SessionLifetime = DefaultSessionLifetime
	}

	if c.RateLimits == nil {
		c.RateLimits = make(map[string]RateLimitConfig, len(DefaultRateLimits))
	}
	for action, def := range DefaultRateLimits {
		if _, ok := c.RateLimits[action]; !ok {
			c.RateLimits[action] = def
		}
	}

	if c.Quota.DailyLimit == 0 {
		c.Quota.DailyLimit = DefaultDailyLimit
	}
	if c.Quota.TimeZone == "" {
		c.Quota.TimeZone = DefaultTimeZone
	}
	if c.Audit.BufferSize == 0 {
		c.Audit.BufferSize = DefaultAuditBuffer
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns a *ConfigurationError describing the first failure encountered.
// On success the quota time zone is resolved into Quota.Location.
func (c *Config) Validate() error {
	if c.Auth.SessionSecret == "" {
		return Errorf("auth.session_secret", "is required")
	}
	if len(c.Auth.SessionSecret) < MinSecretLength {
		return Errorf("auth.session_secret", "must be at least %d bytes", MinSecretLength)
	}
	if c.Auth.SessionLifetime <= 0 {
		return Errorf("auth.session_lifetime", "must be positive")
	}

	if c.Invitations.Path == "" && c.Invitations.SecretsPath == "" {
		return Errorf("invitations", "path or secrets_path is required")
	}

	// Sorted so the first reported failure is stable.
	actions := make([]string, 0, len(c.RateLimits))
	for action := range c.RateLimits {
		actions = append(actions, action)
	}
	sort.Strings(actions)
	for _, action := range actions {
		rl := c.RateLimits[action]
		if strings.TrimSpace(action) == "" {
			return Errorf("rate_limits", "action name cannot be empty")
		}
		if rl.Cap < 1 {
			return Errorf("rate_limits."+action+".cap", "must be at least 1")
		}
		if rl.Window <= 0 {
			return Errorf("rate_limits."+action+".window", "must be positive")
		}
	}

	if c.Quota.DailyLimit < 1 {
		return Errorf("quota.daily_limit", "must be at least 1")
	}
	loc, err := time.LoadLocation(c.Quota.TimeZone)
	if err != nil {
		return &ConfigurationError{Field: "quota.time_zone", Err: err}
	}
	c.Quota.Location = loc

	if c.Database.Path == "" {
		return Errorf("database.path", "is required")
	}

	if c.Audit.BufferSize < 1 {
		return Errorf("audit.buffer_size", "must be at least 1")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return Errorf("logging.level", "unknown level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return Errorf("logging.format", "unknown format %q", c.Logging.Format)
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return Errorf("metrics.addr", "is required when metrics are enabled")
	}

	return nil
}

// RateLimit returns the configured limit for action.
func (c *Config) RateLimit(action string) (RateLimitConfig, bool) {
	rl, ok := c.RateLimits[action]
	return rl, ok
}
