package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/jakechorley/campus-rota/pkg/jobs"
)

// Defaults applied to unset fields before validation
const (
	DefaultPollInterval       = 5 * time.Second
	DefaultSendTimeout        = 30 * time.Second
	DefaultReminderCron       = "0 0 9 * * *"
	DefaultReminderLeadDays   = 1
	DefaultAuditRetentionDays = 365
	DefaultAuditMode          = "all"
	DefaultTimezone           = "UTC"
	DefaultLogDir             = "logs"
)

// DatabaseConfig holds the PostgreSQL connection
type DatabaseConfig struct {
	URL string `yaml:"url" validate:"required"`
}

// RedisConfig holds the job broker connection
type RedisConfig struct {
	Addr      string `yaml:"addr" validate:"required,hostname_port"`
	Password  string `yaml:"password,omitempty"`
	DB        int    `yaml:"db,omitempty"`
	KeyPrefix string `yaml:"keyPrefix,omitempty"`
}

// ChannelConfig holds the messaging channel endpoint and timings
type ChannelConfig struct {
	BaseURL         string        `yaml:"baseURL" validate:"required,url"`
	PollInterval    time.Duration `yaml:"pollInterval,omitempty"`
	SendTimeout     time.Duration `yaml:"sendTimeout,omitempty"`
	BreakerFailures uint32        `yaml:"breakerFailures,omitempty"`
	BreakerOpenFor  time.Duration `yaml:"breakerOpenFor,omitempty"`
}

// RemindersConfig schedules the daily reminder sweep
type RemindersConfig struct {
	Cron     string `yaml:"cron,omitempty"`
	LeadDays int    `yaml:"leadDays,omitempty" validate:"min=0,max=30"`
}

// AuditConfig controls where audit entries go and how long they are kept
type AuditConfig struct {
	Mode          string `yaml:"mode,omitempty" validate:"oneof=all db log off"`
	RetentionDays int    `yaml:"retentionDays,omitempty" validate:"min=1"`
}

// JobsConfig tunes the deferred job runner
type JobsConfig struct {
	MaxAttempts int `yaml:"maxAttempts,omitempty" validate:"min=0,max=50"`
}

// GmailConfig identifies the mailbox used for fallback emails
type GmailConfig struct {
	UserID string `yaml:"userID,omitempty"`
	Sender string `yaml:"sender,omitempty"`
}

// Config represents the application configuration
type Config struct {
	Timezone      string          `yaml:"timezone,omitempty"`
	Database      DatabaseConfig  `yaml:"database"`
	Redis         RedisConfig     `yaml:"redis"`
	Channel       ChannelConfig   `yaml:"channel"`
	Reminders     RemindersConfig `yaml:"reminders,omitempty"`
	Audit         AuditConfig     `yaml:"audit,omitempty"`
	Jobs          JobsConfig      `yaml:"jobs,omitempty"`
	Gmail         GmailConfig     `yaml:"gmail,omitempty"`
	EmailFallback bool            `yaml:"emailFallback,omitempty"`
	LogDir        string          `yaml:"logDir,omitempty"`
	LogLevel      string          `yaml:"logLevel,omitempty" validate:"omitempty,oneof=debug info warn error"`

	location *time.Location
}

// Location returns the configured timezone. Only valid after Validate.
func (c *Config) Location() *time.Location {
	if c.location == nil {
		return time.UTC
	}
	return c.location
}

// AuditRetention returns the audit retention as a duration
func (c *Config) AuditRetention() time.Duration {
	return time.Duration(c.Audit.RetentionDays) * 24 * time.Hour
}

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// LoadWithEnv loads .env files and campus_rota_config.<env>.yaml.
// The config file is looked up in the current directory first, then in the user's home directory.
func LoadWithEnv(env string) (*Config, error) {
	if err := loadDotEnv(env); err != nil {
		return nil, err
	}

	configPath, err := findConfigFile(env)
	if err != nil {
		return nil, fmt.Errorf("failed to find config file: %w", err)
	}

	return LoadFromPath(configPath)
}

// LoadFromPath loads, applies defaults and environment overrides, and validates the configuration
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate validates the configuration struct, the reminder cron spec and the timezone
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	if cfg.Reminders.Cron != "" {
		if err := jobs.ValidateRepeatSpec(cfg.Reminders.Cron); err != nil {
			return fmt.Errorf("invalid reminders.cron: %w", err)
		}
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
	}
	cfg.location = loc

	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Timezone == "" {
		cfg.Timezone = DefaultTimezone
	}
	if cfg.Channel.PollInterval == 0 {
		cfg.Channel.PollInterval = DefaultPollInterval
	}
	if cfg.Channel.SendTimeout == 0 {
		cfg.Channel.SendTimeout = DefaultSendTimeout
	}
	if cfg.Reminders.Cron == "" {
		cfg.Reminders.Cron = DefaultReminderCron
	}
	if cfg.Reminders.LeadDays == 0 {
		cfg.Reminders.LeadDays = DefaultReminderLeadDays
	}
	if cfg.Audit.Mode == "" {
		cfg.Audit.Mode = DefaultAuditMode
	}
	if cfg.Audit.RetentionDays == 0 {
		cfg.Audit.RetentionDays = DefaultAuditRetentionDays
	}
	if cfg.Jobs.MaxAttempts == 0 {
		cfg.Jobs.MaxAttempts = jobs.DefaultMaxAttempts
	}
	if cfg.LogDir == "" {
		cfg.LogDir = DefaultLogDir
	}
}

// applyEnvOverrides lets deployment secrets live outside the YAML file
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("CHANNEL_BASE_URL"); v != "" {
		cfg.Channel.BaseURL = v
	}
}

// loadDotEnv loads .env.<env> then .env when present. Variables already set in the process win.
func loadDotEnv(env string) error {
	for _, name := range []string{".env." + env, ".env"} {
		if _, err := os.Stat(name); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to stat %s: %w", name, err)
		}
		if err := godotenv.Load(name); err != nil {
			return fmt.Errorf("failed to load %s: %w", name, err)
		}
	}
	return nil
}

// findConfigFile searches for campus_rota_config.<env>.yaml
func findConfigFile(env string) (string, error) {
	configFileName := "campus_rota_config.yaml"
	if env != "" {
		configFileName = "campus_rota_config." + env + ".yaml"
	}
	return findFile(configFileName)
}

// findFile looks for name in the current directory, then in the user's home directory
func findFile(name string) (string, error) {
	if _, err := os.Stat(name); err == nil {
		return name, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}

	homePath := filepath.Join(homeDir, name)
	if _, err := os.Stat(homePath); err == nil {
		return homePath, nil
	}

	return "", fmt.Errorf("%s not found in current directory or home directory", name)
}
