package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Store drivers.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreFile   = "file"
)

// Config represents the main standup configuration
type Config struct {
	// TenantID is the only tenant whose events are served.
	TenantID string `json:"tenant_id" mapstructure:"tenant_id"`

	// AppBaseURL prefixes static assets referenced by views (tour images,
	// blocker icon).
	AppBaseURL string `json:"app_base_url" mapstructure:"app_base_url"`

	// MaxMembers rejects conversations with more members than this.
	MaxMembers int `json:"max_members" mapstructure:"max_members"`

	Roster    RosterConfig    `json:"roster" mapstructure:"roster"`
	Retry     RetryConfig     `json:"retry" mapstructure:"retry"`
	Fanout    FanoutConfig    `json:"fanout" mapstructure:"fanout"`
	Store     StoreConfig     `json:"store" mapstructure:"store"`
	Ingress   IngressConfig   `json:"ingress" mapstructure:"ingress"`
	Connector ConnectorConfig `json:"connector" mapstructure:"connector"`
	Telegram  TelegramConfig  `json:"telegram" mapstructure:"telegram"`
	Logging   LoggingConfig   `json:"logging" mapstructure:"logging"`
	Metrics   MetricsConfig   `json:"metrics" mapstructure:"metrics"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// RosterConfig holds member directory cache settings.
type RosterConfig struct {
	CapacityTTLHours int    `json:"capacity_ttl_hours" mapstructure:"capacity_ttl_hours"`
	PromptTTLHours   int    `json:"prompt_ttl_hours" mapstructure:"prompt_ttl_hours"`
	MaxPages         int    `json:"max_pages" mapstructure:"max_pages"`
	PurgeSchedule    string `json:"purge_schedule" mapstructure:"purge_schedule"` // cron spec
}

// RetryConfig holds throttling retry settings for outbound sends.
type RetryConfig struct {
	BaseDelayMs int `json:"base_delay_ms" mapstructure:"base_delay_ms"`
	MaxDelayMs  int `json:"max_delay_ms" mapstructure:"max_delay_ms"`
	MaxAttempts int `json:"max_attempts" mapstructure:"max_attempts"`
}

// FanoutConfig bounds per-member prompt parallelism when a scrum starts.
type FanoutConfig struct {
	Concurrency int `json:"concurrency" mapstructure:"concurrency"`
}

// StoreConfig selects the session store engine.
type StoreConfig struct {
	Driver string `json:"driver" mapstructure:"driver"` // memory, sqlite, file
	Path   string `json:"path" mapstructure:"path"`
}

// IngressConfig holds the HTTP activity endpoint settings.
type IngressConfig struct {
	Enabled      bool   `json:"enabled" mapstructure:"enabled"`
	Host         string `json:"host" mapstructure:"host"`
	Port         int    `json:"port" mapstructure:"port"`
	SharedSecret string `json:"shared_secret" mapstructure:"shared_secret"`
	RateLimit    int    `json:"rate_limit" mapstructure:"rate_limit"` // requests per minute per IP
	Timeout      int    `json:"timeout" mapstructure:"timeout"`       // seconds
}

// ConnectorConfig holds the outbound REST connector settings.
type ConnectorConfig struct {
	ServiceURL string `json:"service_url" mapstructure:"service_url"`
	Token      string `json:"token" mapstructure:"token"`
	PageSize   int    `json:"page_size" mapstructure:"page_size"`
	Timeout    int    `json:"timeout" mapstructure:"timeout"` // seconds
}

// TelegramConfig holds Telegram bot configuration
type TelegramConfig struct {
	Enabled     bool   `json:"enabled" mapstructure:"enabled"`
	BotToken    string `json:"bot_token" mapstructure:"bot_token"`
	PollTimeout int    `json:"poll_timeout" mapstructure:"poll_timeout"` // seconds

	// AllowedChats limits the bot to these chat ids; empty allows all.
	AllowedChats []int64 `json:"allowed_chats" mapstructure:"allowed_chats"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// MetricsConfig controls the Prometheus endpoint on the ingress server.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Path    string `json:"path" mapstructure:"path"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		MaxMembers: 100,
		Roster: RosterConfig{
			CapacityTTLHours: 72,
			PromptTTLHours:   24,
			MaxPages:         200,
			PurgeSchedule:    "@every 1h",
		},
		Retry: RetryConfig{
			BaseDelayMs: 1000,
			MaxDelayMs:  30000,
			MaxAttempts: 5,
		},
		Fanout: FanoutConfig{
			Concurrency: 4,
		},
		Store: StoreConfig{
			Driver: StoreSQLite,
		},
		Ingress: IngressConfig{
			Enabled:   true,
			Host:      "0.0.0.0",
			Port:      3978,
			RateLimit: 600,
			Timeout:   30,
		},
		Connector: ConnectorConfig{
			PageSize: 500,
			Timeout:  15,
		},
		Telegram: TelegramConfig{
			PollTimeout: 30,
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSize:   50,
			MaxAge:    14,
			Compress:  true,
			Redaction: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// CapacityTTL is how long a member list used for the size check stays fresh.
func (r RosterConfig) CapacityTTL() time.Duration {
	return time.Duration(r.CapacityTTLHours) * time.Hour
}

// PromptTTL is how long a member list used for prompting stays fresh.
func (r RosterConfig) PromptTTL() time.Duration {
	return time.Duration(r.PromptTTLHours) * time.Hour
}

// BaseDelay returns the first backoff step.
func (r RetryConfig) BaseDelay() time.Duration {
	return time.Duration(r.BaseDelayMs) * time.Millisecond
}

// MaxDelay returns the backoff ceiling.
func (r RetryConfig) MaxDelay() time.Duration {
	return time.Duration(r.MaxDelayMs) * time.Millisecond
}

// Addr returns host:port for the ingress listener.
func (i IngressConfig) Addr() string {
	return fmt.Sprintf("%s:%d", i.Host, i.Port)
}

// String returns a JSON representation of the config with secrets masked.
func (c *Config) String() string {
	masked := *c
	masked.Ingress.SharedSecret = mask(c.Ingress.SharedSecret)
	masked.Connector.Token = mask(c.Connector.Token)
	masked.Telegram.BotToken = mask(c.Telegram.BotToken)
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "****"
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if strings.TrimSpace(c.TenantID) == "" {
		return fmt.Errorf("tenant_id is required")
	}
	if c.MaxMembers <= 0 {
		return fmt.Errorf("max_members must be positive, got %d", c.MaxMembers)
	}
	if c.Roster.CapacityTTLHours <= 0 || c.Roster.PromptTTLHours <= 0 {
		return fmt.Errorf("roster TTLs must be positive")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1")
	}
	if c.Retry.BaseDelayMs <= 0 {
		return fmt.Errorf("retry.base_delay_ms must be positive")
	}

	switch c.Store.Driver {
	case StoreMemory, StoreSQLite, StoreFile:
	default:
		return fmt.Errorf("invalid store driver %q (must be: memory, sqlite, file)", c.Store.Driver)
	}

	if !c.Ingress.Enabled && !c.Telegram.Enabled {
		return fmt.Errorf("no channel enabled: enable ingress or telegram")
	}
	if c.Ingress.Enabled && c.Connector.ServiceURL == "" {
		return fmt.Errorf("connector.service_url is required when ingress is enabled")
	}
	if c.Telegram.Enabled && c.Telegram.BotToken == "" {
		return fmt.Errorf("telegram bot token is required when Telegram channel is enabled")
	}

	return nil
}
