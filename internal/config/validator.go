package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/robfig/cron/v3"
)

var telegramTokenPattern = regexp.MustCompile(`^\d+:[A-Za-z0-9_-]+$`)

// Validator validates individual configuration values and collects every
// problem in a config, unlike Config.Validate which stops at the first.
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateTenantID validates the tenant identifier.
func (v *Validator) ValidateTenantID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("tenant id cannot be empty")
	}
	if strings.ContainsAny(id, " \t\n") {
		return fmt.Errorf("tenant id must not contain whitespace")
	}
	return nil
}

// ValidateBaseURL validates an absolute http(s) URL.
func (v *Validator) ValidateBaseURL(name, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s cannot be empty", name)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must be an http or https URL", name)
	}
	if u.Host == "" {
		return fmt.Errorf("%s must include a host", name)
	}
	return nil
}

// ValidateTelegramToken validates a Telegram bot token
func (v *Validator) ValidateTelegramToken(token string) error {
	if token == "" {
		return fmt.Errorf("telegram bot token cannot be empty")
	}
	if !telegramTokenPattern.MatchString(token) {
		return fmt.Errorf("invalid Telegram bot token format")
	}
	return nil
}

// ValidateStoreDriver validates the session store engine name.
func (v *Validator) ValidateStoreDriver(driver string) error {
	switch driver {
	case StoreMemory, StoreSQLite, StoreFile:
		return nil
	}
	return fmt.Errorf("invalid store driver: %s (must be one of: memory, sqlite, file)", driver)
}

// ValidateSchedule validates a cron spec, including @every descriptors.
func (v *Validator) ValidateSchedule(spec string) error {
	if spec == "" {
		return nil
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(spec); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidatePort validates a TCP port.
func (v *Validator) ValidatePort(port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("port out of range: %d", port)
	}
	return nil
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errs []error

	if err := v.ValidateTenantID(cfg.TenantID); err != nil {
		errs = append(errs, err)
	}
	if cfg.AppBaseURL != "" {
		if err := v.ValidateBaseURL("app_base_url", cfg.AppBaseURL); err != nil {
			errs = append(errs, err)
		}
	}
	if cfg.MaxMembers <= 0 {
		errs = append(errs, fmt.Errorf("max_members must be positive"))
	}

	if cfg.Roster.CapacityTTLHours <= 0 {
		errs = append(errs, fmt.Errorf("roster.capacity_ttl_hours must be positive"))
	}
	if cfg.Roster.PromptTTLHours <= 0 {
		errs = append(errs, fmt.Errorf("roster.prompt_ttl_hours must be positive"))
	}
	if cfg.Roster.MaxPages < 0 {
		errs = append(errs, fmt.Errorf("roster.max_pages must be >= 0"))
	}
	if err := v.ValidateSchedule(cfg.Roster.PurgeSchedule); err != nil {
		errs = append(errs, err)
	}

	if cfg.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("retry.max_attempts must be >= 1"))
	}
	if cfg.Retry.BaseDelayMs <= 0 {
		errs = append(errs, fmt.Errorf("retry.base_delay_ms must be positive"))
	}
	if cfg.Retry.MaxDelayMs != 0 && cfg.Retry.MaxDelayMs < cfg.Retry.BaseDelayMs {
		errs = append(errs, fmt.Errorf("retry.max_delay_ms must be >= retry.base_delay_ms"))
	}
	if cfg.Fanout.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("fanout.concurrency must be >= 0"))
	}

	if err := v.ValidateStoreDriver(cfg.Store.Driver); err != nil {
		errs = append(errs, err)
	}

	if cfg.Ingress.Enabled {
		if err := v.ValidatePort(cfg.Ingress.Port); err != nil {
			errs = append(errs, fmt.Errorf("ingress: %w", err))
		}
		if err := v.ValidateBaseURL("connector.service_url", cfg.Connector.ServiceURL); err != nil {
			errs = append(errs, err)
		}
		if cfg.Ingress.SharedSecret == "" {
			errs = append(errs, fmt.Errorf("ingress.shared_secret is required when ingress is enabled"))
		}
	}

	if cfg.Telegram.Enabled {
		if err := v.ValidateTelegramToken(cfg.Telegram.BotToken); err != nil {
			errs = append(errs, err)
		}
	}
	if !cfg.Ingress.Enabled && !cfg.Telegram.Enabled {
		errs = append(errs, fmt.Errorf("no channel enabled: enable ingress or telegram"))
	}

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errs = append(errs, err)
	}

	return errs
}
