package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.TenantID = "72f988bf-86f1-41af-91ab-2d7cd011db47"
	cfg.AppBaseURL = "https://standup.example.com"
	cfg.Connector.ServiceURL = "https://smba.example.com/amer/"
	cfg.Ingress.SharedSecret = "0123456789abcdef"
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 100, cfg.MaxMembers)
	assert.Equal(t, 72*time.Hour, cfg.Roster.CapacityTTL())
	assert.Equal(t, 24*time.Hour, cfg.Roster.PromptTTL())
	assert.Equal(t, time.Second, cfg.Retry.BaseDelay())
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, StoreSQLite, cfg.Store.Driver)
	assert.Equal(t, "0.0.0.0:3978", cfg.Ingress.Addr())
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing tenant", mutate: func(c *Config) { c.TenantID = " " }, wantErr: "tenant_id"},
		{name: "zero cap", mutate: func(c *Config) { c.MaxMembers = 0 }, wantErr: "max_members"},
		{name: "zero ttl", mutate: func(c *Config) { c.Roster.PromptTTLHours = 0 }, wantErr: "TTL"},
		{name: "no attempts", mutate: func(c *Config) { c.Retry.MaxAttempts = 0 }, wantErr: "max_attempts"},
		{name: "bad driver", mutate: func(c *Config) { c.Store.Driver = "redis" }, wantErr: "store driver"},
		{
			name:    "no channels",
			mutate:  func(c *Config) { c.Ingress.Enabled = false },
			wantErr: "no channel enabled",
		},
		{
			name:    "ingress without connector",
			mutate:  func(c *Config) { c.Connector.ServiceURL = "" },
			wantErr: "service_url",
		},
		{
			name: "telegram without token",
			mutate: func(c *Config) {
				c.Ingress.Enabled = false
				c.Telegram.Enabled = true
			},
			wantErr: "bot token",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfigStringMasksSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.Connector.Token = "connector-token-value"
	cfg.Telegram.BotToken = "123:abc"

	out := cfg.String()
	assert.NotContains(t, out, "0123456789abcdef")
	assert.NotContains(t, out, "connector-token-value")
	assert.True(t, strings.Contains(out, "****"))

	// The receiver is untouched.
	assert.Equal(t, "connector-token-value", cfg.Connector.Token)
}
