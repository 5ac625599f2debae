package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

const (
	appDir      = ".standup"
	configFile  = "standup.json"
	envPrefix   = "STANDUP"
	defaultDB   = "sessions.db"
	defaultLog  = "standup.log"
	defaultDocs = "sessions"
)

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// Load reads the config file (if any), applies STANDUP_* environment
// overrides and fills derived paths.
func (l *Loader) Load() (*Config, error) {
	configPath := l.GetConfigPath()
	if configPath == "" {
		return nil, fmt.Errorf("failed to resolve config path")
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	bindEnv(v)

	if _, err := os.Stat(configPath); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, appDir)
	}

	if cfg.Logging.File == "" {
		cfg.Logging.File = filepath.Join(cfg.DataDir, defaultLog)
	}

	if cfg.Store.Path == "" {
		switch cfg.Store.Driver {
		case StoreSQLite:
			cfg.Store.Path = filepath.Join(cfg.DataDir, defaultDB)
		case StoreFile:
			cfg.Store.Path = filepath.Join(cfg.DataDir, defaultDocs)
		}
	}

	return cfg, nil
}

// bindEnv makes nested keys reachable through AutomaticEnv, which only
// resolves keys viper already knows about. STANDUP_INGRESS_SHARED_SECRET
// maps to ingress.shared_secret and so on.
func bindEnv(v *viper.Viper) {
	for _, key := range []string{
		"tenant_id",
		"app_base_url",
		"max_members",
		"data_dir",
		"store.driver",
		"store.path",
		"ingress.enabled",
		"ingress.port",
		"ingress.shared_secret",
		"connector.service_url",
		"connector.token",
		"telegram.enabled",
		"telegram.bot_token",
		"logging.level",
	} {
		_ = v.BindEnv(key, envKey(key))
	}
}

func envKey(key string) string {
	out := []byte(envPrefix + "_")
	for i := 0; i < len(key); i++ {
		c := key[i]
		switch {
		case c == '.':
			c = '_'
		case c >= 'a' && c <= 'z':
			c -= 'a' - 'A'
		}
		out = append(out, c)
	}
	return string(out)
}

// Save writes cfg to the loader's path.
func (l *Loader) Save(cfg *Config) error {
	configPath := l.GetConfigPath()
	if configPath == "" {
		return fmt.Errorf("failed to resolve config path")
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	v.Set("tenant_id", cfg.TenantID)
	v.Set("app_base_url", cfg.AppBaseURL)
	v.Set("max_members", cfg.MaxMembers)
	v.Set("roster", cfg.Roster)
	v.Set("retry", cfg.Retry)
	v.Set("fanout", cfg.Fanout)
	v.Set("store", cfg.Store)
	v.Set("ingress", cfg.Ingress)
	v.Set("connector", cfg.Connector)
	v.Set("telegram", cfg.Telegram)
	v.Set("logging", cfg.Logging)
	v.Set("metrics", cfg.Metrics)
	v.Set("data_dir", cfg.DataDir)

	if err := v.WriteConfigAs(configPath); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return os.Chmod(configPath, 0o600)
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, appDir, configFile)
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	return NewLoader(configPath).Load()
}
