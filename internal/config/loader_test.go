package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoaderLoad(t *testing.T) {
	t.Run("defaults when file is missing", func(t *testing.T) {
		dir := t.TempDir()
		cfg, err := NewLoader(filepath.Join(dir, "missing.json")).Load()

		require.NoError(t, err)
		assert.Equal(t, 100, cfg.MaxMembers)
		assert.NotEmpty(t, cfg.DataDir)
	})

	t.Run("file values override defaults", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "standup.json")
		content := `{
			"tenant_id": "tenant-a",
			"app_base_url": "https://bot.example.com",
			"max_members": 40,
			"roster": {"capacity_ttl_hours": 12},
			"store": {"driver": "file"},
			"data_dir": "` + filepath.ToSlash(dir) + `"
		}`
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, "tenant-a", cfg.TenantID)
		assert.Equal(t, 40, cfg.MaxMembers)
		assert.Equal(t, 12, cfg.Roster.CapacityTTLHours)
		assert.Equal(t, 24, cfg.Roster.PromptTTLHours)
		assert.Equal(t, StoreFile, cfg.Store.Driver)
		assert.Equal(t, filepath.Join(dir, "sessions"), cfg.Store.Path)
		assert.Equal(t, filepath.Join(dir, "standup.log"), cfg.Logging.File)
	})

	t.Run("environment overrides file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "standup.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"tenant_id":"from-file"}`), 0o644))

		t.Setenv("STANDUP_TENANT_ID", "from-env")
		t.Setenv("STANDUP_INGRESS_SHARED_SECRET", "env-secret")

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "from-env", cfg.TenantID)
		assert.Equal(t, "env-secret", cfg.Ingress.SharedSecret)
	})

	t.Run("invalid JSON", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "broken.json")
		require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

		_, err := Load(path)
		assert.Error(t, err)
	})
}

func TestLoaderSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "standup.json")

	cfg := validConfig()
	cfg.DataDir = dir
	cfg.Roster.PromptTTLHours = 6

	loader := NewLoader(path)
	require.NoError(t, loader.Save(cfg))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, cfg.TenantID, loaded.TenantID)
	assert.Equal(t, 6, loaded.Roster.PromptTTLHours)
	assert.Equal(t, cfg.Connector.ServiceURL, loaded.Connector.ServiceURL)
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "STANDUP_INGRESS_SHARED_SECRET", envKey("ingress.shared_secret"))
	assert.Equal(t, "STANDUP_TENANT_ID", envKey("tenant_id"))
}
