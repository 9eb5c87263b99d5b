package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvOverrides(t *testing.T) {
	t.Run("MATCHBOX_DB overrides store path", func(t *testing.T) {
		t.Setenv("MATCHBOX_DB", "/tmp/override.db")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "/tmp/override.db", cfg.Store.Path)
	})

	t.Run("MATCHBOX_PLUGINS overrides plugin dir", func(t *testing.T) {
		t.Setenv("MATCHBOX_PLUGINS", "/tmp/plugins")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "/tmp/plugins", cfg.Plugins.Dir)
	})

	t.Run("MATCHBOX_LOG_LEVEL overrides level", func(t *testing.T) {
		t.Setenv("MATCHBOX_LOG_LEVEL", "debug")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "debug", cfg.Logging.Level)
	})

	t.Run("empty env vars leave config alone", func(t *testing.T) {
		t.Setenv("MATCHBOX_DB", "")
		t.Setenv("MATCHBOX_PLUGINS", "")
		t.Setenv("MATCHBOX_LOG_LEVEL", "")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, ".matchbox/matchbox.db", cfg.Store.Path)
		assert.Equal(t, ".matchbox/plugins", cfg.Plugins.Dir)
		assert.Equal(t, "info", cfg.Logging.Level)
	})

	t.Run("env overrides apply on top of a loaded file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		cfg := DefaultConfig()
		cfg.Store.Path = "from-file.db"
		require.NoError(t, cfg.Save(path))

		t.Setenv("MATCHBOX_DB", "from-env.db")

		loaded, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "from-env.db", loaded.Store.Path)
	})

	t.Run("env overrides apply when the file is missing", func(t *testing.T) {
		t.Setenv("MATCHBOX_LOG_LEVEL", "warn")

		loaded, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		require.NoError(t, err)
		assert.Equal(t, "warn", loaded.Logging.Level)
	})
}
