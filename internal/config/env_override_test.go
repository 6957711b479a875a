package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvOverrides(t *testing.T) {
	t.Run("MUDCORE_SOURCE_ROOT sets source root", func(t *testing.T) {
		t.Setenv("MUDCORE_SOURCE_ROOT", "/srv/mud/lib")

		cfg := &Config{Compiler: CompilerConfig{SourceRoot: "world"}}
		cfg.applyEnvOverrides()

		assert.Equal(t, "/srv/mud/lib", cfg.Compiler.SourceRoot)
	})

	t.Run("MUDCORE_DB sets database path", func(t *testing.T) {
		t.Setenv("MUDCORE_DB", "/var/lib/mud.db")

		cfg := &Config{}
		cfg.applyEnvOverrides()

		assert.Equal(t, "/var/lib/mud.db", cfg.Persistence.Path)
	})

	t.Run("MUDCORE_LOG_LEVEL sets level", func(t *testing.T) {
		t.Setenv("MUDCORE_LOG_LEVEL", "debug")

		cfg := &Config{Logging: LoggingConfig{Level: "info"}}
		cfg.applyEnvOverrides()

		assert.Equal(t, "debug", cfg.Logging.Level)
	})

	t.Run("empty variables leave values alone", func(t *testing.T) {
		t.Setenv("MUDCORE_SOURCE_ROOT", "")
		t.Setenv("MUDCORE_DB", "")
		t.Setenv("MUDCORE_LOG_LEVEL", "")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, DefaultConfig(), cfg)
	})
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("MUDCORE_DB", "override.db")
	t.Setenv("MUDCORE_SOURCE_ROOT", "")
	t.Setenv("MUDCORE_LOG_LEVEL", "")

	path := filepath.Join(t.TempDir(), "mudcore.yaml")
	cfg := DefaultConfig()
	cfg.Persistence.Path = "file.db"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "override.db", loaded.Persistence.Path)
}
