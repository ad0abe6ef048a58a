package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetDictionaryPath(t *testing.T) {
	configDir := t.TempDir()
	pr := &PathResolver{executableDir: t.TempDir(), configDir: configDir}

	inConfig := filepath.Join(configDir, "terms.json")
	require.NoError(t, os.WriteFile(inConfig, []byte("{}"), 0o644))

	assert.Equal(t, inConfig, pr.GetDictionaryPath("terms.json"), "found in config dir")
	assert.Equal(t, "missing.json", pr.GetDictionaryPath("missing.json"), "unresolved path kept")
	assert.Equal(t, "/abs/terms.json", pr.GetDictionaryPath("/abs/terms.json"))
	assert.Empty(t, pr.GetDictionaryPath(""))
}

func TestGetConfigPath(t *testing.T) {
	configDir := filepath.Join(t.TempDir(), "termserve")
	pr := &PathResolver{configDir: configDir, homeDir: t.TempDir()}

	assert.Equal(t, filepath.Join(configDir, "config.toml"), pr.GetConfigPath("config.toml"))
	assert.DirExists(t, configDir)
	assert.Equal(t, configDir, pr.GetConfigDir())
}
