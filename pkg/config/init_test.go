package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitConfig(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	configPath, err := InitConfig(false)
	require.NoError(t, err)

	content, err := os.ReadFile(configPath)
	require.NoError(t, err)

	for _, section := range []string{
		"# stashproxy Configuration File",
		"logging:",
		"proxy:",
		"store:",
		"transform:",
		"metrics:",
	} {
		assert.True(t, strings.Contains(string(content), section),
			"config template missing section %q", section)
	}

	// The template must load and validate as-is.
	cfg, err := Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, "dynamodb", cfg.Store.Backend)
}

func TestInitConfigAlreadyExists(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	_, err := InitConfig(false)
	require.NoError(t, err)

	_, err = InitConfig(false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	_, err = InitConfig(true)
	assert.NoError(t, err, "force must allow overwrite")
}

func TestInitConfigToCustomPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "etc", "stashproxy.yaml")

	require.NoError(t, InitConfigToPath(path, false))

	_, err := os.Stat(path)
	assert.NoError(t, err)
}
