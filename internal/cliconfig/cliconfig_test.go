package cliconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaultsWithNoConfigFiles(t *testing.T) {
	cfg, err := Load(LoadOptions{ProjectConfigPath: filepath.Join(t.TempDir(), "missing.yml")})
	require.NoError(t, err)
	assert.Equal(t, "working-copy", cfg.Strategy)
	assert.Equal(t, 0, cfg.Jobs)
}

func TestLoadProjectConfigOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	content := "test:\n  strategy: worktree\n  jobs: 3\n  alias:\n    default: go test ./...\n    lint: golangci-lint run\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(LoadOptions{ProjectConfigPath: path})
	require.NoError(t, err)
	assert.Equal(t, "worktree", cfg.Strategy)
	assert.Equal(t, 3, cfg.Jobs)
	assert.Equal(t, "go test ./...", cfg.Alias["default"])
	assert.Equal(t, "golangci-lint run", cfg.Alias["lint"])
}

func TestLoadEnvOverridesProjectConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(path, []byte("test:\n  jobs: 3\n"), 0o644))

	t.Setenv("GITTEST_TEST_JOBS", "7")

	cfg, err := Load(LoadOptions{ProjectConfigPath: path})
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Jobs)
}

func TestResolveCommandExplicitWins(t *testing.T) {
	cfg := &Configuration{Alias: map[string]string{"default": "make test"}}
	cmd, ok := cfg.ResolveCommand("go test ./...", "")
	require.True(t, ok)
	assert.Equal(t, "go test ./...", cmd)
}

func TestResolveCommandFallsBackToNamedAlias(t *testing.T) {
	cfg := &Configuration{Alias: map[string]string{"lint": "golangci-lint run"}}
	cmd, ok := cfg.ResolveCommand("", "lint")
	require.True(t, ok)
	assert.Equal(t, "golangci-lint run", cmd)
}

func TestResolveCommandDefaultsToDefaultAliasName(t *testing.T) {
	cfg := &Configuration{Alias: map[string]string{"default": "make test"}}
	cmd, ok := cfg.ResolveCommand("", "")
	require.True(t, ok)
	assert.Equal(t, "make test", cmd)
}

func TestResolveCommandReportsMissingAlias(t *testing.T) {
	cfg := &Configuration{Alias: map[string]string{}}
	_, ok := cfg.ResolveCommand("", "missing")
	assert.False(t, ok)
}

func TestAliasNamesListsConfiguredAliases(t *testing.T) {
	cfg := &Configuration{Alias: map[string]string{"default": "a", "lint": "b"}}
	names := cfg.AliasNames()
	assert.ElementsMatch(t, []string{"default", "lint"}, names)
}
