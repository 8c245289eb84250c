// Package cliconfig provides hierarchical configuration management for
// gittest using koanf. Configuration is loaded with priority: environment
// variables > project config (.gittest/config.yml) > user config
// (~/.config/gittest/config.yml) > defaults.
package cliconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Configuration is the gittest CLI tool configuration, matching the
// read-only keys in spec.md §6: test.alias.<name>, test.strategy, test.jobs.
type Configuration struct {
	Alias    map[string]string `koanf:"alias"`
	Strategy string            `koanf:"strategy"`
	Jobs     int               `koanf:"jobs"`
}

// DefaultAlias is the alias name used when -c is omitted.
const DefaultAlias = "default"

func defaults() map[string]any {
	return map[string]any{
		"test.strategy": "working-copy",
		"test.jobs":     0,
	}
}

// UserConfigPath returns ~/.config/gittest/config.yml.
func UserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "gittest", "config.yml"), nil
}

// ProjectConfigPath returns .gittest/config.yml relative to the current
// directory.
func ProjectConfigPath() string {
	return filepath.Join(".gittest", "config.yml")
}

// LoadOptions configures how configuration is loaded.
type LoadOptions struct {
	// ProjectConfigPath overrides the project config path.
	ProjectConfigPath string
}

// Load loads configuration from user, project, and environment sources,
// applying defaults first.
func Load(opts LoadOptions) (*Configuration, error) {
	k := koanf.New(".")

	for key, value := range defaults() {
		k.Set(key, value)
	}

	if userPath, err := UserConfigPath(); err == nil && fileExists(userPath) {
		if err := k.Load(file.Provider(userPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading user config %s: %w", userPath, err)
		}
	}

	projectPath := opts.ProjectConfigPath
	if projectPath == "" {
		projectPath = ProjectConfigPath()
	}
	if fileExists(projectPath) {
		if err := k.Load(file.Provider(projectPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading project config %s: %w", projectPath, err)
		}
	}

	if err := k.Load(env.Provider("GITTEST_", ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("loading environment config: %w", err)
	}

	var cfg struct {
		Test struct {
			Alias    map[string]string `koanf:"alias"`
			Strategy string            `koanf:"strategy"`
			Jobs     int               `koanf:"jobs"`
		} `koanf:"test"`
	}
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &Configuration{
		Alias:    cfg.Test.Alias,
		Strategy: cfg.Test.Strategy,
		Jobs:     cfg.Test.Jobs,
	}, nil
}

// envTransform converts GITTEST_TEST_JOBS style env names to "test.jobs".
func envTransform(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, "GITTEST_")), "_", ".")
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

// ResolveCommand resolves the command to run given the CLI's -x/-c flags,
// per §6: explicit -x wins; otherwise -c ALIAS (default alias name
// "default") looks up test.alias.<alias>. When neither resolves, the
// caller should print the alias-resolution diagnostic listing currently
// configured aliases (see clierrors.NoCommandError).
func (c *Configuration) ResolveCommand(explicit, alias string) (string, bool) {
	if explicit != "" {
		return explicit, true
	}
	if alias == "" {
		alias = DefaultAlias
	}
	cmd, ok := c.Alias[alias]
	return cmd, ok
}

// AliasNames returns the configured alias names, in map iteration order
// (unspecified), for the no-command diagnostic.
func (c *Configuration) AliasNames() []string {
	names := make([]string, 0, len(c.Alias))
	for name := range c.Alias {
		names = append(names, name)
	}
	return names
}
