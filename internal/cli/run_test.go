package cli

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gittest/gittest/internal/clierrors"
)

func newTestRunCmd(t *testing.T) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "run"}
	addCommonRunFlags(cmd)
	cmd.Flags().Bool("dry-run", false, "")
	return cmd
}

func setFlags(t *testing.T, cmd *cobra.Command, flags map[string]string) {
	t.Helper()
	for name, value := range flags {
		require.NoError(t, cmd.Flags().Set(name, value))
	}
}

func TestExecuteRunRejectsInteractiveWithMultipleJobs(t *testing.T) {
	cmd := newTestRunCmd(t)
	setFlags(t, cmd, map[string]string{"interactive": "true", "jobs": "4"})

	err := executeRun(cmd, "HEAD~5..HEAD", false)
	require.Error(t, err)
	cliErr := clierrors.AsCLIError(err)
	require.NotNil(t, cliErr)
	assert.Equal(t, clierrors.Configuration, cliErr.Category)
	assert.Contains(t, cliErr.Message, "--jobs > 1")
}

func TestExecuteRunRejectsInteractiveWithSearch(t *testing.T) {
	cmd := newTestRunCmd(t)
	setFlags(t, cmd, map[string]string{"interactive": "true", "search": "binary"})

	err := executeRun(cmd, "HEAD~5..HEAD", false)
	require.Error(t, err)
	cliErr := clierrors.AsCLIError(err)
	require.NotNil(t, cliErr)
	assert.Contains(t, cliErr.Message, "--search")
}

func TestExecuteRunRejectsFixModeWithSearch(t *testing.T) {
	cmd := newTestRunCmd(t)
	setFlags(t, cmd, map[string]string{"search": "linear"})

	err := executeRun(cmd, "HEAD~5..HEAD", true)
	require.Error(t, err)
	cliErr := clierrors.AsCLIError(err)
	require.NotNil(t, cliErr)
	assert.Contains(t, cliErr.Message, "mutually exclusive")
}

func TestExecuteRunRejectsMultipleJobsWithWorkingCopyStrategy(t *testing.T) {
	cmd := newTestRunCmd(t)
	setFlags(t, cmd, map[string]string{"jobs": "4", "strategy": "working-copy"})

	err := executeRun(cmd, "HEAD~5..HEAD", false)
	require.Error(t, err)
	cliErr := clierrors.AsCLIError(err)
	require.NotNil(t, cliErr)
	assert.Contains(t, cliErr.Message, "requires --strategy worktree")
}

func TestExecuteRunRejectsUnknownStrategy(t *testing.T) {
	cmd := newTestRunCmd(t)
	setFlags(t, cmd, map[string]string{"strategy": "bogus"})

	err := executeRun(cmd, "HEAD~5..HEAD", false)
	require.Error(t, err)
	cliErr := clierrors.AsCLIError(err)
	require.NotNil(t, cliErr)
	assert.Equal(t, clierrors.Configuration, cliErr.Category)
}

func TestParseRunFlagsMapsVerboseCountToVerbosity(t *testing.T) {
	cmd := newTestRunCmd(t)
	setFlags(t, cmd, map[string]string{"verbose": "2"})

	flags, err := parseRunFlags(cmd)
	require.NoError(t, err)
	assert.Equal(t, 2, int(flags.verbosity))
}

func TestParseRunFlagsBisectIsAliasForSearchBinary(t *testing.T) {
	cmd := newTestRunCmd(t)
	setFlags(t, cmd, map[string]string{"bisect": "true"})

	flags, err := parseRunFlags(cmd)
	require.NoError(t, err)
	assert.True(t, flags.bisect)
	assert.Empty(t, flags.searchFlag, "parseRunFlags itself does not apply the --bisect alias; executeRun does")
}
