package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gittest/gittest/internal/model"
)

func TestSlug(t *testing.T) {
	tests := map[string]struct {
		command string
		want    string
	}{
		"simple command untouched": {command: "make", want: "make"},
		"spaces collapse":          {command: "go test ./...", want: "go__test__.__..."},
		"slashes collapse":         {command: "scripts/test.sh", want: "scripts__test.sh"},
		"newline collapses":        {command: "a\nb", want: "a__b"},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, Slug(tc.command))
		})
	}
}

func TestAcquireFreshSlotReturnsOpenHandles(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	result, err := store.Acquire(model.TreeID("tree1"), "go test ./...")
	require.NoError(t, err)
	assert.False(t, result.Cached)
	require.NotNil(t, result.Files)
	assert.NotNil(t, result.Files.Result)
	assert.NotNil(t, result.Files.Stdout)
	assert.NotNil(t, result.Files.Stderr)
	require.NoError(t, result.Files.Close())
}

func TestCommitThenAcquireReadsBackCachedResult(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	tree := model.TreeID("tree2")
	command := "go test ./..."

	acquired, err := store.Acquire(tree, command)
	require.NoError(t, err)
	require.NotNil(t, acquired.Files)

	record := model.CacheRecord{Command: command, ExitCode: 0, Interactive: false}
	require.NoError(t, store.Commit(acquired.Files, record))

	second, err := store.Acquire(tree, command)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, model.StatusPassed, second.Status.Kind)
}

func TestAcquireEmptyResultFileTreatedAsAbsent(t *testing.T) {
	// Simulates a crashed prior writer: the result file exists but is empty.
	dir := t.TempDir()
	store := NewStore(dir)
	tree := model.TreeID("tree3")
	command := "make test"

	slotDir := store.SlotDir(tree, command)
	require.NoError(t, os.MkdirAll(slotDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(slotDir, "result"), nil, 0o644))

	result, err := store.Acquire(tree, command)
	require.NoError(t, err)
	assert.False(t, result.Cached)
	require.NotNil(t, result.Files)
	require.NoError(t, result.Files.Close())
}

func TestAcquireSecondCallerSeesAlreadyInProgress(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	tree := model.TreeID("tree4")
	command := "make test"

	first, err := store.Acquire(tree, command)
	require.NoError(t, err)
	require.NotNil(t, first.Files)
	defer first.Files.Close()

	second, err := store.Acquire(tree, command)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, model.StatusAlreadyInProgress, second.Status.Kind)
}

func TestPeekReportsNotFoundWithoutLocking(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	_, found, err := store.Peek(model.TreeID("missing"), "make test")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCleanRemovesTreeDirectories(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	tree := model.TreeID("tree5")

	acquired, err := store.Acquire(tree, "make test")
	require.NoError(t, err)
	require.NoError(t, store.Commit(acquired.Files, model.CacheRecord{Command: "make test", ExitCode: 0}))

	require.NoError(t, store.Clean([]model.TreeID{tree}))

	_, found, err := store.Peek(tree, "make test")
	require.NoError(t, err)
	assert.False(t, found)
}
