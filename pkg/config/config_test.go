package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withFakeWorktree(t *testing.T) {
	t.Helper()
	prev := insideWorktree
	insideWorktree = func(dir string) bool { return true }
	t.Cleanup(func() { insideWorktree = prev })
}

func withFakeHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	prevHome := os.Getenv("HOME")
	require.NoError(t, os.Setenv("HOME", home))
	t.Cleanup(func() { os.Setenv("HOME", prevHome) })
	return home
}

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, ".omc", "config.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	withFakeWorktree(t)
	home := withFakeHome(t)
	workDir := filepath.Join(home, "repo")
	require.NoError(t, os.MkdirAll(workDir, 0o700))

	path := writeConfig(t, home, `
teamName: team-a
workerName: worker-1
provider: codex
workingDirectory: `+workDir+`
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, defaultPollIntervalMs, cfg.PollIntervalMs)
	assert.Equal(t, defaultTaskTimeoutMs, cfg.TaskTimeoutMs)
	assert.Equal(t, defaultMaxConsecutiveErrors, cfg.MaxConsecutiveErrors)
	assert.Equal(t, defaultOutboxMaxLines, cfg.OutboxMaxLines)
	assert.Equal(t, defaultMaxRetries, cfg.MaxRetries)
}

func TestLoadRejectsUnknownProvider(t *testing.T) {
	withFakeWorktree(t)
	home := withFakeHome(t)
	workDir := filepath.Join(home, "repo")
	require.NoError(t, os.MkdirAll(workDir, 0o700))

	path := writeConfig(t, home, `
teamName: team-a
workerName: worker-1
provider: claude
workingDirectory: `+workDir+`
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider")
}

func TestLoadRejectsMissingWorkingDirectory(t *testing.T) {
	withFakeWorktree(t)
	home := withFakeHome(t)

	path := writeConfig(t, home, `
teamName: team-a
workerName: worker-1
provider: codex
workingDirectory: `+filepath.Join(home, "does-not-exist")+`
`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsWorkingDirectoryOutsideHome(t *testing.T) {
	withFakeWorktree(t)
	home := withFakeHome(t)
	outside := t.TempDir()

	path := writeConfig(t, home, `
teamName: team-a
workerName: worker-1
provider: codex
workingDirectory: `+outside+`
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "home directory")
}

func TestLoadRejectsWorkingDirectoryNotInWorktree(t *testing.T) {
	prev := insideWorktree
	insideWorktree = func(dir string) bool { return false }
	t.Cleanup(func() { insideWorktree = prev })

	home := withFakeHome(t)
	workDir := filepath.Join(home, "repo")
	require.NoError(t, os.MkdirAll(workDir, 0o700))

	path := writeConfig(t, home, `
teamName: team-a
workerName: worker-1
provider: codex
workingDirectory: `+workDir+`
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "worktree")
}

func TestValidateConfigPathRejectsOutsideStateRootAndOmc(t *testing.T) {
	withFakeHome(t)
	outside := t.TempDir()
	path := filepath.Join(outside, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("teamName: t"), 0o600))

	err := validateConfigPath(path)
	require.Error(t, err)
}

func TestValidateConfigPathAcceptsOmcSubtreeAnywhere(t *testing.T) {
	withFakeHome(t)
	outside := t.TempDir()
	path := filepath.Join(outside, ".omc", "config.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
	require.NoError(t, os.WriteFile(path, []byte("teamName: t"), 0o600))

	err := validateConfigPath(path)
	assert.NoError(t, err)
}
