package app

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chinacompass/cc-fetcher/internal/cli"
	"github.com/chinacompass/cc-fetcher/internal/config"
	"github.com/chinacompass/cc-fetcher/internal/output"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd(nil)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestSourcesListsBuiltinsWithoutConfig(t *testing.T) {
	t.Parallel()

	out, err := execute(t, "sources", "--config-dir", t.TempDir(), "--env", "dev", "--format", "json")
	require.NoError(t, err)

	var rows []sourceRow
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	names := make([]string, 0, len(rows))
	for _, r := range rows {
		names = append(names, r.Name)
		assert.False(t, r.Configured)
	}
	assert.Equal(t, []string{"markets", "mfa", "news", "parliament", "press", "statcan"}, names)
}

func TestSourcesIncludesConfiguredAliases(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	body := "news: {}\nmofcom:\n  plugin: press\n  url: https://example.org/news\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sources.dev.yaml"), []byte(body), 0600))

	out, err := execute(t, "sources", "--config-dir", dir, "--env", "dev", "--format", "table")
	require.NoError(t, err)
	assert.Contains(t, out, "mofcom")
	assert.Contains(t, out, "press")
	assert.Contains(t, out, "yes")
}

func TestSourcesReadsEnvironmentVariables(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sources.staging.yaml"), []byte("news: {}\n"), 0600))
	t.Setenv("CC_ENV", "staging")
	t.Setenv("CC_CONFIG_DIR", dir)

	out, err := execute(t, "sources", "--format", "json")
	require.NoError(t, err)

	var rows []sourceRow
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	configured := map[string]bool{}
	for _, r := range rows {
		configured[r.Name] = r.Configured
	}
	assert.True(t, configured["news"])
}

func TestRunRequiresConfig(t *testing.T) {
	t.Parallel()

	_, err := execute(t, "run", "--config-dir", t.TempDir(), "--env", "prod")
	require.ErrorIs(t, err, config.ErrConfigNotFound)
	assert.Equal(t, cli.ExitFailure, cli.ExitCode(err))
}

func TestRunRejectsBadDate(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sources.dev.yaml"), []byte("news: {}\n"), 0600))

	_, err := execute(t, "run", "--config-dir", dir, "--env", "dev", "--date", "15/01/2024")
	require.ErrorIs(t, err, output.ErrInvalidDate)
}

func TestRunRejectsUnknownFormat(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sources.dev.yaml"), []byte("news: {}\n"), 0600))

	_, err := execute(t, "run", "--config-dir", dir, "--env", "dev", "--format", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown format")
}
