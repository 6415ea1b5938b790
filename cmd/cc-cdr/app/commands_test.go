package app

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chinacompass/cc-fetcher/internal/cli"
	"github.com/chinacompass/cc-fetcher/internal/output"
	"github.com/chinacompass/cc-fetcher/internal/validators"
)

const testDate = "2024-01-15"

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

func stage(t *testing.T, dir, source string, payload any) {
	t.Helper()
	_, err := output.NewWriter(dir).Write(testDate, source, payload)
	require.NoError(t, err)
}

func article(title string) map[string]any {
	return map[string]any{
		"date":     testDate,
		"articles": []any{map[string]any{"title": title, "url": "https://example.org/a"}},
	}
}

func TestValidatePassing(t *testing.T) {
	t.Parallel()
	staging := t.TempDir()
	stage(t, staging, "news", article("Trade talks resume"))

	out, err := execute(t, "validate", "--dir", filepath.Join(staging, testDate))
	require.NoError(t, err)

	var result validators.BatchResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.True(t, result.Passed)
	assert.Contains(t, result.Files, "news.json")
}

func TestValidateRejected(t *testing.T) {
	t.Parallel()
	staging := t.TempDir()
	stage(t, staging, "news", article("<script>alert(1)</script>"))

	out, err := execute(t, "validate", "--dir", filepath.Join(staging, testDate))
	require.Error(t, err)
	assert.Equal(t, cli.ExitRejected, cli.ExitCode(err))
	assert.Contains(t, out, "data.articles[0].title")
}

func TestValidateEmptyDirectory(t *testing.T) {
	t.Parallel()

	_, err := execute(t, "validate", "--dir", t.TempDir())
	require.Error(t, err)
	assert.Equal(t, cli.ExitRejected, cli.ExitCode(err))
	assert.Contains(t, err.Error(), "no staged files")
}

func TestCleanWithAliases(t *testing.T) {
	t.Parallel()
	staging := t.TempDir()
	stage(t, staging, "mofcom", map[string]any{
		"date":           testDate,
		"articles":       []any{map[string]any{"title": "Notice <b>issued</b>", "url": "https://example.org/n"}},
		"total_articles": 1,
		"injected":       "dropped",
	})

	configDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(configDir, "sources.dev.yaml"),
		[]byte("mofcom:\n  plugin: news\n  url: https://example.org\n"), 0600))

	out := t.TempDir()
	_, err := execute(t, "clean",
		"--in", filepath.Join(staging, testDate), "--out", out,
		"--config-dir", configDir, "--env", "dev")
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(out, "mofcom.json"))
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	payload := doc["data"].(map[string]any)
	assert.NotContains(t, payload, "injected")
	assert.InDelta(t, 1, payload["total_articles"], 0, "news schema applies through the alias")
	assert.Equal(t, "Notice issued", payload["articles"].([]any)[0].(map[string]any)["title"])
}

func TestProcess(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	stage(t, filepath.Join(root, "staging"), "news", article("Trade talks resume"))

	out, err := execute(t, "process", "--root", root, "--date", testDate)
	require.NoError(t, err)
	assert.Contains(t, out, `"passed": true`)
	assert.FileExists(t, filepath.Join(root, "clean", testDate, "news.json"))
	assert.FileExists(t, filepath.Join(root, "clean", testDate, validators.ReportFileName))
}

func TestProcessQuarantines(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	stage(t, filepath.Join(root, "staging"), "news", article("javascript:alert(1)"))

	out, err := execute(t, "process", "--root", root, "--date", testDate)
	require.Error(t, err)
	assert.Equal(t, cli.ExitRejected, cli.ExitCode(err))
	assert.Contains(t, out, "quarantine_dir")
	assert.NoDirExists(t, filepath.Join(root, "staging", testDate))
	assert.NoDirExists(t, filepath.Join(root, "clean", testDate))
}

func TestProcessRequiresFlags(t *testing.T) {
	t.Parallel()

	_, err := execute(t, "process", "--root", t.TempDir())
	require.Error(t, err)
	assert.Equal(t, cli.ExitFailure, cli.ExitCode(err))
}

func TestAliasOptions(t *testing.T) {
	t.Parallel()

	v := viper.New()
	opts, err := aliasOptions(v)
	require.NoError(t, err)
	assert.Empty(t, opts)

	v.Set("config-dir", t.TempDir())
	v.Set("env", "dev")
	opts, err = aliasOptions(v)
	require.NoError(t, err, "a missing configuration disables aliases")
	assert.Empty(t, opts)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sources.dev.yaml"),
		[]byte("news: {}\nmofcom:\n  plugin: press\n  url: https://example.org\n"), 0600))
	v.Set("config-dir", dir)
	opts, err = aliasOptions(v)
	require.NoError(t, err)
	assert.Len(t, opts, 1)
}
