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
	"github.com/chinacompass/cc-fetcher/internal/pipeline"
	"github.com/chinacompass/cc-fetcher/internal/snapshot"
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

// processed stages one envelope under root and runs it through validation and
// reconstruction, leaving a clean batch ready for promotion
func processed(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	layout := pipeline.Layout{Root: root}
	_, err := output.NewWriter(filepath.Dir(layout.Staging(testDate))).Write(testDate, "news", map[string]any{
		"date":     testDate,
		"articles": []any{map[string]any{"title": "Trade talks resume", "url": "https://example.org/a"}},
	})
	require.NoError(t, err)

	p, err := pipeline.New(root)
	require.NoError(t, err)
	_, err = p.Process(t.Context(), testDate)
	require.NoError(t, err)
	return root
}

func TestPromote(t *testing.T) {
	t.Parallel()
	root := processed(t)

	out, err := execute(t, "promote", "--root", root, "--date", testDate,
		"--author-name", "Data Desk", "--author-email", "desk@example.org")
	require.NoError(t, err)

	var result pipeline.PromoteResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, []string{"news.json"}, result.Files)
	assert.NotEmpty(t, result.Commit)
	assert.FileExists(t, filepath.Join(root, "store", testDate, "news.json"))

	history, err := execute(t, "history", "--root", root, "--format", "json")
	require.NoError(t, err)
	var entries []snapshot.Entry
	require.NoError(t, json.Unmarshal([]byte(history), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, result.Commit, entries[0].Hash)

	table, err := execute(t, "history", "--root", root)
	require.NoError(t, err)
	assert.Contains(t, table, result.Commit[:12])
	assert.Contains(t, table, "promote 2024-01-15")
}

func TestPromoteWithoutSnapshot(t *testing.T) {
	t.Parallel()
	root := processed(t)

	out, err := execute(t, "promote", "--root", root, "--date", testDate, "--no-snapshot")
	require.NoError(t, err)
	assert.NotContains(t, out, `"commit"`)
	assert.NoDirExists(t, filepath.Join(root, "store", ".git"))
}

func TestPromoteRefusesUnvalidatedBatch(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	clean := pipeline.Layout{Root: root}.Clean(testDate)
	require.NoError(t, os.MkdirAll(clean, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(clean, "news.json"), []byte(`{}`), 0o600))

	_, err := execute(t, "promote", "--root", root, "--date", testDate)
	require.ErrorIs(t, err, pipeline.ErrNotValidated)
	assert.Equal(t, cli.ExitFailure, cli.ExitCode(err))
	assert.FileExists(t, filepath.Join(clean, "news.json"))
}

func TestHistoryEmptyStore(t *testing.T) {
	t.Parallel()

	out, err := execute(t, "history", "--root", t.TempDir(), "--format", "json")
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, out)

	_, err = execute(t, "history", "--root", t.TempDir(), "--format", "yaml")
	require.Error(t, err)
}

func TestPromoteOptions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		settings map[string]any
		want     int
	}{
		{name: "defaults", settings: nil, want: 0},
		{name: "no snapshot", settings: map[string]any{"no-snapshot": true, "author-name": "x"}, want: 1},
		{name: "author", settings: map[string]any{"author-email": "desk@example.org"}, want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			v := viper.New()
			for k, val := range tt.settings {
				v.Set(k, val)
			}
			assert.Len(t, promoteOptions(v), tt.want)
		})
	}
}
