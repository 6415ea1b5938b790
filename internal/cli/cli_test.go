package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExitCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "nil", err: nil, want: ExitOK},
		{name: "plain error", err: errors.New("boom"), want: ExitFailure},
		{name: "exit error", err: Exit(ExitRejected, errors.New("rejected")), want: ExitRejected},
		{name: "wrapped exit error", err: fmt.Errorf("process: %w", Exit(ExitRejected, nil)), want: ExitRejected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestExitErrorUnwraps(t *testing.T) {
	t.Parallel()
	cause := errors.New("cause")
	err := Exit(ExitFailure, cause)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "cause", err.Error())
	assert.Equal(t, "exit code 2", Exit(ExitRejected, nil).Error())
}

func TestVersionCommandJSON(t *testing.T) {
	t.Parallel()

	root := NewRootCmd("cc-test", "test", NewViper(), nil)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version", "--format", "json"})
	require.NoError(t, root.Execute())

	var info map[string]string
	require.NoError(t, json.Unmarshal(out.Bytes(), &info))
	assert.Contains(t, info, "version")
	assert.Contains(t, info, "go_version")
}

func TestDebugFlagRaisesLevel(t *testing.T) {
	t.Parallel()

	level := new(slog.LevelVar)
	v := NewViper()
	root := NewRootCmd("cc-test", "test", v, level)
	var seen string
	echo := &cobra.Command{
		Use: "echo",
		RunE: func(*cobra.Command, []string) error {
			seen = v.GetString("name")
			return nil
		},
	}
	echo.Flags().String("name", "", "")
	root.AddCommand(echo)
	root.SetArgs([]string{"echo", "--debug", "--name", "x"})
	require.NoError(t, root.Execute())

	assert.Equal(t, slog.LevelDebug, level.Level())
	assert.Equal(t, "x", seen)
}

func TestUnderscoreFlagNames(t *testing.T) {
	t.Parallel()

	v := NewViper()
	root := NewRootCmd("cc-test", "test", v, nil)
	var seen string
	fetch := &cobra.Command{
		Use: "fetch",
		RunE: func(*cobra.Command, []string) error {
			seen = v.GetString("output-dir")
			return nil
		},
	}
	fetch.Flags().String("output-dir", "data", "")
	root.AddCommand(fetch)
	root.SetArgs([]string{"fetch", "--output_dir", "elsewhere"})
	require.NoError(t, root.Execute())

	assert.Equal(t, "elsewhere", seen)
}
