// Package cli holds the command plumbing shared by the cc binaries: viper
// setup with the CC prefix, the persistent --debug flag, the version command
// and exit codes.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/chinacompass/cc-fetcher/internal/config"
	"github.com/chinacompass/cc-fetcher/pkg/versions"
)

// Exit codes
const (
	ExitOK      = 0
	ExitFailure = 1

	// ExitRejected means a batch failed validation
	ExitRejected = 2
)

// ExitError carries the process exit code of a failed command
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit code %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// Exit wraps err with an exit code
func Exit(code int, err error) error {
	return &ExitError{Code: code, Err: err}
}

// ExitCode maps a command error to the process exit code
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// NewViper returns a viper instance reading CC_* variables. Flag names map to
// variables by upper-casing and replacing "." and "-" with "_", so --output-dir
// is also CC_OUTPUT_DIR.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(config.EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	return v
}

// NewRootCmd creates the root command of a binary. Before any subcommand runs,
// its flags are bound into v and --debug raises level to debug.
func NewRootCmd(use, short string, v *viper.Viper, level *slog.LevelVar) *cobra.Command {
	root := &cobra.Command{
		Use:               use,
		Short:             short,
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := v.BindPFlags(cmd.Flags()); err != nil {
				return fmt.Errorf("failed to bind flags: %w", err)
			}
			if v.GetBool("debug") && level != nil {
				level.Set(slog.LevelDebug)
			}
			return nil
		},
		Run: func(cmd *cobra.Command, _ []string) {
			// If no subcommand is provided, print help
			if err := cmd.Help(); err != nil {
				slog.Error("Error displaying help", "error", err)
			}
		},
	}
	root.PersistentFlags().Bool("debug", false, "Enable debug logging")
	root.SetGlobalNormalizationFunc(dashedFlagNames)
	root.AddCommand(NewVersionCmd(use))
	return root
}

// dashedFlagNames accepts --output_dir for --output-dir, mirroring the
// CC_OUTPUT_DIR spelling of the same setting
func dashedFlagNames(_ *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
}

// NewVersionCmd prints the build information
func NewVersionCmd(binary string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := versions.GetVersionInfo()
			format, err := cmd.Flags().GetString("format")
			if err != nil {
				return err
			}

			if format == "json" {
				output, err := json.MarshalIndent(info, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to format version info: %w", err)
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(output))
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s %s (commit %s, built %s, %s, %s)\n",
				binary, info.Version, info.Commit, info.BuildDate, info.GoVersion, info.Platform)
			return err
		},
	}
	cmd.Flags().String("format", "", "Output format (json)")
	return cmd
}

// Execute runs root until SIGINT or SIGTERM and returns the exit code
func Execute(root *cobra.Command) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := root.ExecuteContext(ctx)
	code := ExitCode(err)
	if err != nil && code != ExitOK {
		slog.Error("Command failed", "command", root.Name(), "error", err, "exit_code", code)
	}
	return code
}

// WriteJSON writes v to cmd's output as indented JSON
func WriteJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
