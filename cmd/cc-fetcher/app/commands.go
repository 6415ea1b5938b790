// Package app provides the commands of cc-fetcher.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/chinacompass/cc-fetcher/internal/cli"
	"github.com/chinacompass/cc-fetcher/internal/config"
	"github.com/chinacompass/cc-fetcher/internal/output"
	"github.com/chinacompass/cc-fetcher/internal/telemetry"
	"github.com/chinacompass/cc-fetcher/pkg/versions"
)

const binaryName = "cc-fetcher"

// NewRootCmd creates the cc-fetcher command tree
func NewRootCmd(level *slog.LevelVar) *cobra.Command {
	v := cli.NewViper()
	root := cli.NewRootCmd(binaryName, "Fetch data from the configured external sources", v, level)
	root.Long = `cc-fetcher runs the configured sources, one at a time, and writes one JSON
envelope per successful source to {output-dir}/{date}/{source}.json.

A failing source never stops the others. The exit code is 0 only when every
selected source succeeded.`

	root.AddCommand(newRunCmd(v))
	root.AddCommand(newScheduleCmd(v))
	root.AddCommand(newSourcesCmd(v))
	return root
}

// addConfigFlags registers the flags that locate the source configuration
func addConfigFlags(cmd *cobra.Command) {
	cmd.Flags().String("env", "", "Environment (dev, staging, prod); defaults to CC_ENV, then dev")
	cmd.Flags().String("config-dir", "",
		"Directory holding sources.{env}.yaml (default ./config, then $XDG_CONFIG_HOME/cc-fetcher)")
}

// addOutputFlags registers the flags that locate envelopes and status files
func addOutputFlags(cmd *cobra.Command) {
	cmd.Flags().String("output-dir", "data", "Directory receiving {date}/{source}.json envelopes")
	cmd.Flags().String("status-dir", "status", "Directory receiving per-source status files")
	cmd.Flags().StringSlice("source", nil, "Source to run (repeatable); all registered sources when omitted")
}

func configOptions(v *viper.Viper) []config.Option {
	opts := []config.Option{config.WithEnv(v.GetString("env"))}
	if dir := v.GetString("config-dir"); dir != "" {
		opts = append(opts, config.WithConfigDir(dir))
	}
	return opts
}

// runDate returns the --date flag, or today in local time
func runDate(v *viper.Viper) (string, error) {
	date := v.GetString("date")
	if date == "" {
		return time.Now().Format(output.DateLayout), nil
	}
	if err := output.ValidateDate(date); err != nil {
		return "", err
	}
	return date, nil
}

// newTelemetry builds the process telemetry from CC_TELEMETRY_* and CC_METRICS_*
func newTelemetry(ctx context.Context, v *viper.Viper) (*telemetry.Telemetry, func(), error) {
	tel, err := telemetry.New(ctx, telemetry.FromViper(v, binaryName, versions.Version))
	if err != nil {
		return nil, nil, err
	}
	shutdown := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			slog.Warn("Failed to shut down telemetry", "error", err)
		}
	}
	return tel, shutdown, nil
}

// pushMetrics sends the registry to the Pushgateway when one is configured
func pushMetrics(ctx context.Context, tel *telemetry.Telemetry, grouping map[string]string) {
	err := tel.Push(ctx, grouping)
	switch {
	case errors.Is(err, telemetry.ErrNoPushgateway):
	case err != nil:
		slog.WarnContext(ctx, "Failed to push metrics", "error", err)
	}
}

func failedSources(n, total int) error {
	return cli.Exit(cli.ExitFailure, fmt.Errorf("%d of %d source(s) failed", n, total))
}
