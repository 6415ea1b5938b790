// Package app provides the commands of cc-cdr.
package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/chinacompass/cc-fetcher/internal/cdr"
	"github.com/chinacompass/cc-fetcher/internal/cli"
	"github.com/chinacompass/cc-fetcher/internal/config"
	"github.com/chinacompass/cc-fetcher/internal/telemetry"
	"github.com/chinacompass/cc-fetcher/pkg/versions"
)

const binaryName = "cc-cdr"

// NewRootCmd creates the cc-cdr command tree
func NewRootCmd(level *slog.LevelVar) *cobra.Command {
	v := cli.NewViper()
	root := cli.NewRootCmd(binaryName, "Validate staged envelopes and reconstruct clean copies", v, level)
	root.Long = `cc-cdr is the content disarm and reconstruction stage. It never modifies
staged files: validate only reads them, clean writes freshly built documents
to another directory, and process moves a rejected batch to quarantine whole.

Exit code 2 means the batch was rejected.`

	root.AddCommand(newValidateCmd(v))
	root.AddCommand(newCleanCmd(v))
	root.AddCommand(newProcessCmd(v))
	return root
}

// addAliasFlags registers the optional source configuration used to map
// configured sources to the payload schema of their plugin
func addAliasFlags(cmd *cobra.Command) {
	cmd.Flags().String("env", "", "Environment of the source configuration (dev, staging, prod)")
	cmd.Flags().String("config-dir", "", "Directory holding sources.{env}.yaml; enables plugin aliases")
}

// aliasOptions maps every configured source whose plugin differs from its
// name onto that plugin's schema. Without --config-dir no aliases apply.
func aliasOptions(v *viper.Viper) ([]cdr.Option, error) {
	dir := v.GetString("config-dir")
	if dir == "" {
		return nil, nil
	}
	cfg, err := config.Load(config.WithEnv(v.GetString("env")), config.WithConfigDir(dir))
	if errors.Is(err, config.ErrConfigNotFound) {
		slog.Warn("No source configuration found, cleaning without aliases", "error", err)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var opts []cdr.Option
	for _, name := range cfg.Names() {
		src, _ := cfg.Source(name)
		if plugin := src.Plugin(); plugin != name {
			opts = append(opts, cdr.WithAlias(name, plugin))
		}
	}
	return opts, nil
}

// newMetrics builds the CDR instruments from CC_TELEMETRY_*
func newMetrics(ctx context.Context, v *viper.Viper) (*telemetry.CDRMetrics, func(), error) {
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
	metrics, err := telemetry.NewCDRMetrics(tel.MeterProvider())
	if err != nil {
		shutdown()
		return nil, nil, err
	}
	return metrics, shutdown, nil
}
