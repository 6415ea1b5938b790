package app

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	ccapp "github.com/chinacompass/cc-fetcher/internal/app"
	"github.com/chinacompass/cc-fetcher/internal/config"
)

func newRunCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the selected sources once",
		Long: `Run the selected sources once, sequentially, and print a summary.

The summary is a table on a terminal and JSON otherwise; --format forces either.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runFetch(cmd, v)
		},
	}
	addConfigFlags(cmd)
	addOutputFlags(cmd)
	cmd.Flags().String("date", "", "Data date YYYY-MM-DD (default today)")
	cmd.Flags().String("format", "", "Summary format (table, json); table on a terminal by default")
	return cmd
}

func runFetch(cmd *cobra.Command, v *viper.Viper) error {
	ctx := cmd.Context()

	cfg, err := config.Load(configOptions(v)...)
	if err != nil {
		return err
	}
	date, err := runDate(v)
	if err != nil {
		return err
	}
	format, err := summaryFormat(v.GetString("format"), cmd.OutOrStdout())
	if err != nil {
		return err
	}

	tel, shutdown, err := newTelemetry(ctx, v)
	if err != nil {
		return err
	}
	defer shutdown()

	summary, err := ccapp.RunOnce(ctx, cfg, date, v.GetStringSlice("source"),
		ccapp.WithOutputDir(v.GetString("output-dir")),
		ccapp.WithStatusDir(v.GetString("status-dir")),
		ccapp.WithTelemetry(tel),
	)
	if err != nil {
		return err
	}

	if err := renderSummary(cmd.OutOrStdout(), summary, format); err != nil {
		return err
	}
	pushMetrics(ctx, tel, map[string]string{"env": cfg.Env})

	if failed := summary.Failed(); len(failed) > 0 {
		return failedSources(len(failed), len(summary.Outcomes))
	}
	return nil
}
