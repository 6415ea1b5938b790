package app

import (
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	ccapp "github.com/chinacompass/cc-fetcher/internal/app"
	"github.com/chinacompass/cc-fetcher/internal/schedule"
)

const defaultGracefulTimeout = 30 * time.Second

func newScheduleCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run the sources periodically and serve their status",
		Long: `Run the selected sources immediately and then every --interval, shifted by a
random offset of up to --jitter. The source configuration is reloaded when its
file changes. /health, /readiness, /status and /metrics are served on --address.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSchedule(cmd, v)
		},
	}
	addConfigFlags(cmd)
	addOutputFlags(cmd)
	cmd.Flags().Duration("interval", schedule.DefaultInterval, "Base period between runs")
	cmd.Flags().Duration("jitter", schedule.DefaultJitter, "Maximum random offset of each period")
	cmd.Flags().String("address", ccapp.DefaultAddress, "Address of the status API")
	return cmd
}

func runSchedule(cmd *cobra.Command, v *viper.Viper) error {
	ctx := cmd.Context()

	// /metrics is served from the Prometheus registry
	v.SetDefault("metrics.prometheus", true)
	tel, shutdown, err := newTelemetry(ctx, v)
	if err != nil {
		return err
	}
	defer shutdown()

	application, err := ccapp.NewScheduleApp(ctx,
		ccapp.WithConfigOptions(configOptions(v)...),
		ccapp.WithOutputDir(v.GetString("output-dir")),
		ccapp.WithStatusDir(v.GetString("status-dir")),
		ccapp.WithSources(v.GetStringSlice("source")...),
		ccapp.WithInterval(v.GetDuration("interval")),
		ccapp.WithJitter(v.GetDuration("jitter")),
		ccapp.WithAddress(v.GetString("address")),
		ccapp.WithTelemetry(tel),
	)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- application.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("Received shutdown signal")
	}
	return application.Stop(defaultGracefulTimeout)
}
