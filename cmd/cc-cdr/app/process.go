package app

import (
	"errors"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/chinacompass/cc-fetcher/internal/cdr"
	"github.com/chinacompass/cc-fetcher/internal/cli"
	"github.com/chinacompass/cc-fetcher/internal/pipeline"
	"github.com/chinacompass/cc-fetcher/internal/validators"
)

func newProcessCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Validate a staged batch and clean it, or quarantine it",
		Long: `Validate {root}/staging/{date}. A batch with any violation is moved whole
to {root}/quarantine/{date}-{run} with its report and the exit code is 2.
A passing batch is reconstructed into {root}/clean/{date}, ready for promotion.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runProcess(cmd, v)
		},
	}
	cmd.Flags().String("root", "", "Pipeline root directory (required)")
	cmd.Flags().String("date", "", "Batch date YYYY-MM-DD (required)")
	_ = cmd.MarkFlagRequired("root")
	_ = cmd.MarkFlagRequired("date")
	addAliasFlags(cmd)
	return cmd
}

func runProcess(cmd *cobra.Command, v *viper.Viper) error {
	ctx := cmd.Context()
	metrics, shutdown, err := newMetrics(ctx, v)
	if err != nil {
		return err
	}
	defer shutdown()

	opts, err := aliasOptions(v)
	if err != nil {
		return err
	}
	validator, err := validators.New(validators.WithMetrics(metrics))
	if err != nil {
		return err
	}
	p, err := pipeline.New(v.GetString("root"),
		pipeline.WithValidator(validator),
		pipeline.WithCleaner(cdr.NewCleaner(append(opts, cdr.WithMetrics(metrics))...)),
		pipeline.WithMetrics(metrics),
	)
	if err != nil {
		return err
	}

	result, err := p.Process(ctx, v.GetString("date"))
	if result.RunID != "" {
		if writeErr := cli.WriteJSON(cmd, result); writeErr != nil {
			return writeErr
		}
	}
	if errors.Is(err, pipeline.ErrValidationFailed) {
		return cli.Exit(cli.ExitRejected, err)
	}
	return err
}
