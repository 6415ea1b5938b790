package app

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/chinacompass/cc-fetcher/internal/cli"
	"github.com/chinacompass/cc-fetcher/internal/validators"
)

func newValidateCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate every envelope in a directory",
		Long: `Validate every *.json envelope directly inside --dir and print the report.
Files are only read. Exit code 2 when any file is rejected or the directory
holds no envelopes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runValidate(cmd, v)
		},
	}
	cmd.Flags().String("dir", "", "Directory of staged envelopes (required)")
	_ = cmd.MarkFlagRequired("dir")
	return cmd
}

func runValidate(cmd *cobra.Command, v *viper.Viper) error {
	ctx := cmd.Context()
	metrics, shutdown, err := newMetrics(ctx, v)
	if err != nil {
		return err
	}
	defer shutdown()

	validator, err := validators.New(validators.WithMetrics(metrics))
	if err != nil {
		return err
	}
	result, err := validator.ValidateDir(ctx, v.GetString("dir"))
	if err != nil {
		return err
	}
	if err := cli.WriteJSON(cmd, result); err != nil {
		return err
	}

	if !result.Passed {
		if result.Error != "" {
			return cli.Exit(cli.ExitRejected, fmt.Errorf("validation failed: %s", result.Error))
		}
		_, failed := result.Counts()
		return cli.Exit(cli.ExitRejected, fmt.Errorf("validation failed: %d file(s) rejected", failed))
	}
	return nil
}
