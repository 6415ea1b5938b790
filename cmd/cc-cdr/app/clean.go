package app

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/chinacompass/cc-fetcher/internal/cdr"
	"github.com/chinacompass/cc-fetcher/internal/cli"
)

func newCleanCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Reconstruct clean copies of every envelope in a directory",
		Long: `Rebuild every *.json envelope directly inside --in from its per-source
allow-list schema and write the result under --out with the same name.
Nothing is validated here; run validate first or use process.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runClean(cmd, v)
		},
	}
	cmd.Flags().String("in", "", "Directory of validated envelopes (required)")
	cmd.Flags().String("out", "", "Directory receiving clean envelopes (required)")
	_ = cmd.MarkFlagRequired("in")
	_ = cmd.MarkFlagRequired("out")
	addAliasFlags(cmd)
	return cmd
}

func runClean(cmd *cobra.Command, v *viper.Viper) error {
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
	cleaner := cdr.NewCleaner(append(opts, cdr.WithMetrics(metrics))...)

	result, err := cleaner.CleanDir(ctx, v.GetString("in"), v.GetString("out"))
	if err != nil {
		return err
	}
	if err := cli.WriteJSON(cmd, result); err != nil {
		return err
	}
	if !result.OK() {
		names := slices.Sorted(maps.Keys(result.Failed))
		return fmt.Errorf("failed to clean %d file(s): %s", len(names), strings.Join(names, ", "))
	}
	return nil
}
