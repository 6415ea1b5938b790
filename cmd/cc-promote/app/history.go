package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/chinacompass/cc-fetcher/internal/cli"
	"github.com/chinacompass/cc-fetcher/internal/pipeline"
	"github.com/chinacompass/cc-fetcher/internal/snapshot"
)

func newHistoryCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List store snapshots, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHistory(cmd, v)
		},
	}
	cmd.Flags().String("root", "", "Pipeline root directory (required)")
	cmd.Flags().Int("limit", 20, "Maximum number of snapshots, 0 for all")
	cmd.Flags().String("format", "table", "Output format (table or json)")
	_ = cmd.MarkFlagRequired("root")
	return cmd
}

func runHistory(cmd *cobra.Command, v *viper.Viper) error {
	format := v.GetString("format")
	if format != "table" && format != "json" {
		return fmt.Errorf("unknown format %q, expected table or json", format)
	}

	layout := pipeline.Layout{Root: v.GetString("root")}
	store, err := snapshot.Open(layout.StoreRoot())
	if err != nil {
		return err
	}
	entries, err := store.History(v.GetInt("limit"))
	if err != nil {
		return err
	}

	if format == "json" {
		if entries == nil {
			entries = []snapshot.Entry{}
		}
		return cli.WriteJSON(cmd, entries)
	}

	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.Header([]string{"Commit", "When", "Message"})
	for _, e := range entries {
		row := []string{e.Hash[:min(12, len(e.Hash))], e.When.UTC().Format(time.RFC3339), strings.TrimSpace(e.Message)}
		if err := table.Append(row); err != nil {
			return err
		}
	}
	return table.Render()
}
