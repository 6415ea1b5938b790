package app

import (
	"errors"
	"log/slog"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	ccapp "github.com/chinacompass/cc-fetcher/internal/app"
	"github.com/chinacompass/cc-fetcher/internal/config"
)

func newSourcesCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "List the registered sources",
		Long: `List every built-in source and every source the configuration registers
under a built-in plugin. A missing configuration file lists the built-ins only.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return listSources(cmd, v)
		},
	}
	addConfigFlags(cmd)
	cmd.Flags().String("format", "", "Output format (table, json); table on a terminal by default")
	return cmd
}

// sourceRow is one line of the sources listing
type sourceRow struct {
	Name       string `json:"name"`
	Plugin     string `json:"plugin"`
	Configured bool   `json:"configured"`
}

func listSources(cmd *cobra.Command, v *viper.Viper) error {
	cfg, err := config.Load(configOptions(v)...)
	if errors.Is(err, config.ErrConfigNotFound) {
		slog.Warn("No source configuration found, listing built-in sources", "error", err)
		cfg = config.NewAppConfig(config.DefaultEnv)
	} else if err != nil {
		return err
	}

	format, err := summaryFormat(v.GetString("format"), cmd.OutOrStdout())
	if err != nil {
		return err
	}

	// Plugins are only constructed, never called, so the default transport is fine
	components, err := ccapp.NewComponents(cfg)
	if err != nil {
		return err
	}

	rows := make([]sourceRow, 0, len(components.Registry.Names()))
	for _, name := range components.Registry.Names() {
		src, configured := cfg.SourceOrDefault(name)
		rows = append(rows, sourceRow{Name: name, Plugin: src.Plugin(), Configured: configured})
	}

	if format == formatJSON {
		return writeJSON(cmd.OutOrStdout(), rows)
	}
	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.Header([]string{"Source", "Plugin", "Configured"})
	for _, r := range rows {
		configured := "no"
		if r.Configured {
			configured = "yes"
		}
		if err := table.Append([]string{r.Name, r.Plugin, configured}); err != nil {
			return err
		}
	}
	return table.Render()
}
