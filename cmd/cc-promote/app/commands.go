// Package app provides the commands of cc-promote.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/chinacompass/cc-fetcher/internal/cli"
	"github.com/chinacompass/cc-fetcher/internal/pipeline"
	"github.com/chinacompass/cc-fetcher/internal/snapshot"
	"github.com/chinacompass/cc-fetcher/internal/telemetry"
	"github.com/chinacompass/cc-fetcher/pkg/versions"
)

const binaryName = "cc-promote"

// NewRootCmd creates the cc-promote command tree
func NewRootCmd(level *slog.LevelVar) *cobra.Command {
	v := cli.NewViper()
	root := cli.NewRootCmd(binaryName, "Promote clean batches into the versioned store", v, level)
	root.Long = `cc-promote moves {root}/clean/{date} into {root}/store/{date} once its
validation report has passed, then commits the store so every promotion can
be audited and rolled back.`

	root.AddCommand(newPromoteCmd(v))
	root.AddCommand(newHistoryCmd(v))
	return root
}

func newPromoteCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "promote",
		Short: "Promote a clean batch and snapshot the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPromote(cmd, v)
		},
	}
	cmd.Flags().String("root", "", "Pipeline root directory (required)")
	cmd.Flags().String("date", "", "Batch date YYYY-MM-DD (required)")
	cmd.Flags().Bool("no-snapshot", false, "Skip the store commit")
	cmd.Flags().String("author-name", "", "Snapshot commit author name")
	cmd.Flags().String("author-email", "", "Snapshot commit author email")
	_ = cmd.MarkFlagRequired("root")
	_ = cmd.MarkFlagRequired("date")
	return cmd
}

// promoteOptions maps the snapshot flags onto pipeline options
func promoteOptions(v *viper.Viper) []pipeline.PromoteOption {
	if v.GetBool("no-snapshot") {
		return []pipeline.PromoteOption{pipeline.WithoutSnapshot()}
	}
	name, email := v.GetString("author-name"), v.GetString("author-email")
	if name == "" && email == "" {
		return nil
	}
	if name == "" {
		name = binaryName
	}
	return []pipeline.PromoteOption{pipeline.WithSnapshotOptions(snapshot.WithAuthor(name, email))}
}

func runPromote(cmd *cobra.Command, v *viper.Viper) error {
	ctx := cmd.Context()
	tracer, shutdown, err := newTracer(ctx, v)
	if err != nil {
		return err
	}
	defer shutdown()

	date := v.GetString("date")
	ctx, span := tracer.Start(ctx, "promote", trace.WithAttributes(attribute.String("date", date)))
	defer span.End()

	p, err := pipeline.New(v.GetString("root"))
	if err != nil {
		return err
	}
	result, err := p.Promote(ctx, date, promoteOptions(v)...)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, pipeline.ErrNotValidated) {
			return fmt.Errorf("refusing to promote %s: %w", date, err)
		}
		return err
	}
	span.SetAttributes(attribute.Int("files", len(result.Files)), attribute.String("commit", result.Commit))
	return cli.WriteJSON(cmd, result)
}

// newTracer builds the tracer from CC_TELEMETRY_*. Metrics are never pushed
// from the promotion host.
func newTracer(ctx context.Context, v *viper.Viper) (trace.Tracer, func(), error) {
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
	return tel.Tracer(binaryName), shutdown, nil
}
