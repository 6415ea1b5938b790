package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/chinacompass/cc-fetcher/internal/cdr"
	"github.com/chinacompass/cc-fetcher/internal/fsutil"
	"github.com/chinacompass/cc-fetcher/internal/validators"
)

// ProcessResult describes one validate-and-clean run
type ProcessResult struct {
	Date          string                 `json:"date"`
	RunID         string                 `json:"run_id"`
	Validation    validators.BatchResult `json:"validation"`
	Clean         *cdr.Result            `json:"clean,omitempty"`
	QuarantineDir string                 `json:"quarantine_dir,omitempty"`
}

// Process validates staging/{date}. A failing batch is moved whole to
// quarantine with its report and a *ValidationFailure is returned. A passing
// batch is reconstructed into clean/{date} and its report written there.
func (p *Pipeline) Process(ctx context.Context, date string) (ProcessResult, error) {
	if err := checkDate(ctx, date); err != nil {
		return ProcessResult{}, err
	}
	unlock, err := p.lock()
	if err != nil {
		return ProcessResult{}, err
	}
	defer unlock()

	res := ProcessResult{Date: date, RunID: p.newRunID()}
	staging := p.layout.Staging(date)
	logger := slog.With("date", date, "run_id", res.RunID)

	batch, err := p.validator.ValidateDir(ctx, staging)
	if err != nil {
		return res, err
	}
	res.Validation = batch

	if !batch.Passed {
		qdir, err := p.quarantine(ctx, date, res.RunID, batch)
		if err != nil {
			return res, err
		}
		res.QuarantineDir = qdir
		logger.WarnContext(ctx, "Staged batch quarantined", "dir", qdir)
		return res, &ValidationFailure{Date: date, QuarantineDir: qdir, Result: batch}
	}

	cleanDir := p.layout.Clean(date)
	if err := os.RemoveAll(cleanDir); err != nil {
		return res, fmt.Errorf("failed to reset clean directory: %w", err)
	}
	cleaned, err := p.cleaner.CleanDir(ctx, staging, cleanDir)
	if err != nil {
		return res, err
	}
	res.Clean = &cleaned
	if !cleaned.OK() {
		return res, fmt.Errorf("failed to clean %d file(s): %s", len(cleaned.Failed), strings.Join(sortedKeys(cleaned.Failed), ", "))
	}

	if err := writeReport(cleanDir, batch); err != nil {
		return res, err
	}
	logger.InfoContext(ctx, "Staged batch cleaned", "dir", cleanDir, "files", len(cleaned.Cleaned))
	return res, nil
}

// quarantine moves the staged directory aside and writes the report into it
func (p *Pipeline) quarantine(ctx context.Context, date, runID string, batch validators.BatchResult) (string, error) {
	qdir := p.layout.Quarantine(date, runID)
	if err := os.MkdirAll(filepath.Dir(qdir), fsutil.DirPerm); err != nil {
		return "", fmt.Errorf("failed to create quarantine directory: %w", err)
	}
	if err := os.Rename(p.layout.Staging(date), qdir); err != nil {
		return "", fmt.Errorf("failed to quarantine staged batch: %w", err)
	}
	for range batch.Files {
		p.metrics.RecordDocument(ctx, "quarantined")
	}
	if err := writeReport(qdir, batch); err != nil {
		return qdir, err
	}
	return qdir, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
