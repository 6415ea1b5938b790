package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/chinacompass/cc-fetcher/internal/fsutil"
	"github.com/chinacompass/cc-fetcher/internal/snapshot"
	"github.com/chinacompass/cc-fetcher/internal/validators"
)

// PromoteOption configures one promotion
type PromoteOption func(*promoteOptions)

type promoteOptions struct {
	snapshot     bool
	snapshotOpts []snapshot.Option
}

// WithoutSnapshot skips the store commit
func WithoutSnapshot() PromoteOption {
	return func(o *promoteOptions) {
		o.snapshot = false
	}
}

// WithSnapshotOptions configures the store repository
func WithSnapshotOptions(opts ...snapshot.Option) PromoteOption {
	return func(o *promoteOptions) {
		o.snapshotOpts = append(o.snapshotOpts, opts...)
	}
}

// PromoteResult describes one promotion
type PromoteResult struct {
	Date   string   `json:"date"`
	Dir    string   `json:"dir"`
	Files  []string `json:"files"`
	Commit string   `json:"commit,omitempty"`
}

// Promote moves the clean files of date into store/{date}, replacing files
// of the same name, commits the store, and removes the staged and clean
// inputs. It refuses a batch whose report is missing or failed.
func (p *Pipeline) Promote(ctx context.Context, date string, opts ...PromoteOption) (PromoteResult, error) {
	o := promoteOptions{snapshot: true}
	for _, opt := range opts {
		opt(&o)
	}
	if err := checkDate(ctx, date); err != nil {
		return PromoteResult{}, err
	}
	unlock, err := p.lock()
	if err != nil {
		return PromoteResult{}, err
	}
	defer unlock()

	cleanDir := p.layout.Clean(date)
	if err := checkReport(cleanDir); err != nil {
		return PromoteResult{}, err
	}

	files, err := fsutil.JSONFiles(cleanDir)
	if err != nil {
		return PromoteResult{}, fmt.Errorf("failed to list clean files: %w", err)
	}

	storeDir := p.layout.Store(date)
	if err := os.MkdirAll(storeDir, fsutil.DirPerm); err != nil {
		return PromoteResult{}, fmt.Errorf("failed to create store directory: %w", err)
	}
	res := PromoteResult{Date: date, Dir: storeDir, Files: []string{}}
	for _, path := range files {
		name := filepath.Base(path)
		if name == validators.ReportFileName {
			continue
		}
		if err := os.Rename(path, filepath.Join(storeDir, name)); err != nil {
			return res, fmt.Errorf("failed to promote %s: %w", name, err)
		}
		res.Files = append(res.Files, name)
	}

	if o.snapshot {
		hash, err := p.commit(ctx, date, len(res.Files), o.snapshotOpts)
		if err != nil {
			return res, err
		}
		res.Commit = hash
	}

	for _, dir := range []string{p.layout.Staging(date), cleanDir} {
		if err := os.RemoveAll(dir); err != nil {
			return res, fmt.Errorf("failed to remove %s: %w", dir, err)
		}
	}
	slog.InfoContext(ctx, "Promoted clean batch", "date", date, "files", len(res.Files), "commit", res.Commit)
	return res, nil
}

func (p *Pipeline) commit(ctx context.Context, date string, n int, opts []snapshot.Option) (string, error) {
	store, err := snapshot.Open(p.layout.StoreRoot(), opts...)
	if err != nil {
		return "", err
	}
	hash, err := store.Commit(ctx, fmt.Sprintf("promote %s (%d files)", date, n))
	if errors.Is(err, snapshot.ErrNothingToCommit) {
		slog.InfoContext(ctx, "Store unchanged, no snapshot recorded", "date", date)
		return "", nil
	}
	return hash, err
}

// checkReport requires a passing validation report in dir
func checkReport(dir string) error {
	data, err := os.ReadFile(filepath.Join(dir, validators.ReportFileName)) // #nosec G304 -- path built from the layout
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: no %s in %s", ErrNotValidated, validators.ReportFileName, dir)
	}
	if err != nil {
		return fmt.Errorf("failed to read validation report: %w", err)
	}
	var report validators.BatchResult
	if err := json.Unmarshal(data, &report); err != nil {
		return fmt.Errorf("%w: unreadable report: %v", ErrNotValidated, err)
	}
	if !report.Passed {
		return fmt.Errorf("%w: report in %s did not pass", ErrNotValidated, dir)
	}
	return nil
}
