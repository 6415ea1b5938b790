// Package status tracks and persists the per-source state of fetch runs.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/chinacompass/cc-fetcher/internal/fsutil"
)

// FileName is the name of each source's status file
const FileName = "status.json"

//go:generate mockgen -destination=mocks/mock_persistence.go -package=mocks -source=persistence.go Persistence

// Persistence stores per-source status
type Persistence interface {
	// Save stores the status of one source
	Save(ctx context.Context, source string, status SourceStatus) error

	// Load returns the status of one source, or a zero status on first run
	Load(ctx context.Context, source string) (SourceStatus, error)

	// LoadAll returns the status of every source that has one
	LoadAll(ctx context.Context) (map[string]SourceStatus, error)
}

// fileStatusPersistence keeps {basePath}/{source}/status.json per source
type fileStatusPersistence struct {
	basePath string
}

// NewFilePersistence creates file-backed status persistence under basePath
func NewFilePersistence(basePath string) Persistence {
	return &fileStatusPersistence{basePath: basePath}
}

func (f *fileStatusPersistence) path(source string) (string, error) {
	if !fsutil.IsSafeName(source) {
		return "", fmt.Errorf("invalid source name %q", source)
	}
	return filepath.Join(f.basePath, source, FileName), nil
}

func (f *fileStatusPersistence) Save(_ context.Context, source string, status SourceStatus) error {
	path, err := f.path(source)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal status for source '%s': %w", source, err)
	}
	if err := fsutil.WriteFileAtomic(path, data, fsutil.FilePerm); err != nil {
		return fmt.Errorf("failed to save status for source '%s': %w", source, err)
	}
	return nil
}

func (f *fileStatusPersistence) Load(_ context.Context, source string) (SourceStatus, error) {
	path, err := f.path(source)
	if err != nil {
		return SourceStatus{}, err
	}

	// #nosec G304 -- path is basePath plus a validated single path element
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return SourceStatus{}, nil
		}
		return SourceStatus{}, fmt.Errorf("failed to read status for source '%s': %w", source, err)
	}

	var status SourceStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return SourceStatus{}, fmt.Errorf("failed to unmarshal status for source '%s': %w", source, err)
	}
	return status, nil
}

func (f *fileStatusPersistence) LoadAll(ctx context.Context) (map[string]SourceStatus, error) {
	result := make(map[string]SourceStatus)

	entries, err := os.ReadDir(f.basePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return result, nil
		}
		return nil, fmt.Errorf("failed to read status directory: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		status, err := f.Load(ctx, entry.Name())
		if err != nil {
			// one unreadable file should not hide the others
			slog.WarnContext(ctx, "Skipping unreadable status", "source", entry.Name(), "error", err)
			continue
		}
		if status.Phase == "" {
			continue
		}
		result[entry.Name()] = status
	}
	return result, nil
}
