// Package pipeline moves a dated batch across the trust boundary: staged
// files are validated, quarantined or reconstructed into the clean area, and
// clean files are promoted into the final store.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/chinacompass/cc-fetcher/internal/cdr"
	"github.com/chinacompass/cc-fetcher/internal/fsutil"
	"github.com/chinacompass/cc-fetcher/internal/output"
	"github.com/chinacompass/cc-fetcher/internal/telemetry"
	"github.com/chinacompass/cc-fetcher/internal/validators"
)

const lockFileName = ".pipeline.lock"

var (
	// ErrLocked is returned when another stage holds the root's lock
	ErrLocked = errors.New("pipeline root is locked by another run")

	// ErrNotValidated is returned when a clean batch has no passing report
	ErrNotValidated = errors.New("batch has not passed validation")

	// ErrValidationFailed matches every *ValidationFailure
	ErrValidationFailed = errors.New("validation failed")
)

// ValidationFailure reports a staged batch that was quarantined
type ValidationFailure struct {
	Date          string
	QuarantineDir string
	Result        validators.BatchResult
}

func (e *ValidationFailure) Error() string {
	_, failed := e.Result.Counts()
	if e.Result.Error != "" {
		return fmt.Sprintf("validation failed for %s: %s; quarantined in %s", e.Date, e.Result.Error, e.QuarantineDir)
	}
	return fmt.Sprintf("validation failed for %s: %d file(s) rejected; quarantined in %s", e.Date, failed, e.QuarantineDir)
}

// Is reports whether target is ErrValidationFailed
func (*ValidationFailure) Is(target error) bool {
	return target == ErrValidationFailed
}

// Layout names the stage directories under a root
type Layout struct {
	Root string
}

// Staging is where the fetch stage writes a date's envelopes
func (l Layout) Staging(date string) string {
	return filepath.Join(l.Root, "staging", date)
}

// Clean is where reconstructed envelopes wait for promotion
func (l Layout) Clean(date string) string {
	return filepath.Join(l.Root, "clean", date)
}

// Quarantine is where a rejected batch is moved, untouched
func (l Layout) Quarantine(date, runID string) string {
	return filepath.Join(l.Root, "quarantine", date+"-"+runID)
}

// StoreRoot is the final store, kept under snapshot history
func (l Layout) StoreRoot() string {
	return filepath.Join(l.Root, "store")
}

// Store is the final directory of a date
func (l Layout) Store(date string) string {
	return filepath.Join(l.StoreRoot(), date)
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithValidator replaces the default validator
func WithValidator(v *validators.Validator) Option {
	return func(p *Pipeline) {
		p.validator = v
	}
}

// WithCleaner replaces the default cleaner
func WithCleaner(c *cdr.Cleaner) Option {
	return func(p *Pipeline) {
		p.cleaner = c
	}
}

// WithRunID overrides the generator of quarantine run ids
func WithRunID(newRunID func() string) Option {
	return func(p *Pipeline) {
		p.newRunID = newRunID
	}
}

// WithMetrics counts quarantined documents
func WithMetrics(m *telemetry.CDRMetrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// Pipeline runs the validate, clean and promote stages over one root
type Pipeline struct {
	layout    Layout
	validator *validators.Validator
	cleaner   *cdr.Cleaner
	newRunID  func() string
	metrics   *telemetry.CDRMetrics
}

// New creates a Pipeline rooted at root
func New(root string, opts ...Option) (*Pipeline, error) {
	if root == "" {
		return nil, errors.New("pipeline root is required")
	}
	p := &Pipeline{
		layout:   Layout{Root: root},
		newRunID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.validator == nil {
		v, err := validators.New(validators.WithMetrics(p.metrics))
		if err != nil {
			return nil, err
		}
		p.validator = v
	}
	if p.cleaner == nil {
		p.cleaner = cdr.NewCleaner(cdr.WithMetrics(p.metrics))
	}
	return p, nil
}

// Layout returns the stage directories of the pipeline
func (p *Pipeline) Layout() Layout {
	return p.layout
}

// lock takes the root's stage lock without waiting
func (p *Pipeline) lock() (func(), error) {
	if err := os.MkdirAll(p.layout.Root, fsutil.DirPerm); err != nil {
		return nil, fmt.Errorf("failed to create pipeline root: %w", err)
	}
	fl := flock.New(filepath.Join(p.layout.Root, lockFileName))
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire pipeline lock: %w", err)
	}
	if !locked {
		return nil, ErrLocked
	}
	return func() {
		if err := fl.Unlock(); err != nil {
			slog.Warn("Failed to release pipeline lock", "error", err)
		}
	}, nil
}

func writeReport(dir string, result validators.BatchResult) error {
	data, err := output.Encode(result)
	if err != nil {
		return fmt.Errorf("failed to encode validation report: %w", err)
	}
	if err := fsutil.WriteFileAtomic(filepath.Join(dir, validators.ReportFileName), data, fsutil.FilePerm); err != nil {
		return fmt.Errorf("failed to write validation report: %w", err)
	}
	return nil
}

// checkDate rejects dates that would escape the layout
func checkDate(ctx context.Context, date string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return output.ValidateDate(date)
}
