// Package cdr rebuilds validated envelopes from an allow-list. Nothing is
// filtered in place: every clean document is a new value holding only
// recognized fields, with strings stripped of markup and URLs re-checked.
package cdr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chinacompass/cc-fetcher/internal/fsutil"
	"github.com/chinacompass/cc-fetcher/internal/output"
	"github.com/chinacompass/cc-fetcher/internal/telemetry"
	"github.com/chinacompass/cc-fetcher/internal/validators"
	"github.com/chinacompass/cc-fetcher/internal/versions"
	pkgversions "github.com/chinacompass/cc-fetcher/pkg/versions"
)

// MaxFileSize is the largest staged file the cleaner reads
const MaxFileSize = 50 << 20

var (
	// ErrFileTooLarge is returned for inputs over MaxFileSize
	ErrFileTooLarge = errors.New("file too large")

	// ErrNotObject is returned when a document's root is not a JSON object
	ErrNotObject = errors.New("document root is not an object")
)

// Option configures a Cleaner
type Option func(*Cleaner)

// WithClock overrides the clock used for cleaned_at
func WithClock(now func() time.Time) Option {
	return func(c *Cleaner) {
		c.now = now
	}
}

// WithVersion sets the version the cleaner compares envelope versions against
func WithVersion(version string) Option {
	return func(c *Cleaner) {
		c.version = version
	}
}

// WithMetrics counts cleaned and rejected documents
func WithMetrics(m *telemetry.CDRMetrics) Option {
	return func(c *Cleaner) {
		c.metrics = m
	}
}

// WithAlias cleans files of source with the payload schema of plugin
func WithAlias(source, plugin string) Option {
	return func(c *Cleaner) {
		c.aliases[source] = plugin
	}
}

// Cleaner reconstructs staged envelope files into a clean directory
type Cleaner struct {
	now     func() time.Time
	version string
	metrics *telemetry.CDRMetrics
	aliases map[string]string
}

// NewCleaner creates a Cleaner
func NewCleaner(opts ...Option) *Cleaner {
	c := &Cleaner{
		now:     time.Now,
		version: pkgversions.EnvelopeVersion(),
		aliases: map[string]string{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Result is the outcome of cleaning one directory
type Result struct {
	In      string            `json:"in"`
	Out     string            `json:"out"`
	Cleaned []string          `json:"cleaned"`
	Failed  map[string]string `json:"failed"`
}

// OK reports whether every file was cleaned
func (r Result) OK() bool {
	return len(r.Failed) == 0
}

// CleanDir reconstructs every *.json envelope directly inside in and writes
// the clean copies under out with the same names. A file that cannot be
// cleaned is recorded and skipped. The error is non-nil only when in cannot
// be listed or ctx is done.
func (c *Cleaner) CleanDir(ctx context.Context, in, out string) (Result, error) {
	files, err := fsutil.JSONFiles(in)
	if err != nil {
		return Result{}, fmt.Errorf("failed to list staged files in %s: %w", in, err)
	}

	result := Result{In: in, Out: out, Cleaned: []string{}, Failed: map[string]string{}}
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		name := filepath.Base(path)
		if name == validators.ReportFileName {
			continue
		}
		if err := c.CleanFile(ctx, path, filepath.Join(out, name)); err != nil {
			slog.WarnContext(ctx, "Failed to clean file", "file", name, "error", err)
			result.Failed[name] = err.Error()
			c.metrics.RecordDocument(ctx, "rejected")
			continue
		}
		result.Cleaned = append(result.Cleaned, name)
		c.metrics.RecordDocument(ctx, "cleaned")
	}

	if len(result.Cleaned) == 0 && len(result.Failed) == 0 {
		slog.WarnContext(ctx, "No staged files to clean", "dir", in)
	}
	slog.InfoContext(ctx, "Cleaned staged batch",
		"in", in, "out", out, "cleaned", len(result.Cleaned), "failed", len(result.Failed))
	return result, nil
}

// CleanFile reconstructs the envelope at inPath and writes it atomically to
// outPath. The payload schema is chosen by the file's source name.
func (c *Cleaner) CleanFile(ctx context.Context, inPath, outPath string) error {
	raw, err := readObject(inPath)
	if err != nil {
		return err
	}
	source := strings.TrimSuffix(filepath.Base(inPath), filepath.Ext(inPath))
	doc := c.CleanEnvelope(ctx, source, raw)

	data, err := output.Encode(doc)
	if err != nil {
		return fmt.Errorf("failed to encode clean document: %w", err)
	}
	if err := fsutil.WriteFileAtomic(outPath, data, fsutil.FilePerm); err != nil {
		return fmt.Errorf("failed to write clean document: %w", err)
	}
	return nil
}

// CleanEnvelope rebuilds metadata and, when data is an object, the payload
// with the schema of source's plugin.
func (c *Cleaner) CleanEnvelope(ctx context.Context, source string, raw map[string]any) Document {
	doc := Document{}
	if meta, ok := raw["metadata"].(map[string]any); ok {
		doc["metadata"] = c.rebuildMetadata(ctx, source, meta)
	}
	if data, ok := raw["data"].(map[string]any); ok {
		plugin := source
		if alias, ok := c.aliases[source]; ok {
			plugin = alias
		}
		doc["data"] = Reconstruct(data, SchemaFor(plugin))
	}
	return doc
}

func (c *Cleaner) rebuildMetadata(ctx context.Context, source string, meta map[string]any) Document {
	version := metaString(meta, "version", 20)
	if version == "" {
		version = pkgversions.DefaultEnvelopeVersion
	}
	if versions.IsNewer(version, c.version) {
		slog.WarnContext(ctx, "Envelope was written by a newer fetcher",
			"source", source, "envelope_version", version, "cleaner_version", c.version)
	}
	return Document{
		"source_name":     metaString(meta, "source_name", 50),
		"fetch_timestamp": metaString(meta, "fetch_timestamp", 50),
		"date":            metaString(meta, "date", maxDateLength),
		"version":         version,
		"cleaned_at":      c.now().UTC().Format(time.RFC3339),
	}
}

func metaString(meta map[string]any, key string, maxLen int) string {
	v, ok := rebuildString(meta[key], maxLen)
	if !ok {
		return ""
	}
	return v.(string)
}

// readObject decodes the file at path, which must hold a JSON object
func readObject(path string) (map[string]any, error) {
	// #nosec G304 -- the path comes from listing the staged directory
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() > MaxFileSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFileTooLarge, info.Size())
	}

	dec := json.NewDecoder(io.LimitReader(f, MaxFileSize+1))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, ErrNotObject
	}
	return obj, nil
}
