// Package output writes source payloads as dated JSON envelopes.
package output

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"time"

	"github.com/chinacompass/cc-fetcher/internal/fsutil"
	"github.com/chinacompass/cc-fetcher/pkg/versions"
)

// DateLayout is the layout of run dates and of the dated directories
const DateLayout = "2006-01-02"

var (
	// ErrInvalidDate is returned for dates that are not YYYY-MM-DD
	ErrInvalidDate = errors.New("invalid date")

	// ErrInvalidSource is returned for source names that are not a single safe path element
	ErrInvalidSource = errors.New("invalid source name")

	datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
)

// Metadata describes where and when an envelope's data came from
type Metadata struct {
	FetchTimestamp string `json:"fetch_timestamp"`
	SourceName     string `json:"source_name"`
	Version        string `json:"version"`
	Date           string `json:"date"`
}

// Envelope is the on-disk form of one source's output for one date
type Envelope struct {
	Metadata Metadata `json:"metadata"`
	Data     any      `json:"data"`
}

// Option configures a Writer
type Option func(*Writer)

// WithClock overrides the clock used for fetch_timestamp
func WithClock(now func() time.Time) Option {
	return func(w *Writer) {
		w.now = now
	}
}

// WithVersion overrides the envelope version string
func WithVersion(version string) Option {
	return func(w *Writer) {
		w.version = version
	}
}

// Writer persists envelopes under {dir}/{date}/{source}.json
type Writer struct {
	dir     string
	now     func() time.Time
	version string
}

// NewWriter creates a Writer rooted at dir
func NewWriter(dir string, opts ...Option) *Writer {
	w := &Writer{
		dir:     dir,
		now:     time.Now,
		version: versions.EnvelopeVersion(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Dir returns the output root
func (w *Writer) Dir() string {
	return w.dir
}

// Path returns where the envelope for (date, source) is written
func (w *Writer) Path(date, source string) (string, error) {
	if err := ValidateDate(date); err != nil {
		return "", err
	}
	if !fsutil.IsSafeName(source) {
		return "", fmt.Errorf("%w: %q", ErrInvalidSource, source)
	}
	return filepath.Join(w.dir, date, source+".json"), nil
}

// Write wraps payload in an envelope and writes it atomically, replacing any
// earlier envelope for the same date and source. It returns the file path.
func (w *Writer) Write(date, source string, payload any) (string, error) {
	path, err := w.Path(date, source)
	if err != nil {
		return "", err
	}

	env := Envelope{
		Metadata: Metadata{
			FetchTimestamp: w.now().UTC().Format(time.RFC3339Nano),
			SourceName:     source,
			Version:        w.version,
			Date:           date,
		},
		Data: payload,
	}

	data, err := encode(env)
	if err != nil {
		env.Data = normalize(payload, 0)
		data, err = encode(env)
	}
	if err != nil {
		return "", fmt.Errorf("failed to encode envelope for %s: %w", source, err)
	}
	if err := fsutil.WriteFileAtomic(path, data, fsutil.FilePerm); err != nil {
		return "", fmt.Errorf("failed to write envelope for %s: %w", source, err)
	}
	return path, nil
}

// Encode renders v as two-space indented JSON without HTML escaping.
// Values encoding/json cannot represent are replaced by their fmt form.
func Encode(v any) ([]byte, error) {
	data, err := encode(v)
	if err == nil {
		return data, nil
	}
	return encode(normalize(v, 0))
}

// ValidateDate checks that date is a real calendar date in YYYY-MM-DD form
func ValidateDate(date string) error {
	if !datePattern.MatchString(date) {
		return fmt.Errorf("%w: %q (want YYYY-MM-DD)", ErrInvalidDate, date)
	}
	if _, err := time.Parse(DateLayout, date); err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidDate, date, err)
	}
	return nil
}

func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
