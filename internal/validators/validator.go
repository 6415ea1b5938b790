// Package validators checks staged envelopes before they cross into the clean
// store: size, encoding and well-formedness, envelope shape, structural bounds,
// and executable-content markers in every string and key. Validation is
// read-only and collects every violation rather than stopping at the first.
package validators

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/tidwall/gjson"

	"github.com/chinacompass/cc-fetcher/internal/fsutil"
	"github.com/chinacompass/cc-fetcher/internal/telemetry"
)

// ErrNoStagedFiles is the batch error of a directory without JSON files
var ErrNoStagedFiles = errors.New("no staged files")

//go:embed envelope.schema.json
var envelopeSchemaJSON []byte

const envelopeSchemaURL = "https://chinacompass.dev/schemas/envelope.schema.json"

// maxParseDepth is the deepest nesting handed to the JSON parsers
const maxParseDepth = 256

// Limits are the structural bounds of a staged document
type Limits struct {
	MaxFileSize     int64
	MaxDepth        int
	MaxArrayLength  int
	MaxStringLength int
	MaxURLLength    int
}

// DefaultLimits returns the bounds applied to staged envelopes
func DefaultLimits() Limits {
	return Limits{
		MaxFileSize:     50 << 20,
		MaxDepth:        20,
		MaxArrayLength:  10_000,
		MaxStringLength: 100_000,
		MaxURLLength:    2048,
	}
}

// Option configures a Validator
type Option func(*Validator)

// WithLimits overrides the structural bounds
func WithLimits(l Limits) Option {
	return func(v *Validator) {
		v.limits = l
	}
}

// WithMetrics counts violations by kind
func WithMetrics(m *telemetry.CDRMetrics) Option {
	return func(v *Validator) {
		v.metrics = m
	}
}

// Validator validates staged envelopes
type Validator struct {
	limits  Limits
	metrics *telemetry.CDRMetrics
	schema  *jsonschema.Schema
}

// New creates a Validator
func New(opts ...Option) (*Validator, error) {
	schema, err := compileEnvelopeSchema()
	if err != nil {
		return nil, err
	}
	v := &Validator{limits: DefaultLimits(), schema: schema}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

func compileEnvelopeSchema() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(envelopeSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse envelope schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(envelopeSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("failed to add envelope schema: %w", err)
	}
	schema, err := c.Compile(envelopeSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("failed to compile envelope schema: %w", err)
	}
	return schema, nil
}

// ValidateDir validates every *.json file directly inside dir. It fails only
// when dir cannot be listed; an empty directory is a failed batch.
func (v *Validator) ValidateDir(ctx context.Context, dir string) (BatchResult, error) {
	files, err := fsutil.JSONFiles(dir)
	if err != nil {
		return BatchResult{}, fmt.Errorf("failed to list staged files in %s: %w", dir, err)
	}

	result := BatchResult{Dir: dir, Files: make(map[string]Report, len(files))}
	for _, path := range files {
		name := filepath.Base(path)
		if name == ReportFileName {
			continue
		}
		report := v.ValidateFile(ctx, path)
		result.Files[name] = report
		if report.Passed {
			v.metrics.RecordDocument(ctx, "passed")
		} else {
			v.metrics.RecordDocument(ctx, "rejected")
		}
	}

	if len(result.Files) == 0 {
		result.Error = ErrNoStagedFiles.Error()
		v.record(ctx, []Violation{{Kind: KindEmptyBatch}})
		slog.WarnContext(ctx, "No staged files to validate", "dir", dir)
		return result, nil
	}

	passed, failed := result.Counts()
	result.Passed = failed == 0
	slog.InfoContext(ctx, "Validated staged batch", "dir", dir, "passed", passed, "failed", failed)
	return result, nil
}

// ValidateFile validates one staged file. The file name must be {source}.json.
func (v *Validator) ValidateFile(ctx context.Context, path string) Report {
	name := filepath.Base(path)
	var violations []Violation
	if _, err := ValidateSourceName(strings.TrimSuffix(name, filepath.Ext(name))); err != nil {
		violations = append(violations, Violation{Kind: KindFileName, Location: rootLocation, Detail: err.Error()})
	}

	data, err := v.read(path)
	if err != nil {
		kind := KindRead
		if errors.Is(err, errTooLarge) {
			kind = KindSize
		}
		violations = append(violations, Violation{Kind: kind, Location: rootLocation, Detail: err.Error()})
	}
	v.record(ctx, violations)
	if err != nil {
		return newReport(violations)
	}

	report := v.ValidateBytes(ctx, data)
	return newReport(append(violations, report.Violations...))
}

var errTooLarge = errors.New("file too large")

// read opens the file read-only and refuses to read past the size limit
func (v *Validator) read(path string) ([]byte, error) {
	// #nosec G304 -- the path comes from listing the staged directory
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()

	data, err := io.ReadAll(io.LimitReader(f, v.limits.MaxFileSize+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > v.limits.MaxFileSize {
		return nil, fmt.Errorf("%w: exceeds %d bytes", errTooLarge, v.limits.MaxFileSize)
	}
	return data, nil
}

// ValidateBytes validates one document
func (v *Validator) ValidateBytes(ctx context.Context, data []byte) Report {
	violations := v.check(data)
	v.record(ctx, violations)
	return newReport(violations)
}

func (v *Validator) check(data []byte) []Violation {
	if int64(len(data)) > v.limits.MaxFileSize {
		return []Violation{{
			Kind:     KindSize,
			Location: rootLocation,
			Detail:   fmt.Sprintf("%d bytes exceeds %d bytes", len(data), v.limits.MaxFileSize),
		}}
	}
	if !utf8.Valid(data) {
		return []Violation{{Kind: KindEncoding, Location: rootLocation, Detail: "document is not valid UTF-8"}}
	}
	// Deeper documents are rejected before any recursive parser sees them.
	// Shallower ones get located depth violations from the walk below.
	parseLimit := max(maxParseDepth, v.limits.MaxDepth)
	if depth := nestingDepth(data, parseLimit); depth > parseLimit {
		return []Violation{{
			Kind:     KindDepth,
			Location: rootLocation,
			Detail:   fmt.Sprintf("nesting depth exceeds %d", parseLimit),
		}}
	}
	if !gjson.ValidBytes(data) {
		return []Violation{{Kind: KindJSON, Location: rootLocation, Detail: "document is not well-formed JSON"}}
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return []Violation{{Kind: KindJSON, Location: rootLocation, Detail: truncateDetail(err.Error())}}
	}

	root, ok := doc.(map[string]any)
	if !ok {
		return []Violation{{Kind: KindStructure, Location: rootLocation, Detail: "root must be a JSON object"}}
	}

	violations := v.checkSchema(root)
	w := walker{limits: v.limits}
	w.walk(root, "", 1)
	return append(violations, w.violations...)
}

// nestingDepth scans data once for the deepest bracket nesting, ignoring
// brackets inside strings. It stops as soon as the depth passes limit, so
// recursive parsers only ever see bounded input.
func nestingDepth(data []byte, limit int) int {
	depth, deepest := 0, 0
	inString, escaped := false, false
	for _, c := range data {
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[', '{':
			depth++
			if depth > deepest {
				deepest = depth
				if deepest > limit {
					return deepest
				}
			}
		case ']', '}':
			depth--
		}
	}
	return deepest
}

func (v *Validator) checkSchema(root map[string]any) []Violation {
	err := v.schema.Validate(root)
	if err == nil {
		return nil
	}
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return []Violation{{Kind: KindSchema, Location: rootLocation, Detail: truncateDetail(err.Error())}}
	}

	var violations []Violation
	for _, leaf := range leaves(verr) {
		violations = append(violations, Violation{
			Kind:     KindSchema,
			Location: pointerLocation(leaf.InstanceLocation),
			Detail:   truncateDetail(leafMessage(leaf)),
		})
	}
	return violations
}

func leaves(e *jsonschema.ValidationError) []*jsonschema.ValidationError {
	if len(e.Causes) == 0 {
		return []*jsonschema.ValidationError{e}
	}
	// anyOf reports one cause per branch; the parent reads better
	if len(e.Causes) > 1 && allLeaves(e.Causes) {
		return []*jsonschema.ValidationError{e}
	}
	var out []*jsonschema.ValidationError
	for _, c := range e.Causes {
		out = append(out, leaves(c)...)
	}
	return out
}

func allLeaves(errs []*jsonschema.ValidationError) bool {
	for _, e := range errs {
		if len(e.Causes) > 0 {
			return false
		}
	}
	return true
}

// leafMessage returns the last line of the error tree, which names the failed keyword
func leafMessage(e *jsonschema.ValidationError) string {
	lines := strings.Split(strings.TrimSpace(e.Error()), "\n")
	msg := strings.TrimSpace(lines[len(lines)-1])
	msg = strings.TrimPrefix(msg, "- ")
	if _, after, found := strings.Cut(msg, "': "); found && strings.HasPrefix(msg, "at '") {
		msg = after
	}
	return msg
}

func pointerLocation(tokens []string) string {
	if len(tokens) == 0 {
		return rootLocation
	}
	var b strings.Builder
	for _, t := range tokens {
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(t)
	}
	return b.String()
}

func (v *Validator) record(ctx context.Context, violations []Violation) {
	for _, vl := range violations {
		v.metrics.RecordViolation(ctx, string(vl.Kind))
	}
}
