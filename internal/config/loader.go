package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

const (
	keyTimeout       = "timeout"
	keyRetry         = "retry"
	keyMaxRetries    = "max_retries"
	keyBackoffFactor = "backoff_factor"
	keyRetryStatuses = "retry_statuses"
)

var placeholderPattern = regexp.MustCompile(`^\$\{([^{}]*)\}$`)

// LookupEnvFunc looks up an environment variable
type LookupEnvFunc func(key string) (string, bool)

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	envHint   string
	configDir string
	lookupEnv LookupEnvFunc

	// searchConfig finds a file under the XDG config directories. It is
	// only consulted when no directory was given and DefaultConfigDir has
	// no file for the environment.
	searchConfig func(relPath string) (string, error)
}

// WithEnv sets the explicit environment hint, which wins over CC_ENV
func WithEnv(env string) Option {
	return func(cfg *loaderConfig) error {
		cfg.envHint = strings.ToLower(strings.TrimSpace(env))
		return nil
	}
}

// WithConfigDir sets the directory holding the sources.{env}.yaml files
func WithConfigDir(dir string) Option {
	return func(cfg *loaderConfig) error {
		if dir == "" {
			return fmt.Errorf("config directory is required")
		}
		clean := filepath.Clean(dir)
		if !filepath.IsAbs(clean) && !filepath.IsLocal(clean) {
			return fmt.Errorf("config directory is not local or contains invalid traversal: %s", dir)
		}
		cfg.configDir = clean
		cfg.searchConfig = nil
		return nil
	}
}

// WithLookupEnv replaces the environment lookup used for CC_ENV and ${VAR} placeholders
func WithLookupEnv(fn LookupEnvFunc) Option {
	return func(cfg *loaderConfig) error {
		if fn == nil {
			return fmt.Errorf("lookup function is required")
		}
		cfg.lookupEnv = fn
		return nil
	}
}

// ResolveEnv picks the environment: the explicit hint, then CC_ENV, then DefaultEnv
func ResolveEnv(hint string, lookup LookupEnvFunc) (string, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	env := strings.ToLower(strings.TrimSpace(hint))
	if env == "" {
		if v, ok := lookup(EnvVar); ok {
			env = strings.ToLower(strings.TrimSpace(v))
		}
	}
	if env == "" {
		env = DefaultEnv
	}
	if !IsValidEnv(env) {
		return "", fmt.Errorf("%w %q: must be one of %s", ErrInvalidEnv, env, strings.Join(ValidEnvs, ", "))
	}
	return env, nil
}

// FilePath returns the configuration file path of an environment
func FilePath(configDir, env string) string {
	return filepath.Join(configDir, fmt.Sprintf("sources.%s.yaml", env))
}

func newLoaderConfig(opts []Option) (*loaderConfig, error) {
	loaderCfg := &loaderConfig{
		configDir:    DefaultConfigDir,
		lookupEnv:    os.LookupEnv,
		searchConfig: xdg.SearchConfigFile,
	}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}
	return loaderCfg, nil
}

// Path resolves the environment and returns the file Load would read
func Path(opts ...Option) (string, error) {
	loaderCfg, err := newLoaderConfig(opts)
	if err != nil {
		return "", err
	}
	env, err := ResolveEnv(loaderCfg.envHint, loaderCfg.lookupEnv)
	if err != nil {
		return "", err
	}
	return loaderCfg.filePath(env), nil
}

// filePath returns the file of env in the config directory. Without an
// explicit directory, a missing ./config file falls back to
// $XDG_CONFIG_HOME/cc-fetcher and then the XDG system config directories.
func (c *loaderConfig) filePath(env string) string {
	path := FilePath(c.configDir, env)
	if c.searchConfig == nil {
		return path
	}
	if _, err := os.Stat(path); !errors.Is(err, fs.ErrNotExist) {
		return path
	}
	found, err := c.searchConfig(filepath.Join(AppName, filepath.Base(path)))
	if err != nil {
		return path
	}
	slog.Debug("Using source configuration from XDG config directory", "path", found)
	return found
}

// Load resolves the environment and loads its configuration file
func Load(opts ...Option) (AppConfig, error) {
	loaderCfg, err := newLoaderConfig(opts)
	if err != nil {
		return AppConfig{}, err
	}

	env, err := ResolveEnv(loaderCfg.envHint, loaderCfg.lookupEnv)
	if err != nil {
		return AppConfig{}, err
	}

	path := loaderCfg.filePath(env)

	// Resolve symlinks so that the file actually read is the one reported.
	realPath, err := filepath.EvalSymlinks(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return AppConfig{}, &NotFoundError{Env: env, Path: path, Err: err}
		}
		return AppConfig{}, fmt.Errorf("failed to evaluate symlinks: %w", err)
	}

	// #nosec G304 -- path is built from the validated config directory and a fixed env name
	data, err := os.ReadFile(realPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return AppConfig{}, &NotFoundError{Env: env, Path: path, Err: err}
		}
		return AppConfig{}, fmt.Errorf("failed to read config file: %w", err)
	}

	sources, err := parseSources(data, path, loaderCfg.lookupEnv)
	if err != nil {
		return AppConfig{}, err
	}

	slog.Debug("Loaded source configuration",
		"env", env,
		"path", path,
		"source_count", len(sources))

	return NewAppConfig(env, sources...), nil
}

// parseSources decodes the YAML document into source configurations
func parseSources(data []byte, path string, lookup LookupEnvFunc) ([]SourceConfig, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}

	sources := make([]SourceConfig, 0, len(raw))
	for name, value := range raw {
		block, ok := normalize(value).(map[string]any)
		if !ok {
			slog.Debug("Ignoring non-mapping top-level config key", "key", name)
			continue
		}
		src, err := buildSourceConfig(name, block, lookup)
		if err != nil {
			return nil, &ParseError{Path: path, Source: name, Err: err}
		}
		sources = append(sources, src)
	}
	return sources, nil
}

// buildSourceConfig extracts timeout and retry and keeps the rest as settings
func buildSourceConfig(name string, block map[string]any, lookup LookupEnvFunc) (SourceConfig, error) {
	cfg := DefaultSourceConfig(name)

	settings := make(map[string]any, len(block))
	for k, v := range block {
		settings[k] = v
	}

	if raw, ok := settings[keyTimeout]; ok {
		delete(settings, keyTimeout)
		timeout, err := parseTimeout(raw)
		if err != nil {
			return SourceConfig{}, err
		}
		cfg.Timeout = timeout
	}

	if raw, ok := settings[keyRetry]; ok {
		delete(settings, keyRetry)
		policy, err := parseRetry(raw)
		if err != nil {
			return SourceConfig{}, err
		}
		cfg.Retry = policy
	}

	resolved, _ := substitute(settings, name, lookup).(map[string]any)
	return cfg.WithSettings(resolved), nil
}

func parseTimeout(raw any) (time.Duration, error) {
	var d time.Duration
	switch v := raw.(type) {
	case int:
		d = time.Duration(v) * time.Second
	case float64:
		d = time.Duration(v * float64(time.Second))
	case string:
		if secs, err := strconv.Atoi(v); err == nil {
			d = time.Duration(secs) * time.Second
		} else {
			parsed, err := time.ParseDuration(v)
			if err != nil {
				return 0, fmt.Errorf("timeout must be seconds or a duration (e.g. '45s'): %w", err)
			}
			d = parsed
		}
	default:
		return 0, fmt.Errorf("timeout must be a number of seconds, got %T", raw)
	}
	if d <= 0 {
		return 0, fmt.Errorf("timeout must be positive, got %s", d)
	}
	return d, nil
}

func parseRetry(raw any) (RetryPolicy, error) {
	if raw == nil {
		return DefaultRetryPolicy(), nil
	}
	block, ok := raw.(map[string]any)
	if !ok {
		return RetryPolicy{}, fmt.Errorf("retry must be a mapping, got %T", raw)
	}

	maxRetries := DefaultMaxRetries
	if v, ok := block[keyMaxRetries]; ok {
		n, ok := toInt(v)
		if !ok {
			return RetryPolicy{}, fmt.Errorf("retry.max_retries must be an integer, got %T", v)
		}
		maxRetries = n
	}

	factor := DefaultBackoffFactor
	if v, ok := block[keyBackoffFactor]; ok {
		f, ok := toFloat(v)
		if !ok {
			return RetryPolicy{}, fmt.Errorf("retry.backoff_factor must be a number, got %T", v)
		}
		factor = f
	}

	var statuses []int
	if v, ok := block[keyRetryStatuses]; ok {
		list, ok := v.([]any)
		if !ok {
			return RetryPolicy{}, fmt.Errorf("retry.retry_statuses must be a list, got %T", v)
		}
		for _, item := range list {
			n, ok := toInt(item)
			if !ok {
				return RetryPolicy{}, fmt.Errorf("retry.retry_statuses must contain integers, got %T", item)
			}
			statuses = append(statuses, n)
		}
	}

	policy := NewRetryPolicy(maxRetries, factor, statuses...)
	if err := validateRetryPolicy(policy); err != nil {
		return RetryPolicy{}, err
	}
	return policy, nil
}

// substitute replaces ${NAME} scalars with the environment value, recursively.
// An unset variable resolves to the empty string.
func substitute(value any, source string, lookup LookupEnvFunc) any {
	switch v := value.(type) {
	case string:
		m := placeholderPattern.FindStringSubmatch(v)
		if m == nil {
			return v
		}
		name := strings.TrimSpace(m[1])
		if name == "" {
			return ""
		}
		if resolved, ok := lookup(name); ok {
			return resolved
		}
		slog.Warn("Environment variable referenced in config is not set, using empty string",
			"variable", name,
			"source", source)
		return ""
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = substitute(item, source, lookup)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = substitute(item, source, lookup)
		}
		return out
	default:
		return v
	}
}

// normalize converts YAML-decoded values into map[string]any / []any trees
func normalize(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = normalize(item)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[fmt.Sprint(k)] = normalize(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = normalize(item)
		}
		return out
	default:
		return v
	}
}

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		return deepCopyMap(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return v
	}
}

func toInt(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case uint64:
		if v > math.MaxInt {
			return 0, false
		}
		return int(v), true
	case float64:
		if v != math.Trunc(v) {
			return 0, false
		}
		return int(v), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		return n, err == nil
	default:
		return 0, false
	}
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
