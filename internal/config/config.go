// Package config resolves the environment-scoped source configuration for the fetcher.
//
// Configuration lives in one YAML file per environment, {configDir}/sources.{env}.yaml.
// Every top-level mapping is a source. The timeout and retry keys of a source are
// extracted into typed fields and everything else becomes the source's opaque settings.
// Values returned from this package are immutable: settings are deep-copied on the way
// in and on the way out, and "changes" produce new values.
package config

import (
	"fmt"
	"slices"
	"sort"
	"time"
)

const (
	// EnvPrefix is the prefix of every environment variable read by the binaries
	EnvPrefix = "CC"

	// EnvVar is the process-wide environment variable selecting the environment
	EnvVar = EnvPrefix + "_ENV"

	// EnvDev is the development environment
	EnvDev = "dev"

	// EnvStaging is the staging environment
	EnvStaging = "staging"

	// EnvProd is the production environment
	EnvProd = "prod"

	// DefaultEnv is used when neither a hint nor CC_ENV select an environment
	DefaultEnv = EnvDev

	// DefaultConfigDir is the directory holding sources.{env}.yaml files
	DefaultConfigDir = "config"

	// AppName names the per-user directory under the XDG config directories
	AppName = "cc-fetcher"

	// DefaultTimeout bounds a single transport attempt
	DefaultTimeout = 30 * time.Second

	// DefaultMaxRetries is the number of retries after the initial attempt
	DefaultMaxRetries = 3

	// DefaultBackoffFactor is the base of the exponential backoff, in seconds
	DefaultBackoffFactor = 0.5
)

// ValidEnvs lists the accepted environment names
var ValidEnvs = []string{EnvDev, EnvStaging, EnvProd}

var defaultRetryableStatuses = []int{429, 500, 502, 503, 504}

// RetryPolicy governs the retry loop of one transport call
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt
	MaxRetries int

	// BackoffFactor is the wait before the first retry, in seconds.
	// The wait before retry n (0-indexed) is BackoffFactor * 2^n.
	BackoffFactor float64

	statuses []int
}

// DefaultRetryPolicy returns the policy used when a source does not configure one
func DefaultRetryPolicy() RetryPolicy {
	return NewRetryPolicy(DefaultMaxRetries, DefaultBackoffFactor)
}

// NewRetryPolicy builds a policy. With no statuses the default retryable set
// (429, 500, 502, 503, 504) is used.
func NewRetryPolicy(maxRetries int, backoffFactor float64, statuses ...int) RetryPolicy {
	if len(statuses) == 0 {
		statuses = defaultRetryableStatuses
	}
	s := slices.Clone(statuses)
	slices.Sort(s)
	return RetryPolicy{
		MaxRetries:    maxRetries,
		BackoffFactor: backoffFactor,
		statuses:      slices.Compact(s),
	}
}

// RetryableStatuses returns a copy of the retryable HTTP status codes
func (p RetryPolicy) RetryableStatuses() []int {
	if p.statuses == nil {
		return slices.Clone(defaultRetryableStatuses)
	}
	return slices.Clone(p.statuses)
}

// IsRetryable reports whether an HTTP status should be retried
func (p RetryPolicy) IsRetryable(status int) bool {
	statuses := p.statuses
	if statuses == nil {
		statuses = defaultRetryableStatuses
	}
	_, found := slices.BinarySearch(statuses, status)
	return found
}

// Delay returns the wait before retry number attempt (0-indexed)
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	return time.Duration(p.BackoffFactor * float64(int64(1)<<attempt) * float64(time.Second))
}

// Attempts is the maximum number of attempts, the initial one included
func (p RetryPolicy) Attempts() int {
	if p.MaxRetries < 0 {
		return 1
	}
	return p.MaxRetries + 1
}

// SourceConfig is the resolved configuration of one source for one run
type SourceConfig struct {
	// Name is the registry key of the source
	Name string

	// Timeout bounds every individual transport attempt
	Timeout time.Duration

	// Retry is the transport retry policy for this source
	Retry RetryPolicy

	settings map[string]any
}

// DefaultSourceConfig returns the configuration used for a source that is absent
// from the configuration file
func DefaultSourceConfig(name string) SourceConfig {
	return SourceConfig{
		Name:    name,
		Timeout: DefaultTimeout,
		Retry:   DefaultRetryPolicy(),
	}
}

// WithSettings returns a copy of the configuration with the given settings
func (c SourceConfig) WithSettings(settings map[string]any) SourceConfig {
	c.settings = deepCopyMap(settings)
	return c
}

// WithTimeout returns a copy of the configuration with the given timeout
func (c SourceConfig) WithTimeout(timeout time.Duration) SourceConfig {
	c.Timeout = timeout
	return c
}

// WithRetry returns a copy of the configuration with the given retry policy
func (c SourceConfig) WithRetry(policy RetryPolicy) SourceConfig {
	c.Retry = policy
	return c
}

// Settings returns a deep copy of the source-specific settings
func (c SourceConfig) Settings() map[string]any {
	return deepCopyMap(c.settings)
}

// Setting returns a deep copy of a single setting
func (c SourceConfig) Setting(key string) (any, bool) {
	v, ok := c.settings[key]
	if !ok {
		return nil, false
	}
	return deepCopyValue(v), true
}

// String returns a string setting, or def when it is missing or not a string
func (c SourceConfig) String(key, def string) string {
	if s, ok := c.settings[key].(string); ok && s != "" {
		return s
	}
	return def
}

// Int returns an integer setting, or def when it is missing or not a number
func (c SourceConfig) Int(key string, def int) int {
	if n, ok := toInt(c.settings[key]); ok {
		return n
	}
	return def
}

// Float returns a float setting, or def when it is missing or not a number
func (c SourceConfig) Float(key string, def float64) float64 {
	if f, ok := toFloat(c.settings[key]); ok {
		return f
	}
	return def
}

// Bool returns a boolean setting, or def when it is missing or not a boolean
func (c SourceConfig) Bool(key string, def bool) bool {
	if b, ok := c.settings[key].(bool); ok {
		return b
	}
	return def
}

// Strings returns a list-of-strings setting. A scalar string is treated as a
// one-element list. Non-string items are skipped.
func (c SourceConfig) Strings(key string, def []string) []string {
	switch v := c.settings[key].(type) {
	case string:
		if v != "" {
			return []string{v}
		}
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return slices.Clone(def)
}

// Maps returns a list-of-mappings setting such as feeds or indices.
// Items that are not mappings are skipped.
func (c SourceConfig) Maps(key string) []map[string]any {
	list, ok := c.settings[key].([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			out = append(out, deepCopyMap(m))
		}
	}
	return out
}

// Plugin returns the name of the plugin that serves this source. It defaults to
// the source name; the "plugin" setting lets one plugin serve several sources.
func (c SourceConfig) Plugin() string {
	return c.String("plugin", c.Name)
}

// AppConfig is the configuration of one invocation
type AppConfig struct {
	// Env is one of ValidEnvs
	Env string

	sources map[string]SourceConfig
}

// NewAppConfig builds an AppConfig. Later sources with the same name replace earlier ones.
func NewAppConfig(env string, sources ...SourceConfig) AppConfig {
	m := make(map[string]SourceConfig, len(sources))
	for _, s := range sources {
		m[s.Name] = s.WithSettings(s.settings)
	}
	return AppConfig{Env: env, sources: m}
}

// Source returns the configuration of a named source
func (c AppConfig) Source(name string) (SourceConfig, bool) {
	s, ok := c.sources[name]
	if !ok {
		return SourceConfig{}, false
	}
	return s.WithSettings(s.settings), true
}

// SourceOrDefault returns the configuration of a named source, falling back to
// DefaultSourceConfig. The boolean reports whether the source was configured.
func (c AppConfig) SourceOrDefault(name string) (SourceConfig, bool) {
	if s, ok := c.Source(name); ok {
		return s, true
	}
	return DefaultSourceConfig(name), false
}

// Names returns the configured source names in sorted order
func (c AppConfig) Names() []string {
	names := make([]string, 0, len(c.sources))
	for name := range c.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of configured sources
func (c AppConfig) Len() int {
	return len(c.sources)
}

// With returns a new AppConfig with the given source added or replaced
func (c AppConfig) With(source SourceConfig) AppConfig {
	m := make(map[string]SourceConfig, len(c.sources)+1)
	for k, v := range c.sources {
		m[k] = v
	}
	m[source.Name] = source.WithSettings(source.settings)
	return AppConfig{Env: c.Env, sources: m}
}

// IsValidEnv reports whether env is one of ValidEnvs
func IsValidEnv(env string) bool {
	return slices.Contains(ValidEnvs, env)
}

// validateRetryPolicy checks the numeric bounds of a policy
func validateRetryPolicy(p RetryPolicy) error {
	if p.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must be >= 0, got %d", p.MaxRetries)
	}
	if p.BackoffFactor <= 0 {
		return fmt.Errorf("retry.backoff_factor must be > 0, got %v", p.BackoffFactor)
	}
	for _, s := range p.statuses {
		if s < 100 || s > 599 {
			return fmt.Errorf("retry.retry_statuses contains invalid HTTP status %d", s)
		}
	}
	return nil
}
