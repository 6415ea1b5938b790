package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/adrg/xdg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookupFrom(vars map[string]string) LookupEnvFunc {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func writeConfig(t *testing.T, dir, env, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sources."+env+".yaml"), []byte(content), 0600))
}

func TestResolveEnv(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		hint    string
		vars    map[string]string
		want    string
		wantErr bool
	}{
		{name: "hint wins over CC_ENV", hint: "prod", vars: map[string]string{EnvVar: "staging"}, want: EnvProd},
		{name: "CC_ENV used without hint", vars: map[string]string{EnvVar: "staging"}, want: EnvStaging},
		{name: "defaults to dev", want: EnvDev},
		{name: "hint is case insensitive", hint: "PROD", want: EnvProd},
		{name: "unknown env rejected", hint: "qa", wantErr: true},
		{name: "unknown CC_ENV rejected", vars: map[string]string{EnvVar: "local"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ResolveEnv(tt.hint, lookupFrom(tt.vars))
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidEnv)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoad(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeConfig(t, dir, EnvDev, `
parliament:
  base_url: https://api.openparliament.ca
  timeout: 45
  retry:
    max_retries: 5
    backoff_factor: 1.5
  keywords: [China, Huawei]
news:
  api_key: "${NEWS_API_KEY}"
  secret: "${MISSING_SECRET}"
  blank: "${}"
  feeds:
    - url: https://example.com/rss
      name: Example
      token: "${FEED_TOKEN}"
statcan:
  timeout: 2m
  retry:
    retry_statuses: [503]
not_a_source: 12
`)

	cfg, err := Load(
		WithConfigDir(dir),
		WithLookupEnv(lookupFrom(map[string]string{
			"NEWS_API_KEY": "k-123",
			"FEED_TOKEN":   "t-456",
		})),
	)
	require.NoError(t, err)

	assert.Equal(t, EnvDev, cfg.Env)
	assert.Equal(t, []string{"news", "parliament", "statcan"}, cfg.Names())

	parliament, ok := cfg.Source("parliament")
	require.True(t, ok)
	assert.Equal(t, 45*time.Second, parliament.Timeout)
	assert.Equal(t, 5, parliament.Retry.MaxRetries)
	assert.InDelta(t, 1.5, parliament.Retry.BackoffFactor, 1e-9)
	assert.Equal(t, "https://api.openparliament.ca", parliament.String("base_url", ""))
	assert.Equal(t, []string{"China", "Huawei"}, parliament.Strings("keywords", nil))
	_, hasTimeout := parliament.Setting("timeout")
	assert.False(t, hasTimeout, "timeout must not leak into settings")
	_, hasRetry := parliament.Setting("retry")
	assert.False(t, hasRetry, "retry must not leak into settings")

	news, ok := cfg.Source("news")
	require.True(t, ok)
	assert.Equal(t, "k-123", news.String("api_key", "unset"))
	secret, ok := news.Setting("secret")
	require.True(t, ok)
	assert.Equal(t, "", secret, "unset variables resolve to empty string")
	blank, ok := news.Setting("blank")
	require.True(t, ok)
	assert.Equal(t, "", blank)
	feeds := news.Maps("feeds")
	require.Len(t, feeds, 1)
	assert.Equal(t, "t-456", feeds[0]["token"])
	assert.Equal(t, DefaultTimeout, news.Timeout)
	assert.Equal(t, DefaultRetryPolicy(), news.Retry)

	statcan, ok := cfg.Source("statcan")
	require.True(t, ok)
	assert.Equal(t, 2*time.Minute, statcan.Timeout)
	assert.True(t, statcan.Retry.IsRetryable(503))
	assert.False(t, statcan.Retry.IsRetryable(500))
	assert.Equal(t, DefaultMaxRetries, statcan.Retry.MaxRetries)
}

func TestLoadUsesEnvFromLookup(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeConfig(t, dir, EnvStaging, "parliament:\n  session: 45-1\n")

	cfg, err := Load(WithConfigDir(dir), WithLookupEnv(lookupFrom(map[string]string{EnvVar: "staging"})))
	require.NoError(t, err)
	assert.Equal(t, EnvStaging, cfg.Env)
	assert.Equal(t, 1, cfg.Len())
}

func TestLoadErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		write   bool
		wantErr error
	}{
		{name: "missing file", write: false, wantErr: ErrConfigNotFound},
		{name: "invalid yaml", write: true, content: "parliament: [unclosed", wantErr: ErrConfigParse},
		{name: "negative retries", write: true, content: "a:\n  retry:\n    max_retries: -1\n", wantErr: ErrConfigParse},
		{name: "zero backoff", write: true, content: "a:\n  retry:\n    backoff_factor: 0\n", wantErr: ErrConfigParse},
		{name: "bad timeout", write: true, content: "a:\n  timeout: soon\n", wantErr: ErrConfigParse},
		{name: "negative timeout", write: true, content: "a:\n  timeout: -5\n", wantErr: ErrConfigParse},
		{name: "retry not a mapping", write: true, content: "a:\n  retry: 3\n", wantErr: ErrConfigParse},
		{name: "bad retry status", write: true, content: "a:\n  retry:\n    retry_statuses: [42]\n", wantErr: ErrConfigParse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			dir := t.TempDir()
			if tt.write {
				writeConfig(t, dir, EnvDev, tt.content)
			}
			_, err := Load(WithConfigDir(dir), WithLookupEnv(lookupFrom(nil)))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestLoadNotFoundErrorDetails(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	_, err := Load(WithConfigDir(dir), WithEnv("prod"), WithLookupEnv(lookupFrom(nil)))

	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, EnvProd, nf.Env)
	assert.Equal(t, filepath.Join(dir, "sources.prod.yaml"), nf.Path)
}

func withSearch(fn func(string) (string, error)) Option {
	return func(cfg *loaderConfig) error {
		cfg.searchConfig = fn
		return nil
	}
}

// Not parallel: changes the working directory
func TestLoadFallsBackToXDGConfig(t *testing.T) {
	work := t.TempDir()
	t.Chdir(work)

	xdgDir := t.TempDir()
	writeConfig(t, xdgDir, EnvDev, "news:\n  timeout: 7\n")
	xdgFile := filepath.Join(xdgDir, "sources.dev.yaml")

	var searched []string
	search := func(rel string) (string, error) {
		searched = append(searched, rel)
		return xdgFile, nil
	}
	noEnv := WithLookupEnv(lookupFrom(nil))

	cfg, err := Load(noEnv, withSearch(search))
	require.NoError(t, err)
	src, ok := cfg.Source("news")
	require.True(t, ok)
	assert.Equal(t, 7*time.Second, src.Timeout)
	assert.Equal(t, []string{filepath.Join(AppName, "sources.dev.yaml")}, searched)

	path, err := Path(noEnv, withSearch(search))
	require.NoError(t, err)
	assert.Equal(t, xdgFile, path)

	// An explicit directory is never searched past
	_, err = Load(noEnv, withSearch(search), WithConfigDir(work))
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, filepath.Join(work, "sources.dev.yaml"), nf.Path)

	// Nothing found anywhere reports the default location
	_, err = Load(noEnv, withSearch(func(string) (string, error) { return "", os.ErrNotExist }))
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, filepath.Join(DefaultConfigDir, "sources.dev.yaml"), nf.Path)

	// ./config wins once it has the file
	require.NoError(t, os.Mkdir(DefaultConfigDir, 0750))
	writeConfig(t, DefaultConfigDir, EnvDev, "news:\n  timeout: 9\n")
	cfg, err = Load(noEnv, withSearch(search))
	require.NoError(t, err)
	src, _ = cfg.Source("news")
	assert.Equal(t, 9*time.Second, src.Timeout)
}

// Not parallel: sets XDG_CONFIG_HOME and changes the working directory
func TestLoadReadsXDGConfigHome(t *testing.T) {
	t.Cleanup(xdg.Reload)
	home := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", home)
	xdg.Reload()
	t.Chdir(t.TempDir())

	appDir := filepath.Join(home, AppName)
	require.NoError(t, os.MkdirAll(appDir, 0750))
	writeConfig(t, appDir, EnvStaging, "statcan: {}\n")

	cfg, err := Load(WithEnv(EnvStaging), WithLookupEnv(lookupFrom(nil)))
	require.NoError(t, err)
	assert.Equal(t, []string{"statcan"}, cfg.Names())
}

func TestWithConfigDirRejectsTraversal(t *testing.T) {
	t.Parallel()

	_, err := Load(WithConfigDir("../../etc"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "traversal")
}

func TestSourceConfigIsImmutable(t *testing.T) {
	t.Parallel()

	settings := map[string]any{
		"keywords": []any{"China"},
		"nested":   map[string]any{"k": "v"},
	}
	src := DefaultSourceConfig("news").WithSettings(settings)

	// Mutating the input after construction must not change the config.
	settings["keywords"].([]any)[0] = "changed"
	settings["nested"].(map[string]any)["k"] = "changed"

	assert.Equal(t, []string{"China"}, src.Strings("keywords", nil))

	// Mutating a returned copy must not change the config either.
	got := src.Settings()
	got["nested"].(map[string]any)["k"] = "again"
	nested, _ := src.Setting("nested")
	assert.Equal(t, "v", nested.(map[string]any)["k"])
}

func TestAppConfigWithReturnsNewValue(t *testing.T) {
	t.Parallel()

	base := NewAppConfig(EnvDev, DefaultSourceConfig("a"))
	next := base.With(DefaultSourceConfig("b").WithTimeout(5 * time.Second))

	assert.Equal(t, []string{"a"}, base.Names())
	assert.Equal(t, []string{"a", "b"}, next.Names())

	b, ok := next.Source("b")
	require.True(t, ok)
	assert.Equal(t, 5*time.Second, b.Timeout)
}

func TestSourceOrDefault(t *testing.T) {
	t.Parallel()

	cfg := NewAppConfig(EnvDev)
	src, found := cfg.SourceOrDefault("unknown")
	assert.False(t, found)
	assert.Equal(t, "unknown", src.Name)
	assert.Equal(t, 30*time.Second, src.Timeout)
	assert.Equal(t, DefaultRetryPolicy(), src.Retry)
	assert.Equal(t, "unknown", src.Plugin())
}

func TestRetryPolicy(t *testing.T) {
	t.Parallel()

	p := DefaultRetryPolicy()
	assert.Equal(t, 4, p.Attempts())
	assert.Equal(t, 500*time.Millisecond, p.Delay(0))
	assert.Equal(t, time.Second, p.Delay(1))
	assert.Equal(t, 2*time.Second, p.Delay(2))
	for _, s := range []int{429, 500, 502, 503, 504} {
		assert.True(t, p.IsRetryable(s), "status %d", s)
	}
	assert.False(t, p.IsRetryable(404))
	assert.False(t, p.IsRetryable(501))

	statuses := p.RetryableStatuses()
	statuses[0] = 200
	assert.False(t, p.IsRetryable(200), "returned statuses must be a copy")
}

func TestSettingAccessors(t *testing.T) {
	t.Parallel()

	src := DefaultSourceConfig("markets").WithSettings(map[string]any{
		"periods":  3,
		"ratio":    0.75,
		"enabled":  true,
		"single":   "one",
		"mixed":    []any{"a", 1, "b"},
		"plugin":   "press",
		"intAsStr": "7",
	})

	assert.Equal(t, 3, src.Int("periods", 0))
	assert.Equal(t, 7, src.Int("intAsStr", 0))
	assert.Equal(t, 9, src.Int("missing", 9))
	assert.InDelta(t, 0.75, src.Float("ratio", 0), 1e-9)
	assert.InDelta(t, 3.0, src.Float("periods", 0), 1e-9)
	assert.True(t, src.Bool("enabled", false))
	assert.Equal(t, []string{"one"}, src.Strings("single", nil))
	assert.Equal(t, []string{"a", "b"}, src.Strings("mixed", nil))
	assert.Equal(t, []string{"d"}, src.Strings("missing", []string{"d"}))
	assert.Equal(t, "press", src.Plugin())
}
