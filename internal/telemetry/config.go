// Package telemetry wires OpenTelemetry tracing and metrics for the cc binaries.
// Traces and metrics can be exported over OTLP; metrics can additionally be
// exposed to Prometheus, either scraped or pushed to a Pushgateway.
package telemetry

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/viper"
)

const (
	// DefaultServiceName is used when the binary does not name itself
	DefaultServiceName = "cc-fetcher"

	// DefaultEndpoint is the default OTLP HTTP collector
	DefaultEndpoint = "localhost:4318"

	// DefaultSampling samples every trace; runs are infrequent and short
	DefaultSampling = 1.0

	// DefaultPushJob is the Pushgateway job label
	DefaultPushJob = "cc-fetcher"
)

// Config is the process telemetry configuration
type Config struct {
	// Enabled turns on OTLP export of traces and metrics
	Enabled bool

	ServiceName    string
	ServiceVersion string

	// Endpoint is the OTLP collector as host:port
	Endpoint string

	// Insecure sends OTLP over plain HTTP
	Insecure bool

	Tracing TracingConfig
	Metrics MetricsConfig
}

// TracingConfig controls span export
type TracingConfig struct {
	Enabled bool

	// Sampling is the trace ratio in [0, 1]. Zero means DefaultSampling.
	Sampling float64
}

// MetricsConfig controls metric export
type MetricsConfig struct {
	// OTLP exports metrics periodically to the collector
	OTLP bool

	// Prometheus keeps a Prometheus registry fed by the meter provider,
	// served on /metrics in schedule mode
	Prometheus bool

	// PushgatewayURL, when set, pushes the registry after one-shot runs.
	// It implies Prometheus.
	PushgatewayURL string

	// PushJob is the Pushgateway job name
	PushJob string
}

// FromViper reads the telemetry.* keys, which viper also resolves from
// CC_TELEMETRY_* environment variables when the CC prefix is configured
func FromViper(v *viper.Viper, serviceName, serviceVersion string) *Config {
	enabled := v.GetBool("telemetry.enabled")
	return &Config{
		Enabled:        enabled,
		ServiceName:    serviceName,
		ServiceVersion: serviceVersion,
		Endpoint:       v.GetString("telemetry.endpoint"),
		Insecure:       v.GetBool("telemetry.insecure"),
		Tracing: TracingConfig{
			Enabled:  enabled,
			Sampling: v.GetFloat64("telemetry.sampling"),
		},
		Metrics: MetricsConfig{
			OTLP:           enabled,
			Prometheus:     v.GetBool("metrics.prometheus"),
			PushgatewayURL: v.GetString("metrics.pushgateway"),
			PushJob:        v.GetString("metrics.push_job"),
		},
	}
}

// GetServiceName returns the service name, using default if not specified
func (c *Config) GetServiceName() string {
	if c.ServiceName == "" {
		return DefaultServiceName
	}
	return c.ServiceName
}

// GetServiceVersion returns the service version, using "unknown" if not specified
func (c *Config) GetServiceVersion() string {
	if c.ServiceVersion == "" {
		return "unknown"
	}
	return c.ServiceVersion
}

// GetEndpoint returns the endpoint, using default if not specified
func (c *Config) GetEndpoint() string {
	if c.Endpoint == "" {
		return DefaultEndpoint
	}
	return c.Endpoint
}

// GetSampling returns the sampling ratio, DefaultSampling when unset
func (c TracingConfig) GetSampling() float64 {
	if c.Sampling == 0 {
		return DefaultSampling
	}
	return c.Sampling
}

// PrometheusEnabled reports whether a Prometheus registry is needed
func (c MetricsConfig) PrometheusEnabled() bool {
	return c.Prometheus || c.PushgatewayURL != ""
}

// GetPushJob returns the Pushgateway job, DefaultPushJob when unset
func (c MetricsConfig) GetPushJob() string {
	if c.PushJob == "" {
		return DefaultPushJob
	}
	return c.PushJob
}

// Validate checks sampling bounds and the Pushgateway URL
func (c *Config) Validate() error {
	if c == nil {
		return nil
	}

	var errs []error
	if c.Tracing.Sampling < 0 || c.Tracing.Sampling > 1 {
		errs = append(errs, fmt.Errorf("tracing: sampling must be between 0.0 and 1.0, got %f", c.Tracing.Sampling))
	}
	if c.Metrics.PushgatewayURL != "" {
		u, err := url.Parse(c.Metrics.PushgatewayURL)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("metrics: invalid pushgateway URL: %w", err))
		case !strings.HasPrefix(u.Scheme, "http") || u.Host == "":
			errs = append(errs, fmt.Errorf("metrics: pushgateway URL must be http(s)://host[:port], got %q", c.Metrics.PushgatewayURL))
		}
	}
	return errors.Join(errs...)
}
