package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// ErrNoPushgateway is returned by Push when no Pushgateway is configured
var ErrNoPushgateway = errors.New("no pushgateway configured")

// Telemetry owns the tracer and meter providers of a process and, when
// Prometheus export is on, the registry they feed.
type Telemetry struct {
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	registry       *prometheus.Registry
	metrics        MetricsConfig
}

// New builds providers from cfg. A nil cfg yields no-op providers.
// The caller is responsible for calling Shutdown when the process exits.
func New(ctx context.Context, cfg *Config) (*Telemetry, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry configuration: %w", err)
	}

	var tracerOpts []TracerProviderOption
	meterOpts := []MeterProviderOption{WithMeterService(cfg.GetServiceName(), cfg.GetServiceVersion())}
	tracerOpts = append(tracerOpts, WithTracerService(cfg.GetServiceName(), cfg.GetServiceVersion()))

	if cfg.Enabled && cfg.Tracing.Enabled {
		tracerOpts = append(tracerOpts, WithOTLPTraces(cfg.GetEndpoint(), cfg.Insecure, cfg.Tracing.GetSampling()))
	}
	if cfg.Enabled && cfg.Metrics.OTLP {
		meterOpts = append(meterOpts, WithOTLPMetrics(cfg.GetEndpoint(), cfg.Insecure))
	}

	var registry *prometheus.Registry
	if cfg.Metrics.PrometheusEnabled() {
		registry = prometheus.NewRegistry()
		meterOpts = append(meterOpts, WithPrometheusRegisterer(registry))
	}

	tracerProvider, err := NewTracerProvider(ctx, tracerOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracer provider: %w", err)
	}

	meterProvider, err := NewMeterProvider(ctx, meterOpts...)
	if err != nil {
		if tp, ok := tracerProvider.(*sdktrace.TracerProvider); ok {
			_ = tp.Shutdown(ctx)
		}
		return nil, fmt.Errorf("failed to create meter provider: %w", err)
	}

	return &Telemetry{
		tracerProvider: tracerProvider,
		meterProvider:  meterProvider,
		registry:       registry,
		metrics:        cfg.Metrics,
	}, nil
}

// TracerProvider returns the configured tracer provider
func (t *Telemetry) TracerProvider() trace.TracerProvider {
	return t.tracerProvider
}

// MeterProvider returns the configured meter provider
func (t *Telemetry) MeterProvider() metric.MeterProvider {
	return t.meterProvider
}

// Tracer returns a named tracer from the tracer provider
func (t *Telemetry) Tracer(name string, opts ...trace.TracerOption) trace.Tracer {
	return t.tracerProvider.Tracer(name, opts...)
}

// Registry returns the Prometheus registry, or nil when Prometheus export is off
func (t *Telemetry) Registry() *prometheus.Registry {
	return t.registry
}

// MetricsHandler serves the Prometheus registry. Without one it answers 404.
func (t *Telemetry) MetricsHandler() http.Handler {
	if t.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}

// Push sends the current registry contents to the configured Pushgateway,
// replacing the metrics previously pushed under the same job and grouping.
func (t *Telemetry) Push(ctx context.Context, grouping map[string]string) error {
	if t.registry == nil || t.metrics.PushgatewayURL == "" {
		return ErrNoPushgateway
	}

	pusher := push.New(t.metrics.PushgatewayURL, t.metrics.GetPushJob()).Gatherer(t.registry)
	for name, value := range grouping {
		pusher = pusher.Grouping(name, value)
	}
	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("failed to push metrics: %w", err)
	}
	slog.Debug("Pushed metrics", "pushgateway", t.metrics.PushgatewayURL, "job", t.metrics.GetPushJob())
	return nil
}

// Shutdown flushes and stops the SDK providers. Safe to call more than once.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error

	if tp, ok := t.tracerProvider.(*sdktrace.TracerProvider); ok {
		if err := tp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown tracer provider: %w", err))
		}
	}
	if mp, ok := t.meterProvider.(*sdkmetric.MeterProvider); ok {
		if err := mp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown meter provider: %w", err))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	slog.Debug("Telemetry shutdown complete")
	return nil
}
