package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// DefaultMetricsInterval is the OTLP export interval
const DefaultMetricsInterval = 60 * time.Second

// MeterProviderOption configures NewMeterProvider
type MeterProviderOption func(*meterProviderConfig)

type meterProviderConfig struct {
	serviceName    string
	serviceVersion string
	otlpEndpoint   string
	otlpInsecure   bool
	otlp           bool
	registerer     prometheus.Registerer
	interval       time.Duration
}

// WithMeterService sets the resource service name and version
func WithMeterService(name, version string) MeterProviderOption {
	return func(cfg *meterProviderConfig) {
		cfg.serviceName = name
		cfg.serviceVersion = version
	}
}

// WithOTLPMetrics exports metrics to an OTLP HTTP collector
func WithOTLPMetrics(endpoint string, insecure bool) MeterProviderOption {
	return func(cfg *meterProviderConfig) {
		cfg.otlp = true
		cfg.otlpEndpoint = endpoint
		cfg.otlpInsecure = insecure
	}
}

// WithPrometheusRegisterer feeds a Prometheus registry from the provider
func WithPrometheusRegisterer(reg prometheus.Registerer) MeterProviderOption {
	return func(cfg *meterProviderConfig) {
		cfg.registerer = reg
	}
}

// WithMetricsInterval overrides DefaultMetricsInterval
func WithMetricsInterval(d time.Duration) MeterProviderOption {
	return func(cfg *meterProviderConfig) {
		cfg.interval = d
	}
}

// NewMeterProvider builds an SDK meter provider with an OTLP periodic reader,
// a Prometheus reader, or both. With neither configured it returns a no-op provider.
// The caller is responsible for calling Shutdown on an SDK provider.
func NewMeterProvider(ctx context.Context, opts ...MeterProviderOption) (metric.MeterProvider, error) {
	cfg := &meterProviderConfig{
		serviceName:    DefaultServiceName,
		serviceVersion: "unknown",
		otlpEndpoint:   DefaultEndpoint,
		interval:       DefaultMetricsInterval,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	if !cfg.otlp && cfg.registerer == nil {
		slog.Debug("Metrics disabled, using no-op meter provider")
		return noop.NewMeterProvider(), nil
	}

	res, err := serviceResource(ctx, cfg.serviceName, cfg.serviceVersion)
	if err != nil {
		return nil, err
	}

	providerOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}

	if cfg.otlp {
		exporter, err := createOTLPMetricsExporter(ctx, cfg.otlpEndpoint, cfg.otlpInsecure)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP metrics exporter: %w", err)
		}
		providerOpts = append(providerOpts, sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.interval)),
		))
	}

	if cfg.registerer != nil {
		reader, err := otelprom.New(
			otelprom.WithRegisterer(cfg.registerer),
			otelprom.WithoutScopeInfo(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create Prometheus exporter: %w", err)
		}
		providerOpts = append(providerOpts, sdkmetric.WithReader(reader))
	}

	mp := sdkmetric.NewMeterProvider(providerOpts...)
	otel.SetMeterProvider(mp)

	slog.Info("Metrics initialized",
		"otlp", cfg.otlp,
		"otlp_endpoint", cfg.otlpEndpoint,
		"prometheus", cfg.registerer != nil,
	)
	return mp, nil
}

func serviceResource(ctx context.Context, name, version string) (*resource.Resource, error) {
	// resource.New rather than resource.Default avoids schema URL conflicts
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(name),
			semconv.ServiceVersion(version),
		),
		resource.WithHost(),
		resource.WithTelemetrySDK(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}

func createOTLPMetricsExporter(ctx context.Context, endpoint string, insecure bool) (sdkmetric.Exporter, error) {
	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(endpoint)}
	if insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	return otlpmetrichttp.New(ctx, opts...)
}
