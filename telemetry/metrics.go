package telemetry

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/use-agent/propintel/config"
	"github.com/use-agent/propintel/engine"
)

// Metrics counts fetch attempts, rotations and per-target results. It
// satisfies engine.Observer and scraper.Recorder. A nil *Metrics is a no-op.
type Metrics struct {
	attempts       metric.Int64Counter
	rotations      metric.Int64Counter
	records        metric.Int64Counter
	targetFailures metric.Int64Counter
	runs           metric.Int64Counter

	// Close flushes and stops the exporter.
	Close func()
}

// SetupMetrics installs an OTLP/HTTP meter provider when telemetry is
// enabled. Otherwise counters bind to the global no-op provider.
func SetupMetrics(ctx context.Context, cfg config.TelemetryConfig, env string) (*Metrics, error) {
	var provider *sdkmetric.MeterProvider
	if cfg.Enabled {
		r, err := newResource(ctx, cfg.ServiceName, env)
		if err != nil {
			return nil, fmt.Errorf("telemetry: resource: %w", err)
		}
		exporter, err := otlpmetrichttp.New(ctx,
			otlpmetrichttp.WithEndpoint(cfg.CollectorURL),
			otlpmetrichttp.WithInsecure())
		if err != nil {
			return nil, fmt.Errorf("telemetry: exporter: %w", err)
		}
		provider = sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
			sdkmetric.WithResource(r),
		)
		otel.SetMeterProvider(provider)
		slog.Info("metrics export enabled", "collector", cfg.CollectorURL)
	}

	m, err := NewMetrics(otel.Meter(cfg.ServiceName))
	if err != nil {
		return nil, err
	}
	m.Close = func() {
		if provider == nil {
			return
		}
		if err := provider.Shutdown(context.WithoutCancel(ctx)); err != nil {
			slog.Error("failed to shutdown metrics provider", "error", err)
		}
	}
	return m, nil
}

// NewMetrics creates the counters on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{Close: func() {}}
	var err error
	if m.attempts, err = meter.Int64Counter("propintel.fetch.attempts",
		metric.WithDescription("Fetch attempts by outcome kind"),
		metric.WithUnit("{attempts}")); err != nil {
		return nil, fmt.Errorf("telemetry: attempts counter: %w", err)
	}
	if m.rotations, err = meter.Int64Counter("propintel.identity.rotations",
		metric.WithDescription("Identity rotations after a block"),
		metric.WithUnit("{rotations}")); err != nil {
		return nil, fmt.Errorf("telemetry: rotations counter: %w", err)
	}
	if m.records, err = meter.Int64Counter("propintel.records.written",
		metric.WithDescription("Records accepted by the sink"),
		metric.WithUnit("{records}")); err != nil {
		return nil, fmt.Errorf("telemetry: records counter: %w", err)
	}
	if m.targetFailures, err = meter.Int64Counter("propintel.targets.failed",
		metric.WithDescription("Targets whose worker failed"),
		metric.WithUnit("{targets}")); err != nil {
		return nil, fmt.Errorf("telemetry: failures counter: %w", err)
	}
	if m.runs, err = meter.Int64Counter("propintel.runs",
		metric.WithDescription("Completed runs"),
		metric.WithUnit("{runs}")); err != nil {
		return nil, fmt.Errorf("telemetry: runs counter: %w", err)
	}
	return m, nil
}

func (m *Metrics) ObserveAttempt(ctx context.Context, target string, kind engine.Kind) {
	if m == nil {
		return
	}
	m.attempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("target", target),
		attribute.String("outcome", kind.String()),
	))
}

func (m *Metrics) ObserveRotation(ctx context.Context, target string) {
	if m == nil {
		return
	}
	m.rotations.Add(ctx, 1, metric.WithAttributes(attribute.String("target", target)))
}

func (m *Metrics) RecordTarget(ctx context.Context, target string, records int, failed bool) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("target", target))
	m.records.Add(ctx, int64(records), attrs)
	if failed {
		m.targetFailures.Add(ctx, 1, attrs)
	}
}

// RecordRun counts one completed run.
func (m *Metrics) RecordRun(ctx context.Context, failedTargets int) {
	if m == nil {
		return
	}
	m.runs.Add(ctx, 1, metric.WithAttributes(attribute.Bool("partial", failedTargets > 0)))
}

func newResource(ctx context.Context, service, env string) (*resource.Resource, error) {
	return resource.New(ctx,
		resource.WithTelemetrySDK(),
		resource.WithAttributes(
			semconv.ServiceName(service),
			semconv.DeploymentEnvironment(env),
			semconv.ServiceInstanceID(uuid.NewString()),
		))
}
