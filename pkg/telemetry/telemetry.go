// Package telemetry wires up the OpenTelemetry meter and Prometheus exporter
// used across the engine.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"dnschat/pkg/config"
	"dnschat/pkg/logging"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Telemetry holds the telemetry providers and exporters.
type Telemetry struct {
	cfg                *config.TelemetryConfig
	meterProvider      metric.MeterProvider
	tracerProvider     trace.TracerProvider
	prometheusExporter *prometheus.Exporter
	prometheusServer   *http.Server
	logger             *logging.Logger
}

// Metrics holds the engine metrics.
type Metrics struct {
	QueriesTotal      metric.Int64Counter
	QueryDuration     metric.Float64Histogram
	TransportAttempts metric.Int64Counter
	TransportFailures metric.Int64Counter
	DedupShared       metric.Int64Counter
	SanitizerRejected metric.Int64Counter
	QueriesCancelled  metric.Int64Counter
	PoolSaturated     metric.Int64Counter
}

// New creates a telemetry instance; disabled telemetry yields noop providers
// so instrumented call sites stay unconditional.
func New(ctx context.Context, cfg *config.TelemetryConfig, logger *logging.Logger) (*Telemetry, error) {
	if !cfg.Enabled {
		logger.Info("Telemetry disabled")
		return &Telemetry{
			cfg:            cfg,
			meterProvider:  noop.NewMeterProvider(),
			tracerProvider: tracenoop.NewTracerProvider(),
			logger:         logger,
		}, nil
	}

	t := &Telemetry{cfg: cfg, logger: logger}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	if err := t.setupMetrics(res); err != nil {
		return nil, fmt.Errorf("failed to setup metrics: %w", err)
	}
	t.tracerProvider = tracenoop.NewTracerProvider()
	otel.SetTracerProvider(t.tracerProvider)

	logger.Info("Telemetry initialized",
		"service", cfg.ServiceName,
		"version", cfg.ServiceVersion,
		"prometheus", cfg.PrometheusEnabled,
	)
	return t, nil
}

func (t *Telemetry) setupMetrics(res *resource.Resource) error {
	if !t.cfg.PrometheusEnabled {
		t.meterProvider = noop.NewMeterProvider()
		return nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	t.prometheusExporter = exporter

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	t.meterProvider = provider
	otel.SetMeterProvider(provider)

	if err := t.startPrometheusServer(); err != nil {
		return fmt.Errorf("failed to start prometheus server: %w", err)
	}
	t.logger.Info("Prometheus metrics enabled", "port", t.cfg.PrometheusPort)
	return nil
}

func (t *Telemetry) startPrometheusServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	t.prometheusServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", t.cfg.PrometheusPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := t.prometheusServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			t.logger.Error("Prometheus server failed", "error", err)
		}
	}()
	return nil
}

// InitMetrics creates the engine metric instruments.
func (t *Telemetry) InitMetrics() (*Metrics, error) {
	meter := t.meterProvider.Meter("dnschat")

	m := &Metrics{}
	var err error

	if m.QueriesTotal, err = meter.Int64Counter(
		"dns.queries.total",
		metric.WithDescription("Total number of TXT queries started"),
	); err != nil {
		return nil, fmt.Errorf("failed to create queries counter: %w", err)
	}

	if m.QueryDuration, err = meter.Float64Histogram(
		"dns.query.duration",
		metric.WithDescription("End-to-end query duration in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, fmt.Errorf("failed to create query duration histogram: %w", err)
	}

	if m.TransportAttempts, err = meter.Int64Counter(
		"dns.transport.attempts",
		metric.WithDescription("Transport attempts by transport name"),
	); err != nil {
		return nil, fmt.Errorf("failed to create transport attempts counter: %w", err)
	}

	if m.TransportFailures, err = meter.Int64Counter(
		"dns.transport.failures",
		metric.WithDescription("Transport failures by transport name and error kind"),
	); err != nil {
		return nil, fmt.Errorf("failed to create transport failures counter: %w", err)
	}

	if m.DedupShared, err = meter.Int64Counter(
		"dns.queries.deduplicated",
		metric.WithDescription("Queries that attached to an in-flight identical query"),
	); err != nil {
		return nil, fmt.Errorf("failed to create dedup counter: %w", err)
	}

	if m.SanitizerRejected, err = meter.Int64Counter(
		"dns.sanitizer.rejected",
		metric.WithDescription("Messages rejected by the sanitizer"),
	); err != nil {
		return nil, fmt.Errorf("failed to create sanitizer rejects counter: %w", err)
	}

	if m.QueriesCancelled, err = meter.Int64Counter(
		"dns.queries.cancelled",
		metric.WithDescription("Pending queries cancelled by cleanup"),
	); err != nil {
		return nil, fmt.Errorf("failed to create cancelled counter: %w", err)
	}

	if m.PoolSaturated, err = meter.Int64Counter(
		"dns.pool.caller_runs",
		metric.WithDescription("Tasks executed on the submitting goroutine due to pool saturation"),
	); err != nil {
		return nil, fmt.Errorf("failed to create pool saturation counter: %w", err)
	}

	return m, nil
}

// NoopMetrics returns metrics backed by a noop meter, for tests and callers
// that run without telemetry.
func NoopMetrics() *Metrics {
	t := &Telemetry{meterProvider: noop.NewMeterProvider()}
	m, _ := t.InitMetrics()
	return m
}

// Shutdown stops the Prometheus server and flushes providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t.prometheusServer != nil {
		if err := t.prometheusServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown prometheus server: %w", err)
		}
	}
	if provider, ok := t.meterProvider.(*sdkmetric.MeterProvider); ok {
		if err := provider.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown meter provider: %w", err)
		}
	}
	return nil
}
