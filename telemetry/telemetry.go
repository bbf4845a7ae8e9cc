// Package telemetry publishes scan events as OpenTelemetry metrics
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/thzlab/lightscan/scan"
)

const (
	serviceName = "lightscan"
	meterName   = "github.com/thzlab/lightscan"
)

// Config holds the OTLP exporter configuration.  An empty Endpoint disables
// export
type Config struct {
	Endpoint string        `koanf:"endpoint" yaml:"endpoint"`
	Insecure bool          `koanf:"insecure" yaml:"insecure"`
	Interval time.Duration `koanf:"interval" yaml:"interval"`
}

// Setup builds the meter provider described by cfg.  The returned shutdown
// flushes pending metrics
func Setup(ctx context.Context, cfg Config, version string) (metric.MeterProvider, func(context.Context) error, error) {
	if cfg.Endpoint == "" {
		return noop.NewMeterProvider(), func(context.Context) error { return nil }, nil
	}
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exp, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("creating OTLP exporter: %w", err)
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("creating resource: %w", err)
	}
	var readerOpts []sdkmetric.PeriodicReaderOption
	if cfg.Interval > 0 {
		readerOpts = append(readerOpts, sdkmetric.WithInterval(cfg.Interval))
	}
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, readerOpts...)),
		sdkmetric.WithResource(res),
	)
	return provider, provider.Shutdown, nil
}

// Metrics is a scan.Observer that counts steps, recovered frames, warnings
// and sessions by outcome
type Metrics struct {
	steps     metric.Int64Counter
	recovered metric.Int64Counter
	warnings  metric.Int64Counter
	scans     metric.Int64Counter
	duration  metric.Float64Histogram
	estimate  metric.Float64Histogram
}

// NewMetrics creates the instruments on mp
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)
	var (
		m   Metrics
		err error
	)
	m.steps, err = meter.Int64Counter("lightscan_steps_total",
		metric.WithDescription("Scan steps completed"),
		metric.WithUnit("{step}"))
	if err != nil {
		return nil, fmt.Errorf("creating steps counter: %w", err)
	}
	m.recovered, err = meter.Int64Counter("lightscan_recovered_frames_total",
		metric.WithDescription("Lock-in replies zeroed after a decode failure"),
		metric.WithUnit("{frame}"))
	if err != nil {
		return nil, fmt.Errorf("creating recovered counter: %w", err)
	}
	m.warnings, err = meter.Int64Counter("lightscan_warnings_total",
		metric.WithDescription("Non-fatal conditions reported during scans"),
		metric.WithUnit("{warning}"))
	if err != nil {
		return nil, fmt.Errorf("creating warnings counter: %w", err)
	}
	m.scans, err = meter.Int64Counter("lightscan_scans_total",
		metric.WithDescription("Finished scans by outcome"),
		metric.WithUnit("{scan}"))
	if err != nil {
		return nil, fmt.Errorf("creating scans counter: %w", err)
	}
	m.duration, err = meter.Float64Histogram("lightscan_scan_duration_seconds",
		metric.WithDescription("Wall time of finished scans"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("creating duration histogram: %w", err)
	}
	m.estimate, err = meter.Float64Histogram("lightscan_scan_estimate_seconds",
		metric.WithDescription("Predicted duration of started scans"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("creating estimate histogram: %w", err)
	}
	return &m, nil
}

// Estimate records the predicted duration
func (m *Metrics) Estimate(_ scan.Session, d time.Duration) {
	m.estimate.Record(context.Background(), d.Seconds())
}

// Progress counts a step and its recovered frames
func (m *Metrics) Progress(p scan.Progress) {
	ctx := context.Background()
	m.steps.Add(ctx, 1, metric.WithAttributes(attribute.Bool("has_value", p.HasValue)))
	if p.Recovered > 0 {
		m.recovered.Add(ctx, int64(p.Recovered))
	}
}

// Warning counts a warning
func (m *Metrics) Warning(string) {
	m.warnings.Add(context.Background(), 1)
}

// Finished counts the session by outcome and records its duration
func (m *Metrics) Finished(s scan.Session) {
	ctx := context.Background()
	opt := metric.WithAttributes(attribute.String("outcome", string(s.Outcome)))
	m.scans.Add(ctx, 1, opt)
	if !s.EndedAt.IsZero() {
		m.duration.Record(ctx, s.EndedAt.Sub(s.StartedAt).Seconds(), opt)
	}
}
