// Package telemetry wires OpenTelemetry tracing and metrics for chat turns.
// Spans and metrics are exported as JSON into rotated files; when telemetry is
// disabled the no-op providers are used.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"gopkg.in/natefinch/lumberjack.v2"
)

// InstrumentationName names the tracer and meter used by the chat core.
const InstrumentationName = "github.com/samsaffron/groq-chat/internal/chat"

// Options configures Setup.
type Options struct {
	Enabled        bool
	Dir            string
	ServiceVersion string
	MetricInterval time.Duration
}

// Providers holds the tracer and meter providers handed to the chat client.
type Providers struct {
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider

	shutdown []func(context.Context) error
}

// Noop returns providers that record nothing.
func Noop() *Providers {
	return &Providers{
		TracerProvider: tracenoop.NewTracerProvider(),
		MeterProvider:  metricnoop.NewMeterProvider(),
	}
}

func rotatedFile(path string) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
		Compress:   true,
	}
}

// Setup builds SDK providers exporting to traces.jsonl and metrics.jsonl
// under opts.Dir. A disabled config returns Noop providers.
func Setup(ctx context.Context, opts Options) (*Providers, error) {
	if !opts.Enabled {
		return Noop(), nil
	}
	dir := opts.Dir
	if dir == "" {
		dir = DefaultDir()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create telemetry directory: %w", err)
	}
	interval := opts.MetricInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", "groq-chat"),
		attribute.String("service.version", opts.ServiceVersion),
	)

	traceFile := rotatedFile(filepath.Join(dir, "traces.jsonl"))
	traceExporter, err := stdouttrace.New(stdouttrace.WithWriter(traceFile))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)

	metricsFile := rotatedFile(filepath.Join(dir, "metrics.jsonl"))
	metricExporter, err := stdoutmetric.New(stdoutmetric.WithWriter(metricsFile))
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(interval))),
		sdkmetric.WithResource(res),
	)

	return &Providers{
		TracerProvider: tp,
		MeterProvider:  mp,
		shutdown: []func(context.Context) error{
			tp.Shutdown,
			mp.Shutdown,
			func(context.Context) error { return traceFile.Close() },
			func(context.Context) error { return metricsFile.Close() },
		},
	}, nil
}

// Shutdown flushes pending spans and metrics and closes the files.
func (p *Providers) Shutdown(ctx context.Context) error {
	var errs []error
	for _, fn := range p.shutdown {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	p.shutdown = nil
	return errors.Join(errs...)
}

// DefaultDir returns the directory used when telemetry.dir is unset.
func DefaultDir() string {
	if xdgState := os.Getenv("XDG_STATE_HOME"); xdgState != "" {
		return filepath.Join(xdgState, "groq-chat", "telemetry")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".groq-chat", "telemetry")
	}
	return filepath.Join(home, ".local", "state", "groq-chat", "telemetry")
}

// Instruments are the metrics recorded per chat turn.
type Instruments struct {
	Turns     metric.Int64Counter
	Fragments metric.Int64Counter
	Duration  metric.Float64Histogram
}

// NewInstruments registers the turn metrics on mp.
func NewInstruments(mp metric.MeterProvider) (*Instruments, error) {
	meter := mp.Meter(InstrumentationName)
	turns, err := meter.Int64Counter("chat.turns",
		metric.WithDescription("Completed, failed and canceled chat turns"),
		metric.WithUnit("{turn}"))
	if err != nil {
		return nil, err
	}
	fragments, err := meter.Int64Counter("chat.fragments",
		metric.WithDescription("Text fragments received from providers"),
		metric.WithUnit("{fragment}"))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("chat.turn.duration",
		metric.WithDescription("Time from request to the end of the stream"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	return &Instruments{Turns: turns, Fragments: fragments, Duration: duration}, nil
}
