package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const (
	ProtocolGrpc = "grpc"
	ProtocolHttp = "http"
)

// Endpoint is where one signal is exported to.
type Endpoint struct {
	// Protocol is "grpc" or "http", http when empty.
	Protocol string            `json:"protocol"`
	URL      string            `json:"url"`
	Headers  map[string]string `json:"headers"`
}

// Config is the content of telemetry.json5.
type Config struct {
	Traces  Endpoint `json:"traces"`
	Metrics Endpoint `json:"metrics"`
	// MetricInterval is the export interval in seconds, 5 when unset.
	MetricInterval int `json:"metric_interval"`
}

func (e Endpoint) validate(signal string) error {
	switch e.Protocol {
	case "", ProtocolHttp, ProtocolGrpc:
	default:
		return fmt.Errorf("%s: unknown otlp protocol %q", signal, e.Protocol)
	}
	if e.URL == "" {
		return fmt.Errorf("%s: otlp url is required", signal)
	}
	return nil
}

func newResource(serviceName string) (*resource.Resource, error) {
	return resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		),
	)
}

func newTraceProvider(ctx context.Context, r *resource.Resource, cfg Config) (*trace.TracerProvider, error) {
	exporter, err := newTraceExporter(ctx, cfg.Traces)
	if err != nil {
		return nil, err
	}
	return trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(r),
	), nil
}

func newTraceExporter(ctx context.Context, e Endpoint) (trace.SpanExporter, error) {
	err := e.validate("traces")
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, time.Second*3)
	defer cancel()

	slog.Debug("trace exporter initialized", "protocol", e.Protocol, "url", e.URL, "headers", len(e.Headers) > 0)
	if e.Protocol == ProtocolGrpc {
		return otlptracegrpc.New(
			ctx,
			otlptracegrpc.WithEndpointURL(e.URL),
			otlptracegrpc.WithHeaders(e.Headers),
		)
	}
	return otlptracehttp.New(
		ctx,
		otlptracehttp.WithEndpointURL(e.URL),
		otlptracehttp.WithHeaders(e.Headers),
	)
}

func newMetricProvider(ctx context.Context, r *resource.Resource, cfg Config) (*metric.MeterProvider, error) {
	exporter, err := newMetricExporter(ctx, cfg.Metrics)
	if err != nil {
		return nil, err
	}
	interval := time.Duration(cfg.MetricInterval) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return metric.NewMeterProvider(
		metric.WithReader(metric.NewPeriodicReader(exporter, metric.WithInterval(interval))),
		metric.WithResource(r),
	), nil
}

func newMetricExporter(ctx context.Context, e Endpoint) (metric.Exporter, error) {
	err := e.validate("metrics")
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, time.Second*3)
	defer cancel()

	slog.Debug("metric exporter initialized", "protocol", e.Protocol, "url", e.URL, "headers", len(e.Headers) > 0)
	if e.Protocol == ProtocolGrpc {
		return otlpmetricgrpc.New(
			ctx,
			otlpmetricgrpc.WithEndpointURL(e.URL),
			otlpmetricgrpc.WithHeaders(e.Headers),
		)
	}
	return otlpmetrichttp.New(
		ctx,
		otlpmetrichttp.WithEndpointURL(e.URL),
		otlpmetrichttp.WithHeaders(e.Headers),
	)
}
