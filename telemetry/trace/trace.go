//
// Tencent is pleased to support the open source community by making trpc-forge-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-forge-go is licensed under the Apache License Version 2.0.
//
//

// Package trace provides distributed tracing for trpc-forge-go.
// It integrates with OpenTelemetry and exports spans over OTLP.
package trace

import (
	"context"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Service identity defaults reported with every span.
const (
	serviceName      = "trpc-forge-go"
	serviceVersion   = "v0.1.0"
	serviceNamespace = "trpc-go-forge"

	instrumentName = "trpc.group/trpc-go/trpc-forge-go"

	// ProtocolGRPC exports spans over OTLP gRPC.
	ProtocolGRPC = "grpc"
	// ProtocolHTTP exports spans over OTLP HTTP.
	ProtocolHTTP = "http"
)

// TracerProvider is the global tracer provider for telemetry.
var TracerProvider trace.TracerProvider = noop.NewTracerProvider()

// Tracer is the global tracer instance for telemetry.
var Tracer trace.Tracer = TracerProvider.Tracer("")

// Option is a function that configures tracer options.
type Option func(*options)

type options struct {
	tracesEndpoint string
	protocol       string
	headers        map[string]string
}

// WithEndpoint sets the traces endpoint (host and port) the exporter will
// connect to, e.g. "example.com:4317". If not set, the
// OTEL_EXPORTER_OTLP_TRACES_ENDPOINT and OTEL_EXPORTER_OTLP_ENDPOINT
// environment variables are consulted before falling back to localhost.
func WithEndpoint(endpoint string) Option {
	return func(opts *options) {
		opts.tracesEndpoint = endpoint
	}
}

// WithProtocol sets the export protocol, "grpc" (default) or "http".
func WithProtocol(protocol string) Option {
	return func(opts *options) {
		opts.protocol = protocol
	}
}

// WithHeaders sets the headers to include in trace export requests.
func WithHeaders(headers map[string]string) Option {
	return func(opts *options) {
		opts.headers = headers
	}
}

// Start initializes the global tracer provider and returns a cleanup
// function that flushes and shuts it down.
func Start(ctx context.Context, opts ...Option) (clean func() error, err error) {
	options := &options{protocol: ProtocolGRPC}
	for _, opt := range opts {
		opt(options)
	}
	if options.tracesEndpoint == "" {
		options.tracesEndpoint = tracesEndpoint(options.protocol)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNamespace(serviceNamespace),
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	var exporter sdktrace.SpanExporter
	switch options.protocol {
	case ProtocolHTTP:
		exporter, err = otlptracehttp.New(ctx,
			otlptracehttp.WithEndpoint(options.tracesEndpoint),
			otlptracehttp.WithInsecure(),
			otlptracehttp.WithHeaders(options.headers),
		)
	default:
		exporter, err = otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(options.tracesEndpoint),
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithHeaders(options.headers),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	TracerProvider = provider
	Tracer = otel.Tracer(instrumentName)

	return func() error {
		if err := provider.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown TracerProvider: %w", err)
		}
		return nil
	}, nil
}

func tracesEndpoint(protocol string) string {
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT"); endpoint != "" {
		return endpoint
	}
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		return endpoint
	}
	switch protocol {
	case ProtocolHTTP:
		return "localhost:4318"
	default:
		return "localhost:4317"
	}
}
