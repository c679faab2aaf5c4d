// Package observer provides OTEL-based tracing for cjunct workflow runs.
//
// It wires an OTLP HTTP trace exporter behind Config.TracingEndpoint and
// exposes a cjunct.Tracer the Runner attaches via WithRunnerTracer: one span
// per Runner.Run, one child span per action run.
package observer

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const scopeName = "github.com/nevindra/cjunct/observer"

// Init sets up the OTEL trace provider with an OTLP HTTP exporter pointed at
// endpoint ("" defers to the standard OTEL env vars). Returns a shutdown
// function that must be called on application exit to flush pending spans.
func Init(ctx context.Context, endpoint string) (func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName("cjunct")),
		resource.WithFromEnv(),
	)
	if err != nil {
		return nil, err
	}

	var opts []otlptracehttp.Option
	if endpoint != "" {
		opts = append(opts, otlptracehttp.WithEndpointURL(endpoint))
	}
	traceExp, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}
