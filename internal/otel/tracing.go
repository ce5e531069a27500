// Package otel configures the global OpenTelemetry tracer provider from the standard OTEL_*
// environment variables.
package otel

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"

	"bloodreport/internal/logging"
)

// ShutdownFunc flushes and stops the tracer provider.
type ShutdownFunc func(context.Context) error

func noopShutdown(context.Context) error { return nil }

// Init installs an OTLP tracer provider. Exporter problems are logged and tracing is left
// disabled rather than failing startup.
func Init(ctx context.Context, log *logging.Logger) (ShutdownFunc, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	if os.Getenv("OTEL_SDK_DISABLED") == "true" {
		log.Log(map[string]any{"component": "otel", "event": "tracing_configured", "tracing_enabled": false})
		return noopShutdown, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(getEnv("OTEL_SERVICE_NAME", "bloodreport")),
		),
		resource.WithFromEnv(),
		resource.WithProcess(),
		resource.WithTelemetrySDK(),
		resource.WithHost(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	protocol := getEnv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")
	exporter, err := newExporter(ctx, protocol)
	if err != nil {
		log.Log(map[string]any{
			"component": "otel",
			"event":     "tracing_init_failed",
			"status":    "error",
			"error":     err.Error(),
		})
		return noopShutdown, nil
	}

	samplerName, samplerArg, sampler := samplerFromEnv()
	tp := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
		trace.WithSampler(sampler),
	)
	otel.SetTracerProvider(tp)

	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT")
	if endpoint == "" {
		endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}
	log.Log(map[string]any{
		"component":       "otel",
		"event":           "tracing_configured",
		"tracing_enabled": true,
		"otlp_protocol":   protocol,
		"otlp_endpoint":   endpoint,
		"sampler":         samplerName,
		"sampler_arg":     samplerArg,
	})

	return tp.Shutdown, nil
}

func newExporter(ctx context.Context, protocol string) (*otlptrace.Exporter, error) {
	switch protocol {
	case "grpc":
		return otlptracegrpc.New(ctx)
	case "http/protobuf":
		return otlptracehttp.New(ctx)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol: %s", protocol)
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

// samplerFromEnv follows OTEL_TRACES_SAMPLER / OTEL_TRACES_SAMPLER_ARG. Unknown names fall back
// to parent-based always-on; an unparsable ratio means 1.0.
func samplerFromEnv() (string, string, trace.Sampler) {
	name := getEnv("OTEL_TRACES_SAMPLER", "parentbased_traceidratio")
	arg := getEnv("OTEL_TRACES_SAMPLER_ARG", "1.0")

	ratio, err := strconv.ParseFloat(arg, 64)
	if err != nil {
		ratio = 1.0
	}

	switch name {
	case "always_on":
		return name, arg, trace.AlwaysSample()
	case "always_off":
		return name, arg, trace.NeverSample()
	case "traceidratio":
		return name, arg, trace.TraceIDRatioBased(ratio)
	case "parentbased_always_on":
		return name, arg, trace.ParentBased(trace.AlwaysSample())
	case "parentbased_always_off":
		return name, arg, trace.ParentBased(trace.NeverSample())
	case "parentbased_traceidratio":
		return name, arg, trace.ParentBased(trace.TraceIDRatioBased(ratio))
	default:
		return name, arg, trace.ParentBased(trace.AlwaysSample())
	}
}
