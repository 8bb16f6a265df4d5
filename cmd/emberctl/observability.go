package main

import (
	"context"
	"log"
	"net/url"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// consoleObservability exports connection lifecycle traces and console
// metrics over OTLP when enabled via environment.
type consoleObservability struct {
	enabled bool
	tracer  trace.Tracer

	shutdown func(context.Context) error

	connects      metric.Int64Counter
	connectDurMs  metric.Float64Histogram
	linesReceived metric.Int64Counter
	commandsSent  metric.Int64Counter
}

var obs = &consoleObservability{
	tracer:   otel.Tracer("emberpanel/emberctl"),
	shutdown: func(context.Context) error { return nil },
}

func initObservability(ctx context.Context) *consoleObservability {
	enabled := strings.EqualFold(getEnv("EMBERCTL_OTEL_ENABLED", ""), "true")
	if !enabled {
		return obs
	}

	serviceName := firstNonEmpty(
		getEnv("EMBERCTL_OTEL_SERVICE_NAME", ""),
		getEnv("OTEL_SERVICE_NAME", ""),
		"emberctl",
	)
	endpoint := firstNonEmpty(
		getEnv("EMBERCTL_OTEL_OTLP_ENDPOINT", ""),
		getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	)
	protocol := strings.ToLower(firstNonEmpty(
		getEnv("EMBERCTL_OTEL_OTLP_PROTOCOL", ""),
		getEnv("OTEL_EXPORTER_OTLP_PROTOCOL", ""),
		"grpc",
	))

	if endpoint == "" {
		log.Println("observability enabled but no OTLP endpoint set; skipping OTel bootstrap")
		return obs
	}

	res := buildOTelResource(serviceName)
	tracerProvider, meterProvider, err := buildProviders(ctx, protocol, endpoint, res)
	if err != nil {
		log.Printf("failed to initialize OTel exporters: %v", err)
		return obs
	}

	otel.SetTracerProvider(tracerProvider)
	otel.SetMeterProvider(meterProvider)

	o := &consoleObservability{
		enabled: true,
		tracer:  otel.Tracer("emberpanel/emberctl"),
		shutdown: func(ctx context.Context) error {
			var firstErr error
			if err := tracerProvider.Shutdown(ctx); err != nil {
				firstErr = err
			}
			if err := meterProvider.Shutdown(ctx); err != nil && firstErr == nil {
				firstErr = err
			}
			return firstErr
		},
	}
	o.initMetrics()
	obs = o
	return o
}

func buildOTelResource(serviceName string) *resource.Resource {
	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			attribute.String("service.namespace", "emberpanel"),
		),
		resource.WithHost(),
		resource.WithOS(),
		resource.WithProcess(),
	)
	if err != nil {
		log.Printf("failed building OTel resource, using defaults: %v", err)
		return resource.Default()
	}
	return res
}

func buildProviders(
	ctx context.Context,
	protocol string,
	endpoint string,
	res *resource.Resource,
) (*sdktrace.TracerProvider, *sdkmetric.MeterProvider, error) {
	cleanEndpoint, insecure := normalizeEndpoint(endpoint)

	var (
		traceExp sdktrace.SpanExporter
		metricRM sdkmetric.Reader
		err      error
	)

	switch protocol {
	case "http/protobuf":
		traceOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cleanEndpoint)}
		metricOpts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(cleanEndpoint)}
		if insecure {
			traceOpts = append(traceOpts, otlptracehttp.WithInsecure())
			metricOpts = append(metricOpts, otlpmetrichttp.WithInsecure())
		}
		traceExp, err = otlptracehttp.New(ctx, traceOpts...)
		if err != nil {
			return nil, nil, err
		}
		metricExp, err := otlpmetrichttp.New(ctx, metricOpts...)
		if err != nil {
			return nil, nil, err
		}
		metricRM = sdkmetric.NewPeriodicReader(metricExp)
	default:
		traceOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cleanEndpoint)}
		metricOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cleanEndpoint)}
		if insecure {
			traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
			metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
		}
		traceExp, err = otlptracegrpc.New(ctx, traceOpts...)
		if err != nil {
			return nil, nil, err
		}
		metricExp, err := otlpmetricgrpc.New(ctx, metricOpts...)
		if err != nil {
			return nil, nil, err
		}
		metricRM = sdkmetric.NewPeriodicReader(metricExp)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp),
		sdktrace.WithResource(res),
	)
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(metricRM),
		sdkmetric.WithResource(res),
	)
	return tp, mp, nil
}

func normalizeEndpoint(endpoint string) (string, bool) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return "", true
	}
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		u, err := url.Parse(endpoint)
		if err == nil && u.Host != "" {
			return u.Host, u.Scheme != "https"
		}
	}
	return endpoint, true
}

func (o *consoleObservability) initMetrics() {
	meter := otel.Meter("emberpanel/emberctl")
	var err error

	o.connects, err = meter.Int64Counter("emberpanel.console.connects")
	if err != nil {
		log.Printf("failed creating metric emberpanel.console.connects: %v", err)
	}
	o.connectDurMs, err = meter.Float64Histogram("emberpanel.console.connect.duration")
	if err != nil {
		log.Printf("failed creating metric emberpanel.console.connect.duration: %v", err)
	}
	o.linesReceived, err = meter.Int64Counter("emberpanel.console.lines.received")
	if err != nil {
		log.Printf("failed creating metric emberpanel.console.lines.received: %v", err)
	}
	o.commandsSent, err = meter.Int64Counter("emberpanel.console.commands.sent")
	if err != nil {
		log.Printf("failed creating metric emberpanel.console.commands.sent: %v", err)
	}
}

// recordConnect traces one connection attempt and records its duration
// and outcome.
func (o *consoleObservability) recordConnect(ctx context.Context, target string, fn func(context.Context) error) error {
	if !o.enabled {
		return fn(ctx)
	}

	ctx, span := o.tracer.Start(ctx, "console.connect",
		trace.WithAttributes(attribute.String("emberpanel.target", target)))
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	durMs := float64(time.Since(start)) / float64(time.Millisecond)

	outcome := "ok"
	if err != nil {
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if o.connects != nil {
		o.connects.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
	if o.connectDurMs != nil {
		o.connectDurMs.Record(ctx, durMs)
	}
	return err
}

func (o *consoleObservability) recordLine(ctx context.Context) {
	if o.enabled && o.linesReceived != nil {
		o.linesReceived.Add(ctx, 1)
	}
}

func (o *consoleObservability) recordCommand(ctx context.Context) {
	if o.enabled && o.commandsSent != nil {
		o.commandsSent.Add(ctx, 1)
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
