// Package observability wires process-wide telemetry: the zerolog global
// logger and the OpenTelemetry tracer provider.
package observability

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"google.golang.org/grpc/credentials"

	"github.com/tbourn/go-access-bot/internal/config"
)

// Test seams.
var (
	newOTLPClient = otlptracegrpc.NewClient

	newOTLPExporterFn = func(ctx context.Context, client otlptrace.Client) (*otlptrace.Exporter, error) {
		return otlptrace.New(ctx, client)
	}

	newServiceResourceFn = func(ctx context.Context, info ServiceInfo) (*resource.Resource, error) {
		return resource.New(
			ctx,
			resource.WithAttributes(
				semconv.ServiceName(info.Name),
				semconv.ServiceVersion(info.Version),
				semconv.ServiceInstanceID(info.InstanceID),
				attribute.String("accessbot.store.driver", info.StoreDriver),
				attribute.String("accessbot.transport", info.Transport),
			),
		)
	}
)

// ServiceInfo describes the running process for the trace resource.
type ServiceInfo struct {
	Name        string
	Version     string
	InstanceID  string // generated when empty
	StoreDriver string // sheets|sqlite
	Transport   string // polling|webhook
}

// SetupOTel configures OpenTelemetry tracing and returns a shutdown function.
// When tracing is disabled the global no-op provider stays in place, so spans
// started by the issuance engine and the HTTP layer cost nothing.
func SetupOTel(ctx context.Context, cfg config.OTELConfig, info ServiceInfo) (func(context.Context) error, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}
	if info.Name == "" {
		info.Name = cfg.ServiceName
	}
	if info.InstanceID == "" {
		info.InstanceID = uuid.NewString()
	}

	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	} else {
		opts = append(opts, otlptracegrpc.WithTLSCredentials(credentials.NewClientTLSFromCert(nil, "")))
	}

	exp, err := newOTLPExporterFn(ctx, newOTLPClient(opts...))
	if err != nil {
		return nil, err
	}
	res, err := newServiceResourceFn(ctx, info)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
	return tp.Shutdown, nil
}
