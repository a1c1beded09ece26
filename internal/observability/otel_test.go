package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/tbourn/go-access-bot/internal/config"
)

// keepOTelGlobals restores the global provider and propagator after t.
func keepOTelGlobals(t *testing.T) {
	t.Helper()
	tp, prop := otel.GetTracerProvider(), otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(prop)
	})
}

func enabledOTEL(insecure bool) config.OTELConfig {
	return config.OTELConfig{
		Enabled:     true,
		Insecure:    insecure,
		Endpoint:    "localhost:4317",
		ServiceName: "go-access-bot",
		SampleRatio: 1.0,
	}
}

// captureResource records the ServiceInfo the resource is built from.
func captureResource(t *testing.T) *ServiceInfo {
	t.Helper()
	var got ServiceInfo
	orig := newServiceResourceFn
	t.Cleanup(func() { newServiceResourceFn = orig })
	newServiceResourceFn = func(ctx context.Context, info ServiceInfo) (*resource.Resource, error) {
		got = info
		return orig(ctx, info)
	}
	return &got
}

func TestSetupOTel_DisabledKeepsNoopProvider(t *testing.T) {
	keepOTelGlobals(t)
	before := otel.GetTracerProvider()

	cfg := enabledOTEL(true)
	cfg.Enabled = false
	shutdown, err := SetupOTel(context.Background(), cfg, ServiceInfo{StoreDriver: "sqlite", Transport: "polling"})
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
	assert.Equal(t, before, otel.GetTracerProvider())
}

func TestSetupOTel_InstallsProviderForBothTransports(t *testing.T) {
	for _, tc := range []struct {
		name     string
		insecure bool
		info     ServiceInfo
	}{
		{"polling over plaintext", true, ServiceInfo{Version: "v1.2.3", StoreDriver: "sqlite", Transport: "polling"}},
		{"webhook over TLS", false, ServiceInfo{Version: "v1.2.3", StoreDriver: "sheets", Transport: "webhook", InstanceID: "pod-7"}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			keepOTelGlobals(t)
			got := captureResource(t)

			shutdown, err := SetupOTel(context.Background(), enabledOTEL(tc.insecure), tc.info)
			require.NoError(t, err)
			defer func() { _ = shutdown(context.Background()) }()

			_, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider)
			assert.True(t, ok, "sdk provider installed")
			assert.Equal(t, "go-access-bot", got.Name, "service name falls back to config")
			assert.Equal(t, tc.info.StoreDriver, got.StoreDriver)
			assert.Equal(t, tc.info.Transport, got.Transport)
			if tc.info.InstanceID != "" {
				assert.Equal(t, tc.info.InstanceID, got.InstanceID)
			} else {
				assert.NotEmpty(t, got.InstanceID, "instance id generated")
			}
		})
	}
}

func TestSetupOTel_PropagatesTraceContext(t *testing.T) {
	keepOTelGlobals(t)
	shutdown, err := SetupOTel(context.Background(), enabledOTEL(true), ServiceInfo{Transport: "webhook"})
	require.NoError(t, err)
	defer func() { _ = shutdown(context.Background()) }()

	ctx, span := otel.Tracer("services/IssuanceService").Start(context.Background(), "IssueAccess")
	defer span.End()

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	assert.NotEmpty(t, carrier.Get("traceparent"))
}

func TestSetupOTel_ResourceCarriesBotAttributes(t *testing.T) {
	res, err := newServiceResourceFn(context.Background(), ServiceInfo{
		Name: "go-access-bot", Version: "v2", InstanceID: "i-1", StoreDriver: "sheets", Transport: "polling",
	})
	require.NoError(t, err)

	attrs := map[attribute.Key]string{}
	for _, kv := range res.Attributes() {
		attrs[kv.Key] = kv.Value.Emit()
	}
	assert.Equal(t, "sheets", attrs["accessbot.store.driver"])
	assert.Equal(t, "polling", attrs["accessbot.transport"])
	assert.Equal(t, "go-access-bot", attrs["service.name"])
}

func TestSetupOTel_FailuresLeaveGlobalsUntouched(t *testing.T) {
	for _, tc := range []struct {
		name     string
		sabotage func(t *testing.T)
	}{
		{"exporter", func(t *testing.T) {
			orig := newOTLPExporterFn
			t.Cleanup(func() { newOTLPExporterFn = orig })
			newOTLPExporterFn = func(context.Context, otlptrace.Client) (*otlptrace.Exporter, error) {
				return nil, errors.New("exporter down")
			}
		}},
		{"resource", func(t *testing.T) {
			orig := newServiceResourceFn
			t.Cleanup(func() { newServiceResourceFn = orig })
			newServiceResourceFn = func(context.Context, ServiceInfo) (*resource.Resource, error) {
				return nil, errors.New("bad resource")
			}
		}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			keepOTelGlobals(t)
			tc.sabotage(t)
			tp, prop := otel.GetTracerProvider(), otel.GetTextMapPropagator()

			_, err := SetupOTel(context.Background(), enabledOTEL(true), ServiceInfo{StoreDriver: "sqlite"})
			require.Error(t, err)
			assert.Equal(t, tp, otel.GetTracerProvider())
			assert.Equal(t, prop, otel.GetTextMapPropagator())
		})
	}
}

func TestSetupOTel_ShutdownWithoutSpans(t *testing.T) {
	keepOTelGlobals(t)

	// Exporter connections are lazy, so a cancelled setup context is fine.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	shutdown, err := SetupOTel(ctx, enabledOTEL(true), ServiceInfo{StoreDriver: "sqlite", Transport: "polling"})
	require.NoError(t, err)

	sctx, cancelShutdown := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancelShutdown()
	assert.NoError(t, shutdown(sctx))
}
