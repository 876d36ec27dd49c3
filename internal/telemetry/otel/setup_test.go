package otel

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"fleet-log-router/internal/identity"
)

var testDevice = identity.DeviceIdentity{
	HostType:           "laptop",
	Hostname:           "kone-1",
	OrganisationDomain: "kool.example.org",
	ImageVersion:       "trusty-2024-05-01",
}

func resourceValue(t *testing.T, res *resource.Resource, key attribute.Key) (string, bool) {
	t.Helper()
	v, ok := res.Set().Value(key)
	if !ok {
		return "", false
	}
	return v.AsString(), true
}

func TestNewResource_CarriesDeviceIdentity(t *testing.T) {
	res, err := NewResource("fleet-log-router", testDevice)
	if err != nil {
		t.Fatalf("NewResource: %v", err)
	}
	want := map[attribute.Key]string{
		"service.name":        "fleet-log-router",
		"host.name":           "kone-1",
		HostTypeKey:           "laptop",
		OrganisationDomainKey: "kool.example.org",
		ImageVersionKey:       "trusty-2024-05-01",
	}
	for k, v := range want {
		got, ok := resourceValue(t, res, k)
		if !ok || got != v {
			t.Errorf("resource %s = %q (present %v), want %q", k, got, ok, v)
		}
	}
}

func TestNewResource_OmitsEmptyImageVersion(t *testing.T) {
	id := testDevice
	id.ImageVersion = ""
	res, err := NewResource("fleet-log-router", id)
	if err != nil {
		t.Fatalf("NewResource: %v", err)
	}
	if _, ok := resourceValue(t, res, ImageVersionKey); ok {
		t.Error("image version should be absent when unknown")
	}
	if got, _ := resourceValue(t, res, HostTypeKey); got != "laptop" {
		t.Errorf("host type = %q", got)
	}
}

func TestNewProviders_EmptyEndpoint(t *testing.T) {
	ctx := context.Background()
	for _, endpoint := range []string{"", "   "} {
		providers, err := NewProviders(ctx, ProviderOptions{Endpoint: endpoint, ServiceName: "fleet-log-router", Identity: testDevice})
		if err != nil {
			t.Fatalf("NewProviders(%q): %v", endpoint, err)
		}
		if providers.TracerProvider == nil || providers.MeterProvider == nil || providers.LoggerProvider == nil {
			t.Errorf("NewProviders(%q) left a provider nil: %+v", endpoint, providers)
		}
		if got, _ := resourceValue(t, providers.Resource, "host.name"); got != "kone-1" {
			t.Errorf("host.name = %q, want kone-1", got)
		}
		if err := providers.Shutdown(ctx); err != nil {
			t.Errorf("Shutdown: %v", err)
		}
		if err := providers.Shutdown(ctx); err != nil {
			t.Errorf("second Shutdown: %v", err)
		}
	}
}

func TestNewProviders_SpansCarryDeviceResource(t *testing.T) {
	ctx := context.Background()
	providers, err := NewProviders(ctx, ProviderOptions{ServiceName: "fleet-log-router", Identity: testDevice})
	if err != nil {
		t.Fatalf("NewProviders: %v", err)
	}
	rec := tracetest.NewSpanRecorder()
	providers.TracerProvider.RegisterSpanProcessor(rec)

	_, span := providers.TracerProvider.Tracer("test").Start(ctx, "rest.flush")
	span.End()

	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(spans))
	}
	if got, _ := resourceValue(t, spans[0].Resource(), OrganisationDomainKey); got != "kool.example.org" {
		t.Errorf("span resource organisation domain = %q", got)
	}
}

func TestNewProviders_InvalidEndpoint(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
	}{
		{"invalid characters", "://invalid"},
		{"malformed URL", "http://[invalid"},
		{"missing host", "http://"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewProviders(context.Background(), ProviderOptions{Endpoint: tc.endpoint, ServiceName: "fleet-log-router"}); err == nil {
				t.Errorf("NewProviders(%q) should fail", tc.endpoint)
			}
		})
	}
}

func TestGRPCTarget(t *testing.T) {
	tests := []struct {
		endpoint     string
		wantTarget   string
		wantInsecure bool
	}{
		{"localhost:4317", "localhost:4317", true},
		{"http://collector:4317/v1/traces", "collector:4317", true},
		{"https://collector:4317", "collector:4317", false},
		{"http://localhost:4317?param=value", "localhost:4317", true},
	}
	for _, tc := range tests {
		target, insecure, err := grpcTarget(tc.endpoint)
		if err != nil {
			t.Errorf("grpcTarget(%q): %v", tc.endpoint, err)
			continue
		}
		if target != tc.wantTarget || insecure != tc.wantInsecure {
			t.Errorf("grpcTarget(%q) = %q, %v; want %q, %v", tc.endpoint, target, insecure, tc.wantTarget, tc.wantInsecure)
		}
	}
}

func TestNewProviders_EndpointForms(t *testing.T) {
	// Exporters connect lazily, so construction succeeds without a collector.
	ctx := context.Background()
	for _, endpoint := range []string{"localhost:4317", "https://localhost:4317"} {
		providers, err := NewProviders(ctx, ProviderOptions{Endpoint: endpoint, ServiceName: "fleet-log-router", Identity: testDevice})
		if err != nil {
			t.Logf("NewProviders(%q): %v", endpoint, err)
			continue
		}
		inst, err := NewInstruments(providers.TracerProvider, providers.MeterProvider)
		if err != nil || inst == nil {
			t.Errorf("NewInstruments over %q: %v", endpoint, err)
		}
		_ = providers.Shutdown(ctx)
	}
}

func TestSetGlobal(t *testing.T) {
	oldTP, oldMP := otel.GetTracerProvider(), otel.GetMeterProvider()
	defer func() {
		otel.SetTracerProvider(oldTP)
		otel.SetMeterProvider(oldMP)
	}()

	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()
	(&Providers{TracerProvider: tp}).SetGlobal()

	if otel.GetTracerProvider() != tp {
		t.Error("TracerProvider should be installed")
	}
	if otel.GetMeterProvider() != oldMP {
		t.Error("MeterProvider should not change when nil")
	}

	// Nil providers must not panic.
	(&Providers{}).SetGlobal()
}
