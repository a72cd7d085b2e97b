package otel_test

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel"

	adapter "github.com/neomorfeo/tenantops/internal/adapter/otel"
)

func TestSetup_StdoutExporter(t *testing.T) {
	prevTracer, prevMeter := otel.GetTracerProvider(), otel.GetMeterProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTracer)
		otel.SetMeterProvider(prevMeter)
	})

	var buf bytes.Buffer
	providers, err := adapter.Setup(context.Background(), adapter.Config{
		ServiceName:    "test",
		ServiceVersion: "0.0.1",
		Environment:    "test",
		Exporter:       "stdout",
		Writer:         &buf,
	})
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	_, span := otel.Tracer("test").Start(context.Background(), "Stage.fetch_template")
	span.End()

	if err := providers.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if !strings.Contains(buf.String(), "Stage.fetch_template") {
		t.Errorf("exported output does not contain the span: %q", buf.String())
	}
}

func TestSetup_InvalidExporter(t *testing.T) {
	_, err := adapter.Setup(context.Background(), adapter.Config{
		ServiceName: "test",
		Exporter:    "invalid",
	})
	if err == nil {
		t.Fatal("expected error for invalid exporter")
	}
}

func TestSetup_NoneExporter(t *testing.T) {
	providers, err := adapter.Setup(context.Background(), adapter.Config{Exporter: "none"})
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	if err := providers.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
}

func TestConfigFromEnv_Defaults(t *testing.T) {
	cfg := adapter.ConfigFromEnv("1.2.3")

	if cfg.ServiceName != "tenantops" {
		t.Errorf("ServiceName = %q, want %q", cfg.ServiceName, "tenantops")
	}
	if cfg.ServiceVersion != "1.2.3" {
		t.Errorf("ServiceVersion = %q, want %q", cfg.ServiceVersion, "1.2.3")
	}
	if cfg.Environment != "development" || !cfg.Insecure {
		t.Errorf("Environment = %q, Insecure = %v; want insecure development", cfg.Environment, cfg.Insecure)
	}
	if cfg.Exporter != "stdout" {
		t.Errorf("Exporter = %q, want %q", cfg.Exporter, "stdout")
	}
	if cfg.MetricInterval != 0 {
		t.Errorf("MetricInterval = %v, want SDK default", cfg.MetricInterval)
	}
}

func TestConfigFromEnv_CustomValues(t *testing.T) {
	t.Setenv("OTEL_SERVICE_NAME", "custom-service")
	t.Setenv("OTEL_SERVICE_VERSION", "1.0.0")
	t.Setenv("OTEL_ENVIRONMENT", "production")
	t.Setenv("OTEL_EXPORTER", "otlp")
	t.Setenv("OTEL_METRIC_EXPORT_INTERVAL", "15s")

	cfg := adapter.ConfigFromEnv("0.1.0")

	if cfg.ServiceName != "custom-service" {
		t.Errorf("ServiceName = %q, want %q", cfg.ServiceName, "custom-service")
	}
	if cfg.ServiceVersion != "1.0.0" {
		t.Errorf("ServiceVersion = %q, want %q", cfg.ServiceVersion, "1.0.0")
	}
	if cfg.Environment != "production" || cfg.Insecure {
		t.Errorf("Environment = %q, Insecure = %v; want secure production", cfg.Environment, cfg.Insecure)
	}
	if cfg.Exporter != "otlp" {
		t.Errorf("Exporter = %q, want %q", cfg.Exporter, "otlp")
	}
	if cfg.MetricInterval != 15*time.Second {
		t.Errorf("MetricInterval = %v, want 15s", cfg.MetricInterval)
	}
}
