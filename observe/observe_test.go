package observe

import (
	"context"
	"errors"
	"testing"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want error
	}{
		{"minimal", Config{ServiceName: "assetcache"}, nil},
		{"no name", Config{}, ErrMissingServiceName},
		{"bad tracing exporter", Config{ServiceName: "a", Tracing: TracingConfig{Enabled: true, Exporter: "zipkin"}}, ErrInvalidTracingExporter},
		{"bad sample", Config{ServiceName: "a", Tracing: TracingConfig{Enabled: true, Exporter: "none", SamplePct: 1.5}}, ErrInvalidSamplePct},
		{"bad metrics exporter", Config{ServiceName: "a", Metrics: MetricsConfig{Enabled: true, Exporter: "statsd"}}, ErrInvalidMetricsExporter},
		{"bad level", Config{ServiceName: "a", Logging: LoggingConfig{Enabled: true, Level: "trace"}}, ErrInvalidLogLevel},
		{"disabled parts unchecked", Config{ServiceName: "a", Metrics: MetricsConfig{Exporter: "statsd"}}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if !errors.Is(err, tt.want) {
				t.Errorf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestNewObserver_Enabled(t *testing.T) {
	ctx := context.Background()
	obs, err := NewObserver(ctx, Config{
		ServiceName: "assetcache",
		Version:     "test",
		Tracing:     TracingConfig{Enabled: true, Exporter: "none", SamplePct: 0.5},
		Metrics:     MetricsConfig{Enabled: true, Exporter: "none"},
		Logging:     LoggingConfig{Enabled: true, Level: "error"},
	})
	if err != nil {
		t.Fatalf("NewObserver failed: %v", err)
	}
	if obs.Tracer() == nil || obs.Meter() == nil || obs.Logger() == nil {
		t.Fatal("observer returned nil primitive")
	}
	if _, err := NewMetrics(obs.Meter()); err != nil {
		t.Errorf("NewMetrics on observer meter: %v", err)
	}
	if err := obs.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}

func TestNewObserver_Invalid(t *testing.T) {
	if _, err := NewObserver(context.Background(), Config{}); !errors.Is(err, ErrMissingServiceName) {
		t.Errorf("err = %v, want ErrMissingServiceName", err)
	}
}

func TestNewRequestMeta(t *testing.T) {
	meta := NewRequestMeta(nil, "k")
	if meta.Key != "k" || meta.Method != "" {
		t.Errorf("NewRequestMeta(nil) = %+v", meta)
	}
}
