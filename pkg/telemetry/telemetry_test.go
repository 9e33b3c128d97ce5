package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ravi-parthasarathy/nodeflow/pkg/engine"
	"github.com/ravi-parthasarathy/nodeflow/pkg/registry"
)

func failedSummary() engine.Summary {
	return engine.Summary{
		RunID:    uuid.New(),
		Endpoint: "checkout",
		Start:    "Cart",
		Duration: 3 * time.Millisecond,
		Trace:    engine.Chain{{Kind: engine.StepNode, Ref: "Cart"}, {Kind: engine.StepNode, Ref: "Pay"}},
		Err:      &engine.UnitError{Kind: engine.StepNode, Ref: "Pay", Err: errors.New("card declined")},
	}
}

func TestDefaultTracingConfig(t *testing.T) {
	cfg := DefaultTracingConfig("nodeflow")
	if cfg.Enabled {
		t.Error("Expected tracing to be disabled by default")
	}
	if cfg.ServiceName != "nodeflow" {
		t.Errorf("Expected service name nodeflow, got %s", cfg.ServiceName)
	}
	if cfg.OTLPEndpoint != "127.0.0.1:4318" {
		t.Errorf("Expected OTLP endpoint 127.0.0.1:4318, got %s", cfg.OTLPEndpoint)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected default config to validate, got %v", err)
	}
}

func TestTracingConfigValidate(t *testing.T) {
	cfg := DefaultTracingConfig("nodeflow")
	cfg.Enabled = true
	cfg.SampleRatio = 2
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for sample ratio above 1")
	}
	cfg.SampleRatio = 1
	cfg.OTLPEndpoint = ""
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for empty endpoint")
	}
}

func TestSetupTracingDisabled(t *testing.T) {
	shutdown, err := SetupTracing(context.Background(), DefaultTracingConfig("nodeflow"), nil)
	if err != nil {
		t.Fatalf("SetupTracing failed: %v", err)
	}
	if err := ShutdownTracing(shutdown, zap.NewNop()); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}

func TestShutdownTracingError(t *testing.T) {
	want := errors.New("flush failed")
	err := ShutdownTracing(func(context.Context) error { return want }, nil)
	if !errors.Is(err, want) {
		t.Errorf("Expected %v, got %v", want, err)
	}
}

func TestZapRecorder(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	rec := NewZapRecorder(zap.New(core))

	ok := engine.Summary{RunID: uuid.New(), Endpoint: "checkout", Success: true}
	rec.Record(context.Background(), ok)
	rec.Record(context.Background(), failedSummary())
	rec.Record(context.Background(), engine.Summary{Cancelled: true, Err: engine.ErrCancelled})

	entries := logs.AllUntimed()
	if len(entries) != 3 {
		t.Fatalf("Expected 3 log entries, got %d", len(entries))
	}
	if entries[0].Level != zapcore.InfoLevel || entries[0].Message != "process complete" {
		t.Errorf("Unexpected success entry: %v %q", entries[0].Level, entries[0].Message)
	}
	if entries[1].Level != zapcore.ErrorLevel {
		t.Errorf("Expected failure at error level, got %v", entries[1].Level)
	}
	fields := entries[1].ContextMap()
	if fields["unit"] != "Pay" || fields["endpoint"] != "checkout" {
		t.Errorf("Unexpected failure fields: %v", fields)
	}
	if entries[2].Level != zapcore.WarnLevel {
		t.Errorf("Expected cancellation at warn level, got %v", entries[2].Level)
	}
}

func TestNewLogger(t *testing.T) {
	if _, err := NewLogger("debug", "console"); err != nil {
		t.Errorf("NewLogger failed: %v", err)
	}
	if _, err := NewLogger("loud", "json"); err == nil {
		t.Error("Expected error for unknown level")
	}
	if _, err := NewLogger("info", "xml"); err == nil {
		t.Error("Expected error for unknown format")
	}
}

func TestSentryRecorder(t *testing.T) {
	var events []*sentry.Event
	client, err := sentry.NewClient(sentry.ClientOptions{
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			events = append(events, event)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	rec := NewSentryRecorder(sentry.NewHub(client, sentry.NewScope()))

	rec.Record(context.Background(), engine.Summary{Success: true})
	rec.Record(context.Background(), engine.Summary{Cancelled: true, Err: engine.ErrCancelled})
	rec.Record(context.Background(), failedSummary())

	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}
	if got := events[0].Tags["unit"]; got != "Pay" {
		t.Errorf("Expected unit tag Pay, got %q", got)
	}
	if got := events[0].Tags["endpoint"]; got != "checkout" {
		t.Errorf("Expected endpoint tag checkout, got %q", got)
	}
}

func TestEngineSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	reg := registry.New[string, string]()
	err := reg.AddEndpoint("Echo", "echo", registry.Instance[engine.Node[string, string]](
		engine.NodeFunc[string, string](func(_ context.Context, s string) (engine.NodeResult[string, string], error) {
			return engine.Complete[string](s), nil
		})))
	if err != nil {
		t.Fatalf("AddEndpoint failed: %v", err)
	}
	eng, err := engine.New[string, string, string](reg,
		func(in string) (string, string, error) { return "echo", in, nil },
		engine.WithTracerProvider(tp),
		engine.WithRecorder(engine.NopRecorder))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := eng.Process(context.Background(), "hi"); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	names := map[string]bool{}
	for _, span := range exporter.GetSpans() {
		names[span.Name] = true
	}
	if !names["nodeflow.process"] || !names["nodeflow.node"] {
		t.Errorf("Expected process and node spans, got %v", names)
	}
}
