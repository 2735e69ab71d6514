package coordinator

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/justapithecus/spotlight/correlator"
)

func TestVisit_RecordsSpan(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	f := &fakeFetcher{fn: func(context.Context, correlator.Request) correlator.Result {
		return delivered("home", "a")
	}}
	c := New(Config{Fetcher: f, Tracer: tp.Tracer("test")})
	c.Visit(context.Background(), Visit{Screen: "home"})

	spans := sr.Ended()
	if len(spans) != 1 || spans[0].Name() != "coordinator.visit" {
		t.Fatalf("spans = %v", spans)
	}
	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range spans[0].Attributes() {
		attrs[kv.Key] = kv.Value
	}
	if attrs["spotlight.screen"].AsString() != "home" {
		t.Errorf("screen attribute = %v", attrs["spotlight.screen"])
	}
	if attrs["spotlight.phase"].AsString() != string(PhaseApplied) {
		t.Errorf("phase attribute = %v", attrs["spotlight.phase"])
	}
	if attrs["spotlight.transition"].AsInt64() != 1 {
		t.Errorf("transition attribute = %v", attrs["spotlight.transition"])
	}
}
