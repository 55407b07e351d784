package engine

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestCommandAndStepSpans(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	sim := newSim(t)
	do(t, sim, JoinPlayer{Player: "alice", Faction: "red"})
	_, _ = sim.Handle(context.Background(), LeavePlayer{Player: "nobody"})
	sim.Step(context.Background())

	var commands, failed, stepped int
	for _, s := range rec.Ended() {
		switch s.Name() {
		case "engine.command":
			commands++
			if s.Status().Code == codes.Error {
				failed++
			}
			if !hasAttr(s.Attributes(), "command") {
				t.Fatal("command span without command attribute")
			}
		case "engine.step":
			stepped++
		}
	}
	if commands != 2 || failed != 1 || stepped != 1 {
		t.Fatalf("commands %d failed %d steps %d", commands, failed, stepped)
	}
}

func hasAttr(attrs []attribute.KeyValue, key string) bool {
	for _, kv := range attrs {
		if string(kv.Key) == key {
			return true
		}
	}
	return false
}
