package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/talgya/frontline/internal/config"
)

func TestSetupDisabledWithoutEndpoint(t *testing.T) {
	before := otel.GetTracerProvider()
	shutdown, err := Setup(context.Background(), config.Telemetry{ServiceName: "warsim"})
	if err != nil {
		t.Fatal(err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if otel.GetTracerProvider() != before {
		t.Fatal("disabled telemetry replaced the global provider")
	}
}

func TestSetupInstallsProvider(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.Telemetry{
		Endpoint:    "http://127.0.0.1:4318",
		ServiceName: "warsim-test",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider); !ok {
		t.Fatalf("provider = %T", otel.GetTracerProvider())
	}
	// Nothing was recorded, so shutdown has nothing to export.
	if err := shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
}
