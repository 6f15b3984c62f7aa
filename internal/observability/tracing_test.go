package observability

import (
	"context"
	"testing"
	"time"
)

func shutdownQuietly(t *testing.T, shutdown func(context.Context) error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	_ = shutdown(ctx)
}

func TestInit_UnreachableEndpoint(t *testing.T) {
	// The gRPC connection is lazy, so an unreachable collector should not
	// fail Init itself.
	shutdown, err := Init(context.Background(), "cronflow-test", "unreachable:9999")
	if err != nil {
		t.Logf("Init failed in this environment: %v", err)
		return
	}
	if shutdown == nil {
		t.Fatal("expected shutdown function to be non-nil")
	}
	shutdownQuietly(t, shutdown)
}

func TestInit_LocalCollectorAddr(t *testing.T) {
	shutdown, err := Init(context.Background(), "cronflow-test", "localhost:4317")
	if err != nil {
		t.Logf("Init returned error (may be expected in test environment): %v", err)
		return
	}
	if shutdown == nil {
		t.Fatal("expected shutdown function to be non-nil")
	}
	shutdownQuietly(t, shutdown)
}

func TestInit_EmptyServiceName(t *testing.T) {
	shutdown, err := Init(context.Background(), "", "localhost:4317")
	if err != nil {
		t.Logf("Init returned error: %v", err)
		return
	}
	if shutdown == nil {
		t.Fatal("expected shutdown function to be non-nil")
	}
	shutdownQuietly(t, shutdown)
}
