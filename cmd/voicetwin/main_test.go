package main

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/mbertolini/voicetwin/internal/config"
)

func TestRunAPIStopsOnContextCancellation(t *testing.T) {
	cfg := config.Settings{
		BindAddr:         "127.0.0.1:0",
		ShutdownTimeout:  time.Second,
		MetricsNamespace: fmt.Sprintf("test_api_%d", time.Now().UnixNano()),
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runAPI(ctx, cfg) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("runAPI() error = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("runAPI did not return after its context was cancelled")
	}
}
