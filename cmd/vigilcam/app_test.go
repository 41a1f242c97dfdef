package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/mikeyg42/vigilcam/internal/camera"
	"github.com/mikeyg42/vigilcam/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.KV.InMemory = true
	cfg.Storage.Root = t.TempDir()
	cfg.Camera.Width = 64
	cfg.Camera.Height = 48
	cfg.Camera.FrameRate = 50
	return cfg
}

func TestNewApplication(t *testing.T) {
	app, err := NewApplication(context.Background(), testConfig(t), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewApplication failed: %v", err)
	}
	defer app.Cleanup()

	if !app.engine.Ready() {
		t.Fatal("Encryption engine not initialized")
	}
	if app.mirror != nil || app.journal != nil {
		t.Fatal("Mirror and journal should be off by default")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	frame, err := app.source.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if frame.Len() == 0 {
		t.Fatal("Empty frame from pattern sensor")
	}
	app.source.Release(frame)
}

func TestRunStopsOnCancel(t *testing.T) {
	app, err := NewApplication(context.Background(), testConfig(t), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewApplication failed: %v", err)
	}
	defer app.Cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestNewApplicationUnknownDriver(t *testing.T) {
	cfg := testConfig(t)
	cfg.Camera.Driver = "v4l2"
	if _, err := NewApplication(context.Background(), cfg, zaptest.NewLogger(t)); err == nil {
		t.Fatal("Expected error for unknown driver")
	}
}

func TestNewApplicationCameraFailure(t *testing.T) {
	cfg := testConfig(t)
	cfg.Camera.Driver = "pipe"
	cfg.Camera.Command = "/nonexistent/ffmpeg"

	_, err := NewApplication(context.Background(), cfg, zaptest.NewLogger(t))
	var camErr *cameraError
	if !errors.As(err, &camErr) {
		t.Fatalf("Expected cameraError, got %v", err)
	}
	if !errors.Is(err, camera.ErrSensorFault) {
		t.Fatalf("Expected ErrSensorFault in chain, got %v", err)
	}
}
