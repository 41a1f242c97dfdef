package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDecodeOverridesOnlyPresentKeys(t *testing.T) {
	cfg := NewDefaultConfig()
	doc := []byte(`
server:
  addr: "127.0.0.1:8080"
  stream_send_timeout: 5s
camera:
  quality: 60
motion:
  emission_time: 45
  capture_mode: 1
`)
	if err := Decode(doc, cfg); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if cfg.Server.Addr != "127.0.0.1:8080" {
		t.Fatalf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Server.StreamSendTimeout != 5*time.Second {
		t.Fatalf("stream send timeout = %s", cfg.Server.StreamSendTimeout)
	}
	if cfg.Camera.Quality != 60 {
		t.Fatalf("quality = %d", cfg.Camera.Quality)
	}
	if cfg.Camera.Width != 640 {
		t.Fatalf("width should keep default, got %d", cfg.Camera.Width)
	}
	if cfg.Motion.EmissionTime != 45 || cfg.Motion.CaptureMode != CaptureModeVideo {
		t.Fatalf("motion = %+v", cfg.Motion)
	}
	if cfg.Motion.LiveTime != 60 {
		t.Fatalf("live time should keep default, got %d", cfg.Motion.LiveTime)
	}
}

func TestDecodeRejectsSchemaViolations(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"unknown section", "wifi:\n  ssid: x\n"},
		{"unknown driver", "camera:\n  driver: usb\n"},
		{"quality too high", "camera:\n  quality: 101\n"},
		{"emission too short", "motion:\n  emission_time: 1\n"},
		{"bad duration", "server:\n  read_timeout: soon\n"},
		{"bad mode", "motion:\n  capture_mode: 3\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := Decode([]byte(tt.doc), NewDefaultConfig()); err == nil {
				t.Fatalf("expected schema error for %q", tt.doc)
			}
		})
	}
}

func TestDecodeEmptyDocument(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := Decode([]byte("  \n"), cfg); err != nil {
		t.Fatalf("empty document should be accepted: %v", err)
	}
	if cfg.Server.Addr != ":80" {
		t.Fatalf("defaults changed: %q", cfg.Server.Addr)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vigilcam.yaml")
	if err := os.WriteFile(path, []byte("log:\n  level: debug\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvAddr, ":9090")
	t.Setenv(EnvDataDir, "/data/")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("log level = %q", cfg.Log.Level)
	}
	if cfg.Server.Addr != ":9090" {
		t.Fatalf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Storage.Root != "/data/media" || cfg.KV.Dir != "/data/kv" {
		t.Fatalf("data dir not applied: root=%q kv=%q", cfg.Storage.Root, cfg.KV.Dir)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func intp(v int) *int { return &v }

func TestMotionApply(t *testing.T) {
	base := DefaultMotionSettings()

	tests := []struct {
		name     string
		update   MotionUpdate
		accepted int
		want     MotionSettings
		wantErr  bool
	}{
		{
			name:     "all valid",
			update:   MotionUpdate{EmissionTime: intp(120), LiveTime: intp(300), CaptureMode: intp(1), VideoDuration: intp(20)},
			accepted: 4,
			want:     MotionSettings{EmissionTime: 120, LiveTime: 300, CaptureMode: CaptureModeVideo, VideoDuration: 20},
		},
		{
			name:     "one out of range",
			update:   MotionUpdate{EmissionTime: intp(1000), LiveTime: intp(30)},
			accepted: 1,
			want:     MotionSettings{EmissionTime: 30, LiveTime: 30, CaptureMode: CaptureModePhoto, VideoDuration: 10},
			wantErr:  true,
		},
		{
			name:     "bounds inclusive",
			update:   MotionUpdate{EmissionTime: intp(5), LiveTime: intp(600), VideoDuration: intp(60)},
			accepted: 3,
			want:     MotionSettings{EmissionTime: 5, LiveTime: 600, CaptureMode: CaptureModePhoto, VideoDuration: 60},
		},
		{
			name:     "nothing valid",
			update:   MotionUpdate{CaptureMode: intp(2), VideoDuration: intp(4)},
			accepted: 0,
			want:     base,
			wantErr:  true,
		},
		{
			name:     "empty",
			accepted: 0,
			want:     base,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, n, err := base.Apply(tt.update)
			if n != tt.accepted {
				t.Fatalf("accepted = %d, want %d", n, tt.accepted)
			}
			if got != tt.want {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrOutOfRange) {
				t.Fatalf("error should wrap ErrOutOfRange: %v", err)
			}
		})
	}
}

func TestMotionValidate(t *testing.T) {
	if err := DefaultMotionSettings().Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	bad := MotionSettings{EmissionTime: 0, LiveTime: 0, CaptureMode: 7, VideoDuration: 0}
	err := bad.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	if got := strings.Count(err.Error(), "\n") + 1; got != 4 {
		t.Fatalf("expected 4 joined errors, got %d: %v", got, err)
	}
}
