package settings

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/mikeyg42/vigilcam/internal/config"
	"github.com/mikeyg42/vigilcam/internal/kvstore"
)

func openKV(t *testing.T) *kvstore.Store {
	t.Helper()
	kv, err := kvstore.Open(config.KVConfig{InMemory: true}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = kv.Close() })
	return kv
}

func intp(v int) *int { return &v }

func TestLoadDefaults(t *testing.T) {
	s := Load(openKV(t), config.DefaultMotionSettings(), zaptest.NewLogger(t))
	if got := s.Get(); got != config.DefaultMotionSettings() {
		t.Fatalf("got %+v", got)
	}
	if s.EmissionTime() != 30*time.Second || s.LiveTime() != time.Minute || s.VideoDuration() != 10*time.Second {
		t.Fatal("duration accessors disagree with defaults")
	}
	if s.CaptureMode() != config.CaptureModePhoto {
		t.Fatal("default mode should be photo")
	}
}

func TestUpdatePersists(t *testing.T) {
	kv := openKV(t)
	s := Load(kv, config.DefaultMotionSettings(), zaptest.NewLogger(t))

	got, err := s.Update(config.MotionUpdate{EmissionTime: intp(90), CaptureMode: intp(1), LiveTime: intp(5000)})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if got.EmissionTime != 90 || got.CaptureMode != config.CaptureModeVideo || got.LiveTime != 60 {
		t.Fatalf("unexpected settings %+v", got)
	}

	reloaded := Load(kv, config.DefaultMotionSettings(), zaptest.NewLogger(t))
	if reloaded.Get() != got {
		t.Fatalf("reloaded %+v, want %+v", reloaded.Get(), got)
	}
	v, err := kvstore.GetInt32(kv, Namespace, "emit_time")
	if err != nil || v != 90 {
		t.Fatalf("emit_time = %d, %v", v, err)
	}
}

func TestUpdateRejectsAllInvalid(t *testing.T) {
	s := Load(openKV(t), config.DefaultMotionSettings(), zaptest.NewLogger(t))
	_, err := s.Update(config.MotionUpdate{VideoDuration: intp(99)})
	if !errors.Is(err, ErrNoValidFields) {
		t.Fatalf("expected ErrNoValidFields, got %v", err)
	}
	if !errors.Is(err, config.ErrOutOfRange) {
		t.Fatalf("error should carry the range failure: %v", err)
	}
	if _, err := s.Update(config.MotionUpdate{}); !errors.Is(err, ErrNoValidFields) {
		t.Fatalf("empty update: %v", err)
	}
	if s.Get() != config.DefaultMotionSettings() {
		t.Fatal("rejected update changed settings")
	}
}

func TestLoadIgnoresOutOfRange(t *testing.T) {
	kv := openKV(t)
	_ = kvstore.SetInt32(kv, Namespace, "emit_time", 1)
	_ = kvstore.SetInt32(kv, Namespace, "live_time", 120)
	_ = kvstore.SetInt32(kv, Namespace, "cap_mode", 4)
	_ = kv.Set(Namespace, "vid_dur", []byte{1})

	got := Load(kv, config.DefaultMotionSettings(), zaptest.NewLogger(t)).Get()
	want := config.DefaultMotionSettings()
	want.LiveTime = 120
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}
