package kvstore

import (
	"errors"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/mikeyg42/vigilcam/internal/config"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(config.KVConfig{InMemory: true}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestGetMissing(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Get("crypto", "aes_key")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSetGetNamespaces(t *testing.T) {
	s := openTestStore(t)
	if err := s.Set("a", "k", []byte("one")); err != nil {
		t.Fatal(err)
	}
	if err := s.Set("b", "k", []byte("two")); err != nil {
		t.Fatal(err)
	}
	got, err := s.Get("a", "k")
	if err != nil || string(got) != "one" {
		t.Fatalf("a/k = %q, %v", got, err)
	}
	got, err = s.Get("b", "k")
	if err != nil || string(got) != "two" {
		t.Fatalf("b/k = %q, %v", got, err)
	}
}

func TestSetManyAndDelete(t *testing.T) {
	s := openTestStore(t)
	if err := s.SetMany("motion_cfg", map[string][]byte{"x": {1}, "y": {2}}); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete("motion_cfg", "x"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get("motion_cfg", "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("deleted key still present: %v", err)
	}
	if got, err := s.Get("motion_cfg", "y"); err != nil || got[0] != 2 {
		t.Fatalf("y = %v, %v", got, err)
	}
}

func TestIntegerHelpers(t *testing.T) {
	s := openTestStore(t)
	if err := SetUint32(s, "capture", "file_counter", 0xDEADBEEF); err != nil {
		t.Fatal(err)
	}
	v, err := GetUint32(s, "capture", "file_counter")
	if err != nil || v != 0xDEADBEEF {
		t.Fatalf("counter = %x, %v", v, err)
	}
	raw, _ := s.Get("capture", "file_counter")
	if raw[0] != 0xEF || raw[3] != 0xDE {
		t.Fatalf("value not little-endian: % x", raw)
	}

	if err := SetInt32(s, "motion_cfg", "emit_time", -3); err != nil {
		t.Fatal(err)
	}
	i, err := GetInt32(s, "motion_cfg", "emit_time")
	if err != nil || i != -3 {
		t.Fatalf("int32 = %d, %v", i, err)
	}

	_ = s.Set("capture", "short", []byte{1, 2})
	if _, err := GetUint32(s, "capture", "short"); err == nil {
		t.Fatal("expected error for wrong width")
	}
}

func TestPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(config.KVConfig{Dir: dir}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Set("crypto", "aes_key", []byte("k")); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s, err = Open(config.KVConfig{Dir: dir}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	got, err := s.Get("crypto", "aes_key")
	if err != nil || string(got) != "k" {
		t.Fatalf("after reopen: %q, %v", got, err)
	}
}
