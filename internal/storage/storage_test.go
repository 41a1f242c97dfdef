package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func newLocal(t *testing.T) (*LocalStore, string) {
	t.Helper()
	dir := t.TempDir()
	return NewLocalStore(dir, zaptest.NewLogger(t)), dir
}

func TestLocalPutGetDelete(t *testing.T) {
	s, dir := newLocal(t)
	ctx := context.Background()

	payload := []byte("hello")
	if err := s.Put(ctx, "IMG_00000001.jpg.enc", bytes.NewReader(payload), int64(len(payload))); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "IMG_00000001.jpg.enc")); err != nil {
		t.Fatalf("file not on disk: %v", err)
	}

	rc, err := s.Get(ctx, "IMG_00000001.jpg.enc")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	got, _ := io.ReadAll(rc)
	rc.Close()
	if !bytes.Equal(got, payload) {
		t.Fatalf("got %q, want %q", got, payload)
	}

	ok, err := s.Exists(ctx, "IMG_00000001.jpg.enc")
	if err != nil || !ok {
		t.Fatalf("Exists = %v, %v", ok, err)
	}

	if err := s.Delete(ctx, "IMG_00000001.jpg.enc"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.Get(ctx, "IMG_00000001.jpg.enc"); !IsNotExist(err) {
		t.Fatalf("expected not-exist after delete, got %v", err)
	}
	if err := s.Delete(ctx, "IMG_00000001.jpg.enc"); !errors.Is(err, ErrNotExist) {
		t.Fatalf("second delete should wrap ErrNotExist, got %v", err)
	}
}

func TestLocalPutCreateFailure(t *testing.T) {
	s := NewLocalStore(filepath.Join(t.TempDir(), "missing"), zaptest.NewLogger(t))
	err := s.Put(context.Background(), "a.enc", bytes.NewReader([]byte("x")), 1)
	if !errors.Is(err, ErrCreateFailed) {
		t.Fatalf("expected ErrCreateFailed, got %v", err)
	}
	var serr *StorageError
	if !errors.As(err, &serr) || serr.Op != "put" {
		t.Fatalf("expected StorageError for put, got %#v", err)
	}
}

func TestLocalRejectsBadKeys(t *testing.T) {
	s, _ := newLocal(t)
	for _, key := range []string{"", "..", "../x", "a/b", ".hidden", "a\\b"} {
		if err := s.Put(context.Background(), key, bytes.NewReader(nil), 0); !errors.Is(err, ErrInvalidKey) {
			t.Fatalf("key %q: expected ErrInvalidKey, got %v", key, err)
		}
	}
}

func TestLocalList(t *testing.T) {
	s, dir := newLocal(t)
	for _, name := range []string{"a.jpg", "b.enc", "c.avi", ".hidden"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(name), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}

	objs, err := s.List(context.Background(), "")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	var names []string
	for _, o := range objs {
		names = append(names, o.Key)
	}
	sort.Strings(names)
	if len(names) != 3 || names[0] != "a.jpg" || names[1] != "b.enc" || names[2] != "c.avi" {
		t.Fatalf("unexpected listing %v", names)
	}

	capped, err := s.List(context.Background(), "", WithMaxKeys(2))
	if err != nil || len(capped) != 2 {
		t.Fatalf("capped listing = %d entries, %v", len(capped), err)
	}
}

func TestLocalHealthCheck(t *testing.T) {
	s, _ := newLocal(t)
	if err := s.HealthCheck(context.Background()); err != nil {
		t.Fatalf("mounted root reported unhealthy: %v", err)
	}
	missing := NewLocalStore(filepath.Join(t.TempDir(), "nope"), zaptest.NewLogger(t))
	if err := missing.HealthCheck(context.Background()); err == nil {
		t.Fatal("missing root reported healthy")
	}
}

func TestDetectContentType(t *testing.T) {
	tests := map[string]string{
		"IMG_1.jpg":   "image/jpeg",
		"x.JPEG":      "image/jpeg",
		"v.avi":       "video/x-msvideo",
		"v.mjpeg":     "application/octet-stream",
		"noext":       "application/octet-stream",
		"IMG.jpg.enc": "application/octet-stream",
	}
	for name, want := range tests {
		if got := DetectContentType(name); got != want {
			t.Errorf("DetectContentType(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestMirrorCopy(t *testing.T) {
	src, srcDir := newLocal(t)
	dst, dstDir := newLocal(t)
	if err := os.WriteFile(filepath.Join(srcDir, "VID_1.mjpeg.enc"), []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}

	m := NewMirror(src, dst, 4, zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	if !m.Enqueue("VID_1.mjpeg.enc") {
		t.Fatal("enqueue failed")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if b, err := os.ReadFile(filepath.Join(dstDir, "VID_1.mjpeg.enc")); err == nil && string(b) == "data" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("object was not mirrored")
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	m.Wait()

	if err := m.Copy(context.Background(), "missing.enc"); !IsNotExist(err) {
		t.Fatalf("copying a missing key should report not-exist, got %v", err)
	}
}
