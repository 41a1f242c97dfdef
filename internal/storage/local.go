package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/mikeyg42/vigilcam/internal/logging"
)

// LocalStore keeps objects as flat files in one directory.
type LocalStore struct {
	root   string
	logger *zap.Logger

	metrics LocalMetrics
}

type LocalMetrics struct {
	TotalWrites  atomic.Uint64
	TotalReads   atomic.Uint64
	TotalDeletes atomic.Uint64
	WriteBytes   atomic.Uint64
	WriteErrors  atomic.Uint64
}

// NewLocalStore serves the directory at root. The directory is not created:
// a missing root means the card is not mounted.
func NewLocalStore(root string, logger *zap.Logger) *LocalStore {
	return &LocalStore{
		root:   filepath.Clean(root),
		logger: logging.OrGlobal(logger, "local-store"),
	}
}

func (s *LocalStore) Root() string { return s.root }

func (s *LocalStore) path(op, key string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", &StorageError{Op: op, Key: key, Err: err, StatusCode: 400}
	}
	return filepath.Join(s.root, key), nil
}

// Put truncates or creates root/key. A failure to open the file is reported
// as ErrCreateFailed so callers can retry under another name.
func (s *LocalStore) Put(ctx context.Context, key string, reader io.Reader, size int64, _ ...PutOption) error {
	p, err := s.path("put", key)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	f, err := os.OpenFile(p, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		s.metrics.WriteErrors.Add(1)
		return &StorageError{Op: "put", Key: key, Err: fmt.Errorf("%w: %w", ErrCreateFailed, err)}
	}

	n, err := io.Copy(f, reader)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && size >= 0 && n != size {
		err = fmt.Errorf("short write: %d of %d bytes", n, size)
	}
	if err != nil {
		s.metrics.WriteErrors.Add(1)
		return &StorageError{Op: "put", Key: key, Err: err}
	}

	s.metrics.TotalWrites.Add(1)
	s.metrics.WriteBytes.Add(uint64(n))
	s.logger.Debug("Object written", zap.String("key", key), zap.Int64("size", n))
	return nil
}

func (s *LocalStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	p, err := s.path("get", key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, s.wrapFSError("get", key, err)
	}
	if st, err := f.Stat(); err == nil && !st.Mode().IsRegular() {
		f.Close()
		return nil, &StorageError{Op: "get", Key: key, Err: ErrNotExist, StatusCode: 404}
	}
	s.metrics.TotalReads.Add(1)
	return f, nil
}

func (s *LocalStore) Delete(_ context.Context, key string) error {
	p, err := s.path("delete", key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		return s.wrapFSError("delete", key, err)
	}
	s.metrics.TotalDeletes.Add(1)
	return nil
}

func (s *LocalStore) Exists(_ context.Context, key string) (bool, error) {
	p, err := s.path("exists", key)
	if err != nil {
		return false, err
	}
	st, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, &StorageError{Op: "exists", Key: key, Err: err}
	}
	return st.Mode().IsRegular(), nil
}

// List returns regular, non-hidden files whose names start with prefix, in
// directory order. With a MaxKeys cap, reading stops once the cap is hit.
func (s *LocalStore) List(_ context.Context, prefix string, opts ...ListOption) ([]ObjectInfo, error) {
	options := &listOptions{}
	for _, opt := range opts {
		opt.applyList(options)
	}

	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, s.wrapFSError("list", "", err)
	}

	var objects []ObjectInfo
	for _, e := range entries {
		if options.MaxKeys > 0 && len(objects) >= options.MaxKeys {
			break
		}
		name := e.Name()
		if strings.HasPrefix(name, ".") || !strings.HasPrefix(name, prefix) || !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// Removed between ReadDir and Stat.
			continue
		}
		objects = append(objects, ObjectInfo{
			Key:          name,
			Size:         info.Size(),
			LastModified: info.ModTime(),
			ContentType:  DetectContentType(name),
		})
	}
	return objects, nil
}

func (s *LocalStore) HealthCheck(_ context.Context) error {
	st, err := os.Stat(s.root)
	if err != nil {
		return &StorageError{Op: "health_check", Err: err}
	}
	if !st.IsDir() {
		return &StorageError{Op: "health_check", Err: fmt.Errorf("%s is not a directory", s.root)}
	}
	return nil
}

func (s *LocalStore) GetMetrics() map[string]interface{} {
	return map[string]interface{}{
		"total_writes":  s.metrics.TotalWrites.Load(),
		"total_reads":   s.metrics.TotalReads.Load(),
		"total_deletes": s.metrics.TotalDeletes.Load(),
		"write_bytes":   s.metrics.WriteBytes.Load(),
		"write_errors":  s.metrics.WriteErrors.Load(),
	}
}

func (s *LocalStore) wrapFSError(op, key string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return &StorageError{Op: op, Key: key, Err: fmt.Errorf("%w: %w", ErrNotExist, err), StatusCode: 404}
	}
	return &StorageError{Op: op, Key: key, Err: err}
}
