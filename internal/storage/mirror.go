package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/mikeyg42/vigilcam/internal/logging"
)

// Mirror copies objects from a primary store to a secondary one in the
// background. Keys are queued with Enqueue; a full queue drops the key.
type Mirror struct {
	src, dst ObjectStore
	queue    chan string
	logger   *zap.Logger

	copied  atomic.Uint64
	failed  atomic.Uint64
	dropped atomic.Uint64

	wg sync.WaitGroup
}

func NewMirror(src, dst ObjectStore, queueSize int, logger *zap.Logger) *Mirror {
	if queueSize <= 0 {
		queueSize = 32
	}
	return &Mirror{
		src:    src,
		dst:    dst,
		queue:  make(chan string, queueSize),
		logger: logging.OrGlobal(logger, "mirror"),
	}
}

// Start runs the copy worker until ctx is done. Keys still queued at that
// point are not copied.
func (m *Mirror) Start(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case key := <-m.queue:
				if err := m.Copy(ctx, key); err != nil {
					m.failed.Add(1)
					m.logger.Warn("Mirror copy failed", zap.String("key", key), zap.Error(err))
					continue
				}
				m.copied.Add(1)
			}
		}
	}()
}

// Wait blocks until the worker started by Start has exited.
func (m *Mirror) Wait() { m.wg.Wait() }

func (m *Mirror) Enqueue(key string) bool {
	select {
	case m.queue <- key:
		return true
	default:
		m.dropped.Add(1)
		m.logger.Warn("Mirror queue full, dropping", zap.String("key", key))
		return false
	}
}

// Copy replicates one object synchronously.
func (m *Mirror) Copy(ctx context.Context, key string) error {
	rc, err := m.src.Get(ctx, key)
	if err != nil {
		return err
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return fmt.Errorf("read %s: %w", key, err)
	}
	// bytes.Reader is seekable, so the destination may retry.
	return m.dst.Put(ctx, key, bytes.NewReader(data), int64(len(data)), WithContentType(DetectContentType(key)))
}

func (m *Mirror) GetMetrics() map[string]interface{} {
	return map[string]interface{}{
		"mirror_copied":  m.copied.Load(),
		"mirror_failed":  m.failed.Load(),
		"mirror_dropped": m.dropped.Load(),
	}
}
