// Package kvstore is a small namespaced key/value store on badger. It holds
// the device's persistent settings: the storage key, motion settings and
// the capture counter.
package kvstore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/mikeyg42/vigilcam/internal/config"
	"github.com/mikeyg42/vigilcam/internal/logging"
)

// ErrNotFound is returned when a namespace/key pair has never been written.
var ErrNotFound = errors.New("kvstore: key not found")

// KV is the subset of Store used by consumers.
type KV interface {
	Get(namespace, key string) ([]byte, error)
	Set(namespace, key string, value []byte) error
}

type Store struct {
	db     *badger.DB
	logger *zap.Logger

	reads  atomic.Uint64
	writes atomic.Uint64
}

// Open opens (or creates) the store described by cfg.
func Open(cfg config.KVConfig, logger *zap.Logger) (*Store, error) {
	logger = logging.OrGlobal(logger, "kvstore")

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if strings.TrimSpace(cfg.Dir) == "" {
			return nil, fmt.Errorf("kvstore: directory is required")
		}
		opts = badger.DefaultOptions(cfg.Dir)
		opts.ValueLogFileSize = 16 << 20
		// Settings writes are rare; make each one durable.
		opts.SyncWrites = true
	}
	opts.NumVersionsToKeep = 1
	opts.Logger = &badgerLogger{s: logger.Named("badger").Sugar()}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open kv store: %w", err)
	}
	logger.Info("KV store opened", zap.String("dir", cfg.Dir), zap.Bool("in_memory", cfg.InMemory))
	return &Store{db: db, logger: logger}, nil
}

func compositeKey(namespace, key string) []byte {
	return []byte(namespace + "/" + key)
}

// Get returns a copy of the stored value.
func (s *Store) Get(namespace, key string) ([]byte, error) {
	s.reads.Add(1)
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(compositeKey(namespace, key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%s/%s: %w", namespace, key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s/%s: %w", namespace, key, err)
	}
	return out, nil
}

func (s *Store) Set(namespace, key string, value []byte) error {
	return s.SetMany(namespace, map[string][]byte{key: value})
}

// SetMany writes all entries of one namespace in a single transaction.
func (s *Store) SetMany(namespace string, entries map[string][]byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		for k, v := range entries {
			if err := txn.Set(compositeKey(namespace, k), v); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to commit %s: %w", namespace, err)
	}
	s.writes.Add(uint64(len(entries)))
	return nil
}

func (s *Store) Delete(namespace, key string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(compositeKey(namespace, key))
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", namespace, key, err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) GetMetrics() map[string]interface{} {
	return map[string]interface{}{
		"kv_reads":  s.reads.Load(),
		"kv_writes": s.writes.Load(),
	}
}

// Little-endian integer helpers for the fixed-width values the device keeps.

func GetUint32(kv KV, namespace, key string) (uint32, error) {
	b, err := kv.Get(namespace, key)
	if err != nil {
		return 0, err
	}
	if len(b) != 4 {
		return 0, fmt.Errorf("%s/%s: expected 4 bytes, got %d", namespace, key, len(b))
	}
	return binary.LittleEndian.Uint32(b), nil
}

func SetUint32(kv KV, namespace, key string, v uint32) error {
	return kv.Set(namespace, key, binary.LittleEndian.AppendUint32(nil, v))
}

func GetInt32(kv KV, namespace, key string) (int32, error) {
	v, err := GetUint32(kv, namespace, key)
	return int32(v), err
}

func SetInt32(kv KV, namespace, key string, v int32) error {
	return SetUint32(kv, namespace, key, uint32(v))
}

// badgerLogger routes badger's printf-style logging into zap. Badger is
// chatty at info level, so that is demoted to debug.
type badgerLogger struct {
	s *zap.SugaredLogger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.s.Errorf(strings.TrimSpace(format), args...)
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.s.Warnf(strings.TrimSpace(format), args...)
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.s.Debugf(strings.TrimSpace(format), args...)
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.s.Debugf(strings.TrimSpace(format), args...)
}
