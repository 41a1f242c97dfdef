package crypto

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"strings"

	"go.uber.org/zap"

	"github.com/mikeyg42/vigilcam/internal/storage"
)

// Encrypted file layout: [uint32 LE plaintext length][IV][ciphertext].
const (
	FileExt    = ".enc"
	headerSize = 4

	// Upper bound on a header-declared length used for preallocation.
	maxDeclaredSize = 64 << 20
)

// FileStore is where encrypted files live.
type FileStore interface {
	Put(ctx context.Context, key string, reader io.Reader, size int64, opts ...storage.PutOption) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// SaveFile encrypts plaintext into name+".enc", replacing any existing
// file. If that name cannot be created, one retry is made under a short
// random 8.3-style name. The stored name is returned.
func (e *Engine) SaveFile(ctx context.Context, name string, plaintext []byte) (string, error) {
	payload := make([]byte, headerSize+EncryptedSize(len(plaintext)))
	binary.LittleEndian.PutUint32(payload, uint32(len(plaintext)))
	n, err := e.EncryptInto(payload[headerSize:], plaintext)
	if err != nil {
		return "", err
	}
	payload = payload[:headerSize+n]

	key := name + FileExt
	err = e.write(ctx, key, payload)
	if errors.Is(err, storage.ErrCreateFailed) {
		fallback := fallbackName()
		e.logger.Warn("Cannot create file, retrying with short name",
			zap.String("name", key),
			zap.String("fallback", fallback),
			zap.Error(err))
		key = fallback
		err = e.write(ctx, key, payload)
	}
	if err != nil {
		return "", fmt.Errorf("failed to save %s: %w", key, err)
	}

	e.logger.Info("Encrypted file saved",
		zap.String("name", key),
		zap.Int("plaintext_size", len(plaintext)),
		zap.Int("file_size", len(payload)))
	return key, nil
}

func (e *Engine) write(ctx context.Context, key string, payload []byte) error {
	if err := e.files.Delete(ctx, key); err != nil && !storage.IsNotExist(err) {
		e.logger.Debug("Pre-write delete failed", zap.String("name", key), zap.Error(err))
	}
	return e.files.Put(ctx, key, bytes.NewReader(payload), int64(len(payload)),
		storage.WithContentType("application/octet-stream"))
}

func fallbackName() string {
	return fmt.Sprintf("I%07d%s", rand.IntN(10_000_000), FileExt)
}

// LoadFile reads and decrypts a file written by SaveFile. The ".enc"
// suffix is added when missing. The returned plaintext is sized by the
// decryption, not by the header.
func (e *Engine) LoadFile(ctx context.Context, name string) ([]byte, error) {
	if !strings.HasSuffix(name, FileExt) {
		name += FileExt
	}
	rc, err := e.files.Get(ctx, name)
	if err != nil {
		if storage.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to open %s: %w", name, err)
	}
	defer rc.Close()

	var header [headerSize]byte
	if _, err := io.ReadFull(rc, header[:]); err != nil {
		return nil, fmt.Errorf("%s: short header: %w", name, ErrInvalidBlob)
	}
	declared := int(binary.LittleEndian.Uint32(header[:]))

	var buf bytes.Buffer
	if declared <= maxDeclaredSize {
		buf.Grow(EncryptedSize(declared))
	}
	if _, err := buf.ReadFrom(rc); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}

	plaintext, err := e.Decrypt(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if len(plaintext) != declared {
		e.logger.Debug("Decrypted size differs from header",
			zap.String("name", name),
			zap.Int("declared", declared),
			zap.Int("actual", len(plaintext)))
	}
	return plaintext, nil
}
