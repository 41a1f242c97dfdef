// Package crypto encrypts captured media at rest with AES-256-CBC and
// PKCS#7 padding under a single device key kept in the KV store.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/mikeyg42/vigilcam/internal/kvstore"
	"github.com/mikeyg42/vigilcam/internal/logging"
)

const (
	KeySize   = 32
	BlockSize = aes.BlockSize

	keyNamespace = "crypto"
	keyName      = "aes_key"
)

var (
	ErrNotInitialized = errors.New("crypto: engine not initialized")
	ErrBufferTooSmall = errors.New("crypto: output buffer too small")
	ErrInvalidBlob    = errors.New("crypto: invalid encrypted blob")
	ErrNotFound       = errors.New("crypto: file not found")
	ErrCrypto         = errors.New("crypto: cipher failure")
)

// Engine holds the device key. It is safe for concurrent use once Init has
// returned.
type Engine struct {
	keys   kvstore.KV
	files  FileStore
	logger *zap.Logger
	rand   io.Reader

	mu    sync.RWMutex
	block cipher.Block
}

type Option func(*Engine)

// WithRandom replaces crypto/rand as the source of keys and IVs.
func WithRandom(r io.Reader) Option {
	return func(e *Engine) { e.rand = r }
}

func NewEngine(keys kvstore.KV, files FileStore, logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		keys:   keys,
		files:  files,
		logger: logging.OrGlobal(logger, "crypto"),
		rand:   rand.Reader,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Init loads the key, generating and persisting one on first use. Calling
// it again after success is a no-op.
func (e *Engine) Init() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.block != nil {
		return nil
	}

	key, err := e.keys.Get(keyNamespace, keyName)
	switch {
	case errors.Is(err, kvstore.ErrNotFound):
		key = make([]byte, KeySize)
		if _, err := io.ReadFull(e.rand, key); err != nil {
			return fmt.Errorf("failed to generate key: %w", err)
		}
		if err := e.keys.Set(keyNamespace, keyName, key); err != nil {
			return fmt.Errorf("failed to persist key: %w", err)
		}
		e.logger.Info("Generated new storage key")
	case err != nil:
		return fmt.Errorf("failed to load key: %w", err)
	case len(key) != KeySize:
		return fmt.Errorf("stored key has length %d, want %d: %w", len(key), KeySize, ErrCrypto)
	default:
		e.logger.Info("Loaded storage key")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("failed to create cipher: %w: %w", ErrCrypto, err)
	}
	e.block = block
	return nil
}

func (e *Engine) Ready() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.block != nil
}

func (e *Engine) cipherBlock() (cipher.Block, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.block == nil {
		return nil, ErrNotInitialized
	}
	return e.block, nil
}

// EncryptedSize is the IV plus the padded ciphertext for n plaintext bytes.
// Padding always adds between 1 and 16 bytes.
func EncryptedSize(n int) int {
	return BlockSize + (n/BlockSize+1)*BlockSize
}

// Encrypt returns IV || AES-256-CBC(PKCS#7(plaintext)) with a fresh IV.
func (e *Engine) Encrypt(plaintext []byte) ([]byte, error) {
	out := make([]byte, EncryptedSize(len(plaintext)))
	n, err := e.EncryptInto(out, plaintext)
	if err != nil {
		return nil, err
	}
	return out[:n], nil
}

// EncryptInto writes the encrypted form of plaintext into dst[:cap(dst)]
// and returns the number of bytes written.
func (e *Engine) EncryptInto(dst, plaintext []byte) (int, error) {
	block, err := e.cipherBlock()
	if err != nil {
		return 0, err
	}
	size := EncryptedSize(len(plaintext))
	if cap(dst) < size {
		return 0, fmt.Errorf("need %d bytes, have %d: %w", size, cap(dst), ErrBufferTooSmall)
	}
	dst = dst[:size]

	// Fresh IV
	iv := dst[:BlockSize]
	if _, err := io.ReadFull(e.rand, iv); err != nil {
		return 0, fmt.Errorf("failed to generate IV: %w: %w", ErrCrypto, err)
	}

	// Pad in place, then encrypt in place
	body := dst[BlockSize:]
	copy(body, plaintext)
	pad := byte(len(body) - len(plaintext))
	for i := len(plaintext); i < len(body); i++ {
		body[i] = pad
	}
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(body, body)
	return size, nil
}

// Decrypt reverses Encrypt. If the final byte is not a plausible padding
// length (0 or above 16) the whole decrypted buffer is returned as is.
func (e *Engine) Decrypt(blob []byte) ([]byte, error) {
	block, err := e.cipherBlock()
	if err != nil {
		return nil, err
	}
	if len(blob) < 2*BlockSize {
		return nil, fmt.Errorf("blob of %d bytes: %w", len(blob), ErrInvalidBlob)
	}
	if (len(blob)-BlockSize)%BlockSize != 0 {
		return nil, fmt.Errorf("ciphertext of %d bytes is not block aligned: %w", len(blob)-BlockSize, ErrInvalidBlob)
	}

	iv, ciphertext := blob[:BlockSize], blob[BlockSize:]
	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ciphertext)
	return unpad(out), nil
}

func unpad(b []byte) []byte {
	pad := int(b[len(b)-1])
	if pad == 0 || pad > BlockSize {
		return b
	}
	return b[:len(b)-pad]
}
