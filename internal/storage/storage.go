// Package storage is the media storage root: a local directory (the card
// mount point) or a MinIO bucket behind one interface.
package storage

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"time"
)

var (
	// ErrNotExist is wrapped by every StorageError for a missing object.
	ErrNotExist = errors.New("object does not exist")
	// ErrCreateFailed means the object could not be created under the given
	// key at all, as opposed to failing part way through a write.
	ErrCreateFailed = errors.New("cannot create object")
	// ErrInvalidKey is returned for keys that are not a single flat name.
	ErrInvalidKey = errors.New("invalid object key")
)

// ObjectStore defines the interface for object storage operations
type ObjectStore interface {
	Put(ctx context.Context, key string, reader io.Reader, size int64, opts ...PutOption) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, prefix string, opts ...ListOption) ([]ObjectInfo, error)

	// HealthCheck reports whether the storage root is usable (mounted).
	HealthCheck(ctx context.Context) error
}

// ObjectInfo contains information about a stored object
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
	ContentType  string
}

// PutOption configures Put operations
type PutOption interface {
	applyPut(*putOptions)
}

type putOptions struct {
	ContentType string
	Metadata    map[string]string
}

// ListOption configures List operations
type ListOption interface {
	applyList(*listOptions)
}

type listOptions struct {
	// MaxKeys caps the number of entries read; zero means no cap.
	MaxKeys int
}

type contentTypeOption string

func (o contentTypeOption) applyPut(opts *putOptions) { opts.ContentType = string(o) }

type metadataOption map[string]string

func (o metadataOption) applyPut(opts *putOptions) { opts.Metadata = o }

type maxKeysOption int

func (o maxKeysOption) applyList(opts *listOptions) { opts.MaxKeys = int(o) }

func WithContentType(contentType string) PutOption {
	return contentTypeOption(contentType)
}

func WithMetadata(metadata map[string]string) PutOption {
	return metadataOption(metadata)
}

func WithMaxKeys(n int) ListOption {
	return maxKeysOption(n)
}

// StorageError represents a storage operation error
type StorageError struct {
	Op         string
	Key        string
	Err        error
	StatusCode int
	Retryable  bool
}

func (e *StorageError) Error() string {
	if e.Key != "" {
		return e.Op + " " + e.Key + ": " + e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsNotExist returns true if the error indicates the object doesn't exist
func IsNotExist(err error) bool {
	if errors.Is(err, ErrNotExist) {
		return true
	}
	var serr *StorageError
	if errors.As(err, &serr) {
		return serr.StatusCode == 404
	}
	return false
}

// ValidateKey accepts flat, non-hidden names only.
func ValidateKey(key string) error {
	switch {
	case key == "", key == ".", key == "..":
		return ErrInvalidKey
	case strings.ContainsAny(key, "/\\\x00"):
		return ErrInvalidKey
	case strings.HasPrefix(key, "."):
		return ErrInvalidKey
	}
	return nil
}

// DetectContentType maps a media file name to its MIME type.
func DetectContentType(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".avi":
		return "video/x-msvideo"
	default:
		return "application/octet-stream"
	}
}
