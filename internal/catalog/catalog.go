// Package catalog lists, serves and deletes the files on the storage root.
package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/mikeyg42/vigilcam/internal/camera"
	"github.com/mikeyg42/vigilcam/internal/crypto"
	"github.com/mikeyg42/vigilcam/internal/logging"
	"github.com/mikeyg42/vigilcam/internal/storage"
)

// DefaultMaxFiles caps a listing.
const DefaultMaxFiles = 50

var (
	ErrInvalidName = errors.New("invalid file name")
	ErrNotFound    = errors.New("file not found")
)

// Entry describes one file. MTime is unix seconds.
type Entry struct {
	Name  string `json:"name"`
	Size  int64  `json:"size"`
	MTime int64  `json:"mtime"`
}

// Listing is the result of List.
type Listing struct {
	Count     int     `json:"count"`
	TotalSize int64   `json:"total_size"`
	Files     []Entry `json:"files"`
}

// Media is an opened file ready to be served. Body must be closed.
type Media struct {
	Name        string
	ContentType string
	// Size is -1 when unknown.
	Size int64
	Body io.ReadCloser
}

// Decrypter opens encrypted files.
type Decrypter interface {
	LoadFile(ctx context.Context, name string) ([]byte, error)
}

type Catalog struct {
	store    storage.ObjectStore
	crypt    Decrypter
	maxFiles int
	logger   *zap.Logger
}

func New(store storage.ObjectStore, crypt Decrypter, maxFiles int, logger *zap.Logger) *Catalog {
	if maxFiles <= 0 {
		maxFiles = DefaultMaxFiles
	}
	return &Catalog{
		store:    store,
		crypt:    crypt,
		maxFiles: maxFiles,
		logger:   logging.OrGlobal(logger, "catalog"),
	}
}

// CheckName rejects names that could leave the storage root.
func CheckName(name string) error {
	if name == "" || strings.Contains(name, "..") || strings.HasPrefix(name, "/") {
		return fmt.Errorf("%q: %w", name, ErrInvalidName)
	}
	return nil
}

// List reads at most maxFiles entries from the root, then orders them
// newest first.
func (c *Catalog) List(ctx context.Context) (Listing, error) {
	infos, err := c.store.List(ctx, "", storage.WithMaxKeys(c.maxFiles))
	if err != nil {
		return Listing{Files: []Entry{}}, fmt.Errorf("failed to list storage: %w", err)
	}

	l := Listing{Files: make([]Entry, 0, len(infos))}
	for _, info := range infos {
		l.Files = append(l.Files, Entry{
			Name:  info.Key,
			Size:  info.Size,
			MTime: info.LastModified.Unix(),
		})
		l.TotalSize += info.Size
	}
	sort.SliceStable(l.Files, func(i, j int) bool {
		return l.Files[i].MTime > l.Files[j].MTime
	})
	l.Count = len(l.Files)
	return l, nil
}

// Read opens name for serving. Encrypted files are decrypted in full and
// typed by their inner extension, falling back to content sniffing.
func (c *Catalog) Read(ctx context.Context, name string) (*Media, error) {
	if err := CheckName(name); err != nil {
		return nil, err
	}

	if strings.EqualFold(filepath.Ext(name), crypto.FileExt) {
		plaintext, err := c.crypt.LoadFile(ctx, name)
		if err != nil {
			return nil, classify(name, err)
		}
		inner := strings.TrimSuffix(name, filepath.Ext(name))
		ct := ContentType(inner)
		if ct == octetStream {
			ct = http.DetectContentType(plaintext)
		}
		c.logger.Debug("Decrypted file for download",
			zap.String("name", name),
			zap.Int("size", len(plaintext)),
			zap.String("content_type", ct))
		return &Media{
			Name:        name,
			ContentType: ct,
			Size:        int64(len(plaintext)),
			Body:        io.NopCloser(bytes.NewReader(plaintext)),
		}, nil
	}

	body, err := c.store.Get(ctx, name)
	if err != nil {
		return nil, classify(name, err)
	}
	return &Media{
		Name:        name,
		ContentType: ContentType(name),
		Size:        -1,
		Body:        body,
	}, nil
}

// Delete removes one file.
func (c *Catalog) Delete(ctx context.Context, name string) error {
	if err := CheckName(name); err != nil {
		return err
	}
	if err := c.store.Delete(ctx, name); err != nil {
		return classify(name, err)
	}
	c.logger.Info("File deleted", zap.String("name", name))
	return nil
}

// DeleteAll removes every regular, non-hidden file on the root and
// returns how many were removed. Individual failures are skipped.
func (c *Catalog) DeleteAll(ctx context.Context) (int, error) {
	infos, err := c.store.List(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("failed to list storage: %w", err)
	}
	deleted := 0
	for _, info := range infos {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		if err := c.store.Delete(ctx, info.Key); err != nil {
			c.logger.Warn("Failed to delete file", zap.String("name", info.Key), zap.Error(err))
			continue
		}
		deleted++
	}
	c.logger.Info("Deleted all files", zap.Int("deleted", deleted), zap.Int("listed", len(infos)))
	return deleted, nil
}

// Mounted reports whether the storage root is usable.
func (c *Catalog) Mounted(ctx context.Context) bool {
	return c.store.HealthCheck(ctx) == nil
}

// classify maps storage and crypto errors onto the catalog sentinels.
func classify(name string, err error) error {
	switch {
	case errors.Is(err, crypto.ErrNotFound), storage.IsNotExist(err):
		return fmt.Errorf("%s: %w", name, ErrNotFound)
	case errors.Is(err, storage.ErrInvalidKey):
		return fmt.Errorf("%q: %w", name, ErrInvalidName)
	}
	return err
}

const octetStream = "application/octet-stream"

// ContentType maps a plain file name to the MIME type it is served with.
func ContentType(name string) string {
	if strings.EqualFold(filepath.Ext(name), ".mjpeg") {
		return camera.StreamContentType
	}
	return storage.DetectContentType(name)
}
