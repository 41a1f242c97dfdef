package storage

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/mikeyg42/vigilcam/internal/config"
	"github.com/mikeyg42/vigilcam/internal/logging"
)

// MinIOStore implements ObjectStore using MinIO
type MinIOStore struct {
	client *minio.Client
	bucket string
	logger *zap.Logger
	config config.MinIOConfig

	metrics MinIOMetrics
}

// MinIOMetrics tracks MinIO operations
type MinIOMetrics struct {
	TotalUploads   atomic.Uint64
	TotalDownloads atomic.Uint64
	TotalDeletes   atomic.Uint64
	UploadBytes    atomic.Uint64
	UploadErrors   atomic.Uint64
	DownloadErrors atomic.Uint64
}

// NewMinIOStore connects to the bucket, creating it when missing.
func NewMinIOStore(ctx context.Context, cfg config.MinIOConfig, logger *zap.Logger) (*MinIOStore, error) {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	minioClient, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	store := &MinIOStore{
		client: minioClient,
		bucket: cfg.Bucket,
		logger: logging.OrGlobal(logger, "minio-store"),
		config: cfg,
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	exists, err := minioClient.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		err = minioClient.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region})
		if err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
		store.logger.Info("Created MinIO bucket", zap.String("bucket", cfg.Bucket))
	}

	return store, nil
}

func (s *MinIOStore) newBackoff() backoff.BackOff {
	ebo := backoff.NewExponentialBackOff()
	if s.config.RetryBackoff > 0 {
		ebo.InitialInterval = s.config.RetryBackoff
	}
	ebo.Reset()
	if s.config.MaxRetries > 0 {
		return backoff.WithMaxRetries(ebo, uint64(s.config.MaxRetries))
	}
	return ebo
}

// Put uploads an object, retrying with exponential backoff. Only seekable
// readers are retried.
func (s *MinIOStore) Put(ctx context.Context, key string, reader io.Reader, size int64, opts ...PutOption) error {
	if err := ValidateKey(key); err != nil {
		return &StorageError{Op: "put", Key: key, Err: err, StatusCode: 400}
	}
	options := &putOptions{
		ContentType: "application/octet-stream",
	}
	for _, opt := range opts {
		opt.applyPut(options)
	}

	putOpts := minio.PutObjectOptions{
		ContentType:  options.ContentType,
		UserMetadata: options.Metadata,
	}

	attempt := 0
	op := func() error {
		attempt++
		if rs, ok := reader.(io.ReadSeeker); ok {
			if attempt > 1 {
				if _, err := rs.Seek(0, io.SeekStart); err != nil {
					return backoff.Permanent(fmt.Errorf("seek reset failed: %w", err))
				}
			}
		} else if attempt > 1 {
			return backoff.Permanent(fmt.Errorf("reader not seekable; not retrying"))
		}

		info, err := s.client.PutObject(ctx, s.bucket, key, reader, size, putOpts)
		if err != nil {
			s.metrics.UploadErrors.Add(1)
			if getMinioStatusCode(err) == 400 || getMinioStatusCode(err) == 403 {
				return backoff.Permanent(err)
			}
			return err
		}

		s.metrics.TotalUploads.Add(1)
		s.metrics.UploadBytes.Add(uint64(info.Size))
		s.logger.Debug("Object uploaded",
			zap.String("key", key),
			zap.Int64("size", info.Size),
			zap.String("etag", info.ETag),
			zap.Int("attempt", attempt))
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(s.newBackoff(), ctx)); err != nil {
		return &StorageError{
			Op:        "put",
			Key:       key,
			Err:       err,
			Retryable: true,
		}
	}
	return nil
}

func (s *MinIOStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		s.metrics.DownloadErrors.Add(1)
		return nil, &StorageError{Op: "get", Key: key, Err: err}
	}
	// GetObject is lazy; Stat surfaces a missing key.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, s.wrapError("get", key, err)
	}
	s.metrics.TotalDownloads.Add(1)
	return obj, nil
}

func (s *MinIOStore) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return s.wrapError("delete", key, err)
	}
	s.metrics.TotalDeletes.Add(1)
	return nil
}

func (s *MinIOStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		errResp := minio.ToErrorResponse(err)
		if errResp.Code == "NoSuchKey" {
			return false, nil
		}
		return false, &StorageError{Op: "exists", Key: key, Err: err}
	}
	return true, nil
}

func (s *MinIOStore) List(ctx context.Context, prefix string, opts ...ListOption) ([]ObjectInfo, error) {
	options := &listOptions{}
	for _, opt := range opts {
		opt.applyList(options)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var objects []ObjectInfo
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix}) {
		if obj.Err != nil {
			return nil, &StorageError{Op: "list", Err: obj.Err}
		}
		if ValidateKey(obj.Key) != nil {
			continue
		}
		objects = append(objects, ObjectInfo{
			Key:          obj.Key,
			Size:         obj.Size,
			LastModified: obj.LastModified,
			ContentType:  DetectContentType(obj.Key),
		})
		if options.MaxKeys > 0 && len(objects) >= options.MaxKeys {
			break
		}
	}
	return objects, nil
}

func (s *MinIOStore) HealthCheck(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return &StorageError{Op: "health_check", Err: err}
	}
	if !exists {
		return &StorageError{Op: "health_check", Err: fmt.Errorf("bucket %s does not exist", s.bucket)}
	}
	return nil
}

func (s *MinIOStore) GetMetrics() map[string]interface{} {
	return map[string]interface{}{
		"total_uploads":   s.metrics.TotalUploads.Load(),
		"total_downloads": s.metrics.TotalDownloads.Load(),
		"total_deletes":   s.metrics.TotalDeletes.Load(),
		"upload_bytes":    s.metrics.UploadBytes.Load(),
		"upload_errors":   s.metrics.UploadErrors.Load(),
		"download_errors": s.metrics.DownloadErrors.Load(),
	}
}

func (s *MinIOStore) wrapError(op, key string, err error) error {
	code := getMinioStatusCode(err)
	if code == 404 {
		err = fmt.Errorf("%w: %w", ErrNotExist, err)
	}
	return &StorageError{Op: op, Key: key, Err: err, StatusCode: code}
}

// getMinioStatusCode extracts HTTP status code from MinIO error
func getMinioStatusCode(err error) int {
	if errResp := minio.ToErrorResponse(err); errResp.Code != "" {
		switch errResp.Code {
		case "NoSuchKey", "NoSuchBucket":
			return 404
		case "AccessDenied":
			return 403
		case "InvalidArgument":
			return 400
		default:
			return 500
		}
	}
	return 500
}
