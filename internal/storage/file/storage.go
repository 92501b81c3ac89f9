package file

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/wb-go/wbf/zlog"

	"github.com/seilylook/Image-Filter-Resize-Service/internal/config"
	"github.com/seilylook/Image-Filter-Resize-Service/internal/model"
)

// ErrObjectNotFound is returned when a key does not exist in a bucket.
var ErrObjectNotFound = fmt.Errorf("object %w", model.ErrNotFound)

// ObjectInfo describes a stored blob.
type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

// Storage provides an S3-compatible object store backed by MinIO.
// Blobs are addressed by bucket and key. The client is safe for concurrent use.
type Storage struct {
	client  *minio.Client
	timeout time.Duration
}

// NewStorage creates a new Storage connected to the configured MinIO server.
// Missing buckets are created.
func NewStorage(ctx context.Context, cfg config.Storage) (*Storage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize minio client: %w", err)
	}

	s := &Storage{client: client, timeout: cfg.RequestTimeout}

	for _, bucket := range []string{cfg.OriginalBucket, cfg.ProcessedBucket} {
		if err := s.ensureBucket(ctx, bucket); err != nil {
			return nil, err
		}
	}

	return s, nil
}

func (s *Storage) ensureBucket(ctx context.Context, bucket string) error {
	exists, err := s.client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("failed to check if bucket %s exists: %w", bucket, err)
	}

	if !exists {
		if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
		}
		zlog.Logger.Info().Str("bucket", bucket).Msg("bucket created")
	}

	return nil
}

// withTimeout applies the configured per-call timeout on top of ctx.
func (s *Storage) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// Put stores data under bucket/key, overwriting any existing blob.
func (s *Storage) Put(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err := s.client.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to save %s/%s: %w", bucket, key, err)
	}

	return nil
}

// Get reads the whole blob at bucket/key. A missing key yields ErrObjectNotFound.
func (s *Storage) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	obj, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.mapError(bucket, key, err)
	}
	defer obj.Close()

	// GetObject is lazy: a missing key only surfaces on the first read.
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, s.mapError(bucket, key, err)
	}

	return data, nil
}

// List returns the blobs in bucket whose keys start with prefix.
func (s *Storage) List(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var objects []ObjectInfo
	for obj := range s.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("failed to list %s/%s: %w", bucket, prefix, obj.Err)
		}
		objects = append(objects, ObjectInfo{
			Key:          obj.Key,
			Size:         obj.Size,
			ETag:         obj.ETag,
			LastModified: obj.LastModified,
		})
	}

	return objects, nil
}

// Delete removes bucket/key. Deleting a missing key is not an error.
func (s *Storage) Delete(ctx context.Context, bucket, key string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", bucket, key, err)
	}

	return nil
}

// Ping checks that the server answers for bucket.
func (s *Storage) Ping(ctx context.Context, bucket string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if _, err := s.client.BucketExists(ctx, bucket); err != nil {
		return fmt.Errorf("object store unreachable: %w", err)
	}

	return nil
}

func (s *Storage) mapError(bucket, key string, err error) error {
	if isNotFound(err) {
		return fmt.Errorf("%s/%s: %w", bucket, key, ErrObjectNotFound)
	}

	return fmt.Errorf("failed to load %s/%s: %w", bucket, key, err)
}

func isNotFound(err error) bool {
	var resp minio.ErrorResponse
	if errors.As(err, &resp) {
		return resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" || resp.StatusCode == http.StatusNotFound
	}

	resp = minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket"
}
