// Package minio keeps a shared copy of downloaded QCLCD archives in an
// S3-compatible bucket so workers on other hosts skip the NOAA download.
package minio

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const noSuchKey = "NoSuchKey"

// Mirror implements archive.Mirror on a MinIO bucket.
type Mirror struct {
	client *minio.Client
	bucket string
	logger *slog.Logger
}

// NewMirror connects to endpoint and creates bucket if it is missing.
func NewMirror(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool, logger *slog.Logger) (*Mirror, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
		logger.Info("created archive bucket", "bucket", bucket)
	}
	return &Mirror{client: client, bucket: bucket, logger: logger}, nil
}

// Get copies the object name into w. It reports false when the bucket does
// not hold name.
func (m *Mirror) Get(ctx context.Context, name string, w io.Writer) (bool, error) {
	if _, err := m.client.StatObject(ctx, m.bucket, name, minio.StatObjectOptions{}); err != nil {
		if minio.ToErrorResponse(err).Code == noSuchKey {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat object: %w", err)
	}

	obj, err := m.client.GetObject(ctx, m.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return false, fmt.Errorf("failed to get object: %w", err)
	}
	defer obj.Close()

	if _, err := io.Copy(w, obj); err != nil {
		return false, fmt.Errorf("failed to read object %s: %w", name, err)
	}
	return true, nil
}

// Put uploads the local file at path as name.
func (m *Mirror) Put(ctx context.Context, name, path string) error {
	info, err := m.client.FPutObject(ctx, m.bucket, name, path, minio.PutObjectOptions{
		ContentType: contentType(name),
	})
	if err != nil {
		return fmt.Errorf("failed to upload object: %w", err)
	}
	m.logger.Debug("mirrored archive", "bucket", m.bucket, "key", name, "bytes", info.Size)
	return nil
}

// HealthCheck verifies the bucket is reachable.
func (m *Mirror) HealthCheck(ctx context.Context) error {
	_, err := m.client.BucketExists(ctx, m.bucket)
	return err
}

func contentType(name string) string {
	switch {
	case strings.HasSuffix(name, ".zip"):
		return "application/zip"
	case strings.HasSuffix(name, ".tar.gz"):
		return "application/gzip"
	default:
		return "application/octet-stream"
	}
}
