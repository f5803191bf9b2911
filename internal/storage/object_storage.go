package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectStorage keeps originals in an S3-compatible bucket. It satisfies the
// same Storage interface as LocalStorage so the two are swappable by config.
type ObjectStorage struct {
	client   *minio.Client
	bucket   string
	maxBytes int64
}

type ObjectStorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
	MaxBytes  int64
}

func NewObjectStorage(cfg ObjectStorageConfig) (*ObjectStorage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	ctx := context.Background()
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return &ObjectStorage{client: client, bucket: cfg.Bucket, maxBytes: cfg.MaxBytes}, nil
}

func (s *ObjectStorage) Save(file io.Reader, info FileInfo) (string, error) {
	if err := validateUpload(info, s.maxBytes); err != nil {
		return "", err
	}

	name := buildObjectName(info)
	_, err := s.client.PutObject(context.Background(), s.bucket, name, file, info.Size,
		minio.PutObjectOptions{ContentType: info.ContentType})
	if err != nil {
		return "", fmt.Errorf("failed to store object: %w", err)
	}
	return name, nil
}

func (s *ObjectStorage) Open(path string) (io.ReadSeekCloser, error) {
	obj, err := s.client.GetObject(context.Background(), s.bucket, path, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to open object: %w", err)
	}
	return obj, nil
}

func (s *ObjectStorage) Delete(path string) error {
	if err := s.client.RemoveObject(context.Background(), s.bucket, path, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}
