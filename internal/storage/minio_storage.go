package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"vidgenie/internal/config"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type minioStorage struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewMinIOStorage 连接 MinIO 并在桶不存在时创建。
func NewMinIOStorage(cfg config.Config) (Storage, error) {
	endpoint := strings.TrimSpace(cfg.StorageMinIOEndpoint)
	if endpoint == "" {
		return nil, errors.New("storage: missing MinIO endpoint")
	}
	bucket := strings.TrimSpace(cfg.StorageMinIOBucket)
	if bucket == "" {
		return nil, errors.New("storage: missing MinIO bucket")
	}
	accessKey := strings.TrimSpace(cfg.StorageMinIOAccessKey)
	secretKey := strings.TrimSpace(cfg.StorageMinIOSecretKey)
	if accessKey == "" || secretKey == "" {
		return nil, errors.New("storage: missing MinIO credentials")
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: cfg.StorageMinIOUseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: create MinIO client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("storage: check MinIO bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("storage: create MinIO bucket: %w", err)
		}
	}

	return &minioStorage{
		client: client,
		bucket: bucket,
		prefix: trimPrefix(cfg.StorageMinIOPrefix),
	}, nil
}

func (s *minioStorage) Save(ctx context.Context, data []byte, opts SaveOptions) (string, error) {
	if len(data) == 0 {
		return "", errors.New("empty payload")
	}
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	key := objectKey(opts)
	if s.prefix != "" {
		key = joinPrefix(s.prefix, key)
	}

	if opts.SkipIfExists {
		_, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
		if err == nil {
			return key, nil
		}
		if minio.ToErrorResponse(err).Code != "NoSuchKey" {
			return "", fmt.Errorf("stat object: %w", err)
		}
	}

	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: detectContentType(opts.Extension),
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return key, nil
}

func (s *minioStorage) Delete(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("empty key")
	}
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object: %w", err)
	}
	return nil
}

var _ Storage = (*minioStorage)(nil)
