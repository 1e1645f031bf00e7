package storage

import (
	"errors"
	"fmt"
	"strings"

	"vidgenie/internal/config"
)

// r2Settings R2 走 S3 协议，账户 ID 推导默认端点
type r2Settings struct {
	client s3ClientOptions
	bucket string
	prefix string
}

func resolveR2Settings(cfg config.Config) (r2Settings, error) {
	bucket := strings.TrimSpace(cfg.StorageR2Bucket)
	if bucket == "" {
		return r2Settings{}, errors.New("storage: missing R2 bucket")
	}
	accessKey := strings.TrimSpace(cfg.StorageR2AccessKeyID)
	secretKey := strings.TrimSpace(cfg.StorageR2SecretAccessKey)
	if accessKey == "" || secretKey == "" {
		return r2Settings{}, errors.New("storage: missing R2 credentials")
	}

	endpoint := strings.TrimRight(strings.TrimSpace(cfg.StorageR2Endpoint), "/")
	if endpoint == "" {
		accountID := strings.TrimSpace(cfg.StorageR2AccountID)
		if accountID == "" {
			return r2Settings{}, errors.New("storage: missing R2 endpoint or account id")
		}
		endpoint = fmt.Sprintf("https://%s.r2.cloudflarestorage.com", accountID)
	}

	region := strings.TrimSpace(cfg.StorageR2Region)
	if region == "" {
		region = "auto"
	}

	return r2Settings{
		client: s3ClientOptions{
			Region:          region,
			Endpoint:        endpoint,
			AccessKeyID:     accessKey,
			SecretAccessKey: secretKey,
			ForcePathStyle:  true,
		},
		bucket: bucket,
		prefix: trimPrefix(cfg.StorageR2Prefix),
	}, nil
}

// NewR2Storage 生成的图片和视频上传到 Cloudflare R2
func NewR2Storage(cfg config.Config) (Storage, error) {
	settings, err := resolveR2Settings(cfg)
	if err != nil {
		return nil, err
	}
	client, err := newS3Client(settings.client)
	if err != nil {
		return nil, fmt.Errorf("storage: create R2 client: %w", err)
	}
	return &remoteS3Storage{
		client: client,
		bucket: settings.bucket,
		prefix: settings.prefix,
	}, nil
}
