package storage

import (
	"context"
	"fmt"
	"strings"

	"vidgenie/internal/config"
)

const (
	// TypeLocal 表示本地文件系统存储。
	TypeLocal = "local"
	// TypeS3 表示 Amazon S3 或兼容的存储后端。
	TypeS3 = "s3"
	// TypeOSS 表示阿里云 OSS 存储。
	TypeOSS = "oss"
	// TypeCOS 表示腾讯云 COS 存储。
	TypeCOS = "cos"
	// TypeR2 表示 Cloudflare R2 存储。
	TypeR2 = "r2"
	// TypeMinIO 表示自建 MinIO 存储。
	TypeMinIO = "minio"
)

// SaveOptions 控制存储后端如何持久化文件。
//
// Category 用于在磁盘上组织文件，Owner 把同一用户的资产归到同一目录，
// Extension 提示首选的文件扩展名（不含前导点），为空时保存为 bin。
type SaveOptions struct {
	Category     string
	Owner        string
	Extension    string
	BaseName     string
	SkipIfExists bool
}

// Storage 是持久化二进制数据并返回存储特定标识符的抽象（例如本地存储的相对路径）。
type Storage interface {
	Save(ctx context.Context, data []byte, opts SaveOptions) (string, error)
	// Delete 删除对象，对象不存在时不返回错误。
	Delete(ctx context.Context, key string) error
}

// LocalBaseDirProvider 由暴露可通过 HTTP 直接提供服务的本地目录的存储驱动实现。
type LocalBaseDirProvider interface {
	LocalBaseDir() string
}

// NormalizeType 返回规范化的存储类型名称。
func NormalizeType(value string) string {
	typeName := strings.ToLower(strings.TrimSpace(value))
	if typeName == "" {
		return TypeLocal
	}
	return typeName
}

// NewStorage 根据配置实例化存储后端。
func NewStorage(cfg config.Config) (Storage, error) {
	switch NormalizeType(cfg.StorageType) {
	case TypeLocal:
		return NewLocalStorage(cfg.StorageLocalDir)
	case TypeS3:
		return NewS3Storage(cfg)
	case TypeOSS:
		return NewOSSStorage(cfg)
	case TypeCOS:
		return NewCOSStorage(cfg)
	case TypeR2:
		return NewR2Storage(cfg)
	case TypeMinIO:
		return NewMinIOStorage(cfg)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.StorageType)
	}
}
