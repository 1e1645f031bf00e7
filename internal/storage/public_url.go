package storage

import (
	"fmt"
	"strings"
)

// URLBuilder 将存储 key 转换为可访问的公共地址。
type URLBuilder struct {
	base string
}

// NewURLBuilder 根据 STORAGE_PUBLIC_BASE_URL 创建 URLBuilder。
func NewURLBuilder(publicBase string) URLBuilder {
	return URLBuilder{base: normalisePublicBase(publicBase)}
}

// Base 返回规范化后的基础路径。
func (b URLBuilder) Base() string {
	if b.base == "" {
		return "/files"
	}
	return b.base
}

// PublicURL 为 key 拼接公共地址，已是绝对地址时原样返回。
func (b URLBuilder) PublicURL(key string) string {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return ""
	}
	if IsAbsoluteURL(trimmed) {
		return trimmed
	}
	return fmt.Sprintf("%s/%s", strings.TrimRight(b.Base(), "/"), strings.TrimLeft(trimmed, "/"))
}

// IsAbsoluteURL 是否为 http(s) 绝对地址。
func IsAbsoluteURL(value string) bool {
	lower := strings.ToLower(strings.TrimSpace(value))
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// normalisePublicBase 规范化公共 URL 基础路径
func normalisePublicBase(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		trimmed = "/files"
	}
	if IsAbsoluteURL(trimmed) {
		return strings.TrimRight(trimmed, "/")
	}
	if !strings.HasPrefix(trimmed, "/") {
		trimmed = "/" + trimmed
	}
	return strings.TrimRight(trimmed, "/")
}
