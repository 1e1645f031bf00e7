package storage

import (
	"fmt"
	"path"
	"strings"
	"time"

	"vidgenie/internal/utils"
)

// objectKey 生成 <分类>/<所属用户>/<年/月/日>/<文件名>.<扩展名>，没有所属用户时省略该层
func objectKey(opts SaveOptions) string {
	return buildObjectKey(opts, time.Now().UTC())
}

func buildObjectKey(opts SaveOptions, now time.Time) string {
	category := sanitizePathSegment(opts.Category)
	if category == "" {
		category = "misc"
	}
	base := sanitizeFileBase(opts.BaseName)
	if base == "" {
		base = fmt.Sprintf("%d", now.UnixNano())
	}

	segments := []string{category}
	if owner := sanitizePathSegment(opts.Owner); owner != "" {
		segments = append(segments, "u"+owner)
	}
	segments = append(segments,
		fmt.Sprintf("%04d/%02d/%02d", now.Year(), now.Month(), now.Day()),
		fmt.Sprintf("%s.%s", base, normalizeExtension(opts.Extension)),
	)
	return path.Join(segments...)
}

func sanitizePathSegment(value string) string {
	value = strings.TrimSpace(value)
	builder := strings.Builder{}
	builder.Grow(len(value))
	for i := 0; i < len(value); i++ {
		ch := value[i]
		switch {
		case ch >= 'a' && ch <= 'z', ch >= '0' && ch <= '9', ch == '-', ch == '_':
			builder.WriteByte(ch)
		case ch >= 'A' && ch <= 'Z':
			builder.WriteByte(ch + 32)
		}
	}
	return builder.String()
}

func normalizeExtension(ext string) string {
	normalized := sanitizePathSegment(strings.TrimPrefix(strings.TrimSpace(ext), "."))
	if normalized == "" {
		return "bin"
	}
	return normalized
}

func sanitizeFileBase(value string) string {
	replaced := strings.ReplaceAll(strings.TrimSpace(value), " ", "-")
	return strings.Trim(sanitizePathSegment(replaced), "-_")
}

// detectContentType 与资产记录使用同一张扩展名表，各后端上传的 Content-Type 保持一致
func detectContentType(ext string) string {
	return utils.MimeFromExtension(normalizeExtension(ext))
}

func joinPrefix(prefix, key string) string {
	cleanPrefix := trimPrefix(prefix)
	if cleanPrefix == "" {
		return strings.TrimLeft(key, "/")
	}
	return path.Join(cleanPrefix, strings.TrimLeft(key, "/"))
}

func trimPrefix(prefix string) string {
	return strings.Trim(strings.TrimSpace(prefix), "/")
}
