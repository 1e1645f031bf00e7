package utils

import (
	"strings"
)

// SplitDataURL 拆出 mime 与 base64 内容，非 data URL 按 jpeg 处理
func SplitDataURL(value string) (string, string) {
	if !strings.HasPrefix(value, "data:") {
		return "image/jpeg", value
	}

	value = strings.TrimPrefix(value, "data:")
	parts := strings.SplitN(value, ";base64,", 2)
	if len(parts) != 2 {
		return "image/jpeg", ""
	}
	return parts[0], parts[1]
}

// IsDataURL 是否为内联 data URL
func IsDataURL(value string) bool {
	return strings.HasPrefix(strings.TrimSpace(value), "data:")
}
