package utils

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var ErrEmptyPayload = errors.New("empty media payload")

// MediaPayload 内联 data URL 解码后的媒体
type MediaPayload struct {
	Data      []byte
	MimeType  string
	Extension string
}

// IsVideo 按 MIME 判断是否为视频
func (p MediaPayload) IsVideo() bool {
	return IsVideoMime(p.MimeType)
}

// ParseMediaPayload 解析 data URL 或裸 base64。
// 声明的 MIME 缺失或无法识别时按内容嗅探，仍无法识别则为 application/octet-stream。
func ParseMediaPayload(payload string) (*MediaPayload, error) {
	mimeType, encoded := SplitDataURL(strings.TrimSpace(payload))
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, ErrEmptyPayload
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}

	ext := ExtensionFromMime(mimeType)
	if ext == "" {
		mimeType = http.DetectContentType(data)
		ext = ExtensionFromMime(mimeType)
	}
	if ext == "" {
		return &MediaPayload{Data: data, MimeType: "application/octet-stream", Extension: "bin"}, nil
	}
	return &MediaPayload{Data: data, MimeType: MimeFromExtension(ext), Extension: ext}, nil
}

// DecodeMediaPayload 返回原始字节和扩展名
func DecodeMediaPayload(payload string) ([]byte, string, error) {
	parsed, err := ParseMediaPayload(payload)
	if err != nil {
		return nil, "", err
	}
	return parsed.Data, parsed.Extension, nil
}
