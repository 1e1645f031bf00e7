package llm

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ImageRequest 文生图请求
type ImageRequest struct {
	Prompt  string
	Style   string
	Quality string
	Size    string
}

// ImageResult 文生图结果，ImageURL 可能是 http 地址或 data URL
type ImageResult struct {
	ImageURL      string
	RevisedPrompt string
	Width         int
	Height        int
	Provider      string
	Model         string
}

// VideoRequest 图生视频请求，结果通过回调异步返回
type VideoRequest struct {
	ImageURL      string
	Prompt        string
	Duration      int
	Resolution    string
	GenerateAudio bool
	CallbackURL   string
}

// VideoResult 服务商受理后的任务标识
type VideoResult struct {
	JobID    string
	Provider string
	Model    string
}

// ImageGenerator 图片生成能力
type ImageGenerator interface {
	Name() string
	GenerateImage(ctx context.Context, request ImageRequest) (*ImageResult, error)
}

// VideoGenerator 视频生成能力
type VideoGenerator interface {
	Name() string
	GenerateVideo(ctx context.Context, request VideoRequest) (*VideoResult, error)
	// CancelVideo 尽力通知服务商停止任务
	CancelVideo(ctx context.Context, jobID string) error
}

// ProviderError 服务商调用失败
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(e.Provider)
	if e.StatusCode > 0 {
		b.WriteString(" (status ")
		b.WriteString(strconv.Itoa(e.StatusCode))
		b.WriteString(")")
	}
	b.WriteString(": ")
	switch {
	case e.Message != "":
		b.WriteString(e.Message)
	case e.Err != nil:
		b.WriteString(e.Err.Error())
	default:
		b.WriteString("provider request failed")
	}
	return b.String()
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newProviderError(provider string, statusCode int, err error, format string, args ...interface{}) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		StatusCode: statusCode,
		Message:    fmt.Sprintf(format, args...),
		Err:        err,
	}
}

// IsProviderError 判断 err 链中是否有 ProviderError
func IsProviderError(err error) bool {
	var providerErr *ProviderError
	return errors.As(err, &providerErr)
}

// parseSize 解析 "1024x1024" 形式的尺寸，无法解析时返回 0
func parseSize(size string) (int, int) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(size)), "x")
	if len(parts) != 2 {
		return 0, 0
	}
	width, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || width <= 0 {
		return 0, 0
	}
	height, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil || height <= 0 {
		return 0, 0
	}
	return width, height
}
