package moderation

import (
	"context"
	"fmt"
	"strings"

	"vidgenie/internal/config"
)

const (
	ProviderOpenAI  = "openai"
	ProviderKeyword = "keyword"
	ProviderFake    = "fake"
)

// Result 审核结论，Allowed 为 false 时 Reason 原样返回给用户
type Result struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// Allow 放行
func Allow() Result {
	return Result{Allowed: true}
}

// Reject 拒绝并附带原因
func Reject(reason string) Result {
	return Result{Allowed: false, Reason: reason}
}

// Gate 提示词审核。返回 error 表示审核服务本身不可用，不代表内容被拒绝
type Gate interface {
	Moderate(ctx context.Context, prompt string) (Result, error)
}

// NewGate 按配置选择审核实现
func NewGate(cfg config.Config) (Gate, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.ModerationProvider)) {
	case ProviderOpenAI:
		return NewOpenAIGate(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL)
	case "", ProviderKeyword:
		return NewKeywordGate(cfg.ModerationBlocklist), nil
	case ProviderFake:
		if cfg.IsProduction() {
			return nil, fmt.Errorf("fake moderation is not allowed in production")
		}
		return &FakeGate{}, nil
	default:
		return nil, fmt.Errorf("unsupported moderation provider: %s", cfg.ModerationProvider)
	}
}
