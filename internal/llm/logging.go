package llm

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"
)

const logSnippetLimit = 120

type jobIDKey struct{}

// WithJobID 让服务商日志带上所属生成任务
func WithJobID(ctx context.Context, jobID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, jobIDKey{}, strings.TrimSpace(jobID))
}

// JobIDFromContext 未设置时返回空串
func JobIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	jobID, _ := ctx.Value(jobIDKey{}).(string)
	return jobID
}

func providerLogger(ctx context.Context, providerID, model string) *logrus.Entry {
	fields := logrus.Fields{"provider": providerID}
	if trimmedModel := strings.TrimSpace(model); trimmedModel != "" {
		fields["model"] = trimmedModel
	}
	if jobID := JobIDFromContext(ctx); jobID != "" {
		fields["job_id"] = jobID
	}

	entry := logrus.WithFields(fields)
	if ctx != nil {
		entry = entry.WithContext(ctx)
	}
	return entry
}

// logSnippet 截断提示词，避免整段写入日志
func logSnippet(value string) string {
	value = strings.TrimSpace(value)
	runes := []rune(value)
	if len(runes) <= logSnippetLimit {
		return value
	}
	return string(runes[:logSnippetLimit]) + "..."
}
