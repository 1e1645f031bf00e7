package service

import (
	"errors"
	"fmt"

	"vidgenie/internal/entity"
	"vidgenie/internal/llm"

	"gorm.io/gorm"
)

// ErrDispatchUnavailable 任务已创建但无法投递，任务已失败并退款
var ErrDispatchUnavailable = errors.New("workflow dispatcher unavailable")

// ValidationError 输入不合法，没有任何副作用
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func newValidationError(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ContentRejectedError 审核拒绝，Reason 原样返回给用户
type ContentRejectedError struct {
	Reason string
}

func (e *ContentRejectedError) Error() string {
	return "content rejected: " + e.Reason
}

// InsufficientCreditsError 余额不足
type InsufficientCreditsError struct {
	Have int64
	Need int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: have %d, need %d", e.Have, e.Need)
}

// NotFoundError 资源不存在或不属于当前用户
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// ProviderError 服务商调用失败
type ProviderError = llm.ProviderError

// InvalidSignatureError 回调签名校验失败
type InvalidSignatureError struct {
	Reason string
}

func (e *InvalidSignatureError) Error() string {
	return "invalid webhook signature: " + e.Reason
}

// RetryExhaustedError 重试次数已用完
type RetryExhaustedError struct {
	JobID    string
	Attempts int
	Max      int
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("job %s has been retried %d times (max %d)", e.JobID, e.Attempts, e.Max)
}

// InvalidStateError 当前状态不允许该操作
type InvalidStateError struct {
	JobID  string
	Status entity.JobStatus
	Action string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s job %s in status %s", e.Action, e.JobID, e.Status)
}

// notFoundOr 把 gorm.ErrRecordNotFound 转为 NotFoundError
func notFoundOr(err error, resource, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &NotFoundError{Resource: resource, ID: id}
	}
	return err
}
