package api

import (
	"errors"
	"net/http"

	"vidgenie/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// 错误码定义
const (
	// 通用错误码 (1xxx)
	ErrCodeInvalidRequest     = "ERR_INVALID_REQUEST"
	ErrCodeUnauthorized       = "ERR_UNAUTHORIZED"
	ErrCodeForbidden          = "ERR_FORBIDDEN"
	ErrCodeNotFound           = "ERR_NOT_FOUND"
	ErrCodeInternalError      = "ERR_INTERNAL_ERROR"
	ErrCodeServiceUnavailable = "ERR_SERVICE_UNAVAILABLE"
	ErrCodeRateLimited        = "ERR_RATE_LIMITED"

	// 认证错误码 (2xxx)
	ErrCodeInvalidCredentials = "ERR_INVALID_CREDENTIALS"
	ErrCodeEmailExists        = "ERR_EMAIL_EXISTS"
	ErrCodeUserDisabled       = "ERR_USER_DISABLED"
	ErrCodeSessionExpired     = "ERR_SESSION_EXPIRED"
	ErrCodeInvalidSignature   = "ERR_INVALID_SIGNATURE"

	// 资源错误码 (3xxx)
	ErrCodeProviderNotFound = "ERR_PROVIDER_NOT_FOUND"
	ErrCodeModelNotFound    = "ERR_MODEL_NOT_FOUND"
	ErrCodeUserNotFound     = "ERR_USER_NOT_FOUND"

	// 业务逻辑错误码 (4xxx)
	ErrCodeMissingField        = "ERR_MISSING_FIELD"
	ErrCodeValidation          = "ERR_VALIDATION"
	ErrCodeContentRejected     = "ERR_CONTENT_REJECTED"
	ErrCodeInsufficientCredits = "ERR_INSUFFICIENT_CREDITS"
	ErrCodeRetryExhausted      = "ERR_RETRY_EXHAUSTED"
	ErrCodeInvalidState        = "ERR_INVALID_STATE"
	ErrCodeCannotDeleteSelf    = "ERR_CANNOT_DELETE_SELF"
)

// APIError 统一的 API 错误响应结构
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorResponse 返回统一格式的错误响应
func ErrorResponse(c *gin.Context, status int, code string, message string) {
	c.JSON(status, APIError{
		Code:    code,
		Message: message,
	})
}

// ErrorResponseWithDetails 返回带详情的错误响应
func ErrorResponseWithDetails(c *gin.Context, status int, code string, message string, details any) {
	c.JSON(status, APIError{
		Code:    code,
		Message: message,
		Details: details,
	})
}

// 常用错误响应快捷函数

// BadRequest 400 错误请求
func BadRequest(c *gin.Context, code string, message string) {
	ErrorResponse(c, http.StatusBadRequest, code, message)
}

// Unauthorized 401 未授权
func Unauthorized(c *gin.Context, message string) {
	ErrorResponse(c, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// Forbidden 403 禁止访问
func Forbidden(c *gin.Context, message string) {
	ErrorResponse(c, http.StatusForbidden, ErrCodeForbidden, message)
}

// NotFound 404 资源不存在
func NotFound(c *gin.Context, code string, message string) {
	ErrorResponse(c, http.StatusNotFound, code, message)
}

// InternalError 500 服务器内部错误
func InternalError(c *gin.Context, message string) {
	ErrorResponse(c, http.StatusInternalServerError, ErrCodeInternalError, message)
}

// ServiceUnavailable 503 服务不可用
func ServiceUnavailable(c *gin.Context, message string) {
	ErrorResponse(c, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, message)
}

// MissingField 缺少必填字段
func MissingField(c *gin.Context, field string) {
	ErrorResponseWithDetails(c, http.StatusBadRequest, ErrCodeMissingField, field+" is required", gin.H{"field": field})
}

// InvalidPayload 无效的请求体
func InvalidPayload(c *gin.Context) {
	ErrorResponse(c, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid request payload")
}

// respondServiceError 把服务层错误映射为 HTTP 响应
func respondServiceError(c *gin.Context, err error) {
	var (
		validation   *service.ValidationError
		rejected     *service.ContentRejectedError
		insufficient *service.InsufficientCreditsError
		notFound     *service.NotFoundError
		signature    *service.InvalidSignatureError
		exhausted    *service.RetryExhaustedError
		invalidState *service.InvalidStateError
	)

	switch {
	case errors.As(err, &validation):
		ErrorResponseWithDetails(c, http.StatusBadRequest, ErrCodeValidation, validation.Error(), gin.H{"field": validation.Field})
	case errors.As(err, &rejected):
		ErrorResponseWithDetails(c, http.StatusUnprocessableEntity, ErrCodeContentRejected, "content rejected", gin.H{"reason": rejected.Reason})
	case errors.As(err, &insufficient):
		ErrorResponseWithDetails(c, http.StatusPaymentRequired, ErrCodeInsufficientCredits, "insufficient credits", gin.H{
			"have": insufficient.Have,
			"need": insufficient.Need,
		})
	case errors.As(err, &notFound):
		NotFound(c, ErrCodeNotFound, notFound.Error())
	case errors.As(err, &signature):
		ErrorResponse(c, http.StatusUnauthorized, ErrCodeInvalidSignature, "invalid signature")
	case errors.As(err, &exhausted):
		ErrorResponseWithDetails(c, http.StatusConflict, ErrCodeRetryExhausted, exhausted.Error(), gin.H{
			"attempts": exhausted.Attempts,
			"max":      exhausted.Max,
		})
	case errors.As(err, &invalidState):
		ErrorResponseWithDetails(c, http.StatusConflict, ErrCodeInvalidState, invalidState.Error(), gin.H{"status": invalidState.Status})
	case errors.Is(err, service.ErrDispatchUnavailable):
		ServiceUnavailable(c, "generation could not be scheduled, credits were refunded")
	default:
		logrus.WithError(err).WithField("path", c.FullPath()).Error("request_failed")
		InternalError(c, "internal server error")
	}
}
