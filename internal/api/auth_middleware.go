package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"vidgenie/internal/entity"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	currentUserContextKey = "current-user"
	// EventSource 无法设置请求头，SSE 接口允许通过查询参数携带令牌
	accessTokenQueryParam = "access_token"
)

// RequestUser 存储请求上下文中的认证用户信息
type RequestUser struct {
	ID          uint
	Email       string
	DisplayName string
	Role        string
	Plan        string
}

// IsAdmin 判断用户是否具有管理员权限
func (u *RequestUser) IsAdmin() bool {
	if u == nil {
		return false
	}
	switch u.Role {
	case entity.UserRoleAdmin, entity.UserRoleSuperAdmin:
		return true
	default:
		return false
	}
}

// IsSuperAdmin 判断用户是否为超级管理员
func (u *RequestUser) IsSuperAdmin() bool {
	if u == nil {
		return false
	}
	return u.Role == entity.UserRoleSuperAdmin
}

// AuthMiddleware JWT 认证中间件，只接受 Authorization 头
func (h *HTTPHandler) AuthMiddleware() gin.HandlerFunc {
	return h.authenticate(false)
}

// StreamAuthMiddleware SSE 认证，缺少 Authorization 头时读取 access_token 参数
func (h *HTTPHandler) StreamAuthMiddleware() gin.HandlerFunc {
	return h.authenticate(true)
}

// bearerToken 返回令牌或面向客户端的错误描述
func bearerToken(c *gin.Context, allowQuery bool) (string, string) {
	authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
	if authHeader == "" {
		if allowQuery {
			if token := strings.TrimSpace(c.Query(accessTokenQueryParam)); token != "" {
				return token, ""
			}
		}
		return "", "缺少授权头"
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", "无效的授权头格式"
	}
	tokenString := strings.TrimSpace(parts[1])
	if tokenString == "" {
		return "", "缺少 Bearer Token"
	}
	return tokenString, ""
}

func (h *HTTPHandler) authenticate(allowQuery bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, problem := bearerToken(c, allowQuery)
		if problem != "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, APIError{
				Code:    ErrCodeUnauthorized,
				Message: problem,
			})
			return
		}

		claims, err := h.authManager.ParseToken(tokenString)
		if err != nil {
			logrus.WithError(err).WithField("path", c.FullPath()).Warn("failed to parse jwt token")
			c.AbortWithStatusJSON(http.StatusUnauthorized, APIError{
				Code:    ErrCodeSessionExpired,
				Message: "Token 无效或已过期",
			})
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		user, err := h.repo.GetUserByID(ctx, claims.UserID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, APIError{
					Code:    ErrCodeUserNotFound,
					Message: "用户不存在",
				})
				return
			}
			logrus.WithError(err).WithField("user_id", claims.UserID).Error("failed to load user")
			c.AbortWithStatusJSON(http.StatusInternalServerError, APIError{
				Code:    ErrCodeInternalError,
				Message: "验证用户失败",
			})
			return
		}

		if !user.IsActive {
			c.AbortWithStatusJSON(http.StatusForbidden, APIError{
				Code:    ErrCodeUserDisabled,
				Message: "账户已被禁用",
			})
			return
		}

		requestUser := &RequestUser{
			ID:          user.ID,
			Email:       user.Email,
			DisplayName: user.DisplayName,
			Role:        user.Role,
			Plan:        user.Plan,
		}

		c.Set(currentUserContextKey, requestUser)
		c.Next()
	}
}

// RequireAdmin 管理员权限守卫中间件
func (h *HTTPHandler) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := CurrentUser(c)
		if user == nil || !user.IsAdmin() {
			c.AbortWithStatusJSON(http.StatusForbidden, APIError{
				Code:    ErrCodeForbidden,
				Message: "需要管理员权限",
			})
			return
		}
		c.Next()
	}
}

// CurrentUser 从上下文获取当前认证用户
func CurrentUser(c *gin.Context) *RequestUser {
	value, exists := c.Get(currentUserContextKey)
	if !exists {
		return nil
	}
	user, ok := value.(*RequestUser)
	if !ok {
		return nil
	}
	return user
}
