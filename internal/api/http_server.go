package api

import (
	"time"

	"vidgenie/internal/auth"
	"vidgenie/internal/config"
	"vidgenie/internal/model"
	"vidgenie/internal/service"

	"github.com/gin-gonic/gin"
)

// HandlerDeps HTTP 层依赖的服务
type HandlerDeps struct {
	Config      config.Config
	Repo        model.Repository
	Generations *service.GenerationService
	Credits     *service.CreditService
	Assets      *service.AssetService
	Webhooks    *service.WebhookService
}

// HTTPHandler HTTP 请求处理器
type HTTPHandler struct {
	cfg         config.Config
	repo        model.Repository
	authManager *auth.Manager
	limiter     *RateLimiter

	// 服务层
	generations *service.GenerationService
	credits     *service.CreditService
	assets      *service.AssetService
	webhooks    *service.WebhookService

	// SSE 任务进度订阅
	jobEvents *jobEventHub
}

// NewHTTPHandler 创建 HTTP 处理器实例
func NewHTTPHandler(deps HandlerDeps) (*HTTPHandler, error) {
	cfg := deps.Config
	expiry := time.Duration(cfg.JWTExpirationMinutes) * time.Minute
	authManager, err := auth.NewManager(cfg.JWTSecret, cfg.JWTIssuer, expiry)
	if err != nil {
		return nil, err
	}

	handler := &HTTPHandler{
		cfg:         cfg,
		repo:        deps.Repo,
		authManager: authManager,
		limiter:     NewRateLimiter(cfg.RateLimitPerMinute, cfg.RateLimitBurst),
		generations: deps.Generations,
		credits:     deps.Credits,
		assets:      deps.Assets,
		webhooks:    deps.Webhooks,
		jobEvents:   newJobEventHub(),
	}

	if deps.Generations != nil {
		deps.Generations.SetNotifyFunc(handler.notifyJobEvent)
	}

	return handler, nil
}

// notifyJobEvent 把任务状态变化推送给订阅的 SSE 客户端
func (h *HTTPHandler) notifyJobEvent(event service.JobEvent) {
	h.jobEvents.publish(event)
}

// currentUserID 已通过 AuthMiddleware 的请求一定有用户
func currentUserID(c *gin.Context) (uint, bool) {
	user := CurrentUser(c)
	if user == nil {
		Unauthorized(c, "authentication required")
		return 0, false
	}
	return user.ID, true
}
