package api

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes 挂载全部 /api 路由
func (h *HTTPHandler) RegisterRoutes(router gin.IRouter) {
	apiGroup := router.Group("/api")

	authGroup := apiGroup.Group("/auth")
	authGroup.GET("/status", h.AuthStatus)
	authGroup.POST("/register", h.Register)
	authGroup.POST("/login", h.Login)
	authGroup.GET("/me", h.AuthMiddleware(), h.Me)

	// 服务商回调不走用户认证，依赖签名
	apiGroup.POST("/webhooks/video", h.VideoWebhook)
	apiGroup.GET("/generations/events", h.StreamAuthMiddleware(), h.StreamGenerationEvents)

	protected := apiGroup.Group("")
	protected.Use(h.AuthMiddleware())

	protected.GET("/providers", h.ListProviders)

	generations := protected.Group("/generations")
	generations.POST("", h.limiter.Middleware(), h.SubmitGeneration)
	generations.GET("", h.ListGenerations)
	generations.GET("/:id", h.GetGeneration)
	generations.POST("/:id/cancel", h.CancelGeneration)
	generations.POST("/:id/retry", h.limiter.Middleware(), h.RetryGeneration)

	assets := protected.Group("/assets")
	assets.GET("", h.ListAssets)
	assets.GET("/:id", h.GetAsset)
	assets.PATCH("/:id/metadata", h.UpdateAssetMetadata)
	assets.DELETE("/:id", h.DeleteAsset)

	credits := protected.Group("/credits")
	credits.GET("", h.GetCreditBalance)
	credits.GET("/ledger", h.ListCreditLedger)

	admin := protected.Group("/admin")
	admin.Use(h.RequireAdmin())

	admin.GET("/users", h.ListUsers)
	admin.POST("/users", h.CreateUser)
	admin.PATCH("/users/:id", h.UpdateUser)
	admin.DELETE("/users/:id", h.DeleteUser)
	admin.POST("/users/:id/credits", h.GrantUserCredits)
	admin.GET("/users/:id/credits/reconcile", h.ReconcileUserCredits)

	admin.GET("/providers", h.AdminListProviders)
	admin.POST("/providers", h.CreateProvider)
	admin.GET("/providers/:id", h.GetProviderDetail)
	admin.PATCH("/providers/:id", h.UpdateProvider)
	admin.DELETE("/providers/:id", h.DeleteProvider)
	admin.GET("/providers/:id/models", h.ListProviderModels)
	admin.POST("/providers/:id/models", h.CreateProviderModel)
	admin.PATCH("/providers/:id/models/:model_id", h.UpdateProviderModel)
	admin.DELETE("/providers/:id/models/:model_id", h.DeleteProviderModel)
}
