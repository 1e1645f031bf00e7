package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"vidgenie/internal/api"
	"vidgenie/internal/config"
	"vidgenie/internal/dispatch"
	"vidgenie/internal/entity"
	"vidgenie/internal/llm"
	"vidgenie/internal/model"
	"vidgenie/internal/moderation"
	"vidgenie/internal/service"
	"vidgenie/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

func main() {
	// 本地开发从 .env 读取，文件不存在时忽略
	_ = godotenv.Load()

	// 初始化logger
	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetLevel(logrus.InfoLevel)

	// 初始化配置
	cfg, err := config.ParseConfig()
	if err != nil {
		logrus.WithError(err).Error("failed to parse config")
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		logrus.WithError(err).Error("server exited with error")
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, db, err := model.InitRepository(&cfg)
	if err != nil {
		return fmt.Errorf("initialise repository: %w", err)
	}
	if err := model.SeedDefaultProviders(ctx, repo, cfg); err != nil {
		logrus.WithError(err).Warn("failed to seed default providers")
	}
	if err := model.SeedDemoUser(ctx, repo, cfg); err != nil {
		logrus.WithError(err).Warn("failed to seed demo user")
	}

	store, err := storage.NewStorage(cfg)
	if err != nil {
		return fmt.Errorf("initialise storage: %w", err)
	}
	urls := storage.NewURLBuilder(cfg.StoragePublicBaseURL)
	media := service.NewMediaStore(store, urls, cfg.StorageType)

	opts := llm.Options{WebhookSecret: cfg.WebhookSecret, FakeDelay: cfg.DevFallbackDelay}
	images, err := buildImageGenerator(ctx, repo, cfg, opts)
	if err != nil {
		return err
	}
	videos, err := buildVideoGenerator(ctx, repo, cfg, opts)
	if err != nil {
		return err
	}

	gate, err := moderation.NewGate(cfg)
	if err != nil {
		return fmt.Errorf("initialise moderation: %w", err)
	}

	registry := dispatch.NewRegistry()
	queue := dispatch.NewQueueDispatcher(db, "generation")
	dispatcher, err := buildDispatcher(cfg, registry, queue)
	if err != nil {
		return err
	}

	credits := service.NewCreditService(repo)
	generations := service.NewGenerationService(service.GenerationDeps{
		Repo:       repo,
		Credits:    credits,
		Moderation: gate,
		Dispatcher: dispatcher,
		Images:     images,
		Videos:     videos,
		Media:      media,
		Config: service.GenerationConfig{
			PromptMinLength: cfg.PromptMinLength,
			PromptMaxLength: cfg.PromptMaxLength,
			CallbackURL:     cfg.WebhookCallbackURL,
		},
	})
	webhooks := service.NewWebhookService(repo, generations, service.WebhookConfig{
		Secret:        cfg.WebhookSecret,
		AllowUnsigned: cfg.WebhookAllowUnsigned,
		Production:    cfg.IsProduction(),
	})
	assets := service.NewAssetService(repo, media)

	registry.Register(dispatch.EventImageRequested, generations.HandleImageRequested)
	registry.Register(dispatch.EventVideoRequested, generations.HandleVideoRequested)

	worker := dispatch.NewWorker(queue, registry, dispatch.WorkerConfig{
		Concurrency:  cfg.WorkerConcurrency,
		PollInterval: cfg.WorkerPollInterval,
		Timeout:      cfg.WorkerTimeout,
	})
	if !strings.EqualFold(cfg.DispatchMode, config.DispatchModeInline) {
		if err := worker.Start(ctx); err != nil {
			return fmt.Errorf("start worker: %w", err)
		}
		defer worker.Stop()
	}

	sweeper := service.NewSweeper(repo, generations, queue, service.SweeperConfig{
		Schedule:        cfg.SweeperSchedule,
		StaleAfter:      cfg.JobStaleAfter,
		DispatchTimeout: cfg.WorkerTimeout,
		Retention:       cfg.DispatchRetention,
	})
	if err := sweeper.Start(); err != nil {
		return fmt.Errorf("start sweeper: %w", err)
	}
	defer sweeper.Stop()

	httpHandler, err := api.NewHTTPHandler(api.HandlerDeps{
		Config:      cfg,
		Repo:        repo,
		Generations: generations,
		Credits:     credits,
		Assets:      assets,
		Webhooks:    webhooks,
	})
	if err != nil {
		return fmt.Errorf("initialise http handler: %w", err)
	}

	// 设置Gin模式
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	// 添加中间件
	r.Use(LoggingMiddleware())
	r.Use(CORSMiddleware())
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	httpHandler.RegisterRoutes(r)

	if localProvider, ok := store.(storage.LocalBaseDirProvider); ok {
		publicPrefix := urls.Base()
		if !storage.IsAbsoluteURL(publicPrefix) {
			r.Static(publicPrefix, localProvider.LocalBaseDir())
		}
	}

	serverHost := fmt.Sprintf("0.0.0.0:%s", cfg.HTTPPort)
	// 创建HTTP服务器，SSE 长连接不设写超时
	httpServer := &http.Server{
		Addr:        serverHost,
		Handler:     r,
		ReadTimeout: 60 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logrus.WithFields(logrus.Fields{
			"host":          serverHost,
			"env":           cfg.AppEnv,
			"dispatch_mode": cfg.DispatchMode,
		}).Info("server_started")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err, ok := <-serverErr:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		logrus.Info("shutdown_signal_received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("http_shutdown_incomplete")
	}
	if inline, ok := dispatcher.(interface{ Wait() }); ok {
		inline.Wait()
	}
	return nil
}

// buildDispatcher 队列为主，非生产环境可选进程内兜底
func buildDispatcher(cfg config.Config, registry *dispatch.Registry, queue *dispatch.QueueDispatcher) (dispatch.Dispatcher, error) {
	if strings.EqualFold(cfg.DispatchMode, config.DispatchModeInline) {
		inline, err := dispatch.NewInlineDispatcher(registry, cfg.DevFallbackDelay, cfg.IsProduction())
		if err != nil {
			return nil, fmt.Errorf("inline dispatch: %w", err)
		}
		return inline, nil
	}
	if cfg.DispatchFallbackEnabled && !cfg.IsProduction() {
		inline, err := dispatch.NewInlineDispatcher(registry, cfg.DevFallbackDelay, false)
		if err != nil {
			return nil, err
		}
		return dispatch.NewFallbackDispatcher(queue, inline), nil
	}
	return queue, nil
}

func buildImageGenerator(ctx context.Context, repo model.Repository, cfg config.Config, opts llm.Options) (llm.ImageGenerator, error) {
	provider, modelID, err := resolveProvider(ctx, repo, cfg.ImageProvider, cfg.ImageModel, entity.CapabilityImage)
	if err != nil {
		return nil, err
	}
	generator, err := llm.NewImageGenerator(provider, modelID, opts)
	if err != nil {
		return nil, fmt.Errorf("image provider %s: %w", provider.ID, err)
	}
	return generator, nil
}

func buildVideoGenerator(ctx context.Context, repo model.Repository, cfg config.Config, opts llm.Options) (llm.VideoGenerator, error) {
	provider, modelID, err := resolveProvider(ctx, repo, cfg.VideoProvider, cfg.VideoModel, entity.CapabilityVideo)
	if err != nil {
		return nil, err
	}
	generator, err := llm.NewVideoGenerator(provider, modelID, opts)
	if err != nil {
		return nil, fmt.Errorf("video provider %s: %w", provider.ID, err)
	}
	return generator, nil
}

// resolveProvider 未指定模型时取该能力下第一个启用的模型
func resolveProvider(ctx context.Context, repo model.Repository, providerID, modelID, capability string) (*entity.DbProvider, string, error) {
	providerID = strings.ToLower(strings.TrimSpace(providerID))
	provider, err := repo.GetProvider(ctx, providerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, "", fmt.Errorf("%s provider %q is not configured", capability, providerID)
		}
		return nil, "", fmt.Errorf("load %s provider: %w", capability, err)
	}
	modelID = strings.TrimSpace(modelID)
	if modelID == "" {
		if defaultModel, ok := provider.DefaultModel(capability); ok {
			modelID = defaultModel.ModelID
		}
	}
	logrus.WithFields(logrus.Fields{
		"capability": capability,
		"provider":   provider.ID,
		"model":      modelID,
	}).Info("provider_selected")
	return provider, modelID, nil
}

// CORSMiddleware CORS跨域中间件
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With, X-Signature")
		c.Header("Access-Control-Allow-Credentials", "true")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// LoggingMiddleware 日志记录中间件
func LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		// 处理请求
		c.Next()
		// 记录请求结束
		duration := time.Since(start)
		logrus.WithFields(logrus.Fields{
			"method":    c.Request.Method,
			"path":      c.Request.URL.Path,
			"status":    c.Writer.Status(),
			"duration":  duration.String(),
			"size":      c.Writer.Size(),
			"client_ip": c.ClientIP(),
		}).Info("http_request")
	}
}
