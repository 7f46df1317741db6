package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/kollect-api/api/swagger"
	"github.com/noah-isme/kollect-api/internal/handler"
	internalmiddleware "github.com/noah-isme/kollect-api/internal/middleware"
	"github.com/noah-isme/kollect-api/internal/models"
	"github.com/noah-isme/kollect-api/internal/repository"
	"github.com/noah-isme/kollect-api/internal/service"
	"github.com/noah-isme/kollect-api/pkg/cache"
	"github.com/noah-isme/kollect-api/pkg/config"
	"github.com/noah-isme/kollect-api/pkg/database"
	appErrors "github.com/noah-isme/kollect-api/pkg/errors"
	"github.com/noah-isme/kollect-api/pkg/export"
	"github.com/noah-isme/kollect-api/pkg/logger"
	"github.com/noah-isme/kollect-api/pkg/messaging"
	corsmiddleware "github.com/noah-isme/kollect-api/pkg/middleware/cors"
	"github.com/noah-isme/kollect-api/pkg/middleware/ratelimit"
	reqidmiddleware "github.com/noah-isme/kollect-api/pkg/middleware/requestid"
	"github.com/noah-isme/kollect-api/pkg/response"
)

// @title KOLLECT API
// @version 1.0.0
// @description Campaign fulfillment pipeline for brands and KOLs
// @BasePath /
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect database", zap.Error(err))
	}
	defer db.Close()

	metricsSvc := service.NewMetricsService()

	var cacheRepo *repository.CacheRepository
	if cfg.Stats.CacheEnabled {
		redisClient, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, stats cache disabled", zap.Error(err))
		} else {
			cacheRepo = repository.NewCacheRepository(redisClient, logr)
			defer cacheRepo.Close() //nolint:errcheck
		}
	}
	var cacheStore service.CacheRepository
	if cacheRepo != nil {
		cacheStore = cacheRepo
	}
	cacheSvc := service.NewCacheService(cacheStore, metricsSvc, cfg.Stats.CacheTTL, logr, cacheRepo != nil)

	userRepo := repository.NewUserRepository(db)
	campaignRepo := repository.NewCampaignRepository(db)
	workRepo := repository.NewWorkRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	outboxRepo := repository.NewOutboxRepository(db)
	txManager := database.NewTxManager(db)

	authSvc := service.NewAuthService(userRepo, nil, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
	})
	notificationSvc := service.NewNotificationService(outboxRepo, notificationRepo, userRepo, metricsSvc, logr)
	campaignSvc := service.NewCampaignService(campaignRepo, workRepo, userRepo, txManager, notificationSvc, cacheSvc, metricsSvc,
		service.CampaignServiceConfig{DefaultDeadline: cfg.Campaigns.DefaultDeadline}, logr)
	workSvc := service.NewWorkService(workRepo, txManager, notificationSvc, cacheSvc, metricsSvc, cfg.Stats.CacheTTL, logr)
	exportSvc := service.NewExportService(workSvc, export.NewCSVExporter(), export.NewPDFExporter(), logr)

	var publisher messaging.Publisher = messaging.NopPublisher{}
	if cfg.AMQP.Enabled {
		amqpPublisher, err := messaging.NewAMQPPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange, logr)
		if err != nil {
			logr.Warn("amqp unavailable, broker fan-out disabled", zap.Error(err))
		} else {
			publisher = amqpPublisher
		}
	}
	defer publisher.Close() //nolint:errcheck

	dispatcher := service.NewOutboxDispatcher(outboxRepo, notificationRepo, publisher, service.OutboxConfig{
		PollInterval: cfg.Outbox.PollInterval,
		BatchSize:    cfg.Outbox.BatchSize,
		MaxAttempts:  cfg.Outbox.MaxAttempts,
		RetryBackoff: cfg.Outbox.RetryBackoff,
		Workers:      cfg.Outbox.Workers,
	}, metricsSvc, logr)

	authHandler := handler.NewAuthHandler(authSvc, cfg.JWT.CookieName, cfg.IsProduction())
	campaignHandler := handler.NewCampaignHandler(campaignSvc)
	workHandler := handler.NewWorkHandler(workSvc, exportSvc)
	notificationHandler := handler.NewNotificationHandler(notificationSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc, db)

	limiter := ratelimit.New(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	rateLimited := limiter.Middleware(func(c *gin.Context) string {
		if claims, ok := internalmiddleware.Claims(c); ok {
			return claims.UserID
		}
		return ""
	}, func(c *gin.Context) {
		response.Error(c, appErrors.ErrRateLimited)
	})

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if !cfg.IsProduction() {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.POST("/auth/login", rateLimited, authHandler.Login)

	secured := api.Group("")
	secured.Use(internalmiddleware.JWT(authSvc, cfg.JWT.CookieName), rateLimited)

	brandOnly := internalmiddleware.RequireRoles(models.RoleBrand, models.RoleAdmin)
	kolOnly := internalmiddleware.RequireRoles(models.RoleKOL)
	parties := internalmiddleware.RequireRoles(models.RoleKOL, models.RoleBrand, models.RoleAdmin)

	campaigns := secured.Group("/campaigns")
	campaigns.POST("", brandOnly, campaignHandler.Create)
	campaigns.POST("/hire", brandOnly, campaignHandler.Hire)
	campaigns.GET("", campaignHandler.List)
	campaigns.GET("/:id", campaignHandler.Get)
	campaigns.POST("/:id/invite", brandOnly, campaignHandler.Invite)
	campaigns.POST("/:id/respond", kolOnly, campaignHandler.Respond)
	campaigns.POST("/:id/cancel", brandOnly, campaignHandler.Cancel)

	works := secured.Group("/works")
	works.GET("", parties, workHandler.List)
	works.GET("/stats", kolOnly, workHandler.Stats)
	works.GET("/export", parties, workHandler.Export)
	works.GET("/:id", parties, workHandler.Get)
	works.PUT("/:id", kolOnly, workHandler.Update)
	works.PATCH("/:id/status", parties, workHandler.TransitionStatus)
	works.POST("/:id/submit", kolOnly, workHandler.Submit)
	works.GET("/:id/submissions", parties, workHandler.Submissions)
	works.PUT("/:id/review", brandOnly, workHandler.Review)

	secured.GET("/notifications", notificationHandler.List)
	secured.PUT("/notifications", notificationHandler.MarkAllRead)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Outbox.Enabled {
		dispatcher.Start(ctx)
		defer dispatcher.Stop()
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}
