package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/qs3c/style_go_server/config"
	"github.com/qs3c/style_go_server/internal/api"
	"github.com/qs3c/style_go_server/internal/api/handler"
	"github.com/qs3c/style_go_server/internal/api/middleware"
	"github.com/qs3c/style_go_server/internal/database"
	"github.com/qs3c/style_go_server/internal/pkg/analysis"
	"github.com/qs3c/style_go_server/internal/pkg/cron"
	"github.com/qs3c/style_go_server/internal/pkg/logger"
	"github.com/qs3c/style_go_server/internal/pkg/oauth"
	"github.com/qs3c/style_go_server/internal/pkg/oss"
	"github.com/qs3c/style_go_server/internal/pkg/payment"
	"github.com/qs3c/style_go_server/internal/pkg/pubsub"
	"github.com/qs3c/style_go_server/internal/pkg/queue"
	"github.com/qs3c/style_go_server/internal/pkg/ws"
	"github.com/qs3c/style_go_server/internal/repository"
	"github.com/qs3c/style_go_server/internal/service"
)

func main() {
	// 加载配置
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	logger.Setup(cfg.Log)

	// 初始化数据库
	db, err := database.NewDB(&cfg.Database)
	if err != nil {
		logrus.Fatalf("Failed to connect database: %v", err)
	}
	logrus.WithField("driver", cfg.Database.Driver).Info("Database connected")

	// 初始化 Redis
	rdb, err := database.NewRedis(&cfg.Redis)
	if err != nil {
		logrus.Fatalf("Failed to connect redis: %v", err)
	}
	logrus.Info("Redis connected")

	tiers, err := service.NewTierTable(cfg.Credits.Tiers)
	if err != nil {
		logrus.Fatalf("Invalid credit tiers: %v", err)
	}

	// 初始化 OSS（可选）
	var store service.ObjectStore
	if cfg.OSS.Endpoint != "" && cfg.OSS.AccessKeyID != "" {
		ossClient, err := oss.NewClient(&cfg.OSS)
		if err != nil {
			logrus.WithError(err).Warn("Failed to init OSS client, avatar upload disabled")
		} else {
			store = ossClient
			logrus.Info("OSS client initialized")
		}
	}

	// 支付网关（可选）
	var gateway payment.Gateway
	if cfg.Stripe.SecretKey != "" {
		gateway = payment.NewStripeGateway(cfg.Stripe.SecretKey, cfg.Stripe.WebhookSecret)
	} else {
		logrus.Warn("Stripe not configured, checkout disabled")
	}

	jobQueue := queue.NewQueue(rdb, cfg.Queue.AnalysisQueue)

	// 初始化 Repository
	userRepo := repository.NewUserRepository(db)
	jobRepo := repository.NewJobRepository(db)
	ledgerRepo := repository.NewLedgerRepository(db)

	// 初始化 Service
	userService := service.NewUserService(userRepo, store, cfg)
	jobService := service.NewJobService(jobRepo, jobQueue)
	creditService := service.NewCreditService(ledgerRepo, tiers)
	analysisService := service.NewAnalysisService(analysis.NewClient(cfg.Analysis), jobService, creditService, cfg)
	imageService := service.NewImageService(cfg.Upload)
	billingService := service.NewBillingService(gateway, userService, creditService, tiers, cfg)
	github := oauth.NewGithubOAuth(cfg.OAuth.Github.ClientID, cfg.OAuth.Github.ClientSecret, cfg.OAuth.Github.RedirectURI)
	authService := service.NewAuthService(userRepo, userService, github, cfg)
	stateStore := oauth.NewStateStore(rdb)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// WebSocket Hub，worker 的进度经 Redis 转发
	hub := ws.NewHub()
	go func() {
		err := pubsub.NewSubscriber(rdb).Subscribe(ctx, hub.RelayProgress)
		if err != nil && !errors.Is(err, context.Canceled) {
			logrus.WithError(err).Error("Progress subscriber stopped")
		}
	}()

	// 定时清理占位任务
	ttl := time.Duration(cfg.Jobs.PendingTTLHours) * time.Hour
	cronService, err := cron.NewService(jobService, cfg.Jobs.PurgeSchedule, ttl)
	if err != nil {
		logrus.Fatalf("Failed to init cron: %v", err)
	}
	cronService.Start()
	defer cronService.Stop()

	limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	limiter.StartCleanup(10*time.Minute, ctx.Done())

	// 初始化 Handler
	router := api.NewRouter(
		handler.NewAuthHandler(authService, stateStore, cfg),
		handler.NewUserHandler(userService),
		handler.NewJobHandler(jobService, analysisService, imageService, service.DefaultIdentityChain(userService)),
		handler.NewAnalysisHandler(analysisService),
		handler.NewImageHandler(imageService),
		handler.NewCreditsHandler(creditService, tiers),
		handler.NewBillingHandler(billingService, userService),
		handler.NewWebSocketHandler(hub, cfg.JWT.Secret, cfg.JWT.CookieName, cfg.CORS.AllowedOrigins),
		userService,
		limiter,
		cfg,
	)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router.Setup(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logrus.Infof("Server starting on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	logrus.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Error("Server forced to shutdown")
	}
	logrus.Info("Server exited")
}
