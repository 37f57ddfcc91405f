package api

import (
	"github.com/gin-gonic/gin"

	"github.com/qs3c/style_go_server/config"
	"github.com/qs3c/style_go_server/internal/api/handler"
	"github.com/qs3c/style_go_server/internal/api/middleware"
	"github.com/qs3c/style_go_server/internal/pkg/metrics"
	"github.com/qs3c/style_go_server/internal/service"
)

type Router struct {
	authHandler      *handler.AuthHandler
	userHandler      *handler.UserHandler
	jobHandler       *handler.JobHandler
	analysisHandler  *handler.AnalysisHandler
	imageHandler     *handler.ImageHandler
	creditsHandler   *handler.CreditsHandler
	billingHandler   *handler.BillingHandler
	websocketHandler *handler.WebSocketHandler
	userService      *service.UserService
	limiter          *middleware.RateLimiter
	cfg              *config.Config
}

func NewRouter(
	authHandler *handler.AuthHandler,
	userHandler *handler.UserHandler,
	jobHandler *handler.JobHandler,
	analysisHandler *handler.AnalysisHandler,
	imageHandler *handler.ImageHandler,
	creditsHandler *handler.CreditsHandler,
	billingHandler *handler.BillingHandler,
	websocketHandler *handler.WebSocketHandler,
	userService *service.UserService,
	limiter *middleware.RateLimiter,
	cfg *config.Config,
) *Router {
	return &Router{
		authHandler:      authHandler,
		userHandler:      userHandler,
		jobHandler:       jobHandler,
		analysisHandler:  analysisHandler,
		imageHandler:     imageHandler,
		creditsHandler:   creditsHandler,
		billingHandler:   billingHandler,
		websocketHandler: websocketHandler,
		userService:      userService,
		limiter:          limiter,
		cfg:              cfg,
	}
}

func (r *Router) Setup() *gin.Engine {
	if r.cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	secret := r.cfg.JWT.Secret
	cookie := r.cfg.JWT.CookieName

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.RequestLogger())
	engine.Use(metrics.Middleware())
	engine.Use(middleware.CORS(r.cfg.CORS))

	engine.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := engine.Group("/api")
	{
		// 支付回调与 WebSocket 不限流
		api.POST("/stripe/webhook", r.billingHandler.Webhook)
		api.GET("/ws", r.websocketHandler.Handle)

		public := api.Group("")
		public.Use(middleware.OptionalAuth(secret, cookie))
		if r.limiter != nil {
			public.Use(r.limiter.Handler())
		}
		{
			// 任务（身份可选，解析失败时使用占位归属）
			public.POST("/jobs/create", r.jobHandler.Create)
			public.POST("/jobs/best-fit", r.jobHandler.BestFit)
			public.POST("/jobs/getBestFit", r.jobHandler.BestFit)

			public.POST("/users/add", r.userHandler.Add)

			public.POST("/image/process", r.imageHandler.Process)
			public.POST("/image-process", r.imageHandler.Process)

			public.GET("/analysis/health", r.analysisHandler.Health)
			public.GET("/credits/tiers", r.creditsHandler.Tiers)

			auth := public.Group("/auth")
			{
				auth.POST("/login", r.authHandler.Login)
				auth.POST("/logout", r.authHandler.Logout)
				auth.GET("/github", r.authHandler.GithubAuth)
				auth.GET("/github/callback", r.authHandler.GithubCallback)
			}
		}

		authenticated := api.Group("")
		authenticated.Use(middleware.Auth(secret, cookie))
		if r.limiter != nil {
			authenticated.Use(r.limiter.Handler())
		}
		{
			user := authenticated.Group("/user")
			{
				user.GET("/credits", r.userHandler.Credits)
				user.GET("/profile", r.userHandler.GetProfile)
				user.POST("/avatar", r.userHandler.UploadAvatar)
			}
			authenticated.POST("/users/sync", r.userHandler.Sync)

			authenticated.GET("/jobs/history", r.jobHandler.History)
			authenticated.GET("/credits/history", r.creditsHandler.History)
			authenticated.POST("/analysis/wear-suit-pictures",
				middleware.RequireCredits(r.userService, r.cfg.Credits.Costs.WearSuitPictures),
				r.analysisHandler.WearSuitPictures)
			authenticated.POST("/stripe/create-checkout-session", r.billingHandler.CreateCheckout)
		}
	}

	return engine
}
