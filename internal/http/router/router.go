package router

import (
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/ignatzorin/otp-backend/internal/config"
	"github.com/ignatzorin/otp-backend/internal/http/handlers"
	"github.com/ignatzorin/otp-backend/internal/http/middleware"
	"github.com/ignatzorin/otp-backend/internal/service"
)

func SetupRouter(
	cfg *config.Config,
	otpHandler *handlers.OTPHandler,
	deliveryHandler *handlers.DeliveryHandler,
	healthHandler *handlers.HealthHandler,
	tokenManager *service.TokenManager,
	redisClient *redis.Client,
) *gin.Engine {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.Default()
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.CORSMiddleware(cfg.AllowedOrigins))

	r.GET("/health", healthHandler.Health)

	api := r.Group("/api")

	// Выдача и проверка кодов лимитируются жёстче остального API:
	// обе операции дешёвый вектор перебора.
	otpGroup := api.Group("/otp")
	otpGroup.Use(middleware.RateLimitMiddleware(cfg.RateLimitLimit, cfg.RateLimitPeriod, redisClient))
	{
		otpGroup.POST("/issue", otpHandler.Issue)
		otpGroup.POST("/verify", otpHandler.Verify)
	}

	protected := api.Group("/otp")
	protected.Use(middleware.AuthMiddleware(tokenManager))
	{
		protected.GET("/deliveries", deliveryHandler.List)
	}

	return r
}
