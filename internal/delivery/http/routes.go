package http

import (
	"fmt"

	"github.com/databowl/backend/config"
	"github.com/databowl/backend/internal/infrastructure/ratelimit"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SetupRouter creates and configures the Gin router. Client IPs come from
// forwarding headers only when the peer is one of the trusted proxies.
func SetupRouter(cfg *config.Config, handler *Handler, limiter *ratelimit.VisitorLimiter, logger *zap.SugaredLogger) (*gin.Engine, error) {
	// Set Gin mode based on environment
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	router := gin.New()
	if err := router.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		return nil, fmt.Errorf("invalid trusted proxies: %w", err)
	}
	router.MaxMultipartMemory = cfg.Upload.MaxBytes + multipartOverhead

	// Global middleware
	router.Use(RecoveryMiddleware(logger))
	router.Use(RequestIDMiddleware())
	router.Use(LoggerMiddleware(logger))
	router.Use(CORSMiddleware(cfg.Server.AllowedOrigins))

	api := router.Group("/api")
	{
		api.GET("/health", handler.HealthCheck)
		api.POST("/estimate", RateLimitMiddleware(limiter), handler.Estimate)
	}

	return router, nil
}
