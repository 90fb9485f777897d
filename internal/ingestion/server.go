package ingestion

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/denkuservices/denku-mvp-sub000/internal/config"
	"github.com/denkuservices/denku-mvp-sub000/pkg/logger"
)

// Server is the webhook HTTP server.
type Server struct {
	httpServer *http.Server
	engine     *gin.Engine
	logger     *zap.Logger
}

// NewServer wires the webhook routes and middleware.
func NewServer(cfg *config.Config, service WebhookService, baseLogger *zap.Logger) *Server {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(
		gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
			logger.FromGin(c).Error("Panic recovered in webhook handler",
				zap.Any("panic_error", recovered),
				zap.Stack("stack"),
			)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "internal error"})
		}),
		logger.GinMiddleware(baseLogger),
	)

	limiter := NewIPRateLimiter(cfg.Webhook.RateLimit.RPS, cfg.Webhook.RateLimit.Burst)
	handler := NewWebhookHandler(service)

	hooks := engine.Group("/webhooks/calls",
		limiter.RateLimit(),
		SecretAuth(cfg.Webhook.Secret),
		RequestTimeout(cfg.Server.RequestTimeout),
	)
	hooks.POST("", handler.Handle)
	hooks.POST("/:provider", handler.Handle)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:      engine,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
		engine: engine,
		logger: baseLogger.Named("webhook_server"),
	}
}

// Handler exposes the routed engine.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start serves until Stop is called.
func (s *Server) Start() error {
	s.logger.Info("Starting webhook server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("webhook server: %w", err)
	}
	return nil
}

// Stop drains in-flight webhooks.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping webhook server")
	return s.httpServer.Shutdown(ctx)
}
