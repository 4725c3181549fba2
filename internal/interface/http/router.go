package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/studyforge/notebook-api/internal/infra/config"
)

// NewRouter wires up the HTTP handlers and returns a configured server.
func NewRouter(cfg *config.Config, handler *Handler) *http.Server {
	gin.SetMode(gin.ReleaseMode)

	requestTimeout := time.Duration(cfg.Notebook.RequestTimeoutSeconds) * time.Second
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}

	router := gin.New()
	router.Use(
		gin.Recovery(),
		errorHandlingMiddleware(handler.logger),
		requestLogger(handler.logger),
		corsMiddleware(cfg.HTTP.AllowedOrigins),
		rateLimitMiddleware(cfg.HTTP.RateLimit, handler.logger),
		timeoutMiddleware(requestTimeout),
	)

	router.GET("/health", handler.Health)
	router.GET("/readiness", handler.Readiness)
	router.GET("/live", handler.Live)

	api := router.Group("/api/v1")
	{
		authRoutes := api.Group("/auth")
		{
			authRoutes.POST("/register", handler.Register)
			authRoutes.POST("/login", handler.Login)
			authRoutes.POST("/refresh", handler.Refresh)
			authRoutes.GET("/google/login", handler.GoogleLogin)
			authRoutes.GET("/google/callback", handler.GoogleCallback)
		}

		protected := api.Group("/")
		protected.Use(authMiddleware(handler.authSvc))
		{
			protected.POST("/auth/logout", handler.Logout)
			protected.GET("/auth/me", handler.Profile)

			notebooks := protected.Group("/notebooks")
			notebooks.Use(ragRateLimitMiddleware(handler.ragLimiter, cfg.Notebook.RateLimitDefault, cfg.Notebook.RateLimitDocumentUpload, handler.logger))
			{
				notebooks.POST("", handler.CreateNotebook)
				notebooks.GET("", handler.ListNotebooks)
				notebooks.GET("/:id", handler.GetNotebook)
				notebooks.PUT("/:id", handler.UpdateNotebook)
				notebooks.DELETE("/:id", handler.DeleteNotebook)
				notebooks.POST("/:id/restore", handler.RestoreNotebook)
				notebooks.POST("/:id/sources", handler.IngestSources)
				notebooks.GET("/:id/sources", handler.ListSources)
				notebooks.POST("/:id/generate/:kind", handler.GenerateForNotebook)
			}

			sources := protected.Group("/sources")
			sources.Use(ragRateLimitMiddleware(handler.ragLimiter, cfg.Notebook.RateLimitDefault, cfg.Notebook.RateLimitDocumentUpload, handler.logger))
			{
				sources.POST("/:id/generate/:kind", handler.GenerateForSource)
			}

			protected.POST("/mindmap/generate", handler.GenerateMindmapFromText)

			chat := protected.Group("/chat")
			chat.Use(ragRateLimitMiddleware(handler.ragLimiter, cfg.Notebook.RateLimitDefault, cfg.Notebook.RateLimitDocumentUpload, handler.logger))
			{
				chat.POST("/conversations", handler.CreateConversation)
				chat.GET("/conversations", handler.ListConversations)
				chat.GET("/conversations/:id", handler.GetConversation)
				chat.POST("/conversations/:id/messages", handler.PostMessage)
				chat.GET("/conversations/:id/messages", handler.ListConversationMessages)
			}
		}
	}

	return &http.Server{
		Addr:           cfg.HTTP.Address,
		Handler:        withRetry(router, cfg.HTTP.Retry, handler.logger),
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		MaxHeaderBytes: 1 << 20,
	}
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		logger.Info("http request", "method", c.Request.Method, "path", c.Request.URL.Path, "status", c.Writer.Status(), "latency_ms", latency.Milliseconds())
	}
}
