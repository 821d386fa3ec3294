package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"go-recruiter/internal/config"
	"go-recruiter/internal/logging"
	"go-recruiter/internal/session"
)

// requestLogger logs each request through zap instead of gin's default writer.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

func SetupRouter(cfg *config.Config, proc TurnProcessor, locker session.Locker, logger *zap.Logger) *gin.Engine {
	logger = logging.OrNop(logger).Named("api")
	if locker == nil {
		locker = session.NewLocalLocker()
	}
	svc := &chatService{proc: proc, locker: locker, logger: logger}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger))
	subpath := cfg.Server.Subpath // e.g. "/recruiter"; empty serves from the root

	// API routes
	group := r.Group(subpath)
	{
		group.GET("/health", healthHandler)
		group.GET("/config", configHandler(cfg))

		// --- Chat endpoints ---
		group.POST("/", chatHandler(svc))
		group.POST("/chat", chatHandler(svc))

		// --- WebSocket endpoint ---
		group.GET("/ws/chat", wsChatHandler(svc))
	}
	return r
}
