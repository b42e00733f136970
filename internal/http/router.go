package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/saker-ai/multimodal-dialog/internal/storage"
)

// StatusFunc returns a JSON-serializable snapshot of the running dialog.
type StatusFunc func() any

// Deps are the collaborators the status server exposes.
type Deps struct {
	Status      StatusFunc
	Metrics     http.Handler
	Transcripts *storage.Store
}

// NewRouter builds the status server: health, dialog status, Prometheus
// metrics and read-only transcript access.
func NewRouter(deps Deps, logger *zap.Logger) *gin.Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	router := gin.New()
	router.RedirectTrailingSlash = false
	router.RedirectFixedPath = false
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/status", func(c *gin.Context) {
		if deps.Status == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "status unavailable"})
			return
		}
		c.JSON(http.StatusOK, deps.Status())
	})

	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics))
	}

	if deps.Transcripts != nil {
		store := deps.Transcripts
		router.GET("/transcripts/:owner", func(c *gin.Context) {
			c.JSON(http.StatusOK, store.List(c.Param("owner")))
		})
		router.GET("/transcripts/:owner/:uid", func(c *gin.Context) {
			messages, err := store.Get(c.Param("owner"), c.Param("uid"))
			if err != nil {
				c.JSON(http.StatusNotFound, gin.H{"error": "transcript not found"})
				return
			}
			c.JSON(http.StatusOK, messages)
		})
	}

	return router
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("client_ip", c.ClientIP()),
			zap.Int("status", c.Writer.Status()),
			zap.Int("bytes", c.Writer.Size()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
