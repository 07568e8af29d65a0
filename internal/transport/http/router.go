package http

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RouterConfig carries what NewRouter needs besides the handler.
type RouterConfig struct {
	Identity    *Identity
	CORSOrigins []string
	Logger      *zap.Logger
}

// NewRouter wires middleware and the polling API.
func NewRouter(handler *GameHandler, cfg RouterConfig) *gin.Engine {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Identity == nil {
		cfg.Identity = NewIdentity("")
	}

	r := gin.New()
	r.Use(requestLogger(cfg.Logger))
	r.Use(gin.Recovery())
	r.Use(cors.New(corsConfig(cfg.CORSOrigins)))

	r.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	api := r.Group("/api", cfg.Identity.Middleware())
	{
		api.POST("/sessions", handler.CreateSession)
		api.GET("/sessions", handler.ListSessions)
		api.POST("/sessions/join", handler.JoinSession)
		api.POST("/sessions/:id/start", handler.StartSession)
		api.GET("/sessions/:id/view", handler.View)
		api.POST("/sessions/:id/answers", handler.SubmitAnswer)
		api.POST("/sessions/:id/advance", handler.Advance)
		api.GET("/sessions/:id/results", handler.Results)
	}
	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID", "X-User-Name"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
		cfg.AllowCredentials = true
	}
	return cfg
}

// requestLogger logs one line per request. Polls are frequent, so successful
// GETs go to debug.
func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		switch {
		case status >= http.StatusInternalServerError:
			log.Error("request", fields...)
		case status >= http.StatusBadRequest:
			log.Warn("request", fields...)
		case c.Request.Method == http.MethodGet:
			log.Debug("request", fields...)
		default:
			log.Info("request", fields...)
		}
	}
}
