package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"featherine-chat/internal/ratelimit"
	"featherine-chat/internal/workspace"
)

// RouterDeps agrupa lo que necesita NewRouter.
type RouterDeps struct {
	Logger   *zap.Logger
	Registry *workspace.Registry
	Limiter  ratelimit.Limiter
	Chat     *ChatHandler
	Sessions *SessionHandler
	Auth     *AuthHandler
	// Ready verifica las dependencias externas para /readyz; nil siempre responde listo.
	Ready func(ctx context.Context) error
}

// NewRouter configura el router de Gin con middlewares y rutas.
func NewRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()

	// Middlewares basicos: logging, metricas y recovery.
	r.Use(zapLoggerMiddleware(deps.Logger), metricsMiddleware(), gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/readyz", func(c *gin.Context) {
		if deps.Ready != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := deps.Ready(ctx); err != nil {
				deps.Logger.Warn("readiness check failed", zap.Error(err))
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	client := r.Group("", ClientMiddleware(deps.Registry))

	// Emision de credenciales: no requieren el token vigente del dispositivo.
	login := client.Group("/auth", jsonContentTypeMiddleware())
	login.POST("/google", deps.Auth.GoogleSignIn)
	login.POST("/refresh", deps.Auth.Refresh)

	device := client.Group("", IdentityMiddleware(deps.Logger))

	// El stream SSE no lleva el Content-Type JSON.
	device.GET("/chat/events", deps.Chat.Events)

	api := device.Group("", jsonContentTypeMiddleware())

	chat := api.Group("/chat")
	chat.GET("", deps.Chat.GetState)
	chat.POST("/messages", RateLimitMiddleware(deps.Limiter, "chat_messages"), deps.Chat.PostMessage)
	chat.POST("/new", deps.Chat.NewChat)

	sessions := api.Group("/sessions")
	sessions.GET("", deps.Sessions.ListSessions)
	sessions.GET("/:id", deps.Sessions.GetSession)
	sessions.POST("/:id/open", deps.Sessions.OpenSession)
	sessions.DELETE("", deps.Sessions.ClearSessions)

	auth := api.Group("/auth")
	auth.POST("/logout", deps.Auth.Logout)
	auth.GET("/me", deps.Auth.Me)

	return r
}
