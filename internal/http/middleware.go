package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"featherine-chat/internal/auth"
	"featherine-chat/internal/metrics"
	"featherine-chat/internal/ratelimit"
	"featherine-chat/internal/workspace"
)

const (
	clientIDHeader = "X-Client-ID"
	workspaceKey   = "workspace"
	maxClientIDLen = 128
)

// zapLoggerMiddleware crea un middleware simple de logging con zap.
func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", latency),
			zap.String("client_ip", c.ClientIP()),
		}
		// el client id es una credencial del dispositivo: solo se registra su huella
		if ws, ok := GetWorkspace(c); ok {
			fields = append(fields, zap.String("client", workspace.Ref(ws.ID)))
		}
		logger.Info("request", fields...)
	}
}

// metricsMiddleware registra contador y latencia por ruta (no por URL, para acotar cardinalidad).
func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method, path, strconv.Itoa(c.Writer.Status()),
		).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(
			c.Request.Method, path,
		).Observe(time.Since(start).Seconds())
	}
}

// jsonContentTypeMiddleware fuerza Content-Type: application/json en responses.
func jsonContentTypeMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Content-Type", "application/json")
		c.Next()
	}
}

// ClientMiddleware resuelve el workspace del dispositivo a partir de X-Client-ID.
func ClientMiddleware(registry *workspace.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID := strings.TrimSpace(c.GetHeader(clientIDHeader))
		if clientID == "" {
			clientID = strings.TrimSpace(c.Query("client_id"))
		}
		if clientID == "" || len(clientID) > maxClientIDLen {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing client id"})
			c.Abort()
			return
		}
		c.Set(workspaceKey, registry.Get(c.Request.Context(), clientID))
		c.Next()
	}
}

// IdentityMiddleware exige el bearer token del dispositivo cuando tiene identidad.
// Un token distinto al vigente se resuelve contra el backend y puede cambiar la identidad;
// sin token, solo los dispositivos anonimos pasan.
func IdentityMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, ok := GetWorkspace(c)
		if !ok {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "workspace not resolved"})
			c.Abort()
			return
		}
		if ws.Gateway == nil {
			c.Next()
			return
		}

		token := bearerToken(c.GetHeader("Authorization"))
		if err := ws.Gateway.Authorize(c.Request.Context(), token); err != nil {
			logger.Debug("request not authorized", zap.String("client", workspace.Ref(ws.ID)), zap.Error(err))
			msg := "invalid token"
			switch {
			case errors.Is(err, auth.ErrTokenRequired):
				msg = "authentication required"
			case errors.Is(err, auth.ErrJWTExpired):
				msg = "token expired"
			}
			c.JSON(http.StatusUnauthorized, gin.H{"error": msg})
			c.Abort()
			return
		}
		c.Next()
	}
}

// RateLimitMiddleware limita por client id; limiter nil deja pasar todo.
func RateLimitMiddleware(limiter ratelimit.Limiter, endpoint string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}
		ws, ok := GetWorkspace(c)
		if !ok {
			c.Next()
			return
		}
		if !limiter.Allow(ws.ID) {
			metrics.RateLimitHits.WithLabelValues(endpoint).Inc()
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// GetWorkspace obtiene el workspace resuelto por ClientMiddleware.
func GetWorkspace(c *gin.Context) (*workspace.Workspace, bool) {
	val, ok := c.Get(workspaceKey)
	if !ok {
		return nil, false
	}
	ws, ok := val.(*workspace.Workspace)
	return ws, ok && ws != nil
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) < len("Bearer ") || !strings.EqualFold(header[:len("Bearer ")], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[len("Bearer "):])
}
