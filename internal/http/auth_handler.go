package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"featherine-chat/internal/auth"
	"featherine-chat/internal/metrics"
)

// AuthHandler conecta el gateway del dispositivo con el login de Google.
type AuthHandler struct {
	logger *zap.Logger
}

func NewAuthHandler(logger *zap.Logger) *AuthHandler {
	return &AuthHandler{logger: logger}
}

// GoogleSignIn maneja POST /auth/google.
func (h *AuthHandler) GoogleSignIn(c *gin.Context) {
	ws, _ := GetWorkspace(c)
	if ws.Gateway == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "auth not configured"})
		return
	}

	var req struct {
		IDToken string `json:"id_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid google sign-in request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	identity, tokens, err := ws.Gateway.SignInWithGoogle(c.Request.Context(), req.IDToken)
	if err != nil {
		metrics.SignIns.WithLabelValues("failed").Inc()
		switch {
		case errors.Is(err, auth.ErrGoogleTokenInvalid):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid google token"})
		case errors.Is(err, auth.ErrAuthNotConfigured):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "auth not configured"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not sign in"})
		}
		return
	}
	metrics.SignIns.WithLabelValues("ok").Inc()

	c.JSON(http.StatusOK, gin.H{
		"user":     identity,
		"tokens":   tokens,
		"sessions": ws.Sessions(),
	})
}

// Refresh maneja POST /auth/refresh: rota el par de tokens del dispositivo.
func (h *AuthHandler) Refresh(c *gin.Context) {
	ws, _ := GetWorkspace(c)
	if ws.Gateway == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "auth not configured"})
		return
	}

	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	identity, tokens, err := ws.Gateway.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrJWTInvalid), errors.Is(err, auth.ErrJWTExpired):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		case errors.Is(err, auth.ErrAuthNotConfigured):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "auth not configured"})
		default:
			h.logger.Error("token refresh failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not refresh session"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": identity, "tokens": tokens})
}

// Logout maneja POST /auth/logout. Si el backend falla la identidad se conserva.
func (h *AuthHandler) Logout(c *gin.Context) {
	ws, _ := GetWorkspace(c)
	if ws.Gateway == nil {
		c.Status(http.StatusNoContent)
		return
	}
	if err := ws.Gateway.SignOut(c.Request.Context()); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "could not sign out"})
		return
	}
	c.Status(http.StatusNoContent)
}

// Me maneja GET /auth/me; user es null en modo anonimo.
func (h *AuthHandler) Me(c *gin.Context) {
	ws, _ := GetWorkspace(c)
	c.JSON(http.StatusOK, gin.H{"user": ws.Identity()})
}
