package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"featherine-chat/internal/workspace"
)

// SessionHandler expone el historial archivado del dispositivo o de la identidad.
type SessionHandler struct {
	logger *zap.Logger
}

func NewSessionHandler(logger *zap.Logger) *SessionHandler {
	return &SessionHandler{logger: logger}
}

// ListSessions maneja GET /sessions. Si la recarga falla se devuelve la ultima lista conocida.
func (h *SessionHandler) ListSessions(c *gin.Context) {
	ws, _ := GetWorkspace(c)

	stale := false
	if err := ws.RefreshSessions(c.Request.Context()); err != nil {
		h.logger.Warn("list sessions failed", zap.String("client", workspace.Ref(ws.ID)), zap.Error(err))
		stale = true
	}
	c.JSON(http.StatusOK, gin.H{"sessions": ws.Sessions(), "stale": stale})
}

// GetSession maneja GET /sessions/:id.
func (h *SessionHandler) GetSession(c *gin.Context) {
	ws, _ := GetWorkspace(c)

	session, err := ws.Session(c.Param("id"))
	if err != nil {
		if errors.Is(err, workspace.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load session"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": session})
}

// OpenSession maneja POST /sessions/:id/open.
func (h *SessionHandler) OpenSession(c *gin.Context) {
	ws, _ := GetWorkspace(c)

	session, err := ws.OpenSession(c.Param("id"))
	if err != nil {
		if errors.Is(err, workspace.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not open session"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": session, "state": ws.Controller.Snapshot()})
}

// ClearSessions maneja DELETE /sessions.
func (h *SessionHandler) ClearSessions(c *gin.Context) {
	ws, _ := GetWorkspace(c)

	if err := ws.ClearSessions(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not clear sessions"})
		return
	}
	c.Status(http.StatusNoContent)
}
