package http

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"featherine-chat/internal/chat"
	"featherine-chat/internal/workspace"
)

// ChatHandler expone la conversacion activa del dispositivo.
type ChatHandler struct {
	logger *zap.Logger
}

func NewChatHandler(logger *zap.Logger) *ChatHandler {
	return &ChatHandler{logger: logger}
}

// GetState maneja GET /chat.
func (h *ChatHandler) GetState(c *gin.Context) {
	ws, _ := GetWorkspace(c)
	c.JSON(http.StatusOK, gin.H{
		"state":    ws.Controller.Snapshot(),
		"identity": ws.Identity(),
	})
}

// PostMessage maneja POST /chat/messages. Un fallo del modelo no es un error HTTP:
// la respuesta trae la disculpa con failed=true.
func (h *ChatHandler) PostMessage(c *gin.Context) {
	ws, _ := GetWorkspace(c)

	var req chat.Input
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid post message request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	res, err := ws.Submit(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, chat.ErrEmptySubmission) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "text or image required"})
			return
		}
		h.logger.Error("submit failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not submit message"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":   res.Message,
		"reply":     res.Reply,
		"failed":    res.Failed,
		"discarded": res.Discarded,
		"state":     ws.Controller.Snapshot(),
	})
}

// NewChat maneja POST /chat/new.
func (h *ChatHandler) NewChat(c *gin.Context) {
	ws, _ := GetWorkspace(c)
	ws.Controller.Reset()
	c.JSON(http.StatusOK, gin.H{"state": ws.Controller.Snapshot()})
}

// Events maneja GET /chat/events: un stream SSE con el estado tras cada cambio.
func (h *ChatHandler) Events(c *gin.Context) {
	ws, _ := GetWorkspace(c)
	release := ws.Hold()
	defer release()

	updates := make(chan chat.State, 16)
	cancel := ws.Controller.Subscribe(func(s chat.State) {
		select {
		case updates <- s:
		default:
			h.logger.Debug("dropping state update for slow subscriber", zap.String("client", workspace.Ref(ws.ID)))
		}
	})
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	c.SSEvent("state", ws.Controller.Snapshot())
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case s := <-updates:
			c.SSEvent("state", s)
			return true
		}
	})
}
