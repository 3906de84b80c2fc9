package handlers

import (
	"salon_backend/internal/logger"
	servicesChat "salon_backend/internal/services/chat"
	"salon_backend/ws"

	"github.com/gin-gonic/gin"
)

type WSHandler struct {
	*BaseHandler
	manager     *ws.WebSocketManager
	chatService *servicesChat.Service
	readLimit   int64
}

// NewWSHandler: readLimit - предел входящего кадра в байтах.
func NewWSHandler(base *BaseHandler, manager *ws.WebSocketManager, chatService *servicesChat.Service, readLimit int64) *WSHandler {
	return &WSHandler{
		BaseHandler: base,
		manager:     manager,
		chatService: chatService,
		readLimit:   readLimit,
	}
}

func (h *WSHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/ws/chat/:channel", h.ServeWS)
}

func (h *WSHandler) ServeWS(c *gin.Context) {
	ident, ok := h.GetAndAuthorizeIdentity(c)
	if !ok {
		return
	}
	session, err := h.chatService.Session(c.Param("channel"), ident)
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}

	if err := ws.ServeWS(h.manager, c.Writer, c.Request, session, h.validator, h.readLimit); err != nil {
		// Upgrade уже ответил клиенту
		logger.CtxWarn(c.Request.Context(), "WebSocket upgrade error", "error", err)
	}
}
