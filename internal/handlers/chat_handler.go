package handlers

import (
	"context"
	"net/http"

	"salon_backend/internal/dto"
	"salon_backend/internal/logger"
	servicesChat "salon_backend/internal/services/chat"
	"salon_backend/pkg/apperrors"

	"github.com/gin-gonic/gin"
)

// ConversationsPusher обновляет список переписок в открытых соединениях участника.
type ConversationsPusher interface {
	PushConversations(ctx context.Context, session *servicesChat.Session)
}

type ChatHandler struct {
	*BaseHandler
	chatService *servicesChat.Service
	pusher      ConversationsPusher
}

func NewChatHandler(base *BaseHandler, chatService *servicesChat.Service, pusher ConversationsPusher) *ChatHandler {
	return &ChatHandler{
		BaseHandler: base,
		chatService: chatService,
		pusher:      pusher,
	}
}

// RegisterRoutes вешает маршруты чата; группа r уже под IdentityMiddleware.
func (h *ChatHandler) RegisterRoutes(r *gin.RouterGroup) {
	chat := r.Group("/chat/:channel")
	{
		chat.GET("/conversations", h.ListConversations)
		chat.GET("/unread", h.GetUnreadTotal)

		chat.GET("/conversations/:counterpartyId/messages", h.GetMessages)
		chat.POST("/conversations/:counterpartyId/messages", h.SendMessage)
		chat.POST("/conversations/:counterpartyId/seen", h.MarkSeen)

		chat.PATCH("/messages/:messageId", h.EditMessage)
		chat.POST("/messages/:messageId/hide", h.DeleteForMe)
		chat.DELETE("/messages/:messageId", h.DeleteForEveryone)
	}
}

func (h *ChatHandler) push(c *gin.Context, s *servicesChat.Session) {
	if h.pusher != nil {
		h.pusher.PushConversations(c.Request.Context(), s)
	}
}

// session - сессия участника в канале из пути. Ошибку пишет сама.
func (h *ChatHandler) session(c *gin.Context) (*servicesChat.Session, bool) {
	ident, ok := h.GetAndAuthorizeIdentity(c)
	if !ok {
		return nil, false
	}
	s, err := h.chatService.Session(c.Param("channel"), ident)
	if err != nil {
		h.HandleServiceError(c, err)
		return nil, false
	}
	return s, true
}

func (h *ChatHandler) ListConversations(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	list, err := s.ListConversations(c.Request.Context())
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}

	total := 0
	for _, conv := range list {
		total += conv.UnreadCount
	}
	c.JSON(http.StatusOK, dto.ConversationListResponse{Conversations: list, UnreadTotal: total})
}

func (h *ChatHandler) GetUnreadTotal(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	total, err := s.UnreadTotal(c.Request.Context())
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.UnreadResponse{Unread: total})
}

func (h *ChatHandler) GetMessages(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	counterpartyID := c.Param("counterpartyId")

	msgs, err := s.Messages(c.Request.Context(), counterpartyID)
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.MessagesResponse{CounterpartyID: counterpartyID, Messages: msgs})
}

func (h *ChatHandler) SendMessage(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	var req dto.SendMessageRequest
	if !h.BindAndValidate_JSON(c, &req) {
		return
	}
	attachment, err := req.Attachment.ToModel()
	if err != nil {
		apperrors.HandleError(c, apperrors.NewBadRequestError("Invalid attachment data"))
		return
	}

	msg, err := s.Send(c.Request.Context(), servicesChat.SendInput{
		CounterpartyID: c.Param("counterpartyId"),
		Body:           req.Body,
		Attachment:     attachment,
		ReplyToID:      req.ReplyToID,
	})
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}

	logger.CtxInfo(c.Request.Context(), "Message sent", "message_id", msg.ID, "partition", msg.Partition)
	h.push(c, s)
	c.JSON(http.StatusCreated, msg)
}

func (h *ChatHandler) MarkSeen(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	n, err := s.MarkConversationSeen(c.Request.Context(), c.Param("counterpartyId"))
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}
	if n > 0 {
		h.push(c, s)
	}
	c.JSON(http.StatusOK, dto.MarkSeenResponse{Marked: n})
}

func (h *ChatHandler) EditMessage(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	var req dto.EditMessageRequest
	if !h.BindAndValidate_JSON(c, &req) {
		return
	}

	if err := s.Edit(c.Request.Context(), c.Param("messageId"), req.Body); err != nil {
		h.HandleServiceError(c, err)
		return
	}
	h.push(c, s)
	c.Status(http.StatusNoContent)
}

func (h *ChatHandler) DeleteForMe(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	if err := s.DeleteForMe(c.Request.Context(), c.Param("messageId")); err != nil {
		h.HandleServiceError(c, err)
		return
	}
	h.push(c, s)
	c.Status(http.StatusNoContent)
}

// DeleteForEveryone требует ?confirm=true: удаление необратимо.
func (h *ChatHandler) DeleteForEveryone(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	confirmed := ParseQueryBool(c, "confirm", false)
	if err := s.DeleteForEveryone(c.Request.Context(), c.Param("messageId"), confirmed); err != nil {
		h.HandleServiceError(c, err)
		return
	}
	logger.CtxInfo(c.Request.Context(), "Message deleted for everyone", "message_id", c.Param("messageId"))
	h.push(c, s)
	c.Status(http.StatusNoContent)
}
