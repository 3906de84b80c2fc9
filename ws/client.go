package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"salon_backend/internal/logger"
	modelChat "salon_backend/internal/models/chat"
	servicesChat "salon_backend/internal/services/chat"
	"salon_backend/internal/validator"
	"salon_backend/pkg/apperrors"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // origin проверяет шлюз
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Client - одно соединение участника. Владеет сессией и не более чем
// одной открытой перепиской.
type Client struct {
	ID string

	conn      *websocket.Conn
	manager   *WebSocketManager
	session   *servicesChat.Session
	validator *validator.Validator
	log       *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	send      chan OutgoingWSMessage
	done      chan struct{}
	closeOnce sync.Once

	streamMu sync.Mutex
	stream   *servicesChat.StreamHandle
}

// ServeWS поднимает соединение и запускает read/write. readLimit -
// максимальный размер входящего кадра (с учётом base64 вложения).
func ServeWS(
	manager *WebSocketManager,
	w http.ResponseWriter,
	r *http.Request,
	session *servicesChat.Session,
	v *validator.Validator,
	readLimit int64,
) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	client := &Client{
		ID:        uuid.NewString(),
		conn:      conn,
		manager:   manager,
		session:   session,
		validator: v,
		log:       logger.FromContext(ctx).With("component", "ws", "channel", session.Channel().Name),
		ctx:       ctx,
		cancel:    cancel,
		send:      make(chan OutgoingWSMessage, sendBuffer),
		done:      make(chan struct{}),
	}
	if readLimit > 0 {
		conn.SetReadLimit(readLimit)
	}

	if !manager.Register(client) {
		return nil
	}
	go client.writePump()
	go client.readPump()
	return nil
}

func (c *Client) Identity() modelChat.Identity {
	return c.session.Viewer()
}

// shutdown закрывает переписку и соединение. Повторные вызовы безопасны.
func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		c.cancel()
		close(c.done)
		c.closeStream()
		_ = c.conn.Close()
	})
}

// enqueue не блокирует: переполненный буфер означает медленного клиента,
// такое соединение отключается.
func (c *Client) enqueue(msg OutgoingWSMessage) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	case <-c.done:
		return false
	default:
		c.log.Warn("send buffer full, disconnecting client", "client_id", c.ID)
		go c.manager.Unregister(c)
		return false
	}
}

func (c *Client) readPump() {
	defer c.manager.Unregister(c)

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msgBytes, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("websocket read error", "error", err)
			}
			return
		}

		var msg IncomingWSMessage
		if err := json.Unmarshal(msgBytes, &msg); err != nil {
			c.replyError("", apperrors.NewBadRequestError("Invalid frame: "+err.Error()))
			continue
		}
		c.handleMessage(msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.log.Warn("websocket write error", "error", err)
				go c.manager.Unregister(c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				go c.manager.Unregister(c)
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

// Централизованный обработчик
func (c *Client) handleMessage(msg IncomingWSMessage) {
	var (
		result  any
		err     error
		mutated bool
	)
	logger.CtxDebug(c.ctx, "websocket action", "action", msg.Action, "request_id", msg.RequestID)

	switch msg.Action {
	case ActionOpen:
		var p openPayload
		if err = c.decode(msg.Data, &p); err == nil {
			err = c.openStream(p.CounterpartyID)
		}

	case ActionClose:
		c.closeStream()

	case ActionSend:
		var p sendPayload
		if err = c.decode(msg.Data, &p); err == nil {
			result, err = c.sendMessage(p)
			mutated = true
		}

	case ActionEdit:
		var p editPayload
		if err = c.decode(msg.Data, &p); err == nil {
			err = c.session.Edit(c.ctx, p.MessageID, p.Body)
			mutated = true
		}

	case ActionDeleteForMe:
		var p messageRefPayload
		if err = c.decode(msg.Data, &p); err == nil {
			err = c.session.DeleteForMe(c.ctx, p.MessageID)
			mutated = true
		}

	case ActionDeleteForEveryone:
		var p messageRefPayload
		if err = c.decode(msg.Data, &p); err == nil {
			err = c.session.DeleteForEveryone(c.ctx, p.MessageID, p.Confirm)
			mutated = true
		}

	case ActionMarkSeen:
		var p markSeenPayload
		if len(msg.Data) > 0 {
			err = c.decode(msg.Data, &p)
		}
		if err == nil {
			var n int
			n, err = c.session.MarkConversationSeen(c.ctx, c.counterpartyOr(p.CounterpartyID))
			result = map[string]int{"marked": n}
			mutated = true
		}

	case ActionListConversations:
		var list []modelChat.Conversation
		list, err = c.session.ListConversations(c.ctx)
		if err == nil {
			c.enqueue(OutgoingWSMessage{Type: TypeConversations, RequestID: msg.RequestID, Data: list})
			return
		}

	default:
		err = apperrors.ErrInvalidOperation("ws", "Unknown action: "+msg.Action)
	}

	if err != nil {
		c.replyError(msg.RequestID, err)
		return
	}
	c.enqueue(OutgoingWSMessage{Type: TypeAck, RequestID: msg.RequestID, Data: result})
	if mutated {
		c.manager.PushConversations(c.ctx, c.session)
	}
}

func (c *Client) decode(data json.RawMessage, dst any) error {
	if len(data) == 0 {
		return apperrors.NewBadRequestError("Missing data")
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return apperrors.NewBadRequestError("Invalid data: " + err.Error())
	}
	if err := c.validator.Validate(dst); err != nil {
		if vErr, ok := err.(*validator.ValidationError); ok {
			return apperrors.ValidationError(vErr.Errors)
		}
		return apperrors.InternalError(err)
	}
	return nil
}

func (c *Client) replyError(requestID string, err error) {
	appErr, ok := apperrors.AsAppError(err)
	if !ok {
		c.log.Error("websocket action failed", "error", err)
		appErr = apperrors.InternalError(err)
	} else if appErr.HTTPCode >= 500 {
		c.log.Warn("websocket action failed", "code", appErr.Code, "error", appErr.Error())
	}
	c.enqueue(OutgoingWSMessage{Type: TypeError, RequestID: requestID, Error: appErr})
}

// openStream заменяет открытую переписку новой.
func (c *Client) openStream(counterpartyID string) error {
	c.closeStream()

	h, err := c.session.OpenConversation(c.ctx, counterpartyID, func(msgs []modelChat.Message) {
		c.enqueue(OutgoingWSMessage{Type: TypeMessages, CounterpartyID: counterpartyID, Data: msgs})
	})
	if err != nil {
		return err
	}

	c.streamMu.Lock()
	select {
	case <-c.done:
		c.streamMu.Unlock()
		h.Close()
		return nil
	default:
	}
	c.stream = h
	c.streamMu.Unlock()
	return nil
}

func (c *Client) closeStream() {
	c.streamMu.Lock()
	h := c.stream
	c.stream = nil
	c.streamMu.Unlock()
	c.session.CloseConversation(h)
}

func (c *Client) counterpartyOr(id string) string {
	if id != "" {
		return id
	}
	c.streamMu.Lock()
	defer c.streamMu.Unlock()
	if c.stream != nil {
		return c.stream.CounterpartyID()
	}
	return ""
}

func (c *Client) sendMessage(p sendPayload) (modelChat.Message, error) {
	attachment, err := p.Attachment.ToModel()
	if err != nil {
		return modelChat.Message{}, apperrors.NewBadRequestError("Invalid attachment data")
	}
	return c.session.Send(c.ctx, servicesChat.SendInput{
		CounterpartyID: c.counterpartyOr(p.CounterpartyID),
		Body:           p.Body,
		Attachment:     attachment,
		ReplyToID:      p.ReplyToID,
	})
}
