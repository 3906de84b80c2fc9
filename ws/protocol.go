package ws

import (
	"encoding/json"

	"salon_backend/internal/dto"
)

// Действия клиента.
const (
	ActionOpen              = "open"
	ActionClose             = "close"
	ActionSend              = "send"
	ActionEdit              = "edit"
	ActionDeleteForMe       = "delete_for_me"
	ActionDeleteForEveryone = "delete_for_everyone"
	ActionMarkSeen          = "mark_seen"
	ActionListConversations = "list_conversations"
)

// Типы исходящих кадров.
const (
	TypeMessages      = "messages"
	TypeConversations = "conversations"
	TypeAck           = "ack"
	TypeError         = "error"
)

type IncomingWSMessage struct {
	Action    string          `json:"action"`
	RequestID string          `json:"request_id,omitempty"`
	Data      json.RawMessage `json:"data"`
}

// OutgoingWSMessage - кадр сервера. Для TypeMessages Data - полная
// упорядоченная переписка, а не дельта.
type OutgoingWSMessage struct {
	Type           string `json:"type"`
	RequestID      string `json:"request_id,omitempty"`
	CounterpartyID string `json:"counterparty_id,omitempty"`
	Data           any    `json:"data,omitempty"`
	Error          any    `json:"error,omitempty"`
}

type openPayload struct {
	CounterpartyID string `json:"counterparty_id" validate:"required"`
}

// sendPayload: без counterparty_id сообщение уходит в открытую переписку.
type sendPayload struct {
	CounterpartyID string `json:"counterparty_id"`
	dto.SendMessageRequest
}

type editPayload struct {
	MessageID string `json:"message_id" validate:"required"`
	Body      string `json:"body" validate:"max=4000"`
}

type messageRefPayload struct {
	MessageID string `json:"message_id" validate:"required"`
	Confirm   bool   `json:"confirm"`
}

type markSeenPayload struct {
	CounterpartyID string `json:"counterparty_id"`
}
