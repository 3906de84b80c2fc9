package dto

import (
	"encoding/base64"

	modelChat "salon_backend/internal/models/chat"
)

// AttachmentInput - вложение в теле запроса, данные в base64.
type AttachmentInput struct {
	Name     string `json:"name" validate:"required,max=255"`
	MimeType string `json:"mime_type" validate:"required,max=127"`
	Data     string `json:"data" validate:"required,base64"`
}

func (a *AttachmentInput) ToModel() (*modelChat.Attachment, error) {
	if a == nil {
		return nil, nil
	}
	data, err := base64.StdEncoding.DecodeString(a.Data)
	if err != nil {
		return nil, err
	}
	return &modelChat.Attachment{Name: a.Name, MimeType: a.MimeType, Data: data}, nil
}

// SendMessageRequest - отправка сообщения собеседнику из пути запроса.
// Пустые body и attachment одновременно отклоняет сервис.
// @Example {"body":"Здравствуйте!","reply_to_id":"8f1c..."}
type SendMessageRequest struct {
	Body       string           `json:"body" validate:"max=4000"`
	Attachment *AttachmentInput `json:"attachment,omitempty"`
	ReplyToID  string           `json:"reply_to_id,omitempty"`
}

// EditMessageRequest - новый текст. Пустой допустим, если у сообщения есть
// вложение; это проверяет сервис.
type EditMessageRequest struct {
	Body string `json:"body" validate:"max=4000"`
}

type ConversationListResponse struct {
	Conversations []modelChat.Conversation `json:"conversations"`
	UnreadTotal   int                      `json:"unread_total"`
}

type MessagesResponse struct {
	CounterpartyID string              `json:"counterparty_id"`
	Messages       []modelChat.Message `json:"messages"`
}

type MarkSeenResponse struct {
	Marked int `json:"marked"`
}

type UnreadResponse struct {
	Unread int `json:"unread"`
}
