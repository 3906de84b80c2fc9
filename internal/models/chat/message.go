package chat

import (
	"sort"
	"time"
)

// Message - запись переписки в одном из двух разделов (outbound / inbound).
type Message struct {
	ID           string       `json:"id"`
	Partition    string       `json:"partition"`
	StreamOrigin StreamOrigin `json:"stream_origin,omitempty"`

	Body       *string     `json:"body,omitempty"`
	Attachment *Attachment `json:"attachment,omitempty"`

	SenderID          string     `json:"sender_id"`
	SenderDisplayName string     `json:"sender_display_name"`
	SenderRole        SenderRole `json:"sender_role"`

	CounterpartyGroupID   string `json:"counterparty_group_id"`
	CounterpartyGroupName string `json:"counterparty_group_name"`
	TargetParticipantID   string `json:"target_participant_id,omitempty"`

	CreatedAt      time.Time      `json:"created_at"`
	DeliveryStatus DeliveryStatus `json:"delivery_status"`
	SeenBy         StringSet      `json:"seen_by"`
	SoftDeletedFor StringSet      `json:"soft_deleted_for,omitempty"`
	HardDeleted    bool           `json:"hard_deleted,omitempty"`

	Edited   bool       `json:"edited"`
	EditedAt *time.Time `json:"edited_at,omitempty"`

	ReplyTo *ReplyRef `json:"reply_to,omitempty"`
}

// ReplyRef - снимок цитируемого сообщения на момент ответа.
// Это не внешний ключ: правка или удаление оригинала снимок не меняет.
type ReplyRef struct {
	ID                   string `json:"id"`
	SnippetBody          string `json:"snippet_body,omitempty"`
	SnippetSender        string `json:"snippet_sender,omitempty"`
	SnippetAttachmentRef string `json:"snippet_attachment_ref,omitempty"`
}

func (m Message) BodyText() string {
	if m.Body == nil {
		return ""
	}
	return *m.Body
}

// HasPayload сообщает, есть ли у сообщения текст или вложение.
func (m Message) HasPayload() bool {
	return m.BodyText() != "" || (m.Attachment != nil && len(m.Attachment.Data) > 0)
}

// HiddenFor сообщает, скрыто ли сообщение для участника (delete for me).
func (m Message) HiddenFor(participantID string) bool {
	return m.SoftDeletedFor.Contains(participantID)
}

// Less - полный порядок сообщений внутри переписки: (CreatedAt, ID).
func Less(a, b Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// SortMessages сортирует по возрастанию (CreatedAt, ID).
func SortMessages(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool { return Less(msgs[i], msgs[j]) })
}

// Latest возвращает самое позднее сообщение или nil для пустого набора.
func Latest(msgs []Message) *Message {
	var last *Message
	for i := range msgs {
		if last == nil || Less(*last, msgs[i]) {
			last = &msgs[i]
		}
	}
	if last == nil {
		return nil
	}
	out := *last
	return &out
}
