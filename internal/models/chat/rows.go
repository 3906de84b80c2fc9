package chat

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// MessageRow - строка таблицы сообщений. Множества SeenBy / SoftDeletedFor
// лежат в отдельных таблицах, чтобы объединение было вставкой без конфликтов.
type MessageRow struct {
	ID                    string  `gorm:"primaryKey;type:varchar(36)"`
	Partition             string  `gorm:"column:partition_name;type:varchar(64);not null;index:idx_chat_messages_scope,priority:1"`
	Body                  *string `gorm:"type:text"`
	AttachmentName        *string
	AttachmentMime        *string
	AttachmentData        []byte
	SenderID              string `gorm:"type:varchar(64);not null;index"`
	SenderDisplayName     string
	SenderRole            string `gorm:"type:varchar(20);not null"`
	CounterpartyGroupID   string `gorm:"type:varchar(64);not null;index:idx_chat_messages_scope,priority:2"`
	CounterpartyGroupName string
	TargetParticipantID   string    `gorm:"type:varchar(64);index"`
	CreatedAt             time.Time `gorm:"not null;index"`
	DeliveryStatus        string    `gorm:"type:varchar(16);not null;default:'sent'"`
	HardDeleted           bool      `gorm:"default:false"`
	Edited                bool      `gorm:"default:false"`
	EditedAt              *time.Time
	// ReplyTo - снимок цитаты (ReplyRef) в JSON; JSON null, если это не ответ.
	ReplyTo datatypes.JSON `gorm:"not null"`

	SeenBy         []MessageSeenRow   `gorm:"foreignKey:MessageID;constraint:OnDelete:CASCADE"`
	SoftDeletedFor []MessageHiddenRow `gorm:"foreignKey:MessageID;constraint:OnDelete:CASCADE"`
}

func (MessageRow) TableName() string {
	return "chat_messages"
}

// MessageSeenRow - отметка "участник видел сообщение".
type MessageSeenRow struct {
	MessageID     string `gorm:"primaryKey;type:varchar(36)"`
	ParticipantID string `gorm:"primaryKey;type:varchar(64)"`
	SeenAt        time.Time
}

func (MessageSeenRow) TableName() string {
	return "chat_message_seen"
}

// MessageHiddenRow - сообщение скрыто для участника ("удалить у себя").
type MessageHiddenRow struct {
	MessageID     string `gorm:"primaryKey;type:varchar(36)"`
	ParticipantID string `gorm:"primaryKey;type:varchar(64)"`
	HiddenAt      time.Time
}

func (MessageHiddenRow) TableName() string {
	return "chat_message_hidden"
}

// ToMessage собирает доменное сообщение из строки и её дочерних записей.
func (r MessageRow) ToMessage() Message {
	m := Message{
		ID:                    r.ID,
		Partition:             r.Partition,
		Body:                  r.Body,
		SenderID:              r.SenderID,
		SenderDisplayName:     r.SenderDisplayName,
		SenderRole:            SenderRole(r.SenderRole),
		CounterpartyGroupID:   r.CounterpartyGroupID,
		CounterpartyGroupName: r.CounterpartyGroupName,
		TargetParticipantID:   r.TargetParticipantID,
		CreatedAt:             r.CreatedAt,
		DeliveryStatus:        DeliveryStatus(r.DeliveryStatus),
		HardDeleted:           r.HardDeleted,
		Edited:                r.Edited,
		EditedAt:              r.EditedAt,
	}
	if r.AttachmentName != nil || len(r.AttachmentData) > 0 {
		m.Attachment = &Attachment{Name: deref(r.AttachmentName), MimeType: deref(r.AttachmentMime), Data: r.AttachmentData}
	}
	if len(r.ReplyTo) > 0 {
		var ref ReplyRef
		if err := json.Unmarshal(r.ReplyTo, &ref); err == nil && ref.ID != "" {
			m.ReplyTo = &ref
		}
	}
	seen := make([]string, 0, len(r.SeenBy))
	for _, s := range r.SeenBy {
		seen = append(seen, s.ParticipantID)
	}
	m.SeenBy = NewStringSet(seen...)
	hidden := make([]string, 0, len(r.SoftDeletedFor))
	for _, h := range r.SoftDeletedFor {
		hidden = append(hidden, h.ParticipantID)
	}
	m.SoftDeletedFor = NewStringSet(hidden...)
	return m
}

// NewMessageRow - обратное преобразование для вставки. Дочерние записи
// создаются тем же Create через ассоциации.
func NewMessageRow(m Message) MessageRow {
	r := MessageRow{
		ID:                    m.ID,
		Partition:             m.Partition,
		Body:                  m.Body,
		SenderID:              m.SenderID,
		SenderDisplayName:     m.SenderDisplayName,
		SenderRole:            string(m.SenderRole),
		CounterpartyGroupID:   m.CounterpartyGroupID,
		CounterpartyGroupName: m.CounterpartyGroupName,
		TargetParticipantID:   m.TargetParticipantID,
		CreatedAt:             m.CreatedAt,
		DeliveryStatus:        string(m.DeliveryStatus),
		HardDeleted:           m.HardDeleted,
		Edited:                m.Edited,
		EditedAt:              m.EditedAt,
	}
	if m.Attachment != nil {
		name, mime := m.Attachment.Name, m.Attachment.MimeType
		r.AttachmentName = &name
		r.AttachmentMime = &mime
		r.AttachmentData = m.Attachment.Data
	}
	raw, _ := json.Marshal(m.ReplyTo)
	r.ReplyTo = datatypes.JSON(raw)
	for _, p := range m.SeenBy {
		r.SeenBy = append(r.SeenBy, MessageSeenRow{MessageID: m.ID, ParticipantID: p, SeenAt: m.CreatedAt})
	}
	for _, p := range m.SoftDeletedFor {
		r.SoftDeletedFor = append(r.SoftDeletedFor, MessageHiddenRow{MessageID: m.ID, ParticipantID: p, HiddenAt: m.CreatedAt})
	}
	return r
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
