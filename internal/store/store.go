package store

import (
	"context"
	"errors"
	"time"

	"salon_backend/internal/models/chat"
)

var (
	ErrUnavailable      = errors.New("message store unavailable")
	ErrPermissionDenied = errors.New("message store: permission denied")
	ErrNotFound         = errors.New("message not found")
)

// Unsubscribe останавливает подписку. После возврата колбэк больше не вызывается.
type Unsubscribe func()

// MessageStore - хранилище сообщений, разбитое на именованные разделы.
//
// Subscribe отдаёт ПОЛНЫЙ набор подходящих под фильтр сообщений сразу после
// регистрации и затем при каждом изменении раздела, а не дельты.
// Колбэки одной подписки никогда не выполняются параллельно.
type MessageStore interface {
	// Create присваивает ID и CreatedAt и возвращает сохранённое сообщение.
	Create(ctx context.Context, partition string, msg chat.Message) (chat.Message, error)
	Patch(ctx context.Context, partition, id string, p Patch) error
	Delete(ctx context.Context, partition, id string) error
	Query(ctx context.Context, partition string, f Filter) ([]chat.Message, error)
	Subscribe(ctx context.Context, partition string, f Filter, onSnapshot func([]chat.Message)) (Unsubscribe, error)
}

// Filter - равенство по полям сообщения. Пустое поле не ограничивает выборку.
type Filter struct {
	GroupID             string
	SenderID            string
	TargetParticipantID string
	IDs                 []string
}

func (f Filter) Matches(m chat.Message) bool {
	if f.GroupID != "" && m.CounterpartyGroupID != f.GroupID {
		return false
	}
	if f.SenderID != "" && m.SenderID != f.SenderID {
		return false
	}
	if f.TargetParticipantID != "" && m.TargetParticipantID != f.TargetParticipantID {
		return false
	}
	if len(f.IDs) > 0 {
		for _, id := range f.IDs {
			if id == m.ID {
				return true
			}
		}
		return false
	}
	return true
}

// Patch - частичное обновление сообщения.
//
// AdvanceStatus применяется, только если повышает ранг статуса.
// AddSeenBy и AddSoftDeletedFor объединяются с текущими множествами.
// Поэтому повторные и конкурентные патчи коммутативны.
type Patch struct {
	Body              *string
	Edited            *bool
	EditedAt          *time.Time
	AdvanceStatus     *chat.DeliveryStatus
	AddSeenBy         []string
	AddSoftDeletedFor []string
	HardDeleted       *bool
}

// IsZero - патч ничего не меняет; хранилище не рассылает по нему уведомлений.
func (p Patch) IsZero() bool {
	return p.Body == nil && p.Edited == nil && p.EditedAt == nil && p.AdvanceStatus == nil &&
		len(p.AddSeenBy) == 0 && len(p.AddSoftDeletedFor) == 0 && p.HardDeleted == nil
}

// ApplyTo возвращает сообщение после применения патча. Исходное не меняется.
func (p Patch) ApplyTo(m chat.Message) chat.Message {
	if p.Body != nil {
		body := *p.Body
		m.Body = &body
	}
	if p.Edited != nil {
		m.Edited = *p.Edited
	}
	if p.EditedAt != nil {
		at := *p.EditedAt
		m.EditedAt = &at
	}
	if p.AdvanceStatus != nil && p.AdvanceStatus.Rank() > m.DeliveryStatus.Rank() {
		m.DeliveryStatus = *p.AdvanceStatus
	}
	if len(p.AddSeenBy) > 0 {
		m.SeenBy = m.SeenBy.Union(p.AddSeenBy...)
	}
	if len(p.AddSoftDeletedFor) > 0 {
		m.SoftDeletedFor = m.SoftDeletedFor.Union(p.AddSoftDeletedFor...)
	}
	if p.HardDeleted != nil {
		m.HardDeleted = *p.HardDeleted
	}
	return m
}
