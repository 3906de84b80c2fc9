package repositories

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"salon_backend/internal/events"
	"salon_backend/internal/models/chat"
	"salon_backend/internal/store"
)

// MessageStore - реализация store.MessageStore поверх gorm (postgres в проде,
// sqlite в тестах). После каждой записи будит локальный хаб подписок и
// рассылает изменение другим инстансам.
type MessageStore struct {
	db        *gorm.DB
	clock     *store.Clock
	hub       *store.Hub
	publisher events.Publisher
	origin    string
	log       *slog.Logger
}

func NewMessageStore(db *gorm.DB, clock *store.Clock, publisher events.Publisher, origin string, log *slog.Logger) *MessageStore {
	if clock == nil {
		clock = store.NewClock(nil)
	}
	if log == nil {
		log = slog.Default()
	}
	if publisher == nil {
		publisher = events.NewNoopPublisher(log)
	}
	s := &MessageStore{
		db:        db,
		clock:     clock,
		publisher: publisher,
		origin:    origin,
		log:       log.With("component", "message_store"),
	}
	s.hub = store.NewHub(s.Query, log)
	return s
}

// AutoMigrate создаёт таблицы сообщений и их дочерних множеств.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&chat.MessageRow{}, &chat.MessageSeenRow{}, &chat.MessageHiddenRow{})
}

func (s *MessageStore) Create(ctx context.Context, partition string, msg chat.Message) (chat.Message, error) {
	msg.ID = uuid.NewString()
	msg.Partition = partition
	msg.CreatedAt = s.clock.Now()
	if msg.DeliveryStatus == "" {
		msg.DeliveryStatus = chat.StatusSent
	}

	row := chat.NewMessageRow(msg)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return chat.Message{}, translateError(err)
	}

	s.changed(ctx, events.Change{Partition: partition, GroupID: msg.CounterpartyGroupID, MessageID: msg.ID, Op: events.OpCreate})
	return row.ToMessage(), nil
}

func (s *MessageStore) Patch(ctx context.Context, partition, id string, p store.Patch) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row chat.MessageRow
		if err := tx.Select("id", "counterparty_group_id").
			Where("id = ? AND partition_name = ?", id, partition).
			First(&row).Error; err != nil {
			return err
		}

		updates := map[string]interface{}{}
		if p.Body != nil {
			updates["body"] = *p.Body
		}
		if p.Edited != nil {
			updates["edited"] = *p.Edited
		}
		if p.EditedAt != nil {
			updates["edited_at"] = *p.EditedAt
		}
		if p.HardDeleted != nil {
			updates["hard_deleted"] = *p.HardDeleted
		}
		if len(updates) > 0 {
			if err := tx.Model(&chat.MessageRow{}).Where("id = ?", id).Updates(updates).Error; err != nil {
				return err
			}
		}

		// Повышение статуса: условный UPDATE, строка с равным или большим рангом не трогается.
		if p.AdvanceStatus != nil && p.AdvanceStatus.Valid() {
			lower := lowerStatuses(*p.AdvanceStatus)
			if len(lower) > 0 {
				if err := tx.Model(&chat.MessageRow{}).
					Where("id = ? AND delivery_status IN ?", id, lower).
					Update("delivery_status", string(*p.AdvanceStatus)).Error; err != nil {
					return err
				}
			}
		}

		now := s.clock.Now()
		if seen := seenRows(id, p.AddSeenBy, now); len(seen) > 0 {
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seen).Error; err != nil {
				return err
			}
		}
		if hidden := hiddenRows(id, p.AddSoftDeletedFor, now); len(hidden) > 0 {
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&hidden).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return translateError(err)
	}
	if p.IsZero() {
		return nil
	}

	s.changed(ctx, events.Change{Partition: partition, MessageID: id, Op: events.OpPatch})
	return nil
}

func (s *MessageStore) Delete(ctx context.Context, partition, id string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND partition_name = ?", id, partition).Delete(&chat.MessageRow{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		if err := tx.Where("message_id = ?", id).Delete(&chat.MessageSeenRow{}).Error; err != nil {
			return err
		}
		return tx.Where("message_id = ?", id).Delete(&chat.MessageHiddenRow{}).Error
	})
	if err != nil {
		return translateError(err)
	}

	s.changed(ctx, events.Change{Partition: partition, MessageID: id, Op: events.OpDelete})
	return nil
}

func (s *MessageStore) Query(ctx context.Context, partition string, f store.Filter) ([]chat.Message, error) {
	q := s.db.WithContext(ctx).
		Preload("SeenBy").
		Preload("SoftDeletedFor").
		Where("partition_name = ?", partition)

	if f.GroupID != "" {
		q = q.Where("counterparty_group_id = ?", f.GroupID)
	}
	if f.SenderID != "" {
		q = q.Where("sender_id = ?", f.SenderID)
	}
	if f.TargetParticipantID != "" {
		q = q.Where("target_participant_id = ?", f.TargetParticipantID)
	}
	if len(f.IDs) > 0 {
		q = q.Where("id IN ?", f.IDs)
	}

	var rows []chat.MessageRow
	if err := q.Order("created_at ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, translateError(err)
	}

	out := make([]chat.Message, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.ToMessage())
	}
	return out, nil
}

func (s *MessageStore) Subscribe(ctx context.Context, partition string, f store.Filter, onSnapshot func([]chat.Message)) (store.Unsubscribe, error) {
	return s.hub.Subscribe(ctx, partition, f, onSnapshot)
}

// Notify перечитывает подписки раздела: вызывается подписчиком RabbitMQ,
// когда раздел изменил другой инстанс.
func (s *MessageStore) Notify(partition string) {
	s.hub.Notify(partition)
}

func (s *MessageStore) Close() {
	s.hub.Close()
}

func (s *MessageStore) changed(ctx context.Context, c events.Change) {
	s.hub.Notify(c.Partition)

	c.Origin = s.origin
	c.OccurredAt = s.clock.Now()
	if err := s.publisher.PublishChange(ctx, c); err != nil {
		// запись уже закоммичена; другие инстансы догонят на следующем изменении
		s.log.Warn("failed to broadcast change", "key", c.RoutingKey(), "error", err)
	}
}

func lowerStatuses(target chat.DeliveryStatus) []string {
	var out []string
	for _, st := range []chat.DeliveryStatus{chat.StatusSent, chat.StatusDelivered, chat.StatusSeen} {
		if st.Rank() < target.Rank() {
			out = append(out, string(st))
		}
	}
	return out
}

func seenRows(messageID string, participants []string, at time.Time) []chat.MessageSeenRow {
	var rows []chat.MessageSeenRow
	for _, p := range chat.NewStringSet(participants...) {
		rows = append(rows, chat.MessageSeenRow{MessageID: messageID, ParticipantID: p, SeenAt: at})
	}
	return rows
}

func hiddenRows(messageID string, participants []string, at time.Time) []chat.MessageHiddenRow {
	var rows []chat.MessageHiddenRow
	for _, p := range chat.NewStringSet(participants...) {
		rows = append(rows, chat.MessageHiddenRow{MessageID: messageID, ParticipantID: p, HiddenAt: at})
	}
	return rows
}

// translateError переводит ошибки gorm/драйвера в ошибки хранилища.
func translateError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return store.ErrNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "permission denied") || strings.Contains(msg, "readonly database") {
		return fmt.Errorf("%w: %v", store.ErrPermissionDenied, err)
	}
	return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
}
