package store

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"salon_backend/internal/models/chat"
)

// MemoryStore - хранилище в памяти: режим разработки и тесты.
type MemoryStore struct {
	mu         sync.RWMutex
	partitions map[string]map[string]chat.Message
	clock      *Clock
	hub        *Hub
}

func NewMemoryStore(clock *Clock, log *slog.Logger) *MemoryStore {
	if clock == nil {
		clock = NewClock(nil)
	}
	s := &MemoryStore{
		partitions: make(map[string]map[string]chat.Message),
		clock:      clock,
	}
	s.hub = NewHub(s.Query, log)
	return s
}

func (s *MemoryStore) Create(ctx context.Context, partition string, msg chat.Message) (chat.Message, error) {
	if err := ctx.Err(); err != nil {
		return chat.Message{}, err
	}

	msg.ID = uuid.NewString()
	msg.Partition = partition
	msg.CreatedAt = s.clock.Now()
	if msg.DeliveryStatus == "" {
		msg.DeliveryStatus = chat.StatusSent
	}
	msg = cloneMessage(msg)

	s.mu.Lock()
	if s.partitions[partition] == nil {
		s.partitions[partition] = make(map[string]chat.Message)
	}
	s.partitions[partition][msg.ID] = msg
	s.mu.Unlock()

	s.hub.Notify(partition)
	return cloneMessage(msg), nil
}

func (s *MemoryStore) Patch(ctx context.Context, partition, id string, p Patch) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	current, ok := s.partitions[partition][id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	if p.IsZero() {
		s.mu.Unlock()
		return nil
	}
	s.partitions[partition][id] = p.ApplyTo(current)
	s.mu.Unlock()

	s.hub.Notify(partition)
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, partition, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if _, ok := s.partitions[partition][id]; !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	delete(s.partitions[partition], id)
	s.mu.Unlock()

	s.hub.Notify(partition)
	return nil
}

func (s *MemoryStore) Query(ctx context.Context, partition string, f Filter) ([]chat.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	out := make([]chat.Message, 0)
	for _, m := range s.partitions[partition] {
		if f.Matches(m) {
			out = append(out, cloneMessage(m))
		}
	}
	s.mu.RUnlock()

	chat.SortMessages(out)
	return out, nil
}

func (s *MemoryStore) Subscribe(ctx context.Context, partition string, f Filter, onSnapshot func([]chat.Message)) (Unsubscribe, error) {
	return s.hub.Subscribe(ctx, partition, f, onSnapshot)
}

// Notify перечитывает подписки раздела (изменение пришло извне).
func (s *MemoryStore) Notify(partition string) {
	s.hub.Notify(partition)
}

// Subscribers - число активных подписок на раздел.
func (s *MemoryStore) Subscribers(partition string) int {
	return s.hub.Subscribers(partition)
}

func (s *MemoryStore) Close() {
	s.hub.Close()
}

func cloneMessage(m chat.Message) chat.Message {
	if m.Body != nil {
		body := *m.Body
		m.Body = &body
	}
	if m.Attachment != nil {
		a := *m.Attachment
		a.Data = append([]byte(nil), a.Data...)
		m.Attachment = &a
	}
	if m.EditedAt != nil {
		at := *m.EditedAt
		m.EditedAt = &at
	}
	if m.ReplyTo != nil {
		r := *m.ReplyTo
		m.ReplyTo = &r
	}
	m.SeenBy = chat.NewStringSet(m.SeenBy...)
	m.SoftDeletedFor = chat.NewStringSet(m.SoftDeletedFor...)
	return m
}
