package chat

import (
	"context"
	"log/slog"
	"sync"

	modelChat "salon_backend/internal/models/chat"
	"salon_backend/internal/store"
	"salon_backend/pkg/apperrors"
)

// Merge склеивает снимки обоих разделов в одну переписку для зрителя:
// без удалённых для всех и скрытых зрителем, по возрастанию (CreatedAt, ID).
func Merge(outbound, inbound []modelChat.Message, viewerID string) []modelChat.Message {
	out := make([]modelChat.Message, 0, len(outbound)+len(inbound))
	seen := make(map[string]struct{}, len(outbound)+len(inbound))
	for _, part := range [][]modelChat.Message{outbound, inbound} {
		for _, m := range part {
			if m.HardDeleted || m.HiddenFor(viewerID) {
				continue
			}
			key := m.Partition + "/" + m.ID
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, m)
		}
	}
	modelChat.SortMessages(out)
	return out
}

// StreamHandle - открытая переписка с одним собеседником.
// Колбэк onUpdate получает полную последовательность при каждом изменении
// любого из разделов и никогда не вызывается параллельно сам с собой.
// Close нельзя вызывать изнутри onUpdate.
type StreamHandle struct {
	session        *Session
	counterpartyID string
	onUpdate       func([]modelChat.Message)
	bgCtx          context.Context

	mu       sync.Mutex
	open     bool
	outbound []modelChat.Message
	inbound  []modelChat.Message
	unsubs   []store.Unsubscribe
}

func (h *StreamHandle) CounterpartyID() string {
	return h.counterpartyID
}

// OpenConversation подписывается на оба раздела переписки с собеседником.
func (s *Session) OpenConversation(ctx context.Context, counterpartyID string, onUpdate func([]modelChat.Message)) (*StreamHandle, error) {
	if counterpartyID == "" {
		return nil, apperrors.ErrNoCounterparty
	}
	if onUpdate == nil {
		onUpdate = func([]modelChat.Message) {}
	}

	h := &StreamHandle{
		session:        s,
		counterpartyID: counterpartyID,
		onUpdate:       onUpdate,
		bgCtx:          context.WithoutCancel(ctx),
		open:           true,
	}

	outFilter, inFilter := s.filters(counterpartyID)
	unsubOut, err := s.store.Subscribe(ctx, s.channel.OutboundPartition, outFilter, func(msgs []modelChat.Message) {
		h.onSnapshot(modelChat.StreamOutbound, msgs)
	})
	if err != nil {
		return nil, mapStoreError(err)
	}
	unsubIn, err := s.store.Subscribe(ctx, s.channel.InboundPartition, inFilter, func(msgs []modelChat.Message) {
		h.onSnapshot(modelChat.StreamInbound, msgs)
	})
	if err != nil {
		unsubOut()
		return nil, mapStoreError(err)
	}

	h.mu.Lock()
	h.unsubs = []store.Unsubscribe{unsubOut, unsubIn}
	h.mu.Unlock()

	s.metrics.StreamOpened(s.channel.Name)
	s.log.Debug("conversation opened", "counterparty_id", counterpartyID)
	return h, nil
}

// CloseConversation - то же, что h.Close().
func (s *Session) CloseConversation(h *StreamHandle) {
	if h != nil {
		h.Close()
	}
}

// Close отменяет обе подписки. После возврата onUpdate больше не вызывается.
func (h *StreamHandle) Close() {
	h.mu.Lock()
	if !h.open {
		h.mu.Unlock()
		return
	}
	h.open = false
	unsubs := h.unsubs
	h.unsubs = nil
	h.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	h.session.metrics.StreamClosed(h.session.channel.Name)
	h.session.log.Debug("conversation closed", "counterparty_id", h.counterpartyID)
}

func (h *StreamHandle) onSnapshot(origin modelChat.StreamOrigin, msgs []modelChat.Message) {
	stamped := make([]modelChat.Message, len(msgs))
	for i, m := range msgs {
		m.StreamOrigin = origin
		stamped[i] = m
	}

	h.mu.Lock()
	if !h.open {
		h.mu.Unlock()
		return
	}
	if origin == modelChat.StreamOutbound {
		h.outbound = stamped
	} else {
		h.inbound = stamped
	}
	merged := Merge(h.outbound, h.inbound, h.session.viewer.ID)
	h.session.index.Apply(h.counterpartyID, h.outbound, h.inbound)
	h.onUpdate(merged)
	h.mu.Unlock()

	h.session.metrics.MergedPublished(h.session.channel.Name)

	if origin == modelChat.StreamInbound {
		h.session.advanceDelivered(h.bgCtx, stamped)
	}
}

// advanceDelivered планирует sent -> delivered для входящих сообщений.
// Публикацию не блокирует; одинаковые патчи в полёте склеиваются.
// Ошибки только логируются: следующий снимок повторит попытку.
func (s *Session) advanceDelivered(ctx context.Context, msgs []modelChat.Message) {
	for _, m := range msgs {
		patch, ok := AdvanceToDelivered(m, s.viewer.ID)
		if !ok {
			continue
		}
		partition, id := m.Partition, m.ID
		go func() {
			_, err, _ := s.inflight.Do(partition+"/"+id, func() (interface{}, error) {
				return nil, s.store.Patch(ctx, partition, id, patch)
			})
			if err != nil {
				s.log.Warn("delivered advancement failed",
					slog.String("message_id", id),
					slog.String("partition", partition),
					slog.Any("error", err),
				)
				return
			}
			s.metrics.DeliveryAdvanced(s.channel.Name, string(modelChat.StatusDelivered))
		}()
	}
}

// Messages - разовый снимок переписки без подписки (для HTTP).
// Как и открытая переписка, продвигает входящие sent -> delivered.
func (s *Session) Messages(ctx context.Context, counterpartyID string) ([]modelChat.Message, error) {
	if counterpartyID == "" {
		return nil, apperrors.ErrNoCounterparty
	}
	outFilter, inFilter := s.filters(counterpartyID)
	outbound, err := s.store.Query(ctx, s.channel.OutboundPartition, outFilter)
	if err != nil {
		return nil, mapStoreError(err)
	}
	inbound, err := s.store.Query(ctx, s.channel.InboundPartition, inFilter)
	if err != nil {
		return nil, mapStoreError(err)
	}
	for i := range outbound {
		outbound[i].StreamOrigin = modelChat.StreamOutbound
	}
	for i := range inbound {
		inbound[i].StreamOrigin = modelChat.StreamInbound
	}
	s.index.Apply(counterpartyID, outbound, inbound)
	s.advanceDelivered(context.WithoutCancel(ctx), inbound)
	return Merge(outbound, inbound, s.viewer.ID), nil
}
