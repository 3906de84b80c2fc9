package chat

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	modelChat "salon_backend/internal/models/chat"
	"salon_backend/internal/store"
	"salon_backend/pkg/apperrors"
)

const DefaultMaxAttachmentBytes int64 = 1 << 20

type Config struct {
	MaxAttachmentBytes  int64
	IndexConcurrency    int
	MarkSeenConcurrency int
	// SessionIdleTTL - через сколько без обращений Service забывает сессию.
	SessionIdleTTL time.Duration
	Now            func() time.Time
}

func (c Config) withDefaults() Config {
	if c.MaxAttachmentBytes <= 0 {
		c.MaxAttachmentBytes = DefaultMaxAttachmentBytes
	}
	if c.IndexConcurrency <= 0 {
		c.IndexConcurrency = 8
	}
	if c.MarkSeenConcurrency <= 0 {
		c.MarkSeenConcurrency = 4
	}
	if c.SessionIdleTTL <= 0 {
		c.SessionIdleTTL = 30 * time.Minute
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Session - переписки одного участника в одном канале.
// Хранилище и личность передаются явно.
type Session struct {
	channel   modelChat.Channel
	viewer    modelChat.Identity
	store     store.MessageStore
	directory Directory
	index     *Index
	cfg       Config
	log       *slog.Logger
	metrics   Metrics

	inflight singleflight.Group
}

func NewSession(
	ch modelChat.Channel,
	viewer modelChat.Identity,
	st store.MessageStore,
	directory Directory,
	cfg Config,
	log *slog.Logger,
	metrics Metrics,
) (*Session, error) {
	if err := ch.Validate(); err != nil {
		return nil, err
	}
	if st == nil {
		return nil, fmt.Errorf("chat session: message store is required")
	}
	if directory == nil {
		directory = NewStoreDirectory(st)
	}
	if log == nil {
		log = slog.Default()
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Session{
		channel:   ch,
		viewer:    viewer,
		store:     st,
		directory: directory,
		index:     NewIndex(ch, viewer.ID),
		cfg:       cfg.withDefaults(),
		log:       log.With("channel", ch.Name, "viewer_id", viewer.ID),
		metrics:   metrics,
	}, nil
}

func (s *Session) Channel() modelChat.Channel { return s.channel }
func (s *Session) Viewer() modelChat.Identity { return s.viewer }
func (s *Session) Index() *Index              { return s.index }

// filters - фильтры исходящего и входящего раздела для пары (владелец, собеседник).
func (s *Session) filters(counterpartyID string) (outbound, inbound store.Filter) {
	if s.channel.OwnerIsGroup {
		return store.Filter{GroupID: s.viewer.GroupID, TargetParticipantID: counterpartyID},
			store.Filter{GroupID: s.viewer.GroupID, SenderID: counterpartyID}
	}
	return store.Filter{GroupID: counterpartyID, SenderID: s.viewer.ID},
		store.Filter{GroupID: counterpartyID, TargetParticipantID: s.viewer.ID}
}

// ListConversations пересчитывает список переписок. Ошибки по отдельному
// собеседнику не возвращаются: запись помечается Stale и остаётся прежней.
func (s *Session) ListConversations(ctx context.Context) ([]modelChat.Conversation, error) {
	counterparties, err := s.directory.Counterparties(ctx, s.channel, s.viewer)
	if err != nil {
		s.log.Warn("counterparty directory failed, keeping previous index", "error", err)
		return s.index.Snapshot(), nil
	}

	results := make([]modelChat.Conversation, len(counterparties))
	var g errgroup.Group
	g.SetLimit(s.cfg.IndexConcurrency)
	for i, cp := range counterparties {
		i, cp := i, cp
		g.Go(func() error {
			results[i] = s.summarizeCounterparty(ctx, cp)
			return nil
		})
	}
	_ = g.Wait()

	s.index.Replace(results)
	return s.index.Snapshot(), nil
}

func (s *Session) summarizeCounterparty(ctx context.Context, cp modelChat.Counterparty) modelChat.Conversation {
	conv := modelChat.Conversation{CounterpartyID: cp.ID, CounterpartyDisplayName: cp.DisplayName}
	if conv.CounterpartyDisplayName == "" {
		conv.CounterpartyDisplayName = cp.ID
	}

	outFilter, inFilter := s.filters(cp.ID)
	outbound, err := s.store.Query(ctx, s.channel.OutboundPartition, outFilter)
	if err == nil {
		var inbound []modelChat.Message
		inbound, err = s.store.Query(ctx, s.channel.InboundPartition, inFilter)
		if err == nil {
			conv.LastMessage, conv.UnreadCount = Summarize(s.channel, s.viewer.ID, outbound, inbound)
			return conv
		}
	}

	s.log.Warn("conversation summary failed", "counterparty_id", cp.ID, "error", err)
	if prev, ok := s.index.Get(cp.ID); ok {
		conv.LastMessage, conv.UnreadCount = prev.LastMessage, prev.UnreadCount
	}
	conv.Stale = true
	return conv
}

// UnreadTotal - сумма непрочитанных по всем перепискам.
func (s *Session) UnreadTotal(ctx context.Context) (int, error) {
	list, err := s.ListConversations(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, c := range list {
		total += c.UnreadCount
	}
	return total, nil
}

// MarkConversationSeen переводит все непросмотренные входящие в seen.
// Патчи независимы: сбой одного не мешает остальным, ошибки хранилища
// только логируются. Возвращает число успешно применённых патчей.
func (s *Session) MarkConversationSeen(ctx context.Context, counterpartyID string) (int, error) {
	if counterpartyID == "" {
		return 0, apperrors.ErrNoCounterparty
	}

	_, inFilter := s.filters(counterpartyID)
	inbound, err := s.store.Query(ctx, s.channel.InboundPartition, inFilter)
	if err != nil {
		s.log.Warn("mark seen: inbound query failed", "counterparty_id", counterpartyID, "error", err)
		return 0, nil
	}

	type job struct {
		partition, id string
		patch         store.Patch
	}
	var jobs []job
	for _, m := range inbound {
		if patch, ok := AdvanceToSeen(m, s.viewer.ID); ok {
			jobs = append(jobs, job{partition: m.Partition, id: m.ID, patch: patch})
		}
	}

	applied := make([]bool, len(jobs))
	var g errgroup.Group
	g.SetLimit(s.cfg.MarkSeenConcurrency)
	for i, j := range jobs {
		i, j := i, j
		g.Go(func() error {
			err := s.store.Patch(ctx, j.partition, j.id, j.patch)
			switch {
			case err == nil:
				applied[i] = true
				s.metrics.DeliveryAdvanced(s.channel.Name, string(modelChat.StatusSeen))
			case apperrors.Is(err, store.ErrNotFound):
				// удалено для всех, пока шли патчи
			default:
				s.log.Warn("mark seen failed", "message_id", j.id, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	n := 0
	for _, ok := range applied {
		if ok {
			n++
		}
	}
	return n, nil
}
