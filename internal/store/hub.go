package store

import (
	"context"
	"log/slog"
	"sync"

	"salon_backend/internal/models/chat"
)

// QueryFunc - одноразовое чтение, которым хаб перечитывает подписки.
type QueryFunc func(ctx context.Context, partition string, f Filter) ([]chat.Message, error)

// Hub - реестр подписок поверх любого хранилища.
// Notify(partition) перечитывает все подписки раздела и отдаёт им полные
// снимки. У каждой подписки своя горутина, так что колбэки одной подписки
// идут строго последовательно.
type Hub struct {
	query QueryFunc
	log   *slog.Logger

	mu     sync.Mutex
	nextID uint64
	subs   map[string]map[uint64]*subscription
	closed bool
}

type subscription struct {
	partition  string
	filter     Filter
	onSnapshot func([]chat.Message)

	ctx    context.Context
	cancel context.CancelFunc
	kick   chan struct{}

	// deliverMu удерживается на время колбэка: Unsubscribe ждёт его окончания.
	deliverMu sync.Mutex
	stopped   bool
}

func NewHub(query QueryFunc, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		query: query,
		log:   log.With("component", "store_hub"),
		subs:  make(map[string]map[uint64]*subscription),
	}
}

// Subscribe регистрирует подписку и выполняет первое чтение синхронно
// (ошибка хранилища возвращается вызывающему), затем отдаёт снимок из
// горутины подписки. Notify, пришедший во время первого чтения, даст
// ещё одно перечитывание.
// Unsubscribe нельзя вызывать изнутри onSnapshot.
func (h *Hub) Subscribe(ctx context.Context, partition string, f Filter, onSnapshot func([]chat.Message)) (Unsubscribe, error) {
	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &subscription{
		partition:  partition,
		filter:     f,
		onSnapshot: onSnapshot,
		ctx:        subCtx,
		cancel:     cancel,
		kick:       make(chan struct{}, 1),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		cancel()
		return nil, ErrUnavailable
	}
	h.nextID++
	id := h.nextID
	if h.subs[partition] == nil {
		h.subs[partition] = make(map[uint64]*subscription)
	}
	h.subs[partition][id] = s
	h.mu.Unlock()

	remove := func() {
		h.mu.Lock()
		delete(h.subs[partition], id)
		if len(h.subs[partition]) == 0 {
			delete(h.subs, partition)
		}
		h.mu.Unlock()
		s.stop()
	}

	initial, err := h.query(ctx, partition, f)
	if err != nil {
		remove()
		return nil, err
	}

	go h.run(s, initial)

	var once sync.Once
	return func() {
		once.Do(remove)
	}, nil
}

// Notify помечает все подписки раздела как устаревшие.
// Несколько уведомлений подряд схлопываются в одно перечитывание.
func (h *Hub) Notify(partition string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.subs[partition] {
		select {
		case s.kick <- struct{}{}:
		default:
		}
	}
}

// Subscribers - число активных подписок на раздел.
func (h *Hub) Subscribers(partition string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[partition])
}

// Close останавливает все подписки.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	var all []*subscription
	for _, byID := range h.subs {
		for _, s := range byID {
			all = append(all, s)
		}
	}
	h.subs = make(map[string]map[uint64]*subscription)
	h.mu.Unlock()

	for _, s := range all {
		s.stop()
	}
}

func (h *Hub) run(s *subscription, initial []chat.Message) {
	s.deliver(initial)
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.kick:
			msgs, err := h.query(s.ctx, s.partition, s.filter)
			if err != nil {
				if s.ctx.Err() == nil {
					// следующий Notify перечитает заново
					h.log.Warn("subscription refresh failed", "partition", s.partition, "error", err)
				}
				continue
			}
			s.deliver(msgs)
		}
	}
}

func (s *subscription) deliver(msgs []chat.Message) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	if s.stopped {
		return
	}
	s.onSnapshot(msgs)
}

func (s *subscription) stop() {
	s.cancel()
	s.deliverMu.Lock()
	s.stopped = true
	s.deliverMu.Unlock()
}
