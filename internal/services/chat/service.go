package chat

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	modelChat "salon_backend/internal/models/chat"
	"salon_backend/internal/store"
	"salon_backend/pkg/apperrors"
)

const sessionSweepPeriod = time.Minute

// Service раздаёт сессии участников. Сессия на пару (канал, участник)
// одна на процесс, чтобы индекс переписок переживал отдельные запросы.
type Service struct {
	store     store.MessageStore
	directory Directory
	cfg       Config
	log       *slog.Logger
	metrics   Metrics

	mu        sync.Mutex
	sessions  map[string]*cachedSession
	lastSweep time.Time
}

type cachedSession struct {
	session  *Session
	lastUsed time.Time
}

func NewService(st store.MessageStore, directory Directory, cfg Config, log *slog.Logger, metrics Metrics) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:     st,
		directory: directory,
		cfg:       cfg.withDefaults(),
		log:       log,
		metrics:   metrics,
		sessions:  make(map[string]*cachedSession),
	}
}

// Session возвращает (или создаёт) сессию участника в канале channelName.
// Сторона канала выбирается по роли участника.
func (svc *Service) Session(channelName string, viewer modelChat.Identity) (*Session, error) {
	ch, ok := modelChat.ResolveChannel(channelName, viewer.Role)
	if !ok {
		return nil, apperrors.Wrap(
			fmt.Errorf("role %q has no side in channel %q", viewer.Role, channelName),
			apperrors.CodeForbidden, "chat", "No access to this channel", http.StatusForbidden)
	}
	if ch.OwnerIsGroup && viewer.GroupID == "" {
		return nil, apperrors.ErrNoSender
	}

	// имена входят в ключ: сессия подписывает ими исходящие сообщения
	key := strings.Join([]string{
		ch.Name, string(ch.OwnerRole), viewer.ID, viewer.DisplayName, viewer.GroupID, viewer.GroupName,
	}, "|")

	now := svc.cfg.Now()
	svc.mu.Lock()
	defer svc.mu.Unlock()
	svc.sweepLocked(now)

	if cached, ok := svc.sessions[key]; ok {
		cached.lastUsed = now
		return cached.session, nil
	}
	s, err := NewSession(ch, viewer, svc.store, svc.directory, svc.cfg, svc.log, svc.metrics)
	if err != nil {
		return nil, apperrors.InternalError(err)
	}
	svc.sessions[key] = &cachedSession{session: s, lastUsed: now}
	return s, nil
}

// Sessions - число сессий в кэше.
func (svc *Service) Sessions() int {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return len(svc.sessions)
}

// sweepLocked выбрасывает сессии, к которым не обращались дольше SessionIdleTTL.
// Проход не чаще раза в минуту. Открытые websocket-соединения держат свою
// сессию сами и продолжают работать.
func (svc *Service) sweepLocked(now time.Time) {
	if now.Sub(svc.lastSweep) < sessionSweepPeriod {
		return
	}
	svc.lastSweep = now
	for key, cached := range svc.sessions {
		if now.Sub(cached.lastUsed) > svc.cfg.SessionIdleTTL {
			delete(svc.sessions, key)
		}
	}
}
