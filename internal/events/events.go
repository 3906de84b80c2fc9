package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

type Op string

const (
	OpCreate Op = "create"
	OpPatch  Op = "patch"
	OpDelete Op = "delete"
)

// Change - уведомление о записи в раздел. Содержимое сообщения не передаётся:
// получатель просто перечитывает свои подписки.
type Change struct {
	Partition  string    `json:"partition"`
	GroupID    string    `json:"group_id,omitempty"`
	MessageID  string    `json:"message_id"`
	Op         Op        `json:"op"`
	Origin     string    `json:"origin"`
	OccurredAt time.Time `json:"occurred_at"`
}

// RoutingKey - ключ topic-обменника: chat.<partition>.<op>
func (c Change) RoutingKey() string {
	return fmt.Sprintf("chat.%s.%s", c.Partition, c.Op)
}

func (c Change) Encode() ([]byte, error) {
	return json.Marshal(c)
}

func DecodeChange(body []byte) (Change, error) {
	var c Change
	if err := json.Unmarshal(body, &c); err != nil {
		return Change{}, fmt.Errorf("decode change: %w", err)
	}
	if strings.TrimSpace(c.Partition) == "" {
		return Change{}, fmt.Errorf("decode change: empty partition")
	}
	return c, nil
}

type Publisher interface {
	PublishChange(ctx context.Context, c Change) error
	Close() error
}

// Notifier - то, что умеет перечитать подписки раздела (store.Hub и хранилища).
type Notifier interface {
	Notify(partition string)
}

// NoopPublisher используется, когда AMQP не настроен (один инстанс).
type NoopPublisher struct {
	log *slog.Logger
}

func NewNoopPublisher(log *slog.Logger) *NoopPublisher {
	if log == nil {
		log = slog.Default()
	}
	return &NoopPublisher{log: log}
}

func (p *NoopPublisher) PublishChange(ctx context.Context, c Change) error {
	p.log.Debug("change not broadcast: amqp disabled", slog.String("key", c.RoutingKey()))
	return nil
}

func (p *NoopPublisher) Close() error {
	return nil
}
