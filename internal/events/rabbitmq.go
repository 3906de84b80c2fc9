package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
)

const maxDialDelay = 60 * time.Second

type ConnectionOptions struct {
	URL           string
	RetryAttempts int
	Delay         time.Duration
	Logger        *slog.Logger
}

// DialWithRetry подключается к RabbitMQ с экспоненциальной задержкой между попытками.
func DialWithRetry(ctx context.Context, cfg ConnectionOptions) (*amqp091.Connection, error) {
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	var lastErr error
	for i := 1; i <= cfg.RetryAttempts; i++ {
		conn, err := amqp091.Dial(cfg.URL)
		if err == nil {
			if i > 1 {
				cfg.Logger.Info("rabbit connected", slog.Int("attempt", i))
			}
			return conn, nil
		}
		lastErr = err

		sleep := backoff(cfg.Delay, i)
		cfg.Logger.Warn("rabbit dial failed",
			slog.Int("attempt", i),
			slog.Duration("sleep", sleep),
			slog.Any("error", err),
		)

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, errors.New("dial cancelled: " + ctx.Err().Error())
		case <-timer.C:
		}
	}

	return nil, fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", cfg.RetryAttempts, lastErr)
}

func backoff(base time.Duration, attempt int) time.Duration {
	sleep := base * time.Duration(math.Pow(2, float64(attempt-1)))
	if sleep > maxDialDelay || sleep < 0 {
		sleep = maxDialDelay
	}
	return sleep
}

type rabbitPublisher struct {
	pool     *channelPool
	exchange string
	log      *slog.Logger
}

const publishChannels = 8

// NewRabbitPublisher объявляет topic-обменник и возвращает издателя.
// Соединение остаётся за вызывающим: Close издателя закрывает только каналы.
func NewRabbitPublisher(conn *amqp091.Connection, exchange string, log *slog.Logger) (Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return nil, err
	}
	return &rabbitPublisher{pool: newChannelPool(conn, publishChannels), exchange: exchange, log: log}, nil
}

func (p *rabbitPublisher) PublishChange(ctx context.Context, c Change) error {
	body, err := c.Encode()
	if err != nil {
		return err
	}

	ch, err := p.pool.borrow()
	if err != nil {
		return err
	}
	defer p.pool.release(ch)

	return ch.PublishWithContext(
		ctx, p.exchange, c.RoutingKey(), false, false,
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    uuid.NewString(),
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
}

func (p *rabbitPublisher) Close() error {
	p.pool.close()
	return nil
}

// Subscriber слушает изменения других инстансов через эксклюзивную очередь
// и перечитывает локальные подписки затронутого раздела.
type Subscriber struct {
	conn     *amqp091.Connection
	ch       *amqp091.Channel
	exchange string
	origin   string
	notifier Notifier
	log      *slog.Logger

	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

func NewSubscriber(conn *amqp091.Connection, exchange, origin string, notifier Notifier, log *slog.Logger) (*Subscriber, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		return nil, err
	}
	return &Subscriber{
		conn:     conn,
		ch:       ch,
		exchange: exchange,
		origin:   origin,
		notifier: notifier,
		log:      log,
		done:     make(chan struct{}),
	}, nil
}

func (s *Subscriber) Start() error {
	q, err := s.ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return err
	}
	if err := s.ch.QueueBind(q.Name, "chat.#", s.exchange, false, nil); err != nil {
		return err
	}
	msgs, err := s.ch.Consume(q.Name, "", false, true, false, false, nil)
	if err != nil {
		return err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-s.done:
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				if err := s.Handle(msg.Body); err != nil {
					s.log.Warn("change dropped", slog.String("key", msg.RoutingKey), slog.Any("error", err))
					_ = msg.Nack(false, false)
					continue
				}
				_ = msg.Ack(false)
			}
		}
	}()
	s.log.Info("change subscriber started", slog.String("queue", q.Name))
	return nil
}

// Handle обрабатывает одно уведомление. Свои же изменения пропускаются:
// локальный хаб уже уведомлён при записи.
func (s *Subscriber) Handle(body []byte) error {
	c, err := DecodeChange(body)
	if err != nil {
		return err
	}
	if c.Origin == s.origin {
		return nil
	}
	s.notifier.Notify(c.Partition)
	return nil
}

func (s *Subscriber) Close() error {
	s.once.Do(func() { close(s.done) })
	s.wg.Wait()
	return s.ch.Close()
}
