package events

import (
	"context"
	"errors"
	"sync"

	"github.com/rabbitmq/amqp091-go"
)

var errPoolClosed = errors.New("amqp channel pool closed")

// publishChannel - часть *amqp091.Channel, нужная издателю.
type publishChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	IsClosed() bool
	Close() error
}

// channelPool держит до capacity простаивающих каналов. Соединением пул
// не владеет и не закрывает его.
type channelPool struct {
	open func() (publishChannel, error)
	idle chan publishChannel

	mu     sync.Mutex
	closed bool
}

func newChannelPool(conn *amqp091.Connection, capacity int) *channelPool {
	return newChannelPoolFunc(func() (publishChannel, error) {
		ch, err := conn.Channel()
		if err != nil {
			return nil, err
		}
		return ch, nil
	}, capacity)
}

func newChannelPoolFunc(open func() (publishChannel, error), capacity int) *channelPool {
	if capacity <= 0 {
		capacity = 8
	}
	return &channelPool{open: open, idle: make(chan publishChannel, capacity)}
}

func (p *channelPool) borrow() (publishChannel, error) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, errPoolClosed
		}
		p.mu.Unlock()

		select {
		case ch := <-p.idle:
			if ch.IsClosed() {
				continue
			}
			return ch, nil
		default:
			return p.open()
		}
	}
}

// release возвращает канал в пул; закрытые и лишние каналы выбрасываются.
func (p *channelPool) release(ch publishChannel) {
	if ch == nil || ch.IsClosed() {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		_ = safeClose(ch)
		return
	}
	select {
	case p.idle <- ch:
	default:
		_ = safeClose(ch)
	}
}

func (p *channelPool) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	for {
		select {
		case ch := <-p.idle:
			_ = safeClose(ch)
		default:
			return
		}
	}
}

// safeClose закрывает канал, переживая панику amqp на уже мёртвом соединении.
func safeClose(ch publishChannel) (err error) {
	defer func() { _ = recover() }()
	return ch.Close()
}
