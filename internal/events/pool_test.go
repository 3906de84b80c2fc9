package events

import (
	"context"
	"sync"
	"testing"

	"github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChannel struct {
	mu        sync.Mutex
	closed    bool
	published []string
}

func (f *fakeChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, _ amqp091.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, key)
	return nil
}

func (f *fakeChannel) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

type channelOpener struct {
	opened []*fakeChannel
}

func (o *channelOpener) open() (publishChannel, error) {
	ch := &fakeChannel{}
	o.opened = append(o.opened, ch)
	return ch, nil
}

func TestRabbitPublisher_ReusesPooledChannel(t *testing.T) {
	opener := &channelOpener{}
	p := &rabbitPublisher{pool: newChannelPoolFunc(opener.open, 2), exchange: "salon.chat"}
	ctx := context.Background()

	require.NoError(t, p.PublishChange(ctx, Change{Partition: "a", Op: OpCreate}))
	require.NoError(t, p.PublishChange(ctx, Change{Partition: "b", Op: OpPatch}))
	require.Len(t, opener.opened, 1)
	assert.Len(t, opener.opened[0].published, 2)

	// мёртвый канал из пула не используется
	_ = opener.opened[0].Close()
	require.NoError(t, p.PublishChange(ctx, Change{Partition: "c", Op: OpDelete}))
	assert.Len(t, opener.opened, 2)
}

func TestRabbitPublisher_CloseClosesOnlyChannels(t *testing.T) {
	opener := &channelOpener{}
	p := &rabbitPublisher{pool: newChannelPoolFunc(opener.open, 2), exchange: "salon.chat"}
	ctx := context.Background()

	require.NoError(t, p.PublishChange(ctx, Change{Partition: "a", Op: OpCreate}))
	require.NoError(t, p.Close())
	require.NoError(t, p.Close(), "повторное закрытие без ошибки")
	assert.True(t, opener.opened[0].IsClosed())

	err := p.PublishChange(ctx, Change{Partition: "a", Op: OpCreate})
	assert.ErrorIs(t, err, errPoolClosed)
}
