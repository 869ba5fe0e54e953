package events

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/peace-chat/pkg/pubsub"
)

type recordingBus struct {
	mu     sync.Mutex
	events []*pubsub.Event
	block  chan struct{}
	fail   bool
	closed bool
}

func (b *recordingBus) Publish(_ context.Context, e *pubsub.Event) error {
	if b.block != nil {
		<-b.block
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
	if b.fail {
		return errors.New("bus down")
	}
	return nil
}

func (b *recordingBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func TestAsyncPublisher_DeliversInOrder(t *testing.T) {
	bus := &recordingBus{}
	p := NewAsyncPublisher(bus, 16)

	p.Publish(context.Background(), TypeUserJoined, "alice", map[string]string{"username": "alice"})
	p.Publish(context.Background(), TypeMessageStored, "alice", map[string]string{"id": "m1"})
	require.NoError(t, p.Close())

	require.Len(t, bus.events, 2)
	assert.Equal(t, TypeUserJoined, bus.events[0].Type)
	assert.Equal(t, "alice", bus.events[0].Key)
	assert.Equal(t, TypeMessageStored, bus.events[1].Type)

	var payload map[string]string
	require.NoError(t, bus.events[1].UnmarshalPayload(&payload))
	assert.Equal(t, "m1", payload["id"])
	assert.True(t, bus.closed)
}

func TestAsyncPublisher_DropsWhenFull(t *testing.T) {
	bus := &recordingBus{block: make(chan struct{})}
	p := NewAsyncPublisher(bus, 1)

	for i := 0; i < 10; i++ {
		p.Publish(context.Background(), TypeMessageStored, "alice", i)
	}
	close(bus.block)
	require.NoError(t, p.Close())

	assert.LessOrEqual(t, len(bus.events), 2, "at most one in flight plus one queued")
	assert.NotEmpty(t, bus.events)
}

func TestAsyncPublisher_PublishAfterClose(t *testing.T) {
	bus := &recordingBus{fail: true}
	p := NewAsyncPublisher(bus, 4)
	p.Publish(context.Background(), TypeChatCleared, "bob", nil)
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	p.Publish(context.Background(), TypeChatCleared, "bob", nil)
	assert.Len(t, bus.events, 1)
}

func TestNew_NoneDriver(t *testing.T) {
	p, err := New(pubsub.Config{Driver: "none"}, 0)
	require.NoError(t, err)
	assert.IsType(t, Noop{}, p)
	p.Publish(context.Background(), TypeUserLeft, "x", nil)
	assert.NoError(t, p.Close())

	_, err = New(pubsub.Config{Driver: "carrier-pigeon"}, 0)
	assert.Error(t, err)
}
