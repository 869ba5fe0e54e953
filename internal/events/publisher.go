package events

import (
	"context"
	"sync"
	"time"

	pkglog "github.com/weiawesome/peace-chat/pkg/log"
	"github.com/weiawesome/peace-chat/pkg/pubsub"
)

// Activity event types.
const (
	TypeMessageStored = "message.stored"
	TypeUserJoined    = "user.joined"
	TypeUserLeft      = "user.left"
	TypeChatCleared   = "chat.cleared"
)

// AllTypes lists every event type, for topic provisioning.
var AllTypes = []string{TypeMessageStored, TypeUserJoined, TypeUserLeft, TypeChatCleared}

// Publisher emits relay activity. Publish never blocks the caller.
type Publisher interface {
	Publish(ctx context.Context, eventType, key string, payload interface{})
	Close() error
}

// Noop discards everything.
type Noop struct{}

func (Noop) Publish(context.Context, string, string, interface{}) {}

func (Noop) Close() error { return nil }

const publishTimeout = 5 * time.Second

// AsyncPublisher queues events on a bounded buffer drained by one goroutine.
// Events that do not fit are dropped.
type AsyncPublisher struct {
	bus   pubsub.Publisher
	queue chan *pubsub.Event
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewAsyncPublisher(bus pubsub.Publisher, queueSize int) *AsyncPublisher {
	if queueSize <= 0 {
		queueSize = 1024
	}
	p := &AsyncPublisher{
		bus:   bus,
		queue: make(chan *pubsub.Event, queueSize),
		done:  make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *AsyncPublisher) Publish(ctx context.Context, eventType, key string, payload interface{}) {
	l := pkglog.Ctx(ctx)

	event, err := pubsub.NewEvent(eventType, key, payload)
	if err != nil {
		l.Warn().Err(err).Str(pkglog.FieldEvent, eventType).Msg("failed to encode activity event")
		return
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}

	select {
	case p.queue <- event:
	default:
		l.Debug().Str(pkglog.FieldEvent, eventType).Msg("activity queue full, dropping event")
	}
}

func (p *AsyncPublisher) run() {
	defer close(p.done)
	l := pkglog.L()

	for event := range p.queue {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		if err := p.bus.Publish(ctx, event); err != nil {
			l.Warn().Err(err).Str(pkglog.FieldEvent, event.Type).Msg("failed to publish activity event")
		}
		cancel()
	}
}

// Close drains queued events and closes the underlying bus.
func (p *AsyncPublisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	<-p.done
	return p.bus.Close()
}

// New builds the publisher for cfg.Driver; "none" or empty yields Noop.
func New(cfg pubsub.Config, queueSize int) (Publisher, error) {
	if cfg.Driver == "" || cfg.Driver == "none" {
		return Noop{}, nil
	}
	bus, err := pubsub.NewPublisher(cfg)
	if err != nil {
		return nil, err
	}
	if kp, ok := bus.(*pubsub.KafkaPublisher); ok {
		if err := kp.EnsureTopics(context.Background(), AllTypes...); err != nil {
			l := pkglog.L()
			l.Warn().Err(err).Msg("failed to ensure kafka topics")
		}
	}
	return NewAsyncPublisher(bus, queueSize), nil
}
