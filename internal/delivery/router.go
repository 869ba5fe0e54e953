package delivery

import (
	"context"
	"sync"
	"time"

	"github.com/weiawesome/peace-chat/internal/domain"
	"github.com/weiawesome/peace-chat/internal/events"
	"github.com/weiawesome/peace-chat/internal/hub"
	"github.com/weiawesome/peace-chat/internal/idgen"
	"github.com/weiawesome/peace-chat/internal/store"
	pkglog "github.com/weiawesome/peace-chat/pkg/log"
)

// Fanout pushes encoded frames to live sessions. *hub.Hub implements it.
type Fanout interface {
	Deliver(data []byte, filter hub.Filter)
}

// Router is the single entry point for new messages from both delivery
// paths. Dedupe, timestamping, storing and fan-out happen under one lock,
// so a message id is stored once and pushed at most once, and pushes leave
// in store order.
type Router struct {
	mu     sync.Mutex
	store  store.MessageStore
	fanout Fanout
	ids    idgen.Generator
	events events.Publisher
	now    func() time.Time
	last   int64
}

type Option func(*Router)

func WithClock(now func() time.Time) Option {
	return func(r *Router) { r.now = now }
}

func WithEvents(p events.Publisher) Option {
	return func(r *Router) { r.events = p }
}

func NewRouter(s store.MessageStore, fanout Fanout, ids idgen.Generator, opts ...Option) *Router {
	r := &Router{
		store:  s,
		fanout: fanout,
		ids:    ids,
		events: events.Noop{},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Submit accepts a message from either path. A message whose id is already
// stored is returned as is with duplicate=true and nothing is pushed.
// Recipients need not exist or be connected.
func (r *Router) Submit(ctx context.Context, in domain.InboundMessage) (msg domain.Message, duplicate bool, err error) {
	in = in.Normalize()
	if err := in.Validate(); err != nil {
		return domain.Message{}, false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if in.ID != "" {
		if existing, ok := r.store.Get(in.ID); ok {
			return existing, true, nil
		}
	}

	id := in.ID
	if id == "" {
		if id, err = r.ids.Generate(); err != nil {
			return domain.Message{}, false, err
		}
	}

	ts := r.now().UnixMilli()
	if ts < r.last {
		ts = r.last
	}

	stored, inserted := r.store.Append(domain.Message{
		ID:        id,
		User:      in.Sender,
		Text:      in.Text,
		Timestamp: ts,
		To:        in.To,
	})
	if !inserted {
		return stored, true, nil
	}
	r.last = ts

	data, err := domain.NewOutbound(domain.MsgTypeChatMessage, stored).Encode()
	if err != nil {
		return stored, false, err
	}
	r.fanout.Deliver(data, recipients(stored))

	r.events.Publish(ctx, events.TypeMessageStored, stored.User, stored)

	l := pkglog.Ctx(ctx)
	l.Debug().
		Str(pkglog.FieldMessageID, stored.ID).
		Str(pkglog.FieldUsername, stored.User).
		Str(pkglog.FieldRecipient, stored.To).
		Msg("message stored")

	return stored, false, nil
}

// recipients is every session for a broadcast, and the sessions of both
// parties for a directed message.
func recipients(msg domain.Message) hub.Filter {
	if msg.IsBroadcast() {
		return hub.All()
	}
	return hub.Joined(msg.User, msg.To)
}
