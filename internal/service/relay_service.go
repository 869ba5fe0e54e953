package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/weiawesome/peace-chat/internal/audit"
	"github.com/weiawesome/peace-chat/internal/credential"
	"github.com/weiawesome/peace-chat/internal/delivery"
	"github.com/weiawesome/peace-chat/internal/domain"
	"github.com/weiawesome/peace-chat/internal/events"
	"github.com/weiawesome/peace-chat/internal/hub"
	"github.com/weiawesome/peace-chat/internal/presence"
	"github.com/weiawesome/peace-chat/internal/store"
	pkglog "github.com/weiawesome/peace-chat/pkg/log"
)

type RelayConfig struct {
	Name              string
	RequireRegistered bool
}

type relayService struct {
	cfg     RelayConfig
	hub     *hub.Hub
	router  *delivery.Router
	store   store.MessageStore
	tracker *presence.Tracker
	creds   credential.Store
	events  events.Publisher
	now     func() time.Time
	sf      singleflight.Group

	// watermarks for names the credential store does not know
	mu         sync.Mutex
	watermarks map[string]int64
}

func NewRelayService(
	cfg RelayConfig,
	h *hub.Hub,
	router *delivery.Router,
	msgStore store.MessageStore,
	tracker *presence.Tracker,
	creds credential.Store,
	publisher events.Publisher,
	now func() time.Time,
) RelayService {
	if cfg.Name == "" {
		cfg.Name = "PEACE CHAT"
	}
	if publisher == nil {
		publisher = events.Noop{}
	}
	if now == nil {
		now = time.Now
	}
	return &relayService{
		cfg:        cfg,
		hub:        h,
		router:     router,
		store:      msgStore,
		tracker:    tracker,
		creds:      creds,
		events:     publisher,
		now:        now,
		watermarks: make(map[string]int64),
	}
}

// resolve maps a caller-supplied username to its registered casing.
// Unregistered names pass through unless registration is required.
func (s *relayService) resolve(ctx context.Context, username string) (string, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return "", fmt.Errorf("%w: username is required", domain.ErrValidation)
	}

	user, err := s.creds.FindByUsername(ctx, username)
	switch {
	case err == nil:
		return user.Username, nil
	case errors.Is(err, credential.ErrUserNotFound):
		if s.cfg.RequireRegistered {
			return "", ErrUnknownUser
		}
		return username, nil
	default:
		if s.cfg.RequireRegistered {
			return "", err
		}
		l := pkglog.Ctx(ctx)
		l.Warn().Err(err).Str(pkglog.FieldUsername, username).Msg("credential lookup failed, using name as given")
		return username, nil
	}
}

// touch records a liveness signal and announces an offline to online flip.
func (s *relayService) touch(ctx context.Context, username string) domain.Presence {
	p, cameOnline := s.tracker.Touch(username)
	if cameOnline {
		s.broadcast(ctx, domain.NewOutbound(domain.MsgTypeStatusUpdate, p), hub.All())
	}
	return p
}

func (s *relayService) broadcast(ctx context.Context, msg *domain.Outbound, filter hub.Filter) {
	if err := s.hub.Broadcast(msg, filter); err != nil {
		l := pkglog.Ctx(ctx)
		l.Error().Err(err).Str(pkglog.FieldEvent, msg.Type).Msg("failed to encode push message")
	}
}

func (s *relayService) registeredUsernames(ctx context.Context) []string {
	v, err, _ := s.sf.Do("registered", func() (interface{}, error) {
		users, err := s.creds.List(ctx)
		if err != nil {
			return nil, err
		}
		names := make([]string, 0, len(users))
		for _, u := range users {
			names = append(names, u.Username)
		}
		return names, nil
	})
	if err != nil {
		l := pkglog.Ctx(ctx)
		l.Warn().Err(err).Msg("failed to list registered users")
		return nil
	}
	return v.([]string)
}

func (s *relayService) watermark(ctx context.Context, username string) int64 {
	s.mu.Lock()
	local := s.watermarks[strings.ToLower(username)]
	s.mu.Unlock()

	user, err := s.creds.FindByUsername(ctx, username)
	if err != nil {
		return local
	}
	if user.LastCleared > local {
		return user.LastCleared
	}
	return local
}

func (s *relayService) HandleJoin(ctx context.Context, c *hub.Client, username string) error {
	name, err := s.resolve(ctx, username)
	if err != nil {
		s.sendError(ctx, c, err)
		return err
	}

	effects, err := c.Apply(domain.JoinEvent(name))
	if err != nil {
		s.sendError(ctx, c, err)
		return err
	}

	ctx = pkglog.WithFields(ctx, pkglog.FieldUsername, name)
	for _, e := range effects {
		switch e.Kind {
		case domain.EffectLeft:
			s.release(ctx, e.Username)
		case domain.EffectJoined:
			s.joined(ctx, c, e.Username)
		case domain.EffectRejoined:
			s.touch(ctx, e.Username)
			s.sendUserList(ctx, c)
		}
	}
	return nil
}

func (s *relayService) joined(ctx context.Context, c *hub.Client, username string) {
	p, _ := s.tracker.Touch(username)

	s.broadcast(ctx, domain.NewOutbound(domain.MsgTypeStatusUpdate, p), hub.All())
	s.sendUserList(ctx, c)
	s.broadcast(ctx, domain.NewOutbound(domain.MsgTypeSystemMessage,
		fmt.Sprintf("%s has joined the chat", username)), hub.Except(hub.All(), c.ID))
	s.broadcast(ctx, domain.NewOutbound(domain.MsgTypeSystemMessage,
		fmt.Sprintf("Welcome to %s, %s!", s.cfg.Name, username)), hub.Only(c.ID))

	s.events.Publish(ctx, events.TypeUserJoined, username, p)
	audit.Log(ctx, audit.ActionJoin, username, "user joined")
}

func (s *relayService) sendUserList(ctx context.Context, c *hub.Client) {
	s.broadcast(ctx, domain.NewOutbound(domain.MsgTypeUserList, s.Users(ctx)), hub.Only(c.ID))
}

// release announces a departure once the user's last push session is gone.
// Presence is left to expire on its own.
func (s *relayService) release(ctx context.Context, username string) {
	if s.hub.SessionCount(username) > 0 {
		return
	}
	s.broadcast(ctx, domain.NewOutbound(domain.MsgTypeSystemMessage,
		fmt.Sprintf("%s has left the chat", username)), hub.All())

	s.events.Publish(ctx, events.TypeUserLeft, username, s.tracker.Get(username))
	audit.Log(ctx, audit.ActionLeave, username, "user left")
}

func (s *relayService) HandleChatMessage(ctx context.Context, c *hub.Client, payload domain.ChatPayload) error {
	username := c.Username()
	if username == "" {
		c.SendMessage(domain.NewErrorMessage(domain.ErrCodeNotJoined, "Join before sending messages"))
		return domain.ErrNotJoined
	}

	_, err := s.submit(ctx, domain.InboundMessage{
		ID:     payload.ID,
		Sender: username,
		Text:   payload.Text,
		To:     payload.To,
	})
	if err != nil {
		s.sendError(ctx, c, err)
	}
	return err
}

func (s *relayService) HandlePing(ctx context.Context, c *hub.Client) error {
	if username := c.Username(); username != "" {
		s.touch(ctx, username)
	}
	return c.SendMessage(domain.NewOutbound(domain.MsgTypePong, nil))
}

func (s *relayService) HandleDisconnect(ctx context.Context, c *hub.Client) {
	effects, err := c.Apply(domain.DisconnectEvent())
	if err != nil {
		l := pkglog.Ctx(ctx)
		l.Warn().Err(err).Str(pkglog.FieldConnectionID, c.ID).Msg("disconnect transition failed")
		return
	}
	for _, e := range effects {
		if e.Kind == domain.EffectLeft {
			s.release(pkglog.WithFields(ctx, pkglog.FieldUsername, e.Username), e.Username)
		}
	}
}

func (s *relayService) submit(ctx context.Context, in domain.InboundMessage) (domain.Message, error) {
	s.touch(ctx, in.Sender)

	msg, duplicate, err := s.router.Submit(ctx, in)
	if err != nil {
		return domain.Message{}, err
	}
	if duplicate {
		l := pkglog.Ctx(ctx)
		l.Debug().Str(pkglog.FieldMessageID, msg.ID).Msg("duplicate message ignored")
		return msg, nil
	}
	audit.LogWithDetail(ctx, audit.ActionSendMessage, msg.User, msg.ID, "message sent")
	return msg, nil
}

func (s *relayService) SendMessage(ctx context.Context, in domain.InboundMessage) (domain.Message, error) {
	in = in.Normalize()
	if err := in.Validate(); err != nil {
		return domain.Message{}, err
	}
	name, err := s.resolve(ctx, in.Sender)
	if err != nil {
		return domain.Message{}, err
	}
	in.Sender = name
	return s.submit(ctx, in)
}

func (s *relayService) Messages(ctx context.Context, username, counterpart string) ([]domain.Message, error) {
	name, err := s.resolve(ctx, username)
	if err != nil {
		return nil, err
	}
	s.touch(ctx, name)

	return s.store.Query(store.Query{
		Viewer:        name,
		Counterpart:   strings.TrimSpace(counterpart),
		ClearedBefore: s.watermark(ctx, name),
	}), nil
}

func (s *relayService) Heartbeat(ctx context.Context, username string) (domain.Presence, error) {
	name, err := s.resolve(ctx, username)
	if err != nil {
		return domain.Presence{}, err
	}
	return s.touch(ctx, name), nil
}

func (s *relayService) Users(ctx context.Context) []domain.Presence {
	return s.tracker.Snapshot(s.registeredUsernames(ctx)...)
}

func (s *relayService) ClearChat(ctx context.Context, username string) (int64, error) {
	name, err := s.resolve(ctx, username)
	if err != nil {
		return 0, err
	}

	at := s.now().UnixMilli()
	stored, err := s.creds.SetLastCleared(ctx, name, at)
	if errors.Is(err, credential.ErrUserNotFound) {
		stored = s.raiseLocal(name, at)
	} else if err != nil {
		return 0, err
	}

	s.events.Publish(ctx, events.TypeChatCleared, name, map[string]int64{"clearedAt": stored})
	audit.Log(ctx, audit.ActionClearChat, name, "chat cleared")
	return stored, nil
}

func (s *relayService) raiseLocal(username string, at int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := strings.ToLower(username)
	if s.watermarks[k] < at {
		s.watermarks[k] = at
	}
	return s.watermarks[k]
}

func (s *relayService) sendError(ctx context.Context, c *hub.Client, err error) {
	code, message := domain.ErrCodeInternalError, "Internal error"
	switch {
	case errors.Is(err, domain.ErrValidation):
		code, message = domain.ErrCodeBadRequest, err.Error()
	case errors.Is(err, ErrUnknownUser):
		code, message = domain.ErrCodeUnauthorized, "Unknown user"
	default:
		l := pkglog.Ctx(ctx)
		l.Error().Err(err).Str(pkglog.FieldConnectionID, c.ID).Msg("push request failed")
	}
	c.SendMessage(domain.NewErrorMessage(code, message))
}
