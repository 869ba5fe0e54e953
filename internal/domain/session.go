package domain

import (
	"fmt"
	"strings"
)

type SessionState int

const (
	StateConnected SessionState = iota
	StateJoined
	StateDisconnected
)

func (s SessionState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateJoined:
		return "joined"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Session is one live push connection. Username is empty until join.
type Session struct {
	ConnectionID string
	Username     string
	ConnectedAt  int64
	State        SessionState
}

func NewSession(connectionID string, connectedAt int64) Session {
	return Session{
		ConnectionID: connectionID,
		ConnectedAt:  connectedAt,
		State:        StateConnected,
	}
}

func (s Session) Joined() bool {
	return s.State == StateJoined
}

type SessionEventKind int

const (
	EventJoin SessionEventKind = iota
	EventDisconnect
)

// SessionEvent drives Transition. Username is only read for EventJoin.
type SessionEvent struct {
	Kind     SessionEventKind
	Username string
}

func JoinEvent(username string) SessionEvent {
	return SessionEvent{Kind: EventJoin, Username: username}
}

func DisconnectEvent() SessionEvent {
	return SessionEvent{Kind: EventDisconnect}
}

type EffectKind int

const (
	// EffectJoined: a username became bound to the session.
	EffectJoined EffectKind = iota
	// EffectRejoined: join repeated with the same username.
	EffectRejoined
	// EffectLeft: a username was released by the session.
	EffectLeft
)

type Effect struct {
	Kind     EffectKind
	Username string
}

// Transition is the per-session state machine:
//
//	Connected --join(u)--> Joined(u)
//	Joined(u) --join(v)--> Joined(v)   (reassign; u is released)
//	any       --disconnect--> Disconnected
//
// It has no side effects of its own; callers apply the returned effects.
func Transition(s Session, ev SessionEvent) (Session, []Effect, error) {
	switch ev.Kind {
	case EventJoin:
		if s.State == StateDisconnected {
			return s, nil, ErrSessionClosed
		}
		username := strings.TrimSpace(ev.Username)
		if username == "" {
			return s, nil, fmt.Errorf("%w: join requires a username", ErrValidation)
		}

		next := s
		next.State = StateJoined
		next.Username = username

		if s.State == StateJoined {
			if strings.EqualFold(s.Username, username) {
				return next, []Effect{{Kind: EffectRejoined, Username: username}}, nil
			}
			return next, []Effect{
				{Kind: EffectLeft, Username: s.Username},
				{Kind: EffectJoined, Username: username},
			}, nil
		}
		return next, []Effect{{Kind: EffectJoined, Username: username}}, nil

	case EventDisconnect:
		if s.State == StateDisconnected {
			return s, nil, nil
		}
		next := s
		next.State = StateDisconnected
		if s.State == StateJoined {
			return next, []Effect{{Kind: EffectLeft, Username: s.Username}}, nil
		}
		return next, nil, nil

	default:
		return s, nil, fmt.Errorf("unknown session event %d", ev.Kind)
	}
}
