package domain

import (
	"fmt"
	"strings"
)

// Message is a stored chat message. Once stored it is never mutated.
// An empty To means broadcast.
type Message struct {
	ID        string `json:"id"`
	User      string `json:"user"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
	To        string `json:"to,omitempty"`
}

func (m *Message) IsBroadcast() bool {
	return m.To == ""
}

// Involves reports whether username sent or is the recipient of m.
func (m *Message) Involves(username string) bool {
	return strings.EqualFold(m.User, username) ||
		(m.To != "" && strings.EqualFold(m.To, username))
}

// Between reports whether m is a directed message between a and b in
// either direction.
func (m *Message) Between(a, b string) bool {
	if m.To == "" {
		return false
	}
	return (strings.EqualFold(m.User, a) && strings.EqualFold(m.To, b)) ||
		(strings.EqualFold(m.User, b) && strings.EqualFold(m.To, a))
}

// InboundMessage is a submission from either delivery path, normalized at
// the transport boundary.
type InboundMessage struct {
	ID     string
	Sender string
	Text   string
	To     string
}

// Normalize trims whitespace around the identity fields. Text is kept as is.
func (m InboundMessage) Normalize() InboundMessage {
	m.ID = strings.TrimSpace(m.ID)
	m.Sender = strings.TrimSpace(m.Sender)
	m.To = strings.TrimSpace(m.To)
	return m
}

func (m InboundMessage) Validate() error {
	if m.Sender == "" {
		return fmt.Errorf("%w: username is required", ErrValidation)
	}
	if strings.TrimSpace(m.Text) == "" {
		return fmt.Errorf("%w: text is required", ErrValidation)
	}
	return nil
}
