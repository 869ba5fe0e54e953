package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Push message types from client.
const (
	MsgTypeJoin        = "join"
	MsgTypeChatMessage = "chat_message"
	MsgTypePing        = "ping"
)

// Push message types to client.
const (
	MsgTypeSystemMessage = "system_message"
	MsgTypeStatusUpdate  = "status_update"
	MsgTypeUserList      = "user_list"
	MsgTypeError         = "error"
	MsgTypePong          = "pong"
)

// Error codes
const (
	ErrCodeBadRequest    = "BAD_REQUEST"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeNotJoined     = "NOT_JOINED"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// Envelope is the frame shape for every push message in both directions.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Outbound is an envelope whose payload has not been encoded yet.
type Outbound struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// NewOutbound wraps a payload in a typed envelope.
func NewOutbound(msgType string, data interface{}) *Outbound {
	return &Outbound{Type: msgType, Data: data}
}

// Encode marshals the envelope for a client send buffer.
func (o *Outbound) Encode() ([]byte, error) {
	return json.Marshal(o)
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewErrorMessage(code, message string) *Outbound {
	return NewOutbound(MsgTypeError, &ErrorPayload{Code: code, Message: message})
}

// joinObject is the object form of a join payload.
type joinObject struct {
	Username string `json:"username"`
}

// ParseJoin accepts either a bare username string or {"username": "..."}.
func ParseJoin(data json.RawMessage) (string, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return "", fmt.Errorf("%w: join requires a username", ErrValidation)
	}

	var username string
	if data[0] == '"' {
		if err := json.Unmarshal(data, &username); err != nil {
			return "", fmt.Errorf("%w: invalid join payload", ErrValidation)
		}
	} else {
		var obj joinObject
		if err := json.Unmarshal(data, &obj); err != nil {
			return "", fmt.Errorf("%w: invalid join payload", ErrValidation)
		}
		username = obj.Username
	}

	username = strings.TrimSpace(username)
	if username == "" {
		return "", fmt.Errorf("%w: join requires a username", ErrValidation)
	}
	return username, nil
}

// ChatPayload is the object form of an inbound chat_message.
type ChatPayload struct {
	ID   string `json:"id"`
	Text string `json:"text"`
	To   string `json:"to"`
}

// ParseChat normalizes an inbound chat_message payload. A bare string is
// treated as message text with no id and no recipient.
func ParseChat(data json.RawMessage) (ChatPayload, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return ChatPayload{}, fmt.Errorf("%w: empty chat_message", ErrValidation)
	}

	var p ChatPayload
	if data[0] == '"' {
		if err := json.Unmarshal(data, &p.Text); err != nil {
			return ChatPayload{}, fmt.Errorf("%w: invalid chat_message", ErrValidation)
		}
		return p, nil
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return ChatPayload{}, fmt.Errorf("%w: invalid chat_message", ErrValidation)
	}
	return p, nil
}
