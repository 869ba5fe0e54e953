package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/weiawesome/peace-chat/internal/config"
	"github.com/weiawesome/peace-chat/internal/domain"
	pkglog "github.com/weiawesome/peace-chat/pkg/log"
)

// DisconnectHandler is called once when a client's read loop ends.
type DisconnectHandler func(*Client)

// Client is one push connection and the session bound to it.
type Client struct {
	ID   string
	Hub  *Hub
	Conn *websocket.Conn
	Send chan []byte

	config            config.WebSocketConfig
	disconnectHandler DisconnectHandler

	mu      sync.Mutex
	session domain.Session
	closed  bool
}

func NewClient(id string, hub *Hub, conn *websocket.Conn, cfg config.WebSocketConfig) *Client {
	buf := cfg.SendBuffer
	if buf <= 0 {
		buf = 256
	}
	return &Client{
		ID:      id,
		Hub:     hub,
		Conn:    conn,
		Send:    make(chan []byte, buf),
		config:  cfg,
		session: domain.NewSession(id, time.Now().UnixMilli()),
	}
}

// SetDisconnectHandler sets the handler to be called on disconnect.
func (c *Client) SetDisconnectHandler(handler DisconnectHandler) {
	c.disconnectHandler = handler
}

// Session returns a copy of the client's session state.
func (c *Client) Session() domain.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Username is empty until the session has joined.
func (c *Client) Username() string {
	s := c.Session()
	if !s.Joined() {
		return ""
	}
	return s.Username
}

// Apply runs ev through the session state machine and stores the result.
func (c *Client) Apply(ev domain.SessionEvent) ([]domain.Effect, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	next, effects, err := domain.Transition(c.session, ev)
	if err != nil {
		return nil, err
	}
	c.session = next
	return effects, nil
}

// SendMessage queues message without blocking. A full or closed buffer
// drops it; the message store is the durable copy.
func (c *Client) SendMessage(message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	c.trySend(data)
	return nil
}

func (c *Client) trySend(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

// close is called by the hub loop only.
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}

func (c *Client) ReadPump(handler func(*Client, []byte)) {
	defer func() {
		if c.disconnectHandler != nil {
			c.disconnectHandler(c)
		}
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				l := pkglog.L()
				l.Debug().Err(err).Str(pkglog.FieldConnectionID, c.ID).Msg("websocket read error")
			}
			break
		}
		c.Conn.SetReadDeadline(time.Now().Add(c.config.PongWait))

		handler(c, message)
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
