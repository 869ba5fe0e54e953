package hub

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/weiawesome/peace-chat/internal/config"
	pkglog "github.com/weiawesome/peace-chat/pkg/log"
)

// Filter selects the clients a delivery goes to.
type Filter func(*Client) bool

// All matches every connected client, joined or not.
func All() Filter {
	return func(*Client) bool { return true }
}

// Joined matches clients whose session has joined as any of usernames.
func Joined(usernames ...string) Filter {
	return func(c *Client) bool {
		name := c.Username()
		if name == "" {
			return false
		}
		for _, u := range usernames {
			if strings.EqualFold(name, u) {
				return true
			}
		}
		return false
	}
}

// Only matches the single client with the given id.
func Only(clientID string) Filter {
	return func(c *Client) bool { return c.ID == clientID }
}

// Except wraps f to skip the client with the given id.
func Except(f Filter, clientID string) Filter {
	return func(c *Client) bool {
		return c.ID != clientID && f(c)
	}
}

type delivery struct {
	data   []byte
	filter Filter
}

// Hub is the registry of live push sessions. All fan-out goes through the
// Run loop, so deliveries reach each client in the order they were queued.
type Hub struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	broadcast  chan *delivery
	quit       chan struct{}
	done       chan struct{}
	stopOnce   sync.Once
	mu         sync.RWMutex
	config     config.WebSocketConfig
}

func NewHub(cfg config.WebSocketConfig) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *delivery, 256),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		config:     cfg,
	}
}

func (h *Hub) Config() config.WebSocketConfig {
	return h.config
}

func (h *Hub) Run() {
	defer close(h.done)
	l := pkglog.L()

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			h.mu.Unlock()
			l.Debug().Str(pkglog.FieldConnectionID, client.ID).Msg("client registered")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.ID]; ok {
				delete(h.clients, client.ID)
				client.close()
			}
			h.mu.Unlock()
			l.Debug().Str(pkglog.FieldConnectionID, client.ID).Msg("client unregistered")

		case d := <-h.broadcast:
			h.mu.RLock()
			for _, client := range h.clients {
				if !d.filter(client) {
					continue
				}
				if !client.trySend(d.data) {
					l.Debug().Str(pkglog.FieldConnectionID, client.ID).Msg("send buffer full, dropping client")
					go h.removeClient(client)
				}
			}
			h.mu.RUnlock()

		case <-h.quit:
			h.mu.Lock()
			for id, client := range h.clients {
				client.close()
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Stop closes every client and ends Run.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.quit) })
	<-h.done
}

func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.quit:
		client.close()
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.quit:
	}
}

// Deliver queues data for every client matching filter.
func (h *Hub) Deliver(data []byte, filter Filter) {
	select {
	case h.broadcast <- &delivery{data: data, filter: filter}:
	case <-h.quit:
	}
}

// Broadcast marshals message and queues it for every client matching filter.
func (h *Hub) Broadcast(message interface{}, filter Filter) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	h.Deliver(data, filter)
	return nil
}

// SessionCount returns the number of joined sessions owned by username.
func (h *Hub) SessionCount(username string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for _, c := range h.clients {
		if name := c.Username(); name != "" && strings.EqualFold(name, username) {
			n++
		}
	}
	return n
}

// ClientCount returns the number of registered connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) removeClient(client *Client) {
	h.Unregister(client)
}
