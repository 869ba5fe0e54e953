package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/weiawesome/peace-chat/internal/domain"
	"github.com/weiawesome/peace-chat/internal/hub"
	"github.com/weiawesome/peace-chat/internal/service"
	"github.com/weiawesome/peace-chat/pkg/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type WSHandler struct {
	hub     *hub.Hub
	service service.RelayService
}

func NewWSHandler(h *hub.Hub, svc service.RelayService) *WSHandler {
	return &WSHandler{
		hub:     h,
		service: svc,
	}
}

func (h *WSHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	l := log.Ctx(r.Context())
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := hub.NewClient(uuid.New().String(), h.hub, conn, h.hub.Config())
	client.SetDisconnectHandler(func(c *hub.Client) {
		h.service.HandleDisconnect(h.clientContext(c), c)
	})

	h.hub.Register(client)
	l.Debug().Str(log.FieldConnectionID, client.ID).Msg("websocket connected")

	go client.WritePump()
	go client.ReadPump(h.handleMessage)
}

// clientContext carries a logger tagged with the connection and, once
// joined, the username.
func (h *WSHandler) clientContext(c *hub.Client) context.Context {
	ctx := log.WithFields(context.Background(), log.FieldConnectionID, c.ID)
	if name := c.Username(); name != "" {
		ctx = log.WithFields(ctx, log.FieldUsername, name)
	}
	return ctx
}

func (h *WSHandler) handleMessage(client *hub.Client, message []byte) {
	var env domain.Envelope
	if err := json.Unmarshal(message, &env); err != nil {
		client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "Invalid message format"))
		return
	}

	ctx := h.clientContext(client)
	l := log.Ctx(ctx)

	switch env.Type {
	case domain.MsgTypeJoin:
		username, err := domain.ParseJoin(env.Data)
		if err != nil {
			client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, err.Error()))
			return
		}
		if err := h.service.HandleJoin(ctx, client, username); err != nil {
			l.Debug().Err(err).Msg("join failed")
		}

	case domain.MsgTypeChatMessage:
		payload, err := domain.ParseChat(env.Data)
		if err != nil {
			client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, err.Error()))
			return
		}
		if err := h.service.HandleChatMessage(ctx, client, payload); err != nil {
			l.Debug().Err(err).Msg("chat message failed")
		}

	case domain.MsgTypePing:
		h.service.HandlePing(ctx, client)

	default:
		client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "Unknown message type"))
	}
}

// RegisterRoutes mounts the push endpoint on the top-level router.
func (h *WSHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/socket", h.HandleWebSocket)
}
