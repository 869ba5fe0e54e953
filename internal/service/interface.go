package service

import (
	"context"

	"github.com/weiawesome/peace-chat/internal/domain"
	"github.com/weiawesome/peace-chat/internal/hub"
)

// RelayService drives sessions, presence and messages for both delivery
// paths. The Handle* methods serve the push path; the rest serve polling.
type RelayService interface {
	HandleJoin(ctx context.Context, client *hub.Client, username string) error
	HandleChatMessage(ctx context.Context, client *hub.Client, payload domain.ChatPayload) error
	HandlePing(ctx context.Context, client *hub.Client) error
	HandleDisconnect(ctx context.Context, client *hub.Client)

	SendMessage(ctx context.Context, in domain.InboundMessage) (domain.Message, error)
	Messages(ctx context.Context, username, counterpart string) ([]domain.Message, error)
	Heartbeat(ctx context.Context, username string) (domain.Presence, error)
	Users(ctx context.Context) []domain.Presence
	ClearChat(ctx context.Context, username string) (int64, error)
}

// AccountService fronts the credential store.
type AccountService interface {
	Register(ctx context.Context, req *domain.RegisterRequest) (string, error)
	Login(ctx context.Context, req *domain.LoginRequest) (string, error)
	ResetPassword(ctx context.Context, req *domain.ResetPasswordRequest) error
	DeleteAccount(ctx context.Context, req *domain.DeleteAccountRequest) error
}
