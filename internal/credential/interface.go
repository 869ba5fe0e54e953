package credential

import (
	"context"
	"errors"
	"strings"

	"github.com/weiawesome/peace-chat/internal/domain"
)

var (
	ErrUserNotFound   = errors.New("user not found")
	ErrUsernameExists = errors.New("username already taken")
)

// Store holds username/password records and each user's clear watermark.
// Username lookups are case-insensitive; the stored casing is canonical.
type Store interface {
	FindByUsername(ctx context.Context, username string) (*domain.User, error)
	Create(ctx context.Context, user *domain.User) error
	UpdatePassword(ctx context.Context, username, password string) error
	// SetLastCleared raises the watermark to at and returns the stored value,
	// which is never lower than before.
	SetLastCleared(ctx context.Context, username string, at int64) (int64, error)
	Delete(ctx context.Context, username string) error
	List(ctx context.Context) ([]domain.User, error)
	Close() error
}

func normalize(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}
