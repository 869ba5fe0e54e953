package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/weiawesome/peace-chat/internal/audit"
	"github.com/weiawesome/peace-chat/internal/credential"
	"github.com/weiawesome/peace-chat/internal/domain"
	"github.com/weiawesome/peace-chat/internal/presence"
	"github.com/weiawesome/peace-chat/pkg/log"
)

// accountServiceImpl implements AccountService.
type accountServiceImpl struct {
	creds   credential.Store
	tracker *presence.Tracker
	cost    int
}

// NewAccountService creates a new account service. tracker may be nil.
func NewAccountService(creds credential.Store, tracker *presence.Tracker) AccountService {
	return &accountServiceImpl{
		creds:   creds,
		tracker: tracker,
		cost:    bcrypt.DefaultCost,
	}
}

func isHashed(password string) bool {
	return strings.HasPrefix(password, "$2a$") ||
		strings.HasPrefix(password, "$2b$") ||
		strings.HasPrefix(password, "$2y$")
}

// verify checks password against the stored record. Records from the old
// plaintext users.json are compared directly and rehashed on success.
func (s *accountServiceImpl) verify(ctx context.Context, user *domain.User, password string) bool {
	if isHashed(user.Password) {
		return bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)) == nil
	}
	if subtle.ConstantTimeCompare([]byte(user.Password), []byte(password)) != 1 {
		return false
	}

	if hashed, err := bcrypt.GenerateFromPassword([]byte(password), s.cost); err == nil {
		if err := s.creds.UpdatePassword(ctx, user.Username, string(hashed)); err != nil {
			l := log.Ctx(ctx)
			l.Warn().Err(err).Str(log.FieldUsername, user.Username).Msg("failed to upgrade plaintext password")
		}
	}
	return true
}

// Register registers a new user and returns the stored username.
func (s *accountServiceImpl) Register(ctx context.Context, req *domain.RegisterRequest) (string, error) {
	l := log.Ctx(ctx)

	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		return "", fmt.Errorf("%w: username and password required", domain.ErrValidation)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		l.Error().Err(err).Msg("failed to hash password")
		return "", err
	}

	if err := s.creds.Create(ctx, &domain.User{Username: username, Password: string(hashed)}); err != nil {
		if !errors.Is(err, credential.ErrUsernameExists) {
			l.Error().Err(err).Msg("failed to create user")
		}
		return "", err
	}

	audit.Log(ctx, audit.ActionRegister, username, "user registered")
	return username, nil
}

// Login authenticates a user and returns the canonical username.
func (s *accountServiceImpl) Login(ctx context.Context, req *domain.LoginRequest) (string, error) {
	l := log.Ctx(ctx)

	user, err := s.creds.FindByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, credential.ErrUserNotFound) {
			audit.LogWithDetail(ctx, audit.ActionLoginFailed, req.Username, "user not found", "login failed")
			return "", ErrInvalidCredentials
		}
		l.Error().Err(err).Msg("failed to get user")
		return "", err
	}

	if !s.verify(ctx, user, req.Password) {
		audit.LogWithDetail(ctx, audit.ActionLoginFailed, user.Username, "wrong password", "login failed")
		return "", ErrInvalidCredentials
	}

	audit.Log(ctx, audit.ActionLogin, user.Username, "user logged in")
	return user.Username, nil
}

// ResetPassword replaces a user's password.
func (s *accountServiceImpl) ResetPassword(ctx context.Context, req *domain.ResetPasswordRequest) error {
	if strings.TrimSpace(req.Username) == "" || req.NewPassword == "" {
		return fmt.Errorf("%w: username and new password required", domain.ErrValidation)
	}

	user, err := s.creds.FindByUsername(ctx, req.Username)
	if err != nil {
		return err
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), s.cost)
	if err != nil {
		return err
	}
	if err := s.creds.UpdatePassword(ctx, user.Username, string(hashed)); err != nil {
		return err
	}

	audit.Log(ctx, audit.ActionResetPassword, user.Username, "password reset")
	return nil
}

// DeleteAccount removes a user after checking the password. Stored messages
// are kept.
func (s *accountServiceImpl) DeleteAccount(ctx context.Context, req *domain.DeleteAccountRequest) error {
	user, err := s.creds.FindByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, credential.ErrUserNotFound) {
			return ErrInvalidCredentials
		}
		return err
	}
	if !s.verify(ctx, user, req.Password) {
		return ErrInvalidCredentials
	}

	if err := s.creds.Delete(ctx, user.Username); err != nil {
		return err
	}
	if s.tracker != nil {
		s.tracker.Forget(user.Username)
	}

	audit.Log(ctx, audit.ActionDeleteAccount, user.Username, "account deleted")
	return nil
}
