package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/weiawesome/peace-chat/internal/credential"
	"github.com/weiawesome/peace-chat/internal/domain"
	"github.com/weiawesome/peace-chat/internal/service"
	"github.com/weiawesome/peace-chat/pkg/log"
	"github.com/weiawesome/peace-chat/pkg/response"
)

// APIVersion is reported by the health endpoint.
const APIVersion = "1.1"

// HTTPHandler serves the poll gateway and account endpoints under /api.
type HTTPHandler struct {
	relay    service.RelayService
	accounts service.AccountService
	now      func() time.Time
}

func NewHTTPHandler(relay service.RelayService, accounts service.AccountService) *HTTPHandler {
	return &HTTPHandler{
		relay:    relay,
		accounts: accounts,
		now:      time.Now,
	}
}

// loginResponse keeps username at the top level where browser clients read it.
type loginResponse struct {
	response.Response
	Username string `json:"username"`
}

type clearChatResponse struct {
	response.Response
	ClearedAt int64 `json:"clearedAt"`
}

// RegisterRoutes registers all routes.
func (h *HTTPHandler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api")
	{
		api.GET("/health", h.Health)

		api.POST("/register", h.Register)
		api.POST("/login", h.Login)
		api.POST("/reset-password", h.ResetPassword)
		api.POST("/delete-account", h.DeleteAccount)

		api.GET("/messages", h.GetMessages)
		api.POST("/messages", h.PostMessage)
		api.POST("/heartbeat", h.Heartbeat)
		api.GET("/users", h.GetUsers)
		api.POST("/clear-chat", h.ClearChat)
	}

	r.NoRoute(func(c *gin.Context) {
		response.NotFound(c, "API route not found")
	})
}

// Health reports liveness with the API version.
func (h *HTTPHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"v":         APIVersion,
		"timestamp": h.now().UTC().Format(time.RFC3339Nano),
	})
}

// Register handles account creation.
func (h *HTTPHandler) Register(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)
	var req domain.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		l.Warn().Err(err).Msg("invalid register request")
		response.BadRequest(c, "Username and password required")
		return
	}
	c.Set(log.FieldUsername, req.Username)

	if _, err := h.accounts.Register(ctx, &req); err != nil {
		switch {
		case errors.Is(err, domain.ErrValidation):
			response.BadRequest(c, "Username and password required")
		case errors.Is(err, credential.ErrUsernameExists):
			response.Conflict(c, "Username already taken")
		default:
			l.Error().Err(err).Msg("register failed")
			response.InternalError(c, "Registration failed")
		}
		return
	}

	response.Created(c, "Registration successful", nil)
}

// Login checks credentials and returns the canonical username.
func (h *HTTPHandler) Login(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)
	var req domain.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		l.Warn().Err(err).Msg("invalid login request")
		response.BadRequest(c, "Username and password required")
		return
	}
	c.Set(log.FieldUsername, req.Username)

	username, err := h.accounts.Login(ctx, &req)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			response.Unauthorized(c, "Invalid credentials")
			return
		}
		l.Error().Err(err).Msg("login failed")
		response.InternalError(c, "Login failed")
		return
	}

	c.JSON(http.StatusOK, loginResponse{
		Response: response.Response{Success: true, Message: "Login successful"},
		Username: username,
	})
}

// ResetPassword replaces the password of an existing account.
func (h *HTTPHandler) ResetPassword(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)
	var req domain.ResetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Username and new password required")
		return
	}
	c.Set(log.FieldUsername, req.Username)

	if err := h.accounts.ResetPassword(ctx, &req); err != nil {
		switch {
		case errors.Is(err, domain.ErrValidation):
			response.BadRequest(c, "Username and new password required")
		case errors.Is(err, credential.ErrUserNotFound):
			response.NotFound(c, "User not found")
		default:
			l.Error().Err(err).Msg("reset password failed")
			response.InternalError(c, "Password reset failed")
		}
		return
	}

	response.OK(c, "Password updated", nil)
}

// DeleteAccount removes an account after re-checking its password.
func (h *HTTPHandler) DeleteAccount(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)
	var req domain.DeleteAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Username and password required")
		return
	}
	c.Set(log.FieldUsername, req.Username)

	if err := h.accounts.DeleteAccount(ctx, &req); err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			response.Unauthorized(c, "Invalid credentials")
			return
		}
		l.Error().Err(err).Msg("delete account failed")
		response.InternalError(c, "Failed to delete account")
		return
	}

	response.OK(c, "Account deleted", nil)
}

// GetMessages returns the caller's visible history as a bare array.
func (h *HTTPHandler) GetMessages(c *gin.Context) {
	ctx := c.Request.Context()
	username := c.Query("username")
	c.Set(log.FieldUsername, username)

	msgs, err := h.relay.Messages(ctx, username, c.Query("targetUser"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, msgs)
}

// PostMessage submits a message through the same router as the push path.
func (h *HTTPHandler) PostMessage(c *gin.Context) {
	ctx := c.Request.Context()
	var req domain.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Username and text required")
		return
	}
	c.Set(log.FieldUsername, req.Username)

	id := req.ClientMsgID
	if id == "" {
		id = req.ID
	}
	msg, err := h.relay.SendMessage(ctx, domain.InboundMessage{
		ID:     id,
		Sender: req.Username,
		Text:   req.Text,
		To:     req.To,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

// Heartbeat marks the caller online.
func (h *HTTPHandler) Heartbeat(c *gin.Context) {
	ctx := c.Request.Context()
	var req domain.HeartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Username required")
		return
	}
	c.Set(log.FieldUsername, req.Username)

	p, err := h.relay.Heartbeat(ctx, req.Username)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, p)
}

// GetUsers returns the presence snapshot as a bare array.
func (h *HTTPHandler) GetUsers(c *gin.Context) {
	c.JSON(http.StatusOK, h.relay.Users(c.Request.Context()))
}

// ClearChat hides everything up to now from the caller's own history.
func (h *HTTPHandler) ClearChat(c *gin.Context) {
	ctx := c.Request.Context()
	var req domain.ClearChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Username required")
		return
	}
	c.Set(log.FieldUsername, req.Username)

	at, err := h.relay.ClearChat(ctx, req.Username)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, clearChatResponse{
		Response:  response.Response{Success: true, Message: "Chat cleared"},
		ClearedAt: at,
	})
}

func (h *HTTPHandler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		response.BadRequest(c, err.Error())
	case errors.Is(err, service.ErrUnknownUser):
		response.Unauthorized(c, "Unknown user")
	default:
		l := log.Ctx(c.Request.Context())
		l.Error().Err(err).Msg("request failed")
		response.InternalError(c, "Internal server error")
	}
}
