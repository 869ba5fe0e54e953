package domain

// User is a credential record. Password holds a bcrypt hash, or plaintext
// for records written by older deployments until the next login upgrades it.
type User struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	LastCleared int64  `json:"lastCleared,omitempty"`
}

type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type ResetPasswordRequest struct {
	Username    string `json:"username"`
	NewPassword string `json:"newPassword"`
}

type DeleteAccountRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type ClearChatRequest struct {
	Username string `json:"username"`
}

type HeartbeatRequest struct {
	Username string `json:"username"`
}

type SendMessageRequest struct {
	Username    string `json:"username"`
	Text        string `json:"text"`
	ClientMsgID string `json:"clientMsgId"`
	ID          string `json:"id"`
	To          string `json:"to"`
}
