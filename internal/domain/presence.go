package domain

const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Presence is the read-time view of a user's liveness. It is the payload of
// status_update and the element type of user_list.
type Presence struct {
	Username    string `json:"username"`
	Status      string `json:"status"`
	LastSeen    int64  `json:"lastSeen,omitempty"`
	OnlineSince int64  `json:"onlineSince,omitempty"`
}

func (p Presence) Online() bool {
	return p.Status == StatusOnline
}
