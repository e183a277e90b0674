package chat

import "time"

// Session captures one authenticated SSH connection's conversation.
type Session struct {
	ID         string    `json:"id"`
	Username   string    `json:"username"`
	PersonaID  string    `json:"personaId"`
	RemoteAddr string    `json:"remoteAddr,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}
