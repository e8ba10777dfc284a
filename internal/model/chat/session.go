package chat

import "time"

// Session describes a live binding between one user and one running workflow engine.
type Session struct {
	ID        string      `json:"id"`
	User      UserProfile `json:"user"`
	PersonaID string      `json:"personaId"`
	CreatedAt time.Time   `json:"createdAt"`
}
