package chat

import (
	"fmt"
	"time"
)

// UserProfile identifies a registered user. ID is assigned by the history store.
type UserProfile struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Age       int       `json:"age"`
	Problem   string    `json:"problem"`
	CreatedAt time.Time `json:"createdAt"`
}

// Summary renders the profile for prompts.
func (p UserProfile) Summary() string {
	return fmt.Sprintf("name=%s, age=%d, presenting problem=%s", p.Name, p.Age, p.Problem)
}
