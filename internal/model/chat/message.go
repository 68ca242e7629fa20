package chat

import "time"

// Roles understood by the completion API.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single conversation turn. Messages are append-only.
type Message struct {
	ID        string    `json:"id" firestore:"id"`
	Role      string    `json:"role" firestore:"role"`
	Content   string    `json:"content" firestore:"content"`
	CreatedAt time.Time `json:"timestamp" firestore:"timestamp"`
}
