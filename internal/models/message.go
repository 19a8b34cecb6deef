package models

import "time"

// MessageType classifies chat message content.
type MessageType string

const (
	MessageText   MessageType = "text"
	MessageCode   MessageType = "code"
	MessageFile   MessageType = "file"
	MessageSystem MessageType = "system"
)

// ChatMessage is a message accepted by the fanout engine. Immutable once
// created except for Reactions, which is mutated by the idempotent reaction
// operations. Seq is the per-session sequence id used for ordering and
// late-join catch-up.
type ChatMessage struct {
	ID          string              `json:"id"`
	SessionID   string              `json:"session_id"`
	Seq         uint64              `json:"seq"`
	UserID      string              `json:"user_id"`
	DisplayName string              `json:"display_name"`
	Content     string              `json:"content"`
	Type        MessageType         `json:"type"`
	ThreadID    string              `json:"thread_id,omitempty"`
	Reactions   map[string][]string `json:"reactions,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
}

// ChatThread groups messages under a title within a session.
type ChatThread struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"session_id"`
	Title        string    `json:"title"`
	CreatedBy    string    `json:"created_by"`
	CreatedAt    time.Time `json:"created_at"`
	MessageCount int       `json:"message_count"`
	LastActivity time.Time `json:"last_activity"`
	Participants []string  `json:"participants"`
}
