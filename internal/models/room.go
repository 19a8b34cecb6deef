package models

import "time"

// RoomKind separates the two room families. They share the same registry
// design; only the event vocabulary differs.
type RoomKind string

const (
	RoomKindChat   RoomKind = "chat"
	RoomKindWebRTC RoomKind = "webrtc"
)

// RoomSettings are per-room flags chosen by the creator.
type RoomSettings struct {
	MaxParticipants  int  `json:"max_participants"`
	AllowScreenShare bool `json:"allow_screen_share"`
	RequireApproval  bool `json:"require_approval"`
}

// DefaultChatSettings are applied to chat sessions created implicitly on
// first join.
func DefaultChatSettings() RoomSettings {
	return RoomSettings{MaxParticipants: 50, AllowScreenShare: false}
}

// Validate rejects settings a room cannot operate with.
func (s RoomSettings) Validate() error {
	if s.MaxParticipants < 1 {
		return ErrInvalidSettings
	}
	return nil
}

// Room is a named collaboration scope with bounded membership.
type Room struct {
	ID        string       `json:"id"`
	SessionID string       `json:"session_id"`
	Kind      RoomKind     `json:"kind"`
	Name      string       `json:"name"`
	CreatedBy string       `json:"created_by"`
	CreatedAt time.Time    `json:"created_at"`
	Settings  RoomSettings `json:"settings"`
}

// Member is one user's membership in a room. Always derived from the live
// registry, never persisted.
type Member struct {
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	JoinedAt    time.Time `json:"joined_at"`
}
