package models

import "time"

// PresenceStatus is a user's coarse availability, independent of any room.
type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceAway    PresenceStatus = "away"
	PresenceBusy    PresenceStatus = "busy"
	PresenceOffline PresenceStatus = "offline"
)

// UserPresence is the globally visible presence record, one per user.
type UserPresence struct {
	UserID         string         `json:"user_id"`
	DisplayName    string         `json:"display_name"`
	Status         PresenceStatus `json:"status"`
	LastSeen       time.Time      `json:"last_seen"`
	CurrentSession string         `json:"current_session,omitempty"`
}
