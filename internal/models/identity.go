package models

// Identity is the verified identity attached to a connection by the auth
// middleware. The core never reads user ids from message payloads.
type Identity struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}
