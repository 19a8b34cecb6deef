package models

import "time"

// MediaConstraints describe which media a peer intends to publish.
type MediaConstraints struct {
	Audio  bool `json:"audio"`
	Video  bool `json:"video"`
	Screen bool `json:"screen"`
}

// Peer is the room-scoped media-negotiation endpoint of one joined user.
// At most one Peer exists per (room, user) pair.
type Peer struct {
	ID          string           `json:"id"`
	UserID      string           `json:"user_id"`
	DisplayName string           `json:"display_name"`
	Media       MediaConstraints `json:"media"`
	JoinedAt    time.Time        `json:"joined_at"`
}

// LinkState is the negotiation state of one pairwise peer link. There is no
// rollback transition; a failed or closed link is re-created to retry.
type LinkState string

const (
	LinkNew            LinkState = "new"
	LinkOfferSent      LinkState = "offer-sent"
	LinkAnswerReceived LinkState = "answer-received"
	LinkConnected      LinkState = "connected"
	LinkFailed         LinkState = "failed"
	LinkClosed         LinkState = "closed"
)

// Terminal reports whether the state permits no further transitions other
// than re-creation.
func (s LinkState) Terminal() bool {
	return s == LinkConnected || s == LinkFailed || s == LinkClosed
}

// Initiator returns the peer that produces the offer for a pair. The
// lexicographically greater user id initiates, which is deterministic and
// needs no coordination round-trip.
func Initiator(userA, userB string) string {
	if userA > userB {
		return userA
	}
	return userB
}
