package models

import "errors"

// Validation and membership errors returned to the originating client as
// chat-error / webrtc-error events. They are never broadcast and never fatal
// to a room.
var (
	ErrNotAMember            = errors.New("not a member of this session")
	ErrRoomNotFound          = errors.New("room not found")
	ErrRoomFull              = errors.New("room is full")
	ErrForbidden             = errors.New("only the room creator may do this")
	ErrPeerNotInRoom         = errors.New("target peer is not in the room")
	ErrMessageNotFound       = errors.New("message not found")
	ErrInvalidSettings       = errors.New("invalid room settings")
	ErrTransportDisconnected = errors.New("transport disconnected")
)

// ErrorCode maps a domain error to the wire-level code carried in error
// events. Unknown errors map to "Internal".
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrNotAMember):
		return "NotAMember"
	case errors.Is(err, ErrRoomNotFound):
		return "RoomNotFound"
	case errors.Is(err, ErrRoomFull):
		return "RoomFull"
	case errors.Is(err, ErrForbidden):
		return "Forbidden"
	case errors.Is(err, ErrPeerNotInRoom):
		return "PeerNotInRoom"
	case errors.Is(err, ErrMessageNotFound):
		return "MessageNotFound"
	case errors.Is(err, ErrInvalidSettings):
		return "InvalidSettings"
	case errors.Is(err, ErrTransportDisconnected):
		return "TransportDisconnected"
	default:
		return "Internal"
	}
}
