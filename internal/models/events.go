package models

import "github.com/pion/webrtc/v4"

// Client -> core intents, chat channel.
const (
	IntentJoinSession    = "join_session"
	IntentLeaveSession   = "leave_session"
	IntentSendMessage    = "send_message"
	IntentStartTyping    = "start_typing"
	IntentStopTyping     = "stop_typing"
	IntentAddReaction    = "add_reaction"
	IntentRemoveReaction = "remove_reaction"
	IntentCreateThread   = "create_thread"
	IntentDeleteMessage  = "delete_message"
	IntentSetStatus      = "set_status"
	IntentHeartbeat      = "heartbeat"
)

// Client -> core intents, webrtc channel.
const (
	IntentCreateRoom   = "create_room"
	IntentJoinRoom     = "join_room"
	IntentLeaveRoom    = "leave_room"
	IntentUpdateRoom   = "update_room"
	IntentUpdateMedia  = "update_media"
	IntentOffer        = "webrtc_offer"
	IntentAnswer       = "webrtc_answer"
	IntentICECandidate = "webrtc_ice_candidate"
	IntentLinkState    = "connection_state"
)

// Core -> client events, chat channel.
const (
	EventMessageReceived   = "message_received"
	EventMessageUpdated    = "message_updated"
	EventMessageDeleted    = "message_deleted"
	EventUserTyping        = "user_typing"
	EventUserStoppedTyping = "user_stopped_typing"
	EventUserJoined        = "user_joined"
	EventUserLeft          = "user_left"
	EventPresenceUpdated   = "presence_updated"
	EventThreadCreated     = "thread_created"
	EventThreadUpdated     = "thread_updated"
	EventSessionJoined     = "session_joined"
	EventChatError         = "chat-error"
)

// Core -> client events, webrtc channel.
const (
	EventRoomCreated  = "room_created"
	EventRoomJoined   = "room_joined"
	EventRoomUpdated  = "room_updated"
	EventRoomDeleted  = "room_deleted"
	EventPeerJoined   = "peer_joined"
	EventPeerLeft     = "peer_left"
	EventPeerUpdated  = "peer_updated"
	EventOffer        = "webrtc_offer"
	EventAnswer       = "webrtc_answer"
	EventICECandidate = "webrtc_ice_candidate"
	EventWebRTCError  = "webrtc-error"
)

// ClientIntent is the omnibus envelope parsed from either channel. Fields
// are populated per intent; identity never travels in the payload, it is
// attached by the transport.
type ClientIntent struct {
	Event        string                     `json:"event"`
	SessionID    string                     `json:"session_id,omitempty"`
	RoomID       string                     `json:"room_id,omitempty"`
	Name         string                     `json:"name,omitempty"`
	Settings     *RoomSettings              `json:"settings,omitempty"`
	Content      string                     `json:"content,omitempty"`
	Type         MessageType                `json:"type,omitempty"`
	ThreadID     string                     `json:"thread_id,omitempty"`
	MessageID    string                     `json:"message_id,omitempty"`
	Emoji        string                     `json:"emoji,omitempty"`
	Title        string                     `json:"title,omitempty"`
	Status       PresenceStatus             `json:"status,omitempty"`
	Media        *MediaConstraints          `json:"media,omitempty"`
	TargetPeerID string                     `json:"target_peer_id,omitempty"`
	State        LinkState                  `json:"state,omitempty"`
	Offer        *webrtc.SessionDescription `json:"offer,omitempty"`
	Answer       *webrtc.SessionDescription `json:"answer,omitempty"`
	Candidate    *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
}

// EventError is the body of chat-error / webrtc-error events.
type EventError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ServerEvent is the omnibus fanout envelope written to clients.
type ServerEvent struct {
	Event       string                     `json:"event"`
	SessionID   string                     `json:"session_id,omitempty"`
	RoomID      string                     `json:"room_id,omitempty"`
	Room        *Room                      `json:"room,omitempty"`
	Members     []Member                   `json:"members,omitempty"`
	Peers       []Peer                     `json:"peers,omitempty"`
	Peer        *Peer                      `json:"peer,omitempty"`
	Message     *ChatMessage               `json:"message,omitempty"`
	MessageID   string                     `json:"message_id,omitempty"`
	Thread      *ChatThread                `json:"thread,omitempty"`
	UserID      string                     `json:"user_id,omitempty"`
	DisplayName string                     `json:"display_name,omitempty"`
	Presence    *UserPresence              `json:"presence,omitempty"`
	From        string                     `json:"from,omitempty"`
	Offer       *webrtc.SessionDescription `json:"offer,omitempty"`
	Answer      *webrtc.SessionDescription `json:"answer,omitempty"`
	Candidate   *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
	Error       *EventError                `json:"error,omitempty"`
	Timestamp   int64                      `json:"timestamp,omitempty"`
}

// Droppable reports whether the event may be discarded when a client's
// delivery queue is full. Messages and signaling payloads are never dropped;
// ephemeral indicators go first.
func (e ServerEvent) Droppable() bool {
	switch e.Event {
	case EventUserTyping, EventUserStoppedTyping, EventPresenceUpdated:
		return true
	default:
		return false
	}
}
