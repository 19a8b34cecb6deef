package handlers

import (
	"log"
	"time"

	"collab-backend/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// RTCWebSocketHandler serves the webrtc channel: room lifecycle, media
// updates and pairwise signaling relays.
func (h *Hub) RTCWebSocketHandler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		identity, ok := identityFromConn(conn)
		if !ok {
			_ = conn.Close()
			return
		}

		client := newClient(identity, conn, h.QueueSize)
		h.Registry.Subscribe(models.RoomKindWebRTC, client.ID, client)
		h.Presence.Connected(identity)

		go client.writePump()
		client.readLoop(func(intent models.ClientIntent) {
			h.Presence.Heartbeat(identity.UserID)
			h.handleRTCIntent(client, intent)
		})

		// Link teardown rides on the registry's leave hook; nothing more
		// to do here than removing the memberships bound to this sink.
		h.Registry.Unsubscribe(models.RoomKindWebRTC, client.ID)
		h.Registry.DisconnectSink(identity.UserID, client)
		h.Presence.Disconnected(identity.UserID)
	})
}

func (h *Hub) handleRTCIntent(client *Client, intent models.ClientIntent) {
	identity := client.Identity()

	switch intent.Event {
	case models.IntentCreateRoom:
		settings := models.RoomSettings{MaxParticipants: 4, AllowScreenShare: true}
		if intent.Settings != nil {
			settings = *intent.Settings
		}
		room, err := h.Registry.CreateRoom(models.RoomKindWebRTC, intent.SessionID, intent.Name, identity, settings)
		if err != nil {
			h.webrtcError(client, intent.RoomID, err)
			return
		}
		client.Enqueue(models.ServerEvent{
			Event:     models.EventRoomCreated,
			RoomID:    room.ID,
			Room:      &room,
			Timestamp: time.Now().UnixMilli(),
		})

	case models.IntentJoinRoom:
		state, err := h.Registry.JoinRoom(intent.RoomID, identity, client, intent.Media)
		if err != nil {
			h.webrtcError(client, intent.RoomID, err)
			return
		}
		h.Signaling.PeerJoined(intent.RoomID, identity.UserID)
		client.Enqueue(models.ServerEvent{
			Event:     models.EventRoomJoined,
			RoomID:    intent.RoomID,
			Room:      &state.Room,
			Peers:     state.Peers,
			Peer:      state.Peer,
			Timestamp: time.Now().UnixMilli(),
		})

	case models.IntentLeaveRoom:
		h.Registry.LeaveRoom(intent.RoomID, identity.UserID)

	case models.IntentUpdateRoom:
		if intent.Settings == nil {
			h.webrtcError(client, intent.RoomID, models.ErrInvalidSettings)
			return
		}
		if _, err := h.Registry.UpdateSettings(intent.RoomID, identity, *intent.Settings); err != nil {
			h.webrtcError(client, intent.RoomID, err)
		}

	case models.IntentUpdateMedia:
		if intent.Media == nil {
			return
		}
		if err := h.Registry.UpdateMedia(intent.RoomID, identity.UserID, *intent.Media); err != nil {
			h.webrtcError(client, intent.RoomID, err)
		}

	case models.IntentOffer:
		if err := h.Signaling.RelayOffer(intent.RoomID, identity.UserID, intent.TargetPeerID, intent.Offer); err != nil {
			h.webrtcError(client, intent.RoomID, err)
		}

	case models.IntentAnswer:
		if err := h.Signaling.RelayAnswer(intent.RoomID, identity.UserID, intent.TargetPeerID, intent.Answer); err != nil {
			h.webrtcError(client, intent.RoomID, err)
		}

	case models.IntentICECandidate:
		if err := h.Signaling.RelayICECandidate(intent.RoomID, identity.UserID, intent.TargetPeerID, intent.Candidate); err != nil {
			h.webrtcError(client, intent.RoomID, err)
		}

	case models.IntentLinkState:
		if err := h.Signaling.ReportLinkState(intent.RoomID, identity.UserID, intent.TargetPeerID, intent.State); err != nil {
			h.webrtcError(client, intent.RoomID, err)
		}

	default:
		log.Printf("unknown webrtc event %q from %s", intent.Event, identity.UserID)
		client.Enqueue(models.ServerEvent{
			Event:     models.EventWebRTCError,
			RoomID:    intent.RoomID,
			Error:     &models.EventError{Code: "UnknownEvent", Message: "unsupported event: " + intent.Event},
			Timestamp: time.Now().UnixMilli(),
		})
	}
}

// webrtcError reports a validation failure to the originating client only.
func (h *Hub) webrtcError(client *Client, roomID string, err error) {
	client.Enqueue(models.ServerEvent{
		Event:     models.EventWebRTCError,
		RoomID:    roomID,
		Error:     &models.EventError{Code: models.ErrorCode(err), Message: err.Error()},
		Timestamp: time.Now().UnixMilli(),
	})
}
