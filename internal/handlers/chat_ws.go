package handlers

import (
	"context"
	"log"
	"time"

	"collab-backend/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// ChatWebSocketHandler serves the chat channel: session membership, message
// fanout, reactions, threads, typing and presence intents.
func (h *Hub) ChatWebSocketHandler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		identity, ok := identityFromConn(conn)
		if !ok {
			_ = conn.Close()
			return
		}

		client := newClient(identity, conn, h.QueueSize)
		h.Registry.Subscribe(models.RoomKindChat, client.ID, client)
		h.Presence.Connected(identity)

		go client.writePump()
		client.readLoop(func(intent models.ClientIntent) {
			h.Presence.Heartbeat(identity.UserID)
			h.handleChatIntent(client, intent)
		})

		// Transport disconnect is an implicit leave of every room this
		// connection joined, handled synchronously before presence goes
		// offline.
		h.Registry.Unsubscribe(models.RoomKindChat, client.ID)
		for _, room := range h.Registry.DisconnectSink(identity.UserID, client) {
			if room.Kind == models.RoomKindChat {
				h.Chat.ClearTyping(room.SessionID, identity)
			}
		}
		h.Presence.Disconnected(identity.UserID)
	})
}

func (h *Hub) handleChatIntent(client *Client, intent models.ClientIntent) {
	identity := client.Identity()

	switch intent.Event {
	case models.IntentJoinSession:
		if intent.SessionID == "" {
			h.chatError(client, intent.SessionID, models.ErrRoomNotFound)
			return
		}
		h.Registry.EnsureSession(intent.SessionID, identity)
		state, err := h.Registry.JoinRoom(intent.SessionID, identity, client, nil)
		if err != nil {
			h.chatError(client, intent.SessionID, err)
			return
		}
		h.Presence.SetCurrentSession(identity.UserID, intent.SessionID)
		client.Enqueue(models.ServerEvent{
			Event:     models.EventSessionJoined,
			SessionID: intent.SessionID,
			Room:      &state.Room,
			Members:   state.Members,
			Timestamp: time.Now().UnixMilli(),
		})

	case models.IntentLeaveSession:
		h.Chat.ClearTyping(intent.SessionID, identity)
		h.Registry.LeaveRoom(intent.SessionID, identity.UserID)
		h.Presence.SetCurrentSession(identity.UserID, "")

	case models.IntentSendMessage:
		_, err := h.Chat.SendMessage(context.Background(), intent.SessionID, identity, intent.Content, intent.Type, intent.ThreadID)
		if err != nil {
			h.chatError(client, intent.SessionID, err)
		}

	case models.IntentStartTyping:
		if err := h.Chat.StartTyping(intent.SessionID, identity); err != nil {
			h.chatError(client, intent.SessionID, err)
		}

	case models.IntentStopTyping:
		if err := h.Chat.StopTyping(intent.SessionID, identity); err != nil {
			h.chatError(client, intent.SessionID, err)
		}

	case models.IntentAddReaction:
		if _, err := h.Chat.AddReaction(intent.MessageID, identity, intent.Emoji); err != nil {
			h.chatError(client, intent.SessionID, err)
		}

	case models.IntentRemoveReaction:
		if _, err := h.Chat.RemoveReaction(intent.MessageID, identity, intent.Emoji); err != nil {
			h.chatError(client, intent.SessionID, err)
		}

	case models.IntentCreateThread:
		if _, err := h.Chat.CreateThread(context.Background(), intent.SessionID, identity, intent.Title, intent.MessageID); err != nil {
			h.chatError(client, intent.SessionID, err)
		}

	case models.IntentDeleteMessage:
		if err := h.Chat.DeleteMessage(intent.MessageID, identity); err != nil {
			h.chatError(client, intent.SessionID, err)
		}

	case models.IntentSetStatus:
		h.Presence.SetStatus(identity, intent.Status)

	case models.IntentHeartbeat:
		// Heartbeat already applied before dispatch.

	default:
		log.Printf("unknown chat event %q from %s", intent.Event, identity.UserID)
		client.Enqueue(models.ServerEvent{
			Event:     models.EventChatError,
			SessionID: intent.SessionID,
			Error:     &models.EventError{Code: "UnknownEvent", Message: "unsupported event: " + intent.Event},
			Timestamp: time.Now().UnixMilli(),
		})
	}
}

// chatError reports a validation failure to the originating client only.
func (h *Hub) chatError(client *Client, sessionID string, err error) {
	client.Enqueue(models.ServerEvent{
		Event:     models.EventChatError,
		SessionID: sessionID,
		Error:     &models.EventError{Code: models.ErrorCode(err), Message: err.Error()},
		Timestamp: time.Now().UnixMilli(),
	})
}
