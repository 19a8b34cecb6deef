package handlers

import (
	"strconv"

	"collab-backend/internal/models"
	"collab-backend/internal/utils"

	"github.com/gofiber/fiber/v2"
)

// GetMessages returns a session's message history. With after_seq it is the
// reconnect catch-up query (strictly increasing seq, no gaps); without it the
// latest messages are returned oldest first.
func (h *Hub) GetMessages(c *fiber.Ctx) error {
	sessionID := c.Params("id")
	limit, _ := strconv.Atoi(c.Query("limit", "50"))

	if raw := c.Query("after_seq"); raw != "" {
		afterSeq, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid after_seq"})
		}
		messages, err := h.Store.MessagesSince(c.Context(), sessionID, afterSeq, limit)
		if err != nil {
			utils.LogError(err, "GetMessages")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch messages"})
		}
		return c.JSON(fiber.Map{"messages": messages})
	}

	messages, err := h.Store.RecentMessages(c.Context(), sessionID, limit)
	if err != nil {
		utils.LogError(err, "GetMessages")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch messages"})
	}
	return c.JSON(fiber.Map{"messages": messages})
}

// GetThreads lists a session's threads, most recently active first.
func (h *Hub) GetThreads(c *fiber.Ctx) error {
	sessionID := c.Params("id")
	limit, _ := strconv.Atoi(c.Query("limit", "50"))

	threads, err := h.Store.ThreadsOf(c.Context(), sessionID, limit)
	if err != nil {
		utils.LogError(err, "GetThreads")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch threads"})
	}
	return c.JSON(fiber.Map{"threads": threads})
}

// GetPresence returns a user's live presence record. Users this node has
// never seen are reported offline.
func (h *Hub) GetPresence(c *fiber.Ctx) error {
	userID := c.Params("user_id")
	p, ok := h.Presence.Presence(userID)
	if !ok {
		p = models.UserPresence{UserID: userID, Status: models.PresenceOffline}
	}
	return c.JSON(p)
}

// GetRoom returns a live room's metadata and current membership.
func (h *Hub) GetRoom(c *fiber.Ctx) error {
	roomID := c.Params("id")
	room, ok := h.Registry.Room(roomID)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Room not found"})
	}
	return c.JSON(fiber.Map{
		"room":    room,
		"members": h.Registry.Members(roomID),
	})
}
