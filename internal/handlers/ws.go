package handlers

import (
	"collab-backend/internal/chat"
	"collab-backend/internal/models"
	"collab-backend/internal/presence"
	"collab-backend/internal/registry"
	"collab-backend/internal/services"
	"collab-backend/internal/signaling"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// Hub bundles the realtime components behind the websocket endpoints.
type Hub struct {
	Registry  *registry.Registry
	Chat      *chat.Engine
	Signaling *signaling.Orchestrator
	Presence  *presence.Tracker
	Store     *services.ChatService
	QueueSize int
}

// WSUpgradeMiddleware upgrades the connection to WebSocket
func WSUpgradeMiddleware(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		c.Locals("allowed", true)
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// AuthMiddleware verifies the JWT token and attaches the verified identity.
// Identity only ever comes from the token; payload-supplied user ids are
// ignored everywhere downstream.
func AuthMiddleware(c *fiber.Ctx) error {
	// Get token from query param `access_token` or Authorization header
	token := c.Query("access_token")
	if token == "" {
		authHeader := c.Get("Authorization")
		if len(authHeader) > 7 && authHeader[:7] == "Bearer " {
			token = authHeader[7:]
		}
	}

	if token == "" {
		return fiber.NewError(fiber.StatusUnauthorized, "Missing token")
	}

	identity, err := services.ValidateToken(token)
	if err != nil {
		return fiber.NewError(fiber.StatusUnauthorized, "Invalid token")
	}

	c.Locals("identity", identity)
	return c.Next()
}

func identityFromConn(c *websocket.Conn) (models.Identity, bool) {
	identity, ok := c.Locals("identity").(models.Identity)
	return identity, ok
}
