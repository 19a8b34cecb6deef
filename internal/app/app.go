package app

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"collab-backend/internal/chat"
	"collab-backend/internal/db"
	"collab-backend/internal/handlers"
	"collab-backend/internal/models"
	"collab-backend/internal/presence"
	"collab-backend/internal/registry"
	"collab-backend/internal/services"
	"collab-backend/internal/signaling"
	"collab-backend/internal/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func Run() {
	// Load Env
	if err := utils.LoadEnv(); err != nil {
		log.Println("Warning: .env file not found")
	}

	// Init DB
	connString := utils.GetEnv("DATABASE_URL", "")
	if connString == "" {
		// Fallback to individual vars
		connString = "postgres://" + utils.GetEnv("POSTGRES_USER", "postgres") + ":" +
			utils.GetEnv("POSTGRES_PASSWORD", "postgres") + "@" +
			utils.GetEnv("POSTGRES_HOST", "localhost") + ":" +
			utils.GetEnv("POSTGRES_PORT", "5432") + "/" +
			utils.GetEnv("POSTGRES_DB", "collabdb") + "?sslmode=disable"
	}

	if err := db.InitDB(connString); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.CloseDB()

	// Optional redis bridge for cross-node fanout and last-seen persistence
	var bridge *services.RedisBridge
	if addr := utils.GetEnv("REDIS_ADDR", ""); addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: utils.GetEnv("REDIS_PASSWORD", ""),
			DB:       utils.GetEnvInt("REDIS_DB", 0),
		})
		if err := client.Ping(context.Background()).Err(); err != nil {
			log.Fatalf("Failed to connect to redis: %v", err)
		}
		defer client.Close()
		bridge = services.NewRedisBridge(client, uuid.New().String())
		log.Println("Connected to Redis")
	}

	// Core
	reg := registry.New(utils.GetEnvDuration("ROOM_GRACE_PERIOD", 30*time.Second))
	chatService := services.NewChatService()

	var pub chat.Publisher
	if bridge != nil {
		pub = bridge
	}
	chatEngine := chat.NewEngine(reg, chatService, pub, utils.GetEnvDuration("TYPING_DEBOUNCE", time.Second))
	orchestrator := signaling.New(reg)

	var lastSeen presence.LastSeenStore
	if bridge != nil {
		lastSeen = bridge
	}
	tracker := presence.NewTracker(reg, lastSeen, utils.GetEnvDuration("AWAY_WINDOW", 60*time.Second))

	reg.SetLeaveHook(func(room models.Room, userID string) {
		if room.Kind == models.RoomKindWebRTC {
			orchestrator.PeerLeft(room.ID, userID)
		}
	})
	reg.SetDeleteHook(func(room models.Room) {
		if room.Kind == models.RoomKindChat {
			chatEngine.EndSession(room.SessionID)
		}
	})

	if bridge != nil {
		listenCtx, stopListen := context.WithCancel(context.Background())
		defer stopListen()
		go bridge.Listen(listenCtx, chatEngine.DeliverRemote)
	}

	hub := &handlers.Hub{
		Registry:  reg,
		Chat:      chatEngine,
		Signaling: orchestrator,
		Presence:  tracker,
		Store:     chatService,
		QueueSize: utils.GetEnvInt("CLIENT_QUEUE_SIZE", 64),
	}

	// Fiber App
	app := fiber.New()

	// Middleware
	app.Use(logger.New())
	app.Use(recover.New())
	app.Use(cors.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// Routes
	api := app.Group("/api", handlers.AuthMiddleware)
	api.Get("/sessions/:id/messages", hub.GetMessages)
	api.Get("/sessions/:id/threads", hub.GetThreads)
	api.Get("/rooms/:id", hub.GetRoom)
	api.Get("/presence/:user_id", hub.GetPresence)

	// WebSocket routes
	app.Use("/ws", handlers.WSUpgradeMiddleware, handlers.AuthMiddleware)
	app.Get("/ws/chat", hub.ChatWebSocketHandler())
	app.Get("/ws/rtc", hub.RTCWebSocketHandler())

	// Graceful shutdown
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Println("Shutting down...")
		_ = app.Shutdown()
	}()

	port := utils.GetEnv("PORT", "8080")
	if err := app.Listen(":" + port); err != nil {
		log.Fatalf("Server stopped: %v", err)
	}
}
