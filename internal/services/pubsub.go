package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"collab-backend/internal/models"

	"github.com/redis/go-redis/v9"
)

const fanoutChannelPrefix = "chat:fanout:"

// fanoutEnvelope carries a message between nodes. Node lets each subscriber
// skip its own publications.
type fanoutEnvelope struct {
	Node    string             `json:"node"`
	Message models.ChatMessage `json:"message"`
}

// RedisBridge mirrors accepted chat messages across nodes over redis
// pub/sub and persists presence last-seen marks.
type RedisBridge struct {
	client *redis.Client
	nodeID string
}

func NewRedisBridge(client *redis.Client, nodeID string) *RedisBridge {
	return &RedisBridge{client: client, nodeID: nodeID}
}

// PublishMessage mirrors one accepted message to the session's fanout
// channel for other nodes.
func (b *RedisBridge) PublishMessage(ctx context.Context, msg models.ChatMessage) error {
	payload, err := json.Marshal(fanoutEnvelope{Node: b.nodeID, Message: msg})
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, fanoutChannelPrefix+msg.SessionID, payload).Err()
}

// Listen subscribes to every session fanout channel and hands remote
// messages to deliver. It returns when ctx is cancelled.
func (b *RedisBridge) Listen(ctx context.Context, deliver func(models.ChatMessage)) {
	pubsub := b.client.PSubscribe(ctx, fanoutChannelPrefix+"*")
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env fanoutEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				log.Printf("Error unmarshalling fanout payload: %v", err)
				continue
			}
			if env.Node == b.nodeID {
				continue
			}
			deliver(env.Message)
		}
	}
}

// SetLastSeen writes the user's last-seen mark with a TTL.
func (b *RedisBridge) SetLastSeen(ctx context.Context, userID string, at time.Time) error {
	key := fmt.Sprintf("presence:%s", userID)
	return b.client.Set(ctx, key, at.UTC().Format(time.RFC3339), 7*24*time.Hour).Err()
}
