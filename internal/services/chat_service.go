package services

import (
	"context"
	"time"

	"collab-backend/internal/db"
	"collab-backend/internal/models"
)

// ChatService is the message-store collaborator: it persists accepted
// messages and threads so reconnecting clients can catch up by sequence id.
// The live core owns reaction state; rows here are the immutable record.
type ChatService struct{}

func NewChatService() *ChatService {
	return &ChatService{}
}

func (s *ChatService) SaveMessage(ctx context.Context, msg *models.ChatMessage) error {
	query := `INSERT INTO messages (id, session_id, seq, user_id, display_name, content, type, thread_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9)`
	_, err := db.Pool.Exec(ctx, query,
		msg.ID, msg.SessionID, msg.Seq, msg.UserID, msg.DisplayName,
		msg.Content, string(msg.Type), msg.ThreadID, msg.CreatedAt)
	return err
}

func (s *ChatService) SaveThread(ctx context.Context, thread *models.ChatThread) error {
	query := `INSERT INTO threads (id, session_id, title, created_by, created_at, message_count, last_activity)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET message_count = EXCLUDED.message_count, last_activity = EXCLUDED.last_activity`
	_, err := db.Pool.Exec(ctx, query,
		thread.ID, thread.SessionID, thread.Title, thread.CreatedBy,
		thread.CreatedAt, thread.MessageCount, thread.LastActivity)
	return err
}

func (s *ChatService) TouchThread(ctx context.Context, threadID string, at time.Time) error {
	query := `UPDATE threads SET message_count = message_count + 1, last_activity = $2 WHERE id = $1`
	_, err := db.Pool.Exec(ctx, query, threadID, at)
	return err
}

// LastSeq returns the highest persisted sequence id for a session, zero when
// the session has no rows yet.
func (s *ChatService) LastSeq(ctx context.Context, sessionID string) (uint64, error) {
	var seq uint64
	query := `SELECT COALESCE(MAX(seq), 0) FROM messages WHERE session_id = $1`
	err := db.Pool.QueryRow(ctx, query, sessionID).Scan(&seq)
	return seq, err
}

// MessagesSince returns messages of a session with seq greater than
// afterSeq, oldest first. This is the reconnect catch-up query.
func (s *ChatService) MessagesSince(ctx context.Context, sessionID string, afterSeq uint64, limit int) ([]models.ChatMessage, error) {
	if limit <= 0 || limit > 200 {
		limit = 100
	}
	query := `SELECT id, session_id, seq, user_id, display_name, content, type, COALESCE(thread_id, ''), created_at
		FROM messages WHERE session_id = $1 AND seq > $2 ORDER BY seq ASC LIMIT $3`
	rows, err := db.Pool.Query(ctx, query, sessionID, afterSeq, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.ChatMessage
	for rows.Next() {
		var msg models.ChatMessage
		var msgType string
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Seq, &msg.UserID, &msg.DisplayName,
			&msg.Content, &msgType, &msg.ThreadID, &msg.CreatedAt); err != nil {
			return nil, err
		}
		msg.Type = models.MessageType(msgType)
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// RecentMessages returns the latest messages of a session, oldest first.
func (s *ChatService) RecentMessages(ctx context.Context, sessionID string, limit int) ([]models.ChatMessage, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := `SELECT id, session_id, seq, user_id, display_name, content, type, COALESCE(thread_id, ''), created_at
		FROM messages WHERE session_id = $1 ORDER BY seq DESC LIMIT $2`
	rows, err := db.Pool.Query(ctx, query, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.ChatMessage
	for rows.Next() {
		var msg models.ChatMessage
		var msgType string
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Seq, &msg.UserID, &msg.DisplayName,
			&msg.Content, &msgType, &msg.ThreadID, &msg.CreatedAt); err != nil {
			return nil, err
		}
		msg.Type = models.MessageType(msgType)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to show oldest first
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// ThreadsOf lists the threads of a session, most recently active first.
func (s *ChatService) ThreadsOf(ctx context.Context, sessionID string, limit int) ([]models.ChatThread, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := `SELECT id, session_id, title, created_by, created_at, message_count, last_activity
		FROM threads WHERE session_id = $1 ORDER BY last_activity DESC LIMIT $2`
	rows, err := db.Pool.Query(ctx, query, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var threads []models.ChatThread
	for rows.Next() {
		var t models.ChatThread
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Title, &t.CreatedBy,
			&t.CreatedAt, &t.MessageCount, &t.LastActivity); err != nil {
			return nil, err
		}
		threads = append(threads, t)
	}
	return threads, rows.Err()
}
