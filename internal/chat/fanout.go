// Package chat accepts message, reaction, typing and thread intents from
// room members and broadcasts a consistent view to the whole session.
package chat

import (
	"context"
	"sync"
	"time"

	"collab-backend/internal/models"
	"collab-backend/internal/registry"
	"collab-backend/internal/utils"

	"github.com/google/uuid"
)

// liveWindow bounds the per-session in-memory message index used for
// reaction toggles and deletes. History beyond it belongs to the store.
const liveWindow = 1024

// Store is the external message-store collaborator. The engine hands it
// every accepted message and thread; retention and deletion are its concern.
// LastSeq is the highest persisted sequence id for a session, which anchors
// the counter when a reaped session is recreated.
type Store interface {
	SaveMessage(ctx context.Context, msg *models.ChatMessage) error
	SaveThread(ctx context.Context, thread *models.ChatThread) error
	TouchThread(ctx context.Context, threadID string, at time.Time) error
	LastSeq(ctx context.Context, sessionID string) (uint64, error)
}

// Publisher mirrors accepted messages to other nodes. Nil disables
// cross-node fanout.
type Publisher interface {
	PublishMessage(ctx context.Context, msg models.ChatMessage) error
}

// session is the lock-guarded owner of one chat session's fanout state. The
// sequence counter and broadcast happen under the same lock, which is what
// makes delivery order match sequence order.
type session struct {
	mu      sync.Mutex
	id      string
	seq     uint64
	seeded  bool
	live    map[string]*models.ChatMessage
	order   []string
	threads map[string]*models.ChatThread
	typing  map[string]*time.Timer
}

// Engine is the chat fanout engine.
type Engine struct {
	reg   *registry.Registry
	store Store
	pub   Publisher

	typingDebounce time.Duration

	mu       sync.RWMutex
	sessions map[string]*session
	msgIndex map[string]string // message id -> session id
}

func NewEngine(reg *registry.Registry, store Store, pub Publisher, typingDebounce time.Duration) *Engine {
	if typingDebounce <= 0 {
		typingDebounce = time.Second
	}
	return &Engine{
		reg:            reg,
		store:          store,
		pub:            pub,
		typingDebounce: typingDebounce,
		sessions:       make(map[string]*session),
		msgIndex:       make(map[string]string),
	}
}

func (e *Engine) session(sessionID string) *session {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[sessionID]
	if !ok {
		s = &session{
			id:      sessionID,
			live:    make(map[string]*models.ChatMessage),
			threads: make(map[string]*models.ChatThread),
			typing:  make(map[string]*time.Timer),
		}
		e.sessions[sessionID] = s
	}
	return s
}

// SendMessage validates membership, assigns the next per-session sequence id
// and a server timestamp, persists through the store, and broadcasts
// message_received to every current member including the sender.
func (e *Engine) SendMessage(ctx context.Context, sessionID string, identity models.Identity, content string, msgType models.MessageType, threadID string) (*models.ChatMessage, error) {
	if !e.reg.IsMember(sessionID, identity.UserID) {
		return nil, models.ErrNotAMember
	}
	if msgType == "" {
		msgType = models.MessageText
	}

	s := e.session(sessionID)
	s.mu.Lock()
	// A recreated session resumes after the store's highest persisted seq,
	// so (session_id, seq) pairs stay unique across grace reaps.
	if !s.seeded {
		if last, err := e.store.LastSeq(ctx, sessionID); err != nil {
			utils.LogError(err, "LastSeq")
		} else if last > s.seq {
			s.seq = last
		}
		s.seeded = true
	}
	s.seq++
	msg := &models.ChatMessage{
		ID:          uuid.New().String(),
		SessionID:   sessionID,
		Seq:         s.seq,
		UserID:      identity.UserID,
		DisplayName: identity.DisplayName,
		Content:     content,
		Type:        msgType,
		ThreadID:    threadID,
		Reactions:   make(map[string][]string),
		CreatedAt:   time.Now().UTC(),
	}

	var newThread, touched *models.ChatThread
	if threadID != "" {
		t, ok := s.threads[threadID]
		if !ok {
			// Unknown thread id: auto-create the thread.
			t = &models.ChatThread{
				ID:        threadID,
				SessionID: sessionID,
				Title:     "",
				CreatedBy: identity.UserID,
				CreatedAt: msg.CreatedAt,
			}
			s.threads[threadID] = t
			newThread = t
		}
		t.MessageCount++
		t.LastActivity = msg.CreatedAt
		addParticipant(t, identity.UserID)
		if newThread == nil {
			cp := *t
			touched = &cp
		}
	}

	s.indexLocked(msg)
	e.indexMessage(msg.ID, sessionID)

	// Sending a message ends the sender's typing indicator.
	stopped := s.clearTypingLocked(identity.UserID)

	if err := e.store.SaveMessage(ctx, msg); err != nil {
		utils.LogError(err, "SaveMessage")
	}
	if newThread != nil {
		if err := e.store.SaveThread(ctx, newThread); err != nil {
			utils.LogError(err, "SaveThread")
		}
	} else if threadID != "" {
		if err := e.store.TouchThread(ctx, threadID, msg.CreatedAt); err != nil {
			utils.LogError(err, "TouchThread")
		}
	}

	out := *msg
	if newThread != nil {
		t := *newThread
		e.reg.Broadcast(sessionID, models.ServerEvent{
			Event:     models.EventThreadCreated,
			SessionID: sessionID,
			Thread:    &t,
			Timestamp: time.Now().UnixMilli(),
		}, "")
	} else if touched != nil {
		e.reg.Broadcast(sessionID, models.ServerEvent{
			Event:     models.EventThreadUpdated,
			SessionID: sessionID,
			Thread:    touched,
			Timestamp: time.Now().UnixMilli(),
		}, "")
	}
	e.reg.Broadcast(sessionID, models.ServerEvent{
		Event:     models.EventMessageReceived,
		SessionID: sessionID,
		Message:   &out,
		Timestamp: time.Now().UnixMilli(),
	}, "")
	s.mu.Unlock()

	if stopped {
		e.broadcastTyping(sessionID, identity, false)
	}
	if e.pub != nil {
		if err := e.pub.PublishMessage(ctx, out); err != nil {
			utils.LogError(err, "PublishMessage")
		}
	}
	return &out, nil
}

func (s *session) indexLocked(msg *models.ChatMessage) {
	s.live[msg.ID] = msg
	s.order = append(s.order, msg.ID)
	if len(s.order) > liveWindow {
		evict := s.order[0]
		s.order = s.order[1:]
		delete(s.live, evict)
	}
}

func (e *Engine) indexMessage(messageID, sessionID string) {
	e.mu.Lock()
	e.msgIndex[messageID] = sessionID
	e.mu.Unlock()
}

func (e *Engine) lookupMessage(messageID string) (*session, bool) {
	e.mu.RLock()
	sessionID, ok := e.msgIndex[messageID]
	var s *session
	if ok {
		s = e.sessions[sessionID]
	}
	e.mu.RUnlock()
	return s, ok && s != nil
}

func addParticipant(t *models.ChatThread, userID string) {
	for _, p := range t.Participants {
		if p == userID {
			return
		}
	}
	t.Participants = append(t.Participants, userID)
}

// AddReaction adds identity to the emoji's reaction set. Adding twice has no
// additional effect.
func (e *Engine) AddReaction(messageID string, identity models.Identity, emoji string) (*models.ChatMessage, error) {
	return e.mutateReaction(messageID, identity, emoji, func(set []string) ([]string, bool) {
		for _, u := range set {
			if u == identity.UserID {
				return set, false
			}
		}
		return append(set, identity.UserID), true
	})
}

// RemoveReaction removes identity from the emoji's reaction set. Removing an
// absent reaction is a no-op.
func (e *Engine) RemoveReaction(messageID string, identity models.Identity, emoji string) (*models.ChatMessage, error) {
	return e.mutateReaction(messageID, identity, emoji, func(set []string) ([]string, bool) {
		for i, u := range set {
			if u == identity.UserID {
				return append(set[:i], set[i+1:]...), true
			}
		}
		return set, false
	})
}

// ToggleReaction flips identity's membership in the emoji's reaction set.
func (e *Engine) ToggleReaction(messageID string, identity models.Identity, emoji string) (*models.ChatMessage, error) {
	return e.mutateReaction(messageID, identity, emoji, func(set []string) ([]string, bool) {
		for i, u := range set {
			if u == identity.UserID {
				return append(set[:i], set[i+1:]...), true
			}
		}
		return append(set, identity.UserID), true
	})
}

func (e *Engine) mutateReaction(messageID string, identity models.Identity, emoji string, mutate func([]string) ([]string, bool)) (*models.ChatMessage, error) {
	s, ok := e.lookupMessage(messageID)
	if !ok {
		return nil, models.ErrMessageNotFound
	}

	s.mu.Lock()
	msg, ok := s.live[messageID]
	if !ok {
		s.mu.Unlock()
		return nil, models.ErrMessageNotFound
	}
	if !e.reg.IsMember(msg.SessionID, identity.UserID) {
		s.mu.Unlock()
		return nil, models.ErrNotAMember
	}
	set, changed := mutate(msg.Reactions[emoji])
	if len(set) == 0 {
		delete(msg.Reactions, emoji)
	} else {
		msg.Reactions[emoji] = set
	}
	out := copyMessage(msg)
	if changed {
		e.reg.Broadcast(msg.SessionID, models.ServerEvent{
			Event:     models.EventMessageUpdated,
			SessionID: msg.SessionID,
			Message:   out,
			Timestamp: time.Now().UnixMilli(),
		}, "")
	}
	s.mu.Unlock()
	return out, nil
}

func copyMessage(msg *models.ChatMessage) *models.ChatMessage {
	out := *msg
	out.Reactions = make(map[string][]string, len(msg.Reactions))
	for emoji, users := range msg.Reactions {
		out.Reactions[emoji] = append([]string(nil), users...)
	}
	return &out
}

// DeleteMessage removes a message from the live window and broadcasts
// message_deleted. Only the author may delete.
func (e *Engine) DeleteMessage(messageID string, identity models.Identity) error {
	s, ok := e.lookupMessage(messageID)
	if !ok {
		return models.ErrMessageNotFound
	}

	s.mu.Lock()
	msg, ok := s.live[messageID]
	if !ok {
		s.mu.Unlock()
		return models.ErrMessageNotFound
	}
	if msg.UserID != identity.UserID {
		s.mu.Unlock()
		return models.ErrForbidden
	}
	delete(s.live, messageID)
	sessionID := msg.SessionID
	e.reg.Broadcast(sessionID, models.ServerEvent{
		Event:     models.EventMessageDeleted,
		SessionID: sessionID,
		MessageID: messageID,
		Timestamp: time.Now().UnixMilli(),
	}, "")
	s.mu.Unlock()

	e.mu.Lock()
	delete(e.msgIndex, messageID)
	e.mu.Unlock()
	return nil
}

// CreateThread creates a thread explicitly and broadcasts thread_created.
func (e *Engine) CreateThread(ctx context.Context, sessionID string, identity models.Identity, title, messageID string) (*models.ChatThread, error) {
	if !e.reg.IsMember(sessionID, identity.UserID) {
		return nil, models.ErrNotAMember
	}

	s := e.session(sessionID)
	s.mu.Lock()
	now := time.Now().UTC()
	t := &models.ChatThread{
		ID:           uuid.New().String(),
		SessionID:    sessionID,
		Title:        title,
		CreatedBy:    identity.UserID,
		CreatedAt:    now,
		LastActivity: now,
		Participants: []string{identity.UserID},
	}
	// A root message, when given, is folded into the new thread.
	if messageID != "" {
		if msg, ok := s.live[messageID]; ok && msg.ThreadID == "" {
			msg.ThreadID = t.ID
			t.MessageCount = 1
			addParticipant(t, msg.UserID)
		}
	}
	s.threads[t.ID] = t
	out := *t
	s.mu.Unlock()

	if err := e.store.SaveThread(ctx, &out); err != nil {
		utils.LogError(err, "SaveThread")
	}

	e.reg.Broadcast(sessionID, models.ServerEvent{
		Event:     models.EventThreadCreated,
		SessionID: sessionID,
		Thread:    &out,
		Timestamp: time.Now().UnixMilli(),
	}, "")
	return &out, nil
}

// StartTyping raises the sender's ephemeral typing indicator. It expires on
// its own after the debounce window, which covers clients that disconnect
// mid-typing without signalling stop.
func (e *Engine) StartTyping(sessionID string, identity models.Identity) error {
	if !e.reg.IsMember(sessionID, identity.UserID) {
		return models.ErrNotAMember
	}

	s := e.session(sessionID)
	s.mu.Lock()
	fresh := s.typing[identity.UserID] == nil
	if t := s.typing[identity.UserID]; t != nil {
		t.Stop()
	}
	s.typing[identity.UserID] = time.AfterFunc(e.typingDebounce, func() {
		e.expireTyping(sessionID, identity)
	})
	s.mu.Unlock()

	if fresh {
		e.broadcastTyping(sessionID, identity, true)
	}
	return nil
}

// StopTyping clears the sender's typing indicator.
func (e *Engine) StopTyping(sessionID string, identity models.Identity) error {
	if !e.reg.IsMember(sessionID, identity.UserID) {
		return models.ErrNotAMember
	}

	s := e.session(sessionID)
	s.mu.Lock()
	stopped := s.clearTypingLocked(identity.UserID)
	s.mu.Unlock()

	if stopped {
		e.broadcastTyping(sessionID, identity, false)
	}
	return nil
}

func (s *session) clearTypingLocked(userID string) bool {
	t, ok := s.typing[userID]
	if !ok {
		return false
	}
	t.Stop()
	delete(s.typing, userID)
	return true
}

func (e *Engine) expireTyping(sessionID string, identity models.Identity) {
	s := e.session(sessionID)
	s.mu.Lock()
	_, ok := s.typing[identity.UserID]
	if ok {
		delete(s.typing, identity.UserID)
	}
	s.mu.Unlock()
	if ok {
		e.broadcastTyping(sessionID, identity, false)
	}
}

func (e *Engine) broadcastTyping(sessionID string, identity models.Identity, typing bool) {
	ev := models.ServerEvent{
		SessionID:   sessionID,
		UserID:      identity.UserID,
		DisplayName: identity.DisplayName,
		Timestamp:   time.Now().UnixMilli(),
	}
	if typing {
		ev.Event = models.EventUserTyping
	} else {
		ev.Event = models.EventUserStoppedTyping
	}
	e.reg.Broadcast(sessionID, ev, identity.UserID)
}

// ClearTyping drops the user's typing indicator without membership checks,
// for disconnect cleanup.
func (e *Engine) ClearTyping(sessionID string, identity models.Identity) {
	s := e.session(sessionID)
	s.mu.Lock()
	stopped := s.clearTypingLocked(identity.UserID)
	s.mu.Unlock()
	if stopped {
		e.broadcastTyping(sessionID, identity, false)
	}
}

// DeliverRemote fans a message accepted on another node out to local
// members. It is not re-sequenced or re-persisted; the origin node did both.
func (e *Engine) DeliverRemote(msg models.ChatMessage) {
	e.reg.Broadcast(msg.SessionID, models.ServerEvent{
		Event:     models.EventMessageReceived,
		SessionID: msg.SessionID,
		Message:   &msg,
		Timestamp: time.Now().UnixMilli(),
	}, "")
}

// EndSession drops all fanout state for a deleted session.
func (e *Engine) EndSession(sessionID string) {
	e.mu.Lock()
	s, ok := e.sessions[sessionID]
	delete(e.sessions, sessionID)
	e.mu.Unlock()
	if !ok {
		return
	}

	s.mu.Lock()
	for _, t := range s.typing {
		t.Stop()
	}
	s.typing = make(map[string]*time.Timer)
	ids := s.order
	s.order = nil
	s.live = make(map[string]*models.ChatMessage)
	s.mu.Unlock()

	e.mu.Lock()
	for _, id := range ids {
		delete(e.msgIndex, id)
	}
	e.mu.Unlock()
}

// Seq reports the session's current sequence counter, for catch-up queries.
func (e *Engine) Seq(sessionID string) uint64 {
	e.mu.RLock()
	s, ok := e.sessions[sessionID]
	e.mu.RUnlock()
	if !ok {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}
