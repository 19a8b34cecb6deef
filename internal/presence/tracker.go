// Package presence tracks coarse online/away/busy/offline status per user,
// independent of room membership.
package presence

import (
	"context"
	"sync"
	"time"

	"collab-backend/internal/models"
	"collab-backend/internal/registry"
	"collab-backend/internal/utils"
)

// LastSeenStore persists last-seen marks for users, so reconnecting clients
// can show contact freshness across node restarts. Nil disables persistence.
type LastSeenStore interface {
	SetLastSeen(ctx context.Context, userID string, at time.Time) error
}

type entry struct {
	presence  models.UserPresence
	conns     int
	awayTimer *time.Timer
}

// Tracker holds one presence entry per user. presence_updated fanout is
// bounded to users sharing at least one room, resolved through the
// registry, never broadcast globally.
type Tracker struct {
	reg        *registry.Registry
	store      LastSeenStore
	awayWindow time.Duration

	mu    sync.Mutex
	users map[string]*entry
}

func NewTracker(reg *registry.Registry, store LastSeenStore, awayWindow time.Duration) *Tracker {
	if awayWindow <= 0 {
		awayWindow = 60 * time.Second
	}
	return &Tracker{
		reg:        reg,
		store:      store,
		awayWindow: awayWindow,
		users:      make(map[string]*entry),
	}
}

// Connected registers a new transport connection for the user and marks them
// online.
func (t *Tracker) Connected(identity models.Identity) {
	t.mu.Lock()
	e, ok := t.users[identity.UserID]
	if !ok {
		e = &entry{presence: models.UserPresence{
			UserID:      identity.UserID,
			DisplayName: identity.DisplayName,
		}}
		t.users[identity.UserID] = e
	}
	e.conns++
	e.presence.Status = models.PresenceOnline
	e.presence.LastSeen = time.Now().UTC()
	t.rearmLocked(e)
	p := e.presence
	t.mu.Unlock()

	t.fanout(p)
}

// Disconnected drops one transport connection. The last connection going
// away transitions the user directly to offline.
func (t *Tracker) Disconnected(userID string) {
	t.mu.Lock()
	e, ok := t.users[userID]
	if !ok {
		t.mu.Unlock()
		return
	}
	e.conns--
	if e.conns > 0 {
		t.mu.Unlock()
		return
	}
	if e.awayTimer != nil {
		e.awayTimer.Stop()
		e.awayTimer = nil
	}
	e.presence.Status = models.PresenceOffline
	e.presence.LastSeen = time.Now().UTC()
	e.presence.CurrentSession = ""
	p := e.presence
	t.mu.Unlock()

	t.persist(p)
	t.fanout(p)
}

// Heartbeat resets the inactivity timer. A missing heartbeat within the
// configured window transitions online to away.
func (t *Tracker) Heartbeat(userID string) {
	t.mu.Lock()
	e, ok := t.users[userID]
	if !ok {
		t.mu.Unlock()
		return
	}
	e.presence.LastSeen = time.Now().UTC()
	came := false
	if e.presence.Status == models.PresenceAway {
		e.presence.Status = models.PresenceOnline
		came = true
	}
	t.rearmLocked(e)
	p := e.presence
	t.mu.Unlock()

	if came {
		t.fanout(p)
	}
}

// SetStatus applies an explicit status choice (online, away, busy). Offline
// is reserved for transport disconnects.
func (t *Tracker) SetStatus(identity models.Identity, status models.PresenceStatus) {
	switch status {
	case models.PresenceOnline, models.PresenceAway, models.PresenceBusy:
	default:
		return
	}

	t.mu.Lock()
	e, ok := t.users[identity.UserID]
	if !ok {
		t.mu.Unlock()
		return
	}
	e.presence.Status = status
	e.presence.LastSeen = time.Now().UTC()
	if status == models.PresenceOnline {
		t.rearmLocked(e)
	}
	p := e.presence
	t.mu.Unlock()

	t.fanout(p)
}

// SetCurrentSession records which session the user is focused on, shown in
// contact lists.
func (t *Tracker) SetCurrentSession(userID, sessionID string) {
	t.mu.Lock()
	if e, ok := t.users[userID]; ok {
		e.presence.CurrentSession = sessionID
	}
	t.mu.Unlock()
}

// Presence returns the user's current presence record.
func (t *Tracker) Presence(userID string) (models.UserPresence, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.users[userID]
	if !ok {
		return models.UserPresence{}, false
	}
	return e.presence, true
}

func (t *Tracker) rearmLocked(e *entry) {
	if e.awayTimer != nil {
		e.awayTimer.Stop()
	}
	userID := e.presence.UserID
	e.awayTimer = time.AfterFunc(t.awayWindow, func() {
		t.markAway(userID)
	})
}

func (t *Tracker) markAway(userID string) {
	t.mu.Lock()
	e, ok := t.users[userID]
	if !ok || e.conns == 0 || e.presence.Status != models.PresenceOnline {
		t.mu.Unlock()
		return
	}
	e.presence.Status = models.PresenceAway
	p := e.presence
	t.mu.Unlock()

	t.fanout(p)
}

// fanout delivers presence_updated to every user sharing a room with the
// subject. Presence events are droppable under backpressure.
func (t *Tracker) fanout(p models.UserPresence) {
	ev := models.ServerEvent{
		Event:     models.EventPresenceUpdated,
		Presence:  &p,
		Timestamp: time.Now().UnixMilli(),
	}
	for _, sink := range t.reg.Observers(p.UserID) {
		sink.Enqueue(ev)
	}
}

func (t *Tracker) persist(p models.UserPresence) {
	if t.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := t.store.SetLastSeen(ctx, p.UserID, p.LastSeen); err != nil {
		utils.LogError(err, "SetLastSeen")
	}
}
