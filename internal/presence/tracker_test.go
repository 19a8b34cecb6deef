package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"collab-backend/internal/models"
	"collab-backend/internal/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	mu     sync.Mutex
	id     models.Identity
	events []models.ServerEvent
}

func newFakeSink(userID, name string) *fakeSink {
	return &fakeSink{id: models.Identity{UserID: userID, DisplayName: name}}
}

func (s *fakeSink) Identity() models.Identity { return s.id }

func (s *fakeSink) Enqueue(ev models.ServerEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return true
}

func (s *fakeSink) statuses() []models.PresenceStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.PresenceStatus
	for _, ev := range s.events {
		if ev.Event == models.EventPresenceUpdated {
			out = append(out, ev.Presence.Status)
		}
	}
	return out
}

type recordingStore struct {
	mu    sync.Mutex
	calls map[string]time.Time
}

func (r *recordingStore) SetLastSeen(_ context.Context, userID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.calls == nil {
		r.calls = make(map[string]time.Time)
	}
	r.calls[userID] = at
	return nil
}

// sharedRoom joins both users to one chat session so presence fanout reaches
// the other one.
func sharedRoom(t *testing.T, reg *registry.Registry, a, b *fakeSink) {
	t.Helper()
	reg.EnsureSession("sess-1", a.Identity())
	_, err := reg.JoinRoom("sess-1", a.Identity(), a, nil)
	require.NoError(t, err)
	_, err = reg.JoinRoom("sess-1", b.Identity(), b, nil)
	require.NoError(t, err)
}

func TestConnectedMarksOnline(t *testing.T) {
	reg := registry.New(time.Minute)
	tracker := NewTracker(reg, nil, time.Minute)

	alice := newFakeSink("alice", "Alice")
	bob := newFakeSink("bob", "Bob")
	sharedRoom(t, reg, alice, bob)

	tracker.Connected(alice.Identity())
	p, ok := tracker.Presence("alice")
	require.True(t, ok)
	assert.Equal(t, models.PresenceOnline, p.Status)
	assert.Equal(t, []models.PresenceStatus{models.PresenceOnline}, bob.statuses())
}

func TestAwayAfterMissedHeartbeats(t *testing.T) {
	reg := registry.New(time.Minute)
	tracker := NewTracker(reg, nil, 20*time.Millisecond)

	alice := newFakeSink("alice", "Alice")
	bob := newFakeSink("bob", "Bob")
	sharedRoom(t, reg, alice, bob)

	tracker.Connected(alice.Identity())
	assert.Eventually(t, func() bool {
		p, _ := tracker.Presence("alice")
		return p.Status == models.PresenceAway
	}, time.Second, 5*time.Millisecond)

	// The next heartbeat brings them back.
	tracker.Heartbeat("alice")
	p, _ := tracker.Presence("alice")
	assert.Equal(t, models.PresenceOnline, p.Status)

	got := bob.statuses()
	assert.Contains(t, got, models.PresenceAway)
	assert.Equal(t, models.PresenceOnline, got[len(got)-1])
}

func TestHeartbeatKeepsOnline(t *testing.T) {
	reg := registry.New(time.Minute)
	tracker := NewTracker(reg, nil, 40*time.Millisecond)

	alice := newFakeSink("alice", "Alice")
	tracker.Connected(alice.Identity())

	for i := 0; i < 4; i++ {
		time.Sleep(20 * time.Millisecond)
		tracker.Heartbeat("alice")
	}
	p, _ := tracker.Presence("alice")
	assert.Equal(t, models.PresenceOnline, p.Status)
}

func TestDisconnectedLastConnectionGoesOffline(t *testing.T) {
	reg := registry.New(time.Minute)
	store := &recordingStore{}
	tracker := NewTracker(reg, store, time.Minute)

	alice := newFakeSink("alice", "Alice")
	bob := newFakeSink("bob", "Bob")
	sharedRoom(t, reg, alice, bob)

	// Two transports for the same user, e.g. chat and rtc channels.
	tracker.Connected(alice.Identity())
	tracker.Connected(alice.Identity())

	tracker.Disconnected("alice")
	p, _ := tracker.Presence("alice")
	assert.Equal(t, models.PresenceOnline, p.Status)

	tracker.Disconnected("alice")
	p, _ = tracker.Presence("alice")
	assert.Equal(t, models.PresenceOffline, p.Status)
	assert.Empty(t, p.CurrentSession)

	store.mu.Lock()
	_, persisted := store.calls["alice"]
	store.mu.Unlock()
	assert.True(t, persisted)
}

func TestSetStatusRejectsOffline(t *testing.T) {
	reg := registry.New(time.Minute)
	tracker := NewTracker(reg, nil, time.Minute)

	alice := newFakeSink("alice", "Alice")
	tracker.Connected(alice.Identity())

	tracker.SetStatus(alice.Identity(), models.PresenceBusy)
	p, _ := tracker.Presence("alice")
	assert.Equal(t, models.PresenceBusy, p.Status)

	// Offline is reserved for transport disconnects.
	tracker.SetStatus(alice.Identity(), models.PresenceOffline)
	p, _ = tracker.Presence("alice")
	assert.Equal(t, models.PresenceBusy, p.Status)
}

func TestBusyIsNotForcedAway(t *testing.T) {
	reg := registry.New(time.Minute)
	tracker := NewTracker(reg, nil, 20*time.Millisecond)

	alice := newFakeSink("alice", "Alice")
	tracker.Connected(alice.Identity())
	tracker.SetStatus(alice.Identity(), models.PresenceBusy)

	time.Sleep(50 * time.Millisecond)
	p, _ := tracker.Presence("alice")
	assert.Equal(t, models.PresenceBusy, p.Status)
}

func TestFanoutScopedToRoomSharers(t *testing.T) {
	reg := registry.New(time.Minute)
	tracker := NewTracker(reg, nil, time.Minute)

	alice := newFakeSink("alice", "Alice")
	bob := newFakeSink("bob", "Bob")
	carol := newFakeSink("carol", "Carol")
	sharedRoom(t, reg, alice, bob)

	// carol is online but shares no room with alice.
	reg.EnsureSession("sess-2", carol.Identity())
	_, err := reg.JoinRoom("sess-2", carol.Identity(), carol, nil)
	require.NoError(t, err)

	tracker.Connected(alice.Identity())
	assert.NotEmpty(t, bob.statuses())
	assert.Empty(t, carol.statuses())
}

func TestSetCurrentSession(t *testing.T) {
	reg := registry.New(time.Minute)
	tracker := NewTracker(reg, nil, time.Minute)

	alice := newFakeSink("alice", "Alice")
	tracker.Connected(alice.Identity())
	tracker.SetCurrentSession("alice", "sess-1")

	p, _ := tracker.Presence("alice")
	assert.Equal(t, "sess-1", p.CurrentSession)
}
