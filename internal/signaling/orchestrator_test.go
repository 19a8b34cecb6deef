package signaling

import (
	"sync"
	"testing"
	"time"

	"collab-backend/internal/models"
	"collab-backend/internal/registry"

	"github.com/pion/webrtc/v4"
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

func (s *fakeSink) byEvent(name string) []models.ServerEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ServerEvent
	for _, ev := range s.events {
		if ev.Event == name {
			out = append(out, ev)
		}
	}
	return out
}

type fixture struct {
	reg    *registry.Registry
	orch   *Orchestrator
	roomID string
	sinks  map[string]*fakeSink
	peers  map[string]models.Peer
}

// newFixture creates a webrtc room and joins the given users in order.
func newFixture(t *testing.T, users ...string) *fixture {
	t.Helper()
	reg := registry.New(time.Minute)
	orch := New(reg)
	reg.SetLeaveHook(func(room models.Room, userID string) {
		orch.PeerLeft(room.ID, userID)
	})

	room, err := reg.CreateRoom(models.RoomKindWebRTC, "s1", "standup", models.Identity{UserID: users[0]}, models.RoomSettings{MaxParticipants: 8})
	require.NoError(t, err)

	f := &fixture{
		reg:    reg,
		orch:   orch,
		roomID: room.ID,
		sinks:  make(map[string]*fakeSink),
		peers:  make(map[string]models.Peer),
	}
	for _, u := range users {
		sink := newFakeSink(u, u)
		state, err := reg.JoinRoom(room.ID, sink.Identity(), sink, nil)
		require.NoError(t, err)
		orch.PeerJoined(room.ID, u)
		f.sinks[u] = sink
		f.peers[u] = *state.Peer
	}
	return f
}

func sdp(kind webrtc.SDPType) *webrtc.SessionDescription {
	return &webrtc.SessionDescription{Type: kind, SDP: "v=0"}
}

func TestInitiatorIsLexicographicallyGreater(t *testing.T) {
	assert.Equal(t, "bob", models.Initiator("alice", "bob"))
	assert.Equal(t, "bob", models.Initiator("bob", "alice"))
	assert.Equal(t, "alice", models.Initiator("alice", "alice"))
}

func TestPeerJoinedCreatesPendingLinks(t *testing.T) {
	f := newFixture(t, "alice", "bob", "carol")

	links := f.orch.Links(f.roomID)
	require.Len(t, links, 3)
	for _, l := range links {
		assert.Equal(t, models.LinkNew, l.State)
		assert.Less(t, l.UserA, l.UserB)
	}
}

func TestRelayOfferGatedOnMembership(t *testing.T) {
	f := newFixture(t, "alice", "bob")

	err := f.orch.RelayOffer(f.roomID, "mallory", f.peers["bob"].ID, sdp(webrtc.SDPTypeOffer))
	assert.ErrorIs(t, err, models.ErrNotAMember)

	err = f.orch.RelayOffer(f.roomID, "alice", "no-such-peer", sdp(webrtc.SDPTypeOffer))
	assert.ErrorIs(t, err, models.ErrPeerNotInRoom)

	assert.Len(t, f.sinks["bob"].byEvent(models.EventOffer), 0)
}

func TestOfferAnswerStateMachine(t *testing.T) {
	f := newFixture(t, "alice", "bob")

	require.NoError(t, f.orch.RelayOffer(f.roomID, "bob", f.peers["alice"].ID, sdp(webrtc.SDPTypeOffer)))
	state, ok := f.orch.LinkState(f.roomID, "alice", "bob")
	require.True(t, ok)
	assert.Equal(t, models.LinkOfferSent, state)

	got := f.sinks["alice"].byEvent(models.EventOffer)
	require.Len(t, got, 1)
	assert.Equal(t, f.peers["bob"].ID, got[0].From)
	require.NotNil(t, got[0].Offer)

	require.NoError(t, f.orch.RelayAnswer(f.roomID, "alice", f.peers["bob"].ID, sdp(webrtc.SDPTypeAnswer)))
	state, _ = f.orch.LinkState(f.roomID, "alice", "bob")
	assert.Equal(t, models.LinkAnswerReceived, state)
	require.Len(t, f.sinks["bob"].byEvent(models.EventAnswer), 1)

	require.NoError(t, f.orch.ReportLinkState(f.roomID, "bob", f.peers["alice"].ID, models.LinkConnected))
	state, _ = f.orch.LinkState(f.roomID, "alice", "bob")
	assert.Equal(t, models.LinkConnected, state)
}

func TestConnectedReportIgnoredBeforeAnswer(t *testing.T) {
	f := newFixture(t, "alice", "bob")

	require.NoError(t, f.orch.ReportLinkState(f.roomID, "bob", f.peers["alice"].ID, models.LinkConnected))
	state, ok := f.orch.LinkState(f.roomID, "alice", "bob")
	require.True(t, ok)
	assert.Equal(t, models.LinkNew, state)
}

func TestICECandidateRelayKeepsState(t *testing.T) {
	f := newFixture(t, "alice", "bob")

	require.NoError(t, f.orch.RelayOffer(f.roomID, "bob", f.peers["alice"].ID, sdp(webrtc.SDPTypeOffer)))
	cand := &webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 127.0.0.1 9 typ host"}
	require.NoError(t, f.orch.RelayICECandidate(f.roomID, "bob", f.peers["alice"].ID, cand))

	state, _ := f.orch.LinkState(f.roomID, "alice", "bob")
	assert.Equal(t, models.LinkOfferSent, state)
	got := f.sinks["alice"].byEvent(models.EventICECandidate)
	require.Len(t, got, 1)
	assert.Equal(t, cand.Candidate, got[0].Candidate.Candidate)
}

func TestOfferFromNonInitiatorStillRelays(t *testing.T) {
	f := newFixture(t, "alice", "bob")

	// "alice" < "bob", so bob is the computed initiator; a renegotiation
	// offer from alice is relayed all the same.
	require.NoError(t, f.orch.RelayOffer(f.roomID, "alice", f.peers["bob"].ID, sdp(webrtc.SDPTypeOffer)))

	state, _ := f.orch.LinkState(f.roomID, "alice", "bob")
	assert.Equal(t, models.LinkOfferSent, state)
	require.Len(t, f.sinks["bob"].byEvent(models.EventOffer), 1)
}

func TestFailedLinkRecreatedByFreshOffer(t *testing.T) {
	f := newFixture(t, "alice", "bob")

	require.NoError(t, f.orch.RelayOffer(f.roomID, "bob", f.peers["alice"].ID, sdp(webrtc.SDPTypeOffer)))
	require.NoError(t, f.orch.ReportLinkState(f.roomID, "bob", f.peers["alice"].ID, models.LinkFailed))
	state, _ := f.orch.LinkState(f.roomID, "alice", "bob")
	require.Equal(t, models.LinkFailed, state)

	require.NoError(t, f.orch.RelayOffer(f.roomID, "bob", f.peers["alice"].ID, sdp(webrtc.SDPTypeOffer)))
	state, _ = f.orch.LinkState(f.roomID, "alice", "bob")
	assert.Equal(t, models.LinkOfferSent, state)
}

func TestPeerLeftTearsDownLinks(t *testing.T) {
	f := newFixture(t, "alice", "bob", "carol")

	f.reg.LeaveRoom(f.roomID, "bob")

	links := f.orch.Links(f.roomID)
	require.Len(t, links, 1)
	assert.Equal(t, "alice", links[0].UserA)
	assert.Equal(t, "carol", links[0].UserB)

	// Relays to the departed peer now fail.
	err := f.orch.RelayOffer(f.roomID, "carol", f.peers["bob"].ID, sdp(webrtc.SDPTypeOffer))
	assert.ErrorIs(t, err, models.ErrPeerNotInRoom)
}

func TestFailureReportBroadcastsPeerUpdated(t *testing.T) {
	f := newFixture(t, "alice", "bob", "carol")

	require.NoError(t, f.orch.RelayOffer(f.roomID, "bob", f.peers["alice"].ID, sdp(webrtc.SDPTypeOffer)))
	require.NoError(t, f.orch.ReportLinkState(f.roomID, "bob", f.peers["alice"].ID, models.LinkFailed))

	assert.NotEmpty(t, f.sinks["carol"].byEvent(models.EventPeerUpdated))
}
