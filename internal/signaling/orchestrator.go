// Package signaling coordinates pairwise negotiation among the members of a
// webrtc room. The topology is a full mesh: every pair of peers negotiates
// directly and the orchestrator only relays signaling, never media.
package signaling

import (
	"log"
	"sync"
	"time"

	"collab-backend/internal/models"
	"collab-backend/internal/registry"

	"github.com/pion/webrtc/v4"
)

// Link is one pairwise negotiation between two peers, keyed by the unordered
// user pair. Initiator is the lexicographically greater user id.
type Link struct {
	RoomID    string
	UserA     string // lexicographically smaller
	UserB     string // lexicographically greater, the initiator
	State     models.LinkState
	CreatedAt time.Time
}

type mesh struct {
	links map[string]*Link // keyed by pairKey
}

// Orchestrator tracks link state per webrtc room and gates relays on current
// membership. It never inspects or mutates the relayed payloads.
type Orchestrator struct {
	reg *registry.Registry

	mu    sync.Mutex
	rooms map[string]*mesh
}

func New(reg *registry.Registry) *Orchestrator {
	return &Orchestrator{
		reg:   reg,
		rooms: make(map[string]*mesh),
	}
}

func pairKey(userA, userB string) string {
	if userA > userB {
		userA, userB = userB, userA
	}
	return userA + "|" + userB
}

// PeerJoined establishes a pending link between the new peer and every
// existing member. The deterministic initiator is expected to produce the
// offer; the orchestrator just waits for it.
func (o *Orchestrator) PeerJoined(roomID, userID string) {
	members := o.reg.Members(roomID)

	o.mu.Lock()
	defer o.mu.Unlock()
	m, ok := o.rooms[roomID]
	if !ok {
		m = &mesh{links: make(map[string]*Link)}
		o.rooms[roomID] = m
	}
	for _, other := range members {
		if other.UserID == userID {
			continue
		}
		key := pairKey(userID, other.UserID)
		if _, exists := m.links[key]; exists {
			continue
		}
		a, b := userID, other.UserID
		if a > b {
			a, b = b, a
		}
		m.links[key] = &Link{
			RoomID:    roomID,
			UserA:     a,
			UserB:     b,
			State:     models.LinkNew,
			CreatedAt: time.Now().UTC(),
		}
	}
}

// PeerLeft closes every link involving the peer. Closed links are removed;
// retrying requires a fresh link.
func (o *Orchestrator) PeerLeft(roomID, userID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	m, ok := o.rooms[roomID]
	if !ok {
		return
	}
	for key, l := range m.links {
		if l.UserA == userID || l.UserB == userID {
			l.State = models.LinkClosed
			delete(m.links, key)
		}
	}
	if len(m.links) == 0 {
		delete(o.rooms, roomID)
	}
}

// LinkState returns the current state of the pair's link.
func (o *Orchestrator) LinkState(roomID, userA, userB string) (models.LinkState, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	m, ok := o.rooms[roomID]
	if !ok {
		return "", false
	}
	l, ok := m.links[pairKey(userA, userB)]
	if !ok {
		return "", false
	}
	return l.State, true
}

// resolve validates that both endpoints are current members and returns the
// sender's peer, the target's user id and the target's sink.
func (o *Orchestrator) resolve(roomID, fromUserID, targetPeerID string) (models.Peer, string, registry.Sink, error) {
	fromPeer, ok := o.reg.PeerOf(roomID, fromUserID)
	if !ok {
		return models.Peer{}, "", nil, models.ErrNotAMember
	}
	targetUser, ok := o.reg.PeerUser(roomID, targetPeerID)
	if !ok {
		return models.Peer{}, "", nil, models.ErrPeerNotInRoom
	}
	sink, ok := o.reg.SinkOf(roomID, targetUser)
	if !ok {
		return models.Peer{}, "", nil, models.ErrPeerNotInRoom
	}
	return fromPeer, targetUser, sink, nil
}

// link returns the pair's link, creating it lazily so that a peer retrying
// after a failure starts over from a fresh link.
func (o *Orchestrator) link(roomID, userA, userB string) *Link {
	o.mu.Lock()
	defer o.mu.Unlock()
	m, ok := o.rooms[roomID]
	if !ok {
		m = &mesh{links: make(map[string]*Link)}
		o.rooms[roomID] = m
	}
	key := pairKey(userA, userB)
	l, ok := m.links[key]
	if !ok {
		a, b := userA, userB
		if a > b {
			a, b = b, a
		}
		l = &Link{RoomID: roomID, UserA: a, UserB: b, State: models.LinkNew, CreatedAt: time.Now().UTC()}
		m.links[key] = l
	}
	return l
}

// RelayOffer forwards an SDP offer verbatim to the target peer and moves the
// link to offer-sent. An offer on a failed or closed link re-creates it.
func (o *Orchestrator) RelayOffer(roomID, fromUserID, targetPeerID string, offer *webrtc.SessionDescription) error {
	fromPeer, targetUser, sink, err := o.resolve(roomID, fromUserID, targetPeerID)
	if err != nil {
		return err
	}

	// The greater user id is expected to open the negotiation. An offer
	// from the other side still relays, it usually means a renegotiation.
	if fromUserID != models.Initiator(fromUserID, targetUser) {
		log.Printf("offer from non-initiator %s on link %s", fromUserID, pairKey(fromUserID, targetUser))
	}

	l := o.link(roomID, fromUserID, targetUser)
	o.mu.Lock()
	if l.State == models.LinkFailed || l.State == models.LinkClosed {
		l.State = models.LinkNew
		l.CreatedAt = time.Now().UTC()
	}
	l.State = models.LinkOfferSent
	o.mu.Unlock()

	sink.Enqueue(models.ServerEvent{
		Event:     models.EventOffer,
		RoomID:    roomID,
		From:      fromPeer.ID,
		Offer:     offer,
		Timestamp: time.Now().UnixMilli(),
	})
	return nil
}

// RelayAnswer forwards an SDP answer verbatim and moves the link to
// answer-received.
func (o *Orchestrator) RelayAnswer(roomID, fromUserID, targetPeerID string, answer *webrtc.SessionDescription) error {
	fromPeer, targetUser, sink, err := o.resolve(roomID, fromUserID, targetPeerID)
	if err != nil {
		return err
	}

	l := o.link(roomID, fromUserID, targetUser)
	o.mu.Lock()
	if l.State == models.LinkOfferSent {
		l.State = models.LinkAnswerReceived
	}
	o.mu.Unlock()

	sink.Enqueue(models.ServerEvent{
		Event:     models.EventAnswer,
		RoomID:    roomID,
		From:      fromPeer.ID,
		Answer:    answer,
		Timestamp: time.Now().UnixMilli(),
	})
	return nil
}

// RelayICECandidate forwards a trickle ICE candidate verbatim. Candidates do
// not advance the link state machine.
func (o *Orchestrator) RelayICECandidate(roomID, fromUserID, targetPeerID string, candidate *webrtc.ICECandidateInit) error {
	fromPeer, _, sink, err := o.resolve(roomID, fromUserID, targetPeerID)
	if err != nil {
		return err
	}

	sink.Enqueue(models.ServerEvent{
		Event:     models.EventICECandidate,
		RoomID:    roomID,
		From:      fromPeer.ID,
		Candidate: candidate,
		Timestamp: time.Now().UnixMilli(),
	})
	return nil
}

// ReportLinkState applies a client-reported terminal outcome (connected or
// failed) for the link with the target peer and broadcasts peer_updated so
// the rest of the room can render the degraded tile. Failed links are kept
// until one side retries with a fresh offer or leaves.
func (o *Orchestrator) ReportLinkState(roomID, fromUserID, targetPeerID string, state models.LinkState) error {
	if state != models.LinkConnected && state != models.LinkFailed {
		return nil
	}
	fromPeer, targetUser, _, err := o.resolve(roomID, fromUserID, targetPeerID)
	if err != nil {
		return err
	}

	l := o.link(roomID, fromUserID, targetUser)
	o.mu.Lock()
	switch {
	case state == models.LinkFailed && !l.State.Terminal():
		l.State = models.LinkFailed
	case state == models.LinkConnected && l.State == models.LinkAnswerReceived:
		l.State = models.LinkConnected
	default:
		// Stale report, no transition. Logged for diagnosis.
		log.Printf("ignoring link state report %s on %s link %s", state, l.State, pairKey(fromUserID, targetUser))
		o.mu.Unlock()
		return nil
	}
	o.mu.Unlock()

	o.reg.Broadcast(roomID, models.ServerEvent{
		Event:     models.EventPeerUpdated,
		RoomID:    roomID,
		Peer:      &fromPeer,
		From:      targetPeerID,
		Timestamp: time.Now().UnixMilli(),
	}, fromUserID)
	return nil
}

// Links returns a snapshot of the room's links, for diagnostics and tests.
func (o *Orchestrator) Links(roomID string) []Link {
	o.mu.Lock()
	defer o.mu.Unlock()
	m, ok := o.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]Link, 0, len(m.links))
	for _, l := range m.links {
		out = append(out, *l)
	}
	return out
}
