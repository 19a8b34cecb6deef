package registry

import (
	"log"
	"sync"
	"time"

	"collab-backend/internal/models"

	"github.com/google/uuid"
)

// Sink is one connected client's delivery queue. Enqueue must never block;
// it reports false when the event was not accepted.
type Sink interface {
	Identity() models.Identity
	Enqueue(ev models.ServerEvent) bool
}

// LeaveFunc is invoked after a user's membership in a room has been removed,
// for every removal path (explicit leave, eviction, disconnect). The app
// wires it to peer-link teardown.
type LeaveFunc func(room models.Room, userID string)

type member struct {
	identity models.Identity
	joinedAt time.Time
	sink     Sink
	peer     *models.Peer
}

// room is the lock-guarded owner of one room's state. All membership
// mutation for the room happens under mu, keeping rooms independent of each
// other.
type room struct {
	mu         sync.Mutex
	info       models.Room
	members    map[string]*member // keyed by user id
	peerUsers  map[string]string  // peer id -> user id
	graceTimer *time.Timer
	deleted    bool
}

// Registry maps room ids to live rooms for both room kinds. The rooms map is
// the only state shared across rooms and is guarded separately from per-room
// state.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*room
	feeds map[models.RoomKind]map[string]Sink // conn id -> sink

	grace    time.Duration
	onLeave  LeaveFunc
	onDelete func(models.Room)
}

// New creates a registry. Emptied rooms are deleted after the grace period;
// a zero grace deletes immediately.
func New(grace time.Duration) *Registry {
	return &Registry{
		rooms: make(map[string]*room),
		feeds: map[models.RoomKind]map[string]Sink{
			models.RoomKindChat:   {},
			models.RoomKindWebRTC: {},
		},
		grace: grace,
	}
}

// SetLeaveHook registers the membership-removal callback. Must be called
// before traffic starts.
func (r *Registry) SetLeaveHook(fn LeaveFunc) { r.onLeave = fn }

// SetDeleteHook registers the room-teardown callback, invoked after a room
// is removed by explicit deletion or the grace reaper.
func (r *Registry) SetDeleteHook(fn func(models.Room)) { r.onDelete = fn }

// Subscribe adds a connection to the room-listing feed for a kind. Feed
// subscribers receive room_created / room_deleted / room_updated.
func (r *Registry) Subscribe(kind models.RoomKind, connID string, s Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.feeds[kind][connID] = s
}

// Unsubscribe removes a connection from the room-listing feed.
func (r *Registry) Unsubscribe(kind models.RoomKind, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.feeds[kind], connID)
}

func (r *Registry) feedSinks(kind models.RoomKind) []Sink {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Sink, 0, len(r.feeds[kind]))
	for _, s := range r.feeds[kind] {
		out = append(out, s)
	}
	return out
}

func (r *Registry) emitToFeed(kind models.RoomKind, ev models.ServerEvent) {
	for _, s := range r.feedSinks(kind) {
		s.Enqueue(ev)
	}
}

// CreateRoom creates a room owned by its creator and announces it on the
// room-listing feed.
func (r *Registry) CreateRoom(kind models.RoomKind, sessionID, name string, creator models.Identity, settings models.RoomSettings) (models.Room, error) {
	if err := settings.Validate(); err != nil {
		return models.Room{}, err
	}

	info := models.Room{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Kind:      kind,
		Name:      name,
		CreatedBy: creator.UserID,
		CreatedAt: time.Now().UTC(),
		Settings:  settings,
	}

	rm := &room{
		info:      info,
		members:   make(map[string]*member),
		peerUsers: make(map[string]string),
	}
	// A room starts empty, so the delete-on-empty grace clock runs from
	// creation; the first join cancels it.
	rm.scheduleDeletionLocked(r)

	r.mu.Lock()
	r.rooms[info.ID] = rm
	r.mu.Unlock()

	r.emitToFeed(kind, models.ServerEvent{
		Event:     models.EventRoomCreated,
		RoomID:    info.ID,
		Room:      &info,
		Timestamp: time.Now().UnixMilli(),
	})
	return info, nil
}

// EnsureSession returns the chat room for a session id, creating it with
// default settings on first use. Chat sessions are created implicitly by the
// first join rather than by an explicit create intent.
func (r *Registry) EnsureSession(sessionID string, creator models.Identity) models.Room {
	r.mu.Lock()
	if existing, ok := r.rooms[sessionID]; ok {
		r.mu.Unlock()
		existing.mu.Lock()
		info := existing.info
		existing.mu.Unlock()
		return info
	}
	info := models.Room{
		ID:        sessionID,
		SessionID: sessionID,
		Kind:      models.RoomKindChat,
		Name:      sessionID,
		CreatedBy: creator.UserID,
		CreatedAt: time.Now().UTC(),
		Settings:  models.DefaultChatSettings(),
	}
	rm := &room{
		info:      info,
		members:   make(map[string]*member),
		peerUsers: make(map[string]string),
	}
	rm.scheduleDeletionLocked(r)
	r.rooms[sessionID] = rm
	r.mu.Unlock()
	return info
}

func (r *Registry) lookup(roomID string) (*room, bool) {
	r.mu.RLock()
	rm, ok := r.rooms[roomID]
	r.mu.RUnlock()
	return rm, ok
}

// JoinState is the snapshot returned to a successful joiner.
type JoinState struct {
	Room    models.Room
	Members []models.Member
	Peers   []models.Peer
	Peer    *models.Peer // the joiner's own peer, webrtc rooms only
}

// JoinRoom adds identity to the room. Rejoining is idempotent: the existing
// membership is kept (with the sink refreshed) and the current state is
// returned without emitting join events.
func (r *Registry) JoinRoom(roomID string, identity models.Identity, sink Sink, media *models.MediaConstraints) (JoinState, error) {
	rm, ok := r.lookup(roomID)
	if !ok {
		return JoinState{}, models.ErrRoomNotFound
	}

	rm.mu.Lock()
	if rm.deleted {
		rm.mu.Unlock()
		return JoinState{}, models.ErrRoomNotFound
	}

	if existing, ok := rm.members[identity.UserID]; ok {
		existing.sink = sink
		state := rm.joinStateLocked(existing)
		rm.mu.Unlock()
		return state, nil
	}

	if len(rm.members) >= rm.info.Settings.MaxParticipants {
		rm.mu.Unlock()
		return JoinState{}, models.ErrRoomFull
	}

	m := &member{
		identity: identity,
		joinedAt: time.Now().UTC(),
		sink:     sink,
	}
	if rm.info.Kind == models.RoomKindWebRTC {
		mc := models.MediaConstraints{Audio: true, Video: true}
		if media != nil {
			mc = *media
		}
		m.peer = &models.Peer{
			ID:          uuid.New().String(),
			UserID:      identity.UserID,
			DisplayName: identity.DisplayName,
			Media:       mc,
			JoinedAt:    m.joinedAt,
		}
		rm.peerUsers[m.peer.ID] = identity.UserID
	}
	rm.members[identity.UserID] = m
	if rm.graceTimer != nil {
		rm.graceTimer.Stop()
		rm.graceTimer = nil
	}

	state := rm.joinStateLocked(m)
	others := rm.sinksLocked(identity.UserID)
	kind := rm.info.Kind
	rm.mu.Unlock()

	ev := models.ServerEvent{
		RoomID:      roomID,
		SessionID:   state.Room.SessionID,
		UserID:      identity.UserID,
		DisplayName: identity.DisplayName,
		Timestamp:   time.Now().UnixMilli(),
	}
	if kind == models.RoomKindWebRTC {
		ev.Event = models.EventPeerJoined
		ev.Peer = state.Peer
	} else {
		ev.Event = models.EventUserJoined
	}
	for _, s := range others {
		s.Enqueue(ev)
	}
	return state, nil
}

func (rm *room) joinStateLocked(self *member) JoinState {
	state := JoinState{Room: rm.info}
	for _, m := range rm.members {
		state.Members = append(state.Members, models.Member{
			UserID:      m.identity.UserID,
			DisplayName: m.identity.DisplayName,
			JoinedAt:    m.joinedAt,
		})
		if m.peer != nil {
			state.Peers = append(state.Peers, *m.peer)
		}
	}
	if self.peer != nil {
		p := *self.peer
		state.Peer = &p
	}
	return state
}

func (rm *room) sinksLocked(excludeUserID string) []Sink {
	out := make([]Sink, 0, len(rm.members))
	for id, m := range rm.members {
		if id == excludeUserID {
			continue
		}
		out = append(out, m.sink)
	}
	return out
}

// LeaveRoom removes identity's membership. Leaving a room one is not a
// member of is a no-op.
func (r *Registry) LeaveRoom(roomID, userID string) {
	rm, ok := r.lookup(roomID)
	if !ok {
		return
	}

	rm.mu.Lock()
	m, ok := rm.members[userID]
	if !ok || rm.deleted {
		rm.mu.Unlock()
		return
	}
	delete(rm.members, userID)
	if m.peer != nil {
		delete(rm.peerUsers, m.peer.ID)
	}
	info := rm.info
	remaining := rm.sinksLocked("")
	empty := len(rm.members) == 0
	if empty {
		rm.scheduleDeletionLocked(r)
	}
	rm.mu.Unlock()

	if r.onLeave != nil {
		r.onLeave(info, userID)
	}

	ev := models.ServerEvent{
		RoomID:      roomID,
		SessionID:   info.SessionID,
		UserID:      userID,
		DisplayName: m.identity.DisplayName,
		Timestamp:   time.Now().UnixMilli(),
	}
	if info.Kind == models.RoomKindWebRTC {
		ev.Event = models.EventPeerLeft
		if m.peer != nil {
			p := *m.peer
			ev.Peer = &p
		}
	} else {
		ev.Event = models.EventUserLeft
	}
	for _, s := range remaining {
		s.Enqueue(ev)
	}
}

// scheduleDeletionLocked arms the delete-on-empty grace timer. Rejoining
// before it fires cancels it.
func (rm *room) scheduleDeletionLocked(r *Registry) {
	if rm.graceTimer != nil {
		rm.graceTimer.Stop()
	}
	roomID := rm.info.ID
	rm.graceTimer = time.AfterFunc(r.grace, func() {
		r.reapIfEmpty(roomID)
	})
}

func (r *Registry) reapIfEmpty(roomID string) {
	rm, ok := r.lookup(roomID)
	if !ok {
		return
	}
	rm.mu.Lock()
	if rm.deleted || len(rm.members) > 0 {
		rm.mu.Unlock()
		return
	}
	rm.deleted = true
	info := rm.info
	rm.mu.Unlock()

	r.mu.Lock()
	delete(r.rooms, roomID)
	r.mu.Unlock()

	log.Printf("room %s reaped after grace period", roomID)
	if r.onDelete != nil {
		r.onDelete(info)
	}
	r.emitToFeed(info.Kind, models.ServerEvent{
		Event:     models.EventRoomDeleted,
		RoomID:    roomID,
		Timestamp: time.Now().UnixMilli(),
	})
}

// DeleteRoom tears a room down. Only the creator may delete; every member is
// evicted (a synthetic leave, including the leave hook) before room_deleted
// is emitted.
func (r *Registry) DeleteRoom(roomID string, identity models.Identity) error {
	rm, ok := r.lookup(roomID)
	if !ok {
		return models.ErrRoomNotFound
	}

	rm.mu.Lock()
	if rm.deleted {
		rm.mu.Unlock()
		return models.ErrRoomNotFound
	}
	if rm.info.CreatedBy != identity.UserID {
		rm.mu.Unlock()
		return models.ErrForbidden
	}
	rm.deleted = true
	if rm.graceTimer != nil {
		rm.graceTimer.Stop()
		rm.graceTimer = nil
	}
	info := rm.info
	evicted := make([]*member, 0, len(rm.members))
	for _, m := range rm.members {
		evicted = append(evicted, m)
	}
	rm.members = make(map[string]*member)
	rm.peerUsers = make(map[string]string)
	rm.mu.Unlock()

	r.mu.Lock()
	delete(r.rooms, roomID)
	r.mu.Unlock()

	for _, m := range evicted {
		if r.onLeave != nil {
			r.onLeave(info, m.identity.UserID)
		}
	}
	if r.onDelete != nil {
		r.onDelete(info)
	}

	ev := models.ServerEvent{
		Event:     models.EventRoomDeleted,
		RoomID:    roomID,
		SessionID: info.SessionID,
		Timestamp: time.Now().UnixMilli(),
	}
	for _, m := range evicted {
		m.sink.Enqueue(ev)
	}
	r.emitToFeed(info.Kind, ev)
	return nil
}

// UpdateSettings replaces a room's settings. Creator only. The cap may not
// be lowered below the current membership count.
func (r *Registry) UpdateSettings(roomID string, identity models.Identity, settings models.RoomSettings) (models.Room, error) {
	if err := settings.Validate(); err != nil {
		return models.Room{}, err
	}
	rm, ok := r.lookup(roomID)
	if !ok {
		return models.Room{}, models.ErrRoomNotFound
	}

	rm.mu.Lock()
	if rm.deleted {
		rm.mu.Unlock()
		return models.Room{}, models.ErrRoomNotFound
	}
	if rm.info.CreatedBy != identity.UserID {
		rm.mu.Unlock()
		return models.Room{}, models.ErrForbidden
	}
	if settings.MaxParticipants < len(rm.members) {
		rm.mu.Unlock()
		return models.Room{}, models.ErrInvalidSettings
	}
	rm.info.Settings = settings
	info := rm.info
	sinks := rm.sinksLocked("")
	rm.mu.Unlock()

	ev := models.ServerEvent{
		Event:     models.EventRoomUpdated,
		RoomID:    roomID,
		Room:      &info,
		Timestamp: time.Now().UnixMilli(),
	}
	for _, s := range sinks {
		s.Enqueue(ev)
	}
	r.emitToFeed(info.Kind, ev)
	return info, nil
}

// UpdateMedia replaces a peer's media constraints and broadcasts
// peer_updated to the room.
func (r *Registry) UpdateMedia(roomID, userID string, media models.MediaConstraints) error {
	rm, ok := r.lookup(roomID)
	if !ok {
		return models.ErrRoomNotFound
	}

	rm.mu.Lock()
	m, ok := rm.members[userID]
	if !ok || m.peer == nil {
		rm.mu.Unlock()
		return models.ErrNotAMember
	}
	m.peer.Media = media
	p := *m.peer
	sinks := rm.sinksLocked("")
	rm.mu.Unlock()

	ev := models.ServerEvent{
		Event:     models.EventPeerUpdated,
		RoomID:    roomID,
		Peer:      &p,
		Timestamp: time.Now().UnixMilli(),
	}
	for _, s := range sinks {
		s.Enqueue(ev)
	}
	return nil
}

// Room returns the room's metadata.
func (r *Registry) Room(roomID string) (models.Room, bool) {
	rm, ok := r.lookup(roomID)
	if !ok {
		return models.Room{}, false
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.deleted {
		return models.Room{}, false
	}
	return rm.info, true
}

// IsMember reports whether userID is currently joined to roomID.
func (r *Registry) IsMember(roomID, userID string) bool {
	rm, ok := r.lookup(roomID)
	if !ok {
		return false
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	_, in := rm.members[userID]
	return in && !rm.deleted
}

// Members returns a snapshot of the room's membership.
func (r *Registry) Members(roomID string) []models.Member {
	rm, ok := r.lookup(roomID)
	if !ok {
		return nil
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	out := make([]models.Member, 0, len(rm.members))
	for _, m := range rm.members {
		out = append(out, models.Member{
			UserID:      m.identity.UserID,
			DisplayName: m.identity.DisplayName,
			JoinedAt:    m.joinedAt,
		})
	}
	return out
}

// MemberCount returns the current membership size.
func (r *Registry) MemberCount(roomID string) int {
	rm, ok := r.lookup(roomID)
	if !ok {
		return 0
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return len(rm.members)
}

// Broadcast enqueues ev to every member of the room except excludeUserID
// (empty string excludes nobody).
func (r *Registry) Broadcast(roomID string, ev models.ServerEvent, excludeUserID string) {
	rm, ok := r.lookup(roomID)
	if !ok {
		return
	}
	rm.mu.Lock()
	sinks := rm.sinksLocked(excludeUserID)
	rm.mu.Unlock()
	for _, s := range sinks {
		s.Enqueue(ev)
	}
}

// SinkOf returns the member's delivery queue.
func (r *Registry) SinkOf(roomID, userID string) (Sink, bool) {
	rm, ok := r.lookup(roomID)
	if !ok {
		return nil, false
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	m, in := rm.members[userID]
	if !in {
		return nil, false
	}
	return m.sink, true
}

// PeerUser resolves a peer id to its user id within a room.
func (r *Registry) PeerUser(roomID, peerID string) (string, bool) {
	rm, ok := r.lookup(roomID)
	if !ok {
		return "", false
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	userID, in := rm.peerUsers[peerID]
	return userID, in
}

// PeerOf returns the member's peer entry, webrtc rooms only.
func (r *Registry) PeerOf(roomID, userID string) (models.Peer, bool) {
	rm, ok := r.lookup(roomID)
	if !ok {
		return models.Peer{}, false
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	m, in := rm.members[userID]
	if !in || m.peer == nil {
		return models.Peer{}, false
	}
	return *m.peer, true
}

// RoomsOf returns every room the user is currently a member of. Used for
// disconnect cleanup and presence observer resolution.
func (r *Registry) RoomsOf(userID string) []models.Room {
	r.mu.RLock()
	rooms := make([]*room, 0, len(r.rooms))
	for _, rm := range r.rooms {
		rooms = append(rooms, rm)
	}
	r.mu.RUnlock()

	var out []models.Room
	for _, rm := range rooms {
		rm.mu.Lock()
		if _, in := rm.members[userID]; in && !rm.deleted {
			out = append(out, rm.info)
		}
		rm.mu.Unlock()
	}
	return out
}

// Observers returns the sinks of every user sharing at least one room with
// userID, keyed by user id. The user's own sinks are excluded.
func (r *Registry) Observers(userID string) map[string]Sink {
	r.mu.RLock()
	rooms := make([]*room, 0, len(r.rooms))
	for _, rm := range r.rooms {
		rooms = append(rooms, rm)
	}
	r.mu.RUnlock()

	out := make(map[string]Sink)
	for _, rm := range rooms {
		rm.mu.Lock()
		if _, in := rm.members[userID]; in && !rm.deleted {
			for id, m := range rm.members {
				if id != userID {
					out[id] = m.sink
				}
			}
		}
		rm.mu.Unlock()
	}
	return out
}

// DisconnectSink leaves every room whose membership is bound to this sink.
// A membership refreshed by a newer connection of the same user is left
// alone. Returns the affected rooms.
func (r *Registry) DisconnectSink(userID string, s Sink) []models.Room {
	var affected []models.Room
	for _, info := range r.RoomsOf(userID) {
		rm, ok := r.lookup(info.ID)
		if !ok {
			continue
		}
		rm.mu.Lock()
		m, in := rm.members[userID]
		owned := in && m.sink == s
		rm.mu.Unlock()
		if owned {
			r.LeaveRoom(info.ID, userID)
			affected = append(affected, info)
		}
	}
	return affected
}
