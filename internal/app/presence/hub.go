/*
Package presence contains the core logic for the shared-space engine.

This file defines the Hub, the single lifecycle-scoped owner of all live
server state: the connection registry (user records), the room index, and the
per-origin connection counters. Every mutating operation runs under one
coarse mutex, so a registry record and the room index are never observed
out of step with each other.
*/
package presence

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"worldsync/internal/pkg/errs"
	"worldsync/internal/pkg/logx"
)

// Defaults for the Hub's timing and admission knobs.
const (
	DefaultMoveCooldown      = 100 * time.Millisecond
	DefaultInactivityTimeout = 5 * time.Minute
	DefaultSweepInterval     = 60 * time.Second
	DefaultMaxConnsPerOrigin = 10
)

// EventSink receives encoded outbound events for one connection.
// Enqueue must never block; it reports false when the event was dropped
// because the sink is full or closed.
type EventSink interface {
	Enqueue(event []byte) bool
}

// Options configures a Hub. Zero values fall back to the package defaults;
// a negative SweepInterval disables the background sweep (tests drive
// SweepInactive directly).
type Options struct {
	MoveCooldown      time.Duration
	InactivityTimeout time.Duration
	SweepInterval     time.Duration
	MaxConnsPerOrigin int

	// Now overrides the clock, for deterministic cooldown and sweep tests.
	Now func() time.Time
}

// Stats is the operational snapshot served by the statistics endpoint.
type Stats struct {
	ConnectedUsers int `json:"connectedUsers"`
	ActiveRooms    int `json:"activeRooms"`
	Connections    int `json:"connections"`
}

// Hub owns all live presence state. It is constructed at service start,
// passed by reference to every connection handler, and torn down at service
// stop. All maps are guarded by mu; no operation holds the lock across I/O.
type Hub struct {
	mu sync.Mutex

	// users is the connection registry, keyed by connection identity.
	users map[string]*UserRecord

	// rooms is the room index: room id -> set of member identities.
	// A room exists iff its set is non-empty.
	rooms map[string]map[string]struct{}

	// sinks maps a connection identity to its outbound event sink.
	sinks map[string]EventSink

	// originConns counts active connections per network origin.
	originConns map[string]int

	moveCooldown      time.Duration
	inactivityTimeout time.Duration
	maxConnsPerOrigin int
	now               func() time.Time

	stop   chan struct{}
	wg     sync.WaitGroup
	logger zerolog.Logger
}

// NewHub constructs a Hub and, unless disabled, starts the periodic
// inactivity sweep. Callers must eventually call Shutdown.
func NewHub(opts Options) *Hub {
	if opts.MoveCooldown == 0 {
		opts.MoveCooldown = DefaultMoveCooldown
	}
	if opts.InactivityTimeout == 0 {
		opts.InactivityTimeout = DefaultInactivityTimeout
	}
	if opts.SweepInterval == 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.MaxConnsPerOrigin == 0 {
		opts.MaxConnsPerOrigin = DefaultMaxConnsPerOrigin
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	h := &Hub{
		users:             make(map[string]*UserRecord),
		rooms:             make(map[string]map[string]struct{}),
		sinks:             make(map[string]EventSink),
		originConns:       make(map[string]int),
		moveCooldown:      opts.MoveCooldown,
		inactivityTimeout: opts.InactivityTimeout,
		maxConnsPerOrigin: opts.MaxConnsPerOrigin,
		now:               opts.Now,
		stop:              make(chan struct{}),
		logger:            logx.Logger().With().Str("component", "Hub").Logger(),
	}

	if opts.SweepInterval > 0 {
		h.wg.Add(1)
		go h.runSweepLoop(opts.SweepInterval)
	}

	return h
}

// runSweepLoop periodically reclaims state for clients that vanished without
// a clean disconnect. It takes the same lock as live event handlers, so it
// never races a join or leave.
func (h *Hub) runSweepLoop(interval time.Duration) {
	defer h.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	h.logger.Info().Dur("interval", interval).Msg("Inactivity sweep loop started.")

	for {
		select {
		case <-ticker.C:
			if removed := h.SweepInactive(h.now()); removed > 0 {
				h.logger.Info().Int("removed", removed).Msg("Inactivity sweep removed stale users.")
			}
		case <-h.stop:
			h.logger.Info().Msg("Inactivity sweep loop stopped.")
			return
		}
	}
}

// AcquireOrigin admits a new physical connection from the given origin, or
// rejects it when the per-origin ceiling is reached. Admission happens before
// any registry state exists for the connection.
func (h *Hub) AcquireOrigin(origin string) *errs.CustomError {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.originConns[origin] >= h.maxConnsPerOrigin {
		h.logger.Warn().
			Str("origin", origin).
			Int("ceiling", h.maxConnsPerOrigin).
			Msg("Connection rejected: per-origin ceiling reached.")
		return errs.NewError(errs.ErrCapacityExceeded)
	}

	h.originConns[origin]++
	return nil
}

// ReleaseOrigin decrements the origin's connection count, removing the entry
// when it reaches zero. Safe to call for unknown origins.
func (h *Hub) ReleaseOrigin(origin string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if n, ok := h.originConns[origin]; ok {
		if n <= 1 {
			delete(h.originConns, origin)
		} else {
			h.originConns[origin] = n - 1
		}
	}
}

// Register creates the connection's user record from its self-asserted
// initialization payload. Avatar and position fall back to defaults when
// absent or invalid; only the username can reject the registration. A record
// already present for the identity is replaced, which makes re-announcement
// after reconnect idempotent. The caller performs the implicit room join.
func (h *Hub) Register(id string, sink EventSink, init InitPayload) *errs.CustomError {
	username, ok := SanitizeUsername(init.Username)
	if !ok {
		return errs.NewError(errs.ErrInvalidUserData)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	rec := &UserRecord{
		ID:             id,
		Username:       username,
		Avatar:         defaultAvatar(username),
		LastActivityAt: h.now(),
		IsActive:       true,
	}
	if init.Position != nil && ValidPosition(*init.Position) {
		rec.Position = *init.Position
	}
	if init.Avatar != nil {
		applyAvatarPatch(&rec.Avatar, *init.Avatar)
	}

	if old, exists := h.users[id]; exists && old.Room != "" {
		// Stale record from a previous announcement on the same connection.
		h.removeFromRoomLocked(id, old.Room, true)
	}
	h.users[id] = rec
	h.sinks[id] = sink

	h.logger.Info().Str("client_id", id).Str("username", username).Msg("User registered.")
	return nil
}

// Touch refreshes the identity's activity timestamp. It never fails; unknown
// identities are ignored.
func (h *Hub) Touch(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if rec, ok := h.users[id]; ok {
		rec.LastActivityAt = h.now()
	}
}

// JoinRoom moves the identity into the named room: an atomic leave of the
// previous room and join of the new one, so the registry record and the room
// index always agree.
func (h *Hub) JoinRoom(id, roomID string) *errs.CustomError {
	clean, ok := SanitizeRoomID(roomID)
	if !ok {
		return errs.NewError(errs.ErrInvalidRoomID)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	rec, exists := h.users[id]
	if !exists {
		return errs.NewError(errs.ErrNotInitialized)
	}

	h.joinRoomLocked(rec, clean)
	return nil
}

// joinRoomLocked performs the membership move and the associated fan-out:
// userLeft to the old room, the roomUsers snapshot to the joiner, and
// userJoined to the new room's other members. The snapshot is taken in the
// same critical section as the insertion, so it can neither miss nor
// duplicate a peer relative to subsequent join notifications.
func (h *Hub) joinRoomLocked(rec *UserRecord, roomID string) {
	if rec.Room == roomID {
		// Re-join of the current room just refreshes the snapshot.
		h.sendLocked(rec.ID, TypeRoomUsers, h.snapshotLocked(roomID, rec.ID))
		return
	}

	if rec.Room != "" {
		h.removeFromRoomLocked(rec.ID, rec.Room, true)
	}

	members, ok := h.rooms[roomID]
	if !ok {
		members = make(map[string]struct{})
		h.rooms[roomID] = members
	}
	members[rec.ID] = struct{}{}
	rec.Room = roomID

	h.logger.Info().
		Str("client_id", rec.ID).
		Str("room_id", roomID).
		Int("members", len(members)).
		Msg("Client joined room.")

	h.sendLocked(rec.ID, TypeRoomUsers, h.snapshotLocked(roomID, rec.ID))
	h.broadcastLocked(roomID, rec.ID, TypeUserJoined, UserJoinedPayload{User: rec.Public()})
}

// snapshotLocked builds the peer list for a room, excluding one identity.
func (h *Hub) snapshotLocked(roomID, exclude string) RoomUsersPayload {
	members := h.rooms[roomID]
	users := make([]PublicUser, 0, len(members))
	for memberID := range members {
		if memberID == exclude {
			continue
		}
		if member, ok := h.users[memberID]; ok {
			users = append(users, member.Public())
		}
	}
	return RoomUsersPayload{Room: roomID, Users: users}
}

// removeFromRoomLocked removes the identity from the room's member set,
// deletes the room when it empties, and optionally announces the departure
// to the remaining members. The identity is out of the index before the
// broadcast runs, so it never receives its own departure.
func (h *Hub) removeFromRoomLocked(id, roomID string, announce bool) {
	members, ok := h.rooms[roomID]
	if !ok {
		return
	}

	delete(members, id)
	if rec, ok := h.users[id]; ok && rec.Room == roomID {
		rec.Room = ""
	}

	if len(members) == 0 {
		delete(h.rooms, roomID)
		h.logger.Info().Str("room_id", roomID).Msg("Room is empty and was removed.")
		return
	}

	if announce {
		h.broadcastLocked(roomID, "", TypeUserLeft, UserLeftPayload{ID: id})
	}
}

// Move applies a position update. Updates from identities outside any room
// are no-ops, and updates inside the cooldown window are silently dropped
// rather than answered with an error event.
func (h *Hub) Move(id string, pos Position) *errs.CustomError {
	h.mu.Lock()
	defer h.mu.Unlock()

	rec, exists := h.users[id]
	if !exists || rec.Room == "" {
		return nil
	}

	if !ValidPosition(pos) {
		return errs.NewError(errs.ErrInvalidPosition)
	}

	now := h.now()
	if !rec.LastMoveAt.IsZero() && now.Sub(rec.LastMoveAt) < h.moveCooldown {
		return nil
	}

	rec.Position = pos
	rec.LastMoveAt = now

	h.broadcastLocked(rec.Room, id, TypeUserMoved, UserMovedPayload{ID: id, Position: pos})
	return nil
}

// Chat validates and broadcasts a chat message to the sender's room. The
// sender is included: clients render the canonical server echo, not their
// local draft.
func (h *Hub) Chat(id, body, kind string) *errs.CustomError {
	clean, ok := SanitizeMessage(body)
	if !ok {
		return errs.NewError(errs.ErrInvalidMessage)
	}

	if !ValidMessageKind(kind) {
		kind = MessageKindChat
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	rec, exists := h.users[id]
	if !exists {
		return errs.NewError(errs.ErrNotInitialized)
	}
	if rec.Room == "" {
		return nil
	}

	msg := ChatMessage{
		ID:             uuid.NewString(),
		SenderID:       id,
		SenderUsername: rec.Username,
		Body:           clean,
		Timestamp:      h.now().UnixMilli(),
		Kind:           kind,
	}

	h.broadcastLocked(rec.Room, "", TypeMessageReceived, msg)
	return nil
}

// UpdateAvatar merges the patch over the identity's current avatar and
// announces the result to room peers. Invalid patch fields fall back to
// defaults instead of failing the whole update.
func (h *Hub) UpdateAvatar(id string, patch AvatarPatch) *errs.CustomError {
	h.mu.Lock()
	defer h.mu.Unlock()

	rec, exists := h.users[id]
	if !exists {
		return errs.NewError(errs.ErrNotInitialized)
	}

	applyAvatarPatch(&rec.Avatar, patch)

	if rec.Room != "" {
		h.broadcastLocked(rec.Room, id, TypeAvatarUpdated, AvatarUpdatedPayload{ID: id, Avatar: rec.Avatar})
	}
	return nil
}

// Disconnect removes every trace of the identity: room membership, registry
// record, and outbound sink. It is idempotent; the userLeft announcement
// reaches the former room exactly once.
func (h *Hub) Disconnect(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.removeUserLocked(id)
}

// removeUserLocked is the shared teardown used by Disconnect and the sweep.
func (h *Hub) removeUserLocked(id string) {
	rec, exists := h.users[id]
	if !exists {
		return
	}

	if rec.Room != "" {
		h.removeFromRoomLocked(id, rec.Room, true)
	}

	delete(h.users, id)
	delete(h.sinks, id)

	h.logger.Info().Str("client_id", id).Msg("Client unregistered.")
}

// SweepInactive removes every user whose last activity is older than the
// inactivity timeout, maintaining the room index for each removal. It
// returns the number of records reclaimed.
func (h *Hub) SweepInactive(now time.Time) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	var stale []string
	for id, rec := range h.users {
		if now.Sub(rec.LastActivityAt) > h.inactivityTimeout {
			stale = append(stale, id)
		}
	}

	for _, id := range stale {
		h.logger.Info().Str("client_id", id).Msg("Removing inactive user.")
		h.removeUserLocked(id)
	}

	return len(stale)
}

// User returns a copy of the identity's registry record.
func (h *Hub) User(id string) (UserRecord, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rec, ok := h.users[id]
	if !ok {
		return UserRecord{}, false
	}
	return *rec, true
}

// RoomMembers returns the identities currently in the room, or nil when the
// room does not exist.
func (h *Hub) RoomMembers(roomID string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.rooms[roomID]
	if !ok {
		return nil
	}

	ids := make([]string, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	return ids
}

// Stats reports the current liveness counters.
func (h *Hub) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()

	connections := 0
	for _, n := range h.originConns {
		connections += n
	}

	return Stats{
		ConnectedUsers: len(h.users),
		ActiveRooms:    len(h.rooms),
		Connections:    connections,
	}
}

// Shutdown stops the sweep loop and deterministically clears the registry,
// the room index, and the per-origin counters.
func (h *Hub) Shutdown() {
	close(h.stop)
	h.wg.Wait()

	h.mu.Lock()
	h.users = make(map[string]*UserRecord)
	h.rooms = make(map[string]map[string]struct{})
	h.sinks = make(map[string]EventSink)
	h.originConns = make(map[string]int)
	h.mu.Unlock()

	h.logger.Info().Msg("Hub shutdown complete.")
}

// broadcastLocked encodes the event once and fans it out to every member of
// the room except the excluded identity. Sinks that cannot accept the event
// drop it; a closed connection has already left the index by the time its
// teardown finishes, so late broadcasts simply find no sink.
func (h *Hub) broadcastLocked(roomID, exclude string, t EventType, payload any) {
	event, err := EncodeEvent(t, payload)
	if err != nil {
		h.logger.Error().Err(err).Str("event_type", string(t)).Msg("Failed to encode broadcast event.")
		return
	}

	for memberID := range h.rooms[roomID] {
		if memberID == exclude {
			continue
		}
		h.deliverLocked(memberID, t, event)
	}
}

// sendLocked encodes and delivers an event to a single identity.
func (h *Hub) sendLocked(id string, t EventType, payload any) {
	event, err := EncodeEvent(t, payload)
	if err != nil {
		h.logger.Error().Err(err).Str("event_type", string(t)).Msg("Failed to encode event.")
		return
	}
	h.deliverLocked(id, t, event)
}

func (h *Hub) deliverLocked(id string, t EventType, event []byte) {
	sink, ok := h.sinks[id]
	if !ok {
		return
	}
	if !sink.Enqueue(event) {
		h.logger.Warn().
			Str("client_id", id).
			Str("event_type", string(t)).
			Msg("Client send queue full or closed, dropping event.")
	}
}

// defaultAvatar builds the avatar assigned to users that announce none.
func defaultAvatar(username string) Avatar {
	return Avatar{
		ID:          uuid.NewString(),
		DisplayName: username,
		ModelRef:    DefaultModelRef,
		ColorHex:    DefaultColor,
	}
}

// applyAvatarPatch merges the provided fields over the avatar. String fields
// that sanitize to empty keep their current value; colors that do not match
// #RRGGBB become the default color.
func applyAvatarPatch(avatar *Avatar, patch AvatarPatch) {
	if patch.ID != nil {
		if clean := SanitizeText(*patch.ID); clean != "" {
			avatar.ID = clean
		}
	}
	if patch.DisplayName != nil {
		if clean, ok := SanitizeUsername(*patch.DisplayName); ok {
			avatar.DisplayName = clean
		}
	}
	if patch.ModelRef != nil {
		if clean := SanitizeText(*patch.ModelRef); clean != "" {
			avatar.ModelRef = clean
		}
	}
	if patch.ColorHex != nil {
		avatar.ColorHex = NormalizeColor(*patch.ColorHex)
	}
	if patch.Accessories != nil {
		seen := make(map[string]struct{}, len(patch.Accessories))
		tags := make([]string, 0, len(patch.Accessories))
		for _, tag := range patch.Accessories {
			clean := SanitizeText(tag)
			if clean == "" {
				continue
			}
			if _, dup := seen[clean]; dup {
				continue
			}
			seen[clean] = struct{}{}
			tags = append(tags, clean)
		}
		avatar.Accessories = tags
	}
	if patch.LocalPosition != nil && ValidPosition(*patch.LocalPosition) {
		avatar.LocalPosition = *patch.LocalPosition
	}
}
