/*
Package world contains the client-side reconciler.

This file implements event application: every inbound peer event is validated
with the same rules the server enforces before any of it touches the local
model. Invalid payloads are logged and dropped whole, never applied
partially. Duplicate joins and departures are absorbed.
*/
package world

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"worldsync/internal/app/presence"
	"worldsync/internal/pkg/logx"
)

// Reconciler folds the inbound event stream into a consistent local world
// model. Exactly one event is applied at a time; accessors return copies.
type Reconciler struct {
	mu sync.Mutex

	model model

	// lastError holds the most recent error event from the server, kept
	// separate from connectivity failures which the session surfaces.
	lastError *presence.ErrorPayload

	logger zerolog.Logger
}

// NewReconciler constructs an empty Reconciler.
func NewReconciler() *Reconciler {
	return &Reconciler{
		model:  newModel(),
		logger: logx.Logger().With().Str("component", "Reconciler").Logger(),
	}
}

// Apply validates and applies one inbound event to the world model.
func (r *Reconciler) Apply(raw []byte) {
	var event presence.Event
	if err := json.Unmarshal(raw, &event); err != nil {
		r.logger.Warn().Err(err).Msg("Dropping unparseable server event")
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	switch event.Type {
	case presence.TypeRoomUsers:
		r.applyRoomUsers(event.Payload)

	case presence.TypeUserJoined:
		r.applyUserJoined(event.Payload)

	case presence.TypeUserLeft:
		r.applyUserLeft(event.Payload)

	case presence.TypeUserMoved:
		r.applyUserMoved(event.Payload)

	case presence.TypeMessageReceived:
		r.applyMessageReceived(event.Payload)

	case presence.TypeAvatarUpdated:
		r.applyAvatarUpdated(event.Payload)

	case presence.TypeError:
		r.applyError(event.Payload)

	default:
		r.logger.Warn().Str("event_type", string(event.Type)).Msg("Dropping unknown server event")
	}
}

// applyRoomUsers replaces the peer set with the server's membership
// snapshot. The whole snapshot is validated before any of it is applied.
func (r *Reconciler) applyRoomUsers(payload json.RawMessage) {
	var snapshot presence.RoomUsersPayload
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		r.logger.Warn().Err(err).Msg("Dropping invalid roomUsers payload")
		return
	}

	room, ok := presence.SanitizeRoomID(snapshot.Room)
	if !ok {
		r.logger.Warn().Str("room", snapshot.Room).Msg("Dropping roomUsers with invalid room id")
		return
	}

	for _, user := range snapshot.Users {
		if !validPeer(user) {
			r.logger.Warn().Str("peer_id", user.ID).Msg("Dropping roomUsers with invalid peer entry")
			return
		}
	}

	peers := make(map[string]Peer, len(snapshot.Users))
	for _, user := range snapshot.Users {
		peers[user.ID] = peerFromUser(user)
	}

	r.model.room = room
	r.model.peers = peers
}

// applyUserJoined upserts the announced peer. A duplicate join for a known
// identity overwrites its fields.
func (r *Reconciler) applyUserJoined(payload json.RawMessage) {
	var joined presence.UserJoinedPayload
	if err := json.Unmarshal(payload, &joined); err != nil {
		r.logger.Warn().Err(err).Msg("Dropping invalid userJoined payload")
		return
	}

	if !validPeer(joined.User) {
		r.logger.Warn().Str("peer_id", joined.User.ID).Msg("Dropping userJoined with invalid peer")
		return
	}

	r.model.peers[joined.User.ID] = peerFromUser(joined.User)
}

// applyUserLeft removes the peer. Removing an unknown peer is a no-op.
func (r *Reconciler) applyUserLeft(payload json.RawMessage) {
	var left presence.UserLeftPayload
	if err := json.Unmarshal(payload, &left); err != nil {
		r.logger.Warn().Err(err).Msg("Dropping invalid userLeft payload")
		return
	}

	if left.ID == "" {
		r.logger.Warn().Msg("Dropping userLeft with empty id")
		return
	}

	delete(r.model.peers, left.ID)
}

// applyUserMoved updates a known peer's position. Moves for unknown peers
// are dropped; the join announcement carries the rest of their state.
func (r *Reconciler) applyUserMoved(payload json.RawMessage) {
	var moved presence.UserMovedPayload
	if err := json.Unmarshal(payload, &moved); err != nil {
		r.logger.Warn().Err(err).Msg("Dropping invalid userMoved payload")
		return
	}

	if !presence.ValidPosition(moved.Position) {
		r.logger.Warn().Str("peer_id", moved.ID).Msg("Dropping userMoved with out-of-bounds position")
		return
	}

	peer, known := r.model.peers[moved.ID]
	if !known {
		r.logger.Debug().Str("peer_id", moved.ID).Msg("Dropping userMoved for unknown peer")
		return
	}

	peer.Position = moved.Position
	r.model.peers[moved.ID] = peer
}

// applyMessageReceived appends a chat message to the bounded history.
func (r *Reconciler) applyMessageReceived(payload json.RawMessage) {
	var msg presence.ChatMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		r.logger.Warn().Err(err).Msg("Dropping invalid messageReceived payload")
		return
	}

	body, ok := presence.SanitizeMessage(msg.Body)
	if !ok {
		r.logger.Warn().Str("message_id", msg.ID).Msg("Dropping messageReceived with invalid body")
		return
	}
	msg.Body = body

	if !presence.ValidMessageKind(msg.Kind) {
		msg.Kind = presence.MessageKindChat
	}

	r.model.appendChat(msg)
}

// applyAvatarUpdated replaces a known peer's avatar, normalizing the color.
func (r *Reconciler) applyAvatarUpdated(payload json.RawMessage) {
	var updated presence.AvatarUpdatedPayload
	if err := json.Unmarshal(payload, &updated); err != nil {
		r.logger.Warn().Err(err).Msg("Dropping invalid avatarUpdated payload")
		return
	}

	peer, known := r.model.peers[updated.ID]
	if !known {
		r.logger.Debug().Str("peer_id", updated.ID).Msg("Dropping avatarUpdated for unknown peer")
		return
	}

	updated.Avatar.ColorHex = presence.NormalizeColor(updated.Avatar.ColorHex)
	peer.Avatar = updated.Avatar
	r.model.peers[updated.ID] = peer
}

// applyError records the server's rejection notice.
func (r *Reconciler) applyError(payload json.RawMessage) {
	var errEvent presence.ErrorPayload
	if err := json.Unmarshal(payload, &errEvent); err != nil {
		r.logger.Warn().Err(err).Msg("Dropping invalid error payload")
		return
	}

	r.logger.Warn().Int("code", errEvent.Code).Str("message", errEvent.Message).Msg("Server rejected an event")
	r.lastError = &errEvent
}

// ResetPeers drops all peer state while keeping the chat history. The
// session calls this when the connection is lost.
func (r *Reconciler) ResetPeers() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.model.resetPeers()
}

// Room returns the room the model currently tracks.
func (r *Reconciler) Room() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.model.room
}

// Peer returns a copy of the named peer's state.
func (r *Reconciler) Peer(id string) (Peer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	peer, ok := r.model.peers[id]
	return peer, ok
}

// Peers returns a copy of the full peer set.
func (r *Reconciler) Peers() map[string]Peer {
	r.mu.Lock()
	defer r.mu.Unlock()

	peers := make(map[string]Peer, len(r.model.peers))
	for id, peer := range r.model.peers {
		peers[id] = peer
	}
	return peers
}

// ChatHistory returns a copy of the bounded chat history, oldest first.
func (r *Reconciler) ChatHistory() []presence.ChatMessage {
	r.mu.Lock()
	defer r.mu.Unlock()

	history := make([]presence.ChatMessage, len(r.model.chat))
	copy(history, r.model.chat)
	return history
}

// LastError returns the most recent server rejection, if any.
func (r *Reconciler) LastError() *presence.ErrorPayload {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.lastError == nil {
		return nil
	}
	errCopy := *r.lastError
	return &errCopy
}

func validPeer(user presence.PublicUser) bool {
	if user.ID == "" {
		return false
	}
	if _, ok := presence.SanitizeUsername(user.Username); !ok {
		return false
	}
	return presence.ValidPosition(user.Position)
}

func peerFromUser(user presence.PublicUser) Peer {
	user.Avatar.ColorHex = presence.NormalizeColor(user.Avatar.ColorHex)
	return Peer{
		ID:       user.ID,
		Username: user.Username,
		Avatar:   user.Avatar,
		Position: user.Position,
	}
}
