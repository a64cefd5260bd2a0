/*
Package presence contains the core logic for the shared-space engine: the
connection registry, the room index, and per-connection event routing.

This file defines the data model: positions, avatars, user records, and chat
messages exchanged between participants.
*/
package presence

import (
	"time"
)

const (
	// DefaultRoom is the room every initialized user lands in unless the
	// initialization payload names another one.
	DefaultRoom = "lobby"

	// DefaultColor is substituted for any avatar color that does not match
	// the #RRGGBB form.
	DefaultColor = "#7F7F7F"

	// DefaultModelRef is the avatar model used when the client does not
	// provide one.
	DefaultModelRef = "default"
)

// Position is a location and facing inside the virtual space.
// X, Y and Z are bounded to [-1000, 1000]; Rotation to [-2π, 2π].
type Position struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Z        float64 `json:"z"`
	Rotation float64 `json:"rotation"`
}

// Avatar describes the visual representation of a user. None of it is
// interpreted by the server beyond validation; it is relayed to peers as-is.
type Avatar struct {
	ID            string   `json:"id"`
	DisplayName   string   `json:"displayName"`
	ModelRef      string   `json:"modelRef"`
	ColorHex      string   `json:"colorHex"`
	Accessories   []string `json:"accessories,omitempty"`
	LocalPosition Position `json:"localPosition"`
}

// UserRecord is the registry's live state for one connection. There is
// exactly one record per active connection identity, and the record is
// mutated only by events arriving on that same connection (or by the
// inactivity sweep).
type UserRecord struct {
	// ID is the opaque connection identity assigned at connect time.
	ID string `json:"id"`

	// Username is a self-asserted display label, not an authenticated
	// identity. 1-50 characters after sanitization.
	Username string `json:"username"`

	Avatar   Avatar   `json:"avatar"`
	Position Position `json:"position"`

	// Room is the current room id, or empty when the user is in no room.
	Room string `json:"room,omitempty"`

	// LastActivityAt is refreshed on every inbound event and drives the
	// inactivity sweep.
	LastActivityAt time.Time `json:"-"`

	// LastMoveAt is the explicit cooldown marker for position updates.
	// A move arriving within the cooldown window of this timestamp is
	// silently dropped.
	LastMoveAt time.Time `json:"-"`

	IsActive bool `json:"isActive"`
}

// PublicUser is the subset of a UserRecord broadcast to room peers.
type PublicUser struct {
	ID       string   `json:"id"`
	Username string   `json:"username"`
	Avatar   Avatar   `json:"avatar"`
	Position Position `json:"position"`
}

// Public returns the peer-visible view of the record.
func (u *UserRecord) Public() PublicUser {
	return PublicUser{
		ID:       u.ID,
		Username: u.Username,
		Avatar:   u.Avatar,
		Position: u.Position,
	}
}

// Chat message kinds.
const (
	MessageKindChat    = "chat"
	MessageKindSystem  = "system"
	MessageKindPrivate = "private"
)

// ChatMessage is a transient chat event. The engine does not persist it;
// the bounded history lives client-side in the reconciler.
type ChatMessage struct {
	ID             string `json:"id"`
	SenderID       string `json:"senderId"`
	SenderUsername string `json:"senderUsername"`
	Body           string `json:"message"`
	Timestamp      int64  `json:"timestamp"`
	Kind           string `json:"type"`
}
