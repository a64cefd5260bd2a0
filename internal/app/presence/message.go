/*
Package presence contains the core logic for the shared-space engine.

This file defines the wire protocol: the JSON event envelope and the payload
structures for every inbound and outbound event type.
*/
package presence

import (
	"encoding/json"
)

// EventType identifies an event on the wire.
type EventType string

// Inbound event types (connection -> server).
const (
	TypeInitializeUser EventType = "initializeUser"
	TypeJoinRoom       EventType = "joinRoom"
	TypeMove           EventType = "move"
	TypeSendMessage    EventType = "sendMessage"
	TypeUpdateAvatar   EventType = "updateAvatar"
)

// Outbound event types (server -> connections).
const (
	TypeRoomUsers       EventType = "roomUsers"
	TypeUserJoined      EventType = "userJoined"
	TypeUserLeft        EventType = "userLeft"
	TypeUserMoved       EventType = "userMoved"
	TypeMessageReceived EventType = "messageReceived"
	TypeAvatarUpdated   EventType = "avatarUpdated"
	TypeError           EventType = "error"
)

// Event is the envelope every wire message travels in.
type Event struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// EncodeEvent marshals a payload into a ready-to-send envelope.
func EncodeEvent(t EventType, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Event{Type: t, Payload: raw})
}

// InitPayload carries the self-asserted identity a connection announces
// before it can participate. Avatar, position and room are optional and
// fall back to defaults.
type InitPayload struct {
	Username string       `json:"username"`
	Avatar   *AvatarPatch `json:"avatar,omitempty"`
	Position *Position    `json:"position,omitempty"`
	Room     string       `json:"room,omitempty"`
}

// JoinRoomPayload names the room to move into.
type JoinRoomPayload struct {
	RoomID string `json:"roomId"`
}

// ChatPayload is an outgoing chat message draft. Kind defaults to "chat".
type ChatPayload struct {
	Message string `json:"message"`
	Kind    string `json:"type,omitempty"`
}

// AvatarPatch is a partial avatar update. Nil fields keep their current
// value; invalid fields fall back to defaults instead of failing the update.
type AvatarPatch struct {
	ID            *string   `json:"id,omitempty"`
	DisplayName   *string   `json:"displayName,omitempty"`
	ModelRef      *string   `json:"modelRef,omitempty"`
	ColorHex      *string   `json:"colorHex,omitempty"`
	Accessories   []string  `json:"accessories,omitempty"`
	LocalPosition *Position `json:"localPosition,omitempty"`
}

// RoomUsersPayload is the membership snapshot sent to a joining connection.
// It never contains the joiner itself.
type RoomUsersPayload struct {
	Room  string       `json:"room"`
	Users []PublicUser `json:"users"`
}

// UserJoinedPayload announces a new room peer.
type UserJoinedPayload struct {
	User PublicUser `json:"user"`
}

// UserLeftPayload announces a departed room peer.
type UserLeftPayload struct {
	ID string `json:"id"`
}

// UserMovedPayload announces a peer position change.
type UserMovedPayload struct {
	ID       string   `json:"id"`
	Position Position `json:"position"`
}

// AvatarUpdatedPayload announces a peer avatar change.
type AvatarUpdatedPayload struct {
	ID     string `json:"id"`
	Avatar Avatar `json:"avatar"`
}

// ErrorPayload notifies the acting connection about a rejected event.
type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}
