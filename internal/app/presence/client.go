/*
Package presence contains the core logic for the shared-space engine.

This file defines the Client struct, the per-connection event router. It owns
the WebSocket read/write pumps, the connection's state machine, and the
dispatch of inbound events into the Hub. Failures in one connection's
handlers degrade to an error event on that connection only.
*/
package presence

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"worldsync/internal/pkg/errs"
	"worldsync/internal/pkg/logx"
)

const (
	// timeout duration for writing to the WebSocket connection.
	writeWait = 10 * time.Second

	// maximum time allowed for the server to wait for a Pong message from the client.
	pongWait = 60 * time.Second

	// frequency at which the server sends a Ping message.
	pingPeriod = (pongWait * 9) / 10

	// maximum allowed size (in bytes) of a message sent by the client.
	maxMessageSize = 8192

	// capacity of the per-connection outbound queue.
	sendQueueSize = 256
)

// connState tracks where a connection is in its lifecycle. It is only
// touched from the connection's ReadPump goroutine.
type connState int

const (
	// stateConnected: transport open, no user announced yet.
	stateConnected connState = iota

	// stateInitialized: user record registered, implicit join still pending.
	stateInitialized

	// stateInRoom: participating in a room.
	stateInRoom

	// stateDisconnected: terminal.
	stateDisconnected
)

// Client represents one active WebSocket connection and routes its events.
type Client struct {
	hub  *Hub
	conn *websocket.Conn

	// id is the opaque connection identity, assigned at connect time.
	id string

	// origin is the network origin charged against the per-origin ceiling.
	origin string

	state connState

	// send is the buffered outbound queue drained by WritePump.
	send chan []byte

	cleanupOnce sync.Once

	logger zerolog.Logger
}

// NewClient constructs a Client for a freshly upgraded connection.
func NewClient(hub *Hub, conn *websocket.Conn, origin string) *Client {
	id := uuid.NewString()

	clientLogger := logx.Logger().With().
		Str("client_id", id).
		Str("origin", origin).
		Logger()

	return &Client{
		hub:    hub,
		conn:   conn,
		id:     id,
		origin: origin,
		state:  stateConnected,
		send:   make(chan []byte, sendQueueSize),
		logger: clientLogger,
	}
}

// ID returns the connection identity.
func (c *Client) ID() string {
	return c.id
}

// Enqueue implements EventSink. It never blocks; a full queue drops the
// event. The Hub only calls this while the sink is registered, which ends
// before the channel is closed during teardown.
func (c *Client) Enqueue(event []byte) bool {
	select {
	case c.send <- event:
		return true
	default:
		return false
	}
}

// ReadPump reads events from the WebSocket connection until it closes,
// handling heartbeats and dispatching each event. Teardown runs exactly once
// regardless of how the connection ends.
func (c *Client) ReadPump() {
	defer c.cleanupOnDisconnect()

	c.conn.SetReadLimit(maxMessageSize)

	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set read deadline")
		return
	}

	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, messageBytes, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Info().Err(err).Msg("Error reading message (client close/going away)")
			}
			break
		}

		c.dispatch(messageBytes)
	}
}

// cleanupOnDisconnect tears the connection down: registry and room index
// cleanup (which announces userLeft to the former room), origin counter
// release, and transport close. The Hub removes the sink under its own lock
// before this closes the send channel, so no late enqueue can land on it.
func (c *Client) cleanupOnDisconnect() {
	c.cleanupOnce.Do(func() {
		c.logger.Info().Msg("Client connection cleanup starting.")

		c.state = stateDisconnected
		c.hub.Disconnect(c.id)
		c.hub.ReleaseOrigin(c.origin)

		close(c.send)

		if err := c.conn.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("Client connection close error")
		}
	})
}

// dispatch parses the envelope and routes the event to its handler. A panic
// in a handler is contained to this connection and surfaces as an error
// event to the sender.
func (c *Client) dispatch(messageBytes []byte) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().Interface("panic", r).Msg("Recovered from panic in event handler")
			c.SendError(errs.NewError(errs.ErrUnknown))
		}
	}()

	var event Event
	if err := json.Unmarshal(messageBytes, &event); err != nil {
		c.logger.Warn().Err(err).Msg("Client sent invalid JSON")
		c.SendError(errs.NewError(errs.ErrInvalidJSONFormat))
		return
	}

	c.hub.Touch(c.id)

	switch event.Type {
	case TypeInitializeUser:
		c.handleInitializeUser(event.Payload)

	case TypeJoinRoom:
		c.handleJoinRoom(event.Payload)

	case TypeMove:
		c.handleMove(event.Payload)

	case TypeSendMessage:
		c.handleSendMessage(event.Payload)

	case TypeUpdateAvatar:
		c.handleUpdateAvatar(event.Payload)

	default:
		c.logger.Warn().Str("event_type", string(event.Type)).Msg("Client sent unsupported event type")
	}
}

// handleInitializeUser registers the self-asserted user record and performs
// the implicit join into the requested or default room. Re-announcing over
// the same connection replaces the record.
func (c *Client) handleInitializeUser(payload json.RawMessage) {
	if c.state == stateDisconnected {
		return
	}

	var init InitPayload
	if err := json.Unmarshal(payload, &init); err != nil {
		c.logger.Warn().Err(err).Msg("Client sent invalid initializeUser payload")
		c.SendError(errs.NewError(errs.ErrInvalidUserData))
		return
	}

	if customErr := c.hub.Register(c.id, c, init); customErr != nil {
		c.SendError(customErr)
		return
	}
	c.state = stateInitialized

	room := DefaultRoom
	if init.Room != "" {
		if clean, ok := SanitizeRoomID(init.Room); ok {
			room = clean
		}
	}

	if customErr := c.hub.JoinRoom(c.id, room); customErr != nil {
		c.SendError(customErr)
		return
	}
	c.state = stateInRoom
}

// handleJoinRoom moves the user into another room.
func (c *Client) handleJoinRoom(payload json.RawMessage) {
	if c.state != stateInitialized && c.state != stateInRoom {
		c.SendError(errs.NewError(errs.ErrNotInitialized))
		return
	}

	var join JoinRoomPayload
	if err := json.Unmarshal(payload, &join); err != nil {
		c.logger.Warn().Err(err).Msg("Client sent invalid joinRoom payload")
		c.SendError(errs.NewError(errs.ErrInvalidRoomID))
		return
	}

	if customErr := c.hub.JoinRoom(c.id, join.RoomID); customErr != nil {
		c.SendError(customErr)
		return
	}
	c.state = stateInRoom
}

// handleMove applies a position update. Moves outside a room are no-ops,
// and unparseable move payloads are dropped without an error event.
func (c *Client) handleMove(payload json.RawMessage) {
	if c.state != stateInRoom {
		return
	}

	var pos Position
	if err := json.Unmarshal(payload, &pos); err != nil {
		c.logger.Warn().Err(err).Msg("Client sent invalid move payload")
		return
	}

	if customErr := c.hub.Move(c.id, pos); customErr != nil {
		c.SendError(customErr)
	}
}

// handleSendMessage validates and broadcasts a chat message.
func (c *Client) handleSendMessage(payload json.RawMessage) {
	if c.state != stateInRoom {
		return
	}

	var chat ChatPayload
	if err := json.Unmarshal(payload, &chat); err != nil {
		c.logger.Warn().Err(err).Msg("Client sent invalid sendMessage payload")
		c.SendError(errs.NewError(errs.ErrInvalidMessage))
		return
	}

	if customErr := c.hub.Chat(c.id, chat.Message, chat.Kind); customErr != nil {
		c.SendError(customErr)
	}
}

// handleUpdateAvatar merges a partial avatar update.
func (c *Client) handleUpdateAvatar(payload json.RawMessage) {
	if c.state != stateInitialized && c.state != stateInRoom {
		c.SendError(errs.NewError(errs.ErrNotInitialized))
		return
	}

	var patch AvatarPatch
	if err := json.Unmarshal(payload, &patch); err != nil {
		c.logger.Warn().Err(err).Msg("Client sent invalid updateAvatar payload")
		c.SendError(errs.NewError(errs.ErrInvalidAvatar))
		return
	}

	if customErr := c.hub.UpdateAvatar(c.id, patch); customErr != nil {
		c.SendError(customErr)
	}
}

// SendError queues an error event for the acting connection.
func (c *Client) SendError(customErr *errs.CustomError) {
	event, err := EncodeEvent(TypeError, ErrorPayload{
		Code:    customErr.Code,
		Message: customErr.Message,
	})
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to encode error event")
		return
	}

	if !c.Enqueue(event) {
		c.logger.Warn().Int("queue_len", len(c.send)).Msg("Client send channel full, dropping error event")
	}
}

// WritePump drains the send queue onto the WebSocket connection and keeps
// the heartbeat going. It exits when the queue closes or a write fails.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()

		if err := c.conn.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("Client connection close error in WritePump")
		}
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !c.writeQueuedMessage(message, ok) {
				return
			}

		case <-ticker.C:
			if !c.writePingMessage() {
				return
			}
		}
	}
}

// writeQueuedMessage writes one queued event to the WebSocket.
// Returns false when the WritePump loop should terminate.
func (c *Client) writeQueuedMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline")
		return false
	}

	if !ok {
		if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
			c.logger.Debug().Err(err).Msg("Error writing close message")
		}
		return false
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		c.logger.Error().Err(err).Msg("Error writing message")
		return false
	}

	return true
}

// writePingMessage sends the periodic heartbeat Ping.
// Returns false when the WritePump loop should terminate.
func (c *Client) writePingMessage() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline on ping")
		return false
	}

	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.logger.Error().Err(err).Msg("Error writing ping")
		return false
	}

	return true
}
