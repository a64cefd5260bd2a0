/*
Package world contains the client-side reconciler.

This file implements the Session: the connectivity state machine that dials
the server, re-announces the local identity after every (re)connection,
pumps inbound events into the Reconciler, and retries with a fixed backoff
up to a bounded attempt count before giving up.
*/
package world

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"worldsync/internal/app/presence"
	"worldsync/internal/pkg/errs"
	"worldsync/internal/pkg/logx"
)

// ConnState is the session's connectivity state.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateBackoffWait

	// StateExhausted is terminal: the bounded reconnect attempts are spent
	// and only manual intervention (a full restart) leaves it.
	StateExhausted
)

// String returns the state name for logs.
func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateBackoffWait:
		return "backoff-wait"
	case StateExhausted:
		return "exhausted"
	}
	return "unknown"
}

const (
	// DefaultBackoff is the fixed wait between reconnect attempts.
	DefaultBackoff = 2 * time.Second

	// DefaultMaxAttempts bounds consecutive failed reconnects.
	DefaultMaxAttempts = 5
)

// Conn abstracts the transport so the session logic is testable without a
// network.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens a Conn to the server.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebsocketDialer is the production Dialer, backed by gorilla/websocket.
type WebsocketDialer struct{}

// Dial opens a WebSocket connection to the given URL.
func (WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// SessionOptions tunes a Session. Zero values fall back to defaults.
type SessionOptions struct {
	Dialer      Dialer
	Backoff     time.Duration
	MaxAttempts int

	// MoveCooldown throttles outbound position updates, mirroring the
	// server cadence so over-eager sends are never wasted.
	MoveCooldown time.Duration

	// Now and Sleep override time handling, for deterministic tests.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Session owns one logical connection to the server on behalf of a local
// identity. Outbound actions may arrive from any goroutine; they serialize
// on the session lock before hitting the transport.
type Session struct {
	mu sync.Mutex

	url        string
	identity   presence.InitPayload
	reconciler *Reconciler

	dialer       Dialer
	backoff      time.Duration
	maxAttempts  int
	moveCooldown time.Duration
	now          func() time.Time
	sleep        func(ctx context.Context, d time.Duration) error

	state        ConnState
	attempts     int
	conn         Conn
	lastMoveSent time.Time

	logger zerolog.Logger
}

// NewSession constructs a Session for the given server URL and self-asserted
// identity. The identity is re-announced on every successful (re)connection:
// the client, not the server, is the source of truth for who it claims to be.
func NewSession(url string, identity presence.InitPayload, reconciler *Reconciler, opts SessionOptions) *Session {
	if opts.Dialer == nil {
		opts.Dialer = WebsocketDialer{}
	}
	if opts.Backoff == 0 {
		opts.Backoff = DefaultBackoff
	}
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.MoveCooldown == 0 {
		opts.MoveCooldown = presence.DefaultMoveCooldown
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}

	return &Session{
		url:          url,
		identity:     identity,
		reconciler:   reconciler,
		dialer:       opts.Dialer,
		backoff:      opts.Backoff,
		maxAttempts:  opts.MaxAttempts,
		moveCooldown: opts.MoveCooldown,
		now:          opts.Now,
		sleep:        opts.Sleep,
		state:        StateDisconnected,
		logger:       logx.Logger().With().Str("component", "Session").Logger(),
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the current connectivity state.
func (s *Session) State() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(state ConnState) {
	s.mu.Lock()
	prev := s.state
	s.state = state
	s.mu.Unlock()

	if prev != state {
		s.logger.Info().Str("from", prev.String()).Str("to", state.String()).Msg("Connectivity state changed")
	}
}

// Run connects and processes the inbound event stream until the context is
// canceled or the reconnect budget is exhausted. On exhaustion it returns a
// ReconnectExhausted error and leaves the session in StateExhausted.
func (s *Session) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			s.setState(StateDisconnected)
			return nil
		}

		s.setState(StateConnecting)

		conn, err := s.dialer.Dial(ctx, s.url)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Connection attempt failed")
			if retryErr := s.waitForRetry(ctx); retryErr != nil {
				return retryErr
			}
			continue
		}

		s.mu.Lock()
		s.conn = conn
		s.attempts = 0
		s.state = StateConnected
		s.mu.Unlock()
		s.logger.Info().Str("url", s.url).Msg("Connected")

		if err := s.announce(); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to announce identity")
		}

		s.readLoop(conn)

		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		s.reconciler.ResetPeers()

		if ctx.Err() != nil {
			s.setState(StateDisconnected)
			return nil
		}

		if retryErr := s.waitForRetry(ctx); retryErr != nil {
			return retryErr
		}
	}
}

// waitForRetry consumes one reconnect attempt and sleeps the fixed backoff.
// It returns a non-nil error when the session must stop: context canceled or
// attempts exhausted.
func (s *Session) waitForRetry(ctx context.Context) error {
	s.mu.Lock()
	s.attempts++
	attempts := s.attempts
	s.mu.Unlock()

	if attempts > s.maxAttempts {
		s.setState(StateExhausted)
		s.logger.Error().Int("attempts", s.maxAttempts).Msg("Reconnect attempts exhausted, giving up")
		return errs.NewError(errs.ErrReconnectExhausted)
	}

	s.setState(StateBackoffWait)
	s.logger.Info().
		Int("attempt", attempts).
		Int("max_attempts", s.maxAttempts).
		Dur("backoff", s.backoff).
		Msg("Waiting before reconnect")

	if err := s.sleep(ctx, s.backoff); err != nil {
		s.setState(StateDisconnected)
		return nil
	}
	return nil
}

// announce re-sends the stored identity as an initializeUser event so the
// server-side registry is repopulated after a reconnect.
func (s *Session) announce() error {
	return s.writeEvent(presence.TypeInitializeUser, s.identity)
}

// readLoop pumps inbound events into the reconciler until the transport
// fails or closes.
func (s *Session) readLoop(conn Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			s.logger.Info().Err(err).Msg("Connection closed")
			conn.Close()
			return
		}
		s.reconciler.Apply(raw)
	}
}

// SendMove transmits a position update. Invalid positions are rejected and
// updates inside the cooldown window are dropped locally, mirroring the
// server's handling.
func (s *Session) SendMove(pos presence.Position) error {
	if !presence.ValidPosition(pos) {
		return errs.NewError(errs.ErrInvalidPosition)
	}

	s.mu.Lock()
	if s.state != StateConnected {
		s.mu.Unlock()
		return nil
	}
	now := s.now()
	if !s.lastMoveSent.IsZero() && now.Sub(s.lastMoveSent) < s.moveCooldown {
		s.mu.Unlock()
		return nil
	}
	s.lastMoveSent = now
	s.mu.Unlock()

	return s.writeEvent(presence.TypeMove, pos)
}

// SendChat transmits a chat message draft. The canonical copy comes back as
// a messageReceived echo.
func (s *Session) SendChat(body, kind string) error {
	if _, ok := presence.SanitizeMessage(body); !ok {
		return errs.NewError(errs.ErrInvalidMessage)
	}
	return s.writeEvent(presence.TypeSendMessage, presence.ChatPayload{Message: body, Kind: kind})
}

// SendAvatar transmits a partial avatar update.
func (s *Session) SendAvatar(patch presence.AvatarPatch) error {
	return s.writeEvent(presence.TypeUpdateAvatar, patch)
}

// JoinRoom asks the server to move this user into another room.
func (s *Session) JoinRoom(roomID string) error {
	if _, ok := presence.SanitizeRoomID(roomID); !ok {
		return errs.NewError(errs.ErrInvalidRoomID)
	}
	return s.writeEvent(presence.TypeJoinRoom, presence.JoinRoomPayload{RoomID: roomID})
}

// writeEvent encodes and writes one event to the live transport.
func (s *Session) writeEvent(t presence.EventType, payload any) error {
	event, err := presence.EncodeEvent(t, payload)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}
	return s.conn.WriteMessage(websocket.TextMessage, event)
}
