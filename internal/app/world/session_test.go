package world

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"worldsync/internal/app/presence"
	"worldsync/internal/pkg/errs"
)

type fakeConn struct {
	mu     sync.Mutex
	reads  chan []byte
	writes [][]byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{reads: make(chan []byte, 16)}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	raw, ok := <-c.reads
	if !ok {
		return 0, nil, errors.New("connection closed")
	}
	return 1, raw, nil
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, data)
	return nil
}

func (c *fakeConn) Close() error { return nil }

func (c *fakeConn) writtenEvents(t *testing.T) []presence.Event {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()

	events := make([]presence.Event, 0, len(c.writes))
	for _, raw := range c.writes {
		var e presence.Event
		if err := json.Unmarshal(raw, &e); err != nil {
			t.Fatalf("wrote invalid event: %v", err)
		}
		events = append(events, e)
	}
	return events
}

// scriptDialer returns its scripted conns in order; a nil entry or running
// past the script fails the dial.
type scriptDialer struct {
	mu    sync.Mutex
	conns []Conn
	idx   int
}

func (d *scriptDialer) Dial(ctx context.Context, url string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.idx >= len(d.conns) || d.conns[d.idx] == nil {
		d.idx++
		return nil, errors.New("dial failed")
	}
	conn := d.conns[d.idx]
	d.idx++
	return conn, nil
}

type sleepRecorder struct {
	mu    sync.Mutex
	slept []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.slept = append(s.slept, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleepRecorder) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slept)
}

type moveClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *moveClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *moveClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func TestRunExhaustsReconnectBudget(t *testing.T) {
	sleeper := &sleepRecorder{}
	session := NewSession("ws://test", presence.InitPayload{Username: "Alice"}, NewReconciler(), SessionOptions{
		Dialer:      &scriptDialer{},
		Backoff:     2 * time.Second,
		MaxAttempts: 3,
		Sleep:       sleeper.sleep,
	})

	err := session.Run(context.Background())
	if !errs.Is(err, errs.ErrReconnectExhausted) {
		t.Fatalf("expected ReconnectExhausted, got %v", err)
	}
	if session.State() != StateExhausted {
		t.Fatalf("expected terminal state exhausted, got %s", session.State())
	}
	if sleeper.count() != 3 {
		t.Fatalf("expected 3 backoff waits, got %d", sleeper.count())
	}
	for _, d := range sleeper.slept {
		if d != 2*time.Second {
			t.Fatalf("expected fixed 2s backoff, got %v", d)
		}
	}
}

func TestRunAnnouncesIdentityOnConnect(t *testing.T) {
	conn := newFakeConn()
	close(conn.reads)

	sleeper := &sleepRecorder{}
	session := NewSession("ws://test", presence.InitPayload{Username: "Alice", Room: "garden"}, NewReconciler(), SessionOptions{
		Dialer:      &scriptDialer{conns: []Conn{conn}},
		MaxAttempts: 1,
		Sleep:       sleeper.sleep,
	})

	err := session.Run(context.Background())
	if !errs.Is(err, errs.ErrReconnectExhausted) {
		t.Fatalf("expected eventual exhaustion, got %v", err)
	}

	events := conn.writtenEvents(t)
	if len(events) != 1 || events[0].Type != presence.TypeInitializeUser {
		t.Fatalf("expected one initializeUser announcement, got %+v", events)
	}
	var init presence.InitPayload
	if err := json.Unmarshal(events[0].Payload, &init); err != nil {
		t.Fatalf("invalid announce payload: %v", err)
	}
	if init.Username != "Alice" || init.Room != "garden" {
		t.Fatalf("announcement lost identity fields: %+v", init)
	}
}

func TestRunAppliesInboundEventsAndResetsPeers(t *testing.T) {
	conn := newFakeConn()
	joined, err := presence.EncodeEvent(presence.TypeUserJoined, presence.UserJoinedPayload{
		User: presence.PublicUser{ID: "u1", Username: "One"},
	})
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	conn.reads <- joined
	close(conn.reads)

	reconciler := NewReconciler()
	sleeper := &sleepRecorder{}
	session := NewSession("ws://test", presence.InitPayload{Username: "Alice"}, reconciler, SessionOptions{
		Dialer:      &scriptDialer{conns: []Conn{conn}},
		MaxAttempts: 1,
		Sleep:       sleeper.sleep,
	})

	_ = session.Run(context.Background())

	// The joined peer was applied during the connection, then cleared when
	// the connection was lost.
	if len(reconciler.Peers()) != 0 {
		t.Fatalf("expected peers cleared after disconnect, got %v", reconciler.Peers())
	}
}

func TestRunStopsCleanlyOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	conn := newFakeConn()
	session := NewSession("ws://test", presence.InitPayload{Username: "Alice"}, NewReconciler(), SessionOptions{
		Dialer: &scriptDialer{conns: []Conn{conn}},
	})

	done := make(chan error, 1)
	go func() { done <- session.Run(ctx) }()

	// Let the session connect, then cancel and sever the transport.
	deadline := time.After(2 * time.Second)
	for session.State() != StateConnected {
		select {
		case <-deadline:
			t.Fatal("session never connected")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	cancel()
	close(conn.reads)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean stop on cancel, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop after cancel")
	}

	if session.State() != StateDisconnected {
		t.Fatalf("expected disconnected after cancel, got %s", session.State())
	}
}

func TestSendMoveThrottledClientSide(t *testing.T) {
	clock := &moveClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	conn := newFakeConn()

	session := NewSession("ws://test", presence.InitPayload{Username: "Alice"}, NewReconciler(), SessionOptions{
		Dialer: &scriptDialer{},
		Now:    clock.Now,
	})
	session.conn = conn
	session.state = StateConnected

	if err := session.SendMove(presence.Position{X: 1}); err != nil {
		t.Fatalf("first move failed: %v", err)
	}

	clock.Advance(50 * time.Millisecond)
	if err := session.SendMove(presence.Position{X: 2}); err != nil {
		t.Fatalf("throttled move must be dropped silently, got %v", err)
	}

	clock.Advance(60 * time.Millisecond)
	if err := session.SendMove(presence.Position{X: 3}); err != nil {
		t.Fatalf("post-cooldown move failed: %v", err)
	}

	if got := len(conn.writtenEvents(t)); got != 2 {
		t.Fatalf("expected 2 transmitted moves, got %d", got)
	}
}

func TestSendMoveRejectsInvalidPosition(t *testing.T) {
	session := NewSession("ws://test", presence.InitPayload{Username: "Alice"}, NewReconciler(), SessionOptions{
		Dialer: &scriptDialer{},
	})

	err := session.SendMove(presence.Position{X: 5000})
	if !errs.Is(err, errs.ErrInvalidPosition) {
		t.Fatalf("expected ErrInvalidPosition, got %v", err)
	}
}

func TestSendMoveWhileDisconnectedIsDropped(t *testing.T) {
	conn := newFakeConn()
	session := NewSession("ws://test", presence.InitPayload{Username: "Alice"}, NewReconciler(), SessionOptions{
		Dialer: &scriptDialer{},
	})
	session.conn = conn

	if err := session.SendMove(presence.Position{X: 1}); err != nil {
		t.Fatalf("move while disconnected must be dropped, got %v", err)
	}
	if got := len(conn.writtenEvents(t)); got != 0 {
		t.Fatalf("expected no writes while disconnected, got %d", got)
	}
}
