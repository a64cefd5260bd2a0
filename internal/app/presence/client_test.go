package presence

import (
	"encoding/json"
	"testing"

	"worldsync/internal/pkg/errs"
)

// newTestClient builds a Client wired to the hub without a real WebSocket.
// dispatch never touches the transport, so the conn stays nil.
func newTestClient(h *Hub, id string) *Client {
	return &Client{
		hub:    h,
		id:     id,
		origin: "10.0.0.1",
		state:  stateConnected,
		send:   make(chan []byte, sendQueueSize),
	}
}

func (c *Client) drainEvents(t *testing.T) []Event {
	t.Helper()

	var events []Event
	for {
		select {
		case raw := <-c.send:
			var e Event
			if err := json.Unmarshal(raw, &e); err != nil {
				t.Fatalf("client queued invalid event: %v", err)
			}
			events = append(events, e)
		default:
			return events
		}
	}
}

func eventBytes(t *testing.T, eventType EventType, payload any) []byte {
	t.Helper()
	raw, err := EncodeEvent(eventType, payload)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	return raw
}

func TestDispatchInitializeJoinsDefaultRoom(t *testing.T) {
	h := newTestHub(newFakeClock())
	defer h.Shutdown()

	c := newTestClient(h, "c1")
	c.dispatch(eventBytes(t, TypeInitializeUser, InitPayload{Username: "Alice"}))

	if c.state != stateInRoom {
		t.Fatalf("expected state inRoom after initialization, got %d", c.state)
	}
	rec, ok := h.User("c1")
	if !ok || rec.Room != DefaultRoom {
		t.Fatalf("expected registered user in %q, got %+v (ok=%v)", DefaultRoom, rec, ok)
	}

	events := c.drainEvents(t)
	if len(events) != 1 || events[0].Type != TypeRoomUsers {
		t.Fatalf("expected a roomUsers snapshot, got %+v", events)
	}
}

func TestDispatchInitializeRejectsBadUsername(t *testing.T) {
	h := newTestHub(newFakeClock())
	defer h.Shutdown()

	c := newTestClient(h, "c1")
	c.dispatch(eventBytes(t, TypeInitializeUser, InitPayload{Username: "<>"}))

	if c.state != stateConnected {
		t.Fatalf("failed initialization must not advance the state, got %d", c.state)
	}

	events := c.drainEvents(t)
	if len(events) != 1 || events[0].Type != TypeError {
		t.Fatalf("expected an error event, got %+v", events)
	}
	var errEvent ErrorPayload
	if err := json.Unmarshal(events[0].Payload, &errEvent); err != nil {
		t.Fatalf("invalid error payload: %v", err)
	}
	if errEvent.Code != errs.ErrInvalidUserData {
		t.Fatalf("expected code %d, got %d", errs.ErrInvalidUserData, errEvent.Code)
	}
}

func TestDispatchMoveBeforeInitializationIsNoop(t *testing.T) {
	h := newTestHub(newFakeClock())
	defer h.Shutdown()

	c := newTestClient(h, "c1")
	c.dispatch(eventBytes(t, TypeMove, Position{X: 1}))

	if events := c.drainEvents(t); len(events) != 0 {
		t.Fatalf("move before initialization must stay silent, got %+v", events)
	}
	if _, ok := h.User("c1"); ok {
		t.Fatal("move must not create registry state")
	}
}

func TestDispatchJoinBeforeInitializationErrors(t *testing.T) {
	h := newTestHub(newFakeClock())
	defer h.Shutdown()

	c := newTestClient(h, "c1")
	c.dispatch(eventBytes(t, TypeJoinRoom, JoinRoomPayload{RoomID: "garden"}))

	events := c.drainEvents(t)
	if len(events) != 1 || events[0].Type != TypeError {
		t.Fatalf("expected an error event, got %+v", events)
	}
}

func TestDispatchInvalidJSONNotifiesSender(t *testing.T) {
	h := newTestHub(newFakeClock())
	defer h.Shutdown()

	c := newTestClient(h, "c1")
	c.dispatch([]byte("{broken"))

	events := c.drainEvents(t)
	if len(events) != 1 || events[0].Type != TypeError {
		t.Fatalf("expected an error event for invalid JSON, got %+v", events)
	}
}

func TestDispatchUnknownTypeIsIgnored(t *testing.T) {
	h := newTestHub(newFakeClock())
	defer h.Shutdown()

	c := newTestClient(h, "c1")
	c.dispatch([]byte(`{"type":"teleport","payload":{}}`))

	if events := c.drainEvents(t); len(events) != 0 {
		t.Fatalf("unknown event types are dropped without notification, got %+v", events)
	}
}
