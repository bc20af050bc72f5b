package chat

import (
	"testing"

	"github.com/google/uuid"

	"github.com/carelink/telehealth-backend/internal/identity"
)

func testClient(room uuid.UUID) *Client {
	return NewClient(identity.Identity{ID: uuid.New(), Role: identity.RolePatient}, room)
}

func TestHubRegisterUnregister(t *testing.T) {
	hub := NewHub(nil)
	room := uuid.New()
	client := testClient(room)

	hub.Register(client)
	if hub.RoomSize(room) != 1 {
		t.Fatalf("room size = %d, want 1", hub.RoomSize(room))
	}

	hub.Unregister(client)
	if hub.RoomSize(room) != 0 {
		t.Fatalf("room size = %d, want 0", hub.RoomSize(room))
	}
	if _, open := <-client.Send; open {
		t.Fatal("send channel still open after unregister")
	}

	// Double unregister must not panic or double-close.
	hub.Unregister(client)
}

func TestHubRejoinDisplacesStaleClient(t *testing.T) {
	hub := NewHub(nil)
	room := uuid.New()
	actor := identity.Identity{ID: uuid.New(), Role: identity.RolePatient}

	first := NewClient(actor, room)
	hub.Register(first)

	second := NewClient(actor, room)
	hub.Register(second)

	if hub.RoomSize(room) != 1 {
		t.Fatalf("room size = %d, want 1 after rejoin", hub.RoomSize(room))
	}
	if _, open := <-first.Send; open {
		t.Fatal("stale client's channel not closed")
	}

	// The fresh client still receives broadcasts.
	hub.Broadcast(room, []byte("hi"))
	select {
	case got := <-second.Send:
		if string(got) != "hi" {
			t.Fatalf("payload = %q", got)
		}
	default:
		t.Fatal("fresh client missed broadcast")
	}
}

func TestHubBroadcastScopedToRoom(t *testing.T) {
	hub := NewHub(nil)
	roomA, roomB := uuid.New(), uuid.New()

	a1, a2 := testClient(roomA), testClient(roomA)
	b := testClient(roomB)
	hub.Register(a1)
	hub.Register(a2)
	hub.Register(b)

	hub.Broadcast(roomA, []byte("only A"))

	for _, c := range []*Client{a1, a2} {
		select {
		case <-c.Send:
		default:
			t.Fatal("room A client missed broadcast")
		}
	}
	select {
	case <-b.Send:
		t.Fatal("room B client received room A broadcast")
	default:
	}
}

func TestHubBroadcastSkipsFullClient(t *testing.T) {
	hub := NewHub(nil)
	room := uuid.New()

	slow := testClient(room)
	for i := 0; i < cap(slow.Send); i++ {
		slow.Send <- []byte("fill")
	}
	fast := testClient(room)
	hub.Register(slow)
	hub.Register(fast)

	// Must not block even though slow's buffer is full.
	hub.Broadcast(room, []byte("ping"))

	select {
	case got := <-fast.Send:
		if string(got) != "ping" {
			t.Fatalf("payload = %q", got)
		}
	default:
		t.Fatal("fast client missed broadcast")
	}
}
