package memory

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"
)

type member struct {
	id   string
	name string
}

func (m *member) ID() string   { return m.id }
func (m *member) Name() string { return m.name }

func newTestStore() *MemStore {
	ms := NewMemStore()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var n int
	ms.now = func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Second)
	}
	ms.newID = func() string {
		return fmt.Sprintf("room-%02d", n)
	}
	return ms
}

func TestCreateRoomName(t *testing.T) {
	ms := NewMemStore()
	tests := []struct {
		in   string
		want string
	}{
		{in: "Lounge", want: "Lounge"},
		{in: "  Lounge  ", want: "Lounge"},
		{in: "", want: DefaultRoomName},
		{in: "   ", want: DefaultRoomName},
	}
	for _, tt := range tests {
		room := ms.CreateRoom(tt.in)
		if room.Name() != tt.want {
			t.Errorf("CreateRoom(%q).Name() = %q, want %q", tt.in, room.Name(), tt.want)
		}
		if room.ID() == "" {
			t.Errorf("CreateRoom(%q) returned empty id", tt.in)
		}
	}
}

func TestCreateRoomUniqueIDs(t *testing.T) {
	ms := NewMemStore()
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		id := ms.CreateRoom("r").ID()
		if _, ok := seen[id]; ok {
			t.Fatalf("duplicate room id %s", id)
		}
		seen[id] = struct{}{}
	}
}

func TestGetAndRemoveRoom(t *testing.T) {
	ms := newTestStore()
	room := ms.CreateRoom("Lounge")

	got, err := ms.GetRoom(room.ID())
	if err != nil || got != room {
		t.Fatalf("GetRoom: %v, %v", got, err)
	}
	if !ms.RemoveRoom(room.ID()) {
		t.Fatalf("RemoveRoom reported missing room")
	}
	if ms.RemoveRoom(room.ID()) {
		t.Fatalf("second RemoveRoom must report false")
	}
	if _, err = ms.GetRoom(room.ID()); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}
}

func TestListRoomsStableOrder(t *testing.T) {
	ms := newTestStore()
	a := ms.CreateRoom("A")
	b := ms.CreateRoom("B")

	b.Lock()
	b.Add(&member{id: "c1", name: "Ann"})
	b.Add(&member{id: "c2", name: "Bob"})
	b.Unlock()

	infos := ms.ListRooms()
	if len(infos) != 2 {
		t.Fatalf("expected 2 rooms, got %s", spew.Sdump(infos))
	}
	if infos[0].ID != a.ID() || infos[1].ID != b.ID() {
		t.Fatalf("unexpected order: %s", spew.Sdump(infos))
	}
	if infos[0].Count != 0 || infos[1].Count != 2 {
		t.Fatalf("unexpected counts: %s", spew.Sdump(infos))
	}
	if infos[1].Name != "B" || infos[1].CreatedAt.IsZero() {
		t.Fatalf("unexpected info: %s", spew.Sdump(infos[1]))
	}
}

func TestRoomMembership(t *testing.T) {
	ms := newTestStore()
	room := ms.CreateRoom("Lounge")

	unlock := LockRooms(room, nil, room)
	room.Add(&member{id: "b"})
	room.Add(&member{id: "a"})
	room.Add(&member{id: "a"})
	if room.Len() != 2 {
		t.Fatalf("expected 2 members, got %d", room.Len())
	}
	members := room.Members()
	if members[0].ID() != "a" || members[1].ID() != "b" {
		t.Fatalf("members not ordered: %s", spew.Sdump(members))
	}
	if !room.Remove("a") || room.Remove("a") {
		t.Fatalf("unexpected Remove result")
	}
	if _, ok := room.Member("b"); !ok {
		t.Fatalf("member b missing")
	}
	room.Close()
	if !room.Closed() || room.Len() != 0 {
		t.Fatalf("closed room must be empty")
	}
	unlock()
}

func TestLockRoomsOrdersByID(t *testing.T) {
	ms := newTestStore()
	a := ms.CreateRoom("A")
	b := ms.CreateRoom("B")

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			unlock := LockRooms(b, a)
			unlock()
		}
		close(done)
	}()
	for i := 0; i < 1000; i++ {
		unlock := LockRooms(a, b)
		unlock()
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("deadlock locking rooms in opposite order")
	}
}
