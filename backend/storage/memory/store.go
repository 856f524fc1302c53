package memory

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/adwski/audiorooms/backend/model"
	"github.com/google/uuid"
)

const (
	DefaultRoomName = "Untitled Room"
)

var (
	ErrRoomNotFound = errors.New("room is not found")
)

// Member is a connection that can be placed in a room.
type Member interface {
	ID() string
	Name() string
}

// Room is a named set of members.
//
// Membership methods require the room lock, see Lock and LockRooms.
type Room struct {
	mx        *sync.Mutex
	id        string
	name      string
	createdAt time.Time
	members   map[string]Member
	closed    bool
}

func (r *Room) ID() string           { return r.id }
func (r *Room) Name() string         { return r.name }
func (r *Room) CreatedAt() time.Time { return r.createdAt }

func (r *Room) Lock()   { r.mx.Lock() }
func (r *Room) Unlock() { r.mx.Unlock() }

func (r *Room) Add(m Member) {
	r.members[m.ID()] = m
}

func (r *Room) Remove(id string) bool {
	if _, ok := r.members[id]; !ok {
		return false
	}
	delete(r.members, id)
	return true
}

func (r *Room) Member(id string) (Member, bool) {
	m, ok := r.members[id]
	return m, ok
}

// Members returns a snapshot ordered by member id.
func (r *Room) Members() []Member {
	members := make([]Member, 0, len(r.members))
	for _, m := range r.members {
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool {
		return members[i].ID() < members[j].ID()
	})
	return members
}

func (r *Room) Len() int {
	return len(r.members)
}

// Close drops all members. A closed room accepts no further joins.
func (r *Room) Close() {
	r.closed = true
	r.members = make(map[string]Member)
}

func (r *Room) Closed() bool {
	return r.closed
}

// Info returns a listing snapshot. It takes the room lock.
func (r *Room) Info() model.RoomInfo {
	r.mx.Lock()
	defer r.mx.Unlock()
	return model.RoomInfo{
		ID:        r.id,
		Name:      r.name,
		CreatedAt: r.createdAt,
		Count:     len(r.members),
	}
}

// LockRooms locks rooms ordered by id, skipping nils and duplicates,
// and returns the release func.
func LockRooms(rooms ...*Room) func() {
	locked := make([]*Room, 0, len(rooms))
	for _, r := range rooms {
		if r == nil {
			continue
		}
		dup := false
		for _, l := range locked {
			if l == r {
				dup = true
				break
			}
		}
		if !dup {
			locked = append(locked, r)
		}
	}
	sort.Slice(locked, func(i, j int) bool {
		return locked[i].id < locked[j].id
	})

	for _, r := range locked {
		r.mx.Lock()
	}
	return func() {
		for i := len(locked) - 1; i >= 0; i-- {
			locked[i].mx.Unlock()
		}
	}
}

type MemStore struct {
	mx    *sync.RWMutex
	db    map[string]*Room
	now   func() time.Time
	newID func() string
}

func NewMemStore() *MemStore {
	return &MemStore{
		mx:    &sync.RWMutex{},
		db:    make(map[string]*Room),
		now:   time.Now,
		newID: uuid.NewString,
	}
}

func (ms *MemStore) CreateRoom(name string) *Room {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultRoomName
	}
	room := &Room{
		mx:        &sync.Mutex{},
		id:        ms.newID(),
		name:      name,
		createdAt: ms.now().UTC(),
		members:   make(map[string]Member),
	}

	ms.mx.Lock()
	defer ms.mx.Unlock()
	ms.db[room.id] = room
	return room
}

func (ms *MemStore) GetRoom(roomID string) (*Room, error) {
	ms.mx.RLock()
	defer ms.mx.RUnlock()

	room, ok := ms.db[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return room, nil
}

// ListRooms returns listing snapshots ordered by creation time, then id.
func (ms *MemStore) ListRooms() []model.RoomInfo {
	ms.mx.RLock()
	rooms := make([]*Room, 0, len(ms.db))
	for _, room := range ms.db {
		rooms = append(rooms, room)
	}
	ms.mx.RUnlock()

	infos := make([]model.RoomInfo, 0, len(rooms))
	for _, room := range rooms {
		infos = append(infos, room.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		if !infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].CreatedAt.Before(infos[j].CreatedAt)
		}
		return infos[i].ID < infos[j].ID
	})
	return infos
}

// RemoveRoom drops the room from the registry. Members are not notified,
// that is up to the caller.
func (ms *MemStore) RemoveRoom(roomID string) bool {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	if _, ok := ms.db[roomID]; !ok {
		return false
	}
	delete(ms.db, roomID)
	return true
}
