package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/adwski/audiorooms/backend/identity"
	"github.com/adwski/audiorooms/backend/model"
	"github.com/adwski/audiorooms/backend/storage/memory"
	"github.com/rs/zerolog"
)

const (
	MessageInvalidJSON  = "Invalid JSON"
	MessageRoomNotFound = "Room not found"

	KickReasonNameTaken = "Name joined another room"
)

var (
	ErrConnect       = errors.New("unable to connect")
	ErrDisconnect    = errors.New("unable to disconnect")
	ErrNoSession     = errors.New("signaling session is not found")
	ErrSessionExists = errors.New("signaling session already exists")
)

type (
	RoomStore interface {
		CreateRoom(name string) *memory.Room
		GetRoom(roomID string) (*memory.Room, error)
		ListRooms() []model.RoomInfo
		RemoveRoom(roomID string) bool
	}

	Switch interface {
		Connect(id string, wire model.Wire, cancel context.CancelFunc) error
		Disconnect(id string) error
		Multicast(env model.Envelope, dsts ...string) int
		Send(dst string, env model.Envelope) bool
	}

	// Service coordinates rooms, identities and signaling sessions.
	//
	// Lock order is name locks, then room locks (see memory.LockRooms),
	// then leaf locks of the registry, directory, switch and connections.
	Service struct {
		store    RoomStore
		dir      *identity.Directory
		sw       Switch
		logger   zerolog.Logger
		mx       *sync.Mutex
		sessions map[string]*session
	}

	Config struct {
		RoomStore RoomStore
		Directory *identity.Directory
		Switch    Switch
		Logger    *zerolog.Logger
	}

	session struct {
		client *Client
		done   chan struct{}
	}
)

func NewService(cfg Config) *Service {
	dir := cfg.Directory
	if dir == nil {
		dir = identity.NewDirectory()
	}
	return &Service{
		store:    cfg.RoomStore,
		dir:      dir,
		sw:       cfg.Switch,
		logger:   cfg.Logger.With().Str("component", "service").Logger(),
		mx:       &sync.Mutex{},
		sessions: make(map[string]*session),
	}
}

// CreateSignalingSession registers a connection and starts processing its
// inbound frames in order until ctx is done.
func (svc *Service) CreateSignalingSession(
	ctx context.Context,
	cancel context.CancelFunc,
	clientID string,
	wire model.Wire,
) error {
	svc.mx.Lock()
	if _, ok := svc.sessions[clientID]; ok {
		svc.mx.Unlock()
		return ErrSessionExists
	}
	if err := svc.sw.Connect(clientID, wire, cancel); err != nil {
		svc.mx.Unlock()
		return errors.Join(ErrConnect, err)
	}
	s := &session{
		client: NewClient(clientID),
		done:   make(chan struct{}),
	}
	svc.sessions[clientID] = s
	svc.mx.Unlock()

	svc.logger.Debug().
		Str("clientID", clientID).
		Msg("signaling session connected")

	go svc.serve(ctx, s, wire.RX)
	return nil
}

// DeleteSignalingSession waits for inbound processing to stop and then
// removes the connection from its room and releases its name.
func (svc *Service) DeleteSignalingSession(ctx context.Context, clientID string) error {
	svc.mx.Lock()
	s, ok := svc.sessions[clientID]
	delete(svc.sessions, clientID)
	svc.mx.Unlock()
	if !ok {
		return ErrNoSession
	}

	select {
	case <-s.done:
	case <-ctx.Done():
		svc.logger.Warn().
			Str("clientID", clientID).
			Msg("session is still processing, disconnecting anyway")
	}

	svc.Disconnect(s.client)
	if err := svc.sw.Disconnect(clientID); err != nil {
		return errors.Join(ErrDisconnect, err)
	}
	svc.logger.Debug().
		Str("clientID", clientID).
		Msg("signaling session deleted")
	return nil
}

func (svc *Service) serve(ctx context.Context, s *session, rx <-chan []byte) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case raw := <-rx:
			svc.Handle(s.client, raw)
		}
	}
}

// Handle processes a single inbound frame of c.
func (svc *Service) Handle(c *Client, raw []byte) {
	env, err := model.DecodeEnvelope(raw)
	if err != nil {
		svc.logger.Debug().Err(err).
			Str("clientID", c.ID()).
			Msg("malformed inbound message")
		svc.sw.Send(c.ID(), model.Error(MessageInvalidJSON))
		return
	}

	switch env.Type {
	case model.TypeJoinRoom:
		svc.Join(c, env.RoomID, env.Name)
	case model.TypeLeaveRoom:
		svc.Leave(c)
	case model.TypeSignal:
		svc.Signal(c, env.To, env.Data)
	default:
		svc.logger.Debug().
			Str("clientID", c.ID()).
			Str("type", env.Type).
			Msg("unknown inbound message type ignored")
	}
}

// Join places c in the room under the given display name.
func (svc *Service) Join(c *Client, roomID, rawName string) {
	name := identity.NormalizeName(rawName)
	logger := svc.logger.With().
		Str("clientID", c.ID()).
		Str("roomID", roomID).
		Str("name", name).Logger()

	room, err := svc.store.GetRoom(roomID)
	if err != nil {
		logger.Debug().Err(err).Msg("join failed")
		svc.sw.Send(c.ID(), model.Error(MessageRoomNotFound))
		return
	}

	unlock := svc.lockJoin(c, name, room)
	defer unlock()

	// The room may have been deleted while locks were acquired.
	// Nothing is mutated in that case, the holder of the name keeps it.
	if room.Closed() {
		logger.Debug().Msg("join failed, room was deleted")
		svc.sw.Send(c.ID(), model.Error(MessageRoomNotFound))
		return
	}

	if current := c.Room(); current != nil && current != room {
		svc.removeFromRoom(c, current)
	}
	if c.Name() != name {
		svc.release(c)
	}
	svc.dir.Claim(name, c, func(prev identity.Holder) {
		svc.kick(prev.(*Client))
	})
	c.set(name, room)
	room.Add(c)

	peers := make([]model.Peer, 0, room.Len())
	others := make([]string, 0, room.Len())
	for _, m := range room.Members() {
		if m.ID() == c.ID() {
			continue
		}
		peers = append(peers, model.Peer{ID: m.ID(), Name: m.Name()})
		others = append(others, m.ID())
	}

	svc.sw.Send(c.ID(), model.Joined(room.ID(), c.ID(), peers))
	svc.sw.Multicast(model.PeerJoined(c.ID(), name), others...)
	logger.Debug().Int("peers", len(peers)).Msg("client joined room")
}

// Leave removes c from its room and releases its name. Leaving without a
// room is a no-op.
func (svc *Service) Leave(c *Client) {
	room, unlock := svc.lockMember(c)
	defer unlock()

	if room != nil {
		svc.removeFromRoom(c, room)
		svc.logger.Debug().
			Str("clientID", c.ID()).
			Str("roomID", room.ID()).
			Msg("client left room")
	}
	svc.release(c)
}

// Disconnect is Leave for a closed transport.
func (svc *Service) Disconnect(c *Client) {
	svc.Leave(c)
}

// Signal forwards data to a peer in the sender's room. Misses are dropped silently.
func (svc *Service) Signal(c *Client, to string, data json.RawMessage) {
	logger := svc.logger.With().
		Str("clientID", c.ID()).
		Str("to", to).Logger()

	room := c.Room()
	if room == nil {
		logger.Debug().Msg("signal dropped, sender is not in a room")
		return
	}

	unlock := memory.LockRooms(room)
	defer unlock()

	if _, ok := room.Member(c.ID()); !ok {
		logger.Debug().Msg("signal dropped, sender left the room")
		return
	}
	if _, ok := room.Member(to); !ok {
		logger.Debug().Msg("signal dropped, peer is not in the room")
		return
	}
	svc.sw.Send(to, model.Signal(c.ID(), data))
}

func (svc *Service) CreateRoom(name string) model.RoomInfo {
	room := svc.store.CreateRoom(name)
	svc.logger.Debug().
		Str("roomID", room.ID()).
		Str("name", room.Name()).
		Msg("room created")
	return room.Info()
}

func (svc *Service) ListRooms() []model.RoomInfo {
	return svc.store.ListRooms()
}

// DeleteRoom evicts every member and removes the room.
func (svc *Service) DeleteRoom(roomID string) bool {
	room, err := svc.store.GetRoom(roomID)
	if err != nil {
		return false
	}

	var unlock func()
	for {
		room.Lock()
		names := memberNames(room)
		room.Unlock()

		unlockNames := svc.dir.Lock(names...)
		room.Lock()
		if room.Closed() {
			room.Unlock()
			unlockNames()
			return false
		}
		if !sameStrings(names, memberNames(room)) {
			room.Unlock()
			unlockNames()
			continue
		}
		unlock = func() {
			room.Unlock()
			unlockNames()
		}
		break
	}
	defer unlock()

	members := room.Members()
	evicted := make([]string, 0, len(members))
	for _, m := range members {
		c := m.(*Client)
		c.setRoom(nil)
		svc.release(c)
		evicted = append(evicted, c.ID())
	}
	svc.sw.Multicast(model.RoomDeleted(room.ID()), evicted...)
	room.Close()
	svc.store.RemoveRoom(room.ID())

	svc.logger.Debug().
		Str("roomID", room.ID()).
		Msg("room deleted")
	return true
}

// kick evicts the holder of a name claimed by another connection.
// Name and room locks of prev are held by the caller.
func (svc *Service) kick(prev *Client) {
	if room := prev.Room(); room != nil {
		svc.removeFromRoom(prev, room)
	}
	svc.release(prev)
	svc.sw.Send(prev.ID(), model.Kicked(KickReasonNameTaken))

	svc.logger.Debug().
		Str("clientID", prev.ID()).
		Msg("client kicked")
}

// removeFromRoom requires the room lock.
func (svc *Service) removeFromRoom(c *Client, room *memory.Room) {
	room.Remove(c.ID())
	c.setRoom(nil)

	members := room.Members()
	ids := make([]string, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.ID())
	}
	svc.sw.Multicast(model.PeerLeft(c.ID()), ids...)
}

// release requires the name lock of c.
func (svc *Service) release(c *Client) {
	svc.dir.Release(c)
	c.setName("")
}

// lockJoin acquires every lock a join of c to room as name may need:
// the requested and current names, the target room, the current room
// and the room of the current name holder.
func (svc *Service) lockJoin(c *Client, name string, room *memory.Room) func() {
	for {
		oldName := c.Name()
		unlockNames := svc.dir.Lock(name, oldName)
		if c.Name() != oldName {
			unlockNames()
			continue
		}

		var (
			holder     *Client
			holderRoom *memory.Room
		)
		if h, ok := svc.dir.Holder(name).(*Client); ok && h != c {
			holder = h
			holderRoom = h.Room()
		}
		current := c.Room()

		unlockRooms := memory.LockRooms(room, current, holderRoom)
		if c.Room() != current || (holder != nil && holder.Room() != holderRoom) {
			unlockRooms()
			unlockNames()
			continue
		}
		return func() {
			unlockRooms()
			unlockNames()
		}
	}
}

// lockMember acquires the name lock and the room lock of c.
func (svc *Service) lockMember(c *Client) (*memory.Room, func()) {
	for {
		name := c.Name()
		unlockName := svc.dir.Lock(name)
		room := c.Room()
		unlockRoom := memory.LockRooms(room)
		if c.Name() == name && c.Room() == room {
			return room, func() {
				unlockRoom()
				unlockName()
			}
		}
		unlockRoom()
		unlockName()
	}
}

func memberNames(room *memory.Room) []string {
	members := room.Members()
	names := make([]string, 0, len(members))
	for _, m := range members {
		names = append(names, m.Name())
	}
	return names
}

func sameStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
