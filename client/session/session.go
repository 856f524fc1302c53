// Package session ties a relay link, room membership and peer negotiation together.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/adwski/audiorooms/backend/model"
	"github.com/adwski/audiorooms/client/negotiation"
	"github.com/adwski/audiorooms/client/reconnect"
	"github.com/rs/zerolog"
)

const (
	defaultEventBuffer = 64

	// EventLinkState carries reconnection state changes.
	EventLinkState = "link-state"

	messageRoomNotFound = "Room not found"
)

var ErrNotConnected = errors.New("not connected to relay")

// Link is a relay connection, signaling.Conn implements it.
type Link interface {
	reconnect.Link
	Send(env model.Envelope) error
	Incoming() <-chan model.Envelope
}

// Event reports relay messages and link state to the application.
type Event struct {
	Type     string
	Envelope model.Envelope
	State    reconnect.State
	Err      error
}

type Config struct {
	Engine      negotiation.Engine
	Logger      *zerolog.Logger
	EventBuffer int
}

type Session struct {
	mx           *sync.Mutex
	link         Link
	dispatchDone chan struct{}

	// pendingRoom and name are replayed after reconnects.
	pendingRoom string
	name        string
	roomID      string
	clientID    string

	orch   *negotiation.Orchestrator
	events chan Event
	root   *zerolog.Logger
	logger zerolog.Logger
}

func New(cfg Config) *Session {
	buf := cfg.EventBuffer
	if buf <= 0 {
		buf = defaultEventBuffer
	}
	s := &Session{
		mx:     &sync.Mutex{},
		events: make(chan Event, buf),
		root:   cfg.Logger,
		logger: cfg.Logger.With().Str("component", "session").Logger(),
	}
	s.orch = negotiation.NewOrchestrator(negotiation.Config{
		Engine:    cfg.Engine,
		Transport: s,
		Logger:    cfg.Logger,
	})
	return s
}

// Events must be drained by the application, events are dropped when it lags.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Join requests membership in a room. Without a link the join is sent
// once a link is attached. The current room is left first, a failed
// switch leaves the session outside of any room.
func (s *Session) Join(roomID, name string) error {
	s.mx.Lock()
	current := s.roomID
	switching := current != "" && current != roomID
	if switching {
		s.roomID = ""
	}
	s.pendingRoom, s.name = roomID, name
	link := s.link
	s.mx.Unlock()

	// Peers of the previous room are never reused.
	s.orch.Reset()

	if link == nil {
		s.logger.Debug().Str("roomID", roomID).Msg("join queued until connected")
		return nil
	}
	if switching {
		if err := link.Send(model.Envelope{Type: model.TypeLeaveRoom}); err != nil {
			return err
		}
	}
	return link.Send(model.Envelope{Type: model.TypeJoinRoom, RoomID: roomID, Name: name})
}

func (s *Session) Leave() error {
	s.mx.Lock()
	member := s.pendingRoom != "" || s.roomID != ""
	s.pendingRoom, s.roomID = "", ""
	link := s.link
	s.mx.Unlock()

	s.orch.Reset()

	if link == nil || !member {
		return nil
	}
	return link.Send(model.Envelope{Type: model.TypeLeaveRoom})
}

// Signal sends a negotiation payload to a peer through the relay.
func (s *Session) Signal(to string, data json.RawMessage) error {
	s.mx.Lock()
	link := s.link
	s.mx.Unlock()

	if link == nil {
		return ErrNotConnected
	}
	return link.Send(model.Envelope{Type: model.TypeSignal, To: to, Data: data})
}

// Attach starts serving a fresh link and replays pending membership.
func (s *Session) Attach(link Link) {
	done := make(chan struct{})

	s.mx.Lock()
	s.link = link
	s.dispatchDone = done
	roomID, name := s.pendingRoom, s.name
	s.mx.Unlock()

	go s.dispatch(link, done)

	if roomID == "" {
		return
	}
	s.logger.Info().Str("roomID", roomID).Str("name", name).Msg("joining room")
	if err := link.Send(model.Envelope{Type: model.TypeJoinRoom, RoomID: roomID, Name: name}); err != nil {
		s.logger.Warn().Err(err).Msg("failed to send join")
	}
}

// Detach drops the current link and every peer relationship.
// Pending membership is kept.
func (s *Session) Detach() {
	s.mx.Lock()
	link, done := s.link, s.dispatchDone
	s.link, s.dispatchDone = nil, nil
	s.roomID, s.clientID = "", ""
	s.mx.Unlock()

	if link != nil {
		_ = link.Close()
	}
	if done != nil {
		<-done
	}
	s.orch.Reset()
}

// ReconnectConfig wires the session into a reconnect.Manager.
func (s *Session) ReconnectConfig(dial func(ctx context.Context) (Link, error)) reconnect.Config {
	return reconnect.Config{
		Dial: func(ctx context.Context) (reconnect.Link, error) {
			link, err := dial(ctx)
			if err != nil {
				return nil, err
			}
			return link, nil
		},
		OnConnected: func(l reconnect.Link) {
			s.Attach(l.(Link))
		},
		OnLost: s.Detach,
		OnStateChange: func(st reconnect.State) {
			s.emit(Event{Type: EventLinkState, State: st})
		},
		Logger: s.root,
	}
}

func (s *Session) RoomID() string {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.roomID
}

func (s *Session) ClientID() string {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.clientID
}

func (s *Session) Peers() []negotiation.PeerInfo {
	return s.orch.Peers()
}

func (s *Session) dispatch(link Link, done chan struct{}) {
	defer close(done)
	for env := range link.Incoming() {
		s.handle(env)
	}
}

func (s *Session) handle(env model.Envelope) {
	ev := Event{Type: env.Type, Envelope: env}

	switch env.Type {
	case model.TypeJoined:
		s.mx.Lock()
		s.roomID, s.clientID = env.RoomID, env.ClientID
		s.pendingRoom = env.RoomID
		s.mx.Unlock()
		s.orch.Reset()
		s.orch.Roster(env.Peers)
		s.logger.Info().
			Str("roomID", env.RoomID).
			Str("clientID", env.ClientID).
			Int("peers", len(env.Peers)).
			Msg("joined room")

	case model.TypePeerJoined:
		s.orch.PeerJoined(env.ID, env.Name)
		s.logger.Info().Str("peer", env.ID).Str("name", env.Name).Msg("peer joined")

	case model.TypePeerLeft:
		s.orch.PeerLeft(env.ID)
		s.logger.Info().Str("peer", env.ID).Msg("peer left")

	case model.TypeRoomDeleted:
		if !s.clearMembership(env.RoomID) {
			s.logger.Debug().Str("roomID", env.RoomID).Msg("deletion of a previous room ignored")
			break
		}
		s.orch.Reset()
		s.logger.Warn().Str("roomID", env.RoomID).Msg("room deleted")

	case model.TypeKicked:
		s.clearMembership("")
		s.orch.Reset()
		s.logger.Warn().Str("reason", env.Reason).Msg("kicked from room")

	case model.TypeSignal:
		if ev.Err = s.orch.HandleSignal(env.From, env.Data); ev.Err != nil {
			s.logger.Warn().Err(ev.Err).Str("peer", env.From).Msg("signal not applied")
		}

	case model.TypeError:
		s.logger.Warn().Str("message", env.Message).Msg("relay error")
		if env.Message == messageRoomNotFound {
			s.mx.Lock()
			if s.roomID == "" {
				// Join failed, do not replay it.
				s.pendingRoom = ""
			}
			s.mx.Unlock()
		}

	default:
		s.logger.Debug().Str("type", env.Type).Msg("unknown relay message ignored")
	}

	s.emit(ev)
}

// clearMembership drops the current and pending room. With a non-empty
// roomID it only does so when roomID is the current room.
func (s *Session) clearMembership(roomID string) bool {
	s.mx.Lock()
	defer s.mx.Unlock()
	if roomID != "" && roomID != s.roomID {
		return false
	}
	s.pendingRoom, s.roomID = "", ""
	return true
}

func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		s.logger.Debug().Str("type", ev.Type).Msg("event dropped")
	}
}
