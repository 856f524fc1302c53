package negotiation

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/adwski/audiorooms/backend/model"
	"github.com/rs/zerolog"
)

const unknownPeerName = "Guest"

// Transport delivers negotiation payloads to a peer through the relay.
type Transport interface {
	Signal(to string, data json.RawMessage) error
}

// PeerInfo is a snapshot of a peer relationship.
type PeerInfo struct {
	ID    string
	Name  string
	Role  Role
	State State
}

type peer struct {
	id      string
	name    string
	role    Role
	state   State
	session Session
	// Candidates received before the remote description was installed.
	pending   []Candidate
	remoteSet bool
	closed    *atomic.Bool
}

func (p *peer) info() PeerInfo {
	return PeerInfo{ID: p.id, Name: p.name, Role: p.role, State: p.state}
}

type Config struct {
	Engine    Engine
	Transport Transport
	Logger    *zerolog.Logger
}

// Orchestrator owns peer relationships of the current room membership.
//
// Session methods are called under the lock, sessions are closed outside of it.
type Orchestrator struct {
	mx        *sync.Mutex
	engine    Engine
	transport Transport
	peers     map[string]*peer
	logger    zerolog.Logger
}

func NewOrchestrator(cfg Config) *Orchestrator {
	return &Orchestrator{
		mx:        &sync.Mutex{},
		engine:    cfg.Engine,
		transport: cfg.Transport,
		peers:     make(map[string]*peer),
		logger:    cfg.Logger.With().Str("component", "negotiation").Logger(),
	}
}

// Roster handles the member list of a fresh join. Every listed peer
// becomes an initiator and is sent an offer. A peer whose offer cannot be
// sent is dropped, it is created again when it reappears in a roster.
func (o *Orchestrator) Roster(peers []model.Peer) {
	var failed []*peer

	o.mx.Lock()
	for _, mp := range peers {
		if _, ok := o.peers[mp.ID]; ok {
			continue
		}
		p, err := o.newPeer(mp.ID, mp.Name, Initiator)
		if err != nil {
			o.logger.Error().Err(err).Str("peer", mp.ID).Msg("cannot create peer")
			continue
		}
		if err = o.offer(p); err != nil {
			o.logger.Error().Err(err).Str("peer", mp.ID).Msg("cannot send offer, peer dropped")
			p.state = StateClosed
			delete(o.peers, p.id)
			failed = append(failed, p)
		}
	}
	o.mx.Unlock()

	for _, p := range failed {
		o.close(p)
	}
}

// PeerJoined creates a responder that waits for the newcomer's offer.
func (o *Orchestrator) PeerJoined(id, name string) {
	o.mx.Lock()
	defer o.mx.Unlock()

	if p, ok := o.peers[id]; ok {
		p.name = name
		return
	}
	if _, err := o.newPeer(id, name, Responder); err != nil {
		o.logger.Error().Err(err).Str("peer", id).Msg("cannot create peer")
	}
}

func (o *Orchestrator) PeerLeft(id string) {
	o.mx.Lock()
	p, ok := o.peers[id]
	if ok {
		p.state = StateClosed
		delete(o.peers, id)
	}
	o.mx.Unlock()

	if ok {
		o.close(p)
	}
}

// Reset tears down every peer relationship.
func (o *Orchestrator) Reset() {
	o.mx.Lock()
	peers := o.peers
	for _, p := range peers {
		p.state = StateClosed
	}
	o.peers = make(map[string]*peer)
	o.mx.Unlock()

	for _, p := range peers {
		o.close(p)
	}
	if len(peers) > 0 {
		o.logger.Debug().Int("peers", len(peers)).Msg("peer relationships reset")
	}
}

// HandleSignal applies a negotiation payload received from a peer.
// A valid payload from an unknown peer creates a responder for it.
func (o *Orchestrator) HandleSignal(from string, data json.RawMessage) error {
	var pl Payload
	if err := json.Unmarshal(data, &pl); err != nil {
		return errors.Join(ErrMalformedPayload, err)
	}
	switch pl.Type {
	case PayloadOffer, PayloadAnswer:
		if pl.SDP == nil {
			return ErrMalformedPayload
		}
	case PayloadCandidate:
		if pl.Candidate == nil {
			return nil
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownPayload, pl.Type)
	}

	o.mx.Lock()
	defer o.mx.Unlock()

	p, ok := o.peers[from]
	if !ok {
		if pl.Type == PayloadAnswer {
			o.logger.Warn().Str("peer", from).Msg("answer from unknown peer ignored")
			return nil
		}
		var err error
		if p, err = o.newPeer(from, unknownPeerName, Responder); err != nil {
			return err
		}
	}
	logger := o.logger.With().
		Str("peer", from).
		Str("payload", pl.Type).
		Str("role", p.role.String()).
		Str("state", p.state.String()).Logger()

	switch pl.Type {
	case PayloadOffer:
		if p.role != Responder || p.state != StateNew {
			logger.Warn().Msg("unexpected offer ignored")
			return nil
		}
		answer, err := p.session.AcceptOffer(*pl.SDP)
		if err != nil {
			return fmt.Errorf("%w: accept offer from %s: %w", ErrNegotiation, from, err)
		}
		o.remoteInstalled(p)
		p.state = StateAnswerSent
		if err = o.send(p, Payload{Type: PayloadAnswer, SDP: &answer}); err != nil {
			return err
		}
		logger.Debug().Msg("answer sent")

	case PayloadAnswer:
		if p.role != Initiator || p.state != StateOfferSent {
			logger.Warn().Msg("unexpected answer ignored")
			return nil
		}
		if err := p.session.AcceptAnswer(*pl.SDP); err != nil {
			return fmt.Errorf("%w: accept answer from %s: %w", ErrNegotiation, from, err)
		}
		o.remoteInstalled(p)
		p.state = StateConnected
		logger.Debug().Msg("answer accepted")

	case PayloadCandidate:
		if !p.remoteSet {
			p.pending = append(p.pending, *pl.Candidate)
			return nil
		}
		o.addCandidate(p, *pl.Candidate)
	}
	return nil
}

// Peers returns snapshots ordered by peer id.
func (o *Orchestrator) Peers() []PeerInfo {
	o.mx.Lock()
	infos := make([]PeerInfo, 0, len(o.peers))
	for _, p := range o.peers {
		infos = append(infos, p.info())
	}
	o.mx.Unlock()

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].ID < infos[j].ID
	})
	return infos
}

func (o *Orchestrator) Peer(id string) (PeerInfo, bool) {
	o.mx.Lock()
	defer o.mx.Unlock()

	p, ok := o.peers[id]
	if !ok {
		return PeerInfo{}, false
	}
	return p.info(), true
}

// newPeer requires the lock.
func (o *Orchestrator) newPeer(id, name string, role Role) (*peer, error) {
	p := &peer{
		id:     id,
		name:   name,
		role:   role,
		state:  StateNew,
		closed: &atomic.Bool{},
	}
	session, err := o.engine.NewSession(id, Handlers{
		OnCandidate: func(c Candidate) {
			if p.closed.Load() {
				return
			}
			if err := o.send(p, Payload{Type: PayloadCandidate, Candidate: &c}); err != nil {
				o.logger.Debug().Err(err).Str("peer", id).Msg("candidate not sent")
			}
		},
		OnConnected: func() {
			o.connected(p)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: new session for %s: %w", ErrNegotiation, id, err)
	}
	p.session = session
	o.peers[id] = p

	o.logger.Debug().
		Str("peer", id).
		Str("name", name).
		Str("role", role.String()).
		Msg("peer relationship created")
	return p, nil
}

// offer requires the lock.
func (o *Orchestrator) offer(p *peer) error {
	offer, err := p.session.CreateOffer()
	if err != nil {
		return fmt.Errorf("%w: create offer for %s: %w", ErrNegotiation, p.id, err)
	}
	p.state = StateOfferSent
	return o.send(p, Payload{Type: PayloadOffer, SDP: &offer})
}

func (o *Orchestrator) connected(p *peer) {
	o.mx.Lock()
	defer o.mx.Unlock()

	if o.peers[p.id] != p || p.state != StateAnswerSent {
		return
	}
	p.state = StateConnected
	o.logger.Debug().Str("peer", p.id).Msg("peer connected")
}

// remoteInstalled requires the lock.
func (o *Orchestrator) remoteInstalled(p *peer) {
	p.remoteSet = true
	pending := p.pending
	p.pending = nil
	for _, c := range pending {
		o.addCandidate(p, c)
	}
}

// Candidate failures never abort the relationship.
func (o *Orchestrator) addCandidate(p *peer, c Candidate) {
	if err := p.session.AddCandidate(c); err != nil {
		o.logger.Debug().Err(err).Str("peer", p.id).Msg("candidate ignored")
	}
}

func (o *Orchestrator) send(p *peer, pl Payload) error {
	data, err := json.Marshal(&pl)
	if err != nil {
		return err
	}
	return o.transport.Signal(p.id, data)
}

func (o *Orchestrator) close(p *peer) {
	p.closed.Store(true)
	if err := p.session.Close(); err != nil {
		o.logger.Debug().Err(err).Str("peer", p.id).Msg("session close failed")
	}
}
