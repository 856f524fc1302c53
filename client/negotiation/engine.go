// Package negotiation runs per-peer offer/answer/candidate exchanges.
package negotiation

import "errors"

// Role is fixed when a peer relationship is created. Initiators learned
// the peer from their own roster and send the offer, responders learned
// it from a peer-joined notice or an unsolicited signal and wait.
type Role int

const (
	Initiator Role = iota
	Responder
)

func (r Role) String() string {
	switch r {
	case Initiator:
		return "initiator"
	case Responder:
		return "responder"
	default:
		return "unknown"
	}
}

type State int

const (
	StateNew State = iota
	StateOfferSent
	StateAnswerSent
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateOfferSent:
		return "offer-sent"
	case StateAnswerSent:
		return "answer-sent"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Negotiation payload types, carried as signal data.
const (
	PayloadOffer     = "offer"
	PayloadAnswer    = "answer"
	PayloadCandidate = "ice"
)

var (
	ErrMalformedPayload = errors.New("malformed negotiation payload")
	ErrUnknownPayload   = errors.New("unknown negotiation payload type")
	ErrNegotiation      = errors.New("negotiation failed")
)

type Description struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// Payload is the opaque data of a signal envelope.
type Payload struct {
	Type      string       `json:"type"`
	SDP       *Description `json:"sdp,omitempty"`
	Candidate *Candidate   `json:"candidate,omitempty"`
}

// Handlers are invoked by a Session from engine goroutines,
// never from within a Session method call.
type Handlers struct {
	OnCandidate func(Candidate)
	OnConnected func()
}

// Engine creates media sessions, one per remote peer.
type Engine interface {
	NewSession(peerID string, h Handlers) (Session, error)
}

type Session interface {
	// CreateOffer creates and installs a local offer.
	CreateOffer() (Description, error)
	// AcceptOffer installs a remote offer and returns the installed local answer.
	AcceptOffer(offer Description) (Description, error)
	AcceptAnswer(answer Description) error
	AddCandidate(c Candidate) error
	Close() error
}
