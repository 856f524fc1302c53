package model

import (
	"encoding/json"
	"errors"
	"time"
)

// Message types sent by clients.
const (
	TypeJoinRoom  = "join-room"
	TypeLeaveRoom = "leave-room"
	TypeSignal    = "signal"
)

// Message types sent by relay. Relay also uses TypeSignal for forwarded negotiation payloads.
const (
	TypeJoined      = "joined"
	TypePeerJoined  = "peer-joined"
	TypePeerLeft    = "peer-left"
	TypeRoomDeleted = "room-deleted"
	TypeKicked      = "kicked"
	TypeError       = "error"
)

// OutboundQueueSize is the capacity of a connection's outbound queue.
const OutboundQueueSize = 256

var ErrMalformed = errors.New("malformed envelope")

type Peer struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type RoomInfo struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	Count     int       `json:"count"`
}

// Envelope is a single signaling message. Only fields relevant to Type are set.
type Envelope struct {
	Type     string          `json:"type"`
	RoomID   string          `json:"roomId,omitempty"`
	ClientID string          `json:"clientId,omitempty"`
	ID       string          `json:"id,omitempty"`
	Name     string          `json:"name,omitempty"`
	To       string          `json:"to,omitempty"`
	From     string          `json:"from,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
	Peers    []Peer          `json:"peers,omitempty"`
	Reason   string          `json:"reason,omitempty"`
	Message  string          `json:"message,omitempty"`
}

// MarshalJSON keeps the roster of a joined message present even when it is empty.
func (e Envelope) MarshalJSON() ([]byte, error) {
	type plain Envelope
	if e.Type != TypeJoined {
		return json.Marshal(plain(e))
	}
	peers := e.Peers
	if peers == nil {
		peers = []Peer{}
	}
	return json.Marshal(struct {
		plain
		Peers []Peer `json:"peers"`
	}{plain(e), peers})
}

// DecodeEnvelope parses a single inbound frame.
func DecodeEnvelope(b []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Envelope{}, errors.Join(ErrMalformed, err)
	}
	return env, nil
}

func Joined(roomID, clientID string, peers []Peer) Envelope {
	return Envelope{Type: TypeJoined, RoomID: roomID, ClientID: clientID, Peers: peers}
}

func PeerJoined(id, name string) Envelope {
	return Envelope{Type: TypePeerJoined, ID: id, Name: name}
}

func PeerLeft(id string) Envelope {
	return Envelope{Type: TypePeerLeft, ID: id}
}

func RoomDeleted(roomID string) Envelope {
	return Envelope{Type: TypeRoomDeleted, RoomID: roomID}
}

func Kicked(reason string) Envelope {
	return Envelope{Type: TypeKicked, Reason: reason}
}

func Signal(from string, data json.RawMessage) Envelope {
	return Envelope{Type: TypeSignal, From: from, Data: data}
}

func Error(message string) Envelope {
	return Envelope{Type: TypeError, Message: message}
}

// Wire connects a signaling transport with the relay.
// RX carries raw inbound frames, TX carries outbound envelopes.
type Wire struct {
	RX chan []byte
	TX chan Envelope
}

func NewWire() Wire {
	return Wire{
		RX: make(chan []byte),
		TX: make(chan Envelope, OutboundQueueSize),
	}
}
