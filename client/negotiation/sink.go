package negotiation

import (
	"sync"

	"github.com/pion/rtp"
)

// Sink receives RTP packets of remote audio tracks.
type Sink interface {
	WriteRTP(peerID string, pkt *rtp.Packet)
}

type PeerStats struct {
	Packets      uint64
	Bytes        uint64
	LastSequence uint16
}

// PacketCounter is a headless Sink that only keeps per-peer counters.
type PacketCounter struct {
	mx    *sync.Mutex
	stats map[string]PeerStats
}

func NewPacketCounter() *PacketCounter {
	return &PacketCounter{
		mx:    &sync.Mutex{},
		stats: make(map[string]PeerStats),
	}
}

func (pc *PacketCounter) WriteRTP(peerID string, pkt *rtp.Packet) {
	pc.mx.Lock()
	defer pc.mx.Unlock()

	st := pc.stats[peerID]
	st.Packets++
	st.Bytes += uint64(len(pkt.Payload))
	st.LastSequence = pkt.SequenceNumber
	pc.stats[peerID] = st
}

func (pc *PacketCounter) Stats(peerID string) PeerStats {
	pc.mx.Lock()
	defer pc.mx.Unlock()
	return pc.stats[peerID]
}

func (pc *PacketCounter) Snapshot() map[string]PeerStats {
	pc.mx.Lock()
	defer pc.mx.Unlock()

	snap := make(map[string]PeerStats, len(pc.stats))
	for id, st := range pc.stats {
		snap[id] = st
	}
	return snap
}
