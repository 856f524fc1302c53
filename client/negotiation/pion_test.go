package negotiation

import (
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/adwski/audiorooms/backend/model"
	"github.com/pion/logging"
	"github.com/pion/rtp"
	"github.com/pion/transport/v4/vnet"
	"github.com/rs/zerolog"
)

// loopback delivers payloads between two orchestrators in order,
// from a single goroutine, like a relay would.
type loopback struct {
	q    chan func()
	done chan struct{}
}

func newLoopback(t *testing.T) *loopback {
	t.Helper()
	lb := &loopback{q: make(chan func(), 1024), done: make(chan struct{})}
	go func() {
		for {
			select {
			case f := <-lb.q:
				f()
			case <-lb.done:
				return
			}
		}
	}()
	t.Cleanup(func() { close(lb.done) })
	return lb
}

type loopbackTransport struct {
	lb     *loopback
	self   string
	mx     *sync.Mutex
	target *Orchestrator
	t      *testing.T
}

func (lt *loopbackTransport) Signal(_ string, data json.RawMessage) error {
	lt.mx.Lock()
	target := lt.target
	lt.mx.Unlock()
	lt.lb.q <- func() {
		if err := target.HandleSignal(lt.self, data); err != nil {
			lt.t.Logf("%s: %v", lt.self, err)
		}
	}
	return nil
}

func newVNets(t *testing.T) (*vnet.Net, *vnet.Net) {
	t.Helper()
	router, err := vnet.NewRouter(&vnet.RouterConfig{
		CIDR:          "10.0.0.0/24",
		LoggerFactory: logging.NewDefaultLoggerFactory(),
	})
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	t.Cleanup(func() { _ = router.Stop() })

	netA, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{"10.0.0.1"}})
	if err != nil {
		t.Fatalf("new net A: %v", err)
	}
	netB, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{"10.0.0.2"}})
	if err != nil {
		t.Fatalf("new net B: %v", err)
	}
	if err = router.AddNet(netA); err != nil {
		t.Fatalf("add net A: %v", err)
	}
	if err = router.AddNet(netB); err != nil {
		t.Fatalf("add net B: %v", err)
	}
	if err = router.Start(); err != nil {
		t.Fatalf("start router: %v", err)
	}
	return netA, netB
}

func TestPionEnginesExchangeAudio(t *testing.T) {
	logger := zerolog.New(io.Discard)
	netA, netB := newVNets(t)

	sinkA, sinkB := NewPacketCounter(), NewPacketCounter()
	engA, err := NewPionEngine(PionConfig{Sink: sinkA, Logger: &logger, Net: netA})
	if err != nil {
		t.Fatalf("engine A: %v", err)
	}
	engB, err := NewPionEngine(PionConfig{Sink: sinkB, Logger: &logger, Net: netB})
	if err != nil {
		t.Fatalf("engine B: %v", err)
	}

	lb := newLoopback(t)
	trA := &loopbackTransport{lb: lb, self: "a", mx: &sync.Mutex{}, t: t}
	trB := &loopbackTransport{lb: lb, self: "b", mx: &sync.Mutex{}, t: t}
	orchA := NewOrchestrator(Config{Engine: engA, Transport: trA, Logger: &logger})
	orchB := NewOrchestrator(Config{Engine: engB, Transport: trB, Logger: &logger})
	trA.mx.Lock()
	trA.target = orchB
	trA.mx.Unlock()
	trB.mx.Lock()
	trB.target = orchA
	trB.mx.Unlock()
	t.Cleanup(func() {
		orchA.Reset()
		orchB.Reset()
	})

	// a was in the room first, b joins and receives a in its roster.
	orchA.PeerJoined("b", "Bob")
	orchB.Roster([]model.Peer{{ID: "a", Name: "Ann"}})

	deadline := time.After(20 * time.Second)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	frame := []byte{0xf8, 0xff, 0xfe} // opus silence
	for {
		select {
		case <-deadline:
			pa, _ := orchA.Peer("b")
			pb, _ := orchB.Peer("a")
			t.Fatalf("no audio exchanged: a->b %s/%s, b->a %s/%s, a got %d, b got %d packets",
				pa.Role, pa.State, pb.Role, pb.State,
				sinkA.Stats("b").Packets, sinkB.Stats("a").Packets)
		case <-ticker.C:
		}

		_ = engA.WriteSample(frame, 20*time.Millisecond)
		_ = engB.WriteSample(frame, 20*time.Millisecond)

		pa, _ := orchA.Peer("b")
		pb, _ := orchB.Peer("a")
		if pa.State == StateConnected && pb.State == StateConnected &&
			sinkA.Stats("b").Packets > 0 && sinkB.Stats("a").Packets > 0 {
			if pa.Role != Responder || pb.Role != Initiator {
				t.Fatalf("unexpected roles: a sees b as %s, b sees a as %s", pa.Role, pb.Role)
			}
			return
		}
	}
}

func TestPacketCounter(t *testing.T) {
	pc := NewPacketCounter()
	pc.WriteRTP("a", &rtp.Packet{Header: rtp.Header{SequenceNumber: 7}, Payload: make([]byte, 10)})
	pc.WriteRTP("a", &rtp.Packet{Header: rtp.Header{SequenceNumber: 8}, Payload: make([]byte, 5)})
	pc.WriteRTP("b", &rtp.Packet{Header: rtp.Header{SequenceNumber: 1}})

	if st := pc.Stats("a"); st.Packets != 2 || st.Bytes != 15 || st.LastSequence != 8 {
		t.Fatalf("unexpected stats for a: %+v", st)
	}
	snap := pc.Snapshot()
	if len(snap) != 2 || snap["b"].Packets != 1 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if st := pc.Stats("nobody"); st.Packets != 0 {
		t.Fatalf("unexpected stats: %+v", st)
	}
}
