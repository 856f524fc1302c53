package _switch

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/adwski/audiorooms/backend/model"
	"github.com/rs/zerolog"
)

func newTestSwitch() *Switch {
	logger := zerolog.New(io.Discard)
	return NewSwitch(&logger)
}

func TestSendToConnectedEndpoint(t *testing.T) {
	sw := newTestSwitch()
	wire := model.NewWire()
	if err := sw.Connect("a", wire, nil); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := sw.Connect("a", wire, nil); !errors.Is(err, ErrAlreadyConnected) {
		t.Fatalf("expected ErrAlreadyConnected, got %v", err)
	}

	if !sw.Send("a", model.PeerLeft("x")) {
		t.Fatalf("send failed")
	}
	if env := <-wire.TX; env.Type != model.TypePeerLeft || env.ID != "x" {
		t.Fatalf("unexpected envelope %+v", env)
	}

	if sw.Send("missing", model.PeerLeft("x")) {
		t.Fatalf("send to unknown endpoint must fail")
	}
}

func TestSendAfterDisconnect(t *testing.T) {
	sw := newTestSwitch()
	wire := model.NewWire()
	_ = sw.Connect("a", wire, nil)
	_ = sw.Disconnect("a")
	_ = sw.Disconnect("a")

	if sw.Send("a", model.PeerLeft("x")) {
		t.Fatalf("send after disconnect must fail")
	}
}

func TestFullQueueCancelsEndpoint(t *testing.T) {
	sw := newTestSwitch()
	wire := model.NewWire()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_ = sw.Connect("slow", wire, cancel)

	for i := 0; i < model.OutboundQueueSize; i++ {
		if !sw.Send("slow", model.PeerLeft("x")) {
			t.Fatalf("send %d failed before queue was full", i)
		}
	}
	if sw.Send("slow", model.PeerLeft("x")) {
		t.Fatalf("send to full queue must fail")
	}
	select {
	case <-ctx.Done():
	default:
		t.Fatalf("slow endpoint was not canceled")
	}
}

func TestMulticast(t *testing.T) {
	sw := newTestSwitch()
	a, b := model.NewWire(), model.NewWire()
	_ = sw.Connect("a", a, nil)
	_ = sw.Connect("b", b, nil)

	if n := sw.Multicast(model.PeerJoined("c", "Cid"), "a", "b", "gone"); n != 2 {
		t.Fatalf("expected 2 deliveries, got %d", n)
	}
	for _, w := range []model.Wire{a, b} {
		if env := <-w.TX; env.Type != model.TypePeerJoined || env.Name != "Cid" {
			t.Fatalf("unexpected envelope %+v", env)
		}
	}
}
