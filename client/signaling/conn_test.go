package signaling

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/adwski/audiorooms/backend/model"
	wsserver "github.com/adwski/audiorooms/backend/server/websocket"
	"github.com/adwski/audiorooms/backend/service"
	"github.com/adwski/audiorooms/backend/storage/memory"
	_switch "github.com/adwski/audiorooms/backend/switch"
	"github.com/davecgh/go-spew/spew"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func newRelay(t *testing.T) (*service.Service, string) {
	t.Helper()
	logger := zerolog.New(io.Discard)
	svc := service.NewService(service.Config{
		RoomStore: memory.NewMemStore(),
		Switch:    _switch.NewSwitch(&logger),
		Logger:    &logger,
	})
	srv := wsserver.NewServer(wsserver.Config{
		Logger:           &logger,
		SignalingService: svc,
	})
	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(ts.Close)
	return svc, wsURL(ts)
}

func recv(t *testing.T, c *Conn) model.Envelope {
	t.Helper()
	select {
	case env, ok := <-c.Incoming():
		if !ok {
			t.Fatalf("incoming closed")
		}
		return env
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for relay message")
	}
	return model.Envelope{}
}

func TestConnRoundTrip(t *testing.T) {
	svc, url := newRelay(t)
	room := svc.CreateRoom("Lounge")
	logger := zerolog.New(io.Discard)

	c, err := Dial(context.Background(), url, &logger)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = c.Close() }()

	if err = c.Send(model.Envelope{Type: model.TypeJoinRoom, RoomID: room.ID, Name: "Ann"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	env := recv(t, c)
	if env.Type != model.TypeJoined || env.RoomID != room.ID || env.ClientID == "" {
		t.Fatalf("unexpected reply: %s", spew.Sdump(env))
	}

	_ = c.Close()
	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatalf("done is not closed")
	}
	if err = c.Send(model.Envelope{Type: model.TypeLeaveRoom}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-c.Incoming():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("incoming is not closed")
		}
	}
}

func TestConnLostWhenRelayCloses(t *testing.T) {
	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"kicked","reason":"bye"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`garbage`))
		_ = conn.Close()
	}))
	defer ts.Close()

	logger := zerolog.New(io.Discard)
	c, err := Dial(context.Background(), wsURL(ts), &logger)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	if env := recv(t, c); env.Type != model.TypeKicked || env.Reason != "bye" {
		t.Fatalf("unexpected message: %s", spew.Sdump(env))
	}
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("link loss was not detected")
	}
}

func TestDialFailure(t *testing.T) {
	logger := zerolog.New(io.Discard)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if _, err := Dial(ctx, "ws://127.0.0.1:1/ws", &logger); !errors.Is(err, ErrDial) {
		t.Fatalf("expected ErrDial, got %v", err)
	}
}
