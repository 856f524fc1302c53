// Package signaling is the client side of the relay websocket link.
package signaling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/adwski/audiorooms/backend/model"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait        = 5 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = (pongWait * 9) / 10
	maxMessageSize   = 64 * 1024
	handshakeTimeout = 5 * time.Second

	incomingQueueSize = 64
	outgoingQueueSize = 64
)

var (
	ErrDial   = errors.New("failed to connect to relay")
	ErrClosed = errors.New("signaling link is closed")
)

// Conn is a single relay link. It is not reused after it is lost.
type Conn struct {
	conn     *websocket.Conn
	incoming chan model.Envelope
	outgoing chan model.Envelope
	done     chan struct{}
	once     *sync.Once
	logger   zerolog.Logger
}

// Dial connects to the relay and starts read and write pumps.
func Dial(ctx context.Context, url string, logger *zerolog.Logger) (*Conn, error) {
	dialer := &websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDial, err)
	}

	c := &Conn{
		conn:     conn,
		incoming: make(chan model.Envelope, incomingQueueSize),
		outgoing: make(chan model.Envelope, outgoingQueueSize),
		done:     make(chan struct{}),
		once:     &sync.Once{},
		logger:   logger.With().Str("component", "signaling").Logger(),
	}

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.readPump()
	go c.writePump()

	c.logger.Debug().Str("url", url).Msg("connected to relay")
	return c, nil
}

// Incoming delivers relay messages in order. It is closed when the link is lost.
func (c *Conn) Incoming() <-chan model.Envelope {
	return c.incoming
}

// Done is closed once the link is lost or closed.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Send queues env for the relay.
func (c *Conn) Send(env model.Envelope) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.outgoing <- env:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

func (c *Conn) Close() error {
	c.shutdown()
	return nil
}

func (c *Conn) shutdown() {
	c.once.Do(func() {
		close(c.done)
	})
}

// readPump reads messages from the WebSocket connection.
func (c *Conn) readPump() {
	defer func() {
		c.shutdown()
		close(c.incoming)
	}()

	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}

	for {
		_, b, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Warn().Err(err).Msg("relay link lost")
			}
			return
		}

		env, err := model.DecodeEnvelope(b)
		if err != nil {
			c.logger.Warn().Err(err).Msg("ignoring malformed relay message")
			continue
		}

		select {
		case c.incoming <- env:
		case <-c.done:
			return
		}
	}
}

// writePump is the only writer of the connection. It closes the
// connection on exit, which also unblocks readPump.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case env := <-c.outgoing:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(&env); err != nil {
				c.logger.Warn().Err(err).Msg("failed to write to relay")
				c.shutdown()
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown()
				return
			}

		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
