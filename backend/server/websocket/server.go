package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/adwski/audiorooms/backend/model"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	defaultShutdownDeadline = 10 * time.Second

	defaultSignalingSessionCloseTimeout = 2 * time.Second

	defaultWebsocketReadBufferSize     = 10000
	defaultWebsocketWriteBufferSize    = 10000
	defaultWebSocketMaxMessageSize     = 64 * 1024
	defaultWebSocketHandshakeTimeout   = 3 * time.Second
	defaultWebSocketCloseWriteDeadline = 2 * time.Second
	defaultWebSocketWriteDeadline      = 5 * time.Second

	// defaultPongWait - defaultPingInterval == is how long we give client to respond
	defaultPingInterval = 20 * time.Second
	defaultPongWait     = 60 * time.Second

	DefaultMaxMessageBurst = 100

	MessageRateLimited = "Rate limit exceeded"
)

var (
	ErrUnexpected = errors.New("unexpected server error")
)

type (
	SignalingService interface {
		CreateSignalingSession(ctx context.Context, cancel context.CancelFunc, clientID string, wire model.Wire) error
		DeleteSignalingSession(ctx context.Context, clientID string) error
	}

	Config struct {
		Logger           *zerolog.Logger
		SignalingService SignalingService
		ListenAddr       string

		// MaxMessageRate is the per-connection inbound message rate.
		// Zero or negative disables limiting. Limited frames are dropped,
		// signals included, so enable it only with headroom for negotiation bursts.
		MaxMessageRate  float64
		MaxMessageBurst int
	}

	Server struct {
		svc SignalingService
		ws  *websocket.Upgrader
		*http.Server

		limit rate.Limit
		burst int

		logger zerolog.Logger
	}
)

func NewServer(cfg Config) *Server {
	srv := &Server{
		logger: cfg.Logger.With().Str("component", "websocket-server").Logger(),
		svc:    cfg.SignalingService,
		ws: &websocket.Upgrader{
			HandshakeTimeout: defaultWebSocketHandshakeTimeout,
			ReadBufferSize:   defaultWebsocketReadBufferSize,
			WriteBufferSize:  defaultWebsocketWriteBufferSize,
			CheckOrigin:      func(r *http.Request) bool { return true },
		},
		limit: rate.Limit(cfg.MaxMessageRate),
		burst: cfg.MaxMessageBurst,
	}
	if cfg.MaxMessageRate <= 0 {
		srv.limit = rate.Inf
	}
	if srv.burst <= 0 {
		srv.burst = DefaultMaxMessageBurst
	}

	// Any path upgrades, clients usually dial /ws.
	mux := http.NewServeMux()
	mux.HandleFunc("/", srv.signal)

	srv.Server = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: mux,
	}
	return srv
}

func (srv *Server) Run(ctx context.Context, wg *sync.WaitGroup, errc chan<- error) {
	defer func() {
		srv.logger.Debug().Msg("server stopped")
		wg.Done()
	}()

	errSrv := make(chan error, 1)
	go func() {
		errSrv <- srv.ListenAndServe()
	}()

	srv.logger.Info().Str("addr", srv.Addr).Msg("server started")

	select {
	case err := <-errSrv:
		if !errors.Is(err, http.ErrServerClosed) {
			errc <- errors.Join(ErrUnexpected, err)
		}
	case <-ctx.Done():
		shCtx, shCancel := context.WithTimeout(context.Background(), defaultShutdownDeadline)
		defer shCancel()
		if err := srv.Shutdown(shCtx); err != nil {
			srv.logger.Error().Err(err).Msg("server shutdown failed")
		}
	}
}

func (srv *Server) signal(w http.ResponseWriter, r *http.Request) {
	conn, err := srv.ws.Upgrade(w, r, nil)
	if err != nil {
		// Upgrader has already replied with an error status.
		srv.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	var (
		clientID = uuid.NewString()
		wire     = model.NewWire()
	)

	ctx, cancel := context.WithCancel(context.TODO()) // long-living wire context

	err = srv.svc.CreateSignalingSession(ctx, cancel, clientID, wire)
	if err != nil {
		srv.logger.Error().Err(err).Msg("failed to create signaling session")
		cancel()
		webSocketCloser(conn, &srv.logger)
		return
	}
	srv.logger.Debug().
		Str("clientID", clientID).
		Str("remote", r.RemoteAddr).
		Msg("signaling session created")

	go srv.handleWSConn(ctx, cancel, conn, clientID, wire)
}

func (srv *Server) destroySession(clientID string, logger *zerolog.Logger) {
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(defaultSignalingSessionCloseTimeout))
	defer cancel()
	err := srv.svc.DeleteSignalingSession(ctx, clientID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to delete signaling session")
		return
	}
	logger.Debug().Msg("signaling session ended")
}

func (srv *Server) handleWSConn(
	ctx context.Context,
	cancel context.CancelFunc,
	conn *websocket.Conn,
	clientID string,
	wire model.Wire,
) {
	var (
		recvWG = &sync.WaitGroup{}
		sendWG = &sync.WaitGroup{}
	)

	logger := srv.logger.With().
		Str("clientID", clientID).
		Logger()

	limiter := rate.NewLimiter(srv.limit, srv.burst)

	recvWG.Add(1)
	go func() {
		webSocketReceiver(ctx, recvWG, conn, limiter, wire, &logger)
		cancel()
	}()
	sendWG.Add(1)
	go func() {
		webSocketSender(ctx, sendWG, conn, wire.TX, &logger)
		cancel()
	}()

	// Either loop exiting or the switch dropping the endpoint cancels ctx.
	// Sender must be gone before the close frame is written,
	// closing the connection then unblocks a pending read.
	<-ctx.Done()
	sendWG.Wait()
	webSocketCloser(conn, &logger)
	recvWG.Wait()
	srv.destroySession(clientID, &logger)
}

func webSocketSender(
	ctx context.Context,
	wg *sync.WaitGroup,
	conn *websocket.Conn,
	tx <-chan model.Envelope,
	logger *zerolog.Logger,
) {
	pingTicker := time.NewTicker(defaultPingInterval)
	defer func() {
		pingTicker.Stop()
		wg.Done()
	}()
	for {
		var (
			frameType int
			payload   []byte
		)
		select {
		case <-ctx.Done():
			return
		case <-pingTicker.C:
			frameType = websocket.PingMessage
		case env, ok := <-tx:
			if !ok {
				return
			}
			b, err := json.Marshal(&env)
			if err != nil {
				logger.Error().Err(err).Str("type", env.Type).Msg("cannot encode envelope")
				return
			}
			frameType, payload = websocket.TextMessage, b
		}
		if err := writeFrame(conn, frameType, payload, defaultWebSocketWriteDeadline); err != nil {
			logger.Error().Err(err).Int("frame", frameType).Msg("websocket write failed")
			return
		}
		if frameType == websocket.PingMessage {
			logger.Trace().Msg("ping sent")
		}
	}
}

// writeFrame writes a single frame under a fresh write deadline.
func writeFrame(conn *websocket.Conn, frameType int, payload []byte, deadline time.Duration) error {
	if err := conn.SetWriteDeadline(time.Now().Add(deadline)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := conn.WriteMessage(frameType, payload); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

func webSocketReceiver(
	ctx context.Context,
	wg *sync.WaitGroup,
	conn *websocket.Conn,
	limiter *rate.Limiter,
	wire model.Wire,
	logger *zerolog.Logger,
) {
	defer wg.Done()

	conn.SetReadLimit(defaultWebSocketMaxMessageSize)
	readDeadLineFunc := func(deadline time.Duration) error {
		return conn.SetReadDeadline(time.Now().Add(deadline))
	}
	conn.SetPongHandler(func(string) error {
		logger.Trace().Msg("got pong")
		return readDeadLineFunc(defaultPongWait)
	})
	err := readDeadLineFunc(defaultPongWait)
	if err != nil {
		logger.Error().Err(err).Msg("failed to set websocket read deadline")
		return
	}

RecvLoop:
	for {
		select {
		case <-ctx.Done():
			break RecvLoop
		default:
			_, msg, wsErr := conn.ReadMessage()
			if wsErr != nil {
				if websocket.IsCloseError(wsErr,
					websocket.CloseNormalClosure,
					websocket.CloseGoingAway,
					websocket.CloseNoStatusReceived) || ctx.Err() != nil {
					logger.Debug().Err(wsErr).Msg("connection closed")
				} else {
					logger.Error().Err(wsErr).Msg("unexpected error during receive")
				}
				break RecvLoop
			}

			if !limiter.Allow() {
				logger.Warn().Msg("inbound rate limit exceeded, message dropped")
				select {
				case wire.TX <- model.Error(MessageRateLimited):
				default:
				}
				continue
			}

			select {
			case wire.RX <- msg:
			case <-ctx.Done():
				break RecvLoop
			}
		}
	}
}

func webSocketCloser(conn *websocket.Conn, logger *zerolog.Logger) {
	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := writeFrame(conn, websocket.CloseMessage, closeMsg, defaultWebSocketCloseWriteDeadline); err != nil {
		logger.Debug().Err(err).Msg("close frame not sent")
	}
	if err := conn.Close(); err != nil {
		logger.Debug().Err(err).Msg("cannot close websocket connection")
	}
}
