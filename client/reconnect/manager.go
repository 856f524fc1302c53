// Package reconnect supervises the relay link.
package reconnect

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultBaseDelay   = time.Second
	DefaultMaxDelay    = 5 * time.Second
	DefaultMaxAttempts = 6
)

var ErrRetriesExhausted = errors.New("relay reconnection attempts exhausted")

type State int

const (
	StateConnecting State = iota
	StateConnected
	StateReconnecting
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Link is an established relay connection.
type Link interface {
	Done() <-chan struct{}
	Close() error
}

type Config struct {
	Dial func(ctx context.Context) (Link, error)

	// OnConnected is called with every fresh link, OnLost after a link is gone.
	OnConnected   func(Link)
	OnLost        func()
	OnStateChange func(State)

	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int

	Logger *zerolog.Logger

	// After defaults to time.After.
	After func(time.Duration) <-chan time.Time
}

type Manager struct {
	mx    *sync.Mutex
	state State

	dial          func(ctx context.Context) (Link, error)
	onConnected   func(Link)
	onLost        func()
	onStateChange func(State)

	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	after       func(time.Duration) <-chan time.Time

	logger zerolog.Logger
}

func NewManager(cfg Config) *Manager {
	m := &Manager{
		mx:            &sync.Mutex{},
		state:         StateConnecting,
		dial:          cfg.Dial,
		onConnected:   cfg.OnConnected,
		onLost:        cfg.OnLost,
		onStateChange: cfg.OnStateChange,
		baseDelay:     cfg.BaseDelay,
		maxDelay:      cfg.MaxDelay,
		maxAttempts:   cfg.MaxAttempts,
		after:         cfg.After,
		logger:        cfg.Logger.With().Str("component", "reconnect").Logger(),
	}
	if m.baseDelay <= 0 {
		m.baseDelay = DefaultBaseDelay
	}
	if m.maxDelay <= 0 {
		m.maxDelay = DefaultMaxDelay
	}
	if m.maxAttempts <= 0 {
		m.maxAttempts = DefaultMaxAttempts
	}
	if m.after == nil {
		m.after = time.After
	}
	return m
}

// Delay is the wait before reconnection attempt n, counting from 1.
func (m *Manager) Delay(n int) time.Duration {
	d := time.Duration(n) * m.baseDelay
	if d > m.maxDelay {
		return m.maxDelay
	}
	return d
}

func (m *Manager) State() State {
	m.mx.Lock()
	defer m.mx.Unlock()
	return m.state
}

// Run keeps the link up until ctx is done or attempts are exhausted.
// Attempts are counted since the last successful dial.
func (m *Manager) Run(ctx context.Context) error {
	m.setState(StateConnecting)

	attempt := 0
	for {
		link, err := m.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				m.setState(StateDisconnected)
				return ctx.Err()
			}
			m.logger.Warn().Err(err).Int("attempt", attempt).Msg("relay dial failed")
		} else {
			attempt = 0
			m.setState(StateConnected)
			if m.onConnected != nil {
				m.onConnected(link)
			}

			select {
			case <-link.Done():
				m.logger.Warn().Msg("relay link lost")
				m.lost()
			case <-ctx.Done():
				_ = link.Close()
				m.lost()
				m.setState(StateDisconnected)
				return ctx.Err()
			}
		}

		attempt++
		if attempt > m.maxAttempts {
			m.logger.Error().Int("attempts", m.maxAttempts).Msg("giving up on relay")
			m.setState(StateDisconnected)
			return ErrRetriesExhausted
		}

		m.setState(StateReconnecting)
		delay := m.Delay(attempt)
		m.logger.Info().
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("reconnecting to relay")

		select {
		case <-m.after(delay):
		case <-ctx.Done():
			m.setState(StateDisconnected)
			return ctx.Err()
		}
	}
}

func (m *Manager) lost() {
	if m.onLost != nil {
		m.onLost()
	}
}

func (m *Manager) setState(s State) {
	m.mx.Lock()
	if m.state == s {
		m.mx.Unlock()
		return
	}
	m.state = s
	m.mx.Unlock()

	m.logger.Debug().Str("state", s.String()).Msg("state changed")
	if m.onStateChange != nil {
		m.onStateChange(s)
	}
}
