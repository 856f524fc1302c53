package _switch

import (
	"context"
	"errors"
	"sync"

	"github.com/adwski/audiorooms/backend/model"
	"github.com/rs/zerolog"
)

var (
	ErrAlreadyConnected = errors.New("endpoint is already connected")
)

type endpoint struct {
	tx     chan<- model.Envelope
	cancel context.CancelFunc
}

// Switch delivers outbound envelopes to connected endpoints.
//
// Delivery never blocks: an endpoint whose queue is full is considered dead,
// the envelope is dropped and the endpoint is canceled.
type Switch struct {
	logger zerolog.Logger
	mx     *sync.RWMutex
	fwd    map[string]endpoint
}

func NewSwitch(logger *zerolog.Logger) *Switch {
	return &Switch{
		logger: logger.With().Str("component", "switch").Logger(),
		mx:     &sync.RWMutex{},
		fwd:    make(map[string]endpoint),
	}
}

func (sw *Switch) Connect(id string, wire model.Wire, cancel context.CancelFunc) error {
	sw.mx.Lock()
	defer sw.mx.Unlock()

	if _, ok := sw.fwd[id]; ok {
		return ErrAlreadyConnected
	}
	sw.fwd[id] = endpoint{
		tx:     wire.TX,
		cancel: cancel,
	}
	sw.logger.Debug().Str("endpoint", id).Msg("endpoint connected")
	return nil
}

func (sw *Switch) Disconnect(id string) error {
	sw.mx.Lock()
	defer sw.mx.Unlock()

	if _, ok := sw.fwd[id]; ok {
		delete(sw.fwd, id)
		sw.logger.Debug().Str("endpoint", id).Msg("endpoint disconnected")
	}
	return nil
}

// Send enqueues env for dst and reports whether it was queued.
func (sw *Switch) Send(dst string, env model.Envelope) bool {
	sw.mx.RLock()
	ep, ok := sw.fwd[dst]
	sw.mx.RUnlock()

	logger := sw.logger.With().
		Str("dst", dst).
		Str("type", env.Type).Logger()

	if !ok {
		logger.Debug().Msg("cannot forward, dst not found")
		return false
	}

	select {
	case ep.tx <- env:
		logger.Trace().Msg("envelope is queued")
		return true
	default:
		logger.Error().Msg("dead endpoint, outbound queue is full")
		if ep.cancel != nil {
			ep.cancel()
		}
		return false
	}
}

// Multicast sends env to every dst and returns the number of queued copies.
func (sw *Switch) Multicast(env model.Envelope, dsts ...string) int {
	var sent int
	for _, dst := range dsts {
		if sw.Send(dst, env) {
			sent++
		}
	}
	if sent == 0 && len(dsts) > 0 {
		sw.logger.Debug().
			Str("type", env.Type).
			Msg("multicast did not reach anyone")
	}
	return sent
}
