package negotiation

import (
	"time"

	"github.com/adwski/audiorooms/client/logging"
	"github.com/pion/transport/v4"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog"
)

const (
	audioTrackID  = "audio"
	audioStreamID = "audiorooms"

	rtcpBufferSize = 1500
)

type PionConfig struct {
	ICEServers []string
	Sink       Sink
	Logger     *zerolog.Logger

	// Net replaces the host network, tests pass a vnet.Net here.
	Net transport.Net
}

// PionEngine creates pion peer connections that send the shared local
// audio track and hand received audio to a Sink.
type PionEngine struct {
	api    *webrtc.API
	config webrtc.Configuration
	track  *webrtc.TrackLocalStaticSample
	sink   Sink
	logger zerolog.Logger
}

func NewPionEngine(cfg PionConfig) (*PionEngine, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	se := webrtc.SettingEngine{
		LoggerFactory: logging.NewLoggerFactory(cfg.Logger),
	}
	if cfg.Net != nil {
		se.SetNet(cfg.Net)
	}

	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: 48000,
		Channels:  2,
	}, audioTrackID, audioStreamID)
	if err != nil {
		return nil, err
	}

	var iceServers []webrtc.ICEServer
	if len(cfg.ICEServers) > 0 {
		iceServers = []webrtc.ICEServer{{URLs: cfg.ICEServers}}
	}

	sink := cfg.Sink
	if sink == nil {
		sink = NewPacketCounter()
	}

	return &PionEngine{
		api: webrtc.NewAPI(
			webrtc.WithSettingEngine(se),
			webrtc.WithMediaEngine(mediaEngine),
		),
		config: webrtc.Configuration{ICEServers: iceServers},
		track:  track,
		sink:   sink,
		logger: cfg.Logger.With().Str("component", "engine").Logger(),
	}, nil
}

// WriteSample sends an encoded Opus frame to every connected peer.
func (e *PionEngine) WriteSample(data []byte, duration time.Duration) error {
	return e.track.WriteSample(media.Sample{Data: data, Duration: duration})
}

func (e *PionEngine) NewSession(peerID string, h Handlers) (Session, error) {
	pc, err := e.api.NewPeerConnection(e.config)
	if err != nil {
		return nil, err
	}
	sender, err := pc.AddTrack(e.track)
	if err != nil {
		_ = pc.Close()
		return nil, err
	}

	logger := e.logger.With().Str("peer", peerID).Logger()

	// Read incoming RTCP so interceptors run.
	go func() {
		buf := make([]byte, rtcpBufferSize)
		for {
			if _, _, rtcpErr := sender.Read(buf); rtcpErr != nil {
				return
			}
		}
	}()

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil || h.OnCandidate == nil {
			return
		}
		init := c.ToJSON()
		h.OnCandidate(Candidate{
			Candidate:        init.Candidate,
			SDPMid:           init.SDPMid,
			SDPMLineIndex:    init.SDPMLineIndex,
			UsernameFragment: init.UsernameFragment,
		})
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logger.Debug().Str("state", state.String()).Msg("peer connection state changed")
		if state == webrtc.PeerConnectionStateConnected && h.OnConnected != nil {
			go h.OnConnected()
		}
	})

	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		logger.Debug().
			Str("codec", remote.Codec().MimeType).
			Uint32("ssrc", uint32(remote.SSRC())).
			Msg("remote track started")
		for {
			pkt, _, readErr := remote.ReadRTP()
			if readErr != nil {
				logger.Debug().Err(readErr).Msg("remote track ended")
				return
			}
			e.sink.WriteRTP(peerID, pkt)
		}
	})

	return &pionSession{pc: pc}, nil
}

type pionSession struct {
	pc *webrtc.PeerConnection
}

func (s *pionSession) CreateOffer() (Description, error) {
	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return Description{}, err
	}
	if err = s.pc.SetLocalDescription(offer); err != nil {
		return Description{}, err
	}
	return Description{Type: PayloadOffer, SDP: offer.SDP}, nil
}

func (s *pionSession) AcceptOffer(offer Description) (Description, error) {
	err := s.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  offer.SDP,
	})
	if err != nil {
		return Description{}, err
	}
	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return Description{}, err
	}
	if err = s.pc.SetLocalDescription(answer); err != nil {
		return Description{}, err
	}
	return Description{Type: PayloadAnswer, SDP: answer.SDP}, nil
}

func (s *pionSession) AcceptAnswer(answer Description) error {
	return s.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answer.SDP,
	})
}

func (s *pionSession) AddCandidate(c Candidate) error {
	return s.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	})
}

func (s *pionSession) Close() error {
	return s.pc.Close()
}
