package call

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Mayank77maruti/Meu-ChaT/config"
	"github.com/Mayank77maruti/Meu-ChaT/internal/models"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// NewPionFactory returns a PeerFactory producing pion-backed sessions whose
// media engine carries the acquirer's codecs, so captured tracks and the
// peer connection agree on what goes on the wire.
func NewPionFactory(cfg config.CallConfig, acq *DeviceAcquirer, logger zerolog.Logger) PeerFactory {
	return func() (PeerSession, error) {
		return newPionSession(cfg, acq, logger)
	}
}

// pionSession implements PeerSession on a pion/webrtc peer connection.
type pionSession struct {
	pc  *webrtc.PeerConnection
	log zerolog.Logger

	mu          sync.Mutex
	onCandidate func(models.ICECandidate)
	onRemote    func()
	closed      bool

	remoteOnce sync.Once
}

func newPionSession(cfg config.CallConfig, acq *DeviceAcquirer, logger zerolog.Logger) (*pionSession, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if acq != nil {
		acq.selector.Populate(mediaEngine)
	} else if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	// Generous ICE timeouts so a brief NAT hiccup does not immediately
	// terminate the call.
	se := webrtc.SettingEngine{}
	se.SetICETimeouts(30*time.Second, 120*time.Second, 2*time.Second)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(se),
	)

	iceServers := []webrtc.ICEServer{{URLs: cfg.STUNServers}}
	if cfg.TURNServer != "" {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:       []string{cfg.TURNServer},
			Username:   cfg.TURNUsername,
			Credential: cfg.TURNCredential,
		})
	}

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	s := &pionSession{pc: pc, log: logger}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return // end of gathering
		}
		s.mu.Lock()
		fn := s.onCandidate
		s.mu.Unlock()
		if fn == nil {
			return
		}
		cj := c.ToJSON()
		cand := models.ICECandidate{Candidate: cj.Candidate}
		if cj.SDPMid != nil {
			cand.SDPMid = *cj.SDPMid
		}
		if cj.SDPMLineIndex != nil {
			cand.SDPMLineIndex = *cj.SDPMLineIndex
		}
		fn(cand)
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		s.log.Info().Str("codec", track.Codec().MimeType).Msg("Remote track received")
		s.remoteOnce.Do(func() {
			s.mu.Lock()
			fn := s.onRemote
			s.mu.Unlock()
			if fn != nil {
				fn()
			}
		})
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		s.log.Debug().Str("state", state.String()).Msg("Peer connection state changed")
	})

	return s, nil
}

func (s *pionSession) AddLocalMedia(media LocalMedia) error {
	dm, ok := media.(*DeviceMedia)
	if !ok {
		return fmt.Errorf("unsupported local media %T", media)
	}
	for _, track := range dm.Tracks() {
		if _, err := s.pc.AddTrack(track); err != nil {
			return fmt.Errorf("add local track: %w", err)
		}
	}
	return nil
}

func (s *pionSession) CreateOffer(_ context.Context) (models.SessionDescription, error) {
	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return models.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return models.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}
	return models.SessionDescription{Type: offer.Type.String(), SDP: offer.SDP}, nil
}

func (s *pionSession) CreateAnswer(_ context.Context) (models.SessionDescription, error) {
	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return models.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return models.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}
	return models.SessionDescription{Type: answer.Type.String(), SDP: answer.SDP}, nil
}

func (s *pionSession) SetRemoteDescription(desc models.SessionDescription) error {
	return s.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.NewSDPType(desc.Type),
		SDP:  desc.SDP,
	})
}

func (s *pionSession) AddICECandidate(cand models.ICECandidate) error {
	init := webrtc.ICECandidateInit{Candidate: cand.Candidate}
	if cand.SDPMid != "" {
		mid := cand.SDPMid
		init.SDPMid = &mid
	}
	idx := cand.SDPMLineIndex
	init.SDPMLineIndex = &idx
	return s.pc.AddICECandidate(init)
}

func (s *pionSession) OnICECandidate(fn func(models.ICECandidate)) {
	s.mu.Lock()
	s.onCandidate = fn
	s.mu.Unlock()
}

func (s *pionSession) OnRemoteTrack(fn func()) {
	s.mu.Lock()
	s.onRemote = fn
	s.mu.Unlock()
}

func (s *pionSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.pc.Close()
}
