package rtc

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dkeye/Roulette/internal/core"
	"github.com/dkeye/Roulette/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var errNoVideoSender = errors.New("live connection has no video sender")

// addCandidate is swapped in tests to observe flushes.
var addCandidate = func(pc *webrtc.PeerConnection, c webrtc.ICECandidateInit) error {
	return pc.AddICECandidate(c)
}

type Config struct {
	ICEServers []webrtc.ICEServer
	// IncludeLoopback gathers 127.0.0.1 host candidates, only useful on a single machine.
	IncludeLoopback bool
}

func DefaultWebRTCConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302"},
			},
		},
	}
}

// RemoteStream is the inbound media of the current partner.
type RemoteStream struct {
	PartnerID string
	Tracks    []*webrtc.TrackRemote
}

// session is the PeerSession: one pion connection bound to one partner.
// partnerID and pc never change after construction.
type session struct {
	partnerID string
	pc        *webrtc.PeerConnection
	senders   map[webrtc.RTPCodecType]*webrtc.RTPSender

	// guarded by Manager.mu
	pending []webrtc.ICECandidateInit
	offered bool

	mu     sync.Mutex
	state  domain.ConnectionState
	remote *RemoteStream

	closed  atomic.Bool
	packets atomic.Uint64
}

// Manager owns at most one live peer connection at a time.
type Manager struct {
	api *webrtc.API
	cfg webrtc.Configuration

	mu   sync.Mutex
	sess *session

	hmu      sync.RWMutex
	handlers core.PeerHandlers
}

func NewManager(cfg Config) (*Manager, error) {
	wcfg := DefaultWebRTCConfig()
	if len(cfg.ICEServers) > 0 {
		wcfg.ICEServers = cfg.ICEServers
	}

	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, ir); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}
	se := webrtc.SettingEngine{LoggerFactory: NewLoggerFactory(log.Logger)}
	se.SetIncludeLoopbackCandidate(cfg.IncludeLoopback)

	return &Manager{
		api: webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(ir), webrtc.WithSettingEngine(se)),
		cfg: wcfg,
	}, nil
}

func (m *Manager) SetHandlers(h core.PeerHandlers) {
	m.hmu.Lock()
	defer m.hmu.Unlock()
	m.handlers = h
}

func (m *Manager) getHandlers() core.PeerHandlers {
	m.hmu.RLock()
	defer m.hmu.RUnlock()
	return m.handlers
}

func (m *Manager) CreateConnection(partnerID string, stream core.LocalStream) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess != nil {
		return core.ErrSessionBusy
	}

	pc, err := m.api.NewPeerConnection(m.cfg)
	if err != nil {
		return fmt.Errorf("new peer connection: %w", err)
	}
	s := &session{
		partnerID: partnerID,
		pc:        pc,
		senders:   make(map[webrtc.RTPCodecType]*webrtc.RTPSender),
		state:     domain.ConnNew,
	}
	if stream != nil {
		for _, t := range stream.Tracks() {
			sender, err := pc.AddTrack(t)
			if err != nil {
				_ = pc.Close()
				return fmt.Errorf("add %s track: %w", t.Kind(), err)
			}
			s.senders[t.Kind()] = sender
			go drainRTCP(sender)
		}
	}
	// Without a local track of a kind we still want to receive it.
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if _, ok := s.senders[kind]; ok {
			continue
		}
		if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			_ = pc.Close()
			return fmt.Errorf("add %s transceiver: %w", kind, err)
		}
	}

	m.bind(s)
	m.sess = s
	log.Info().Str("module", "webrtc").Str("partner", partnerID).Int("senders", len(s.senders)).Msg("peer connection created")
	return nil
}

func (m *Manager) bind(s *session) {
	s.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil || s.closed.Load() {
			return
		}
		if h := m.getHandlers(); h.OnCandidate != nil {
			h.OnCandidate(s.partnerID, cand.ToJSON())
		}
	})

	s.pc.OnConnectionStateChange(func(st webrtc.PeerConnectionState) {
		state := connectionState(st)
		log.Info().Str("module", "webrtc").Str("partner", s.partnerID).Str("peer_connection_state", st.String()).Msg("Peer state")
		s.mu.Lock()
		s.state = state
		s.mu.Unlock()
		if s.closed.Load() {
			return
		}
		if h := m.getHandlers(); h.OnState != nil {
			h.OnState(s.partnerID, state)
		}
	})

	s.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "webrtc").
			Str("partner", s.partnerID).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		if s.closed.Load() {
			return
		}
		s.mu.Lock()
		if s.remote == nil {
			s.remote = &RemoteStream{PartnerID: s.partnerID}
		}
		s.remote.Tracks = append(s.remote.Tracks, track)
		s.mu.Unlock()

		go s.drainRemote(track)
		if h := m.getHandlers(); h.OnRemoteTrack != nil {
			h.OnRemoteTrack(s.partnerID, track)
		}
	})
}

// current returns the live session for partnerID or a SignalingError.
// Callers hold m.mu.
func (m *Manager) current(partnerID string) (*session, error) {
	if m.sess == nil {
		return nil, &core.SignalingError{Partner: partnerID, Err: core.ErrNoSession}
	}
	if m.sess.partnerID != partnerID {
		return nil, &core.SignalingError{Partner: partnerID, Err: core.ErrStalePartner}
	}
	return m.sess, nil
}

func (m *Manager) CreateOffer(partnerID string) (webrtc.SessionDescription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.current(partnerID)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local offer: %w", err)
	}
	s.offered = true
	return offer, nil
}

func (m *Manager) ApplyOffer(partnerID string, sdp webrtc.SessionDescription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.current(partnerID)
	if err != nil {
		return err
	}
	if sdp.Type != webrtc.SDPTypeOffer || sdp.SDP == "" {
		return &core.SignalingError{Partner: partnerID, Err: core.ErrMalformedEnvelope}
	}
	if err := s.pc.SetRemoteDescription(sdp); err != nil {
		return &core.SignalingError{Partner: partnerID, Err: fmt.Errorf("apply offer: %w", err)}
	}
	m.flushCandidates(s)
	return nil
}

func (m *Manager) CreateAnswer(partnerID string) (webrtc.SessionDescription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.current(partnerID)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if rd := s.pc.RemoteDescription(); rd == nil || rd.Type != webrtc.SDPTypeOffer {
		return webrtc.SessionDescription{}, &core.SignalingError{Partner: partnerID, Err: core.ErrNoRemoteOffer}
	}
	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local answer: %w", err)
	}
	return answer, nil
}

func (m *Manager) ApplyAnswer(partnerID string, sdp webrtc.SessionDescription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.current(partnerID)
	if err != nil {
		return err
	}
	if !s.offered || s.pc.SignalingState() != webrtc.SignalingStateHaveLocalOffer {
		return &core.SignalingError{Partner: partnerID, Err: core.ErrNoPendingOffer}
	}
	if sdp.Type != webrtc.SDPTypeAnswer || sdp.SDP == "" {
		return &core.SignalingError{Partner: partnerID, Err: core.ErrMalformedEnvelope}
	}
	if err := s.pc.SetRemoteDescription(sdp); err != nil {
		return &core.SignalingError{Partner: partnerID, Err: fmt.Errorf("apply answer: %w", err)}
	}
	s.offered = false
	m.flushCandidates(s)
	return nil
}

// AddRemoteCandidate buffers until a remote description exists.
func (m *Manager) AddRemoteCandidate(partnerID string, c webrtc.ICECandidateInit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.current(partnerID)
	if err != nil {
		return err
	}
	if c.Candidate == "" {
		// end-of-candidates marker
		return nil
	}
	if s.pc.RemoteDescription() == nil {
		s.pending = append(s.pending, c)
		log.Debug().Str("module", "webrtc").Str("partner", partnerID).Int("pending", len(s.pending)).Msg("candidate buffered")
		return nil
	}
	if err := addCandidate(s.pc, c); err != nil {
		return &core.SignalingError{Partner: partnerID, Err: fmt.Errorf("add candidate: %w", err)}
	}
	return nil
}

func (m *Manager) flushCandidates(s *session) {
	pending := s.pending
	s.pending = nil
	for _, c := range pending {
		if err := addCandidate(s.pc, c); err != nil {
			log.Warn().Err(err).Str("module", "webrtc").Str("partner", s.partnerID).Msg("buffered candidate rejected")
		}
	}
	if len(pending) > 0 {
		log.Debug().Str("module", "webrtc").Str("partner", s.partnerID).Int("flushed", len(pending)).Msg("candidates flushed")
	}
}

func (m *Manager) ReplaceVideoTrack(track webrtc.TrackLocal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess == nil {
		return nil
	}
	sender, ok := m.sess.senders[webrtc.RTPCodecTypeVideo]
	if !ok {
		return errNoVideoSender
	}
	if err := sender.ReplaceTrack(track); err != nil {
		return fmt.Errorf("replace video track: %w", err)
	}
	log.Info().Str("module", "webrtc").Str("partner", m.sess.partnerID).Msg("video track replaced")
	return nil
}

// Close tears down the live session. Safe to call any number of times.
// Local capture tracks stay alive; only this connection's senders stop.
func (m *Manager) Close() {
	m.mu.Lock()
	s := m.sess
	m.sess = nil
	m.mu.Unlock()
	if s == nil || !s.closed.CompareAndSwap(false, true) {
		return
	}

	for kind, sender := range s.senders {
		if err := sender.Stop(); err != nil {
			log.Debug().Err(err).Str("module", "webrtc").Str("kind", kind.String()).Msg("sender stop")
		}
	}
	if err := s.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "webrtc").Str("partner", s.partnerID).Msg("close error")
	} else {
		log.Info().Str("module", "webrtc").Str("partner", s.partnerID).Msg("closed")
	}
	s.mu.Lock()
	s.remote = nil
	s.state = domain.ConnClosed
	s.mu.Unlock()
}

// PartnerID of the live session, empty when none.
func (m *Manager) PartnerID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess == nil {
		return ""
	}
	return m.sess.partnerID
}

func (m *Manager) State() domain.ConnectionState {
	m.mu.Lock()
	s := m.sess
	m.mu.Unlock()
	if s == nil {
		return domain.ConnClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// RemoteStream returns nil until the first remote track arrives.
func (m *Manager) RemoteStream() *RemoteStream {
	m.mu.Lock()
	s := m.sess
	m.mu.Unlock()
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.remote == nil {
		return nil
	}
	cp := *s.remote
	cp.Tracks = append([]*webrtc.TrackRemote(nil), s.remote.Tracks...)
	return &cp
}

// PacketsReceived counts inbound RTP packets of the live session.
func (m *Manager) PacketsReceived() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess == nil {
		return 0
	}
	return m.sess.packets.Load()
}

func (s *session) drainRemote(track *webrtc.TrackRemote) {
	for {
		if _, _, err := track.ReadRTP(); err != nil {
			return
		}
		s.packets.Add(1)
	}
}

// drainRTCP keeps interceptors (NACK, reports) running for an outbound track.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func connectionState(st webrtc.PeerConnectionState) domain.ConnectionState {
	switch st {
	case webrtc.PeerConnectionStateConnecting:
		return domain.ConnConnecting
	case webrtc.PeerConnectionStateConnected:
		return domain.ConnConnected
	case webrtc.PeerConnectionStateDisconnected:
		return domain.ConnDisconnected
	case webrtc.PeerConnectionStateFailed:
		return domain.ConnFailed
	case webrtc.PeerConnectionStateClosed:
		return domain.ConnClosed
	default:
		return domain.ConnNew
	}
}
