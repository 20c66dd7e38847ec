package session_test

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/dkeye/Roulette/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/mock"
)

// fakeTransport records emitted frames and lets tests deliver inbound events.
type fakeTransport struct {
	mu       sync.Mutex
	id       string
	handlers map[string][]core.Handler
	emitted  []emitted
}

type emitted struct {
	Event   string
	Payload any
}

func newFakeTransport(id string) *fakeTransport {
	return &fakeTransport{id: id, handlers: make(map[string][]core.Handler)}
}

func (t *fakeTransport) ID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.id
}

func (t *fakeTransport) setID(id string) {
	t.mu.Lock()
	t.id = id
	t.mu.Unlock()
}

func (t *fakeTransport) Emit(event string, payload any) error {
	t.mu.Lock()
	t.emitted = append(t.emitted, emitted{Event: event, Payload: payload})
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) On(event string, h core.Handler) {
	t.mu.Lock()
	t.handlers[event] = append(t.handlers[event], h)
	t.mu.Unlock()
}

func (t *fakeTransport) deliver(event string, payload any) {
	b, _ := json.Marshal(payload)
	t.mu.Lock()
	hs := t.handlers[event]
	t.mu.Unlock()
	for _, h := range hs {
		h(b)
	}
}

func (t *fakeTransport) events(name string) []emitted {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []emitted
	for _, e := range t.emitted {
		if e.Event == name {
			out = append(out, e)
		}
	}
	return out
}

func (t *fakeTransport) names() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.emitted))
	for _, e := range t.emitted {
		out = append(out, e.Event)
	}
	return out
}

type fakeStream struct{}

func (fakeStream) ID() string                  { return "local" }
func (fakeStream) Tracks() []webrtc.TrackLocal { return nil }

// fakeMedia optionally blocks Acquire until gate is closed.
type fakeMedia struct {
	mu       sync.Mutex
	err      error
	gate     chan struct{}
	acquired int
	released int
	stream   core.LocalStream
}

func (f *fakeMedia) Acquire(ctx context.Context, _ core.MediaConstraints) (core.LocalStream, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acquired++
	if f.err != nil {
		return nil, f.err
	}
	f.stream = fakeStream{}
	return f.stream, nil
}

func (f *fakeMedia) Stream() core.LocalStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stream
}

func (f *fakeMedia) ToggleAudio() bool                  { return false }
func (f *fakeMedia) ToggleVideo() bool                  { return false }
func (f *fakeMedia) SwitchCamera(context.Context) error { return nil }

func (f *fakeMedia) Release() {
	f.mu.Lock()
	f.released++
	f.stream = nil
	f.mu.Unlock()
}

func (f *fakeMedia) releases() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.released
}

// fakePeers mimics the partner checks of the real manager without pion.
type fakePeers struct {
	mu          sync.Mutex
	handlers    core.PeerHandlers
	partner     string
	offered     bool
	offerGate   chan struct{}
	closes      int
	created     []string
	appliedOff  []string
	appliedAns  []string
	candidates  []string
	createdAns  int
	applyAnsErr error
}

func (p *fakePeers) SetHandlers(h core.PeerHandlers) {
	p.mu.Lock()
	p.handlers = h
	p.mu.Unlock()
}

func (p *fakePeers) h() core.PeerHandlers {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handlers
}

func (p *fakePeers) CreateConnection(partnerID string, _ core.LocalStream) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.partner != "" {
		return core.ErrSessionBusy
	}
	p.partner = partnerID
	p.offered = false
	p.created = append(p.created, partnerID)
	return nil
}

func (p *fakePeers) check(partnerID string) error {
	if p.partner == "" {
		return &core.SignalingError{Partner: partnerID, Err: core.ErrNoSession}
	}
	if p.partner != partnerID {
		return &core.SignalingError{Partner: partnerID, Err: core.ErrStalePartner}
	}
	return nil
}

func (p *fakePeers) CreateOffer(partnerID string) (webrtc.SessionDescription, error) {
	if p.offerGate != nil {
		<-p.offerGate
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.check(partnerID); err != nil {
		return webrtc.SessionDescription{}, err
	}
	p.offered = true
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer-" + partnerID}, nil
}

func (p *fakePeers) ApplyOffer(partnerID string, _ webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.check(partnerID); err != nil {
		return err
	}
	p.appliedOff = append(p.appliedOff, partnerID)
	return nil
}

func (p *fakePeers) CreateAnswer(partnerID string) (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.check(partnerID); err != nil {
		return webrtc.SessionDescription{}, err
	}
	p.createdAns++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-" + partnerID}, nil
}

func (p *fakePeers) ApplyAnswer(partnerID string, _ webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.check(partnerID); err != nil {
		return err
	}
	if !p.offered {
		return &core.SignalingError{Partner: partnerID, Err: core.ErrNoPendingOffer}
	}
	if p.applyAnsErr != nil {
		return p.applyAnsErr
	}
	p.appliedAns = append(p.appliedAns, partnerID)
	return nil
}

func (p *fakePeers) AddRemoteCandidate(partnerID string, _ webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.check(partnerID); err != nil {
		return err
	}
	p.candidates = append(p.candidates, partnerID)
	return nil
}

func (p *fakePeers) ReplaceVideoTrack(webrtc.TrackLocal) error { return nil }

func (p *fakePeers) Close() {
	p.mu.Lock()
	p.closes++
	p.partner = ""
	p.offered = false
	p.mu.Unlock()
}

type peerView struct {
	partner    string
	closes     int
	created    []string
	appliedOff []string
	appliedAns []string
	candidates []string
	createdAns int
}

func (p *fakePeers) snapshot() peerView {
	p.mu.Lock()
	defer p.mu.Unlock()
	return peerView{
		partner:    p.partner,
		closes:     p.closes,
		created:    append([]string(nil), p.created...),
		appliedOff: append([]string(nil), p.appliedOff...),
		appliedAns: append([]string(nil), p.appliedAns...),
		candidates: append([]string(nil), p.candidates...),
		createdAns: p.createdAns,
	}
}

// MockReportSink is a testify mock of core.ReportSink.
type MockReportSink struct {
	mock.Mock
}

func (m *MockReportSink) SaveReport(ctx context.Context, r core.Report) error {
	args := m.Called(ctx, r)
	return args.Error(0)
}

type noticeLog struct {
	mu      sync.Mutex
	notices []core.Notice
}

func (n *noticeLog) notify(x core.Notice) {
	n.mu.Lock()
	n.notices = append(n.notices, x)
	n.mu.Unlock()
}

func (n *noticeLog) all() []core.Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]core.Notice(nil), n.notices...)
}
