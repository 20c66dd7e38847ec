package rtc

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dkeye/Roulette/internal/core"
	"github.com/dkeye/Roulette/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(Config{
		ICEServers:      []webrtc.ICEServer{{URLs: []string{"stun:127.0.0.1:3478"}}},
		IncludeLoopback: true,
	})
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m
}

type testStream struct {
	tracks []webrtc.TrackLocal
}

func (s testStream) ID() string                  { return "test" }
func (s testStream) Tracks() []webrtc.TrackLocal { return s.tracks }

func newVideoTrack(t *testing.T, id string) *webrtc.TrackLocalStaticSample {
	t.Helper()
	tr, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}, id, "test")
	require.NoError(t, err)
	return tr
}

// countCandidates replaces addCandidate for the duration of the test.
func countCandidates(t *testing.T) *atomic.Int32 {
	t.Helper()
	var n atomic.Int32
	prev := addCandidate
	addCandidate = func(pc *webrtc.PeerConnection, c webrtc.ICECandidateInit) error {
		n.Add(1)
		return prev(pc, c)
	}
	t.Cleanup(func() { addCandidate = prev })
	return &n
}

func hostCandidate(port string) webrtc.ICECandidateInit {
	mid := "0"
	return webrtc.ICECandidateInit{
		Candidate: "candidate:1 1 udp 2130706431 192.0.2.1 " + port + " typ host",
		SDPMid:    &mid,
	}
}

func TestManager_BuffersCandidatesUntilRemoteDescription(t *testing.T) {
	added := countCandidates(t)
	offerer := newTestManager(t)
	answerer := newTestManager(t)
	require.NoError(t, offerer.CreateConnection("b", nil))
	require.NoError(t, answerer.CreateConnection("a", nil))

	require.NoError(t, answerer.AddRemoteCandidate("a", hostCandidate("50000")))
	require.NoError(t, answerer.AddRemoteCandidate("a", hostCandidate("50001")))
	require.NoError(t, answerer.AddRemoteCandidate("a", webrtc.ICECandidateInit{}))

	answerer.mu.Lock()
	assert.Len(t, answerer.sess.pending, 2)
	answerer.mu.Unlock()
	assert.Equal(t, int32(0), added.Load())

	offer, err := offerer.CreateOffer("b")
	require.NoError(t, err)
	require.NoError(t, answerer.ApplyOffer("a", offer))

	answerer.mu.Lock()
	assert.Empty(t, answerer.sess.pending)
	answerer.mu.Unlock()
	assert.Equal(t, int32(2), added.Load())

	answer, err := answerer.CreateAnswer("a")
	require.NoError(t, err)
	require.NoError(t, offerer.ApplyAnswer("b", answer))

	// A later candidate goes straight in; the flushed ones are not replayed.
	require.NoError(t, answerer.AddRemoteCandidate("a", hostCandidate("50002")))
	assert.Equal(t, int32(3), added.Load())
}

func TestManager_AnswerWithoutOffer(t *testing.T) {
	offerer := newTestManager(t)
	answerer := newTestManager(t)
	require.NoError(t, offerer.CreateConnection("b", nil))
	require.NoError(t, answerer.CreateConnection("a", nil))

	err := offerer.ApplyAnswer("b", webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0"})
	assert.ErrorIs(t, err, core.ErrNoPendingOffer)
	assert.Equal(t, domain.ConnNew, offerer.State())

	_, err = answerer.CreateAnswer("a")
	assert.ErrorIs(t, err, core.ErrNoRemoteOffer)
}

func TestManager_PartnerChecks(t *testing.T) {
	m := newTestManager(t)

	_, err := m.CreateOffer("b")
	assert.ErrorIs(t, err, core.ErrNoSession)

	require.NoError(t, m.CreateConnection("b", nil))
	assert.ErrorIs(t, m.CreateConnection("c", nil), core.ErrSessionBusy)

	_, err = m.CreateOffer("old")
	assert.ErrorIs(t, err, core.ErrStalePartner)
	assert.ErrorIs(t, m.AddRemoteCandidate("old", hostCandidate("1")), core.ErrStalePartner)
	assert.ErrorIs(t, m.ApplyOffer("old", webrtc.SessionDescription{}), core.ErrStalePartner)

	var sigErr *core.SignalingError
	require.ErrorAs(t, m.ApplyAnswer("old", webrtc.SessionDescription{}), &sigErr)
	assert.Equal(t, "old", sigErr.Partner)

	assert.ErrorIs(t, m.ApplyOffer("b", webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer}), core.ErrMalformedEnvelope)
}

func TestManager_CloseIsIdempotent(t *testing.T) {
	m := newTestManager(t)
	video := newVideoTrack(t, "video")
	require.NoError(t, m.CreateConnection("b", testStream{tracks: []webrtc.TrackLocal{video}}))
	assert.Equal(t, "b", m.PartnerID())

	m.Close()
	first := []any{m.PartnerID(), m.State(), m.RemoteStream(), m.PacketsReceived()}
	m.Close()
	second := []any{m.PartnerID(), m.State(), m.RemoteStream(), m.PacketsReceived()}

	assert.Equal(t, first, second)
	assert.Equal(t, "", m.PartnerID())
	assert.Equal(t, domain.ConnClosed, m.State())
	assert.Nil(t, m.RemoteStream())

	// The capture track survives the connection.
	assert.NoError(t, video.WriteSample(media.Sample{Data: []byte{0}, Duration: time.Millisecond}))

	require.NoError(t, m.CreateConnection("c", nil))
	assert.Equal(t, "c", m.PartnerID())
}

func TestManager_ReplaceVideoTrack(t *testing.T) {
	m := newTestManager(t)
	assert.NoError(t, m.ReplaceVideoTrack(newVideoTrack(t, "v0")), "no session is not an error")

	require.NoError(t, m.CreateConnection("b", nil))
	assert.ErrorIs(t, m.ReplaceVideoTrack(newVideoTrack(t, "v1")), errNoVideoSender)
	m.Close()

	require.NoError(t, m.CreateConnection("c", testStream{tracks: []webrtc.TrackLocal{newVideoTrack(t, "v2")}}))
	assert.NoError(t, m.ReplaceVideoTrack(newVideoTrack(t, "v3")))
}

func TestManager_LoopbackCall(t *testing.T) {
	if testing.Short() {
		t.Skip("opens UDP sockets")
	}
	a := newTestManager(t)
	b := newTestManager(t)

	var mu sync.Mutex
	states := map[string]domain.ConnectionState{}
	wire := func(self, peer *Manager, selfID string) {
		self.SetHandlers(core.PeerHandlers{
			OnCandidate: func(_ string, c webrtc.ICECandidateInit) {
				_ = peer.AddRemoteCandidate(selfID, c)
			},
			OnState: func(_ string, s domain.ConnectionState) {
				mu.Lock()
				states[selfID] = s
				mu.Unlock()
			},
		})
	}
	wire(a, b, "a")
	wire(b, a, "b")

	video := newVideoTrack(t, "video")
	require.NoError(t, a.CreateConnection("b", testStream{tracks: []webrtc.TrackLocal{video}}))
	require.NoError(t, b.CreateConnection("a", nil))

	offer, err := a.CreateOffer("b")
	require.NoError(t, err)
	require.NoError(t, b.ApplyOffer("a", offer))
	answer, err := b.CreateAnswer("a")
	require.NoError(t, err)
	require.NoError(t, a.ApplyAnswer("b", answer))

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		tk := time.NewTicker(20 * time.Millisecond)
		defer tk.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tk.C:
				_ = video.WriteSample(media.Sample{Data: []byte{0x10, 0x02, 0x00, 0x9d, 0x01, 0x2a}, Duration: 20 * time.Millisecond})
			}
		}
	}()

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return states["a"] == domain.ConnConnected && states["b"] == domain.ConnConnected
	}, 10*time.Second, 20*time.Millisecond)
	assert.Eventually(t, func() bool {
		rs := b.RemoteStream()
		return rs != nil && rs.PartnerID == "a" && len(rs.Tracks) == 1 && b.PacketsReceived() > 0
	}, 10*time.Second, 20*time.Millisecond)

	b.Close()
	assert.Nil(t, b.RemoteStream())
}
