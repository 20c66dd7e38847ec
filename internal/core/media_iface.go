package core

import (
	"context"

	"github.com/dkeye/Roulette/internal/domain"
	"github.com/pion/webrtc/v4"
)

type FacingMode string

const (
	FacingFront FacingMode = "user"
	FacingBack  FacingMode = "environment"
)

func (f FacingMode) Opposite() FacingMode {
	if f == FacingBack {
		return FacingFront
	}
	return FacingBack
}

// MediaConstraints are resolution hints plus the camera facing mode.
type MediaConstraints struct {
	Audio     bool
	Video     bool
	Facing    FacingMode
	Width     int
	Height    int
	FrameRate int
}

// LocalStream is the capture stream shared by preview and the outbound connection.
type LocalStream interface {
	ID() string
	Tracks() []webrtc.TrackLocal
}

type MediaController interface {
	Acquire(ctx context.Context, c MediaConstraints) (LocalStream, error)
	Stream() LocalStream
	ToggleAudio() bool
	ToggleVideo() bool
	SwitchCamera(ctx context.Context) error
	Release()
}

// TrackReplacer swaps the sending video track on the live connection without renegotiation.
type TrackReplacer interface {
	ReplaceVideoTrack(track webrtc.TrackLocal) error
}

// PeerHandlers are invoked from pion goroutines; implementations must not block.
type PeerHandlers struct {
	OnCandidate   func(partnerID string, c webrtc.ICECandidateInit)
	OnState       func(partnerID string, s domain.ConnectionState)
	OnRemoteTrack func(partnerID string, track *webrtc.TrackRemote)
}

// PeerManager owns the single live peer connection.
type PeerManager interface {
	TrackReplacer
	SetHandlers(h PeerHandlers)
	CreateConnection(partnerID string, stream LocalStream) error
	CreateOffer(partnerID string) (webrtc.SessionDescription, error)
	ApplyOffer(partnerID string, sdp webrtc.SessionDescription) error
	CreateAnswer(partnerID string) (webrtc.SessionDescription, error)
	ApplyAnswer(partnerID string, sdp webrtc.SessionDescription) error
	AddRemoteCandidate(partnerID string, c webrtc.ICECandidateInit) error
	Close()
}
