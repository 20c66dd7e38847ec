package session

import (
	"github.com/dkeye/Roulette/internal/core"
	"github.com/dkeye/Roulette/internal/domain"
	"github.com/pion/webrtc/v4"
)

// Event is one input of the state machine. Every transport callback, pion
// callback and user action is turned into an Event and processed on the loop.
type Event interface{ event() }

type (
	StartEvent struct{}
	SkipEvent  struct{}
	EndEvent   struct{}

	ReportEvent struct {
		Reason string
	}

	MatchedEvent struct {
		Result domain.MatchResult
	}
	OfferEvent struct {
		From string
		SDP  webrtc.SessionDescription
	}
	AnswerEvent struct {
		From string
		SDP  webrtc.SessionDescription
	}
	CandidateEvent struct {
		From      string
		Candidate webrtc.ICECandidateInit
	}
	ConnStateEvent struct {
		Partner string
		State   domain.ConnectionState
	}
	PartnerLeftEvent struct {
		Partner string
	}
	MessageEvent struct {
		From string
		Text string
	}
	FriendEvent struct {
		Request domain.FriendRequestPayload
	}

	ConnectEvent struct {
		ID string
	}
	DisconnectEvent struct {
		Err error
	}
	ReconnectEvent struct {
		ID string
	}
	GiveUpEvent struct {
		Err error
	}
)

// Completions of off-loop work carry the epoch they were started in.
type (
	mediaAcquired struct {
		epoch  uint64
		stream core.LocalStream
		err    error
	}
	offerCreated struct {
		epoch   uint64
		partner string
		sdp     webrtc.SessionDescription
		err     error
	}
	answerCreated struct {
		epoch   uint64
		partner string
		sdp     webrtc.SessionDescription
		err     error
	}
	localCandidate struct {
		partner   string
		candidate webrtc.ICECandidateInit
	}
	remoteTrack struct {
		partner string
		track   *webrtc.TrackRemote
	}
	sendRequest struct {
		text  string
		reply chan error
	}
	friendRequest struct {
		reply chan error
	}
)

func (StartEvent) event()       {}
func (SkipEvent) event()        {}
func (EndEvent) event()         {}
func (ReportEvent) event()      {}
func (MatchedEvent) event()     {}
func (OfferEvent) event()       {}
func (AnswerEvent) event()      {}
func (CandidateEvent) event()   {}
func (ConnStateEvent) event()   {}
func (PartnerLeftEvent) event() {}
func (MessageEvent) event()     {}
func (FriendEvent) event()      {}
func (DisconnectEvent) event()  {}
func (ReconnectEvent) event()   {}
func (ConnectEvent) event()     {}
func (GiveUpEvent) event()      {}
func (mediaAcquired) event()    {}
func (offerCreated) event()     {}
func (answerCreated) event()    {}
func (localCandidate) event()   {}
func (remoteTrack) event()      {}
func (sendRequest) event()      {}
func (friendRequest) event()    {}
