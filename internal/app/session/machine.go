// Package session is the client-side matchmaking state machine.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/dkeye/Roulette/internal/app/presence"
	"github.com/dkeye/Roulette/internal/core"
	"github.com/dkeye/Roulette/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotChatting  = errors.New("not chatting")
	ErrNotPaired    = errors.New("no current partner")
	ErrStopped      = errors.New("session machine stopped")
	ErrEmptyMessage = errors.New("empty message")
)

const (
	inboxSize     = 128
	reportTimeout = 5 * time.Second
)

// Config is what goes into every WaitingRequest plus the capture constraints.
type Config struct {
	Interests []string
	DeviceID  string
	Filters   domain.Filters
	Media     core.MediaConstraints
}

// Observer receives UI-facing callbacks. Every field is optional and is
// called from the loop goroutine.
type Observer struct {
	OnState         func(from, to domain.SessionState)
	OnMatched       func(domain.MatchResult)
	OnMessage       func(from, text string)
	OnFriendRequest func(domain.FriendRequestPayload)
	OnRemoteTrack   func(partnerID string, track *webrtc.TrackRemote)
}

type Deps struct {
	Transport core.Transport
	Media     core.MediaController
	Peers     core.PeerManager
	Identity  core.Identity
	Reports   core.ReportSink
	Presence  *presence.Counter
	Notify    core.Notifier
	Observer  Observer
}

// Machine drives Idle -> Waiting -> Matched -> Chatting -> Ended. All state is
// owned by the Run goroutine; the mutex only guards the snapshot readers see.
type Machine struct {
	deps Deps
	cfg  Config

	inbox chan Event
	done  chan struct{}
	once  sync.Once
	ctx   context.Context

	mu    sync.RWMutex
	state domain.SessionState
	match *domain.MatchResult

	// loop-owned
	epoch     uint64
	acquiring bool
	role      domain.Role
	described bool
	outbound  []webrtc.ICECandidateInit
}

func New(deps Deps, cfg Config) *Machine {
	m := &Machine{
		deps:  deps,
		cfg:   cfg,
		inbox: make(chan Event, inboxSize),
		done:  make(chan struct{}),
		ctx:   context.Background(),
		state: domain.StateIdle,
	}
	if m.deps.Notify == nil {
		m.deps.Notify = func(core.Notice) {}
	}
	m.subscribe()
	m.deps.Peers.SetHandlers(core.PeerHandlers{
		OnCandidate: func(partnerID string, c webrtc.ICECandidateInit) {
			m.post(localCandidate{partner: partnerID, candidate: c})
		},
		OnState: func(partnerID string, s domain.ConnectionState) {
			m.post(ConnStateEvent{Partner: partnerID, State: s})
		},
		OnRemoteTrack: func(partnerID string, t *webrtc.TrackRemote) {
			m.post(remoteTrack{partner: partnerID, track: t})
		},
	})
	return m
}

// subscribe translates inbound transport events into loop events.
func (m *Machine) subscribe() {
	t := m.deps.Transport
	t.On(domain.EventMatched, func(data json.RawMessage) {
		var p domain.MatchResult
		if decode(domain.EventMatched, data, &p) {
			m.post(MatchedEvent{Result: p})
		}
	})
	t.On(domain.EventOffer, func(data json.RawMessage) {
		var p domain.OfferPayload
		if decode(domain.EventOffer, data, &p) {
			m.post(OfferEvent{From: p.From, SDP: p.Offer})
		}
	})
	t.On(domain.EventAnswer, func(data json.RawMessage) {
		var p domain.AnswerPayload
		if decode(domain.EventAnswer, data, &p) {
			m.post(AnswerEvent{From: p.From, SDP: p.Answer})
		}
	})
	t.On(domain.EventICECandidate, func(data json.RawMessage) {
		var p domain.CandidatePayload
		if decode(domain.EventICECandidate, data, &p) {
			m.post(CandidateEvent{From: p.From, Candidate: p.Candidate})
		}
	})
	t.On(domain.EventPartnerLeft, func(data json.RawMessage) {
		var p domain.PartnerLeftPayload
		if decode(domain.EventPartnerLeft, data, &p) {
			m.post(PartnerLeftEvent{Partner: p.PartnerID})
		}
	})
	t.On(domain.EventMessage, func(data json.RawMessage) {
		var p domain.MessagePayload
		if decode(domain.EventMessage, data, &p) {
			m.post(MessageEvent{From: p.From, Text: p.Text})
		}
	})
	t.On(domain.EventFriendRequest, func(data json.RawMessage) {
		var p domain.FriendRequestPayload
		if decode(domain.EventFriendRequest, data, &p) {
			m.post(FriendEvent{Request: p})
		}
	})
	t.On(domain.EventNotification, func(data json.RawMessage) {
		var p domain.NotificationPayload
		if decode(domain.EventNotification, data, &p) {
			m.deps.Notify(core.Notice{Level: core.NoticeInfo, Text: p.Text})
		}
	})
	t.On(domain.EventError, func(data json.RawMessage) {
		var p domain.ErrorPayload
		if decode(domain.EventError, data, &p) {
			m.deps.Notify(core.Notice{Level: core.NoticeWarn, Text: p.Error})
		}
	})
	if m.deps.Presence != nil {
		t.On(domain.EventActiveUsers, m.deps.Presence.HandleActiveUsers)
	}
}

func decode(event string, data json.RawMessage, v any) bool {
	if err := json.Unmarshal(data, v); err != nil {
		err = &core.SignalingError{Err: errors.Join(core.ErrMalformedEnvelope, err)}
		log.Warn().Err(err).Str("module", "session").Str("event", event).Msg("discard envelope")
		return false
	}
	return true
}

// Run processes events until ctx is done, then tears everything down.
func (m *Machine) Run(ctx context.Context) error {
	m.ctx = ctx
	for {
		select {
		case <-ctx.Done():
			m.once.Do(func() { close(m.done) })
			m.deps.Peers.Close()
			m.deps.Media.Release()
			log.Info().Str("module", "session").Msg("machine stopped")
			return ctx.Err()
		case ev := <-m.inbox:
			m.transition(ev)
		}
	}
}

// Post feeds an event to the loop. It never blocks once the loop has stopped.
func (m *Machine) Post(ev Event) { m.post(ev) }

func (m *Machine) post(ev Event) {
	select {
	case m.inbox <- ev:
	case <-m.done:
	}
}

func (m *Machine) Start()               { m.post(StartEvent{}) }
func (m *Machine) Skip()                { m.post(SkipEvent{}) }
func (m *Machine) End()                 { m.post(EndEvent{}) }
func (m *Machine) Report(reason string) { m.post(ReportEvent{Reason: reason}) }

// Send emits a chat message to the partner. Only valid while Chatting.
func (m *Machine) Send(text string) error {
	reply := make(chan error, 1)
	m.post(sendRequest{text: text, reply: reply})
	return m.await(reply)
}

// SendFriendRequest asks the current partner for friendship.
func (m *Machine) SendFriendRequest() error {
	reply := make(chan error, 1)
	m.post(friendRequest{reply: reply})
	return m.await(reply)
}

func (m *Machine) await(reply chan error) error {
	select {
	case err := <-reply:
		return err
	case <-m.done:
		return ErrStopped
	}
}

func (m *Machine) OnConnected(id string)    { m.post(ConnectEvent{ID: id}) }
func (m *Machine) OnDisconnected(err error) { m.post(DisconnectEvent{Err: err}) }
func (m *Machine) OnReconnected(id string)  { m.post(ReconnectEvent{ID: id}) }
func (m *Machine) OnGiveUp(err error)       { m.post(GiveUpEvent{Err: err}) }

func (m *Machine) State() domain.SessionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Match returns the current pairing, if any.
func (m *Machine) Match() (domain.MatchResult, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.match == nil {
		return domain.MatchResult{}, false
	}
	return *m.match, true
}

func (m *Machine) setState(next domain.SessionState) {
	m.mu.Lock()
	prev := m.state
	m.state = next
	m.mu.Unlock()
	if prev == next {
		return
	}
	log.Info().Str("module", "session").Str("from", prev.String()).Str("to", next.String()).Msg("state")
	if f := m.deps.Observer.OnState; f != nil {
		f(prev, next)
	}
}

func (m *Machine) partner() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.match == nil {
		return ""
	}
	return m.match.PartnerID
}

func (m *Machine) setMatch(r *domain.MatchResult) {
	m.mu.Lock()
	m.match = r
	m.mu.Unlock()
}

func (m *Machine) setMedia(s presence.MediaState) {
	if m.deps.Presence != nil {
		m.deps.Presence.SetMediaState(s)
	}
}

func (m *Machine) setLink(up bool) {
	if m.deps.Presence != nil {
		m.deps.Presence.SetTransportUp(up)
	}
}
