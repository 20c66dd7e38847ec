package session

import (
	"context"
	"errors"
	"strings"

	"github.com/dkeye/Roulette/internal/app/presence"
	"github.com/dkeye/Roulette/internal/core"
	"github.com/dkeye/Roulette/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// transition is the single place the state changes. It runs on the loop only.
func (m *Machine) transition(ev Event) {
	switch e := ev.(type) {
	case StartEvent:
		m.onStart()
	case mediaAcquired:
		m.onMediaAcquired(e)
	case MatchedEvent:
		m.onMatched(e.Result)
	case offerCreated:
		m.onOfferCreated(e)
	case OfferEvent:
		m.onOffer(e)
	case answerCreated:
		m.onAnswerCreated(e)
	case AnswerEvent:
		m.onAnswer(e)
	case CandidateEvent:
		m.onCandidate(e)
	case localCandidate:
		m.onLocalCandidate(e)
	case ConnStateEvent:
		m.onConnState(e)
	case remoteTrack:
		if m.current(e.partner) && m.deps.Observer.OnRemoteTrack != nil {
			m.deps.Observer.OnRemoteTrack(e.partner, e.track)
		}
	case SkipEvent:
		m.onSkip()
	case ReportEvent:
		m.onReport(e.Reason)
	case EndEvent:
		m.onEnd()
	case PartnerLeftEvent:
		m.onPartnerLeft(e.Partner)
	case MessageEvent:
		if m.current(e.From) && m.deps.Observer.OnMessage != nil {
			m.deps.Observer.OnMessage(e.From, e.Text)
		}
	case FriendEvent:
		// From carries a user id; the hub only relays it from the current partner.
		if m.State().Paired() && m.deps.Observer.OnFriendRequest != nil {
			m.deps.Observer.OnFriendRequest(e.Request)
		}
	case sendRequest:
		e.reply <- m.onSend(e.text)
	case friendRequest:
		e.reply <- m.onFriendRequest()
	case ConnectEvent:
		m.setLink(true)
		log.Info().Str("module", "session").Str("id", e.ID).Msg("transport up")
	case DisconnectEvent:
		m.onDisconnect(e.Err)
	case ReconnectEvent:
		m.onReconnect(e.ID)
	case GiveUpEvent:
		m.onGiveUp(e.Err)
	default:
		log.Warn().Str("module", "session").Msgf("unknown event %T", ev)
	}
}

// current reports whether an envelope from partnerID belongs to the live pairing.
func (m *Machine) current(partnerID string) bool {
	return m.State().Paired() && partnerID != "" && partnerID == m.partner()
}

func (m *Machine) stale(kind, from string) {
	err := &core.SignalingError{Partner: from, Err: core.ErrStalePartner}
	log.Debug().Err(err).Str("module", "session").Str("event", kind).Str("state", m.State().String()).Msg("discard envelope")
}

func (m *Machine) onStart() {
	switch m.State() {
	case domain.StateIdle, domain.StateEnded:
	default:
		log.Debug().Str("module", "session").Str("state", m.State().String()).Msg("start ignored")
		return
	}
	if m.acquiring {
		return
	}
	m.acquiring = true
	m.epoch++
	epoch := m.epoch
	go func() {
		stream, err := m.deps.Media.Acquire(m.ctx, m.cfg.Media)
		m.post(mediaAcquired{epoch: epoch, stream: stream, err: err})
	}()
}

func (m *Machine) onMediaAcquired(e mediaAcquired) {
	if e.epoch != m.epoch || !m.acquiring {
		// End won the race; do not keep a camera open nobody asked for.
		if e.err == nil && !m.acquiring && !m.State().Paired() && m.State() != domain.StateWaiting {
			m.deps.Media.Release()
		}
		return
	}
	m.acquiring = false
	if e.err != nil {
		m.setMedia(presence.MediaFailed)
		log.Error().Err(e.err).Str("module", "session").Msg("media acquisition failed")
		m.deps.Notify(core.Notice{Level: core.NoticeError, Text: mediaHint(e.err), Err: e.err})
		return
	}
	m.setMedia(presence.MediaLive)
	m.requeue()
}

func mediaHint(err error) string {
	switch {
	case errors.Is(err, core.ErrPermissionDenied):
		return "Camera or microphone access was denied. Allow access and press start again."
	case errors.Is(err, core.ErrDeviceUnavailable):
		return "No camera or microphone found. Connect a device and press start again."
	default:
		return "Could not start the camera."
	}
}

// requeue emits a fresh WaitingRequest and enters Waiting.
func (m *Machine) requeue() {
	req := domain.WaitingRequest{
		Interests: m.cfg.Interests,
		DeviceID:  m.cfg.DeviceID,
		Filters:   m.cfg.Filters,
	}
	if m.deps.Identity != nil {
		req.UserProfile = m.deps.Identity.Profile()
	}
	if req.Filters.GenderPreference == "" {
		req.Filters.GenderPreference = domain.GenderAny
	}
	if req.Interests == nil {
		req.Interests = []string{}
	}
	m.setState(domain.StateWaiting)
	if err := m.deps.Transport.Emit(domain.EventWaiting, req); err != nil {
		// A reconnect re-emits from Waiting.
		log.Warn().Err(err).Str("module", "session").Msg("emit waiting")
	}
}

// teardown closes the live connection and forgets the partner. Local capture
// stays alive.
func (m *Machine) teardown() {
	m.epoch++
	m.role = domain.RoleNone
	m.described = false
	m.outbound = nil
	m.deps.Peers.Close()
	m.setMatch(nil)
}

func (m *Machine) onMatched(r domain.MatchResult) {
	if m.State() != domain.StateWaiting {
		log.Warn().Str("module", "session").Str("partner", r.PartnerID).Str("state", m.State().String()).Msg("matched ignored")
		return
	}
	self := m.deps.Transport.ID()
	role := domain.NegotiationRole(self, r.PartnerID)
	if self == "" || r.PartnerID == "" || role == domain.RoleNone {
		log.Warn().Str("module", "session").Str("partner", r.PartnerID).Msg("invalid match, requeue")
		m.requeue()
		return
	}

	m.epoch++
	m.role = role
	res := r
	m.setMatch(&res)
	m.setState(domain.StateMatched)
	if f := m.deps.Observer.OnMatched; f != nil {
		f(res)
	}

	if err := m.deps.Peers.CreateConnection(r.PartnerID, m.deps.Media.Stream()); err != nil {
		log.Error().Err(err).Str("module", "session").Str("partner", r.PartnerID).Msg("create connection")
		m.deps.Notify(core.Notice{Level: core.NoticeWarn, Text: "Could not connect to partner, searching again.", Err: err})
		m.teardown()
		m.requeue()
		return
	}
	log.Info().Str("module", "session").Str("self", self).Str("partner", r.PartnerID).Str("role", role.String()).Msg("matched")

	if role != domain.RoleOfferer {
		return
	}
	epoch, partner := m.epoch, r.PartnerID
	go func() {
		sdp, err := m.deps.Peers.CreateOffer(partner)
		m.post(offerCreated{epoch: epoch, partner: partner, sdp: sdp, err: err})
	}()
}

func (m *Machine) onOfferCreated(e offerCreated) {
	if e.epoch != m.epoch || !m.current(e.partner) {
		return
	}
	if e.err != nil {
		m.signalingFailed(e.partner, e.err)
		return
	}
	if err := m.deps.Transport.Emit(domain.EventOffer, domain.OfferPayload{Offer: e.sdp, To: e.partner}); err != nil {
		log.Warn().Err(err).Str("module", "session").Msg("emit offer")
	}
	m.flushLocal(e.partner)
}

func (m *Machine) onOffer(e OfferEvent) {
	if !m.current(e.From) {
		m.stale(domain.EventOffer, e.From)
		return
	}
	if m.role == domain.RoleOfferer {
		log.Warn().Str("module", "session").Str("partner", e.From).Msg("offer while offerer, discard")
		return
	}
	epoch, partner, sdp := m.epoch, e.From, e.SDP
	go func() {
		if err := m.deps.Peers.ApplyOffer(partner, sdp); err != nil {
			m.post(answerCreated{epoch: epoch, partner: partner, err: err})
			return
		}
		answer, err := m.deps.Peers.CreateAnswer(partner)
		m.post(answerCreated{epoch: epoch, partner: partner, sdp: answer, err: err})
	}()
}

func (m *Machine) onAnswerCreated(e answerCreated) {
	if e.epoch != m.epoch || !m.current(e.partner) {
		return
	}
	if e.err != nil {
		m.signalingFailed(e.partner, e.err)
		return
	}
	if err := m.deps.Transport.Emit(domain.EventAnswer, domain.AnswerPayload{Answer: e.sdp, To: e.partner}); err != nil {
		log.Warn().Err(err).Str("module", "session").Msg("emit answer")
	}
	m.flushLocal(e.partner)
}

func (m *Machine) onAnswer(e AnswerEvent) {
	if !m.current(e.From) {
		m.stale(domain.EventAnswer, e.From)
		return
	}
	if err := m.deps.Peers.ApplyAnswer(e.From, e.SDP); err != nil {
		m.signalingFailed(e.From, err)
	}
}

func (m *Machine) onCandidate(e CandidateEvent) {
	if !m.current(e.From) {
		m.stale(domain.EventICECandidate, e.From)
		return
	}
	if err := m.deps.Peers.AddRemoteCandidate(e.From, e.Candidate); err != nil {
		log.Warn().Err(err).Str("module", "session").Str("partner", e.From).Msg("add candidate")
	}
}

// Local candidates are held until our offer or answer went out, so the
// partner always sees the description first.
func (m *Machine) onLocalCandidate(e localCandidate) {
	if !m.current(e.partner) {
		return
	}
	if !m.described {
		m.outbound = append(m.outbound, e.candidate)
		return
	}
	m.emitCandidate(e.partner, e.candidate)
}

func (m *Machine) flushLocal(partner string) {
	m.described = true
	pending := m.outbound
	m.outbound = nil
	for _, c := range pending {
		m.emitCandidate(partner, c)
	}
}

func (m *Machine) emitCandidate(partner string, c webrtc.ICECandidateInit) {
	if err := m.deps.Transport.Emit(domain.EventICECandidate, domain.CandidatePayload{Candidate: c, To: partner}); err != nil {
		log.Warn().Err(err).Str("module", "session").Msg("emit candidate")
	}
}

// signalingFailed discards stale or out-of-order envelopes and tears the
// pairing down for anything else.
func (m *Machine) signalingFailed(partner string, err error) {
	if errors.Is(err, core.ErrStalePartner) || errors.Is(err, core.ErrNoPendingOffer) || errors.Is(err, core.ErrNoSession) {
		log.Warn().Err(err).Str("module", "session").Str("partner", partner).Msg("discard envelope")
		return
	}
	log.Error().Err(err).Str("module", "session").Str("partner", partner).Msg("signaling failed, requeue")
	m.deps.Notify(core.Notice{Level: core.NoticeWarn, Text: "Connection setup failed, searching again.", Err: err})
	m.teardown()
	m.requeue()
}

func (m *Machine) onConnState(e ConnStateEvent) {
	if !m.current(e.Partner) {
		return
	}
	switch e.State {
	case domain.ConnConnected:
		if m.State() == domain.StateMatched {
			m.setState(domain.StateChatting)
		}
	case domain.ConnFailed:
		err := &core.ConnectionFailure{Partner: e.Partner}
		log.Warn().Err(err).Str("module", "session").Msg("requeue")
		m.deps.Notify(core.Notice{Level: core.NoticeWarn, Text: "Connection to partner failed, searching again.", Err: err})
		m.teardown()
		m.requeue()
	}
}

func (m *Machine) onSkip() {
	if !m.State().Paired() {
		log.Debug().Str("module", "session").Str("state", m.State().String()).Msg("skip ignored")
		return
	}
	log.Info().Str("module", "session").Str("partner", m.partner()).Msg("skip")
	m.teardown()
	m.requeue()
}

func (m *Machine) onReport(reason string) {
	if !m.State().Paired() {
		log.Debug().Str("module", "session").Msg("report ignored")
		return
	}
	match, _ := m.Match()
	partner := match.PartnerID
	if err := m.deps.Transport.Emit(domain.EventReport, domain.ReportPayload{ReportedUser: partner, Reason: reason}); err != nil {
		log.Warn().Err(err).Str("module", "session").Msg("emit report")
	}
	if sink := m.deps.Reports; sink != nil {
		r := core.Report{ReportedID: partner, ReportedName: match.PartnerProfile.Username, Reason: reason}
		if m.deps.Identity != nil {
			r.ReporterID = m.deps.Identity.UserID()
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), reportTimeout)
			defer cancel()
			if err := sink.SaveReport(ctx, r); err != nil {
				log.Warn().Err(err).Str("module", "session").Str("reported", partner).Msg("save report")
			}
		}()
	}
	m.onSkip()
}

func (m *Machine) onEnd() {
	st := m.State()
	if st == domain.StateEnded || (st == domain.StateIdle && !m.acquiring) {
		return
	}
	m.acquiring = false
	m.teardown()
	m.deps.Media.Release()
	m.setMedia(presence.MediaNone)
	if st != domain.StateIdle {
		if err := m.deps.Transport.Emit(domain.EventLeave, struct{}{}); err != nil {
			log.Debug().Err(err).Str("module", "session").Msg("emit leave")
		}
	}
	m.setState(domain.StateEnded)
}

func (m *Machine) onPartnerLeft(partner string) {
	if !m.current(partner) {
		return
	}
	m.deps.Notify(core.Notice{Level: core.NoticeInfo, Text: "Your partner left, searching again."})
	m.teardown()
	m.requeue()
}

func (m *Machine) onSend(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}
	if m.State() != domain.StateChatting {
		return ErrNotChatting
	}
	return m.deps.Transport.Emit(domain.EventMessage, domain.MessagePayload{Text: text, To: m.partner()})
}

func (m *Machine) onFriendRequest() error {
	if !m.State().Paired() {
		return ErrNotPaired
	}
	p := domain.FriendRequestPayload{}
	if m.deps.Identity != nil {
		p.From = string(m.deps.Identity.UserID())
		p.Username = m.deps.Identity.Profile().Username
	}
	return m.deps.Transport.Emit(domain.EventFriendRequest, p)
}

func (m *Machine) onDisconnect(err error) {
	m.setLink(false)
	log.Warn().Err(err).Str("module", "session").Str("state", m.State().String()).Msg("transport down")
	m.deps.Notify(core.Notice{Level: core.NoticeWarn, Text: "Connection lost, reconnecting.", Err: err})
}

// onReconnect decides whether to ask for matching again. The server forgot the
// old id and already told the partner it left, so any pairing is over.
func (m *Machine) onReconnect(id string) {
	m.setLink(true)
	log.Info().Str("module", "session").Str("id", id).Str("state", m.State().String()).Msg("transport back")
	switch m.State() {
	case domain.StateWaiting:
		m.requeue()
	case domain.StateMatched, domain.StateChatting:
		m.teardown()
		m.deps.Notify(core.Notice{Level: core.NoticeInfo, Text: "Partner lost while reconnecting, finding someone new."})
		m.requeue()
	}
}

func (m *Machine) onGiveUp(err error) {
	m.setLink(false)
	log.Error().Err(err).Str("module", "session").Msg("transport gave up")
	m.acquiring = false
	m.teardown()
	m.deps.Media.Release()
	m.setMedia(presence.MediaNone)
	m.setState(domain.StateEnded)
	m.deps.Notify(core.Notice{Level: core.NoticeError, Text: "Connection to the server was lost.", Err: err})
}
