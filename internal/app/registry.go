package app

import (
	"context"
	"sync"

	"github.com/dkeye/Roulette/internal/core"
	"github.com/dkeye/Roulette/internal/domain"
	"github.com/rs/zerolog/log"
)

type sessionEntry struct {
	User    domain.UserID
	Profile domain.UserProfile
	Conn    core.SignalConn
	Partner core.SessionID
	Cancel  context.CancelFunc
	// Last outlives the pairing so a partner who just left can still be reported.
	Last partnerRef
}

type partnerRef struct {
	SID     core.SessionID
	User    domain.UserID
	Profile domain.UserProfile
}

// Registry maps live connections to their user and current partner.
type Registry struct {
	mu       sync.RWMutex
	sessions map[core.SessionID]*sessionEntry
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[core.SessionID]*sessionEntry),
	}
}

func (r *Registry) Bind(sid core.SessionID, user domain.UserID, conn core.SignalConn, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if user == "" {
		user = domain.UserID(sid)
	}
	r.sessions[sid] = &sessionEntry{User: user, Conn: conn, Cancel: cancel}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("user", string(user)).Msg("bound session")
}

// Unbind forgets sid and returns the partner it was paired with, if any.
func (r *Registry) Unbind(sid core.SessionID) core.SessionID {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		return ""
	}
	partner := e.Partner
	if p, ok := r.sessions[partner]; ok && p.Partner == sid {
		p.Partner = ""
	}
	delete(r.sessions, sid)
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("unbind session")
	return partner
}

func (r *Registry) Conn(sid core.SessionID) (core.SignalConn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[sid]; ok {
		return e.Conn, true
	}
	return nil, false
}

func (r *Registry) User(sid core.SessionID) (domain.UserID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[sid]; ok {
		return e.User, true
	}
	return "", false
}

func (r *Registry) SetProfile(sid core.SessionID, p domain.UserProfile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.sessions[sid]; ok {
		e.Profile = p
	}
}

func (r *Registry) Profile(sid core.SessionID) (domain.UserProfile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[sid]; ok {
		return e.Profile, true
	}
	return domain.UserProfile{}, false
}

// Pair links a and b. It fails when either side is gone or already paired.
func (r *Registry) Pair(a, b core.SessionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	ea, okA := r.sessions[a]
	eb, okB := r.sessions[b]
	if !okA || !okB || a == b || ea.Partner != "" || eb.Partner != "" {
		return false
	}
	ea.Partner, eb.Partner = b, a
	ea.Last = partnerRef{SID: b, User: eb.User, Profile: eb.Profile}
	eb.Last = partnerRef{SID: a, User: ea.User, Profile: ea.Profile}
	log.Info().Str("module", "app.registry").Str("a", string(a)).Str("b", string(b)).Msg("paired")
	return true
}

// Unpair ends the pairing of sid on both sides and returns the former partner.
func (r *Registry) Unpair(sid core.SessionID) core.SessionID {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok || e.Partner == "" {
		return ""
	}
	partner := e.Partner
	e.Partner = ""
	if p, ok := r.sessions[partner]; ok && p.Partner == sid {
		p.Partner = ""
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("partner", string(partner)).Msg("unpaired")
	return partner
}

func (r *Registry) PartnerOf(sid core.SessionID) (core.SessionID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sid]
	if !ok || e.Partner == "" {
		return "", false
	}
	return e.Partner, true
}

// ReportTarget resolves reported to a user when it names the current or the
// most recent partner of sid.
func (r *Registry) ReportTarget(sid, reported core.SessionID) (domain.UserID, domain.UserProfile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sid]
	if !ok || reported == "" || e.Last.SID != reported {
		return "", domain.UserProfile{}, false
	}
	return e.Last.User, e.Last.Profile, true
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

type regSnap struct {
	SID  core.SessionID
	Conn core.SignalConn
}

func (r *Registry) All() []regSnap {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]regSnap, 0, len(r.sessions))
	for sid, e := range r.sessions {
		out = append(out, regSnap{SID: sid, Conn: e.Conn})
	}
	return out
}

func (r *Registry) Cancel(sid core.SessionID) bool {
	r.mu.RLock()
	e, ok := r.sessions[sid]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("canceled session")
	return true
}
