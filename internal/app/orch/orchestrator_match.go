package orch

import (
	"github.com/dkeye/Roulette/internal/app/matchmaker"
	"github.com/dkeye/Roulette/internal/core"
	"github.com/dkeye/Roulette/internal/domain"
	"github.com/rs/zerolog/log"
)

// Waiting (re)enters sid into the pool. A live pairing ends first and the
// partner is told it was left.
func (o *Orchestrator) Waiting(sid core.SessionID, req domain.WaitingRequest) error {
	if _, ok := o.Registry.Conn(sid); !ok {
		return core.ErrConnClosed
	}
	o.endPairing(sid)
	if err := o.Pool.Enqueue(string(sid), req, o.now()); err != nil {
		return err
	}
	// Pairing snapshots the profile for reports, so it is stored before the flush.
	o.Registry.SetProfile(sid, req.UserProfile)
	log.Info().Str("module", "orch").Str("sid", string(sid)).Strs("interests", req.Interests).Msg("waiting")
	o.Pool.Flush(o.now())
	return nil
}

// Leave removes sid from the pool and ends its pairing.
func (o *Orchestrator) Leave(sid core.SessionID) {
	o.Pool.Remove(string(sid))
	o.endPairing(sid)
}

func (o *Orchestrator) endPairing(sid core.SessionID) {
	partner := o.Registry.Unpair(sid)
	if partner == "" {
		return
	}
	o.Send(partner, domain.EventPartnerLeft, domain.PartnerLeftPayload{PartnerID: string(sid)})
}

// OnPair is the pool callback. Both sides get the other's profile and the
// shared interests.
func (o *Orchestrator) OnPair(p matchmaker.Pair) {
	a, b := core.SessionID(p.A.ID), core.SessionID(p.B.ID)
	if !o.Registry.Pair(a, b) {
		// One side vanished between enqueue and pairing; the survivor waits on.
		for _, e := range []matchmaker.Entry{p.A, p.B} {
			if _, ok := o.Registry.Conn(core.SessionID(e.ID)); ok {
				if err := o.Pool.Enqueue(e.ID, e.Request, e.EnqueuedAt); err != nil {
					log.Warn().Err(err).Str("module", "orch").Str("sid", e.ID).Msg("requeue")
				}
			}
		}
		return
	}
	shared := p.Shared
	if shared == nil {
		shared = []string{}
	}
	o.Send(a, domain.EventMatched, domain.MatchResult{PartnerID: p.B.ID, PartnerProfile: p.B.Request.UserProfile, Interests: shared})
	o.Send(b, domain.EventMatched, domain.MatchResult{PartnerID: p.A.ID, PartnerProfile: p.A.Request.UserProfile, Interests: shared})
}
