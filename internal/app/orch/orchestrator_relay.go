package orch

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/dkeye/Roulette/internal/core"
	"github.com/dkeye/Roulette/internal/domain"
	"github.com/rs/zerolog/log"
)

var ErrNotPartner = errors.New("recipient is not the current partner")

// Relay forwards a partner envelope (offer, answer, candidate, message). from
// is always overwritten with the sender and delivery requires to to be the
// sender's current partner.
func (o *Orchestrator) Relay(sid core.SessionID, event string, data json.RawMessage) error {
	var env map[string]json.RawMessage
	if err := json.Unmarshal(data, &env); err != nil || env == nil {
		return core.ErrMalformedEnvelope
	}
	var to string
	if raw, ok := env["to"]; ok {
		if err := json.Unmarshal(raw, &to); err != nil {
			return core.ErrMalformedEnvelope
		}
	}
	partner, ok := o.Registry.PartnerOf(sid)
	if !ok || to != string(partner) {
		log.Debug().Str("module", "orch").Str("sid", string(sid)).Str("to", to).Str("event", event).Msg("drop envelope for non-partner")
		return ErrNotPartner
	}
	delete(env, "to")
	from, _ := json.Marshal(string(sid))
	env["from"] = from
	o.Send(partner, event, env)
	return nil
}

// FriendRequest forwards the request to the partner with the sender's user id
// and records it.
func (o *Orchestrator) FriendRequest(sid core.SessionID, p domain.FriendRequestPayload) error {
	partner, ok := o.Registry.PartnerOf(sid)
	if !ok {
		return ErrNotPartner
	}
	from, _ := o.Registry.User(sid)
	to, _ := o.Registry.User(partner)
	p.From = string(from)
	o.Send(partner, domain.EventFriendRequest, p)

	if o.Friends != nil {
		rec := core.FriendRequest{FromUser: from, ToUser: to, Username: p.Username}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
			defer cancel()
			if err := o.Friends.SaveFriendRequest(ctx, rec); err != nil {
				log.Warn().Err(err).Str("module", "orch").Msg("save friend request")
			}
		}()
	}
	return nil
}

// Report records an abuse report against the current or just-ended partner,
// stored under the partner's user id. Saving never blocks the caller and its
// outcome is not reported back.
func (o *Orchestrator) Report(sid core.SessionID, p domain.ReportPayload) error {
	reporter, _ := o.Registry.User(sid)
	reported, profile, ok := o.Registry.ReportTarget(sid, core.SessionID(p.ReportedUser))
	if !ok {
		log.Warn().Str("module", "orch").Str("reporter", string(reporter)).Str("target", p.ReportedUser).Msg("report for non-partner")
		return ErrNotPartner
	}
	r := core.Report{ReporterID: reporter, ReportedID: string(reported), ReportedName: profile.Username, Reason: p.Reason}
	log.Info().Str("module", "orch").Str("reporter", string(reporter)).Str("reported", string(reported)).Msg("report")
	if o.Reports == nil {
		return nil
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		if err := o.Reports.SaveReport(ctx, r); err != nil {
			log.Warn().Err(err).Str("module", "orch").Msg("save report")
		}
	}()
	return nil
}

// Notify sends a toast to sid.
func (o *Orchestrator) Notify(sid core.SessionID, kind, text string) {
	o.Send(sid, domain.EventNotification, domain.NotificationPayload{Kind: kind, Text: text})
}
