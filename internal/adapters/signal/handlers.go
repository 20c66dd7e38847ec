package signal

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/Roulette/internal/app/orch"
	"github.com/dkeye/Roulette/internal/core"
	"github.com/dkeye/Roulette/internal/domain"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleWaiting(sid core.SessionID, data json.RawMessage) {
	var req domain.WaitingRequest
	if err := json.Unmarshal(data, &req); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad waiting payload")
		ctl.Orch.SendError(sid, "bad_payload")
		return
	}
	if err := ctl.Orch.Waiting(sid, req); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("waiting rejected")
		ctl.Orch.SendError(sid, err.Error())
	}
}

// handleLeave ends matching; the connection stays open.
func (ctl *SignalWSController) handleLeave(sid core.SessionID) {
	log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("leave")
	ctl.Orch.Leave(sid)
}

func (ctl *SignalWSController) handleRelay(sid core.SessionID, event string, data json.RawMessage) {
	err := ctl.Orch.Relay(sid, event, data)
	switch {
	case err == nil, errors.Is(err, orch.ErrNotPartner):
	case errors.Is(err, core.ErrMalformedEnvelope):
		ctl.Orch.SendError(sid, "bad_payload")
	default:
		log.Error().Err(err).Str("module", "signal").Str("event", event).Msg("relay")
	}
}

func (ctl *SignalWSController) handleReport(sid core.SessionID, data json.RawMessage) {
	var p domain.ReportPayload
	if err := json.Unmarshal(data, &p); err != nil || p.ReportedUser == "" {
		ctl.Orch.SendError(sid, "bad_payload")
		return
	}
	user, _ := ctl.Orch.Registry.User(sid)
	if ok, wait := ctl.reports.Allow(user); !ok {
		log.Warn().Str("module", "signal").Str("user", string(user)).Dur("retry_after", wait).Msg("report rate limited")
		ctl.Orch.Notify(sid, "report", fmt.Sprintf("too many reports, try again in %s", wait.Round(time.Second)))
		return
	}
	if err := ctl.Orch.Report(sid, p); err != nil {
		ctl.Orch.SendError(sid, "not_paired")
		return
	}
	ctl.Orch.Notify(sid, "report", "report received")
}

func (ctl *SignalWSController) handleFriendRequest(sid core.SessionID, data json.RawMessage) {
	var p domain.FriendRequestPayload
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.Orch.SendError(sid, "bad_payload")
		return
	}
	if err := ctl.Orch.FriendRequest(sid, p); err != nil {
		ctl.Orch.SendError(sid, "not_paired")
	}
}
