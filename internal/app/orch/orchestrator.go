// Package orch ties the registry, the waiting pool and the persistence sinks
// together for the signaling hub.
package orch

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/Roulette/internal/app"
	"github.com/dkeye/Roulette/internal/app/matchmaker"
	"github.com/dkeye/Roulette/internal/core"
	"github.com/dkeye/Roulette/internal/domain"
	"github.com/rs/zerolog/log"
)

const storeTimeout = 5 * time.Second

type Deps struct {
	Registry *app.Registry
	Policy   app.Policy
	Reports  core.ReportSink
	Friends  core.FriendSink
	Presence core.PresenceStore
	// PairInterval is how often the pool re-evaluates degraded filters.
	PairInterval time.Duration
}

type Orchestrator struct {
	Registry *app.Registry
	Pool     *matchmaker.Pool
	Policy   app.Policy
	Reports  core.ReportSink
	Friends  core.FriendSink
	Presence core.PresenceStore

	now func() time.Time
}

func New(d Deps) *Orchestrator {
	o := &Orchestrator{
		Registry: d.Registry,
		Policy:   d.Policy,
		Reports:  d.Reports,
		Friends:  d.Friends,
		Presence: d.Presence,
		now:      time.Now,
	}
	if o.Registry == nil {
		o.Registry = app.NewRegistry()
	}
	if o.Policy == nil {
		o.Policy = app.SimplePolicy{}
	}
	o.Pool = matchmaker.NewPool(d.PairInterval, o.OnPair)
	return o
}

// Connect binds a fresh connection and greets it with its id.
func (o *Orchestrator) Connect(ctx context.Context, sid core.SessionID, user domain.UserID, conn core.SignalConn, cancel context.CancelFunc) {
	o.Registry.Bind(sid, user, conn, cancel)
	if o.Presence != nil {
		if err := o.Presence.Join(ctx, sid); err != nil {
			log.Warn().Err(err).Str("module", "orch").Str("sid", string(sid)).Msg("presence join")
		}
	}
	o.Send(sid, domain.EventConnected, domain.ConnectedPayload{ID: string(sid)})
	o.Send(sid, domain.EventActiveUsers, domain.ActiveUsersPayload{Count: o.ActiveUsers(ctx)})
}

// Disconnect is a leave followed by forgetting the connection.
func (o *Orchestrator) Disconnect(ctx context.Context, sid core.SessionID) {
	o.Leave(sid)
	o.Registry.Unbind(sid)
	if o.Presence != nil {
		if err := o.Presence.Leave(ctx, sid); err != nil {
			log.Warn().Err(err).Str("module", "orch").Str("sid", string(sid)).Msg("presence leave")
		}
	}
	log.Info().Str("module", "orch").Str("sid", string(sid)).Msg("disconnected")
}

// Send writes one frame to sid and applies the backpressure policy on overflow.
func (o *Orchestrator) Send(sid core.SessionID, event string, payload any) bool {
	conn, ok := o.Registry.Conn(sid)
	if !ok {
		return false
	}
	frame, err := domain.NewFrame(event, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("event", event).Msg("marshal frame")
		return false
	}
	err = conn.TrySend(frame)
	switch {
	case err == nil:
		return true
	case errors.Is(err, core.ErrBackpressure):
		switch o.Policy.OnBackPressure(sid, event) {
		case app.KickMember:
			log.Warn().Str("module", "orch").Str("sid", string(sid)).Str("event", event).Msg("slow consumer kicked")
			o.Kick(sid)
		case app.MarkSlow, app.DropFrame, app.NoAction:
			log.Debug().Str("module", "orch").Str("sid", string(sid)).Str("event", event).Msg("frame dropped")
		}
	default:
		log.Debug().Err(err).Str("module", "orch").Str("sid", string(sid)).Msg("send on dead connection")
	}
	return false
}

func (o *Orchestrator) SendError(sid core.SessionID, msg string) {
	o.Send(sid, domain.EventError, domain.ErrorPayload{Error: msg})
}

// Kick cancels the connection's pumps; the read pump then reports the disconnect.
func (o *Orchestrator) Kick(sid core.SessionID) {
	conn, ok := o.Registry.Conn(sid)
	o.Registry.Cancel(sid)
	if ok {
		conn.Close()
	}
}

// ActiveUsers prefers the shared presence store and falls back to local connections.
func (o *Orchestrator) ActiveUsers(ctx context.Context) int {
	if o.Presence != nil {
		n, err := o.Presence.Count(ctx)
		if err == nil {
			return n
		}
		log.Warn().Err(err).Str("module", "orch").Msg("presence count")
	}
	return o.Registry.Count()
}

func (o *Orchestrator) BroadcastActiveUsers(ctx context.Context) {
	p := domain.ActiveUsersPayload{Count: o.ActiveUsers(ctx)}
	for _, snap := range o.Registry.All() {
		o.Send(snap.SID, domain.EventActiveUsers, p)
	}
}

// RunPresence broadcasts the active user count every interval.
func (o *Orchestrator) RunPresence(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			o.BroadcastActiveUsers(ctx)
		}
	}
}
