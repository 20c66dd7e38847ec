package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dkeye/Roulette/internal/core"
	"github.com/dkeye/Roulette/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ping := time.NewTicker(ctl.opts.PingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case data, ok := <-c.send:
			if !ok {
				log.Warn().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		case <-ping.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump ping")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, sid core.SessionID, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump closing")
		cancel()
		c.Close()
		dctx, dcancel := context.WithTimeout(context.Background(), writeWait)
		defer dcancel()
		ctl.Orch.Disconnect(dctx, sid)
	}()

	pongWait := ctl.opts.PingPeriod * 10 / 9
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("readPump read error")
				}
				return
			}
			_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
			ctl.handleSignal(sid, data)
		}
	}
}

func (ctl *SignalWSController) handleSignal(sid core.SessionID, data []byte) {
	var f domain.Frame
	if err := json.Unmarshal(data, &f); err != nil || f.Event == "" {
		log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("bad json")
		ctl.Orch.SendError(sid, "bad_json")
		return
	}

	switch f.Event {
	case domain.EventWaiting:
		ctl.handleWaiting(sid, f.Data)
	case domain.EventLeave:
		ctl.handleLeave(sid)
	case domain.EventOffer, domain.EventAnswer, domain.EventICECandidate, domain.EventMessage:
		ctl.handleRelay(sid, f.Event, f.Data)
	case domain.EventReport:
		ctl.handleReport(sid, f.Data)
	case domain.EventFriendRequest:
		ctl.handleFriendRequest(sid, f.Data)
	default:
		log.Warn().Str("module", "signal").Str("event", f.Event).Msg("unknown signal")
		ctl.Orch.SendError(sid, "unknown_event")
	}
}
