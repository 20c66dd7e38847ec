// Package signal is the server end of the signaling websocket.
package signal

import (
	"context"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/dkeye/Roulette/internal/app/orch"
	"github.com/dkeye/Roulette/internal/core"
	"github.com/dkeye/Roulette/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait  = 5 * time.Second
	sendBuffer = 32
)

type Options struct {
	ReadLimit    int64
	PingPeriod   time.Duration
	ReportLimit  int
	ReportWindow time.Duration
}

func (o Options) withDefaults() Options {
	if o.ReadLimit <= 0 {
		o.ReadLimit = 64 << 10
	}
	if o.PingPeriod <= 0 {
		o.PingPeriod = 54 * time.Second
	}
	if o.ReportLimit <= 0 {
		o.ReportLimit = 3
	}
	if o.ReportWindow <= 0 {
		o.ReportWindow = time.Minute
	}
	return o
}

type SignalWSController struct {
	Orch    *orch.Orchestrator
	opts    Options
	reports *RateLimiter
}

func NewSignalWSController(o *orch.Orchestrator, opts Options) *SignalWSController {
	opts = opts.withDefaults()
	return &SignalWSController{
		Orch:    o,
		opts:    opts,
		reports: NewRateLimiter(opts.ReportLimit, opts.ReportWindow),
	}
}

type WsSignalConn struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// pendingCookies carries cookies set by middleware onto the handshake
// response; Upgrade writes only the header it is given.
func pendingCookies(h http.Header) http.Header {
	vals := h.Values("Set-Cookie")
	if len(vals) == 0 {
		return nil
	}
	return http.Header{"Set-Cookie": slices.Clone(vals)}
}

// HandleSignal upgrades the request and binds a new connection id. The user
// id comes from the auth middleware and falls back to the connection id.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	sid := core.SessionID(uuid.NewString())
	user := domain.UserID(c.GetString("user_id"))
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("user", string(user)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, pendingCookies(c.Writer.Header()))
	if err != nil {
		log.Error().Err(err).Msg("ws upgrade")
		return
	}
	ws.SetReadLimit(ctl.opts.ReadLimit)

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan []byte, sendBuffer),
	}

	ctx, cancel := context.WithCancel(ctx)
	ctl.Orch.Connect(ctx, sid, user, conn, cancel)

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, sid, conn)
}
