// Package ws is the client side of the signaling channel: one persistent
// websocket to the server with named events and bounded reconnection.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/dkeye/Roulette/internal/core"
	"github.com/dkeye/Roulette/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 5 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 64 << 10
	sendBuffer     = 32
)

var (
	ErrBackpressure = core.ErrBackpressure
	ErrClosed       = errors.New("transport closed")
	ErrNotConnected = errors.New("transport not connected")
	errNoGreeting   = errors.New("server did not send connected")
)

type Options struct {
	URL    string
	Header http.Header
	Retry  RetryPolicy
	// HandshakeTimeout bounds the wait for the connected frame after dialing.
	HandshakeTimeout time.Duration
	Dialer           *websocket.Dialer
}

// Client implements core.Transport. Handlers run on the read goroutine and
// must not block.
type Client struct {
	opts Options

	hmu      sync.RWMutex
	handlers map[string][]core.Handler
	listener core.TransportListener

	mu     sync.RWMutex
	link   *link
	id     string
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
}

type link struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (l *link) TrySend(b []byte) error {
	select {
	case <-l.done:
		return ErrNotConnected
	default:
	}
	select {
	case l.send <- b:
		return nil
	default:
		return ErrBackpressure
	}
}

func (l *link) Close() {
	l.once.Do(func() {
		close(l.done)
		_ = l.conn.Close()
	})
}

func NewClient(opts Options) *Client {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		opts:     opts,
		handlers: make(map[string][]core.Handler),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// SetListener installs the connection lifecycle observer. Call before Connect.
func (c *Client) SetListener(l core.TransportListener) {
	c.hmu.Lock()
	c.listener = l
	c.hmu.Unlock()
}

func (c *Client) On(event string, h core.Handler) {
	c.hmu.Lock()
	c.handlers[event] = append(c.handlers[event], h)
	c.hmu.Unlock()
}

// ID is the connection id assigned by the server, or "" while disconnected.
func (c *Client) ID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.id
}

// Connect dials under the retry policy and returns once the server greeted
// the connection with its id.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	l, id, err := c.dialRetry(ctx)
	if err != nil {
		return &core.TransportError{Op: "connect", Err: err}
	}
	if !c.attach(l, id) {
		l.Close()
		return ErrClosed
	}
	log.Info().Str("module", "transport").Str("id", id).Str("url", c.opts.URL).Msg("connected")
	if lst := c.getListener(); lst != nil {
		lst.OnConnected(id)
	}
	return nil
}

func (c *Client) Emit(event string, payload any) error {
	b, err := domain.NewFrame(event, payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}
	c.mu.RLock()
	l, closed := c.link, c.closed
	c.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	if l == nil {
		return ErrNotConnected
	}
	if err := l.TrySend(b); err != nil {
		log.Warn().Err(err).Str("module", "transport").Str("event", event).Msg("emit dropped")
		return err
	}
	return nil
}

// Close tears down the channel and stops reconnection. Idempotent.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	l := c.link
	c.link = nil
	c.id = ""
	c.mu.Unlock()

	c.cancel()
	if l != nil {
		_ = l.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		l.Close()
	}
	log.Info().Str("module", "transport").Msg("closed")
}

func (c *Client) attach(l *link, id string) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.link = l
	c.id = id
	c.mu.Unlock()

	go c.writePump(l)
	go c.readPump(l)
	return true
}

func (c *Client) dialRetry(ctx context.Context) (*link, string, error) {
	var (
		l       *link
		id      string
		lastErr error
		attempt int
	)
	op := func() error {
		attempt++
		var err error
		l, id, err = c.dial(ctx)
		if err != nil {
			lastErr = err
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		log.Warn().Err(err).Str("module", "transport").Int("attempt", attempt).Dur("next", next).Msg("dial failed")
	}
	if err := backoff.RetryNotify(op, c.opts.Retry.BackOff(ctx), notify); err != nil {
		if lastErr == nil {
			lastErr = err
		}
		return nil, "", errors.Join(core.ErrReconnectExhausted, lastErr)
	}
	return l, id, nil
}

func (c *Client) dial(ctx context.Context) (*link, string, error) {
	conn, _, err := c.opts.Dialer.DialContext(ctx, c.opts.URL, c.opts.Header)
	if err != nil {
		return nil, "", err
	}
	conn.SetReadLimit(maxMessageSize)

	_ = conn.SetReadDeadline(time.Now().Add(c.opts.HandshakeTimeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		return nil, "", fmt.Errorf("read greeting: %w", err)
	}
	var f domain.Frame
	var hello domain.ConnectedPayload
	if err := json.Unmarshal(data, &f); err != nil || f.Event != domain.EventConnected {
		_ = conn.Close()
		return nil, "", errNoGreeting
	}
	if err := json.Unmarshal(f.Data, &hello); err != nil || hello.ID == "" {
		_ = conn.Close()
		return nil, "", errNoGreeting
	}
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	return &link{conn: conn, send: make(chan []byte, sendBuffer), done: make(chan struct{})}, hello.ID, nil
}

func (c *Client) writePump(l *link) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		l.Close()
	}()
	for {
		select {
		case <-l.done:
			return
		case data := <-l.send:
			if err := l.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := l.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "transport").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := l.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump(l *link) {
	for {
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			l.Close()
			c.lost(l, err)
			return
		}
		c.dispatch(data)
	}
}

func (c *Client) dispatch(data []byte) {
	var f domain.Frame
	if err := json.Unmarshal(data, &f); err != nil || f.Event == "" {
		log.Warn().Str("module", "transport").Msg("bad frame")
		return
	}
	c.hmu.RLock()
	hs := c.handlers[f.Event]
	c.hmu.RUnlock()
	if len(hs) == 0 {
		log.Debug().Str("module", "transport").Str("event", f.Event).Msg("unhandled event")
		return
	}
	for _, h := range hs {
		h(f.Data)
	}
}

func (c *Client) getListener() core.TransportListener {
	c.hmu.RLock()
	defer c.hmu.RUnlock()
	return c.listener
}

// lost runs once per link when its read side fails.
func (c *Client) lost(l *link, cause error) {
	c.mu.Lock()
	if c.closed || c.link != l {
		c.mu.Unlock()
		return
	}
	c.link = nil
	c.id = ""
	c.mu.Unlock()

	log.Warn().Err(cause).Str("module", "transport").Msg("connection lost")
	lst := c.getListener()
	if lst != nil {
		lst.OnDisconnected(&core.TransportError{Op: "read", Err: cause})
	}
	go c.reconnect()
}

func (c *Client) reconnect() {
	l, id, err := c.dialRetry(c.ctx)
	lst := c.getListener()
	if err != nil {
		if c.ctx.Err() != nil {
			return
		}
		log.Error().Err(err).Str("module", "transport").Msg("reconnect gave up")
		if lst != nil {
			lst.OnGiveUp(&core.TransportError{Op: "reconnect", Err: err})
		}
		return
	}
	if !c.attach(l, id) {
		l.Close()
		return
	}
	log.Info().Str("module", "transport").Str("id", id).Msg("reconnected")
	if lst != nil {
		lst.OnReconnected(id)
	}
}
