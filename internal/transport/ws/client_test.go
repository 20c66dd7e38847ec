package ws_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dkeye/Roulette/internal/core"
	"github.com/dkeye/Roulette/internal/domain"
	"github.com/dkeye/Roulette/internal/transport/ws"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeServer struct {
	srv   *httptest.Server
	seq   atomic.Int32
	mu    sync.Mutex
	conns []*websocket.Conn
	got   chan domain.Frame
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	fs := &fakeServer{got: make(chan domain.Frame, 16)}
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	fs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		n := fs.seq.Add(1)
		fs.mu.Lock()
		fs.conns = append(fs.conns, c)
		fs.mu.Unlock()
		hello, _ := domain.NewFrame(domain.EventConnected, domain.ConnectedPayload{ID: "sid-" + string(rune('0'+n))})
		_ = c.WriteMessage(websocket.TextMessage, hello)
		for {
			_, data, err := c.ReadMessage()
			if err != nil {
				return
			}
			var f domain.Frame
			if json.Unmarshal(data, &f) == nil {
				fs.got <- f
			}
		}
	}))
	t.Cleanup(fs.srv.Close)
	return fs
}

func (fs *fakeServer) url() string { return "ws" + strings.TrimPrefix(fs.srv.URL, "http") }

func (fs *fakeServer) last() *websocket.Conn {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.conns[len(fs.conns)-1]
}

type recListener struct {
	mu           sync.Mutex
	connected    []string
	disconnected int
	reconnected  []string
	gaveUp       error
}

func (l *recListener) OnConnected(id string) {
	l.mu.Lock()
	l.connected = append(l.connected, id)
	l.mu.Unlock()
}

func (l *recListener) OnDisconnected(error) {
	l.mu.Lock()
	l.disconnected++
	l.mu.Unlock()
}

func (l *recListener) OnReconnected(id string) {
	l.mu.Lock()
	l.reconnected = append(l.reconnected, id)
	l.mu.Unlock()
}

func (l *recListener) OnGiveUp(err error) {
	l.mu.Lock()
	l.gaveUp = err
	l.mu.Unlock()
}

func fastRetry(n int) ws.RetryPolicy {
	return ws.RetryPolicy{MaxAttempts: n, BaseDelay: 10 * time.Millisecond, Multiplier: 1.5, MaxDelay: 40 * time.Millisecond}
}

func TestClient_ConnectEmitAndDispatch(t *testing.T) {
	fs := newFakeServer(t)
	c := ws.NewClient(ws.Options{URL: fs.url(), Retry: fastRetry(2)})
	defer c.Close()

	var got atomic.Value
	c.On(domain.EventActiveUsers, func(data json.RawMessage) {
		var p domain.ActiveUsersPayload
		_ = json.Unmarshal(data, &p)
		got.Store(p.Count)
	})

	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, "sid-1", c.ID())

	require.NoError(t, c.Emit(domain.EventLeave, struct{}{}))
	select {
	case f := <-fs.got:
		assert.Equal(t, domain.EventLeave, f.Event)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive the frame")
	}

	b, _ := domain.NewFrame(domain.EventActiveUsers, domain.ActiveUsersPayload{Count: 7})
	require.NoError(t, fs.last().WriteMessage(websocket.TextMessage, b))
	assert.Eventually(t, func() bool { v, _ := got.Load().(int); return v == 7 }, 2*time.Second, 10*time.Millisecond)
}

func TestClient_EmitStates(t *testing.T) {
	fs := newFakeServer(t)
	c := ws.NewClient(ws.Options{URL: fs.url(), Retry: fastRetry(1)})

	assert.ErrorIs(t, c.Emit(domain.EventLeave, nil), ws.ErrNotConnected)

	require.NoError(t, c.Connect(context.Background()))
	c.Close()
	c.Close()
	assert.ErrorIs(t, c.Emit(domain.EventLeave, nil), ws.ErrClosed)
	assert.Empty(t, c.ID())
}

func TestClient_ReconnectAssignsNewID(t *testing.T) {
	fs := newFakeServer(t)
	lst := &recListener{}
	c := ws.NewClient(ws.Options{URL: fs.url(), Retry: fastRetry(5)})
	c.SetListener(lst)
	defer c.Close()

	require.NoError(t, c.Connect(context.Background()))
	first := c.ID()
	lst.mu.Lock()
	assert.Equal(t, []string{first}, lst.connected, "first connect is reported")
	lst.mu.Unlock()

	_ = fs.last().Close()

	assert.Eventually(t, func() bool {
		lst.mu.Lock()
		defer lst.mu.Unlock()
		return lst.disconnected == 1 && len(lst.reconnected) == 1
	}, 3*time.Second, 10*time.Millisecond)
	assert.NotEqual(t, first, c.ID())
	assert.Equal(t, c.ID(), lst.reconnected[0])
}

func TestClient_ConnectGivesUp(t *testing.T) {
	fs := newFakeServer(t)
	url := fs.url()
	fs.srv.Close()

	c := ws.NewClient(ws.Options{URL: url, Retry: fastRetry(3)})
	defer c.Close()

	err := c.Connect(context.Background())
	require.Error(t, err)
	var te *core.TransportError
	assert.ErrorAs(t, err, &te)
	assert.ErrorIs(t, err, core.ErrReconnectExhausted)
}

func TestClient_ReconnectGivesUp(t *testing.T) {
	fs := newFakeServer(t)
	lst := &recListener{}
	c := ws.NewClient(ws.Options{URL: fs.url(), Retry: fastRetry(2)})
	c.SetListener(lst)
	defer c.Close()
	require.NoError(t, c.Connect(context.Background()))

	fs.srv.Close()
	_ = fs.last().Close()

	assert.Eventually(t, func() bool {
		lst.mu.Lock()
		defer lst.mu.Unlock()
		return lst.gaveUp != nil
	}, 3*time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, lst.gaveUp, core.ErrReconnectExhausted)
}
