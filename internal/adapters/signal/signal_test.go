package signal_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/Roulette/internal/adapters/signal"
	"github.com/dkeye/Roulette/internal/app/orch"
	"github.com/dkeye/Roulette/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type client struct {
	t    *testing.T
	conn *websocket.Conn
	id   string
}

func newHub(t *testing.T, opts signal.Options) (*orch.Orchestrator, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	o := orch.New(orch.Deps{})
	ctl := signal.NewSignalWSController(o, opts)
	r := gin.New()
	r.GET("/ws", func(c *gin.Context) {
		c.Set("user_id", c.Query("user"))
		ctl.HandleSignal(ctx, c)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return o, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, url, user string) *client {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url+"?user="+user, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	c := &client{t: t, conn: conn}

	f := c.next()
	require.Equal(t, domain.EventConnected, f.Event)
	var p domain.ConnectedPayload
	require.NoError(t, json.Unmarshal(f.Data, &p))
	require.NotEmpty(t, p.ID)
	c.id = p.ID
	return c
}

func (c *client) next() domain.Frame {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, data, err := c.conn.ReadMessage()
	require.NoError(c.t, err)
	var f domain.Frame
	require.NoError(c.t, json.Unmarshal(data, &f))
	return f
}

// expect skips presence broadcasts.
func (c *client) expect(event string) domain.Frame {
	c.t.Helper()
	for {
		f := c.next()
		if f.Event == domain.EventActiveUsers && event != domain.EventActiveUsers {
			continue
		}
		require.Equal(c.t, event, f.Event, "payload: %s", f.Data)
		return f
	}
}

func (c *client) emit(event string, payload any) {
	c.t.Helper()
	b, err := domain.NewFrame(event, payload)
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.WriteMessage(websocket.TextMessage, b))
}

func matched(t *testing.T, url string) (*client, *client) {
	t.Helper()
	a := dial(t, url, "ua")
	b := dial(t, url, "ub")
	a.emit(domain.EventWaiting, domain.WaitingRequest{Interests: []string{"go"}, UserProfile: domain.UserProfile{Username: "ann"}})
	b.emit(domain.EventWaiting, domain.WaitingRequest{Interests: []string{"GO"}, UserProfile: domain.UserProfile{Username: "bob"}})

	var ma, mb domain.MatchResult
	require.NoError(t, json.Unmarshal(a.expect(domain.EventMatched).Data, &ma))
	require.NoError(t, json.Unmarshal(b.expect(domain.EventMatched).Data, &mb))
	require.Equal(t, b.id, ma.PartnerID)
	require.Equal(t, a.id, mb.PartnerID)
	assert.Equal(t, "bob", ma.PartnerProfile.Username)
	assert.Equal(t, []string{"go"}, mb.Interests)
	return a, b
}

func TestHub_MatchAndRelay(t *testing.T) {
	_, url := newHub(t, signal.Options{})
	a, b := matched(t, url)

	a.emit(domain.EventOffer, map[string]any{"offer": map[string]string{"type": "offer", "sdp": "v=0"}, "to": b.id})
	var offer domain.OfferPayload
	require.NoError(t, json.Unmarshal(b.expect(domain.EventOffer).Data, &offer))
	assert.Equal(t, a.id, offer.From)

	// Not the partner: dropped silently, so the next frame b sees is the message.
	a.emit(domain.EventAnswer, map[string]any{"answer": map[string]string{"type": "answer", "sdp": "v=0"}, "to": "someone-else"})
	a.emit(domain.EventMessage, domain.MessagePayload{Text: "hi", To: b.id})
	var msg domain.MessagePayload
	require.NoError(t, json.Unmarshal(b.expect(domain.EventMessage).Data, &msg))
	assert.Equal(t, "hi", msg.Text)
	assert.Equal(t, a.id, msg.From)

	b.emit(domain.EventFriendRequest, domain.FriendRequestPayload{From: "forged", Username: "bob"})
	var fr domain.FriendRequestPayload
	require.NoError(t, json.Unmarshal(a.expect(domain.EventFriendRequest).Data, &fr))
	assert.Equal(t, "ub", fr.From)
}

func TestHub_DisconnectNotifiesPartner(t *testing.T) {
	o, url := newHub(t, signal.Options{})
	a, b := matched(t, url)

	require.NoError(t, a.conn.Close())
	var left domain.PartnerLeftPayload
	require.NoError(t, json.Unmarshal(b.expect(domain.EventPartnerLeft).Data, &left))
	assert.Equal(t, a.id, left.PartnerID)

	assert.Eventually(t, func() bool { return o.Registry.Count() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_ReportIsRateLimited(t *testing.T) {
	_, url := newHub(t, signal.Options{ReportLimit: 1, ReportWindow: time.Hour})
	a, b := matched(t, url)

	a.emit(domain.EventReport, domain.ReportPayload{ReportedUser: b.id, Reason: "spam"})
	var n domain.NotificationPayload
	require.NoError(t, json.Unmarshal(a.expect(domain.EventNotification).Data, &n))
	assert.Equal(t, "report received", n.Text)

	a.emit(domain.EventReport, domain.ReportPayload{ReportedUser: b.id, Reason: "spam"})
	require.NoError(t, json.Unmarshal(a.expect(domain.EventNotification).Data, &n))
	assert.Contains(t, n.Text, "too many")
}

func TestHub_BadFramesGetErrors(t *testing.T) {
	_, url := newHub(t, signal.Options{})
	a := dial(t, url, "")

	require.NoError(t, a.conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	assert.JSONEq(t, `{"error":"bad_json"}`, string(a.expect(domain.EventError).Data))

	a.emit("dance", nil)
	assert.JSONEq(t, `{"error":"unknown_event"}`, string(a.expect(domain.EventError).Data))

	a.emit(domain.EventWaiting, domain.WaitingRequest{Filters: domain.Filters{PreferenceTimeoutMs: -5}})
	f := a.expect(domain.EventError)
	assert.Contains(t, string(f.Data), domain.ErrNegativeTimeout.Error())

	a.emit(domain.EventFriendRequest, domain.FriendRequestPayload{})
	assert.JSONEq(t, `{"error":"not_paired"}`, string(a.expect(domain.EventError).Data))
}

func TestHub_ReportRejectsStrangers(t *testing.T) {
	_, url := newHub(t, signal.Options{})
	a, b := matched(t, url)
	c := dial(t, url, "uc")

	a.emit(domain.EventReport, domain.ReportPayload{ReportedUser: c.id, Reason: "spam"})
	assert.JSONEq(t, `{"error":"not_paired"}`, string(a.expect(domain.EventError).Data))

	a.emit(domain.EventReport, domain.ReportPayload{ReportedUser: b.id, Reason: "spam"})
	var n domain.NotificationPayload
	require.NoError(t, json.Unmarshal(a.expect(domain.EventNotification).Data, &n))
	assert.Equal(t, "report received", n.Text)
}
