// Package presence keeps the last known online count and link health for the UI.
package presence

import (
	"encoding/json"
	"sync"

	"github.com/dkeye/Roulette/internal/domain"
	"github.com/rs/zerolog/log"
)

type MediaState string

const (
	MediaNone   MediaState = "none"
	MediaLive   MediaState = "live"
	MediaFailed MediaState = "failed"
)

// Snapshot is a consistent copy of the counter.
type Snapshot struct {
	Count       int
	Known       bool
	TransportUp bool
	Media       MediaState
}

// Counter never blocks and never fails; a bad update leaves the previous value.
type Counter struct {
	mu   sync.RWMutex
	snap Snapshot
}

func NewCounter() *Counter {
	return &Counter{snap: Snapshot{Media: MediaNone}}
}

// Update stores n as the last known count. Negative values are ignored.
func (c *Counter) Update(n int) {
	if n < 0 {
		return
	}
	c.mu.Lock()
	c.snap.Count = n
	c.snap.Known = true
	c.mu.Unlock()
}

func (c *Counter) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap.Count
}

func (c *Counter) SetTransportUp(up bool) {
	c.mu.Lock()
	c.snap.TransportUp = up
	c.mu.Unlock()
}

func (c *Counter) TransportUp() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap.TransportUp
}

func (c *Counter) SetMediaState(s MediaState) {
	c.mu.Lock()
	c.snap.Media = s
	c.mu.Unlock()
}

func (c *Counter) MediaState() MediaState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap.Media
}

func (c *Counter) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

// HandleActiveUsers decodes an activeUsers payload. It has the shape of a
// transport handler.
func (c *Counter) HandleActiveUsers(data json.RawMessage) {
	var p domain.ActiveUsersPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Debug().Err(err).Str("module", "presence").Msg("bad activeUsers payload")
		return
	}
	c.Update(p.Count)
}
