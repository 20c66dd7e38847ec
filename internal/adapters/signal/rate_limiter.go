package signal

import (
	"sync"
	"time"

	"github.com/dkeye/Roulette/internal/domain"
)

// reportWindow holds the last limit report times of one user, oldest at head.
type reportWindow struct {
	stamps []time.Time
	head   int
	n      int
}

func (w *reportWindow) oldest() time.Time { return w.stamps[w.head] }

func (w *reportWindow) push(t time.Time) {
	if w.n < len(w.stamps) {
		w.stamps[(w.head+w.n)%len(w.stamps)] = t
		w.n++
		return
	}
	w.stamps[w.head] = t
	w.head = (w.head + 1) % len(w.stamps)
}

func (w *reportWindow) newest() time.Time {
	return w.stamps[(w.head+w.n-1)%len(w.stamps)]
}

// RateLimiter caps reports per user over a sliding window. Users idle for a
// full window are swept so the map stays bounded by active reporters.
type RateLimiter struct {
	mu        sync.Mutex
	windows   map[domain.UserID]*reportWindow
	limit     int
	interval  time.Duration
	lastSweep time.Time
	now       func() time.Time
}

func NewRateLimiter(limit int, interval time.Duration) *RateLimiter {
	if limit < 1 {
		limit = 1
	}
	return &RateLimiter{
		windows:  make(map[domain.UserID]*reportWindow),
		limit:    limit,
		interval: interval,
		now:      time.Now,
	}
}

// Allow records an attempt by uid. When the window is full it returns false
// and how long until the oldest attempt expires.
func (rl *RateLimiter) Allow(uid domain.UserID) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastSweep) >= rl.interval {
		rl.sweep(now)
	}

	w, ok := rl.windows[uid]
	if !ok {
		w = &reportWindow{stamps: make([]time.Time, rl.limit)}
		rl.windows[uid] = w
	}
	if w.n == rl.limit {
		if wait := w.oldest().Add(rl.interval).Sub(now); wait > 0 {
			return false, wait
		}
	}
	w.push(now)
	return true, 0
}

func (rl *RateLimiter) sweep(now time.Time) {
	for uid, w := range rl.windows {
		if now.Sub(w.newest()) >= rl.interval {
			delete(rl.windows, uid)
		}
	}
	rl.lastSweep = now
}

// Tracked reports how many users currently hold a window.
func (rl *RateLimiter) Tracked() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.windows)
}
