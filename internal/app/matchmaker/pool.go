// Package matchmaker pairs waiting connections.
package matchmaker

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dkeye/Roulette/internal/domain"
	"github.com/rs/zerolog/log"
)

// Entry is one waiting connection.
type Entry struct {
	ID         string
	Request    domain.WaitingRequest
	EnqueuedAt time.Time
	seq        uint64
}

// degraded reports whether the preference timeout elapsed.
func (e *Entry) degraded(now time.Time) bool {
	t := e.Request.Filters.PreferenceTimeout()
	return t > 0 && now.Sub(e.EnqueuedAt) >= t
}

type Pair struct {
	A, B   Entry
	Shared []string
}

// Pool is the waiting pool. Pairing is mutual: each side's active filters must
// accept the other side's profile.
type Pool struct {
	mu      sync.Mutex
	entries map[string]*Entry
	seq     uint64

	interval time.Duration
	onPair   func(Pair)
}

func NewPool(interval time.Duration, onPair func(Pair)) *Pool {
	if interval <= 0 {
		interval = time.Second
	}
	return &Pool{
		entries:  make(map[string]*Entry),
		interval: interval,
		onPair:   onPair,
	}
}

// Enqueue adds id or replaces its previous request, which moves it to the back.
func (p *Pool) Enqueue(id string, req domain.WaitingRequest, now time.Time) error {
	if err := req.Validate(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	p.entries[id] = &Entry{ID: id, Request: req, EnqueuedAt: now, seq: p.seq}
	log.Debug().Str("module", "matchmaker").Str("sid", id).Int("waiting", len(p.entries)).Msg("enqueued")
	return nil
}

func (p *Pool) Remove(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.entries[id]
	delete(p.entries, id)
	return ok
}

func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

func (p *Pool) Contains(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.entries[id]
	return ok
}

// Pair removes and returns every pair it can form at now. The oldest entry
// picks first; it takes the compatible candidate with the most shared
// interests, the older one on ties.
func (p *Pool) Pair(now time.Time) []Pair {
	p.mu.Lock()
	defer p.mu.Unlock()

	order := make([]*Entry, 0, len(p.entries))
	for _, e := range p.entries {
		order = append(order, e)
	}
	sort.Slice(order, func(i, j int) bool { return order[i].seq < order[j].seq })

	taken := make(map[string]bool, len(order))
	var out []Pair
	for i, a := range order {
		if taken[a.ID] {
			continue
		}
		var best *Entry
		var bestShared []string
		for _, b := range order[i+1:] {
			if taken[b.ID] || b.ID == a.ID || !compatible(a, b, now) {
				continue
			}
			shared := domain.SharedInterests(a.Request.Interests, b.Request.Interests)
			if best == nil || len(shared) > len(bestShared) {
				best, bestShared = b, shared
			}
		}
		if best == nil {
			continue
		}
		taken[a.ID], taken[best.ID] = true, true
		delete(p.entries, a.ID)
		delete(p.entries, best.ID)
		out = append(out, Pair{A: *a, B: *best, Shared: bestShared})
	}
	return out
}

func compatible(a, b *Entry, now time.Time) bool {
	return a.Request.Filters.Accepts(b.Request.UserProfile, a.degraded(now)) &&
		b.Request.Filters.Accepts(a.Request.UserProfile, b.degraded(now))
}

// Run pairs on every tick so degraded filters eventually match.
func (p *Pool) Run(ctx context.Context) {
	t := time.NewTicker(p.interval)
	defer t.Stop()
	log.Info().Str("module", "matchmaker").Dur("interval", p.interval).Msg("pool started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "matchmaker").Msg("pool stopped")
			return
		case now := <-t.C:
			p.Flush(now)
		}
	}
}

// Flush pairs at now and hands each pair to the callback.
func (p *Pool) Flush(now time.Time) int {
	pairs := p.Pair(now)
	for _, pr := range pairs {
		log.Info().Str("module", "matchmaker").Str("a", pr.A.ID).Str("b", pr.B.ID).Int("shared", len(pr.Shared)).Msg("paired")
		if p.onPair != nil {
			p.onPair(pr)
		}
	}
	return len(pairs)
}
