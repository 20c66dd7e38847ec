package storage

import (
	"context"
	"sync"

	"github.com/dkeye/Roulette/internal/core"
)

// Memory is the fallback when no database is configured.
type Memory struct {
	mu      sync.Mutex
	reports []core.Report
	friends []core.FriendRequest
	online  map[core.SessionID]struct{}
}

var (
	_ core.ReportSink    = (*Memory)(nil)
	_ core.FriendSink    = (*Memory)(nil)
	_ core.PresenceStore = (*Memory)(nil)
)

func NewMemory() *Memory {
	return &Memory{online: make(map[core.SessionID]struct{})}
}

func (m *Memory) SaveReport(_ context.Context, r core.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports = append(m.reports, r)
	return nil
}

func (m *Memory) SaveFriendRequest(_ context.Context, r core.FriendRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.friends = append(m.friends, r)
	return nil
}

func (m *Memory) Reports() []core.Report {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]core.Report(nil), m.reports...)
}

func (m *Memory) FriendRequests() []core.FriendRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]core.FriendRequest(nil), m.friends...)
}

func (m *Memory) Join(_ context.Context, sid core.SessionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.online[sid] = struct{}{}
	return nil
}

func (m *Memory) Leave(_ context.Context, sid core.SessionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.online, sid)
	return nil
}

func (m *Memory) Count(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.online), nil
}
