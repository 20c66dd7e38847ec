package app

import (
	"github.com/dkeye/Roulette/internal/core"
	"github.com/dkeye/Roulette/internal/domain"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	MarkSlow
	KickMember
	DropFrame
)

// Policy decides what happens to a connection whose send buffer is full.
type Policy interface {
	OnBackPressure(sid core.SessionID, event string) BackpressureAction
}

// SimplePolicy drops presence broadcasts and kicks the member on anything else.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(_ core.SessionID, event string) BackpressureAction {
	if event == domain.EventActiveUsers {
		return DropFrame
	}
	return KickMember
}
