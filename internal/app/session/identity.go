package session

import "github.com/dkeye/Roulette/internal/domain"

// StaticIdentity serves a fixed user, as the headless client does.
type StaticIdentity struct {
	ID   domain.UserID
	Info domain.UserProfile
}

func (s StaticIdentity) UserID() domain.UserID       { return s.ID }
func (s StaticIdentity) Profile() domain.UserProfile { return s.Info }
