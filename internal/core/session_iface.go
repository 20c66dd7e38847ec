package core

import (
	"context"

	"github.com/dkeye/Roulette/internal/domain"
)

// Identity yields the current user and the profile shown to partners.
type Identity interface {
	UserID() domain.UserID
	Profile() domain.UserProfile
}

// Report is an abuse report forwarded without evaluation. The hub records the
// partner's user id in ReportedID; a client only knows the connection id.
// ReportedName is the username the partner was matched under.
type Report struct {
	ReporterID   domain.UserID
	ReportedID   string
	ReportedName string
	Reason       string
}

// ReportSink persists reports fire-and-forget.
type ReportSink interface {
	SaveReport(ctx context.Context, r Report) error
}

type NoticeLevel int

const (
	NoticeInfo NoticeLevel = iota
	NoticeWarn
	NoticeError
)

// Notice is a toast-style message for the UI.
type Notice struct {
	Level NoticeLevel
	Text  string
	Err   error
}

type Notifier func(Notice)

// FriendRequest is the record kept when one partner asks the other to connect.
type FriendRequest struct {
	FromUser domain.UserID
	ToUser   domain.UserID
	Username string
}

type FriendSink interface {
	SaveFriendRequest(ctx context.Context, r FriendRequest) error
}

// PresenceStore tracks live connections, possibly across server instances.
type PresenceStore interface {
	Join(ctx context.Context, sid SessionID) error
	Leave(ctx context.Context, sid SessionID) error
	Count(ctx context.Context) (int, error)
}
