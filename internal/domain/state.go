package domain

// SessionState is the client-side matchmaking state.
type SessionState int

const (
	StateIdle SessionState = iota
	StateWaiting
	StateMatched
	StateChatting
	StateEnded
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWaiting:
		return "waiting"
	case StateMatched:
		return "matched"
	case StateChatting:
		return "chatting"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Paired is true while signaling envelopes from the partner may be processed.
func (s SessionState) Paired() bool {
	return s == StateMatched || s == StateChatting
}

// ConnectionState mirrors the peer connection lifecycle.
type ConnectionState string

const (
	ConnNew          ConnectionState = "new"
	ConnConnecting   ConnectionState = "connecting"
	ConnConnected    ConnectionState = "connected"
	ConnDisconnected ConnectionState = "disconnected"
	ConnFailed       ConnectionState = "failed"
	ConnClosed       ConnectionState = "closed"
)
