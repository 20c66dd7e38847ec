package core

import "encoding/json"

// Handler receives the raw data of one inbound event.
type Handler func(data json.RawMessage)

// Transport abstracts the persistent channel to the matchmaking server.
// Owned by whoever constructs it; the State Machine only emits and subscribes.
type Transport interface {
	// ID is the connection-scoped identifier assigned by the server.
	ID() string
	Emit(event string, payload any) error
	On(event string, h Handler)
}

// TransportListener is told about link health; it never re-requests matching itself.
type TransportListener interface {
	OnConnected(id string)
	OnDisconnected(err error)
	OnReconnected(id string)
	OnGiveUp(err error)
}

// SessionID identifies one server-side websocket connection.
type SessionID string

// SignalConn is the server end of a client connection. TrySend never blocks.
type SignalConn interface {
	TrySend(frame []byte) error
	Close()
}
