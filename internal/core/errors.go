package core

import (
	"errors"
	"fmt"
)

var (
	ErrPermissionDenied   = errors.New("media permission denied")
	ErrDeviceUnavailable  = errors.New("no compatible media device")
	ErrStalePartner       = errors.New("envelope for a stale partner")
	ErrNoPendingOffer     = errors.New("answer without a pending offer")
	ErrNoRemoteOffer      = errors.New("answer requested before the remote offer was applied")
	ErrNoSession          = errors.New("no live peer session")
	ErrSessionBusy        = errors.New("peer session already live")
	ErrMalformedEnvelope  = errors.New("malformed envelope")
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
	ErrBackpressure       = errors.New("backpressure")
	ErrConnClosed         = errors.New("connection closed")
)

// MediaAcquisitionError is terminal for the current start attempt.
type MediaAcquisitionError struct {
	Err error
}

func (e *MediaAcquisitionError) Error() string { return "media acquisition: " + e.Err.Error() }
func (e *MediaAcquisitionError) Unwrap() error { return e.Err }

// TransportError covers connect failures and mid-session disconnects.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("transport %s: %v", e.Op, e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// SignalingError is logged and discarded, it never crashes the session.
type SignalingError struct {
	Partner string
	Err     error
}

func (e *SignalingError) Error() string {
	return fmt.Sprintf("signaling with %q: %v", e.Partner, e.Err)
}
func (e *SignalingError) Unwrap() error { return e.Err }

// ConnectionFailure is an ICE failure or timeout on the live connection.
type ConnectionFailure struct {
	Partner string
}

func (e *ConnectionFailure) Error() string {
	return fmt.Sprintf("connection to %q failed", e.Partner)
}
