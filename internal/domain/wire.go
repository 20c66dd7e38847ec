package domain

import (
	"encoding/json"

	"github.com/pion/webrtc/v4"
)

// Event names carried in Frame.Event.
const (
	EventConnected     = "connected"
	EventWaiting       = "waiting"
	EventLeave         = "leave"
	EventMatched       = "matched"
	EventOffer         = "offer"
	EventAnswer        = "answer"
	EventICECandidate  = "ice-candidate"
	EventMessage       = "message"
	EventReport        = "report"
	EventFriendRequest = "friendRequest"
	EventNotification  = "notification"
	EventActiveUsers   = "activeUsers"
	EventPartnerLeft   = "partnerLeft"
	EventError         = "error"
)

// Frame is one websocket text message.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type ConnectedPayload struct {
	ID string `json:"id"`
}

type OfferPayload struct {
	Offer webrtc.SessionDescription `json:"offer"`
	To    string                    `json:"to,omitempty"`
	From  string                    `json:"from,omitempty"`
}

type AnswerPayload struct {
	Answer webrtc.SessionDescription `json:"answer"`
	To     string                    `json:"to,omitempty"`
	From   string                    `json:"from,omitempty"`
}

type CandidatePayload struct {
	Candidate webrtc.ICECandidateInit `json:"candidate"`
	To        string                  `json:"to,omitempty"`
	From      string                  `json:"from,omitempty"`
}

type MessagePayload struct {
	Text string `json:"text"`
	To   string `json:"to,omitempty"`
	From string `json:"from,omitempty"`
}

type ReportPayload struct {
	ReportedUser string `json:"reportedUser"`
	Reason       string `json:"reason"`
}

type FriendRequestPayload struct {
	From     string `json:"from"`
	Username string `json:"username"`
}

type NotificationPayload struct {
	Kind string `json:"kind"`
	Text string `json:"text"`
}

type ActiveUsersPayload struct {
	Count int `json:"count"`
}

type PartnerLeftPayload struct {
	PartnerID string `json:"partnerId"`
}

type ErrorPayload struct {
	Error string `json:"error"`
}

// NewFrame marshals payload into a Frame ready to be written.
func NewFrame(event string, payload any) ([]byte, error) {
	f := Frame{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		f.Data = data
	}
	return json.Marshal(f)
}
