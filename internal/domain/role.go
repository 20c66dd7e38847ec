package domain

import "strings"

// Role decides which side of a pairing issues the SDP offer.
type Role int

const (
	RoleNone Role = iota
	RoleOfferer
	RoleAnswerer
)

func (r Role) String() string {
	switch r {
	case RoleOfferer:
		return "offerer"
	case RoleAnswerer:
		return "answerer"
	default:
		return "none"
	}
}

// NegotiationRole compares the two connection-scoped ids byte-wise.
// The smaller id offers, the larger answers. Both peers must run the same
// comparison, so NegotiationRole(a, b) and NegotiationRole(b, a) are always
// complementary. Equal ids are a self-match and get RoleNone.
func NegotiationRole(localID, partnerID string) Role {
	switch strings.Compare(localID, partnerID) {
	case -1:
		return RoleOfferer
	case 1:
		return RoleAnswerer
	default:
		return RoleNone
	}
}
