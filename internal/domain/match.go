package domain

import (
	"errors"
	"slices"
	"strings"
	"time"
)

var ErrNegativeTimeout = errors.New("preference timeout must not be negative")

// Filters narrows who a waiting user may be paired with.
// A zero PreferenceTimeoutMs keeps the preferences active forever.
type Filters struct {
	GenderFilter          bool     `json:"genderFilter"`
	CountryFilter         bool     `json:"countryFilter"`
	GenderPreference      Gender   `json:"genderPreference"`
	CountryPreferenceList []string `json:"countryPreferenceList"`
	PreferenceTimeoutMs   int64    `json:"preferenceTimeoutMs"`
}

func (f Filters) PreferenceTimeout() time.Duration {
	return time.Duration(f.PreferenceTimeoutMs) * time.Millisecond
}

// Accepts reports whether the profile passes the filters that are still active.
func (f Filters) Accepts(p UserProfile, degraded bool) bool {
	if degraded {
		return true
	}
	if f.GenderFilter && f.GenderPreference != "" && f.GenderPreference != GenderAny {
		if p.Gender != f.GenderPreference {
			return false
		}
	}
	if f.CountryFilter && len(f.CountryPreferenceList) > 0 {
		ok := slices.ContainsFunc(f.CountryPreferenceList, func(c string) bool {
			return strings.EqualFold(c, p.Country)
		})
		if !ok {
			return false
		}
	}
	return true
}

// WaitingRequest is sent once per attempt to enter the pool.
type WaitingRequest struct {
	Interests   []string    `json:"interests"`
	DeviceID    string      `json:"deviceId"`
	Filters     Filters     `json:"filters"`
	UserProfile UserProfile `json:"userProfile"`
}

func (r WaitingRequest) Validate() error {
	if r.Filters.PreferenceTimeoutMs < 0 {
		return ErrNegativeTimeout
	}
	return nil
}

// MatchResult is delivered to both sides of a pairing and never changes afterwards.
type MatchResult struct {
	PartnerID      string      `json:"partnerId"`
	PartnerProfile UserProfile `json:"userProfile"`
	Interests      []string    `json:"interests"`
}

// SharedInterests returns the case-insensitive intersection, in the order of a.
func SharedInterests(a, b []string) []string {
	seen := make(map[string]struct{}, len(b))
	for _, s := range b {
		seen[strings.ToLower(strings.TrimSpace(s))] = struct{}{}
	}
	out := make([]string, 0)
	dup := make(map[string]struct{}, len(a))
	for _, s := range a {
		k := strings.ToLower(strings.TrimSpace(s))
		if k == "" {
			continue
		}
		if _, ok := seen[k]; !ok {
			continue
		}
		if _, ok := dup[k]; ok {
			continue
		}
		dup[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
