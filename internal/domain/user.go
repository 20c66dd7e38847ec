// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"strings"
)

const (
	MaxUserIDLen   = 36
	MaxUsernameLen = 36
	MaxCountryLen  = 2
)

var (
	ErrUsernameTooLong = errors.New("username too long")
	ErrUsernameEmpty   = errors.New("username empty")
	ErrBadCountry      = errors.New("country must be an ISO 3166 alpha-2 code")
)

type UserID string

type Gender string

const (
	GenderAny    Gender = "any"
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
	GenderOther  Gender = "other"
)

// UserProfile is what a matched partner gets to see.
type UserProfile struct {
	Gender    Gender `json:"gender"`
	Country   string `json:"country"`
	AvatarURL string `json:"avatarUrl"`
	Username  string `json:"username"`
}

// NewUserProfile is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewUserProfile(username string, gender Gender, country, avatarURL string) (*UserProfile, error) {
	p := &UserProfile{Gender: gender, AvatarURL: avatarURL}
	if err := p.SetUsername(username); err != nil {
		return nil, err
	}
	if err := p.SetCountry(country); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *UserProfile) SetUsername(username string) error {
	if len(username) == 0 {
		return ErrUsernameEmpty
	}
	if len(username) > MaxUsernameLen {
		return ErrUsernameTooLong
	}
	p.Username = username
	return nil
}

// SetCountry accepts an empty value (unknown) or a two letter code.
func (p *UserProfile) SetCountry(country string) error {
	if country != "" && len(country) != MaxCountryLen {
		return ErrBadCountry
	}
	p.Country = strings.ToUpper(country)
	return nil
}
