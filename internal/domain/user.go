// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
)

const (
	MaxParticipantIDLen = 36
	MaxDisplayNameLen   = 64
)

var (
	ErrDisplayNameTooLong = errors.New("display name too long")
	ErrDisplayNameEmpty   = errors.New("display name empty")
	ErrParticipantIDEmpty = errors.New("participant id empty")
	ErrParticipantIDLong  = errors.New("participant id too long")
)

// ParticipantID identifies one browser session inside a room.
type ParticipantID string

type User struct {
	ID          ParticipantID `json:"id"`
	DisplayName string        `json:"name"`
}

// NewUser is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewUser(id ParticipantID, displayName string) (*User, error) {
	if len(id) == 0 {
		return nil, ErrParticipantIDEmpty
	}
	if len(id) > MaxParticipantIDLen {
		return nil, ErrParticipantIDLong
	}
	u := &User{ID: id}
	if displayName == "" {
		displayName = DefaultDisplayName(id)
	}
	if err := u.SetDisplayName(displayName); err != nil {
		return nil, err
	}
	return u, nil
}

func (u *User) SetDisplayName(name string) error {
	if len(name) == 0 {
		return ErrDisplayNameEmpty
	}
	if len(name) > MaxDisplayNameLen {
		return ErrDisplayNameTooLong
	}
	u.DisplayName = name
	return nil
}
