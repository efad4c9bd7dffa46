package core

import "github.com/dkeye/classroom/internal/domain"

// SessionID names one signaling connection.
type SessionID string

// MemberSession binds a member's meta to its transport endpoints.
// This is what a room stores and fans out to.
type MemberSession interface {
	// User is nil until the connection logs in.
	User() *domain.User
	SetUser(*domain.User)
	Rename(name string) error
	Signal() SignalConnection
	Media() MediaConnection
	UpdateMedia(MediaConnection) MemberSession
	SetPublished(kind domain.MediaKind, on bool)
	Published() []domain.MediaKind
}
