package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotJoined        = errors.New("session is not joined")
	ErrInvalidState     = errors.New("invalid session state")
	ErrAlreadySharing   = errors.New("screen share already active")
	ErrNotSharing       = errors.New("screen share not active")
	ErrUnknownTile      = errors.New("unknown tile")
	ErrPermissionDenied = errors.New("permission denied")
	ErrDeviceNotFound   = errors.New("device not found")
	ErrDeviceBusy       = errors.New("device busy or not readable")
	ErrRequestRejected  = errors.New("request rejected")
)

// AuthenticationError covers messaging login and channel join failures.
type AuthenticationError struct {
	Step string
	Err  error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("messaging %s failed: %v", e.Step, e.Err)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

type MediaJoinError struct {
	Room RoomID
	Err  error
}

func (e *MediaJoinError) Error() string {
	return fmt.Sprintf("join media room %s: %v", e.Room, e.Err)
}

func (e *MediaJoinError) Unwrap() error { return e.Err }

type AcquisitionReason int

const (
	ReasonOther AcquisitionReason = iota
	ReasonPermissionDenied
	ReasonDeviceUnavailable
)

func (r AcquisitionReason) String() string {
	switch r {
	case ReasonPermissionDenied:
		return "permission denied"
	case ReasonDeviceUnavailable:
		return "device unavailable"
	default:
		return "other"
	}
}

type DeviceAcquisitionError struct {
	Reason AcquisitionReason
	Err    error
}

func (e *DeviceAcquisitionError) Error() string {
	return fmt.Sprintf("device acquisition (%s): %v", e.Reason, e.Err)
}

func (e *DeviceAcquisitionError) Unwrap() error { return e.Err }

// ClassifyAcquisition maps a capture error onto the acquisition taxonomy.
func ClassifyAcquisition(err error) *DeviceAcquisitionError {
	var dae *DeviceAcquisitionError
	if errors.As(err, &dae) {
		return dae
	}
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return &DeviceAcquisitionError{Reason: ReasonPermissionDenied, Err: err}
	case errors.Is(err, ErrDeviceNotFound), errors.Is(err, ErrDeviceBusy):
		return &DeviceAcquisitionError{Reason: ReasonDeviceUnavailable, Err: err}
	default:
		return &DeviceAcquisitionError{Reason: ReasonOther, Err: err}
	}
}

type TrackUnavailableError struct {
	Kind MediaKind
}

func (e *TrackUnavailableError) Error() string {
	return fmt.Sprintf("%s track was never acquired", e.Kind)
}

type PublishError struct {
	Op    string // "publish" or "unpublish"
	Kinds []MediaKind
	Err   error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("%s %v: %v", e.Op, e.Kinds, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

type SubscribeError struct {
	Participant ParticipantID
	Kind        MediaKind
	Err         error
}

func (e *SubscribeError) Error() string {
	return fmt.Sprintf("subscribe %s/%s: %v", e.Participant, e.Kind, e.Err)
}

func (e *SubscribeError) Unwrap() error { return e.Err }
