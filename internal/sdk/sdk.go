// Package sdk describes the messaging and media capabilities a room
// session needs. Adapters implement them over the room server; tests
// use the fakes in sdktest.
package sdk

import (
	"context"

	"github.com/dkeye/classroom/internal/domain"
	"github.com/pion/rtp"
)

// Messaging is the real-time messaging channel (login, channel membership).
type Messaging interface {
	Login(ctx context.Context, uid domain.ParticipantID, token string) error
	SetDisplayName(ctx context.Context, name string) error
	JoinChannel(ctx context.Context, room domain.RoomID) error
	LeaveChannel(ctx context.Context) error
	Logout(ctx context.Context) error
}

// MediaClient is the media room connection.
type MediaClient interface {
	Join(ctx context.Context, room domain.RoomID, token string, uid domain.ParticipantID) error
	Leave(ctx context.Context) error
	Publish(ctx context.Context, tracks ...LocalTrack) error
	Unpublish(ctx context.Context, tracks ...LocalTrack) error
	Subscribe(ctx context.Context, uid domain.ParticipantID, kind domain.MediaKind) (RemoteTrack, error)
	// OnEvent registers the single handler for room notifications.
	// Handlers must not block.
	OnEvent(func(Event))
}

// Publisher is the part of MediaClient the track manager needs.
type Publisher interface {
	Publish(ctx context.Context, tracks ...LocalTrack) error
	Unpublish(ctx context.Context, tracks ...LocalTrack) error
}

type DeviceInfo struct {
	ID    string
	Kind  string // "audioinput" or "videoinput"
	Label string
}

const (
	DeviceAudioInput = "audioinput"
	DeviceVideoInput = "videoinput"
)

// Devices creates capture tracks.
type Devices interface {
	Enumerate(ctx context.Context) ([]DeviceInfo, error)
	CreateMicrophoneAndCameraTracks(ctx context.Context, a AudioConstraints, v VideoConstraints) (LocalTrack, LocalTrack, error)
	CreateScreenTrack(ctx context.Context) (LocalTrack, error)
}

// LocalTrack is a captured source. Close releases the capture device.
type LocalTrack interface {
	Kind() domain.MediaKind
	Muted() bool
	SetMuted(ctx context.Context, muted bool) error
	Stop()
	Close() error
}

// RemoteTrack is a subscribed media stream of another participant.
type RemoteTrack interface {
	Participant() domain.ParticipantID
	Kind() domain.MediaKind
	MimeType() string
	ReadRTP() (*rtp.Packet, error)
}
