package domain

import "fmt"

// Identity is resolved once per browser session and never changes after.
type Identity struct {
	ParticipantID ParticipantID
	DisplayName   string
	RoomID        RoomID
}

func DefaultDisplayName(id ParticipantID) string {
	return fmt.Sprintf("User_%s", id)
}

// TileID is the participant-scoped container name used by the layout.
type TileID string

func TileFor(id ParticipantID) TileID {
	return TileID("user-container-" + string(id))
}

type MediaKind string

const (
	KindAudio MediaKind = "audio"
	KindVideo MediaKind = "video"
)

func (k MediaKind) Valid() bool {
	return k == KindAudio || k == KindVideo
}
