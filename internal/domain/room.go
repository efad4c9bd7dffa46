package domain

// DefaultRoom is used when the page does not name a room.
const DefaultRoom RoomID = "main"

type RoomID string

type Room struct {
	ID RoomID
}
