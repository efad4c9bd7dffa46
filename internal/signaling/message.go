// Package signaling holds the JSON messages exchanged over the room
// websocket.
package signaling

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dkeye/classroom/internal/domain"
	"github.com/pion/webrtc/v4"
)

type Type string

// Requests, answered with TypeAck or TypeError carrying the same ID.
const (
	TypeLogin        Type = "login"
	TypeAttributes   Type = "attributes"
	TypeChannelJoin  Type = "channel_join"
	TypeChannelLeave Type = "channel_leave"
	TypeLogout       Type = "logout"
	TypeMediaJoin    Type = "media_join"
	TypeMediaLeave   Type = "media_leave"
	TypePublish      Type = "publish"
	TypeUnpublish    Type = "unpublish"
	TypeAnswer       Type = "answer"
	TypeCandidate    Type = "candidate"
	TypePing         Type = "ping"
)

// Replies and server pushes.
const (
	TypeAck          Type = "ack"
	TypeError        Type = "error"
	TypeOffer        Type = "offer"
	TypePublished    Type = "published"
	TypeMemberJoined Type = "member_joined"
	TypeMemberLeft   Type = "member_left"
	TypePong         Type = "pong"
)

var ErrBadMessage = errors.New("bad message")

// Message is the one envelope for every type; fields a type does not
// use stay empty.
type Message struct {
	Type      Type                     `json:"type"`
	ID        string                   `json:"id,omitempty"`
	Error     string                   `json:"error,omitempty"`
	UID       domain.ParticipantID     `json:"uid,omitempty"`
	Token     string                   `json:"token,omitempty"`
	Name      string                   `json:"name,omitempty"`
	Room      domain.RoomID            `json:"room,omitempty"`
	Kind      domain.MediaKind         `json:"kind,omitempty"`
	SDP       string                   `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
}

func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %w", ErrBadMessage, err)
	}
	if m.Type == "" {
		return Message{}, fmt.Errorf("%w: missing type", ErrBadMessage)
	}
	return m, nil
}

func Encode(m Message) ([]byte, error) {
	return json.Marshal(m)
}

// IsReply reports whether m answers an earlier request.
func (m Message) IsReply() bool {
	return m.ID != "" && (m.Type == TypeAck || m.Type == TypeError)
}

func Ack(id string) Message {
	return Message{Type: TypeAck, ID: id}
}

func Error(id string, err error) Message {
	return Message{Type: TypeError, ID: id, Error: err.Error()}
}
