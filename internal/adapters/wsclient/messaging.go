package wsclient

import (
	"context"
	"fmt"

	"github.com/dkeye/classroom/internal/domain"
	"github.com/dkeye/classroom/internal/signaling"
)

// Messaging is the login and channel half of the room connection.
type Messaging struct {
	conn *Conn
}

func NewMessaging(conn *Conn) *Messaging {
	return &Messaging{conn: conn}
}

func (m *Messaging) Login(ctx context.Context, uid domain.ParticipantID, token string) error {
	return m.do(ctx, signaling.Message{Type: signaling.TypeLogin, UID: uid, Token: token})
}

func (m *Messaging) SetDisplayName(ctx context.Context, name string) error {
	return m.do(ctx, signaling.Message{Type: signaling.TypeAttributes, Name: name})
}

func (m *Messaging) JoinChannel(ctx context.Context, room domain.RoomID) error {
	return m.do(ctx, signaling.Message{Type: signaling.TypeChannelJoin, Room: room})
}

func (m *Messaging) LeaveChannel(ctx context.Context) error {
	return m.do(ctx, signaling.Message{Type: signaling.TypeChannelLeave})
}

func (m *Messaging) Logout(ctx context.Context) error {
	return m.do(ctx, signaling.Message{Type: signaling.TypeLogout})
}

func (m *Messaging) do(ctx context.Context, msg signaling.Message) error {
	if _, err := m.conn.Request(ctx, msg); err != nil {
		return fmt.Errorf("messaging %s: %w", msg.Type, err)
	}
	return nil
}
