package orch

import (
	"github.com/dkeye/classroom/internal/core"
	"github.com/dkeye/classroom/internal/domain"
	"github.com/dkeye/classroom/internal/signaling"
	"github.com/rs/zerolog/log"
)

// Login binds user to sid. An older connection of the same participant
// is kicked.
func (o *Orchestrator) Login(sid core.SessionID, user *domain.User) error {
	prev, err := o.Registry.Login(sid, user)
	if err != nil {
		return err
	}
	if prev != "" {
		log.Info().Str("module", "orch").Str("sid", string(prev)).Str("uid", string(user.ID)).Msg("kicking previous session")
		o.KickBySID(prev)
	}
	return nil
}

func (o *Orchestrator) Logout(sid core.SessionID) {
	o.LeaveMedia(sid)
	o.LeaveChannel(sid)
	o.Registry.Logout(sid)
}

func (o *Orchestrator) Rename(sid core.SessionID, name string) error {
	sess, ok := o.Registry.GetSession(sid)
	if !ok {
		return core.ErrNotLoggedIn
	}
	return sess.Rename(name)
}

// JoinChannel moves sid into the channel of roomID and announces it.
func (o *Orchestrator) JoinChannel(sid core.SessionID, roomID domain.RoomID) error {
	user, ok := o.Registry.UserOf(sid)
	if !ok {
		return core.ErrNotLoggedIn
	}
	if cur, ok := o.Registry.ChannelOf(sid); ok {
		if cur == roomID {
			return nil
		}
		o.LeaveChannel(sid)
	}
	sess, _ := o.Registry.GetSession(sid)
	o.Rooms.GetOrCreate(roomID).AddMember(sid, sess)
	o.Registry.SetChannel(sid, roomID)
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("room", string(roomID)).Msg("joined channel")

	o.BroadcastChannel(sid, signaling.Message{Type: signaling.TypeMemberJoined, UID: user.ID, Name: user.DisplayName})
	return nil
}

func (o *Orchestrator) LeaveChannel(sid core.SessionID) {
	roomID, ok := o.Registry.ChannelOf(sid)
	if !ok {
		return
	}
	if room, ok := o.Rooms.Get(roomID); ok {
		room.RemoveMember(sid)
		if room.MemberCount() == 0 {
			o.Rooms.StopRoom(roomID)
		}
	}
	o.Registry.SetChannel(sid, "")
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("room", string(roomID)).Msg("left channel")
}

// KickBySID removes sid from everything and closes its connection.
func (o *Orchestrator) KickBySID(sid core.SessionID) {
	o.LeaveMedia(sid)
	o.LeaveChannel(sid)
	o.Registry.Cancel(sid)
}

// Disconnect is called once the signaling connection of sid is gone.
func (o *Orchestrator) Disconnect(sid core.SessionID) {
	o.LeaveMedia(sid)
	o.LeaveChannel(sid)
	o.Registry.Unbind(sid)
}

func (o *Orchestrator) EvictRoom(roomID domain.RoomID) {
	for _, snap := range o.Registry.MembersOfChannel(roomID) {
		o.KickBySID(snap.SID)
	}
	o.Rooms.StopRoom(roomID)
}
