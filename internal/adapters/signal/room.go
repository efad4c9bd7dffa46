package signal

import (
	"github.com/dkeye/classroom/internal/core"
	"github.com/dkeye/classroom/internal/domain"
	"github.com/dkeye/classroom/internal/signaling"
	"github.com/rs/zerolog/log"
)

const maxRoomLen = 36

func validRoom(room domain.RoomID) error {
	if room == "" || len(room) > maxRoomLen {
		return ErrBadRoom
	}
	return nil
}

func (ctl *SignalWSController) handleChannelJoin(sid core.SessionID, m signaling.Message) error {
	if err := validRoom(m.Room); err != nil {
		return err
	}
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("room", string(m.Room)).Msg("channel join")
	return ctl.Orch.JoinChannel(sid, m.Room)
}

func (ctl *SignalWSController) handleChannelLeave(sid core.SessionID) error {
	if _, ok := ctl.Orch.Registry.ChannelOf(sid); !ok {
		return domain.ErrNotJoined
	}
	log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("channel leave")
	ctl.Orch.LeaveChannel(sid)
	return nil
}
