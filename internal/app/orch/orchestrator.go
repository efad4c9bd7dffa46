package orch

import (
	"github.com/dkeye/classroom/internal/app"
	"github.com/dkeye/classroom/internal/app/sfu"
	"github.com/dkeye/classroom/internal/core"
	"github.com/dkeye/classroom/internal/signaling"
	"github.com/rs/zerolog/log"
)

type Orchestrator struct {
	Registry *app.Registry
	Rooms    core.RoomManager
	Policy   app.Policy
	Relays   *sfu.RelayManager
}

// Send delivers msg to one session.
func (o *Orchestrator) Send(sid core.SessionID, msg signaling.Message) error {
	sess, ok := o.Registry.GetSession(sid)
	if !ok {
		return app.ErrUnknownSession
	}
	frame, err := signaling.Encode(msg)
	if err != nil {
		return err
	}
	return sess.Signal().TrySend(frame)
}

// BroadcastChannel sends msg to everyone else in the channel of sid.
func (o *Orchestrator) BroadcastChannel(sid core.SessionID, msg signaling.Message) {
	frame, err := signaling.Encode(msg)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("encode broadcast")
		return
	}
	o.OnFrame(sid, frame)
}

func (o *Orchestrator) OnFrame(sid core.SessionID, data core.Frame) {
	roomID, ok := o.Registry.ChannelOf(sid)
	if !ok {
		return
	}
	room := o.Rooms.GetOrCreate(roomID)
	res := room.Broadcast(sid, data)
	o.onDropped(room, res.Dropped)
}

// BroadcastMedia sends msg to the given media room members except sid.
func (o *Orchestrator) BroadcastMedia(sid core.SessionID, to []app.Snap, msg signaling.Message) {
	frame, err := signaling.Encode(msg)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("encode broadcast")
		return
	}
	var dropped []core.MemberSession
	for _, snap := range to {
		if snap.SID == sid {
			continue
		}
		if err := snap.Session.Signal().TrySend(frame); err != nil {
			dropped = append(dropped, snap.Session)
		}
	}
	var room core.RoomService
	if id, ok := o.Registry.ChannelOf(sid); ok {
		room, _ = o.Rooms.Get(id)
	}
	o.onDropped(room, dropped)
}

func (o *Orchestrator) onDropped(room core.RoomService, dropped []core.MemberSession) {
	if o.Policy == nil || len(dropped) == 0 {
		return
	}
	for _, slow := range dropped {
		switch o.Policy.OnBackPressure(room, slow) {
		case app.KickMember:
			if u := slow.User(); u != nil {
				if sid, ok := o.Registry.SessionOfUser(u.ID); ok {
					o.KickBySID(sid)
				}
			}
		case app.MarkSlow, app.DropFrame, app.NoAction:
		}
	}
}
