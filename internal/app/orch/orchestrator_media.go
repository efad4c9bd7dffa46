package orch

import (
	"context"

	"github.com/dkeye/classroom/internal/app"
	"github.com/dkeye/classroom/internal/app/sfu"
	"github.com/dkeye/classroom/internal/core"
	"github.com/dkeye/classroom/internal/domain"
	"github.com/dkeye/classroom/internal/signaling"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// JoinMedia attaches mc as the media connection of sid in roomID,
// subscribes it to what the room already publishes and sends the first
// offer.
func (o *Orchestrator) JoinMedia(sid core.SessionID, roomID domain.RoomID, mc core.MediaConnection) error {
	if _, ok := o.Registry.UserOf(sid); !ok {
		return core.ErrNotLoggedIn
	}
	o.LeaveMedia(sid)

	sess, _ := o.Registry.GetSession(sid)
	sess.UpdateMedia(mc)
	o.Registry.SetMediaRoom(sid, roomID)
	o.BindMediaHandlers(mc, sid)

	announce := o.OnMediaReady(sid)
	if err := mc.Negotiate(); err != nil {
		o.LeaveMedia(sid)
		return err
	}
	for _, msg := range announce {
		_ = o.Send(sid, msg)
	}
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("room", string(roomID)).Int("existing", len(announce)).Msg("joined media")
	return nil
}

func (o *Orchestrator) BindMediaHandlers(mc core.MediaConnection, sid core.SessionID) {
	mc.OnTrack(func(trackCtx context.Context, track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		o.OnTrack(trackCtx, sid, mc, track)
	})
	mc.OnClosed(func() { o.OnMediaDisconnect(sid) })
}

func (o *Orchestrator) OnMediaDisconnect(sid core.SessionID) {
	o.LeaveMedia(sid)
}

// LeaveMedia stops what sid publishes, detaches it from everyone else's
// relays and tells the room.
func (o *Orchestrator) LeaveMedia(sid core.SessionID) {
	roomID, ok := o.Registry.MediaRoomOf(sid)
	if !ok {
		return
	}
	mates := o.Registry.MediaMates(sid)
	o.Registry.SetMediaRoom(sid, "")

	var mc core.MediaConnection
	if sess, ok := o.Registry.GetSession(sid); ok {
		mc = sess.Media()
		sess.UpdateMedia(nil)
	}
	if o.Relays != nil {
		o.detach(o.Relays.StopRelays(sid))
		o.Relays.Unsubscribe(sid)
	}
	if mc != nil {
		mc.Close()
	}

	if user, ok := o.Registry.UserOf(sid); ok {
		o.BroadcastMedia(sid, mates, signaling.Message{Type: signaling.TypeMemberLeft, UID: user.ID})
	}
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("room", string(roomID)).Msg("left media")
}

// detach removes forwarding tracks from their subscribers and
// renegotiates each subscriber once.
func (o *Orchestrator) detach(ots []*sfu.OutTrack) {
	owners := make(map[core.MediaConnection]struct{})
	for _, ot := range ots {
		if ot.Owner == nil || ot.Owner.IsClosed() {
			continue
		}
		if err := ot.Owner.RemoveSender(ot.Sender); err != nil {
			log.Warn().Err(err).Str("module", "orch").Msg("remove sender")
			continue
		}
		owners[ot.Owner] = struct{}{}
	}
	for mc := range owners {
		if err := mc.Negotiate(); err != nil {
			log.Warn().Err(err).Str("module", "orch").Msg("renegotiate after detach")
		}
	}
}

// OnTrack is called when a publisher's track starts flowing.
func (o *Orchestrator) OnTrack(ctx context.Context, sid core.SessionID, mc core.MediaConnection, track *webrtc.TrackRemote) {
	if o.Relays == nil {
		return
	}
	user, ok := o.Registry.UserOf(sid)
	if !ok {
		return
	}
	if _, ok := o.Registry.MediaRoomOf(sid); !ok {
		log.Info().Str("module", "sfu").Str("sid", string(sid)).Msg("OnTrack: no media room for sid")
		return
	}
	kind := domain.MediaKind(track.Kind().String())
	key := sfu.Key{SID: sid, Kind: kind}
	keyframe := func() {
		pli := &rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())}
		if err := mc.WriteRTCP([]rtcp.Packet{pli}); err != nil {
			log.Debug().Err(err).Str("module", "sfu").Str("sid", string(sid)).Msg("send PLI")
		}
	}
	o.detach(o.Relays.StartRelay(ctx, key, track, string(user.ID), keyframe))
	if sess, ok := o.Registry.GetSession(sid); ok {
		sess.SetPublished(kind, true)
	}

	mates := o.Registry.MediaMates(sid)
	for _, snap := range mates {
		o.subscribe(key, snap)
	}
	o.BroadcastMedia(sid, mates, signaling.Message{Type: signaling.TypePublished, UID: user.ID, Kind: kind})
}

func (o *Orchestrator) subscribe(key sfu.Key, dst app.Snap) {
	pc := dst.Session.Media()
	if pc == nil {
		return
	}
	added, err := o.Relays.Subscribe(key, dst.SID, pc)
	if err != nil {
		log.Warn().Err(err).Str("module", "sfu").Str("dst", string(dst.SID)).Msg("subscribe")
		return
	}
	if added {
		if err := pc.Negotiate(); err != nil {
			log.Warn().Err(err).Str("module", "sfu").Str("dst", string(dst.SID)).Msg("renegotiate after subscribe")
		}
	}
}

// OnMediaReady subscribes sid to every relay in its media room and
// returns the published notices for the ones currently forwarding.
func (o *Orchestrator) OnMediaReady(sid core.SessionID) []signaling.Message {
	if o.Relays == nil {
		return nil
	}
	sess, ok := o.Registry.GetSession(sid)
	if !ok || sess.Media() == nil {
		return nil
	}
	var out []signaling.Message
	for _, snap := range o.Registry.MediaMates(sid) {
		mate := snap.Session.User()
		if mate == nil {
			continue
		}
		for _, key := range o.Relays.KeysOf(snap.SID) {
			if _, err := o.Relays.Subscribe(key, sid, sess.Media()); err != nil {
				log.Warn().Err(err).Str("module", "sfu").Str("dst", string(sid)).Msg("subscribe")
				continue
			}
			if o.Relays.Active(key) {
				out = append(out, signaling.Message{Type: signaling.TypePublished, UID: mate.ID, Kind: key.Kind})
			}
		}
	}
	return out
}

// SetPublishing pauses or resumes forwarding of what sid publishes.
func (o *Orchestrator) SetPublishing(sid core.SessionID, kind domain.MediaKind, on bool) error {
	if _, ok := o.Registry.MediaRoomOf(sid); !ok {
		return domain.ErrNotJoined
	}
	user, ok := o.Registry.UserOf(sid)
	if !ok {
		return core.ErrNotLoggedIn
	}
	if sess, ok := o.Registry.GetSession(sid); ok {
		sess.SetPublished(kind, on)
	}
	key := sfu.Key{SID: sid, Kind: kind}
	if o.Relays == nil || !o.Relays.HasRelay(key) {
		// the relay announces itself once media arrives
		return nil
	}
	if !on {
		o.Relays.Pause(key)
		return nil
	}
	o.Relays.Resume(key)
	o.BroadcastMedia(sid, o.Registry.MediaMates(sid), signaling.Message{Type: signaling.TypePublished, UID: user.ID, Kind: kind})
	return nil
}
