package signal

import (
	"context"
	"fmt"

	"github.com/dkeye/classroom/internal/adapters/rtc"
	"github.com/dkeye/classroom/internal/core"
	"github.com/dkeye/classroom/internal/domain"
	"github.com/dkeye/classroom/internal/signaling"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleMediaJoin(ctx context.Context, sid core.SessionID, conn *WsSignalConn, m signaling.Message) error {
	if err := validRoom(m.Room); err != nil {
		return err
	}
	user, ok := ctl.Orch.Registry.UserOf(sid)
	if !ok {
		return core.ErrNotLoggedIn
	}
	if err := ctl.verify(m.Token, user.ID); err != nil {
		return err
	}

	wc, err := rtc.NewWebRTCConnection(ctl.API, ctl.RTCConfig, sid)
	if err != nil {
		return fmt.Errorf("new peer connection: %w", err)
	}
	wc.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		ctl.send(conn, signaling.Message{Type: signaling.TypeCandidate, Candidate: &ci})
	})
	wc.OnOffer(func(sd webrtc.SessionDescription) {
		ctl.send(conn, signaling.Message{Type: signaling.TypeOffer, SDP: sd.SDP})
	})
	if err := wc.Start(ctx); err != nil {
		wc.Close()
		return fmt.Errorf("start peer connection: %w", err)
	}
	if err := ctl.Orch.JoinMedia(sid, m.Room, wc); err != nil {
		wc.Close()
		return err
	}
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("room", string(m.Room)).Msg("media join")
	return nil
}

func (ctl *SignalWSController) handleMediaLeave(sid core.SessionID) error {
	if _, ok := ctl.Orch.Registry.MediaRoomOf(sid); !ok {
		return domain.ErrNotJoined
	}
	ctl.Orch.LeaveMedia(sid)
	return nil
}

func (ctl *SignalWSController) handlePublish(sid core.SessionID, m signaling.Message, on bool) error {
	if !m.Kind.Valid() {
		return fmt.Errorf("unknown kind %q", m.Kind)
	}
	return ctl.Orch.SetPublishing(sid, m.Kind, on)
}

func (ctl *SignalWSController) media(sid core.SessionID) (core.MediaConnection, error) {
	sess, ok := ctl.Orch.Registry.GetSession(sid)
	if !ok || sess.Media() == nil {
		return nil, ErrNoMedia
	}
	return sess.Media(), nil
}

func (ctl *SignalWSController) handleAnswer(sid core.SessionID, m signaling.Message) error {
	mc, err := ctl.media(sid)
	if err != nil {
		return err
	}
	return mc.ApplyAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: m.SDP})
}

func (ctl *SignalWSController) handleCandidate(sid core.SessionID, m signaling.Message) error {
	if m.Candidate == nil {
		return fmt.Errorf("%w: empty candidate", signaling.ErrBadMessage)
	}
	mc, err := ctl.media(sid)
	if err != nil {
		return err
	}
	return mc.AddICECandidate(*m.Candidate)
}
