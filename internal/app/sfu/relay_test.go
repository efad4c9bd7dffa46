package sfu

import (
	"context"
	"testing"

	"github.com/dkeye/classroom/internal/core"
	"github.com/dkeye/classroom/internal/domain"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLocal(t *testing.T) *webrtc.TrackLocalStaticRTP {
	t.Helper()
	tr, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "7-video", "7")
	require.NoError(t, err)
	return tr
}

func TestOutTrackStates(t *testing.T) {
	ot := NewOutTrack(nil, nil, nil)
	assert.Equal(t, TrackStateOk, ot.GetState())

	ot.MarkMuted()
	assert.Equal(t, TrackStateMuted, ot.GetState())
	ot.MarkOk()
	assert.Equal(t, TrackStateOk, ot.GetState())

	ot.MarkDelete()
	ot.MarkOk()
	ot.MarkMuted()
	assert.Equal(t, TrackStateDelete, ot.GetState(), "deleted is terminal")
}

func TestRelayPauseMutesSubscribers(t *testing.T) {
	key := Key{SID: "a", Kind: domain.KindVideo}
	r := NewRelay(key, nil, "7", nil, func() {})
	first := NewOutTrack(nil, nil, nil)
	r.AddOutTrack("b", first)

	r.setPaused(true)
	assert.Equal(t, TrackStateMuted, first.GetState())

	late := NewOutTrack(nil, nil, nil)
	r.AddOutTrack("c", late)
	assert.Equal(t, TrackStateMuted, late.GetState(), "joins muted while paused")

	r.setPaused(false)
	assert.Equal(t, TrackStateOk, first.GetState())
	assert.Equal(t, TrackStateOk, late.GetState())
}

func TestRelayForwardDropsDeleted(t *testing.T) {
	r := NewRelay(Key{SID: "a", Kind: domain.KindVideo}, nil, "7", nil, func() {})
	live := NewOutTrack(newLocal(t), nil, nil)
	gone := NewOutTrack(newLocal(t), nil, nil)
	r.AddOutTrack("b", live)
	r.AddOutTrack("c", gone)
	gone.MarkDelete()

	logger := zerolog.Nop()
	r.forward(&rtp.Packet{Header: rtp.Header{Version: 2, SequenceNumber: 1}}, &logger)

	assert.True(t, r.hasSubscriber("b"))
	assert.False(t, r.hasSubscriber("c"))
	assert.Equal(t, TrackStateOk, live.GetState())
}

func TestRequestKeyframeOnlyForVideo(t *testing.T) {
	var asked int
	video := NewRelay(Key{SID: "a", Kind: domain.KindVideo}, nil, "7", func() { asked++ }, func() {})
	audio := NewRelay(Key{SID: "a", Kind: domain.KindAudio}, nil, "7", func() { asked++ }, func() {})

	video.RequestKeyframe()
	audio.RequestKeyframe()
	assert.Equal(t, 1, asked)
}

func managerWith(relays ...*Relay) *RelayManager {
	m := NewRelayManager()
	for _, r := range relays {
		m.relays[r.Key] = r
	}
	return m
}

func TestRelayManagerLifecycle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	audio := NewRelay(Key{SID: "a", Kind: domain.KindAudio}, nil, "7", nil, cancel)
	video := NewRelay(Key{SID: "a", Kind: domain.KindVideo}, nil, "7", nil, cancel)
	other := NewRelay(Key{SID: "b", Kind: domain.KindVideo}, nil, "8", nil, func() {})
	m := managerWith(video, audio, other)

	assert.Equal(t, []Key{audio.Key, video.Key}, m.KeysOf("a"))

	assert.True(t, m.Pause(video.Key))
	assert.False(t, m.Active(video.Key))
	assert.True(t, m.Resume(video.Key))
	assert.True(t, m.Active(video.Key))
	assert.False(t, m.Pause(Key{SID: "zz", Kind: domain.KindAudio}))

	video.AddOutTrack("b", NewOutTrack(nil, nil, nil))
	other.AddOutTrack("a", NewOutTrack(nil, nil, nil))

	dropped := m.Unsubscribe("a")
	require.Len(t, dropped, 1)
	assert.Equal(t, TrackStateDelete, dropped[0].GetState())

	detached := m.StopRelays("a")
	require.Len(t, detached, 1)
	assert.False(t, m.HasRelay(audio.Key))
	assert.False(t, m.HasRelay(video.Key))
	assert.True(t, m.HasRelay(other.Key))
	assert.Error(t, ctx.Err(), "relay contexts are cancelled")
}

func TestSubscribeWithoutRelay(t *testing.T) {
	m := NewRelayManager()
	_, err := m.Subscribe(Key{SID: "a", Kind: domain.KindAudio}, core.SessionID("b"), nil)
	assert.ErrorIs(t, err, ErrNoRelay)
}
