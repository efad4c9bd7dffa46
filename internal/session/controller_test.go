package session

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/dkeye/classroom/internal/domain"
	"github.com/dkeye/classroom/internal/feed"
	"github.com/dkeye/classroom/internal/sdk"
	"github.com/dkeye/classroom/internal/sdk/sdktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type harness struct {
	calls   *sdktest.Calls
	msg     *sdktest.Messaging
	media   *sdktest.Media
	devices *sdktest.Devices
	feed    *feed.Feed
	ctrl    *Controller
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	calls := &sdktest.Calls{}
	h := &harness{
		calls:   calls,
		msg:     &sdktest.Messaging{Calls: calls},
		media:   sdktest.NewMedia(calls),
		devices: sdktest.NewDevices(calls),
		feed:    feed.New(),
	}
	return h
}

func (h *harness) build(t *testing.T, msg sdk.Messaging) *Controller {
	t.Helper()
	if msg == nil {
		msg = h.msg
	}
	h.ctrl = New(Deps{
		Identity:  domain.Identity{ParticipantID: "42", DisplayName: "Ada", RoomID: "math"},
		Token:     "tok",
		Messaging: msg,
		Media:     h.media,
		Devices:   h.devices,
		Feed:      h.feed,
		Audio:     sdk.DefaultAudioConstraints(),
		Video:     sdk.DefaultVideoConstraints(),
	})
	t.Cleanup(h.ctrl.Close)
	return h.ctrl
}

func systemTexts(f *feed.Feed) []string {
	var out []string
	for _, m := range f.SystemMessages() {
		out = append(out, m.Text)
	}
	return out
}

func TestJoinHappyPath(t *testing.T) {
	h := newHarness(t)
	c := h.build(t, nil)

	require.NoError(t, c.Join(context.Background()))

	assert.Equal(t, StateJoined, c.State())
	assert.Equal(t, []string{
		"messaging.login",
		"messaging.name",
		"messaging.join",
		"media.join",
		"devices.enumerate",
		"devices.acquire",
		"media.publish",
	}, h.calls.List())
	assert.Equal(t, "tok", h.msg.LastToken)
	assert.Equal(t, domain.RoomID("math"), h.msg.LastRoom)

	assert.False(t, h.devices.Audio.Muted(), "mic starts live")
	assert.True(t, h.devices.Video.Muted(), "camera starts muted")
	assert.Len(t, h.media.Published(), 2)
	assert.True(t, c.Layout.Has(c.LocalTile()))

	texts := systemTexts(h.feed)
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "Welcome to the class, Ada")
}

func TestJoinTwiceIsRejected(t *testing.T) {
	h := newHarness(t)
	c := h.build(t, nil)
	require.NoError(t, c.Join(context.Background()))

	err := c.Join(context.Background())
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	assert.Equal(t, StateJoined, c.State())
}

func TestJoinFailureAtEachStep(t *testing.T) {
	cases := []struct {
		name     string
		inject   func(h *harness)
		target   any
		notCalls []string
		rollback []string
	}{
		{
			name:     "login",
			inject:   func(h *harness) { h.msg.LoginErr = sdktest.ErrInjected },
			target:   new(*domain.AuthenticationError),
			notCalls: []string{"messaging.join", "media.join", "devices.acquire", "media.publish"},
		},
		{
			name:     "channel",
			inject:   func(h *harness) { h.msg.JoinErr = sdktest.ErrInjected },
			target:   new(*domain.AuthenticationError),
			notCalls: []string{"media.join", "devices.acquire", "media.publish", "messaging.leave"},
			rollback: []string{"messaging.logout"},
		},
		{
			name:     "media",
			inject:   func(h *harness) { h.media.JoinErr = sdktest.ErrInjected },
			target:   new(*domain.MediaJoinError),
			notCalls: []string{"devices.acquire", "media.publish", "media.leave"},
			rollback: []string{"messaging.leave", "messaging.logout"},
		},
		{
			name:     "devices",
			inject:   func(h *harness) { h.devices.AcquireErr = sdktest.ErrInjected },
			target:   new(*domain.DeviceAcquisitionError),
			notCalls: []string{"media.publish"},
			rollback: []string{"media.leave", "messaging.leave", "messaging.logout"},
		},
		{
			name:     "publish",
			inject:   func(h *harness) { h.media.SetPublishErr(sdktest.ErrInjected, nil) },
			target:   new(*domain.PublishError),
			rollback: []string{"media.leave", "messaging.leave", "messaging.logout"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			tc.inject(h)
			c := h.build(t, nil)

			err := c.Join(context.Background())
			require.Error(t, err)
			assert.ErrorAs(t, err, tc.target)
			assert.ErrorIs(t, err, sdktest.ErrInjected)
			assert.Equal(t, StateFailed, c.State())

			for _, name := range tc.notCalls {
				assert.False(t, h.calls.Has(name), "unexpected %s", name)
			}
			for _, name := range tc.rollback {
				assert.True(t, h.calls.Has(name), "missing rollback %s", name)
			}

			texts := systemTexts(h.feed)
			require.Len(t, texts, 1, "exactly one notice per failure")
			assert.NotContains(t, texts[0], "Welcome")
			assert.False(t, c.Layout.Has(c.LocalTile()))
		})
	}
}

func TestJoinPermissionDenied(t *testing.T) {
	h := newHarness(t)
	h.devices.AcquireErr = fmt.Errorf("open camera: %w", domain.ErrPermissionDenied)
	c := h.build(t, nil)

	err := c.Join(context.Background())

	var dae *domain.DeviceAcquisitionError
	require.ErrorAs(t, err, &dae)
	assert.Equal(t, domain.ReasonPermissionDenied, dae.Reason)
	assert.False(t, h.calls.Has("media.publish"))
	assert.Equal(t, StateFailed, c.State())

	texts := systemTexts(h.feed)
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "denied")
}

func TestJoinPartialAcquisitionReleasesMicrophone(t *testing.T) {
	h := newHarness(t)
	h.devices.AudioOnly = true
	c := h.build(t, nil)

	err := c.Join(context.Background())

	var dae *domain.DeviceAcquisitionError
	require.ErrorAs(t, err, &dae)
	assert.Equal(t, domain.ReasonDeviceUnavailable, dae.Reason)
	assert.True(t, h.devices.Audio.Closed())
	assert.Contains(t, systemTexts(h.feed)[0], "busy or unavailable")
}

func TestJoinDisplayNameFailureIsNotFatal(t *testing.T) {
	h := newHarness(t)
	h.msg.NameErr = sdktest.ErrInjected
	c := h.build(t, nil)

	require.NoError(t, c.Join(context.Background()))
	assert.Equal(t, StateJoined, c.State())
	texts := systemTexts(h.feed)
	require.Len(t, texts, 2)
	assert.Contains(t, texts[0], "display name")
	assert.Contains(t, texts[1], "Welcome")
}

func TestRemoteEvents(t *testing.T) {
	h := newHarness(t)
	c := h.build(t, nil)
	require.NoError(t, c.Join(context.Background()))

	h.media.Emit(sdk.ParticipantPublished{ID: "7", Kind: domain.KindVideo})
	h.media.Emit(sdk.ParticipantPublished{ID: "7", Kind: domain.KindAudio})
	h.media.Emit(sdk.ParticipantPublished{ID: "42", Kind: domain.KindVideo})

	require.Eventually(t, func() bool {
		p, ok := c.Remote.Get("7")
		return ok && len(p.Tracks) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, c.Remote.Len(), "own publications are ignored")
	assert.True(t, c.Layout.Has(domain.TileFor("7")))

	require.NoError(t, c.ToggleFocus(domain.TileFor("7")))
	h.media.Emit(sdk.ParticipantLeft{ID: "7"})

	require.Eventually(t, func() bool { return c.Remote.Len() == 0 }, time.Second, 5*time.Millisecond)
	assert.False(t, c.Layout.Has(domain.TileFor("7")))
	_, focused := c.Layout.Focused()
	assert.False(t, focused)
}

func TestSubscribeFailureStaysWithParticipant(t *testing.T) {
	h := newHarness(t)
	c := h.build(t, nil)
	require.NoError(t, c.Join(context.Background()))
	h.media.SetSubscribeErr("7", sdktest.ErrInjected)

	h.media.Emit(sdk.ParticipantPublished{ID: "7", Kind: domain.KindVideo})
	h.media.Emit(sdk.ParticipantPublished{ID: "8", Kind: domain.KindVideo})

	require.Eventually(t, func() bool {
		p, ok := c.Remote.Get("8")
		return ok && len(p.Tracks) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, StateJoined, c.State())
}

func TestConnectionLostNotice(t *testing.T) {
	h := newHarness(t)
	c := h.build(t, nil)
	require.NoError(t, c.Join(context.Background()))

	h.media.Emit(sdk.ConnectionStateChanged{Prev: sdk.StateConnected, Current: sdk.StateReconnecting})
	h.media.Emit(sdk.ConnectionStateChanged{Prev: sdk.StateReconnecting, Current: sdk.StateDisconnected})

	require.Eventually(t, func() bool {
		return len(systemTexts(h.feed)) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Contains(t, systemTexts(h.feed)[1], "connection to the server was lost")
}

func TestLeave(t *testing.T) {
	h := newHarness(t)
	c := h.build(t, nil)
	require.NoError(t, c.Join(context.Background()))
	h.media.Emit(sdk.ParticipantPublished{ID: "7", Kind: domain.KindAudio})
	require.Eventually(t, func() bool { return c.Remote.Len() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, c.Leave(context.Background()))

	assert.Equal(t, StateLeft, c.State())
	assert.True(t, h.devices.Audio.Closed())
	assert.True(t, h.devices.Video.Closed())
	for _, name := range []string{"media.leave", "messaging.leave", "messaging.logout"} {
		assert.Equal(t, 1, h.calls.Count(name), name)
	}
	assert.Zero(t, c.Remote.Len())
	assert.False(t, c.Layout.Has(c.LocalTile()))

	assert.ErrorIs(t, c.Leave(context.Background()), domain.ErrNotJoined)
}

func TestLeaveIsBestEffort(t *testing.T) {
	h := newHarness(t)
	c := h.build(t, nil)
	require.NoError(t, c.Join(context.Background()))
	h.media.LeaveErr = errors.New("room gone")
	h.msg.LeaveErr = errors.New("channel gone")

	err := c.Leave(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "room gone")
	assert.Contains(t, err.Error(), "channel gone")
	assert.True(t, h.calls.Has("messaging.logout"))
	assert.True(t, h.devices.Video.Closed())
	assert.Equal(t, StateLeft, c.State())
}

func TestLeaveWhileSharingClosesScreen(t *testing.T) {
	h := newHarness(t)
	c := h.build(t, nil)
	require.NoError(t, c.Join(context.Background()))
	require.NoError(t, c.ToggleScreen(context.Background()))
	require.True(t, c.Screen.Sharing())

	require.NoError(t, c.Leave(context.Background()))

	assert.True(t, h.devices.Screen.Closed())
	assert.False(t, c.Screen.Sharing())
}

func TestLeaveBeforeJoin(t *testing.T) {
	h := newHarness(t)
	c := h.build(t, nil)
	assert.ErrorIs(t, c.Leave(context.Background()), domain.ErrNotJoined)
	assert.Empty(t, h.calls.List())
}

func TestLeaveAfterFailedJoin(t *testing.T) {
	h := newHarness(t)
	h.media.JoinErr = sdktest.ErrInjected
	c := h.build(t, nil)
	require.Error(t, c.Join(context.Background()))

	assert.NoError(t, c.Leave(context.Background()))
	assert.Equal(t, StateFailed, c.State())
}

// gatedMessaging blocks Login until released.
type gatedMessaging struct {
	*sdktest.Messaging
	entered chan struct{}
	release chan struct{}
}

func (g *gatedMessaging) Login(ctx context.Context, uid domain.ParticipantID, token string) error {
	close(g.entered)
	<-g.release
	return g.Messaging.Login(ctx, uid, token)
}

func TestLeaveDuringJoinWaits(t *testing.T) {
	h := newHarness(t)
	gate := &gatedMessaging{Messaging: h.msg, entered: make(chan struct{}), release: make(chan struct{})}
	c := h.build(t, gate)

	joined := make(chan error, 1)
	go func() { joined <- c.Join(context.Background()) }()
	<-gate.entered
	assert.Equal(t, StateAuthenticating, c.State())

	left := make(chan error, 1)
	go func() { left <- c.Leave(context.Background()) }()

	select {
	case <-left:
		t.Fatal("leave returned before join resolved")
	case <-time.After(20 * time.Millisecond):
	}

	close(gate.release)
	require.NoError(t, <-joined)
	require.NoError(t, <-left)
	assert.Equal(t, StateLeft, c.State())
	assert.True(t, h.calls.Has("messaging.logout"))
}

func TestLeaveDuringJoinHonoursContext(t *testing.T) {
	h := newHarness(t)
	gate := &gatedMessaging{Messaging: h.msg, entered: make(chan struct{}), release: make(chan struct{})}
	c := h.build(t, gate)

	joined := make(chan error, 1)
	go func() { joined <- c.Join(context.Background()) }()
	<-gate.entered

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.Leave(ctx), context.DeadlineExceeded)

	close(gate.release)
	require.NoError(t, <-joined)
	require.NoError(t, c.Leave(context.Background()))
}

func TestToggleMicBeforeJoin(t *testing.T) {
	h := newHarness(t)
	c := h.build(t, nil)

	_, err := c.ToggleMic(context.Background())
	var tue *domain.TrackUnavailableError
	require.ErrorAs(t, err, &tue)
	assert.Contains(t, systemTexts(h.feed)[0], "microphone is not available")
}

func TestToggleCamera(t *testing.T) {
	h := newHarness(t)
	c := h.build(t, nil)
	require.NoError(t, c.Join(context.Background()))

	muted, err := c.ToggleCamera(context.Background())
	require.NoError(t, err)
	assert.False(t, muted)
	assert.False(t, h.devices.Video.Muted())
}

func TestLeaveWhileScreenShareStarting(t *testing.T) {
	h := newHarness(t)
	gate := make(chan struct{})
	h.devices.ScreenGate = gate
	c := h.build(t, nil)
	require.NoError(t, c.Join(context.Background()))

	shared := make(chan error, 1)
	go func() { shared <- c.ToggleScreen(context.Background()) }()
	require.Eventually(t, func() bool { return h.calls.Has("devices.screen") }, time.Second, 5*time.Millisecond)

	require.NoError(t, c.Leave(context.Background()))
	close(gate)

	require.ErrorIs(t, <-shared, domain.ErrNotJoined)
	assert.Equal(t, StateLeft, c.State())
	assert.False(t, c.Screen.Sharing())
	assert.True(t, h.devices.Screen.Closed())
	assert.Zero(t, h.media.PublishedVideo())
	assert.Equal(t, 1, h.calls.Count("media.publish"), "only the join publication")
}

func TestTogglesOutsideJoinedRoom(t *testing.T) {
	h := newHarness(t)
	c := h.build(t, nil)
	require.NoError(t, c.Join(context.Background()))
	require.NoError(t, c.Leave(context.Background()))

	assert.ErrorIs(t, c.ToggleScreen(context.Background()), domain.ErrNotJoined)
	_, err := c.ToggleCamera(context.Background())
	var tue *domain.TrackUnavailableError
	require.ErrorAs(t, err, &tue)
	assert.Equal(t, domain.KindVideo, tue.Kind)
	assert.False(t, h.calls.Has("devices.screen"))
}

// slowMedia holds Subscribe until released, keeping the event loop busy.
type slowMedia struct {
	*sdktest.Media
	entered chan struct{}
	release chan struct{}
}

func (s *slowMedia) Subscribe(ctx context.Context, uid domain.ParticipantID, kind domain.MediaKind) (sdk.RemoteTrack, error) {
	select {
	case s.entered <- struct{}{}:
	default:
	}
	select {
	case <-s.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return s.Media.Subscribe(ctx, uid, kind)
}

func TestDepartureSurvivesFullQueue(t *testing.T) {
	h := newHarness(t)
	slow := &slowMedia{Media: h.media, entered: make(chan struct{}, 1), release: make(chan struct{})}
	c := New(Deps{
		Identity:   domain.Identity{ParticipantID: "42", DisplayName: "Ada", RoomID: "math"},
		Messaging:  h.msg,
		Media:      slow,
		Devices:    h.devices,
		Feed:       h.feed,
		Audio:      sdk.DefaultAudioConstraints(),
		Video:      sdk.DefaultVideoConstraints(),
		EventQueue: 1,
	})
	t.Cleanup(c.Close)
	require.NoError(t, c.Join(context.Background()))

	h.media.Emit(sdk.ParticipantPublished{ID: "7", Kind: domain.KindVideo})
	<-slow.entered
	h.media.Emit(sdk.ParticipantPublished{ID: "8", Kind: domain.KindVideo})
	h.media.Emit(sdk.ParticipantPublished{ID: "9", Kind: domain.KindVideo})
	h.media.Emit(sdk.ParticipantLeft{ID: "7"})
	close(slow.release)

	require.Eventually(t, func() bool {
		_, has8 := c.Remote.Get("8")
		_, has7 := c.Remote.Get("7")
		return has8 && !has7
	}, time.Second, 5*time.Millisecond)
	assert.False(t, c.Layout.Has(domain.TileFor("7")))
	_, has9 := c.Remote.Get("9")
	assert.False(t, has9, "publications beyond the queue are dropped")
}

func TestNetworkQualityIsOnlyLogged(t *testing.T) {
	h := newHarness(t)
	c := h.build(t, nil)
	require.NoError(t, c.Join(context.Background()))

	h.media.Emit(sdk.NetworkQuality{Quality: sdk.QualityPoor, RTT: 300 * time.Millisecond})
	h.media.Emit(sdk.ParticipantPublished{ID: "7", Kind: domain.KindAudio})

	require.Eventually(t, func() bool { return c.Remote.Len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Len(t, systemTexts(h.feed), 1, "only the welcome message")
	assert.Equal(t, StateJoined, c.State())
}
