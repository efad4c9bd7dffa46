package pionclient

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/classroom/internal/adapters/rtc"
	"github.com/dkeye/classroom/internal/adapters/signal"
	"github.com/dkeye/classroom/internal/adapters/wsclient"
	"github.com/dkeye/classroom/internal/app"
	"github.com/dkeye/classroom/internal/app/orch"
	"github.com/dkeye/classroom/internal/app/sfu"
	"github.com/dkeye/classroom/internal/domain"
	"github.com/dkeye/classroom/internal/sdk"
	"github.com/dkeye/classroom/internal/sdk/sdktest"
	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRoomServer(t *testing.T) string {
	t.Helper()
	gin.SetMode(gin.TestMode)
	o := &orch.Orchestrator{
		Registry: app.NewRegistry(),
		Rooms:    app.NewRoomManager(),
		Policy:   app.TolerantPolicy{},
		Relays:   sfu.NewRelayManager(),
	}
	api, err := rtc.NewAPI(rtc.NewLoggerFactory(zerolog.Nop()), rtc.IncludeLoopback)
	require.NoError(t, err)
	ctl := signal.NewSignalWSController(o, api, webrtc.Configuration{}, nil, signal.Options{})

	ctx, cancel := context.WithCancel(context.Background())
	r := gin.New()
	r.GET("/ws", func(c *gin.Context) { ctl.HandleSignal(ctx, c) })
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

type recorder struct {
	mu     sync.Mutex
	events []sdk.Event
}

func (r *recorder) add(ev sdk.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) has(want sdk.Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev == want {
			return true
		}
	}
	return false
}

func (r *recorder) quality() (sdk.NetworkQuality, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if q, ok := ev.(sdk.NetworkQuality); ok {
			return q, true
		}
	}
	return sdk.NetworkQuality{}, false
}

type participant struct {
	client *Client
	events *recorder
}

func connect(t *testing.T, url string, uid domain.ParticipantID) *participant {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := wsclient.Dial(ctx, url, wsclient.Options{RequestTimeout: 5 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, wsclient.NewMessaging(conn).Login(ctx, uid, ""))

	api, err := rtc.NewAPI(rtc.NewLoggerFactory(zerolog.Nop()), rtc.IncludeLoopback)
	require.NoError(t, err)
	c := New(conn, api, webrtc.Configuration{})
	rec := &recorder{}
	c.OnEvent(rec.add)
	return &participant{client: c, events: rec}
}

func (p *participant) join(t *testing.T, uid domain.ParticipantID) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, p.client.Join(ctx, "math", "", uid))
	t.Cleanup(func() { _ = p.client.Leave(context.Background()) })
}

func TestConnectionStateMapping(t *testing.T) {
	tests := map[webrtc.PeerConnectionState]sdk.ConnectionState{
		webrtc.PeerConnectionStateNew:          sdk.StateConnecting,
		webrtc.PeerConnectionStateConnecting:   sdk.StateConnecting,
		webrtc.PeerConnectionStateConnected:    sdk.StateConnected,
		webrtc.PeerConnectionStateDisconnected: sdk.StateReconnecting,
		webrtc.PeerConnectionStateFailed:       sdk.StateDisconnected,
		webrtc.PeerConnectionStateClosed:       sdk.StateDisconnected,
	}
	for in, want := range tests {
		assert.Equal(t, want, connectionState(in), in.String())
	}
}

func TestNotJoined(t *testing.T) {
	url := newRoomServer(t)
	p := connect(t, url, "7")
	ctx := context.Background()

	_, err := p.client.Subscribe(ctx, "8", domain.KindVideo)
	assert.ErrorIs(t, err, domain.ErrNotJoined)

	err = p.client.Publish(ctx, sdktest.NewTrack(domain.KindAudio, "mic"))
	assert.ErrorIs(t, err, ErrForeignTrack)

	assert.NoError(t, p.client.Leave(ctx))
}

func TestJoinRejectedResets(t *testing.T) {
	url := newRoomServer(t)
	conn, err := wsclient.Dial(context.Background(), url, wsclient.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	api, err := rtc.NewAPI(rtc.NewLoggerFactory(zerolog.Nop()))
	require.NoError(t, err)
	c := New(conn, api, webrtc.Configuration{})

	// not logged in
	err = c.Join(context.Background(), "math", "", "7")
	var reqErr *wsclient.RequestError
	require.ErrorAs(t, err, &reqErr)

	_, err = c.Subscribe(context.Background(), "8", domain.KindAudio)
	assert.ErrorIs(t, err, domain.ErrNotJoined)
}

func TestPublishReachesRoommate(t *testing.T) {
	url := newRoomServer(t)
	alice := connect(t, url, "alice")
	bob := connect(t, url, "bob")
	alice.join(t, "alice")
	bob.join(t, "bob")
	ctx := context.Background()

	dir := t.TempDir()
	devices := NewFileDevices(writeOgg(t, dir, 50), writeIVF(t, dir, 640, 480, 30), "")
	audio, video, err := devices.CreateMicrophoneAndCameraTracks(ctx, sdk.DefaultAudioConstraints(), sdk.DefaultVideoConstraints())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = audio.Close()
		_ = video.Close()
	})

	require.NoError(t, alice.client.Publish(ctx, video))

	require.Eventually(t, func() bool {
		return bob.events.has(sdk.ParticipantPublished{ID: "alice", Kind: domain.KindVideo})
	}, 15*time.Second, 50*time.Millisecond)

	sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	remote, err := bob.client.Subscribe(sctx, "alice", domain.KindVideo)
	require.NoError(t, err)
	assert.Equal(t, domain.ParticipantID("alice"), remote.Participant())
	assert.Equal(t, webrtc.MimeTypeVP8, remote.MimeType())

	got := make(chan error, 1)
	go func() {
		_, err := remote.ReadRTP()
		got <- err
	}()
	select {
	case err := <-got:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("no forwarded packet")
	}

	require.Eventually(t, func() bool {
		return bob.events.has(sdk.ConnectionStateChanged{Prev: sdk.StateConnecting, Current: sdk.StateConnected})
	}, 10*time.Second, 50*time.Millisecond)

	require.NoError(t, alice.client.Leave(ctx))
	require.Eventually(t, func() bool {
		return bob.events.has(sdk.ParticipantLeft{ID: "alice"})
	}, 5*time.Second, 50*time.Millisecond)
}

func TestSampleQualityWithoutLink(t *testing.T) {
	api, err := rtc.NewAPI(nil)
	require.NoError(t, err)
	pc, err := api.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	defer func() { _ = pc.Close() }()

	q, rtt := sampleQuality(pc)
	assert.Equal(t, sdk.QualityUnknown, q)
	assert.Zero(t, rtt)
}

func TestLinkQualityIsReported(t *testing.T) {
	url := newRoomServer(t)
	p := connect(t, url, "carol")
	p.client.QualityInterval = 50 * time.Millisecond
	p.join(t, "carol")

	var q sdk.NetworkQuality
	require.Eventually(t, func() bool {
		var ok bool
		q, ok = p.events.quality()
		return ok
	}, 15*time.Second, 50*time.Millisecond)
	assert.Equal(t, sdk.QualityExcellent, q.Quality, "loopback round trip")
	assert.Positive(t, q.RTT)

	require.NoError(t, p.client.Leave(context.Background()))
}
