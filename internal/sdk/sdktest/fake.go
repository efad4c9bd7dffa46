// Package sdktest provides in-memory fakes of the sdk capabilities.
package sdktest

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/dkeye/classroom/internal/domain"
	"github.com/dkeye/classroom/internal/sdk"
	"github.com/pion/rtp"
)

var ErrInjected = errors.New("injected failure")

// Calls is an ordered log of SDK calls shared between fakes.
type Calls struct {
	mu   sync.Mutex
	list []string
}

func (c *Calls) Record(name string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.list = append(c.list, name)
}

func (c *Calls) List() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.list)
}

func (c *Calls) Count(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, s := range c.list {
		if s == name {
			n++
		}
	}
	return n
}

func (c *Calls) Has(name string) bool { return c.Count(name) > 0 }

// Track is a fake local capture track.
type Track struct {
	kind  domain.MediaKind
	label string

	mu          sync.Mutex
	muted       bool
	stopped     bool
	closed      bool
	SetMutedErr error
	CloseErr    error
}

func NewTrack(kind domain.MediaKind, label string) *Track {
	return &Track{kind: kind, label: label}
}

func (t *Track) Kind() domain.MediaKind { return t.kind }
func (t *Track) Label() string          { return t.label }

func (t *Track) Muted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.muted
}

func (t *Track) SetMuted(_ context.Context, muted bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.SetMutedErr != nil {
		return t.SetMutedErr
	}
	t.muted = muted
	return nil
}

func (t *Track) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
}

func (t *Track) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	t.closed = true
	return t.CloseErr
}

func (t *Track) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Devices hands out preconfigured tracks.
type Devices struct {
	Calls *Calls

	mu         sync.Mutex
	Audio      *Track
	Video      *Track
	Screen     *Track
	AcquireErr error
	ScreenErr  error
	// AudioOnly makes acquisition return a nil camera track.
	AudioOnly bool
	// ScreenGate, when set, holds screen capture until it is closed.
	ScreenGate chan struct{}
	Infos      []sdk.DeviceInfo

	LastAudio sdk.AudioConstraints
	LastVideo sdk.VideoConstraints
}

func NewDevices(calls *Calls) *Devices {
	return &Devices{
		Calls:  calls,
		Audio:  NewTrack(domain.KindAudio, "mic"),
		Video:  NewTrack(domain.KindVideo, "camera"),
		Screen: NewTrack(domain.KindVideo, "screen"),
		Infos: []sdk.DeviceInfo{
			{ID: "mic", Kind: sdk.DeviceAudioInput, Label: "Microphone"},
			{ID: "cam", Kind: sdk.DeviceVideoInput, Label: "Camera"},
		},
	}
}

func (d *Devices) Enumerate(context.Context) ([]sdk.DeviceInfo, error) {
	d.Calls.Record("devices.enumerate")
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.Infos), nil
}

func (d *Devices) CreateMicrophoneAndCameraTracks(_ context.Context, a sdk.AudioConstraints, v sdk.VideoConstraints) (sdk.LocalTrack, sdk.LocalTrack, error) {
	d.Calls.Record("devices.acquire")
	d.mu.Lock()
	defer d.mu.Unlock()
	d.LastAudio, d.LastVideo = a, v
	if d.AcquireErr != nil {
		return nil, nil, d.AcquireErr
	}
	if d.AudioOnly {
		return d.Audio, nil, nil
	}
	return d.Audio, d.Video, nil
}

// SetScreen replaces the track handed out by the next screen capture.
func (d *Devices) SetScreen(t *Track, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Screen, d.ScreenErr = t, err
}

func (d *Devices) CreateScreenTrack(ctx context.Context) (sdk.LocalTrack, error) {
	d.Calls.Record("devices.screen")
	d.mu.Lock()
	gate := d.ScreenGate
	d.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ScreenErr != nil {
		return nil, d.ScreenErr
	}
	return d.Screen, nil
}

// Messaging records calls and fails on demand.
type Messaging struct {
	Calls *Calls

	LoginErr   error
	NameErr    error
	JoinErr    error
	LeaveErr   error
	LogoutErr  error
	LastToken  string
	LastRoom   domain.RoomID
	LastUserID domain.ParticipantID
}

func (m *Messaging) Login(_ context.Context, uid domain.ParticipantID, token string) error {
	m.Calls.Record("messaging.login")
	m.LastUserID, m.LastToken = uid, token
	return m.LoginErr
}

func (m *Messaging) SetDisplayName(context.Context, string) error {
	m.Calls.Record("messaging.name")
	return m.NameErr
}

func (m *Messaging) JoinChannel(_ context.Context, room domain.RoomID) error {
	m.Calls.Record("messaging.join")
	m.LastRoom = room
	return m.JoinErr
}

func (m *Messaging) LeaveChannel(context.Context) error {
	m.Calls.Record("messaging.leave")
	return m.LeaveErr
}

func (m *Messaging) Logout(context.Context) error {
	m.Calls.Record("messaging.logout")
	return m.LogoutErr
}

// Remote is a fake subscribed track that yields no packets.
type Remote struct {
	ID        domain.ParticipantID
	TrackKind domain.MediaKind
}

func (r *Remote) Participant() domain.ParticipantID { return r.ID }
func (r *Remote) Kind() domain.MediaKind            { return r.TrackKind }
func (r *Remote) MimeType() string {
	if r.TrackKind == domain.KindAudio {
		return "audio/opus"
	}
	return "video/VP8"
}
func (r *Remote) ReadRTP() (*rtp.Packet, error) { return nil, errors.New("fake remote track") }

// Media is a fake media room. It keeps the currently published set so
// tests can check what the room would see.
type Media struct {
	Calls *Calls

	mu           sync.Mutex
	JoinErr      error
	LeaveErr     error
	PublishErr   error
	UnpublishErr error
	SubscribeErr map[domain.ParticipantID]error
	published    []sdk.LocalTrack
	handler      func(sdk.Event)
	subscribed   []string
}

func NewMedia(calls *Calls) *Media {
	return &Media{Calls: calls, SubscribeErr: make(map[domain.ParticipantID]error)}
}

func (m *Media) Join(context.Context, domain.RoomID, string, domain.ParticipantID) error {
	m.Calls.Record("media.join")
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.JoinErr
}

func (m *Media) Leave(context.Context) error {
	m.Calls.Record("media.leave")
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = nil
	return m.LeaveErr
}

func (m *Media) SetPublishErr(pub, unpub error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PublishErr, m.UnpublishErr = pub, unpub
}

func (m *Media) Publish(_ context.Context, tracks ...sdk.LocalTrack) error {
	m.Calls.Record("media.publish")
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PublishErr != nil {
		return m.PublishErr
	}
	for _, t := range tracks {
		if !slices.Contains(m.published, t) {
			m.published = append(m.published, t)
		}
	}
	return nil
}

func (m *Media) Unpublish(_ context.Context, tracks ...sdk.LocalTrack) error {
	m.Calls.Record("media.unpublish")
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UnpublishErr != nil {
		return m.UnpublishErr
	}
	m.published = slices.DeleteFunc(m.published, func(t sdk.LocalTrack) bool {
		return slices.Contains(tracks, t)
	})
	return nil
}

// Published returns the tracks currently published.
func (m *Media) Published() []sdk.LocalTrack {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.published)
}

// PublishedVideo counts published tracks of kind video.
func (m *Media) PublishedVideo() int {
	n := 0
	for _, t := range m.Published() {
		if t.Kind() == domain.KindVideo {
			n++
		}
	}
	return n
}

func (m *Media) SetSubscribeErr(id domain.ParticipantID, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SubscribeErr[id] = err
}

func (m *Media) Subscribe(_ context.Context, uid domain.ParticipantID, kind domain.MediaKind) (sdk.RemoteTrack, error) {
	m.Calls.Record("media.subscribe")
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.SubscribeErr[uid]; err != nil {
		return nil, err
	}
	m.subscribed = append(m.subscribed, fmt.Sprintf("%s/%s", uid, kind))
	return &Remote{ID: uid, TrackKind: kind}, nil
}

func (m *Media) Subscribed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.subscribed)
}

func (m *Media) OnEvent(fn func(sdk.Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = fn
}

// Emit delivers an event to the registered handler, if any.
func (m *Media) Emit(ev sdk.Event) {
	m.mu.Lock()
	fn := m.handler
	m.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}
