// Package session drives one participant through a room: messaging login,
// channel and media join, local media, remote participants and leave.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/classroom/internal/domain"
	"github.com/dkeye/classroom/internal/feed"
	"github.com/dkeye/classroom/internal/layout"
	"github.com/dkeye/classroom/internal/media"
	"github.com/dkeye/classroom/internal/participants"
	"github.com/dkeye/classroom/internal/screenshare"
	"github.com/dkeye/classroom/internal/sdk"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const defaultEventQueue = 256

type Deps struct {
	Identity  domain.Identity
	Token     string
	Messaging sdk.Messaging
	Media     sdk.MediaClient
	Devices   sdk.Devices
	Feed      *feed.Feed
	Renderer  participants.Renderer
	Audio     sdk.AudioConstraints
	Video     sdk.VideoConstraints
	// EventQueue bounds pending room notifications; 0 means the default.
	EventQueue int
}

type Controller struct {
	id      domain.Identity
	token   string
	msg     sdk.Messaging
	media   sdk.MediaClient
	devices sdk.Devices
	feed    *feed.Feed
	logger  zerolog.Logger

	Tracks *media.Manager
	Screen *screenshare.Coordinator
	Remote *participants.Registry
	Layout *layout.Presenter

	mu       sync.Mutex
	state    State
	joinDone chan struct{}
	progress progress

	events chan sdk.Event
	// overflow keeps departures that arrived while events was full, in
	// arrival order; wake tells the loop it is not empty.
	qmu        sync.Mutex
	overflow   []sdk.Event
	wake       chan struct{}
	loopCancel context.CancelFunc
	loopDone   chan struct{}
}

// progress records which join steps completed, for rollback.
type progress struct {
	loggedIn    bool
	inChannel   bool
	inMedia     bool
	acquired    bool
	tileCreated bool
}

func New(d Deps) *Controller {
	if d.Feed == nil {
		d.Feed = feed.New()
	}
	if d.Renderer == nil {
		d.Renderer = participants.DiscardRenderer{}
	}
	queue := d.EventQueue
	if queue <= 0 {
		queue = defaultEventQueue
	}
	stage := layout.NewPresenter()
	tracks := media.NewManager(d.Devices, d.Media, d.Audio, d.Video)
	c := &Controller{
		id:      d.Identity,
		token:   d.Token,
		msg:     d.Messaging,
		media:   d.Media,
		devices: d.Devices,
		feed:    d.Feed,
		logger: log.With().
			Str("module", "session").
			Str("uid", string(d.Identity.ParticipantID)).
			Str("room", string(d.Identity.RoomID)).
			Logger(),
		Tracks:   tracks,
		Layout:   stage,
		Screen:   screenshare.NewCoordinator(d.Devices, tracks, stage, d.Feed, domain.TileFor(d.Identity.ParticipantID)),
		Remote:   participants.NewRegistry(d.Media, stage, d.Renderer, d.Feed),
		joinDone: make(chan struct{}),
		events:   make(chan sdk.Event, queue),
		wake:     make(chan struct{}, 1),
	}
	return c
}

func (c *Controller) Identity() domain.Identity { return c.id }
func (c *Controller) Feed() *feed.Feed          { return c.feed }

func (c *Controller) LocalTile() domain.TileID {
	return domain.TileFor(c.id.ParticipantID)
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()
	c.logger.Info().Str("from", prev.String()).Str("to", s.String()).Msg("state")
}

func (c *Controller) mark(fn func(p *progress)) {
	c.mu.Lock()
	fn(&c.progress)
	c.mu.Unlock()
}

// Join runs the join sequence. Each step runs only if the previous one
// succeeded; the first failure is reported once in the feed, undoes
// what was done and leaves the controller Failed.
func (c *Controller) Join(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle {
		st := c.state
		c.mu.Unlock()
		return fmt.Errorf("join from %s: %w", st, domain.ErrInvalidState)
	}
	c.state = StateAuthenticating
	c.mu.Unlock()
	c.logger.Info().Msg("joining room")

	err := c.join(ctx)

	if err != nil {
		c.rollback(context.WithoutCancel(ctx))
		c.setState(StateFailed)
	} else {
		c.setState(StateJoined)
		c.feed.System(fmt.Sprintf("Welcome to the class, %s! 👋", c.id.DisplayName))
	}
	close(c.joinDone)
	return err
}

func (c *Controller) join(ctx context.Context) error {
	uid, room := c.id.ParticipantID, c.id.RoomID

	if err := c.msg.Login(ctx, uid, c.token); err != nil {
		return c.fail(&domain.AuthenticationError{Step: "login", Err: err}, "could not log in to the messaging service")
	}
	c.mark(func(p *progress) { p.loggedIn = true })

	if err := c.msg.SetDisplayName(ctx, c.id.DisplayName); err != nil {
		c.logger.Warn().Err(err).Msg("set display name")
		c.feed.Errorf("could not set the display name")
	}

	if err := c.msg.JoinChannel(ctx, room); err != nil {
		return c.fail(&domain.AuthenticationError{Step: "channel join", Err: err}, "could not join channel %s", room)
	}
	c.mark(func(p *progress) { p.inChannel = true })
	c.logger.Info().Msg("joined messaging channel")

	c.setState(StateJoiningMedia)
	c.startLoop()
	c.media.OnEvent(c.enqueue)
	if err := c.media.Join(ctx, room, c.token, uid); err != nil {
		return c.fail(&domain.MediaJoinError{Room: room, Err: err}, "could not join the media room")
	}
	c.mark(func(p *progress) { p.inMedia = true })
	c.logger.Info().Msg("joined media room")

	c.checkDevices(ctx)
	if err := c.Tracks.Acquire(ctx); err != nil {
		var dae *domain.DeviceAcquisitionError
		if errors.As(err, &dae) {
			switch dae.Reason {
			case domain.ReasonPermissionDenied:
				return c.fail(err, "access to the camera or microphone was denied, check the permissions")
			case domain.ReasonDeviceUnavailable:
				return c.fail(err, "the camera or microphone is busy or unavailable")
			}
		}
		return c.fail(err, "could not create audio and video tracks")
	}
	c.mark(func(p *progress) { p.acquired = true })

	c.Layout.Add(c.LocalTile())
	c.mark(func(p *progress) { p.tileCreated = true })

	if err := c.Tracks.PublishCamera(ctx); err != nil {
		return c.fail(err, "could not publish local media")
	}
	c.logger.Info().Msg("local media published")
	return nil
}

// checkDevices only warns; acquisition reports the real failure.
func (c *Controller) checkDevices(ctx context.Context) {
	devices, err := c.devices.Enumerate(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("enumerate devices")
		return
	}
	var audio, video bool
	for _, d := range devices {
		switch d.Kind {
		case sdk.DeviceAudioInput:
			audio = true
		case sdk.DeviceVideoInput:
			video = true
		}
		if d.Label == "" {
			c.logger.Warn().Str("device", d.ID).Msg("device has no label, permission not granted yet?")
		}
	}
	if !audio {
		c.logger.Warn().Msg("no microphone detected")
	}
	if !video {
		c.logger.Warn().Msg("no camera detected")
	}
}

func (c *Controller) fail(err error, format string, args ...any) error {
	c.logger.Error().Err(err).Msg("join failed")
	c.feed.Errorf(format, args...)
	return err
}

// rollback undoes completed join steps in reverse order, best effort.
func (c *Controller) rollback(ctx context.Context) {
	c.mu.Lock()
	p := c.progress
	c.progress = progress{}
	c.mu.Unlock()

	if p.acquired {
		if err := c.Tracks.Release(); err != nil {
			c.logger.Warn().Err(err).Msg("rollback: release tracks")
		}
	}
	if p.tileCreated {
		c.Layout.Remove(c.LocalTile())
	}
	if p.inMedia {
		if err := c.media.Leave(ctx); err != nil {
			c.logger.Warn().Err(err).Msg("rollback: leave media")
		}
	}
	c.stopLoop()
	if p.inChannel {
		if err := c.msg.LeaveChannel(ctx); err != nil {
			c.logger.Warn().Err(err).Msg("rollback: leave channel")
		}
	}
	if p.loggedIn {
		if err := c.msg.Logout(ctx); err != nil {
			c.logger.Warn().Err(err).Msg("rollback: logout")
		}
	}
}

// Leave releases local media and leaves the media room and the channel.
// Every step runs even if an earlier one fails; the controller ends Left
// and the returned error joins the step failures. A leave requested
// during join waits for the join to resolve first.
func (c *Controller) Leave(ctx context.Context) error {
	c.mu.Lock()
	st, done := c.state, c.joinDone
	c.mu.Unlock()

	if st.joining() {
		c.logger.Info().Msg("leave requested during join, waiting")
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	c.mu.Lock()
	switch c.state {
	case StateJoined:
		c.state = StateLeaving
	case StateFailed:
		c.mu.Unlock()
		return nil
	default:
		st := c.state
		c.mu.Unlock()
		return fmt.Errorf("leave from %s: %w", st, domain.ErrNotJoined)
	}
	c.progress = progress{}
	c.mu.Unlock()
	c.logger.Info().Msg("leaving room")

	var errs []error
	c.Screen.Release()
	if err := c.Tracks.Release(); err != nil {
		errs = append(errs, err)
	}
	if err := c.media.Leave(ctx); err != nil {
		errs = append(errs, fmt.Errorf("leave media room: %w", err))
	}
	c.stopLoop()
	if err := c.msg.LeaveChannel(ctx); err != nil {
		errs = append(errs, fmt.Errorf("leave channel: %w", err))
	}
	if err := c.msg.Logout(ctx); err != nil {
		errs = append(errs, fmt.Errorf("logout: %w", err))
	}
	c.Remote.Clear()
	c.Layout.Remove(c.LocalTile())

	c.setState(StateLeft)
	err := errors.Join(errs...)
	if err != nil {
		c.logger.Error().Err(err).Msg("leave finished with errors")
		c.feed.Errorf("something went wrong while leaving the room")
	} else {
		c.logger.Info().Msg("left room")
	}
	return err
}

// Close disposes the controller. It does not talk to the network.
func (c *Controller) Close() {
	c.stopLoop()
	c.Screen.Release()
	if err := c.Tracks.Release(); err != nil {
		c.logger.Warn().Err(err).Msg("close: release tracks")
	}
}

func (c *Controller) ToggleMic(ctx context.Context) (bool, error) {
	return c.toggle(ctx, domain.KindAudio, "microphone")
}

func (c *Controller) ToggleCamera(ctx context.Context) (bool, error) {
	return c.toggle(ctx, domain.KindVideo, "camera")
}

func (c *Controller) toggle(ctx context.Context, kind domain.MediaKind, label string) (bool, error) {
	if st := c.State(); st != StateJoined {
		c.feed.Errorf("the %s is not available", label)
		return false, fmt.Errorf("toggle %s from %s: %w", label, st, &domain.TrackUnavailableError{Kind: kind})
	}
	muted, err := c.Tracks.ToggleMute(ctx, kind)
	if err != nil {
		var tue *domain.TrackUnavailableError
		if errors.As(err, &tue) {
			c.feed.Errorf("the %s is not available", label)
		} else {
			c.feed.Errorf("could not switch the %s", label)
		}
		return muted, err
	}
	return muted, nil
}

func (c *Controller) ToggleScreen(ctx context.Context) error {
	if st := c.State(); st != StateJoined {
		return fmt.Errorf("screen share from %s: %w", st, domain.ErrNotJoined)
	}
	return c.Screen.Toggle(ctx)
}

// ToggleFocus is the tile click handler.
func (c *Controller) ToggleFocus(tile domain.TileID) error {
	return c.Layout.Toggle(tile)
}
