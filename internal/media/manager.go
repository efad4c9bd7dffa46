// Package media owns the local capture tracks and what is published.
package media

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/classroom/internal/domain"
	"github.com/dkeye/classroom/internal/sdk"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrNoScreenTrack = errors.New("screen source requires a screen track")

type Manager struct {
	devices sdk.Devices
	pub     sdk.Publisher
	audioC  sdk.AudioConstraints
	videoC  sdk.VideoConstraints
	logger  zerolog.Logger

	// audioMu and videoMu serialize mute toggles per track kind.
	audioMu sync.Mutex
	videoMu sync.Mutex

	// srcMu serializes video source transitions.
	srcMu sync.Mutex

	mu     sync.RWMutex
	audio  sdk.LocalTrack
	video  sdk.LocalTrack
	screen sdk.LocalTrack
	source VideoSource
}

func NewManager(devices sdk.Devices, pub sdk.Publisher, a sdk.AudioConstraints, v sdk.VideoConstraints) *Manager {
	return &Manager{
		devices: devices,
		pub:     pub,
		audioC:  a,
		videoC:  v,
		logger:  log.With().Str("module", "media").Logger(),
	}
}

// Acquire captures microphone and camera. Both must succeed; the tracks
// become visible to other callers only once defaults are applied
// (microphone live, camera muted).
func (m *Manager) Acquire(ctx context.Context) error {
	if _, ok := m.Track(domain.KindAudio); ok {
		return nil
	}
	m.logger.Info().Msg("requesting camera and microphone")
	audio, video, err := m.devices.CreateMicrophoneAndCameraTracks(ctx, m.audioC, m.videoC)
	if err != nil {
		closeAll(audio, video)
		dae := domain.ClassifyAcquisition(err)
		m.logger.Error().Err(err).Str("reason", dae.Reason.String()).Msg("acquire tracks")
		return dae
	}
	if audio == nil || video == nil {
		closeAll(audio, video)
		err := &domain.DeviceAcquisitionError{
			Reason: domain.ReasonDeviceUnavailable,
			Err:    errors.New("microphone and camera are both required"),
		}
		m.logger.Error().Err(err).Bool("audio", audio != nil).Bool("video", video != nil).Msg("partial acquisition")
		return err
	}
	if err := audio.SetMuted(ctx, false); err != nil {
		closeAll(audio, video)
		return &domain.DeviceAcquisitionError{Reason: domain.ReasonOther, Err: fmt.Errorf("unmute microphone: %w", err)}
	}
	if err := video.SetMuted(ctx, true); err != nil {
		closeAll(audio, video)
		return &domain.DeviceAcquisitionError{Reason: domain.ReasonOther, Err: fmt.Errorf("mute camera: %w", err)}
	}

	m.mu.Lock()
	m.audio, m.video = audio, video
	m.mu.Unlock()
	m.logger.Info().Msg("camera and microphone acquired, camera muted")
	return nil
}

func closeAll(tracks ...sdk.LocalTrack) {
	for _, t := range tracks {
		if t != nil {
			_ = t.Close()
		}
	}
}

// Track returns the local track of kind, if acquired.
func (m *Manager) Track(kind domain.MediaKind) (sdk.LocalTrack, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var t sdk.LocalTrack
	switch kind {
	case domain.KindAudio:
		t = m.audio
	case domain.KindVideo:
		t = m.video
	}
	return t, t != nil
}

func (m *Manager) Source() VideoSource {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.source
}

func (m *Manager) Screen() sdk.LocalTrack {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.screen
}

func (m *Manager) kindLock(kind domain.MediaKind) *sync.Mutex {
	if kind == domain.KindAudio {
		return &m.audioMu
	}
	return &m.videoMu
}

// ToggleMute flips the muted state of the local track of kind and
// returns the new state.
func (m *Manager) ToggleMute(ctx context.Context, kind domain.MediaKind) (bool, error) {
	if !kind.Valid() {
		return false, &domain.TrackUnavailableError{Kind: kind}
	}
	l := m.kindLock(kind)
	l.Lock()
	defer l.Unlock()

	t, ok := m.Track(kind)
	if !ok {
		return false, &domain.TrackUnavailableError{Kind: kind}
	}
	muted := !t.Muted()
	if err := t.SetMuted(ctx, muted); err != nil {
		return t.Muted(), fmt.Errorf("set %s muted=%t: %w", kind, muted, err)
	}
	m.logger.Info().Str("kind", string(kind)).Bool("muted", muted).Msg("toggled")
	return muted, nil
}

// PublishCamera publishes microphone and camera; the camera becomes the
// active video source.
func (m *Manager) PublishCamera(ctx context.Context) error {
	m.srcMu.Lock()
	defer m.srcMu.Unlock()

	m.mu.RLock()
	audio, video, source := m.audio, m.video, m.source
	m.mu.RUnlock()
	if audio == nil {
		return &domain.TrackUnavailableError{Kind: domain.KindAudio}
	}
	if video == nil {
		return &domain.TrackUnavailableError{Kind: domain.KindVideo}
	}
	if source == SourceScreen {
		return fmt.Errorf("publish camera while sharing: %w", domain.ErrAlreadySharing)
	}
	if err := m.publish(ctx, audio, video); err != nil {
		return err
	}
	m.setSource(SourceCamera, nil)
	return nil
}

// SetVideoSource is the only transition between video sources: the old
// source is unpublished before the new one is published, so the room
// never receives both. screen is required for SourceScreen.
func (m *Manager) SetVideoSource(ctx context.Context, target VideoSource, screen sdk.LocalTrack) error {
	m.srcMu.Lock()
	defer m.srcMu.Unlock()

	m.mu.RLock()
	current, video, oldScreen := m.source, m.video, m.screen
	m.mu.RUnlock()

	if target == current {
		return nil
	}
	var next sdk.LocalTrack
	switch target {
	case SourceCamera:
		if video == nil {
			return &domain.TrackUnavailableError{Kind: domain.KindVideo}
		}
		next = video
	case SourceScreen:
		if screen == nil {
			return ErrNoScreenTrack
		}
		next = screen
	}

	switch current {
	case SourceCamera:
		if err := m.unpublish(ctx, video); err != nil {
			return err
		}
	case SourceScreen:
		if err := m.unpublish(ctx, oldScreen); err != nil {
			return err
		}
	}
	m.setSource(SourceNone, nil)

	if next != nil {
		if err := m.publish(ctx, next); err != nil {
			return err
		}
	}
	if target == SourceScreen {
		m.setSource(target, screen)
	} else {
		m.setSource(target, nil)
	}
	m.logger.Info().Str("from", current.String()).Str("to", target.String()).Msg("video source changed")
	return nil
}

func (m *Manager) setSource(s VideoSource, screen sdk.LocalTrack) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.source = s
	m.screen = screen
}

func (m *Manager) publish(ctx context.Context, tracks ...sdk.LocalTrack) error {
	if err := m.pub.Publish(ctx, tracks...); err != nil {
		m.logger.Error().Err(err).Msg("publish")
		return &domain.PublishError{Op: "publish", Kinds: kinds(tracks), Err: err}
	}
	return nil
}

func (m *Manager) unpublish(ctx context.Context, tracks ...sdk.LocalTrack) error {
	if err := m.pub.Unpublish(ctx, tracks...); err != nil {
		m.logger.Error().Err(err).Msg("unpublish")
		return &domain.PublishError{Op: "unpublish", Kinds: kinds(tracks), Err: err}
	}
	return nil
}

func kinds(tracks []sdk.LocalTrack) []domain.MediaKind {
	out := make([]domain.MediaKind, 0, len(tracks))
	for _, t := range tracks {
		out = append(out, t.Kind())
	}
	return out
}

// Release stops and closes every local track, including an active
// screen track. It always runs to the end and reports what failed.
func (m *Manager) Release() error {
	m.srcMu.Lock()
	defer m.srcMu.Unlock()

	m.mu.Lock()
	tracks := []sdk.LocalTrack{m.audio, m.video, m.screen}
	m.audio, m.video, m.screen = nil, nil, nil
	m.source = SourceNone
	m.mu.Unlock()

	var errs []error
	for _, t := range tracks {
		if t == nil {
			continue
		}
		t.Stop()
		if err := t.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s track: %w", t.Kind(), err))
		}
	}
	if len(errs) == 0 {
		m.logger.Info().Msg("local tracks released")
	}
	return errors.Join(errs...)
}
