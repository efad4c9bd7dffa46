// Package screenshare swaps the published video between camera and screen.
package screenshare

import (
	"context"
	"sync"

	"github.com/dkeye/classroom/internal/domain"
	"github.com/dkeye/classroom/internal/media"
	"github.com/dkeye/classroom/internal/sdk"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Notifier interface {
	Errorf(format string, args ...any)
}

// Stage is the part of the layout the coordinator drives: the shared
// screen takes the focus slot while sharing.
type Stage interface {
	Focus(tile domain.TileID) error
	Focused() (domain.TileID, bool)
	Unfocus()
}

type state int

const (
	idle state = iota
	starting
	sharing
	stopping
)

type Coordinator struct {
	devices sdk.Devices
	tracks  *media.Manager
	stage   Stage
	notify  Notifier
	local   domain.TileID
	logger  zerolog.Logger

	// op serialises the publish phase of Start and Stop with Release.
	op sync.Mutex

	mu       sync.Mutex
	state    state
	released bool
	// prevFocus is the tile that held the focus slot before sharing.
	prevFocus domain.TileID
}

func NewCoordinator(devices sdk.Devices, tracks *media.Manager, stage Stage, notify Notifier, local domain.TileID) *Coordinator {
	return &Coordinator{
		devices: devices,
		tracks:  tracks,
		stage:   stage,
		notify:  notify,
		local:   local,
		logger:  log.With().Str("module", "screenshare").Logger(),
	}
}

// Sharing reports whether a share is active or being started.
func (c *Coordinator) Sharing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == starting || c.state == sharing
}

func (c *Coordinator) setState(s state) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Coordinator) Toggle(ctx context.Context) error {
	if c.Sharing() {
		return c.Stop(ctx)
	}
	return c.Start(ctx)
}

// Start captures the screen and publishes it in place of the camera.
// Any failure leaves the camera publication as it was.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return domain.ErrNotJoined
	}
	if c.state != idle {
		c.mu.Unlock()
		return domain.ErrAlreadySharing
	}
	c.state = starting
	c.mu.Unlock()

	// the picker may block for a long time, so op is not held here
	screen, err := c.devices.CreateScreenTrack(ctx)

	c.op.Lock()
	defer c.op.Unlock()
	c.mu.Lock()
	released := c.released
	c.mu.Unlock()
	if released {
		if screen != nil {
			_ = screen.Close()
		}
		c.logger.Info().Msg("session left while the screen share was starting")
		return domain.ErrNotJoined
	}
	if err != nil {
		c.setState(idle)
		dae := domain.ClassifyAcquisition(err)
		c.logger.Error().Err(err).Str("reason", dae.Reason.String()).Msg("create screen track")
		if dae.Reason == domain.ReasonPermissionDenied {
			c.notify.Errorf("screen sharing permission was denied")
		} else {
			c.notify.Errorf("could not start screen sharing")
		}
		return dae
	}

	if err := c.tracks.SetVideoSource(ctx, media.SourceScreen, screen); err != nil {
		c.logger.Error().Err(err).Msg("publish screen")
		c.notify.Errorf("could not publish the shared screen")
		_ = screen.Close()
		c.restoreCamera(ctx)
		c.setState(idle)
		return err
	}

	prev, ok := c.stage.Focused()
	if !ok || prev == c.local {
		prev = ""
	}
	if err := c.stage.Focus(c.local); err != nil {
		c.logger.Warn().Err(err).Msg("focus shared screen")
	}
	c.mu.Lock()
	c.state = sharing
	c.prevFocus = prev
	c.mu.Unlock()
	c.logger.Info().Msg("screen sharing started")
	return nil
}

// restoreCamera puts the camera back when a failed switch left no video
// source published.
func (c *Coordinator) restoreCamera(ctx context.Context) {
	if c.tracks.Source() != media.SourceNone {
		return
	}
	if err := c.tracks.SetVideoSource(ctx, media.SourceCamera, nil); err != nil {
		c.logger.Error().Err(err).Msg("republish camera")
	}
}

// Stop unpublishes the screen, releases it and republishes the camera.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.op.Lock()
	defer c.op.Unlock()
	c.mu.Lock()
	if c.state != sharing {
		c.mu.Unlock()
		return domain.ErrNotSharing
	}
	c.state = stopping
	prev := c.prevFocus
	c.prevFocus = ""
	c.mu.Unlock()

	screen := c.tracks.Screen()
	err := c.tracks.SetVideoSource(ctx, media.SourceCamera, nil)
	if err != nil && c.tracks.Source() == media.SourceScreen {
		// nothing changed, the screen is still out there
		c.logger.Error().Err(err).Msg("unpublish screen")
		c.notify.Errorf("could not stop screen sharing")
		c.setState(sharing)
		return err
	}
	if screen != nil {
		screen.Stop()
		if cerr := screen.Close(); cerr != nil {
			c.logger.Warn().Err(cerr).Msg("close screen track")
		}
	}
	if tile, ok := c.stage.Focused(); ok && tile == c.local {
		c.restoreFocus(prev)
	}
	c.setState(idle)
	if err != nil {
		c.logger.Error().Err(err).Msg("republish camera")
		c.notify.Errorf("could not publish the camera again")
		return err
	}
	c.logger.Info().Msg("screen sharing stopped")
	return nil
}

// restoreFocus hands the focus slot back to the tile that held it before
// the share, or empties it when that tile is gone.
func (c *Coordinator) restoreFocus(prev domain.TileID) {
	if prev != "" {
		if err := c.stage.Focus(prev); err == nil {
			return
		}
		c.logger.Debug().Str("tile", string(prev)).Msg("previous focus is gone")
	}
	c.stage.Unfocus()
}

// Release forgets the share and refuses further ones; the track manager
// closes the published screen track. A Start still waiting on the screen
// picker closes its own track once the picker returns.
func (c *Coordinator) Release() {
	c.op.Lock()
	defer c.op.Unlock()
	c.mu.Lock()
	c.released = true
	c.state = idle
	c.prevFocus = ""
	c.mu.Unlock()
}
