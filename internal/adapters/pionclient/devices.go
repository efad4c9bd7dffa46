// Package pionclient implements the room media capabilities over pion:
// file-backed capture devices and a PeerConnection that answers the
// room server's offers.
package pionclient

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/dkeye/classroom/internal/domain"
	"github.com/dkeye/classroom/internal/sdk"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrOverconstrained = errors.New("capture does not satisfy constraints")
	ErrUnsupportedFile = errors.New("unsupported capture file")
)

// FileDevices stands in for a microphone, a camera and a screen picker:
// an Ogg/Opus file, an IVF/VP8 file and an optional IVF/VP8 file. An
// empty screen path behaves like a dismissed picker.
type FileDevices struct {
	AudioFile  string
	VideoFile  string
	ScreenFile string

	logger zerolog.Logger

	mu   sync.Mutex
	open map[string]bool
}

func NewFileDevices(audio, video, screen string) *FileDevices {
	return &FileDevices{
		AudioFile:  audio,
		VideoFile:  video,
		ScreenFile: screen,
		logger:     log.With().Str("module", "pionclient.devices").Logger(),
		open:       make(map[string]bool),
	}
}

func (d *FileDevices) Enumerate(ctx context.Context) ([]sdk.DeviceInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []sdk.DeviceInfo
	for _, dev := range []struct{ path, kind, label string }{
		{d.AudioFile, sdk.DeviceAudioInput, "file microphone"},
		{d.VideoFile, sdk.DeviceVideoInput, "file camera"},
	} {
		if dev.path == "" {
			continue
		}
		if _, err := os.Stat(dev.path); err != nil {
			continue
		}
		out = append(out, sdk.DeviceInfo{ID: dev.path, Kind: dev.kind, Label: fmt.Sprintf("%s (%s)", dev.label, filepath.Base(dev.path))})
	}
	return out, nil
}

// CreateMicrophoneAndCameraTracks opens both files or neither.
func (d *FileDevices) CreateMicrophoneAndCameraTracks(ctx context.Context, a sdk.AudioConstraints, v sdk.VideoConstraints) (sdk.LocalTrack, sdk.LocalTrack, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	audio, err := d.openAudio(d.AudioFile)
	if err != nil {
		return nil, nil, fmt.Errorf("microphone: %w", err)
	}
	video, err := d.openVideo(d.VideoFile, "camera", &v)
	if err != nil {
		_ = audio.Close()
		return nil, nil, fmt.Errorf("camera: %w", err)
	}
	d.logger.Info().Str("audio", d.AudioFile).Str("video", d.VideoFile).
		Bool("echo_cancellation", a.EchoCancellation).Msg("capture opened")
	return audio, video, nil
}

func (d *FileDevices) CreateScreenTrack(ctx context.Context) (sdk.LocalTrack, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.ScreenFile == "" {
		return nil, fmt.Errorf("screen picker dismissed: %w", domain.ErrPermissionDenied)
	}
	t, err := d.openVideo(d.ScreenFile, "screen", nil)
	if err != nil {
		return nil, fmt.Errorf("screen: %w", err)
	}
	return t, nil
}

// acquire marks path as in use; the returned func gives it back.
func (d *FileDevices) acquire(path string) (*os.File, func(), error) {
	if path == "" {
		return nil, nil, domain.ErrDeviceNotFound
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.open[path] {
		return nil, nil, fmt.Errorf("%s: %w", path, domain.ErrDeviceBusy)
	}
	f, err := os.Open(path)
	switch {
	case errors.Is(err, fs.ErrPermission):
		return nil, nil, fmt.Errorf("%w: %w", domain.ErrPermissionDenied, err)
	case errors.Is(err, fs.ErrNotExist):
		return nil, nil, fmt.Errorf("%w: %w", domain.ErrDeviceNotFound, err)
	case err != nil:
		return nil, nil, fmt.Errorf("%w: %w", domain.ErrDeviceBusy, err)
	}
	d.open[path] = true
	return f, func() {
		d.mu.Lock()
		delete(d.open, path)
		d.mu.Unlock()
	}, nil
}

func (d *FileDevices) openAudio(path string) (*Track, error) {
	f, release, err := d.acquire(path)
	if err != nil {
		return nil, err
	}
	src, err := openOgg(f)
	if err != nil {
		_ = f.Close()
		release()
		return nil, fmt.Errorf("%w: %w", ErrUnsupportedFile, err)
	}
	t, err := newTrack(domain.KindAudio, "microphone", webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: opusSampleRate, Channels: 2}, src, d.logger, release)
	if err != nil {
		_ = src.close()
		release()
		return nil, err
	}
	return t, nil
}

// openVideo checks the frame size against v when given.
func (d *FileDevices) openVideo(path, label string, v *sdk.VideoConstraints) (*Track, error) {
	f, release, err := d.acquire(path)
	if err != nil {
		return nil, err
	}
	fail := func(err error) (*Track, error) {
		_ = f.Close()
		release()
		return nil, err
	}
	src, err := openIVF(f)
	if err != nil {
		return fail(fmt.Errorf("%w: %w", ErrUnsupportedFile, err))
	}
	if src.header.FourCC != "VP80" {
		return fail(fmt.Errorf("%w: codec %q", ErrUnsupportedFile, src.header.FourCC))
	}
	w, h := int(src.header.Width), int(src.header.Height)
	if v != nil && (!v.Width.Contains(w) || !v.Height.Contains(h)) {
		return fail(fmt.Errorf("%w: %dx%d", ErrOverconstrained, w, h))
	}
	t, err := newTrack(domain.KindVideo, label, webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}, src, d.logger, release)
	if err != nil {
		return fail(err)
	}
	return t, nil
}
