package pionclient

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dkeye/classroom/internal/domain"
	"github.com/dkeye/classroom/internal/sdk"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeIVF writes a VP8 IVF file at 30 fps.
func writeIVF(t *testing.T, dir string, w, h uint16, frames int) string {
	t.Helper()
	var buf bytes.Buffer
	hdr := make([]byte, 32)
	copy(hdr[0:], "DKIF")
	binary.LittleEndian.PutUint16(hdr[6:], 32)
	copy(hdr[8:], "VP80")
	binary.LittleEndian.PutUint16(hdr[12:], w)
	binary.LittleEndian.PutUint16(hdr[14:], h)
	binary.LittleEndian.PutUint32(hdr[16:], 30)
	binary.LittleEndian.PutUint32(hdr[20:], 1)
	binary.LittleEndian.PutUint32(hdr[24:], uint32(frames))
	buf.Write(hdr)
	for i := range frames {
		frame := []byte{0x10, 0x02, 0x00, 0x9d, 0x01, 0x2a, byte(i)}
		fh := make([]byte, 12)
		binary.LittleEndian.PutUint32(fh[0:], uint32(len(frame)))
		binary.LittleEndian.PutUint64(fh[4:], uint64(i))
		buf.Write(fh)
		buf.Write(frame)
	}
	path := filepath.Join(dir, "camera.ivf")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func writeOgg(t *testing.T, dir string, packets int) string {
	t.Helper()
	path := filepath.Join(dir, "mic.ogg")
	w, err := oggwriter.New(path, opusSampleRate, 2)
	require.NoError(t, err)
	for i := range packets {
		require.NoError(t, w.WriteRTP(&rtp.Packet{
			Header:  rtp.Header{SequenceNumber: uint16(i), Timestamp: uint32(i * 960)},
			Payload: []byte{0xfc, 0xff, 0xfe},
		}))
	}
	require.NoError(t, w.Close())
	return path
}

func newDevices(t *testing.T) *FileDevices {
	t.Helper()
	dir := t.TempDir()
	return NewFileDevices(writeOgg(t, dir, 10), writeIVF(t, dir, 640, 480, 3), "")
}

func TestCreateMicrophoneAndCamera(t *testing.T) {
	d := newDevices(t)
	ctx := context.Background()

	audio, video, err := d.CreateMicrophoneAndCameraTracks(ctx, sdk.DefaultAudioConstraints(), sdk.DefaultVideoConstraints())
	require.NoError(t, err)
	assert.Equal(t, domain.KindAudio, audio.Kind())
	assert.Equal(t, domain.KindVideo, video.Kind())
	assert.False(t, audio.Muted())

	_, _, err = d.CreateMicrophoneAndCameraTracks(ctx, sdk.DefaultAudioConstraints(), sdk.DefaultVideoConstraints())
	assert.ErrorIs(t, err, domain.ErrDeviceBusy)
	assert.Equal(t, domain.ReasonDeviceUnavailable, domain.ClassifyAcquisition(err).Reason)

	audio.Stop()
	require.NoError(t, audio.Close())
	require.NoError(t, video.Close())
	require.NoError(t, video.Close())

	audio, video, err = d.CreateMicrophoneAndCameraTracks(ctx, sdk.DefaultAudioConstraints(), sdk.DefaultVideoConstraints())
	require.NoError(t, err)
	_ = audio.Close()
	_ = video.Close()
}

func TestAcquisitionErrors(t *testing.T) {
	dir := t.TempDir()
	audio := writeOgg(t, dir, 5)
	small := writeIVF(t, dir, 320, 240, 2)
	junk := filepath.Join(dir, "junk.ivf")
	require.NoError(t, os.WriteFile(junk, []byte("not a video"), 0o644))
	ctx := context.Background()

	tests := []struct {
		name   string
		d      *FileDevices
		want   error
		reason domain.AcquisitionReason
	}{
		{"missing camera", NewFileDevices(audio, filepath.Join(dir, "nope.ivf"), ""), domain.ErrDeviceNotFound, domain.ReasonDeviceUnavailable},
		{"no microphone configured", NewFileDevices("", small, ""), domain.ErrDeviceNotFound, domain.ReasonDeviceUnavailable},
		{"camera below minimum size", NewFileDevices(audio, small, ""), ErrOverconstrained, domain.ReasonOther},
		{"camera is not ivf", NewFileDevices(audio, junk, ""), ErrUnsupportedFile, domain.ReasonOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, v, err := tt.d.CreateMicrophoneAndCameraTracks(ctx, sdk.DefaultAudioConstraints(), sdk.DefaultVideoConstraints())
			assert.Nil(t, a)
			assert.Nil(t, v)
			require.ErrorIs(t, err, tt.want)
			assert.Equal(t, tt.reason, domain.ClassifyAcquisition(err).Reason)
			// the microphone was handed back
			if tt.d.AudioFile != "" {
				tr, err := tt.d.openAudio(tt.d.AudioFile)
				require.NoError(t, err)
				_ = tr.Close()
			}
		})
	}
}

func TestScreenTrack(t *testing.T) {
	dir := t.TempDir()
	d := NewFileDevices("", "", "")
	_, err := d.CreateScreenTrack(context.Background())
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)
	assert.Equal(t, domain.ReasonPermissionDenied, domain.ClassifyAcquisition(err).Reason)

	// screens are not held to camera constraints
	d.ScreenFile = writeIVF(t, dir, 320, 240, 2)
	screen, err := d.CreateScreenTrack(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.KindVideo, screen.Kind())
	assert.Equal(t, "screen", screen.(*Track).Label())
	require.NoError(t, screen.Close())
}

func TestEnumerate(t *testing.T) {
	d := newDevices(t)
	d.VideoFile = filepath.Join(t.TempDir(), "unplugged.ivf")

	devs, err := d.Enumerate(context.Background())
	require.NoError(t, err)
	require.Len(t, devs, 1)
	assert.Equal(t, sdk.DeviceAudioInput, devs[0].Kind)
	assert.Contains(t, devs[0].Label, "mic.ogg")
}

func TestTrackPumpsAndLoops(t *testing.T) {
	d := newDevices(t)
	tr, err := d.openVideo(d.VideoFile, "camera", nil)
	require.NoError(t, err)
	defer tr.Close()

	// three frames in the file, so passing five means it started over
	require.Eventually(t, func() bool { return tr.written.Load() > 5 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, tr.SetMuted(context.Background(), true))
	time.Sleep(50 * time.Millisecond)
	n := tr.written.Load()
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, n, tr.written.Load())

	tr.Stop()
	require.NoError(t, tr.SetMuted(context.Background(), false))
	n = tr.written.Load()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, n, tr.written.Load())
}

func TestSetMutedHonoursContext(t *testing.T) {
	d := newDevices(t)
	tr, err := d.openAudio(d.AudioFile)
	require.NoError(t, err)
	defer tr.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, tr.SetMuted(ctx, true), context.Canceled)
	assert.False(t, tr.Muted())
}

func TestOggSourceSkipsCommentPage(t *testing.T) {
	f, err := os.Open(writeOgg(t, t.TempDir(), 3))
	require.NoError(t, err)
	src, err := openOgg(f)
	require.NoError(t, err)
	defer func() { _ = src.close() }()

	// two passes to cross the rewind
	for i := range 6 {
		frame, _, err := src.next()
		require.NoError(t, err)
		assert.Equal(t, []byte{0xfc, 0xff, 0xfe}, frame, "frame %d", i)
	}
}
