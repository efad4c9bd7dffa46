// Package recorder renders subscribed remote media into files: video
// as IVF, audio as Ogg/Opus, one file per participant and kind.
package recorder

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dkeye/classroom/internal/domain"
	"github.com/dkeye/classroom/internal/sdk"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrUnsupportedCodec = errors.New("unsupported codec")

type writer interface {
	WriteRTP(p *rtp.Packet) error
	Close() error
}

type sink struct {
	path string

	mu     sync.Mutex
	w      writer
	closed bool
}

func (s *sink) write(p *rtp.Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return os.ErrClosed
	}
	return s.w.WriteRTP(p)
}

func (s *sink) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.w.Close()
}

type sinkKey struct {
	uid  domain.ParticipantID
	kind domain.MediaKind
}

type Recorder struct {
	dir    string
	logger zerolog.Logger

	mu    sync.Mutex
	sinks map[sinkKey]*sink
	wg    sync.WaitGroup
}

func New(dir string) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create record dir: %w", err)
	}
	return &Recorder{
		dir:    dir,
		logger: log.With().Str("module", "recorder").Str("dir", dir).Logger(),
		sinks:  make(map[sinkKey]*sink),
	}, nil
}

func (r *Recorder) AttachVideo(_ domain.TileID, track sdk.RemoteTrack) error {
	if !strings.EqualFold(track.MimeType(), webrtc.MimeTypeVP8) {
		return fmt.Errorf("%w: %s", ErrUnsupportedCodec, track.MimeType())
	}
	return r.attach(track, func(path string) (writer, error) {
		return ivfwriter.New(path)
	})
}

func (r *Recorder) PlayAudio(track sdk.RemoteTrack) error {
	if !strings.EqualFold(track.MimeType(), webrtc.MimeTypeOpus) {
		return fmt.Errorf("%w: %s", ErrUnsupportedCodec, track.MimeType())
	}
	return r.attach(track, func(path string) (writer, error) {
		return oggwriter.New(path, 48000, 2)
	})
}

// Path is where media of uid and kind is written.
func (r *Recorder) Path(uid domain.ParticipantID, kind domain.MediaKind) string {
	ext := "ogg"
	if kind == domain.KindVideo {
		ext = "ivf"
	}
	return filepath.Join(r.dir, fmt.Sprintf("%s-%s.%s", uid, kind, ext))
}

func (r *Recorder) attach(track sdk.RemoteTrack, open func(string) (writer, error)) error {
	key := sinkKey{uid: track.Participant(), kind: track.Kind()}
	path := r.Path(key.uid, key.kind)

	r.mu.Lock()
	old := r.sinks[key]
	delete(r.sinks, key)
	r.mu.Unlock()
	if old != nil {
		_ = old.close()
	}

	w, err := open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	s := &sink{path: path, w: w}
	r.mu.Lock()
	r.sinks[key] = s
	r.mu.Unlock()

	r.wg.Add(1)
	go r.copy(key, track, s)
	r.logger.Info().Str("uid", string(key.uid)).Str("kind", string(key.kind)).Str("file", path).Msg("recording")
	return nil
}

func (r *Recorder) copy(key sinkKey, track sdk.RemoteTrack, s *sink) {
	defer r.wg.Done()
	defer func() {
		_ = s.close()
		r.mu.Lock()
		if r.sinks[key] == s {
			delete(r.sinks, key)
		}
		r.mu.Unlock()
	}()
	for {
		p, err := track.ReadRTP()
		if err != nil {
			r.logger.Debug().Err(err).Str("file", s.path).Msg("remote track ended")
			return
		}
		if err := s.write(p); err != nil {
			if !errors.Is(err, os.ErrClosed) {
				r.logger.Warn().Err(err).Str("file", s.path).Msg("write packet")
			}
			return
		}
	}
}

func (r *Recorder) recording(uid domain.ParticipantID, kind domain.MediaKind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sinks[sinkKey{uid: uid, kind: kind}]
	return ok
}

// Detach finishes the files of uid.
func (r *Recorder) Detach(uid domain.ParticipantID) {
	r.mu.Lock()
	var done []*sink
	for key, s := range r.sinks {
		if key.uid == uid {
			done = append(done, s)
			delete(r.sinks, key)
		}
	}
	r.mu.Unlock()
	for _, s := range done {
		if err := s.close(); err != nil {
			r.logger.Warn().Err(err).Str("file", s.path).Msg("close recording")
		}
	}
}

// Close finishes every file and waits for the copy loops, which end
// when their remote tracks do.
func (r *Recorder) Close() error {
	r.mu.Lock()
	sinks := r.sinks
	r.sinks = make(map[sinkKey]*sink)
	r.mu.Unlock()

	var errs []error
	for _, s := range sinks {
		if err := s.close(); err != nil {
			errs = append(errs, err)
		}
	}
	r.wg.Wait()
	return errors.Join(errs...)
}
