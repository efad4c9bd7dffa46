package pionclient

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/classroom/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog"
)

// Track is a local capture track fed from a file. Muted tracks keep
// reading their source but send nothing.
type Track struct {
	kind   domain.MediaKind
	label  string
	local  *webrtc.TrackLocalStaticSample
	src    source
	logger zerolog.Logger

	muted   atomic.Bool
	written atomic.Int64

	cancel    context.CancelFunc
	done      chan struct{}
	stopOnce  sync.Once
	closeOnce sync.Once
	closeErr  error
	release   func()
}

func newTrack(kind domain.MediaKind, label string, codec webrtc.RTPCodecCapability, src source, logger zerolog.Logger, release func()) (*Track, error) {
	local, err := webrtc.NewTrackLocalStaticSample(codec, string(kind), label)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &Track{
		kind:    kind,
		label:   label,
		local:   local,
		src:     src,
		logger:  logger.With().Str("kind", string(kind)).Str("label", label).Logger(),
		cancel:  cancel,
		done:    make(chan struct{}),
		release: release,
	}
	go t.pump(ctx)
	return t, nil
}

func (t *Track) pump(ctx context.Context) {
	defer close(t.done)
	ticker := time.NewTicker(t.src.interval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		data, d, err := t.src.next()
		if err != nil {
			t.logger.Error().Err(err).Msg("capture source failed")
			return
		}
		if t.muted.Load() {
			continue
		}
		if err := t.local.WriteSample(media.Sample{Data: data, Duration: d}); err != nil && !errors.Is(err, context.Canceled) {
			t.logger.Debug().Err(err).Msg("write sample")
			continue
		}
		t.written.Add(1)
	}
}

func (t *Track) Kind() domain.MediaKind { return t.kind }
func (t *Track) Label() string          { return t.label }
func (t *Track) Muted() bool            { return t.muted.Load() }

// Local is what gets attached to an RTP sender.
func (t *Track) Local() webrtc.TrackLocal { return t.local }

func (t *Track) SetMuted(ctx context.Context, muted bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.muted.Store(muted)
	return nil
}

// Stop ends capture; the device stays held until Close.
func (t *Track) Stop() {
	t.stopOnce.Do(func() {
		t.cancel()
		<-t.done
	})
}

func (t *Track) Close() error {
	t.closeOnce.Do(func() {
		t.Stop()
		t.closeErr = t.src.close()
		if t.release != nil {
			t.release()
		}
		t.logger.Debug().Msg("track closed")
	})
	return t.closeErr
}
