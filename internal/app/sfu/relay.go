package sfu

import (
	"context"
	"maps"
	"sync"
	"sync/atomic"

	"github.com/dkeye/classroom/internal/core"
	"github.com/dkeye/classroom/internal/domain"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// Key identifies one published track: who publishes it and what kind.
type Key struct {
	SID  core.SessionID
	Kind domain.MediaKind
}

// Relay forwards one publisher track to every subscriber.
type Relay struct {
	Key      Key
	Src      *webrtc.TrackRemote
	StreamID string

	paused   atomic.Bool
	keyframe func()

	mu        sync.RWMutex
	outTracks map[core.SessionID]*OutTrack

	cancel context.CancelFunc
}

func NewRelay(key Key, src *webrtc.TrackRemote, streamID string, keyframe func(), cancel context.CancelFunc) *Relay {
	return &Relay{
		Key:       key,
		Src:       src,
		StreamID:  streamID,
		keyframe:  keyframe,
		outTracks: make(map[core.SessionID]*OutTrack),
		cancel:    cancel,
	}
}

// loop reads RTP packets from the source track and forwards them to all OutTracks.
func (r *Relay) loop(ctx context.Context, logger *zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("relay ctx done, marking all out tracks for delete")
			r.markAllDelete()
			return
		default:
		}
		pkt, _, err := r.Src.ReadRTP()
		if err != nil {
			logger.Info().Err(err).Msg("relay source ended")
			r.markAllDelete()
			return
		}
		r.forward(pkt, logger)
	}
}

func (r *Relay) forward(pkt *rtp.Packet, logger *zerolog.Logger) {
	r.mu.RLock()
	snapshot := maps.Clone(r.outTracks)
	r.mu.RUnlock()

	dirty := make([]core.SessionID, 0, len(snapshot))
	for dstSID, ot := range snapshot {
		switch ot.GetState() {
		case TrackStateDelete:
			dirty = append(dirty, dstSID)
		case TrackStateMuted:
		case TrackStateOk:
			if err := ot.Track.WriteRTP(pkt); err != nil {
				logger.Error().
					Err(err).
					Str("dst_sid", string(dstSID)).
					Msg("relay write RTP error, marking outtrack as delete")
				ot.MarkDelete()
				dirty = append(dirty, dstSID)
			}
		}
	}

	// Cleanup is done outside the RLock.
	if len(dirty) > 0 {
		r.cleanupDeleted(dirty)
	}
}

func (r *Relay) cleanupDeleted(dirty []core.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sid := range dirty {
		if ot, ok := r.outTracks[sid]; ok && ot.GetState() == TrackStateDelete {
			delete(r.outTracks, sid)
		}
	}
}

func (r *Relay) markAllDelete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ot := range r.outTracks {
		ot.MarkDelete()
	}
}

// detachAll removes every out track and returns them.
func (r *Relay) detachAll() []*OutTrack {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*OutTrack, 0, len(r.outTracks))
	for sid, ot := range r.outTracks {
		ot.MarkDelete()
		out = append(out, ot)
		delete(r.outTracks, sid)
	}
	return out
}

func (r *Relay) AddOutTrack(dst core.SessionID, ot *OutTrack) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.paused.Load() {
		ot.MarkMuted()
	}
	r.outTracks[dst] = ot
}

func (r *Relay) removeOutTrack(dst core.SessionID) (*OutTrack, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ot, ok := r.outTracks[dst]
	if ok {
		ot.MarkDelete()
		delete(r.outTracks, dst)
	}
	return ot, ok
}

func (r *Relay) hasSubscriber(dst core.SessionID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.outTracks[dst]
	return ok
}

func (r *Relay) SubscriberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.outTracks)
}

// setPaused mutes or resumes every out track.
func (r *Relay) setPaused(paused bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paused.Store(paused)
	for _, ot := range r.outTracks {
		if paused {
			ot.MarkMuted()
		} else {
			ot.MarkOk()
		}
	}
}

func (r *Relay) Paused() bool { return r.paused.Load() }

// RequestKeyframe asks the publisher for a fresh keyframe, so a new
// subscriber does not wait for the next periodic one.
func (r *Relay) RequestKeyframe() {
	if r.Key.Kind == domain.KindVideo && r.keyframe != nil {
		r.keyframe()
	}
}
