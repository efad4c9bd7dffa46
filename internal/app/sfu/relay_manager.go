package sfu

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/dkeye/classroom/internal/core"
	"github.com/dkeye/classroom/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var ErrNoRelay = errors.New("no relay for track")

type RelayManager struct {
	mu     sync.RWMutex
	relays map[Key]*Relay
}

func NewRelayManager() *RelayManager {
	return &RelayManager{
		relays: make(map[Key]*Relay),
	}
}

// StartRelay creates a new Relay for the given publisher track and
// starts its loop. A relay already running for key is replaced; its out
// tracks are returned so the caller can detach them.
func (m *RelayManager) StartRelay(ctx context.Context, key Key, track *webrtc.TrackRemote, streamID string, keyframe func()) []*OutTrack {
	logger := log.With().
		Str("module", "relay").
		Str("sid", string(key.SID)).
		Str("kind", string(key.Kind)).
		Logger()

	relayCtx, cancel := context.WithCancel(ctx)
	relay := NewRelay(key, track, streamID, keyframe, cancel)

	var stale []*OutTrack
	m.mu.Lock()
	if old, ok := m.relays[key]; ok {
		logger.Info().Msg("replacing existing relay")
		stale = old.detachAll()
		if old.cancel != nil {
			old.cancel()
		}
	}
	m.relays[key] = relay
	m.mu.Unlock()

	logger.Info().Msg("starting relay loop")

	go relay.loop(relayCtx, &logger)
	return stale
}

func (m *RelayManager) get(key Key) (*Relay, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.relays[key]
	return r, ok
}

// Subscribe adds a forwarding track for key to the subscriber's
// connection. It reports false if dst was already subscribed. The caller
// renegotiates dst.
func (m *RelayManager) Subscribe(key Key, dst core.SessionID, mc core.MediaConnection) (bool, error) {
	relay, ok := m.get(key)
	if !ok {
		return false, fmt.Errorf("%s/%s: %w", key.SID, key.Kind, ErrNoRelay)
	}
	if relay.hasSubscriber(dst) {
		return false, nil
	}
	id := relay.StreamID + "-" + string(key.Kind)
	local, err := webrtc.NewTrackLocalStaticRTP(relay.Src.Codec().RTPCodecCapability, id, relay.StreamID)
	if err != nil {
		return false, fmt.Errorf("new local track: %w", err)
	}
	sender, err := mc.AddLocalTrack(local)
	if err != nil {
		return false, fmt.Errorf("add local track: %w", err)
	}
	relay.AddOutTrack(dst, NewOutTrack(local, sender, mc))
	log.Info().Str("module", "relay").Str("src", string(key.SID)).Str("dst", string(dst)).Str("kind", string(key.Kind)).Msg("subscribed")
	relay.RequestKeyframe()
	return true, nil
}

// Pause stops forwarding key without tearing the relay down.
func (m *RelayManager) Pause(key Key) bool {
	relay, ok := m.get(key)
	if !ok {
		return false
	}
	relay.setPaused(true)
	return true
}

func (m *RelayManager) Resume(key Key) bool {
	relay, ok := m.get(key)
	if !ok {
		return false
	}
	relay.setPaused(false)
	relay.RequestKeyframe()
	return true
}

// Active reports whether key has a relay that is forwarding.
func (m *RelayManager) Active(key Key) bool {
	relay, ok := m.get(key)
	return ok && !relay.Paused()
}

// HasRelay reports whether a relay exists for key.
func (m *RelayManager) HasRelay(key Key) bool {
	_, ok := m.get(key)
	return ok
}

// KeysOf lists the relays published by sid, audio first.
func (m *RelayManager) KeysOf(sid core.SessionID) []Key {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []Key
	for k := range m.relays {
		if k.SID == sid {
			keys = append(keys, k)
		}
	}
	slices.SortFunc(keys, func(a, b Key) int {
		switch {
		case a.Kind == b.Kind:
			return 0
		case a.Kind == domain.KindAudio:
			return -1
		default:
			return 1
		}
	})
	return keys
}

// StopRelays stops every relay published by sid and returns the out
// tracks that were attached to subscribers.
func (m *RelayManager) StopRelays(sid core.SessionID) []*OutTrack {
	var stopped []*Relay
	m.mu.Lock()
	for k, r := range m.relays {
		if k.SID == sid {
			stopped = append(stopped, r)
			delete(m.relays, k)
		}
	}
	m.mu.Unlock()

	var out []*OutTrack
	for _, r := range stopped {
		out = append(out, r.detachAll()...)
		if r.cancel != nil {
			r.cancel()
		}
	}
	return out
}

// Unsubscribe drops dst from every relay.
func (m *RelayManager) Unsubscribe(dst core.SessionID) []*OutTrack {
	m.mu.RLock()
	relays := make([]*Relay, 0, len(m.relays))
	for _, r := range m.relays {
		relays = append(relays, r)
	}
	m.mu.RUnlock()

	var out []*OutTrack
	for _, r := range relays {
		if ot, ok := r.removeOutTrack(dst); ok {
			out = append(out, ot)
		}
	}
	return out
}
