// Package participants tracks remote participants and their subscribed media.
package participants

import (
	"context"
	"slices"
	"sync"

	"github.com/dkeye/classroom/internal/domain"
	"github.com/dkeye/classroom/internal/sdk"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

type Subscriber interface {
	Subscribe(ctx context.Context, uid domain.ParticipantID, kind domain.MediaKind) (sdk.RemoteTrack, error)
}

// Tiles is the layout the registry adds containers to.
type Tiles interface {
	Add(tile domain.TileID)
	Remove(tile domain.TileID)
}

// Renderer is where subscribed media ends up.
type Renderer interface {
	AttachVideo(tile domain.TileID, track sdk.RemoteTrack) error
	PlayAudio(track sdk.RemoteTrack) error
	Detach(id domain.ParticipantID)
}

type Notifier interface {
	Errorf(format string, args ...any)
}

type Participant struct {
	ID     domain.ParticipantID
	Tile   domain.TileID
	Tracks map[domain.MediaKind]sdk.RemoteTrack
}

// Kinds lists the subscribed media kinds in a stable order.
func (p Participant) Kinds() []domain.MediaKind {
	ks := lo.Keys(p.Tracks)
	slices.Sort(ks)
	return ks
}

type Registry struct {
	sub    Subscriber
	tiles  Tiles
	render Renderer
	notify Notifier
	logger zerolog.Logger

	mu   sync.RWMutex
	byID map[domain.ParticipantID]*Participant
}

func NewRegistry(sub Subscriber, tiles Tiles, render Renderer, notify Notifier) *Registry {
	return &Registry{
		sub:    sub,
		tiles:  tiles,
		render: render,
		notify: notify,
		logger: log.With().Str("module", "participants").Logger(),
		byID:   make(map[domain.ParticipantID]*Participant),
	}
}

// HandlePublished subscribes to the announced media. A failure only
// affects this notification.
func (r *Registry) HandlePublished(ctx context.Context, id domain.ParticipantID, kind domain.MediaKind) error {
	logger := r.logger.With().Str("uid", string(id)).Str("kind", string(kind)).Logger()
	logger.Info().Msg("participant published")

	tile := r.ensure(id)

	track, err := r.sub.Subscribe(ctx, id, kind)
	if err != nil {
		serr := &domain.SubscribeError{Participant: id, Kind: kind, Err: err}
		logger.Error().Err(err).Msg("subscribe")
		r.notify.Errorf("could not subscribe to participant %s (%s)", id, kind)
		return serr
	}

	r.mu.Lock()
	p, ok := r.byID[id]
	if ok {
		p.Tracks[kind] = track
	}
	r.mu.Unlock()
	if !ok {
		// left while we were subscribing
		logger.Info().Msg("participant gone before subscription completed")
		return nil
	}

	switch kind {
	case domain.KindVideo:
		err = r.render.AttachVideo(tile, track)
	case domain.KindAudio:
		err = r.render.PlayAudio(track)
	}
	if err != nil {
		logger.Error().Err(err).Msg("render remote track")
		r.notify.Errorf("could not play %s of participant %s", kind, id)
		return err
	}
	logger.Info().Msg("subscribed")
	return nil
}

func (r *Registry) ensure(id domain.ParticipantID) domain.TileID {
	r.mu.Lock()
	p, ok := r.byID[id]
	if !ok {
		p = &Participant{
			ID:     id,
			Tile:   domain.TileFor(id),
			Tracks: make(map[domain.MediaKind]sdk.RemoteTrack, 2),
		}
		r.byID[id] = p
	}
	r.mu.Unlock()
	if !ok {
		r.tiles.Add(p.Tile)
	}
	return p.Tile
}

// HandleLeft drops the participant and its tile.
func (r *Registry) HandleLeft(id domain.ParticipantID) {
	r.mu.Lock()
	p, ok := r.byID[id]
	delete(r.byID, id)
	r.mu.Unlock()
	if !ok {
		r.logger.Warn().Str("uid", string(id)).Msg("left, but was never seen")
		return
	}
	r.render.Detach(id)
	r.tiles.Remove(p.Tile)
	r.logger.Info().Str("uid", string(id)).Msg("participant left")
}

func (r *Registry) Get(id domain.ParticipantID) (Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byID[id]
	if !ok {
		return Participant{}, false
	}
	return copyOf(p), true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Snapshot returns every present participant ordered by id.
func (r *Registry) Snapshot() []Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := lo.Keys(r.byID)
	slices.Sort(ids)
	return lo.Map(ids, func(id domain.ParticipantID, _ int) Participant {
		return copyOf(r.byID[id])
	})
}

// Clear forgets everybody; used when the local session leaves.
func (r *Registry) Clear() {
	r.mu.Lock()
	all := r.byID
	r.byID = make(map[domain.ParticipantID]*Participant)
	r.mu.Unlock()
	for id, p := range all {
		r.render.Detach(id)
		r.tiles.Remove(p.Tile)
	}
}

func copyOf(p *Participant) Participant {
	out := *p
	out.Tracks = make(map[domain.MediaKind]sdk.RemoteTrack, len(p.Tracks))
	for k, v := range p.Tracks {
		out.Tracks[k] = v
	}
	return out
}

// DiscardRenderer accepts every track and plays nothing.
type DiscardRenderer struct{}

func (DiscardRenderer) AttachVideo(domain.TileID, sdk.RemoteTrack) error { return nil }
func (DiscardRenderer) PlayAudio(sdk.RemoteTrack) error                  { return nil }
func (DiscardRenderer) Detach(domain.ParticipantID)                      {}
