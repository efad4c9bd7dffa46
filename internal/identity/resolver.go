// Package identity resolves who this browser session is and which room
// it is in.
package identity

import (
	"net/url"
	"strconv"

	"github.com/dkeye/classroom/internal/domain"
	"github.com/pion/randutil"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	KeyParticipantID = "uid"
	KeyDisplayName   = "display_name"
	QueryRoom        = "room"

	maxGeneratedID = 10000
)

// Store is per-browser persistent storage.
type Store interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
}

type Resolver struct {
	store  Store
	rand   randutil.MathRandomGenerator
	logger zerolog.Logger
}

func NewResolver(store Store) *Resolver {
	return &Resolver{
		store:  store,
		rand:   randutil.NewMathRandomGenerator(),
		logger: log.With().Str("module", "identity").Logger(),
	}
}

// WithRand swaps the id generator.
func (r *Resolver) WithRand(g randutil.MathRandomGenerator) *Resolver {
	r.rand = g
	return r
}

// Resolve never fails: missing or unreadable values fall back to
// generated defaults, which are persisted for the next reload.
func (r *Resolver) Resolve(query url.Values) domain.Identity {
	uid := r.participantID()
	name := r.displayName(uid)

	room := domain.RoomID(query.Get(QueryRoom))
	if room == "" {
		room = domain.DefaultRoom
	}
	r.logger.Info().Str("uid", string(uid)).Str("room", string(room)).Msg("identity resolved")
	return domain.Identity{ParticipantID: uid, DisplayName: name, RoomID: room}
}

func (r *Resolver) participantID() domain.ParticipantID {
	if v, ok := r.get(KeyParticipantID); ok {
		return domain.ParticipantID(v)
	}
	uid := strconv.Itoa(r.rand.Intn(maxGeneratedID))
	r.set(KeyParticipantID, uid)
	return domain.ParticipantID(uid)
}

func (r *Resolver) displayName(uid domain.ParticipantID) string {
	if v, ok := r.get(KeyDisplayName); ok {
		return v
	}
	name := domain.DefaultDisplayName(uid)
	r.logger.Warn().Str("name", name).Msg("no display name stored, using default")
	r.set(KeyDisplayName, name)
	return name
}

func (r *Resolver) get(key string) (string, bool) {
	v, ok, err := r.store.Get(key)
	if err != nil {
		r.logger.Error().Err(err).Str("key", key).Msg("read identity store")
		return "", false
	}
	return v, ok && v != ""
}

func (r *Resolver) set(key, value string) {
	if err := r.store.Set(key, value); err != nil {
		r.logger.Error().Err(err).Str("key", key).Msg("write identity store")
	}
}
