package app

import (
	"context"
	"errors"
	"sync"

	"github.com/dkeye/classroom/internal/core"
	"github.com/dkeye/classroom/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

var (
	ErrUnknownSession  = errors.New("unknown session")
	ErrAlreadyLoggedIn = errors.New("already logged in")
)

type sessionEntry struct {
	Channel domain.RoomID
	Media   domain.RoomID
	Session core.MemberSession
	Cancel  context.CancelFunc
}

// Registry indexes live signaling sessions by session and by participant.
type Registry struct {
	mu       sync.RWMutex
	sessions map[core.SessionID]*sessionEntry
	users    map[domain.ParticipantID]core.SessionID
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[core.SessionID]*sessionEntry),
		users:    make(map[domain.ParticipantID]core.SessionID),
	}
}

func (r *Registry) BindSignal(sid core.SessionID, sess core.MemberSession, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sid] = &sessionEntry{Session: sess, Cancel: cancel}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("bound signal")
}

// Login attaches user to sid. A participant logging in again from a new
// connection takes over; the previous session id is returned so the
// caller can drop it.
func (r *Registry) Login(sid core.SessionID, user *domain.User) (core.SessionID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		return "", ErrUnknownSession
	}
	if e.Session.User() != nil {
		return "", ErrAlreadyLoggedIn
	}
	prev, taken := r.users[user.ID]
	e.Session.SetUser(user)
	r.users[user.ID] = sid
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("uid", string(user.ID)).Msg("logged in")
	if taken && prev != sid {
		return prev, nil
	}
	return "", nil
}

func (r *Registry) Logout(sid core.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		return
	}
	if u := e.Session.User(); u != nil && r.users[u.ID] == sid {
		delete(r.users, u.ID)
	}
	e.Session.SetUser(nil)
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("logged out")
}

func (r *Registry) UserOf(sid core.SessionID) (*domain.User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sid]
	if !ok {
		return nil, false
	}
	u := e.Session.User()
	return u, u != nil
}

func (r *Registry) SessionOfUser(uid domain.ParticipantID) (core.SessionID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sid, ok := r.users[uid]
	return sid, ok
}

func (r *Registry) GetSession(sid core.SessionID) (core.MemberSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[sid]; ok {
		return e.Session, true
	}
	return nil, false
}

func (r *Registry) Unbind(sid core.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		return
	}
	if u := e.Session.User(); u != nil && r.users[u.ID] == sid {
		delete(r.users, u.ID)
	}
	delete(r.sessions, sid)
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("unbind session")
}

func (r *Registry) ChannelOf(sid core.SessionID) (domain.RoomID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sid]
	if !ok || e.Channel == "" {
		return "", false
	}
	return e.Channel, true
}

func (r *Registry) MediaRoomOf(sid core.SessionID) (domain.RoomID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sid]
	if !ok || e.Media == "" {
		return "", false
	}
	return e.Media, true
}

// SetChannel records the channel of sid; an empty room clears it.
func (r *Registry) SetChannel(sid core.SessionID, room domain.RoomID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		return false
	}
	e.Channel = room
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("channel", string(room)).Msg("updated channel")
	return true
}

// SetMediaRoom records the media room of sid; an empty room clears it.
func (r *Registry) SetMediaRoom(sid core.SessionID, room domain.RoomID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		return false
	}
	e.Media = room
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("media_room", string(room)).Msg("updated media room")
	return true
}

type Snap struct {
	SID     core.SessionID
	Session core.MemberSession
}

func (r *Registry) filter(keep func(e *sessionEntry) bool) []Snap {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.FilterMap(lo.Entries(r.sessions), func(en lo.Entry[core.SessionID, *sessionEntry], _ int) (Snap, bool) {
		return Snap{SID: en.Key, Session: en.Value.Session}, keep(en.Value)
	})
}

func (r *Registry) MembersOfChannel(room domain.RoomID) []Snap {
	return r.filter(func(e *sessionEntry) bool { return e.Channel == room })
}

func (r *Registry) MembersOfMedia(room domain.RoomID) []Snap {
	return r.filter(func(e *sessionEntry) bool { return e.Media == room })
}

// MediaMates returns everyone else in the media room of sid.
func (r *Registry) MediaMates(sid core.SessionID) []Snap {
	room, ok := r.MediaRoomOf(sid)
	if !ok {
		return nil
	}
	return lo.Filter(r.MembersOfMedia(room), func(s Snap, _ int) bool { return s.SID != sid })
}

func (r *Registry) Cancel(sid core.SessionID) bool {
	r.mu.RLock()
	e, ok := r.sessions[sid]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("canceled session")
	return true
}
