package core

import (
	"cmp"
	"slices"
	"sync"

	"github.com/dkeye/classroom/internal/domain"
	"github.com/rs/zerolog/log"
)

// roomImpl is a threadsafe in-memory room.
// It never closes adapter-owned resources.
type roomImpl struct {
	room   *domain.Room
	mu     sync.RWMutex
	bySID  map[SessionID]MemberSession
	byUser map[domain.ParticipantID]SessionID
}

func NewRoomService(room *domain.Room) RoomService {
	return &roomImpl{
		room:   room,
		bySID:  make(map[SessionID]MemberSession),
		byUser: make(map[domain.ParticipantID]SessionID),
	}
}

func (r *roomImpl) Room() *domain.Room { return r.room }

func (r *roomImpl) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bySID)
}

// AddMember replaces an older session of the same participant.
func (r *roomImpl) AddMember(sid SessionID, ms MemberSession) {
	u := ms.User()
	r.mu.Lock()
	defer r.mu.Unlock()
	if u != nil {
		if old, ok := r.byUser[u.ID]; ok && old != sid {
			delete(r.bySID, old)
		}
		r.byUser[u.ID] = sid
	}
	r.bySID[sid] = ms
	ev := log.Info().Str("module", "core.room").Str("room", string(r.room.ID)).Str("sid", string(sid))
	if u != nil {
		ev = ev.Str("uid", string(u.ID))
	}
	ev.Msg("member added")
}

func (r *roomImpl) RemoveMember(sid SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bySID[sid]; !ok {
		return
	}
	for uid, s := range r.byUser {
		if s == sid {
			delete(r.byUser, uid)
		}
	}
	delete(r.bySID, sid)
	log.Info().Str("module", "core.room").Str("room", string(r.room.ID)).Str("sid", string(sid)).Msg("member removed")
}

func (r *roomImpl) Broadcast(from SessionID, data Frame) PublishResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := PublishResult{}
	for sid, m := range r.bySID {
		if sid == from {
			continue
		}
		if err := m.Signal().TrySend(data); err != nil {
			res.Dropped = append(res.Dropped, m)
			continue
		}
		res.SendTo++
	}
	log.Debug().Str("module", "core.room").Str("from", string(from)).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

func (r *roomImpl) MembersSnapshot() []MemberDTO {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]MemberDTO, 0, len(r.bySID))
	for _, ms := range r.bySID {
		u := ms.User()
		if u == nil {
			continue
		}
		out = append(out, MemberDTO{ID: u.ID, Name: u.DisplayName, Published: ms.Published()})
	}
	slices.SortFunc(out, func(a, b MemberDTO) int { return cmp.Compare(a.ID, b.ID) })
	return out
}
