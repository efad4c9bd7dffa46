package core

import (
	"slices"
	"sync"

	"github.com/dkeye/classroom/internal/domain"
	"github.com/samber/lo"
)

// memberSession implements MemberSession by pairing meta + transport.
type memberSession struct {
	mu     sync.RWMutex
	meta   *domain.Member
	signal SignalConnection
	media  MediaConnection
}

func NewMemberSession(signal SignalConnection) MemberSession {
	return &memberSession{meta: domain.NewMember(nil), signal: signal}
}

func (m *memberSession) User() *domain.User {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.meta.User == nil {
		return nil
	}
	u := *m.meta.User
	return &u
}

func (m *memberSession) SetUser(u *domain.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.meta.User = u
	clear(m.meta.Published)
}

func (m *memberSession) Rename(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.meta.User == nil {
		return ErrNotLoggedIn
	}
	return m.meta.User.SetDisplayName(name)
}

func (m *memberSession) Signal() SignalConnection { return m.signal }

func (m *memberSession) Media() MediaConnection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.media
}

func (m *memberSession) UpdateMedia(mc MediaConnection) MemberSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.media = mc
	if mc == nil {
		clear(m.meta.Published)
	}
	return m
}

func (m *memberSession) SetPublished(kind domain.MediaKind, on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if on {
		m.meta.Published[kind] = true
	} else {
		delete(m.meta.Published, kind)
	}
}

func (m *memberSession) Published() []domain.MediaKind {
	m.mu.RLock()
	defer m.mu.RUnlock()
	kinds := lo.Keys(m.meta.Published)
	slices.Sort(kinds)
	return kinds
}
