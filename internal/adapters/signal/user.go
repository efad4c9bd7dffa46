package signal

import (
	"fmt"

	"github.com/dkeye/classroom/internal/core"
	"github.com/dkeye/classroom/internal/domain"
	"github.com/dkeye/classroom/internal/signaling"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleLogin(sid core.SessionID, m signaling.Message) error {
	user, err := domain.NewUser(m.UID, "")
	if err != nil {
		return err
	}
	if err := ctl.verify(m.Token, m.UID); err != nil {
		return err
	}
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("uid", string(m.UID)).Msg("login")
	return ctl.Orch.Login(sid, user)
}

func (ctl *SignalWSController) verify(token string, uid domain.ParticipantID) error {
	if ctl.Tokens == nil {
		return nil
	}
	if err := ctl.Tokens.Verify(token, uid); err != nil {
		return fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	return nil
}

func (ctl *SignalWSController) handleAttributes(sid core.SessionID, m signaling.Message) error {
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("name", m.Name).Msg("rename")
	return ctl.Orch.Rename(sid, m.Name)
}

func (ctl *SignalWSController) handleLogout(sid core.SessionID) error {
	if _, ok := ctl.Orch.Registry.UserOf(sid); !ok {
		return core.ErrNotLoggedIn
	}
	ctl.Orch.Logout(sid)
	return nil
}
