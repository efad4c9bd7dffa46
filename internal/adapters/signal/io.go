package signal

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/classroom/internal/core"
	"github.com/dkeye/classroom/internal/signaling"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 5 * time.Second

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.opts.PingPeriod)
	defer ticker.Stop()
	// closing the socket also ends readPump
	defer c.Close()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump ping")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, sid core.SessionID, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump closing")
		ctl.Orch.Disconnect(sid)
		cancel()
		c.Close()
	}()

	if ctl.opts.ReadLimit > 0 {
		c.conn.SetReadLimit(ctl.opts.ReadLimit)
	}
	pongWait := ctl.opts.PingPeriod * 10 / 9
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("readPump read error")
				}
				return
			}
			_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
			ctl.handleSignal(ctx, sid, c, data)
		}
	}
}

// exempt lists types that are part of an exchange the server started.
var exempt = map[signaling.Type]bool{
	signaling.TypeAnswer:    true,
	signaling.TypeCandidate: true,
	signaling.TypePing:      true,
}

func (ctl *SignalWSController) handleSignal(ctx context.Context, sid core.SessionID, c *WsSignalConn, data []byte) {
	m, err := signaling.Decode(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("bad json")
		ctl.send(c, signaling.Error("", err))
		return
	}
	if !exempt[m.Type] && !ctl.allow(sid) {
		log.Warn().Str("module", "signal").Str("sid", string(sid)).Str("type", string(m.Type)).Msg("rate limited")
		ctl.reply(c, m, ErrRateLimited)
		return
	}

	switch m.Type {
	case signaling.TypePing:
		ctl.handlePing(c, m)
		return
	case signaling.TypeLogin:
		err = ctl.handleLogin(sid, m)
	case signaling.TypeAttributes:
		err = ctl.handleAttributes(sid, m)
	case signaling.TypeLogout:
		err = ctl.handleLogout(sid)
	case signaling.TypeChannelJoin:
		err = ctl.handleChannelJoin(sid, m)
	case signaling.TypeChannelLeave:
		err = ctl.handleChannelLeave(sid)
	case signaling.TypeMediaJoin:
		err = ctl.handleMediaJoin(ctx, sid, c, m)
	case signaling.TypeMediaLeave:
		err = ctl.handleMediaLeave(sid)
	case signaling.TypePublish:
		err = ctl.handlePublish(sid, m, true)
	case signaling.TypeUnpublish:
		err = ctl.handlePublish(sid, m, false)
	case signaling.TypeAnswer:
		err = ctl.handleAnswer(sid, m)
	case signaling.TypeCandidate:
		err = ctl.handleCandidate(sid, m)
	default:
		log.Warn().Str("module", "signal").Str("type", string(m.Type)).Msg("unknown signal")
		err = ErrUnknownType
	}
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Str("type", string(m.Type)).Msg("request failed")
	}
	ctl.reply(c, m, err)
}

func (ctl *SignalWSController) allow(sid core.SessionID) bool {
	if ctl.Limiter == nil {
		return true
	}
	key := string(sid)
	if u, ok := ctl.Orch.Registry.UserOf(sid); ok {
		key = string(u.ID)
	}
	return ctl.Limiter.Allow(key)
}

// reply answers requests that carry an id.
func (ctl *SignalWSController) reply(c *WsSignalConn, m signaling.Message, err error) {
	if m.ID == "" {
		return
	}
	if err != nil {
		ctl.send(c, signaling.Error(m.ID, err))
		return
	}
	ctl.send(c, signaling.Ack(m.ID))
}

func (ctl *SignalWSController) send(c core.SignalConnection, m signaling.Message) {
	b, err := signaling.Encode(m)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("send marshal")
		return
	}
	if err := c.TrySend(b); err != nil && !errors.Is(err, core.ErrConnClosed) {
		log.Warn().Err(err).Str("module", "signal").Str("type", string(m.Type)).Msg("send")
	}
}
