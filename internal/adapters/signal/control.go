package signal

import "github.com/dkeye/classroom/internal/signaling"

func (ctl *SignalWSController) handlePing(conn *WsSignalConn, m signaling.Message) {
	ctl.send(conn, signaling.Message{Type: signaling.TypePong, ID: m.ID})
}
