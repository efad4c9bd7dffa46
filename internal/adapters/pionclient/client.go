package pionclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/classroom/internal/adapters/rtc"
	"github.com/dkeye/classroom/internal/adapters/wsclient"
	"github.com/dkeye/classroom/internal/domain"
	"github.com/dkeye/classroom/internal/sdk"
	"github.com/dkeye/classroom/internal/signaling"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrAlreadyJoined = errors.New("media room already joined")
	ErrForeignTrack  = errors.New("track was not created by this client")
)

const (
	// DefaultSubscribeTimeout bounds the wait for announced media to arrive.
	DefaultSubscribeTimeout = 10 * time.Second
	// DefaultQualityInterval is how often the link quality is sampled.
	DefaultQualityInterval = 2 * time.Second
)

type remoteKey struct {
	uid  domain.ParticipantID
	kind domain.MediaKind
}

// RemoteTrack is media forwarded by the room server. Its stream id is
// the publisher's participant id.
type RemoteTrack struct {
	uid   domain.ParticipantID
	kind  domain.MediaKind
	track *webrtc.TrackRemote
}

func (r *RemoteTrack) Participant() domain.ParticipantID { return r.uid }
func (r *RemoteTrack) Kind() domain.MediaKind            { return r.kind }
func (r *RemoteTrack) MimeType() string                  { return r.track.Codec().MimeType }

func (r *RemoteTrack) ReadRTP() (*rtp.Packet, error) {
	p, _, err := r.track.ReadRTP()
	return p, err
}

type localTrack interface {
	Local() webrtc.TrackLocal
}

// Client joins a media room through the signaling connection. The room
// server always offers; the client answers with one send-only audio and
// one send-only video transceiver and publishes by swapping the track
// on those senders.
type Client struct {
	conn   *wsclient.Conn
	api    *webrtc.API
	cfg    webrtc.Configuration
	logger zerolog.Logger

	SubscribeTimeout time.Duration
	QualityInterval  time.Duration

	// negMu serializes offers and candidates against Join and Leave.
	negMu      sync.Mutex
	candidates rtc.PendingCandidates

	mu       sync.Mutex
	pc       *webrtc.PeerConnection
	senders  map[domain.MediaKind]*webrtc.RTPSender
	remotes  map[remoteKey]*RemoteTrack
	waiters  map[remoteKey][]chan *RemoteTrack
	state    sdk.ConnectionState
	answered chan struct{}
	onEvent  func(sdk.Event)
	// qualityStop ends the quality sampler, which closes qualityDone.
	qualityStop chan struct{}
	qualityDone chan struct{}
}

func New(conn *wsclient.Conn, api *webrtc.API, cfg webrtc.Configuration) *Client {
	c := &Client{
		conn:             conn,
		api:              api,
		cfg:              cfg,
		logger:           log.With().Str("module", "pionclient").Logger(),
		SubscribeTimeout: DefaultSubscribeTimeout,
		QualityInterval:  DefaultQualityInterval,
		remotes:          make(map[remoteKey]*RemoteTrack),
		waiters:          make(map[remoteKey][]chan *RemoteTrack),
	}
	conn.OnPush(c.handlePush)
	conn.OnClose(c.handleClose)
	return c
}

func (c *Client) OnEvent(fn func(sdk.Event)) {
	c.mu.Lock()
	c.onEvent = fn
	c.mu.Unlock()
}

func (c *Client) emit(ev sdk.Event) {
	c.mu.Lock()
	fn := c.onEvent
	c.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

// Join returns once the first offer has been answered.
func (c *Client) Join(ctx context.Context, room domain.RoomID, token string, uid domain.ParticipantID) error {
	c.negMu.Lock()
	c.mu.Lock()
	if c.pc != nil {
		c.mu.Unlock()
		c.negMu.Unlock()
		return ErrAlreadyJoined
	}
	pc, senders, err := c.newPeerConnection()
	if err != nil {
		c.mu.Unlock()
		c.negMu.Unlock()
		return err
	}
	c.pc, c.senders = pc, senders
	c.state = sdk.StateConnecting
	c.answered = make(chan struct{})
	answered := c.answered
	c.candidates = rtc.PendingCandidates{}
	c.mu.Unlock()
	c.negMu.Unlock()

	c.logger.Info().Str("room", string(room)).Str("uid", string(uid)).Msg("joining media room")
	if _, err := c.conn.Request(ctx, signaling.Message{Type: signaling.TypeMediaJoin, Room: room, Token: token}); err != nil {
		c.teardown()
		return err
	}
	select {
	case <-answered:
		c.startQuality(pc)
		return nil
	case <-ctx.Done():
		c.teardown()
		return fmt.Errorf("waiting for offer: %w", ctx.Err())
	}
}

func (c *Client) newPeerConnection() (*webrtc.PeerConnection, map[domain.MediaKind]*webrtc.RTPSender, error) {
	pc, err := c.api.NewPeerConnection(c.cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("new peer connection: %w", err)
	}
	senders := make(map[domain.MediaKind]*webrtc.RTPSender, 2)
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		tr, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionSendonly})
		if err != nil {
			_ = pc.Close()
			return nil, nil, fmt.Errorf("add %s transceiver: %w", kind, err)
		}
		sender := tr.Sender()
		senders[domain.MediaKind(kind.String())] = sender
		go drainRTCP(sender)
	}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		ci := cand.ToJSON()
		if err := c.conn.Send(signaling.Message{Type: signaling.TypeCandidate, Candidate: &ci}); err != nil {
			c.logger.Debug().Err(err).Msg("send candidate")
		}
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		c.addRemote(pc, track)
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.setState(pc, connectionState(s))
	})
	return pc, senders, nil
}

func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func connectionState(s webrtc.PeerConnectionState) sdk.ConnectionState {
	switch s {
	case webrtc.PeerConnectionStateConnected:
		return sdk.StateConnected
	case webrtc.PeerConnectionStateDisconnected:
		return sdk.StateReconnecting
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
		return sdk.StateDisconnected
	default:
		return sdk.StateConnecting
	}
}

// setState ignores changes of a connection that is no longer current.
func (c *Client) setState(pc *webrtc.PeerConnection, next sdk.ConnectionState) {
	c.mu.Lock()
	if c.pc != pc || c.state == next {
		c.mu.Unlock()
		return
	}
	prev := c.state
	c.state = next
	c.mu.Unlock()
	c.logger.Info().Str("prev", string(prev)).Str("state", string(next)).Msg("connection state")
	c.emit(sdk.ConnectionStateChanged{Prev: prev, Current: next})
}

func (c *Client) handleClose(err error) {
	c.mu.Lock()
	pc := c.pc
	c.mu.Unlock()
	if pc == nil {
		return
	}
	c.logger.Warn().Err(err).Msg("signaling lost while in media room")
	c.setState(pc, sdk.StateDisconnected)
}

func (c *Client) handlePush(m signaling.Message) {
	switch m.Type {
	case signaling.TypeOffer:
		if err := c.answer(m.SDP); err != nil {
			c.logger.Error().Err(err).Msg("answer offer")
		}
	case signaling.TypeCandidate:
		if m.Candidate == nil {
			return
		}
		if err := c.addCandidate(*m.Candidate); err != nil {
			c.logger.Warn().Err(err).Msg("add candidate")
		}
	case signaling.TypePublished:
		c.emit(sdk.ParticipantPublished{ID: m.UID, Kind: m.Kind})
	case signaling.TypeMemberLeft:
		c.dropRemotes(m.UID)
		c.emit(sdk.ParticipantLeft{ID: m.UID})
	default:
		c.logger.Debug().Str("type", string(m.Type)).Str("uid", string(m.UID)).Msg("push")
	}
}

func (c *Client) current() *webrtc.PeerConnection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pc
}

func (c *Client) answer(sdp string) error {
	c.negMu.Lock()
	defer c.negMu.Unlock()
	pc := c.current()
	if pc == nil {
		return nil
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	if err := c.candidates.Flush(pc); err != nil {
		c.logger.Warn().Err(err).Msg("flush candidates")
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	if err := c.conn.Send(signaling.Message{Type: signaling.TypeAnswer, SDP: answer.SDP}); err != nil {
		return err
	}

	c.mu.Lock()
	if c.pc == pc && c.answered != nil {
		select {
		case <-c.answered:
		default:
			close(c.answered)
		}
	}
	c.mu.Unlock()
	return nil
}

func (c *Client) addCandidate(ci webrtc.ICECandidateInit) error {
	c.negMu.Lock()
	defer c.negMu.Unlock()
	pc := c.current()
	if pc == nil {
		return nil
	}
	return c.candidates.Add(pc, ci)
}

func (c *Client) addRemote(pc *webrtc.PeerConnection, track *webrtc.TrackRemote) {
	key := remoteKey{uid: domain.ParticipantID(track.StreamID()), kind: domain.MediaKind(track.Kind().String())}
	rt := &RemoteTrack{uid: key.uid, kind: key.kind, track: track}

	c.mu.Lock()
	if c.pc != pc {
		c.mu.Unlock()
		return
	}
	c.remotes[key] = rt
	waiters := c.waiters[key]
	delete(c.waiters, key)
	c.mu.Unlock()

	c.logger.Info().Str("uid", string(key.uid)).Str("kind", string(key.kind)).Str("codec", rt.MimeType()).Msg("remote track")
	for _, w := range waiters {
		w <- rt
	}
}

func (c *Client) dropRemotes(uid domain.ParticipantID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.remotes {
		if key.uid == uid {
			delete(c.remotes, key)
		}
	}
}

// Subscribe returns the forwarded track of uid, waiting for it when the
// announcement arrived ahead of the media.
func (c *Client) Subscribe(ctx context.Context, uid domain.ParticipantID, kind domain.MediaKind) (sdk.RemoteTrack, error) {
	key := remoteKey{uid: uid, kind: kind}
	c.mu.Lock()
	if c.pc == nil {
		c.mu.Unlock()
		return nil, domain.ErrNotJoined
	}
	if rt, ok := c.remotes[key]; ok {
		c.mu.Unlock()
		return rt, nil
	}
	ch := make(chan *RemoteTrack, 1)
	c.waiters[key] = append(c.waiters[key], ch)
	c.mu.Unlock()

	timeout := c.SubscribeTimeout
	if timeout <= 0 {
		timeout = DefaultSubscribeTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case rt, ok := <-ch:
		if !ok {
			return nil, domain.ErrNotJoined
		}
		return rt, nil
	case <-ctx.Done():
		c.forgetWaiter(key, ch)
		return nil, ctx.Err()
	case <-timer.C:
		c.forgetWaiter(key, ch)
		return nil, fmt.Errorf("no %s media from %s after %s", kind, uid, timeout)
	}
}

func (c *Client) forgetWaiter(key remoteKey, ch chan *RemoteTrack) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ws := c.waiters[key]
	for i, w := range ws {
		if w == ch {
			c.waiters[key] = append(ws[:i], ws[i+1:]...)
			break
		}
	}
	if len(c.waiters[key]) == 0 {
		delete(c.waiters, key)
	}
}

func (c *Client) Publish(ctx context.Context, tracks ...sdk.LocalTrack) error {
	return c.setTracks(ctx, signaling.TypePublish, tracks)
}

func (c *Client) Unpublish(ctx context.Context, tracks ...sdk.LocalTrack) error {
	return c.setTracks(ctx, signaling.TypeUnpublish, tracks)
}

func (c *Client) setTracks(ctx context.Context, op signaling.Type, tracks []sdk.LocalTrack) error {
	for _, t := range tracks {
		lt, ok := t.(localTrack)
		if !ok {
			return fmt.Errorf("%s %s: %w", op, t.Kind(), ErrForeignTrack)
		}
		c.mu.Lock()
		sender := c.senders[t.Kind()]
		c.mu.Unlock()
		if sender == nil {
			return domain.ErrNotJoined
		}
		var next webrtc.TrackLocal
		if op == signaling.TypePublish {
			next = lt.Local()
		}
		if err := sender.ReplaceTrack(next); err != nil {
			return fmt.Errorf("%s %s: %w", op, t.Kind(), err)
		}
		if _, err := c.conn.Request(ctx, signaling.Message{Type: op, Kind: t.Kind()}); err != nil {
			return err
		}
		c.logger.Info().Str("op", string(op)).Str("kind", string(t.Kind())).Msg("track")
	}
	return nil
}

// Leave always closes the local connection, even when the server
// cannot be told.
func (c *Client) Leave(ctx context.Context) error {
	if c.current() == nil {
		return nil
	}
	_, err := c.conn.Request(ctx, signaling.Message{Type: signaling.TypeMediaLeave})
	c.teardown()
	c.logger.Info().Msg("left media room")
	return err
}

func (c *Client) teardown() {
	c.negMu.Lock()
	c.mu.Lock()
	pc := c.pc
	c.pc, c.senders = nil, nil
	c.state = ""
	c.answered = nil
	stop, done := c.qualityStop, c.qualityDone
	c.qualityStop, c.qualityDone = nil, nil
	clear(c.remotes)
	for key, ws := range c.waiters {
		for _, w := range ws {
			close(w)
		}
		delete(c.waiters, key)
	}
	c.mu.Unlock()
	c.negMu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	if pc != nil {
		if err := pc.Close(); err != nil {
			c.logger.Warn().Err(err).Msg("close peer connection")
		}
	}
}

func (c *Client) startQuality(pc *webrtc.PeerConnection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pc != pc || c.qualityStop != nil || c.QualityInterval <= 0 {
		return
	}
	c.qualityStop, c.qualityDone = make(chan struct{}), make(chan struct{})
	go c.watchQuality(pc, c.QualityInterval, c.qualityStop, c.qualityDone)
}

// watchQuality emits NetworkQuality whenever the graded level changes.
func (c *Client) watchQuality(pc *webrtc.PeerConnection, every time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	last := sdk.QualityUnknown
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		q, rtt := sampleQuality(pc)
		if q == last {
			continue
		}
		last = q
		c.logger.Debug().Str("quality", q.String()).Dur("rtt", rtt).Msg("network quality")
		c.emit(sdk.NetworkQuality{Quality: q, RTT: rtt})
	}
}

// sampleQuality grades the round trip of a succeeded candidate pair of
// pc, the nominated one when it has a measurement.
func sampleQuality(pc *webrtc.PeerConnection) (sdk.NetworkQualityLevel, time.Duration) {
	switch pc.ConnectionState() {
	case webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateFailed:
		return sdk.QualityDown, 0
	}
	var rtt time.Duration
	for _, s := range pc.GetStats() {
		pair, ok := s.(webrtc.ICECandidatePairStats)
		if !ok || pair.State != webrtc.StatsICECandidatePairStateSucceeded || pair.CurrentRoundTripTime <= 0 {
			continue
		}
		rtt = time.Duration(pair.CurrentRoundTripTime * float64(time.Second))
		if pair.Nominated {
			break
		}
	}
	return sdk.QualityFromRTT(rtt), rtt
}
