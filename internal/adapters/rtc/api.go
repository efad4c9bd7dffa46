package rtc

import (
	"fmt"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

// DefaultICEServers is used when the configuration lists none.
var DefaultICEServers = []string{"stun:stun.l.google.com:19302"}

// SettingOption tweaks the pion setting engine.
type SettingOption func(*webrtc.SettingEngine)

// IncludeLoopback gathers loopback host candidates, for single-host runs.
func IncludeLoopback(s *webrtc.SettingEngine) {
	s.SetIncludeLoopbackCandidate(true)
}

// NewAPI builds a pion API with the default codecs and interceptors,
// logging through zerolog. Both the room server and the client use it.
func NewAPI(factory *LoggerFactory, opts ...SettingOption) (*webrtc.API, error) {
	if factory == nil {
		factory = defaultFactory()
	}
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}
	s := webrtc.SettingEngine{LoggerFactory: factory}
	for _, opt := range opts {
		opt(&s)
	}
	return webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(s),
	), nil
}

func Configuration(iceServers []string) webrtc.Configuration {
	if len(iceServers) == 0 {
		iceServers = DefaultICEServers
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: iceServers}},
	}
}

// PendingCandidates holds remote candidates that arrive before the
// remote description they belong to.
type PendingCandidates struct {
	list []webrtc.ICECandidateInit
}

// Add applies c now if pc has a remote description, otherwise queues it.
func (p *PendingCandidates) Add(pc *webrtc.PeerConnection, c webrtc.ICECandidateInit) error {
	if pc.RemoteDescription() == nil {
		p.list = append(p.list, c)
		return nil
	}
	return pc.AddICECandidate(c)
}

// Flush applies queued candidates; call it after SetRemoteDescription.
func (p *PendingCandidates) Flush(pc *webrtc.PeerConnection) error {
	list := p.list
	p.list = nil
	var firstErr error
	for _, c := range list {
		if err := pc.AddICECandidate(c); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
