package core

import (
	"context"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
)

// MediaConnection is the server end of one participant's PeerConnection.
// The server always offers; the participant only answers.
type MediaConnection interface {
	// Start configures internal callbacks and binds the connection lifetime to ctx.
	Start(ctx context.Context) error
	// Close should stop all underlying media resources.
	Close()
	IsClosed() bool
	// AddICECandidate applies a remote ICE candidate, queueing it until
	// the answer arrives.
	AddICECandidate(webrtc.ICECandidateInit) error
	ApplyAnswer(webrtc.SessionDescription) error
	// Negotiate sends a fresh offer, or schedules one if an offer is
	// still waiting for its answer.
	Negotiate() error
	OnOffer(func(webrtc.SessionDescription))
	// OnICECandidate sets a callback for newly gathered local ICE candidates.
	OnICECandidate(func(webrtc.ICECandidateInit))
	// OnTrack sets a callback that will be invoked when a new remote track arrives.
	OnTrack(func(ctx context.Context, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver))
	// AddLocalTrack attaches a forwarding track; the caller renegotiates.
	AddLocalTrack(track *webrtc.TrackLocalStaticRTP) (*webrtc.RTPSender, error)
	RemoveSender(*webrtc.RTPSender) error
	WriteRTCP([]rtcp.Packet) error
	// OnClosed sets a callback for cleanup media session.
	OnClosed(func())
}
