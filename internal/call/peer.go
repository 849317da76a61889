// Package call implements peer-to-peer call signaling and session
// negotiation: a small state machine that brings two peers from idle to
// media flowing and back, over a retained last-write-wins signal channel.
// The package talks to the channel through signal.Channel and to the
// platform through the Acquirer and PeerSession seams, so the negotiator
// itself has no transport or hardware dependency.
package call

import (
	"context"

	"github.com/Mayank77maruti/Meu-ChaT/internal/models"
)

// LocalMedia owns the captured local tracks of one call. It is exclusively
// owned by one negotiator and stopped exactly once on call end; Stop must be
// safe to call multiple times.
type LocalMedia interface {
	Stop()
}

// Acquirer requests local audio/video capture. Audio is always requested;
// a video track only when callType is video. Failures are reported as
// *MediaError.
type Acquirer interface {
	Acquire(ctx context.Context, callType models.CallType) (LocalMedia, error)
}

// PeerSession wraps one RTC peer connection: local/remote descriptions,
// trickled ICE candidates and remote track plumbing. Implementations must
// tolerate Close being called more than once.
type PeerSession interface {
	// AddLocalMedia attaches the captured local tracks for sending.
	AddLocalMedia(media LocalMedia) error

	// CreateOffer creates an SDP offer and sets it as local description.
	CreateOffer(ctx context.Context) (models.SessionDescription, error)

	// CreateAnswer creates an SDP answer and sets it as local description.
	// The remote description must already be set.
	CreateAnswer(ctx context.Context) (models.SessionDescription, error)

	SetRemoteDescription(desc models.SessionDescription) error

	AddICECandidate(cand models.ICECandidate) error

	// OnICECandidate registers the callback fired for each locally
	// gathered candidate. Must be registered before CreateOffer/Answer.
	OnICECandidate(fn func(models.ICECandidate))

	// OnRemoteTrack registers the callback fired once, when the first
	// remote media track arrives.
	OnRemoteTrack(fn func())

	Close() error
}

// PeerFactory builds a fresh PeerSession per call attempt.
type PeerFactory func() (PeerSession, error)
