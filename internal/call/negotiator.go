package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Mayank77maruti/Meu-ChaT/internal/models"
	"github.com/Mayank77maruti/Meu-ChaT/internal/signal"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrCancelled is returned when a call was ended locally while an async step
// (typically the media permission prompt) was still in flight. The late
// result is discarded instead of resurrecting the call.
var ErrCancelled = errors.New("call cancelled")

// Options configures one Negotiator. Channel, Acquirer and NewPeer are
// required; RingTimeout of zero disables the unanswered-offer timeout.
type Options struct {
	CallID   string
	SelfID   string
	RemoteID string

	Channel  signal.Channel
	Acquirer Acquirer
	NewPeer  PeerFactory

	RingTimeout time.Duration
	EndGrace    time.Duration

	Logger zerolog.Logger

	// OnState is invoked after every state transition, outside the
	// negotiator's lock. It must not call back into the negotiator
	// synchronously.
	OnState func(State)
}

// Negotiator drives a single call attempt from initiation or receipt through
// termination, for exactly one local participant. It owns exactly one
// PeerSession, one LocalMedia and one channel subscription, and is discarded
// once it reaches StateEnded.
//
// All channel observations, peer callbacks and timers funnel into methods
// guarded by one mutex; correctness rests on the state guards, not on any
// ordering promise from the channel.
type Negotiator struct {
	opts Options
	log  zerolog.Logger

	mu       sync.Mutex
	state    State
	callType models.CallType
	offer    *models.CallRecord // the remote offer, callee side only
	peer     PeerSession
	media    LocalMedia

	// engaged is set once the call is visible to the remote side (offer
	// written, or an incoming offer observed). A call that dies earlier
	// never writes anything to the channel.
	engaged bool

	// accepting blocks a second Accept while the permission prompt of the
	// first one is still open.
	accepting bool

	// written holds the nonces of every record this instance authored, so
	// the echo of an own write coming back through the subscription is
	// recognized by exact comparison.
	written map[string]struct{}

	// pending queues remote ICE candidates that arrived before the remote
	// description was set.
	pending []models.ICECandidate

	// localPending queues locally gathered candidates until the call is
	// engaged. A call that dies before its offer write must leave no
	// retained candidate behind, since nothing would clean it up.
	localPending []models.ICECandidate

	remoteSet   bool
	unsubscribe func()
	ringTimer   *time.Timer
}

type endTrigger int

const (
	triggerLocal endTrigger = iota
	triggerRemote
	triggerReject
	triggerTimeout
	triggerMediaFailure
)

// NewNegotiator returns a negotiator in StateIdle.
func NewNegotiator(opts Options) *Negotiator {
	return &Negotiator{
		opts: opts,
		log: opts.Logger.With().
			Str("call_id", opts.CallID).
			Str("self", opts.SelfID).
			Logger(),
		state:   StateIdle,
		written: make(map[string]struct{}),
	}
}

// State returns the current lifecycle state.
func (n *Negotiator) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// CallID returns the call identifier shared by both peers.
func (n *Negotiator) CallID() string { return n.opts.CallID }

// RemoteID returns the remote participant id.
func (n *Negotiator) RemoteID() string { return n.opts.RemoteID }

// CallType returns the negotiated media kind.
func (n *Negotiator) CallType() models.CallType {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.callType
}

// Dial starts an outbound call: acquire local media, create an offer, write
// it to the channel and ring until answered, rejected or timed out. A media
// acquisition failure ends the call without ever touching the channel and is
// returned as a *MediaError.
func (n *Negotiator) Dial(ctx context.Context, callType models.CallType) error {
	n.mu.Lock()
	if n.state != StateIdle {
		n.mu.Unlock()
		return fmt.Errorf("cannot start call in state %s", n.state)
	}
	n.callType = callType
	n.setStateLocked(StateInitiating)
	n.mu.Unlock()
	n.notify(StateInitiating)

	media, err := n.opts.Acquirer.Acquire(ctx, callType)
	if err != nil {
		n.log.Error().Err(err).Msg("Local media acquisition failed")
		n.end(context.Background(), triggerMediaFailure, models.CallStatusEnded)
		return err
	}

	n.mu.Lock()
	if n.state != StateInitiating {
		// Hung up while the permission prompt was open. The prompt
		// itself cannot be dismissed programmatically, so a late grant
		// lands here and is discarded.
		n.mu.Unlock()
		media.Stop()
		return ErrCancelled
	}
	n.media = media

	offerRec, err := n.setupPeerLocked(ctx, models.CallKindOffer)
	if err != nil {
		n.mu.Unlock()
		n.end(context.Background(), triggerLocal, models.CallStatusEnded)
		return err
	}
	n.mu.Unlock()

	if err := n.subscribe(ctx); err != nil {
		n.end(context.Background(), triggerLocal, models.CallStatusEnded)
		return fmt.Errorf("subscribe to signal channel: %w", err)
	}

	n.mu.Lock()
	if n.state != StateInitiating {
		n.mu.Unlock()
		return ErrCancelled
	}
	n.engaged = true
	n.setStateLocked(StateAwaitingAnswer)
	n.startRingTimerLocked()
	n.mu.Unlock()

	if err := n.opts.Channel.Write(ctx, n.opts.CallID, offerRec); err != nil {
		n.log.Error().Err(err).Msg("Failed to write offer")
		n.end(context.Background(), triggerLocal, models.CallStatusEnded)
		return fmt.Errorf("write offer: %w", err)
	}
	n.flushLocalCandidates(ctx)
	n.notify(StateAwaitingAnswer)
	n.log.Info().Str("call_type", string(callType)).Msg("Offer written, ringing")
	return nil
}

// ring seeds a callee-side negotiator with an observed offer and surfaces
// the incoming ring. No media is requested until Accept.
func (n *Negotiator) ring(ctx context.Context, offer *models.CallRecord) error {
	n.mu.Lock()
	if n.state != StateIdle {
		n.mu.Unlock()
		return fmt.Errorf("cannot ring in state %s", n.state)
	}
	n.offer = offer
	n.callType = offer.CallType
	n.engaged = true
	n.setStateLocked(StateIncomingRing)
	n.mu.Unlock()

	if err := n.subscribe(ctx); err != nil {
		n.end(context.Background(), triggerRemote, models.CallStatusEnded)
		return fmt.Errorf("subscribe to signal channel: %w", err)
	}
	n.notify(StateIncomingRing)
	n.log.Info().Str("from", offer.From).Str("call_type", string(offer.CallType)).Msg("Incoming call")
	return nil
}

// Accept answers an incoming call: acquire local media matching the offer's
// declared call type, apply the remote offer, create an answer and write it.
func (n *Negotiator) Accept(ctx context.Context) error {
	n.mu.Lock()
	if n.state != StateIncomingRing || n.accepting {
		state := n.state
		n.mu.Unlock()
		return fmt.Errorf("cannot accept call in state %s", state)
	}
	n.accepting = true
	offer := n.offer
	n.mu.Unlock()

	media, err := n.opts.Acquirer.Acquire(ctx, offer.CallType)
	if err != nil {
		n.log.Error().Err(err).Msg("Local media acquisition failed")
		// The caller is still ringing; tell it the call is over.
		n.end(context.Background(), triggerLocal, models.CallStatusEnded)
		return err
	}

	n.mu.Lock()
	if n.state != StateIncomingRing {
		n.mu.Unlock()
		media.Stop()
		return ErrCancelled
	}
	n.media = media

	answerRec, err := n.setupPeerLocked(ctx, models.CallKindAnswer)
	if err != nil {
		n.mu.Unlock()
		n.end(context.Background(), triggerLocal, models.CallStatusEnded)
		return err
	}
	n.setStateLocked(StateConnecting)
	n.mu.Unlock()

	if err := n.opts.Channel.Write(ctx, n.opts.CallID, answerRec); err != nil {
		n.log.Error().Err(err).Msg("Failed to write answer")
		n.end(context.Background(), triggerLocal, models.CallStatusEnded)
		return fmt.Errorf("write answer: %w", err)
	}
	n.notify(StateConnecting)
	n.log.Info().Msg("Answer written")
	return nil
}

// Reject declines an incoming call. Nothing is released because nothing was
// acquired; the terminal record carries the rejected status.
func (n *Negotiator) Reject(ctx context.Context) error {
	n.mu.Lock()
	if n.state != StateIncomingRing {
		state := n.state
		n.mu.Unlock()
		return fmt.Errorf("cannot reject call in state %s", state)
	}
	n.mu.Unlock()
	return n.end(ctx, triggerReject, models.CallStatusRejected)
}

// End hangs up locally. It is idempotent and safe from any trigger path:
// explicit hangup, component teardown or a media error. Cleanup always
// completes locally even when the terminal channel write fails.
func (n *Negotiator) End(ctx context.Context) error {
	return n.end(ctx, triggerLocal, models.CallStatusEnded)
}

// setupPeerLocked builds the peer session, wires its callbacks, attaches
// local media and produces the offer or answer record. Caller holds n.mu.
func (n *Negotiator) setupPeerLocked(ctx context.Context, kind models.CallKind) (*models.CallRecord, error) {
	peer, err := n.opts.NewPeer()
	if err != nil {
		return nil, fmt.Errorf("create peer session: %w", err)
	}
	n.peer = peer
	peer.OnICECandidate(n.handleLocalCandidate)
	peer.OnRemoteTrack(n.handleRemoteTrack)

	if err := peer.AddLocalMedia(n.media); err != nil {
		return nil, fmt.Errorf("attach local media: %w", err)
	}

	var desc models.SessionDescription
	var status models.CallStatus
	switch kind {
	case models.CallKindOffer:
		status = models.CallStatusRinging
		desc, err = peer.CreateOffer(ctx)
	case models.CallKindAnswer:
		status = models.CallStatusAccepted
		if err := peer.SetRemoteDescription(*n.offer.Description); err != nil {
			return nil, fmt.Errorf("apply remote offer: %w", err)
		}
		n.remoteSet = true
		n.flushPendingLocked()
		desc, err = peer.CreateAnswer(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", kind, err)
	}

	rec := n.newRecordLocked(kind, status)
	rec.CallType = n.callType
	rec.Description = &desc
	return rec, nil
}

// newRecordLocked builds a record authored by this negotiator and remembers
// its nonce for self-signal suppression. Caller holds n.mu.
func (n *Negotiator) newRecordLocked(kind models.CallKind, status models.CallStatus) *models.CallRecord {
	nonce := uuid.New().String()
	n.written[nonce] = struct{}{}
	return &models.CallRecord{
		CallID:    n.opts.CallID,
		Kind:      kind,
		From:      n.opts.SelfID,
		To:        n.opts.RemoteID,
		Status:    status,
		Nonce:     nonce,
		Timestamp: models.NowMillis(),
	}
}

func (n *Negotiator) subscribe(ctx context.Context) error {
	unsub, err := n.opts.Channel.Subscribe(ctx, n.opts.CallID, n.handleRecord)
	if err != nil {
		return err
	}
	n.mu.Lock()
	if n.state.terminal() {
		n.mu.Unlock()
		unsub()
		return nil
	}
	n.unsubscribe = unsub
	n.mu.Unlock()
	return nil
}

// handleRecord processes one observed channel record. Records authored by
// this instance (recognized by nonce, with the sender id as a second guard)
// are echoes of its own writes and ignored. A malformed record is a
// signaling error: logged and dropped, never fatal.
func (n *Negotiator) handleRecord(rec *models.CallRecord) {
	if err := rec.Validate(); err != nil {
		serr := &SignalingError{Op: "validate record", Err: err}
		n.log.Warn().Err(serr).Msg("Dropping malformed call record")
		return
	}

	n.mu.Lock()
	if n.state == StateEnding || n.state.terminal() {
		n.mu.Unlock()
		return
	}
	if _, own := n.written[rec.Nonce]; own && rec.Nonce != "" {
		n.mu.Unlock()
		return
	}
	if rec.From == n.opts.SelfID {
		n.mu.Unlock()
		return
	}

	switch rec.Kind {
	case models.CallKindOffer:
		// Incoming offers are routed by the Manager; a negotiator that
		// observes one here is the callee seeing its own offer replay.
		n.mu.Unlock()

	case models.CallKindAnswer:
		n.handleAnswerLocked(rec)

	case models.CallKindCandidate:
		n.handleRemoteCandidateLocked(rec)

	case models.CallKindEnd:
		n.mu.Unlock()
		n.log.Info().Str("from", rec.From).Str("status", string(rec.Status)).Msg("Remote ended call")
		n.end(context.Background(), triggerRemote, models.CallStatusEnded)

	default:
		n.mu.Unlock()
	}
}

// handleAnswerLocked applies the remote answer. Called with n.mu held;
// releases it.
func (n *Negotiator) handleAnswerLocked(rec *models.CallRecord) {
	if n.state != StateAwaitingAnswer {
		n.mu.Unlock()
		return
	}
	n.stopRingTimerLocked()
	if err := n.peer.SetRemoteDescription(*rec.Description); err != nil {
		// Malformed remote description: logged, not fatal. The call
		// keeps ringing and falls to the ring timeout.
		serr := &SignalingError{Op: "set remote answer", Err: err}
		n.log.Warn().Err(serr).Msg("Ignoring unusable answer")
		n.startRingTimerLocked()
		n.mu.Unlock()
		return
	}
	n.remoteSet = true
	n.flushPendingLocked()
	n.setStateLocked(StateConnecting)
	n.mu.Unlock()
	n.notify(StateConnecting)
	n.log.Info().Msg("Answer received")
}

// handleRemoteCandidateLocked adds or queues a trickled remote candidate.
// Called with n.mu held; releases it. A candidate observed before the remote
// description is set is queued, not an error; an add failure is logged and
// the candidate dropped, never fatal.
func (n *Negotiator) handleRemoteCandidateLocked(rec *models.CallRecord) {
	cand := *rec.Candidate
	if n.peer == nil || !n.remoteSet {
		n.pending = append(n.pending, cand)
		n.mu.Unlock()
		return
	}
	if err := n.peer.AddICECandidate(cand); err != nil {
		serr := &SignalingError{Op: "add remote candidate", Err: err}
		n.log.Warn().Err(serr).Msg("Dropping remote candidate")
	}
	n.mu.Unlock()
}

// flushPendingLocked adds every queued early candidate now that the remote
// description is set. Caller holds n.mu.
func (n *Negotiator) flushPendingLocked() {
	for _, cand := range n.pending {
		if err := n.peer.AddICECandidate(cand); err != nil {
			serr := &SignalingError{Op: "add queued candidate", Err: err}
			n.log.Warn().Err(serr).Msg("Dropping queued candidate")
		}
	}
	n.pending = nil
}

// handleLocalCandidate publishes a locally gathered candidate under this
// peer's sub-path of the channel. Candidates gathered before the call is
// engaged are held back and flushed once the offer write succeeds.
func (n *Negotiator) handleLocalCandidate(cand models.ICECandidate) {
	n.mu.Lock()
	if n.state == StateEnding || n.state.terminal() || n.state == StateIdle {
		n.mu.Unlock()
		return
	}
	if !n.engaged {
		n.localPending = append(n.localPending, cand)
		n.mu.Unlock()
		return
	}
	rec := n.newRecordLocked(models.CallKindCandidate, "")
	rec.Candidate = &cand
	n.mu.Unlock()

	if err := n.opts.Channel.WriteCandidate(context.Background(), n.opts.CallID, n.opts.SelfID, rec); err != nil {
		n.log.Warn().Err(err).Msg("Failed to write local candidate")
	}
}

// flushLocalCandidates publishes every candidate held back before engagement.
func (n *Negotiator) flushLocalCandidates(ctx context.Context) {
	n.mu.Lock()
	if n.state == StateEnding || n.state.terminal() || !n.engaged {
		n.mu.Unlock()
		return
	}
	recs := make([]*models.CallRecord, 0, len(n.localPending))
	for _, cand := range n.localPending {
		c := cand
		rec := n.newRecordLocked(models.CallKindCandidate, "")
		rec.Candidate = &c
		recs = append(recs, rec)
	}
	n.localPending = nil
	n.mu.Unlock()

	for _, rec := range recs {
		if err := n.opts.Channel.WriteCandidate(ctx, n.opts.CallID, n.opts.SelfID, rec); err != nil {
			n.log.Warn().Err(err).Msg("Failed to write local candidate")
		}
	}
}

// handleRemoteTrack moves the call to Active when the first remote media
// track arrives.
func (n *Negotiator) handleRemoteTrack() {
	n.mu.Lock()
	if n.state != StateConnecting {
		n.mu.Unlock()
		return
	}
	n.setStateLocked(StateActive)
	n.mu.Unlock()
	n.notify(StateActive)
	n.log.Info().Msg("Remote media flowing")
}

// end performs the one-way transition into Ending/Ended. Local resources are
// released first, then the terminal record is written (skipped when the
// teardown was triggered by observing that very record, or when nothing was
// ever written), then removal is scheduled after the grace delay.
func (n *Negotiator) end(ctx context.Context, trigger endTrigger, status models.CallStatus) error {
	n.mu.Lock()
	if n.state == StateEnding || n.state.terminal() {
		n.mu.Unlock()
		return nil
	}
	n.setStateLocked(StateEnding)
	n.stopRingTimerLocked()
	media := n.media
	peer := n.peer
	unsub := n.unsubscribe

	writeTerminal := trigger != triggerRemote && trigger != triggerMediaFailure && n.engaged
	var rec *models.CallRecord
	if writeTerminal {
		rec = n.newRecordLocked(models.CallKindEnd, status)
	}
	n.mu.Unlock()
	n.notify(StateEnding)

	// Release local resources before any channel traffic; a failed write
	// must never leave tracks live or the connection open.
	if media != nil {
		media.Stop()
	}
	if peer != nil {
		if err := peer.Close(); err != nil {
			n.log.Warn().Err(err).Msg("Peer connection close failed")
		}
	}
	if unsub != nil {
		unsub()
	}

	if rec != nil {
		if err := n.opts.Channel.Write(ctx, n.opts.CallID, rec); err != nil {
			// Logged, never re-thrown: the local call is over for the
			// user even if the remote signal delivery failed.
			n.log.Warn().Err(err).Msg("Failed to write end-call record")
		}
		n.opts.Channel.RemoveAfter(n.opts.CallID, n.opts.EndGrace)
	}

	n.mu.Lock()
	n.setStateLocked(StateEnded)
	n.mu.Unlock()
	n.notify(StateEnded)
	n.log.Info().Str("status", string(status)).Msg("Call ended")
	return nil
}

func (n *Negotiator) startRingTimerLocked() {
	if n.opts.RingTimeout <= 0 || n.ringTimer != nil {
		return
	}
	n.ringTimer = time.AfterFunc(n.opts.RingTimeout, func() {
		n.mu.Lock()
		ringing := n.state == StateAwaitingAnswer
		n.mu.Unlock()
		if ringing {
			n.log.Info().Dur("timeout", n.opts.RingTimeout).Msg("Call unanswered, cancelling")
			n.end(context.Background(), triggerTimeout, models.CallStatusEnded)
		}
	})
}

func (n *Negotiator) stopRingTimerLocked() {
	if n.ringTimer != nil {
		n.ringTimer.Stop()
		n.ringTimer = nil
	}
}

func (n *Negotiator) setStateLocked(s State) {
	n.state = s
}

func (n *Negotiator) notify(s State) {
	if n.opts.OnState != nil {
		n.opts.OnState(s)
	}
}
