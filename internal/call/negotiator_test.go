package call

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mayank77maruti/Meu-ChaT/internal/models"
	"github.com/Mayank77maruti/Meu-ChaT/internal/signal"
)

type fakeMedia struct {
	mu      sync.Mutex
	stopped int
}

func (m *fakeMedia) Stop() {
	m.mu.Lock()
	m.stopped++
	m.mu.Unlock()
}

func (m *fakeMedia) stopCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped
}

type fakeAcquirer struct {
	mu    sync.Mutex
	err   error
	block chan struct{} // when non-nil, Acquire waits until closed
	calls []models.CallType
	media []*fakeMedia
}

func (a *fakeAcquirer) Acquire(_ context.Context, callType models.CallType) (LocalMedia, error) {
	a.mu.Lock()
	a.calls = append(a.calls, callType)
	err := a.err
	block := a.block
	a.mu.Unlock()

	if block != nil {
		<-block
	}
	if err != nil {
		return nil, err
	}
	m := &fakeMedia{}
	a.mu.Lock()
	a.media = append(a.media, m)
	a.mu.Unlock()
	return m, nil
}

func (a *fakeAcquirer) acquired() []models.CallType {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]models.CallType(nil), a.calls...)
}

func (a *fakeAcquirer) lastMedia() *fakeMedia {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.media) == 0 {
		return nil
	}
	return a.media[len(a.media)-1]
}

type fakePeer struct {
	mu         sync.Mutex
	remoteDesc *models.SessionDescription
	remoteErr  error
	addErr     error
	added      []models.ICECandidate
	onCand     func(models.ICECandidate)
	onTrack    func()
	mediaAdded bool
	closed     int
}

func (p *fakePeer) AddLocalMedia(LocalMedia) error {
	p.mu.Lock()
	p.mediaAdded = true
	p.mu.Unlock()
	return nil
}

func (p *fakePeer) CreateOffer(context.Context) (models.SessionDescription, error) {
	return models.SessionDescription{Type: "offer", SDP: "v=0 local-offer"}, nil
}

func (p *fakePeer) CreateAnswer(context.Context) (models.SessionDescription, error) {
	return models.SessionDescription{Type: "answer", SDP: "v=0 local-answer"}, nil
}

func (p *fakePeer) SetRemoteDescription(desc models.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remoteErr != nil {
		return p.remoteErr
	}
	p.remoteDesc = &desc
	return nil
}

func (p *fakePeer) AddICECandidate(cand models.ICECandidate) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.addErr != nil {
		return p.addErr
	}
	p.added = append(p.added, cand)
	return nil
}

func (p *fakePeer) OnICECandidate(fn func(models.ICECandidate)) {
	p.mu.Lock()
	p.onCand = fn
	p.mu.Unlock()
}

func (p *fakePeer) OnRemoteTrack(fn func()) {
	p.mu.Lock()
	p.onTrack = fn
	p.mu.Unlock()
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	p.closed++
	p.mu.Unlock()
	return nil
}

func (p *fakePeer) fireRemoteTrack() {
	p.mu.Lock()
	fn := p.onTrack
	p.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (p *fakePeer) gatherCandidate(cand models.ICECandidate) {
	p.mu.Lock()
	fn := p.onCand
	p.mu.Unlock()
	if fn != nil {
		fn(cand)
	}
}

func (p *fakePeer) remote() *models.SessionDescription {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remoteDesc
}

func (p *fakePeer) addedCandidates() []models.ICECandidate {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.ICECandidate(nil), p.added...)
}

func (p *fakePeer) closeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

type harness struct {
	ch   *signal.MemoryChannel
	acq  *fakeAcquirer
	peer *fakePeer
	neg  *Negotiator
}

func newHarness(t *testing.T, mod func(*Options)) *harness {
	t.Helper()
	h := &harness{
		ch:   signal.NewMemoryChannel(),
		acq:  &fakeAcquirer{},
		peer: &fakePeer{},
	}
	opts := Options{
		CallID:   "chat-1",
		SelfID:   "alice",
		RemoteID: "bob",
		Channel:  h.ch,
		Acquirer: h.acq,
		NewPeer:  func() (PeerSession, error) { return h.peer, nil },
		EndGrace: 10 * time.Millisecond,
		Logger:   zerolog.Nop(),
	}
	if mod != nil {
		mod(&opts)
	}
	h.neg = NewNegotiator(opts)
	return h
}

func remoteAnswer() *models.CallRecord {
	return &models.CallRecord{
		CallID:      "chat-1",
		Kind:        models.CallKindAnswer,
		From:        "bob",
		To:          "alice",
		Status:      models.CallStatusAccepted,
		Description: &models.SessionDescription{Type: "answer", SDP: "v=0 remote-answer"},
		Nonce:       uuid.New().String(),
		Timestamp:   models.NowMillis(),
	}
}

func remoteCandidate(candidate string) *models.CallRecord {
	return &models.CallRecord{
		CallID:    "chat-1",
		Kind:      models.CallKindCandidate,
		From:      "bob",
		To:        "alice",
		Candidate: &models.ICECandidate{Candidate: candidate, SDPMid: "0"},
		Nonce:     uuid.New().String(),
		Timestamp: models.NowMillis(),
	}
}

func remoteOffer(callType models.CallType) *models.CallRecord {
	return &models.CallRecord{
		CallID:      "chat-1",
		Kind:        models.CallKindOffer,
		From:        "bob",
		To:          "alice",
		CallType:    callType,
		Status:      models.CallStatusRinging,
		Description: &models.SessionDescription{Type: "offer", SDP: "v=0 remote-offer"},
		Nonce:       uuid.New().String(),
		Timestamp:   models.NowMillis(),
	}
}

func TestDialWritesOffer(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	require.NoError(t, h.neg.Dial(ctx, models.CallTypeVideo))
	assert.Equal(t, StateAwaitingAnswer, h.neg.State())
	assert.Equal(t, []models.CallType{models.CallTypeVideo}, h.acq.acquired())

	rec := h.ch.Retained("chat-1")
	require.NotNil(t, rec)
	assert.Equal(t, models.CallKindOffer, rec.Kind)
	assert.Equal(t, "alice", rec.From)
	assert.Equal(t, "bob", rec.To)
	assert.Equal(t, models.CallTypeVideo, rec.CallType)
	assert.Equal(t, models.CallStatusRinging, rec.Status)
	assert.NotEmpty(t, rec.Nonce)
	require.NotNil(t, rec.Description)
	assert.Equal(t, "offer", rec.Description.Type)
}

func TestDialAudioNeverRequestsVideo(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.neg.Dial(context.Background(), models.CallTypeAudio))
	assert.Equal(t, []models.CallType{models.CallTypeAudio}, h.acq.acquired())
	assert.Equal(t, models.CallTypeAudio, h.ch.Retained("chat-1").CallType)
}

func TestDialMediaFailureWritesNothing(t *testing.T) {
	h := newHarness(t, nil)
	h.acq.err = &MediaError{Reason: MediaPermissionDenied, Err: errors.New("denied")}

	err := h.neg.Dial(context.Background(), models.CallTypeVideo)
	require.Error(t, err)
	var me *MediaError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, MediaPermissionDenied, me.Reason)

	assert.Equal(t, StateEnded, h.neg.State())
	assert.Nil(t, h.ch.Retained("chat-1"), "a call that never engaged must leave no trace")
}

func TestOwnOfferEchoSuppressed(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	require.NoError(t, h.neg.Dial(ctx, models.CallTypeVideo))

	// Replay the caller's own offer, as an at-least-once channel may.
	rec := h.ch.Retained("chat-1")
	require.NoError(t, h.ch.Write(ctx, "chat-1", rec))

	assert.Equal(t, StateAwaitingAnswer, h.neg.State())
	assert.Nil(t, h.peer.remote())
}

func TestAnswerMovesToConnectingThenActive(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	require.NoError(t, h.neg.Dial(ctx, models.CallTypeVideo))

	require.NoError(t, h.ch.Write(ctx, "chat-1", remoteAnswer()))
	assert.Equal(t, StateConnecting, h.neg.State())
	require.NotNil(t, h.peer.remote())
	assert.Equal(t, "v=0 remote-answer", h.peer.remote().SDP)

	h.peer.fireRemoteTrack()
	assert.Equal(t, StateActive, h.neg.State())
}

func TestUnusableAnswerKeepsRinging(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	require.NoError(t, h.neg.Dial(ctx, models.CallTypeVideo))

	h.peer.mu.Lock()
	h.peer.remoteErr = errors.New("bad sdp")
	h.peer.mu.Unlock()

	require.NoError(t, h.ch.Write(ctx, "chat-1", remoteAnswer()))
	assert.Equal(t, StateAwaitingAnswer, h.neg.State())

	h.peer.mu.Lock()
	h.peer.remoteErr = nil
	h.peer.mu.Unlock()

	require.NoError(t, h.ch.Write(ctx, "chat-1", remoteAnswer()))
	assert.Equal(t, StateConnecting, h.neg.State())
}

func TestEarlyCandidatesQueuedUntilAnswer(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	require.NoError(t, h.neg.Dial(ctx, models.CallTypeVideo))

	require.NoError(t, h.ch.WriteCandidate(ctx, "chat-1", "bob", remoteCandidate("candidate:1 early")))
	assert.Empty(t, h.peer.addedCandidates(), "candidate before answer must be queued, not applied")

	require.NoError(t, h.ch.Write(ctx, "chat-1", remoteAnswer()))
	added := h.peer.addedCandidates()
	require.Len(t, added, 1)
	assert.Equal(t, "candidate:1 early", added[0].Candidate)

	require.NoError(t, h.ch.WriteCandidate(ctx, "chat-1", "bob", remoteCandidate("candidate:2 late")))
	added = h.peer.addedCandidates()
	require.Len(t, added, 2)
	assert.Equal(t, "candidate:2 late", added[1].Candidate)
}

func TestLocalCandidatePublishedUnderSenderPath(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	require.NoError(t, h.neg.Dial(ctx, models.CallTypeVideo))

	h.peer.gatherCandidate(models.ICECandidate{Candidate: "candidate:local host", SDPMid: "0"})

	rec := h.ch.RetainedCandidate("chat-1", "alice")
	require.NotNil(t, rec)
	assert.Equal(t, models.CallKindCandidate, rec.Kind)
	assert.Equal(t, "alice", rec.From)
	assert.Equal(t, "candidate:local host", rec.Candidate.Candidate)

	// The echo of the own candidate must not be re-applied locally.
	assert.Empty(t, h.peer.addedCandidates())
}

func TestEndIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	require.NoError(t, h.neg.Dial(ctx, models.CallTypeVideo))

	require.NoError(t, h.neg.End(ctx))
	require.NoError(t, h.neg.End(ctx))
	assert.Equal(t, StateEnded, h.neg.State())

	assert.Equal(t, 1, h.acq.lastMedia().stopCount())
	assert.Equal(t, 1, h.peer.closeCount())

	rec := h.ch.Retained("chat-1")
	require.NotNil(t, rec)
	assert.Equal(t, models.CallKindEnd, rec.Kind)
	assert.Equal(t, models.CallStatusEnded, rec.Status)
}

func TestEndRecordRemovedAfterGrace(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	require.NoError(t, h.neg.Dial(ctx, models.CallTypeVideo))
	require.NoError(t, h.neg.End(ctx))

	require.NotNil(t, h.ch.Retained("chat-1"))
	require.Eventually(t, func() bool {
		return h.ch.Retained("chat-1") == nil
	}, time.Second, 5*time.Millisecond)
}

func TestRemoteEndTearsDownWithoutEcho(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	require.NoError(t, h.neg.Dial(ctx, models.CallTypeVideo))

	endRec := &models.CallRecord{
		CallID:    "chat-1",
		Kind:      models.CallKindEnd,
		From:      "bob",
		To:        "alice",
		Status:    models.CallStatusEnded,
		Nonce:     uuid.New().String(),
		Timestamp: models.NowMillis(),
	}
	require.NoError(t, h.ch.Write(ctx, "chat-1", endRec))

	assert.Equal(t, StateEnded, h.neg.State())
	assert.Equal(t, 1, h.acq.lastMedia().stopCount())
	assert.Equal(t, 1, h.peer.closeCount())

	// The observing side must not write a second end-call record.
	rec := h.ch.Retained("chat-1")
	require.NotNil(t, rec)
	assert.Equal(t, endRec.Nonce, rec.Nonce)
}

func TestRingTimeoutEndsUnansweredCall(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.RingTimeout = 30 * time.Millisecond
	})
	require.NoError(t, h.neg.Dial(context.Background(), models.CallTypeVideo))

	require.Eventually(t, func() bool {
		return h.neg.State() == StateEnded
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, h.peer.closeCount())
}

func TestHangupDuringPermissionPrompt(t *testing.T) {
	h := newHarness(t, nil)
	h.acq.block = make(chan struct{})

	dialErr := make(chan error, 1)
	go func() { dialErr <- h.neg.Dial(context.Background(), models.CallTypeVideo) }()

	require.Eventually(t, func() bool {
		return h.neg.State() == StateInitiating
	}, time.Second, time.Millisecond)
	require.NoError(t, h.neg.End(context.Background()))

	close(h.acq.block)
	require.ErrorIs(t, <-dialErr, ErrCancelled)

	// The late grant's tracks are released and nothing reached the channel.
	assert.Equal(t, 1, h.acq.lastMedia().stopCount())
	assert.Nil(t, h.ch.Retained("chat-1"))
}

func TestIncomingRingRequestsNoMedia(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.SelfID = "alice"
		o.RemoteID = "bob"
	})
	require.NoError(t, h.neg.ring(context.Background(), remoteOffer(models.CallTypeVideo)))

	assert.Equal(t, StateIncomingRing, h.neg.State())
	assert.Empty(t, h.acq.acquired(), "no capture before the callee consents")
}

func TestAcceptAnswersWithOfferedCallType(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	require.NoError(t, h.neg.ring(ctx, remoteOffer(models.CallTypeAudio)))
	require.NoError(t, h.neg.Accept(ctx))

	assert.Equal(t, StateConnecting, h.neg.State())
	assert.Equal(t, []models.CallType{models.CallTypeAudio}, h.acq.acquired())

	rec := h.ch.Retained("chat-1")
	require.NotNil(t, rec)
	assert.Equal(t, models.CallKindAnswer, rec.Kind)
	assert.Equal(t, models.CallStatusAccepted, rec.Status)
	assert.Equal(t, models.CallTypeAudio, rec.CallType)

	require.NotNil(t, h.peer.remote())
	assert.Equal(t, "v=0 remote-offer", h.peer.remote().SDP)
}

func TestRejectWritesRejectedStatus(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	require.NoError(t, h.neg.ring(ctx, remoteOffer(models.CallTypeVideo)))
	require.NoError(t, h.neg.Reject(ctx))

	assert.Equal(t, StateEnded, h.neg.State())
	assert.Empty(t, h.acq.acquired())

	rec := h.ch.Retained("chat-1")
	require.NotNil(t, rec)
	assert.Equal(t, models.CallKindEnd, rec.Kind)
	assert.Equal(t, models.CallStatusRejected, rec.Status)
}

func TestCalleeMediaFailureNotifiesCaller(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	require.NoError(t, h.neg.ring(ctx, remoteOffer(models.CallTypeVideo)))

	h.acq.err = &MediaError{Reason: MediaDeviceBusy, Err: errors.New("busy")}
	err := h.neg.Accept(ctx)
	var me *MediaError
	require.ErrorAs(t, err, &me)

	assert.Equal(t, StateEnded, h.neg.State())

	// The caller is still ringing; the callee must write the terminal
	// record so it stops.
	rec := h.ch.Retained("chat-1")
	require.NotNil(t, rec)
	assert.Equal(t, models.CallKindEnd, rec.Kind)
}

// hookChannel lets a test interleave work at the subscribe suspension point
// of Dial, where local media and the peer exist but the call is not yet
// engaged.
type hookChannel struct {
	*signal.MemoryChannel
	onSubscribe func() error
}

func (c *hookChannel) Subscribe(ctx context.Context, callID string, fn signal.RecordFunc) (func(), error) {
	if c.onSubscribe != nil {
		if err := c.onSubscribe(); err != nil {
			return nil, err
		}
	}
	return c.MemoryChannel.Subscribe(ctx, callID, fn)
}

func TestMalformedRemoteRecordsDropped(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	require.NoError(t, h.neg.Dial(ctx, models.CallTypeVideo))

	// Answer without a description.
	require.NoError(t, h.ch.Write(ctx, "chat-1", &models.CallRecord{
		CallID:    "chat-1",
		Kind:      models.CallKindAnswer,
		From:      "bob",
		To:        "alice",
		Nonce:     uuid.New().String(),
		Timestamp: models.NowMillis(),
	}))
	assert.Equal(t, StateAwaitingAnswer, h.neg.State())
	assert.Nil(t, h.peer.remote())

	// Candidate without a payload.
	require.NoError(t, h.ch.WriteCandidate(ctx, "chat-1", "bob", &models.CallRecord{
		CallID:    "chat-1",
		Kind:      models.CallKindCandidate,
		From:      "bob",
		Nonce:     uuid.New().String(),
		Timestamp: models.NowMillis(),
	}))

	// The call survives both and a valid answer still lands; the malformed
	// candidate was dropped, not queued.
	require.NoError(t, h.ch.Write(ctx, "chat-1", remoteAnswer()))
	assert.Equal(t, StateConnecting, h.neg.State())
	assert.Empty(t, h.peer.addedCandidates())
}

func TestCandidateBeforeOfferWriteHeldBack(t *testing.T) {
	mem := signal.NewMemoryChannel()
	acq := &fakeAcquirer{}
	peer := &fakePeer{}
	ch := &hookChannel{MemoryChannel: mem}
	ch.onSubscribe = func() error {
		// Gathered before the offer is written: must not reach the
		// channel yet.
		peer.gatherCandidate(models.ICECandidate{Candidate: "candidate:early", SDPMid: "0"})
		require.Nil(t, mem.RetainedCandidate("chat-1", "alice"))
		return nil
	}
	neg := NewNegotiator(Options{
		CallID:   "chat-1",
		SelfID:   "alice",
		RemoteID: "bob",
		Channel:  ch,
		Acquirer: acq,
		NewPeer:  func() (PeerSession, error) { return peer, nil },
		Logger:   zerolog.Nop(),
	})

	require.NoError(t, neg.Dial(context.Background(), models.CallTypeVideo))

	rec := mem.RetainedCandidate("chat-1", "alice")
	require.NotNil(t, rec, "held-back candidate must be flushed once the offer is written")
	assert.Equal(t, "candidate:early", rec.Candidate.Candidate)
}

func TestFailedDialLeavesNoRetainedState(t *testing.T) {
	mem := signal.NewMemoryChannel()
	acq := &fakeAcquirer{}
	peer := &fakePeer{}
	ch := &hookChannel{MemoryChannel: mem}
	ch.onSubscribe = func() error {
		peer.gatherCandidate(models.ICECandidate{Candidate: "candidate:early", SDPMid: "0"})
		return errors.New("subscribe failed")
	}
	neg := NewNegotiator(Options{
		CallID:   "chat-1",
		SelfID:   "alice",
		RemoteID: "bob",
		Channel:  ch,
		Acquirer: acq,
		NewPeer:  func() (PeerSession, error) { return peer, nil },
		Logger:   zerolog.Nop(),
	})

	require.Error(t, neg.Dial(context.Background(), models.CallTypeVideo))
	assert.Equal(t, StateEnded, neg.State())
	assert.Equal(t, 1, acq.lastMedia().stopCount())

	// A call that never engaged leaves nothing behind, candidates included.
	assert.Nil(t, mem.Retained("chat-1"))
	assert.Nil(t, mem.RetainedCandidate("chat-1", "alice"))
}

func TestAcceptTwiceFails(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	require.NoError(t, h.neg.ring(ctx, remoteOffer(models.CallTypeVideo)))
	require.NoError(t, h.neg.Accept(ctx))
	require.Error(t, h.neg.Accept(ctx))
}
