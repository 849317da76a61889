package call

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Mayank77maruti/Meu-ChaT/internal/models"
	"github.com/Mayank77maruti/Meu-ChaT/internal/signal"
	"github.com/rs/zerolog"
)

// IncomingCall surfaces an observed offer to the UI surface. Accept and
// Reject resolve the ring exactly once; media is only requested inside
// Accept.
type IncomingCall struct {
	CallID   string
	From     string
	CallType models.CallType

	Accept func(ctx context.Context) (*Negotiator, error)
	Reject func(ctx context.Context) error
}

// ManagerOptions configures a per-user call Manager.
type ManagerOptions struct {
	SelfID   string
	Channel  signal.Channel
	Acquirer Acquirer
	NewPeer  PeerFactory

	RingTimeout time.Duration
	EndGrace    time.Duration

	Logger zerolog.Logger
}

// Manager owns the ambient per-chat subscriptions of one local participant,
// creates negotiators for outbound and inbound calls, and guarantees every
// subscription is torn down when its call ends. At most one live negotiator
// exists per call id.
type Manager struct {
	opts ManagerOptions
	log  zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*Negotiator
	watches  map[string]func()
	closed   bool

	incomingMu sync.RWMutex
	incoming   []func(*IncomingCall)
}

func NewManager(opts ManagerOptions) *Manager {
	return &Manager{
		opts:     opts,
		log:      opts.Logger.With().Str("self", opts.SelfID).Logger(),
		sessions: make(map[string]*Negotiator),
		watches:  make(map[string]func()),
	}
}

// OnIncoming registers a callback fired for each incoming call offer.
func (m *Manager) OnIncoming(fn func(*IncomingCall)) {
	m.incomingMu.Lock()
	m.incoming = append(m.incoming, fn)
	m.incomingMu.Unlock()
}

// CallIDForChat derives the call id shared by both peers of a chat.
func CallIDForChat(chatID string) string { return chatID }

// Watch subscribes to a chat's call channel so offers addressed to this
// participant ring locally.
func (m *Manager) Watch(ctx context.Context, chatID string) error {
	callID := CallIDForChat(chatID)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return fmt.Errorf("call manager is closed")
	}
	if _, ok := m.watches[callID]; ok {
		m.mu.Unlock()
		return nil
	}
	// Reserve the slot before subscribing so a concurrent Watch of the
	// same chat does not double-subscribe.
	m.watches[callID] = func() {}
	m.mu.Unlock()

	unsub, err := m.opts.Channel.Subscribe(ctx, callID, func(rec *models.CallRecord) {
		m.routeAmbient(ctx, rec)
	})
	if err != nil {
		m.mu.Lock()
		delete(m.watches, callID)
		m.mu.Unlock()
		return err
	}

	m.mu.Lock()
	m.watches[callID] = unsub
	m.mu.Unlock()
	return nil
}

// Unwatch drops the ambient subscription for a chat.
func (m *Manager) Unwatch(chatID string) {
	callID := CallIDForChat(chatID)
	m.mu.Lock()
	unsub := m.watches[callID]
	delete(m.watches, callID)
	m.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

// routeAmbient handles records seen by the ambient watch. Only offers
// addressed to this participant with no live session matter here; everything
// else belongs to the per-call subscription owned by the negotiator.
func (m *Manager) routeAmbient(ctx context.Context, rec *models.CallRecord) {
	if rec.Kind != models.CallKindOffer || rec.To != m.opts.SelfID || rec.From == m.opts.SelfID {
		return
	}
	// An offer without a usable description cannot be answered; ringing on
	// it would only crash Accept later.
	if err := rec.Validate(); err != nil {
		m.log.Warn().Err(err).Str("call_id", rec.CallID).Msg("Ignoring malformed offer")
		return
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if _, live := m.sessions[rec.CallID]; live {
		// At-least-once delivery: replays of the offer for a call that
		// is already ringing or running are dropped.
		m.mu.Unlock()
		return
	}
	neg := m.newNegotiator(rec.CallID, rec.From)
	m.sessions[rec.CallID] = neg
	m.mu.Unlock()

	if err := neg.ring(ctx, rec); err != nil {
		m.log.Error().Err(err).Str("call_id", rec.CallID).Msg("Failed to ring incoming call")
		m.removeSession(rec.CallID)
		return
	}

	ic := &IncomingCall{
		CallID:   rec.CallID,
		From:     rec.From,
		CallType: rec.CallType,
		Accept: func(ctx context.Context) (*Negotiator, error) {
			if err := neg.Accept(ctx); err != nil {
				return nil, err
			}
			return neg, nil
		},
		Reject: func(ctx context.Context) error {
			return neg.Reject(ctx)
		},
	}

	m.incomingMu.RLock()
	handlers := make([]func(*IncomingCall), len(m.incoming))
	copy(handlers, m.incoming)
	m.incomingMu.RUnlock()
	for _, fn := range handlers {
		fn(ic)
	}
}

// StartCall creates an outbound negotiator for a chat and dials.
func (m *Manager) StartCall(ctx context.Context, chatID, remoteID string, callType models.CallType) (*Negotiator, error) {
	callID := CallIDForChat(chatID)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, fmt.Errorf("call manager is closed")
	}
	if _, live := m.sessions[callID]; live {
		m.mu.Unlock()
		return nil, fmt.Errorf("a call for chat %s is already in progress", chatID)
	}
	neg := m.newNegotiator(callID, remoteID)
	m.sessions[callID] = neg
	m.mu.Unlock()

	if err := neg.Dial(ctx, callType); err != nil {
		m.removeSession(callID)
		return nil, err
	}
	return neg, nil
}

// Session returns the live negotiator for a chat, if any.
func (m *Manager) Session(chatID string) (*Negotiator, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	neg, ok := m.sessions[CallIDForChat(chatID)]
	return neg, ok
}

// newNegotiator builds a negotiator whose Ended transition removes it from
// the session map. Caller holds m.mu.
func (m *Manager) newNegotiator(callID, remoteID string) *Negotiator {
	return NewNegotiator(Options{
		CallID:      callID,
		SelfID:      m.opts.SelfID,
		RemoteID:    remoteID,
		Channel:     m.opts.Channel,
		Acquirer:    m.opts.Acquirer,
		NewPeer:     m.opts.NewPeer,
		RingTimeout: m.opts.RingTimeout,
		EndGrace:    m.opts.EndGrace,
		Logger:      m.opts.Logger,
		OnState: func(s State) {
			if s == StateEnded {
				m.removeSession(callID)
			}
		},
	})
}

func (m *Manager) removeSession(callID string) {
	m.mu.Lock()
	delete(m.sessions, callID)
	m.mu.Unlock()
}

// Close ends every live call and drops every ambient subscription.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	sessions := make([]*Negotiator, 0, len(m.sessions))
	for _, neg := range m.sessions {
		sessions = append(sessions, neg)
	}
	watches := make([]func(), 0, len(m.watches))
	for _, unsub := range m.watches {
		watches = append(watches, unsub)
	}
	m.watches = make(map[string]func())
	m.mu.Unlock()

	for _, neg := range sessions {
		neg.End(context.Background())
	}
	for _, unsub := range watches {
		unsub()
	}
}
