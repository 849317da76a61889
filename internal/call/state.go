package call

// State is the lifecycle state of one call attempt. A negotiator instance
// walks these states once and is discarded after Ended, never reused.
type State int

const (
	// StateIdle is the initial state of every negotiator.
	StateIdle State = iota
	// StateInitiating: caller is acquiring local media. Nothing has been
	// written to the signal channel yet.
	StateInitiating
	// StateAwaitingAnswer: caller wrote its offer and is ringing.
	StateAwaitingAnswer
	// StateIncomingRing: callee observed an offer addressed to itself and
	// is waiting for the user to accept or reject. No media has been
	// acquired yet.
	StateIncomingRing
	// StateConnecting: answer sent (callee) or answer received (caller);
	// ICE is trickling, no remote media yet.
	StateConnecting
	// StateActive: the first remote media track arrived.
	StateActive
	// StateEnding: teardown in progress.
	StateEnding
	// StateEnded: cleanup performed, terminal.
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInitiating:
		return "initiating"
	case StateAwaitingAnswer:
		return "awaiting-answer"
	case StateIncomingRing:
		return "incoming-ring"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateEnding:
		return "ending"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// terminal reports whether no further transitions are possible.
func (s State) terminal() bool {
	return s == StateEnded
}
