// Package signal implements the shared mutable channel two call peers use to
// exchange offer/answer/ICE/end-call records. The channel is a retained
// last-write-wins relay, not a queue: subscribers observe writes at least
// once, with no ordering guarantee, and a fast double-write can coalesce so
// that an intermediate record is never observed.
package signal

import (
	"context"
	"time"

	"github.com/Mayank77maruti/Meu-ChaT/internal/models"
)

// RecordFunc receives one observed call record. It is invoked from the
// channel's delivery goroutine; implementations must not block.
type RecordFunc func(rec *models.CallRecord)

// Channel is the signal relay consumed by the call negotiator.
type Channel interface {
	// Subscribe starts delivering records written under callID, starting
	// with a replay of any retained state. The returned function stops
	// delivery; it is safe to call more than once.
	Subscribe(ctx context.Context, callID string, fn RecordFunc) (func(), error)

	// Write overwrites the primary record for callID wholesale.
	Write(ctx context.Context, callID string, rec *models.CallRecord) error

	// WriteCandidate writes an ice-candidate record under the per-sender
	// sub-path, so concurrent trickling by both peers never clobbers the
	// other side's candidates.
	WriteCandidate(ctx context.Context, callID, senderID string, rec *models.CallRecord) error

	// Remove deletes the primary record and all candidate sub-paths.
	Remove(ctx context.Context, callID string) error

	// RemoveAfter schedules Remove after delay, giving the remote
	// observer a chance to see a terminal record before it disappears.
	RemoveAfter(callID string, delay time.Duration)
}
