// Package idempotency guards against duplicate economic effect. A reserve
// grants a time-boxed lease for one in-flight run per key; a complete pins
// the terminal result so later submissions replay it instead of reprocessing.
package idempotency

import (
	"context"
	"encoding/json"
)

// State classifies the outcome of a Reserve call.
type State string

const (
	// StateAcquired means the caller owns the lease and must run the request.
	StateAcquired State = "acquired"
	// StateInProgress means another holder's lease is live.
	StateInProgress State = "in_progress"
	// StateCompleted means a terminal result exists and must be replayed.
	StateCompleted State = "completed"
)

// Reservation is the answer to Reserve. Owner is only set on acquisition and
// must be presented to Complete/Release. Result is only set when completed.
type Reservation struct {
	State  State
	Owner  string
	Result json.RawMessage
}

// Store guarantees at-most-one in-flight run per idempotency key across all
// concurrent callers. A crash between Reserve and Complete leaves the key
// in progress until the lease expires, after which Reserve hands it out
// again; callers must therefore be safe to re-run.
type Store interface {
	Reserve(ctx context.Context, key string) (*Reservation, error)
	// Complete pins the terminal result under the key and ends the lease.
	Complete(ctx context.Context, key, owner string, result json.RawMessage) error
	// Release frees the lease without recording a result, so the caller may
	// retry. A mismatched owner is a no-op.
	Release(ctx context.Context, key, owner string) error
}
