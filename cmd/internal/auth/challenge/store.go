package challenge

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store abstracts persistence for challenges. Implementations also serve as
// the HistorySource of the risk engine since they share the login tables.
type Store interface {
	HistorySource

	// Create persists a new challenge.
	Create(ctx context.Context, c Challenge) error

	// Get loads a challenge by id.
	Get(ctx context.Context, id uuid.UUID) (Challenge, error)

	// FindOpen returns the newest unexpired, incomplete challenge opened from the same context.
	FindOpen(ctx context.Context, now time.Time, accountID uuid.UUID, rc RequestContext) (Challenge, error)

	// RecordSuccess atomically blacklists factorID and subtracts weight from the
	// remaining steps. It returns ErrFactorUsed when the factor is already blacklisted.
	RecordSuccess(ctx context.Context, id, factorID uuid.UUID, weight int) (Challenge, error)

	// RecordFailure atomically increments failed_attempts.
	RecordFailure(ctx context.Context, id uuid.UUID) (Challenge, error)
}
