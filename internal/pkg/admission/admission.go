// Package admission serializes seat reservations per track so concurrent
// checkouts cannot push a track past its cap.
//
// A reservation stands for a checkout session that has been handed to a
// purchaser but whose subscription may not yet be visible to the capacity
// count. Reserve admits a new session only while
// active subscriptions + live reservations < cap, and it does so atomically
// with recording the new reservation.
package admission

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrFull matches any *FullError.
var ErrFull = errors.New("admission: track full")

// FullError carries the seat usage observed when a reservation was refused.
type FullError struct {
	Track string
	Used  int
	Cap   int
}

func (e *FullError) Error() string {
	return fmt.Sprintf("admission: track %s full (%d/%d)", e.Track, e.Used, e.Cap)
}

func (e *FullError) Is(target error) bool {
	return target == ErrFull
}

// Reservation is a held seat. An empty Token means nothing is held.
type Reservation struct {
	Track     string
	Token     string
	ExpiresAt time.Time
}

// Ledger records seat reservations.
type Ledger interface {
	// Reserve holds one seat for ttl when active plus live reservations
	// stay below limit.
	Reserve(ctx context.Context, track string, active, limit int, ttl time.Duration) (Reservation, error)
	// Confirm re-arms a reservation to expire after grace. Unknown tokens
	// are ignored.
	Confirm(ctx context.Context, track, token string, grace time.Duration) error
	// Release drops a reservation. Unknown tokens are ignored.
	Release(ctx context.Context, track, token string) error
	// Pending counts live reservations.
	Pending(ctx context.Context, track string) (int, error)
}

func clampUsed(used, limit int) int {
	if used > limit {
		return limit
	}
	return used
}

// Disabled admits everything and holds nothing. It restores the plain
// check-then-act behaviour where two concurrent checkouts can both pass
// the capacity check.
type Disabled struct{}

func (Disabled) Reserve(ctx context.Context, track string, active, limit int, ttl time.Duration) (Reservation, error) {
	if active >= limit {
		return Reservation{}, &FullError{Track: track, Used: clampUsed(active, limit), Cap: limit}
	}
	return Reservation{Track: track}, nil
}

func (Disabled) Confirm(context.Context, string, string, time.Duration) error { return nil }

func (Disabled) Release(context.Context, string, string) error { return nil }

func (Disabled) Pending(context.Context, string) (int, error) { return 0, nil }
