// Package arbiter implements the Account Arbiter: the synchronization
// primitive that gates how often a given mailbox may send. Grounded on the
// original domain/arbiter.py's reserve/commit/rollback contract, translated
// to a single atomic conditional upsert against the Store interface rather
// than Mongo's find_one_and_update.
package arbiter

import (
	"context"
	"fmt"
	"time"

	"github.com/sendloop/campaign-dispatcher/internal/store"
)

// DefaultReservationLockSeconds is the fallback reservation hold duration
// when the caller passes zero.
const DefaultReservationLockSeconds = 30

// Arbiter serializes access to mailbox sending capacity through the Store's
// atomic reserve operation.
type Arbiter struct {
	Store store.Store

	// ReservationLockSeconds bounds how long a Reserve's lock survives
	// before it self-heals (a crashed worker never commits or rolls back).
	ReservationLockSeconds int

	// DayBoundaryLocation is the timezone used to compute the date_key a
	// given instant belongs to (DAY_BOUNDARY_TZ, default UTC).
	DayBoundaryLocation *time.Location
}

// New builds an Arbiter. A zero lockSeconds falls back to
// DefaultReservationLockSeconds. A nil loc falls back to UTC.
func New(s store.Store, lockSeconds int, loc *time.Location) *Arbiter {
	if lockSeconds <= 0 {
		lockSeconds = DefaultReservationLockSeconds
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Arbiter{Store: s, ReservationLockSeconds: lockSeconds, DayBoundaryLocation: loc}
}

// dateKey is the calendar day, in the boundary timezone, that nowUTC falls
// on. It is the second half of the Account Runtime State's composite key.
func (a *Arbiter) dateKey(nowUTC time.Time) string {
	return nowUTC.In(a.DayBoundaryLocation).Format("2006-01-02")
}

// Reserve attempts to claim sending capacity for mailboxID at nowUTC.
// Returns true iff the claim succeeded; the caller must pair a successful
// Reserve with exactly one of Commit or Rollback.
func (a *Arbiter) Reserve(ctx context.Context, mailboxID string, nowUTC time.Time, dailyLimit, minWaitMinutes int) (bool, error) {
	dk := a.dateKey(nowUTC)
	lockUntil := nowUTC.Add(time.Duration(a.ReservationLockSeconds) * time.Second)

	state, ok, err := a.Store.ReserveAccountRuntimeState(ctx, mailboxID, dk, nowUTC, dailyLimit, lockUntil)
	if err != nil {
		return false, fmt.Errorf("arbiter: reserve %s/%s: %w", mailboxID, dk, err)
	}
	if !ok {
		return false, nil
	}

	// Confirm ownership by reading back locked_until, tolerant of up to 1s
	// of store-side timestamp truncation, per the atomic-upsert contract.
	if state.LockedUntil == nil {
		return false, nil
	}
	delta := state.LockedUntil.Sub(lockUntil)
	if delta < 0 {
		delta = -delta
	}
	if delta > time.Second {
		return false, nil
	}
	return true, nil
}

// Commit finalizes a successful send: advances sent_count, sets the next
// cooldown boundary, and releases the lock.
func (a *Arbiter) Commit(ctx context.Context, mailboxID string, nowUTC time.Time, minWaitMinutes int) error {
	dk := a.dateKey(nowUTC)
	nextAvailable := nowUTC.Add(time.Duration(minWaitMinutes) * time.Minute)
	if err := a.Store.CommitAccountRuntimeState(ctx, mailboxID, dk, nextAvailable); err != nil {
		return fmt.Errorf("arbiter: commit %s/%s: %w", mailboxID, dk, err)
	}
	return nil
}

// Rollback releases a reservation that was not followed by a send:
// dry-run, render failure, missing recipient email, or transport error.
func (a *Arbiter) Rollback(ctx context.Context, mailboxID string, nowUTC time.Time) error {
	dk := a.dateKey(nowUTC)
	if err := a.Store.RollbackAccountRuntimeState(ctx, mailboxID, dk); err != nil {
		return fmt.Errorf("arbiter: rollback %s/%s: %w", mailboxID, dk, err)
	}
	return nil
}
