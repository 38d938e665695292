// Package claim implements the claim-and-bill protocol for a single item:
// acquire the row lock, perform the billing call while the lock is held,
// record completion in the same transaction.
//
// Contention and already-handled rows are ordinary outcomes, not errors —
// under concurrent workers they are the normal result of racing for the same
// snapshot. Only unclassified failures (store faults, billing faults) carry
// an error upward.
package claim

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/aturkewi/billsweep/internal/store"
)

// Outcome classifies one ClaimAndBill attempt.
type Outcome int

const (
	// Sent: this worker claimed the item, the billing call succeeded, and the
	// completion write committed.
	Sent Outcome = iota
	// AlreadyHandled: the row was no longer pending when the lock was
	// attempted — a previous pass or another worker finished it.
	AlreadyHandled
	// Contended: another worker holds the row lock right now. Not retried
	// within this pass; the item is that worker's problem.
	Contended
	// Failed: the billing call or the store failed for a reason other than
	// contention. The transaction rolled back, the item stays pending, and
	// the cause is reported upward.
	Failed
)

// String returns the lowercase outcome name as used in logs and metrics labels.
func (o Outcome) String() string {
	switch o {
	case Sent:
		return "sent"
	case AlreadyHandled:
		return "already_handled"
	case Contended:
		return "contended"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Biller performs the external billing side effect for a claimed item.
// The call is at-least-once and not idempotent: once it returns nil the
// remote system has been billed, whether or not the local commit survives.
type Biller interface {
	Bill(ctx context.Context, item store.Item) error
}

// BillerFunc adapts a function to the Biller interface.
type BillerFunc func(ctx context.Context, item store.Item) error

// Bill implements Biller.
func (f BillerFunc) Bill(ctx context.Context, item store.Item) error {
	return f(ctx, item)
}

// Manager drives the claim transaction for one item at a time.
type Manager struct {
	store  *store.Store
	biller Biller
}

// NewManager creates a Manager that claims rows from st and bills them via b.
func NewManager(st *store.Store, b Biller) *Manager {
	return &Manager{store: st, biller: b}
}

// ClaimAndBill attempts to exclusively claim the item with the given id,
// perform the billing call, and durably record completion. The billing call
// runs strictly after the lock is acquired and strictly before the completion
// write commits, with the lock held throughout — that ordering is what makes
// the row lock the duplicate-prevention mechanism.
//
// The returned error is non-nil only when the outcome is Failed.
func (m *Manager) ClaimAndBill(ctx context.Context, id uuid.UUID) (Outcome, error) {
	err := m.store.ClaimAndRun(ctx, id, func(item store.Item) error {
		if err := m.biller.Bill(ctx, item); err != nil {
			return fmt.Errorf("bill item %s: %w", item.ID, err)
		}
		return nil
	})
	switch {
	case err == nil:
		return Sent, nil
	case errors.Is(err, store.ErrContended):
		return Contended, nil
	case errors.Is(err, store.ErrNotFound):
		return AlreadyHandled, nil
	default:
		return Failed, err
	}
}
