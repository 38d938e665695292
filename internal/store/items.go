package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// lockNotAvailable is the Postgres error code returned when FOR UPDATE NOWAIT
// cannot acquire the row lock immediately (55P03 lock_not_available).
const lockNotAvailable = "55P03"

// Sentinel outcomes of a claim attempt. Both are expected under concurrent
// operation and are classified by the claim manager, not surfaced as faults.
var (
	// ErrContended means another transaction currently holds the row lock.
	ErrContended = errors.New("item locked by another worker")
	// ErrNotFound means no pending row matched the id: either the item was
	// already charged by a previous pass or it never existed.
	ErrNotFound = errors.New("item not pending")
)

// Item is one billable unit of work.
type Item struct {
	ID          uuid.UUID
	CustomerID  string
	AmountCents int64
	Pending     bool
	ChargedAt   *time.Time
	CreatedAt   time.Time
}

// ListEligibleIDs returns the ids of all items with pending = true, read with
// ordinary (non-locking) consistency. The list is a snapshot: any row may be
// claimed by another worker before the caller gets to it, which the claim
// path reports as ErrContended or ErrNotFound rather than treating as a fault.
func (s *Store) ListEligibleIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id FROM billable_items WHERE pending ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list eligible items: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("list eligible items: %w", err)
	}
	return ids, nil
}

// ClaimAndRun attempts an exclusive, non-blocking claim of the pending item
// with the given id and, if the claim succeeds, executes body with the locked
// row's data. The whole call is one transaction:
//
//   - lock unavailable → ErrContended, rollback, body never runs
//   - no pending row matches id → ErrNotFound, rollback, body never runs
//   - body returns an error → rollback (row stays pending), error propagates
//   - body returns nil → pending is set false and the transaction commits
//
// The lock is held across the body call, so for any id at most one worker's
// body executes at a time. NOWAIT matters: a worker that finds the row busy
// has nothing left to do on it, so waiting would only hold a connection to
// learn what the immediate failure already tells it.
//
// Known gap: if body succeeds but the commit fails, the row reverts to
// pending and a later pass will run body again. The billing endpoint has no
// idempotency support, so this is a documented duplicate-send risk, not a
// silent one.
func (s *Store) ClaimAndRun(ctx context.Context, id uuid.UUID, body func(Item) error) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		var item Item
		err := tx.QueryRow(ctx,
			`SELECT id, customer_id, amount_cents, pending, charged_at, created_at
			 FROM billable_items
			 WHERE id = $1 AND pending
			 FOR UPDATE NOWAIT`, id).
			Scan(&item.ID, &item.CustomerID, &item.AmountCents,
				&item.Pending, &item.ChargedAt, &item.CreatedAt)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == lockNotAvailable {
				return ErrContended
			}
			return fmt.Errorf("lock item %s: %w", id, err)
		}

		if err := body(item); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx,
			`UPDATE billable_items SET pending = false, charged_at = now()
			 WHERE id = $1`, id); err != nil {
			return fmt.Errorf("mark item %s charged: %w", id, err)
		}
		return nil
	})
}

// InsertItem creates a new pending item and returns it. Used by the seed
// command and tests; production items come from an upstream producer.
func (s *Store) InsertItem(ctx context.Context, customerID string, amountCents int64) (*Item, error) {
	var item Item
	err := s.pool.QueryRow(ctx,
		`INSERT INTO billable_items (customer_id, amount_cents)
		 VALUES ($1, $2)
		 RETURNING id, customer_id, amount_cents, pending, charged_at, created_at`,
		customerID, amountCents).
		Scan(&item.ID, &item.CustomerID, &item.AmountCents,
			&item.Pending, &item.ChargedAt, &item.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert item: %w", err)
	}
	return &item, nil
}

// GetItem returns the item with the given id, or (nil, nil) if it does not exist.
func (s *Store) GetItem(ctx context.Context, id uuid.UUID) (*Item, error) {
	var item Item
	err := s.pool.QueryRow(ctx,
		`SELECT id, customer_id, amount_cents, pending, charged_at, created_at
		 FROM billable_items WHERE id = $1`, id).
		Scan(&item.ID, &item.CustomerID, &item.AmountCents,
			&item.Pending, &item.ChargedAt, &item.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get item %s: %w", id, err)
	}
	return &item, nil
}

// CountPending returns the number of items still eligible for processing.
func (s *Store) CountPending(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM billable_items WHERE pending`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count pending: %w", err)
	}
	return n, nil
}
