// Package sweep drives one batch pass over all eligible items: snapshot the
// pending ids, claim-and-bill each one independently, and report aggregate
// counts. A contended or failed item never stops the rest of the batch —
// every id in the snapshot gets its own attempt.
package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/aturkewi/billsweep/internal/claim"
)

// ItemFailure records one item whose claim transaction failed for a reason
// other than contention, with enough cause detail to tell a store fault from
// a billing-endpoint fault.
type ItemFailure struct {
	ID  uuid.UUID
	Err error
}

// Report aggregates the outcomes of one batch pass.
type Report struct {
	Sent           int
	AlreadyHandled int
	Contended      int
	Failed         int
	Failures       []ItemFailure
}

// Total returns the number of items attempted in the pass.
func (r Report) Total() int {
	return r.Sent + r.AlreadyHandled + r.Contended + r.Failed
}

// Sweeper runs batch passes. Multiple Sweepers in separate processes may run
// concurrently against the same database; the row locks taken by the claim
// manager are their only coordination.
type Sweeper struct {
	manager *claim.Manager
	lister  Lister
	log     *slog.Logger
	metrics *metrics
}

// Lister supplies the eligibility snapshot. *store.Store satisfies it.
type Lister interface {
	ListEligibleIDs(ctx context.Context) ([]uuid.UUID, error)
}

// New creates a Sweeper. log may be nil, in which case slog.Default is used.
func New(lister Lister, manager *claim.Manager, log *slog.Logger) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{manager: manager, lister: lister, log: log}
}

// RunOnce executes one batch pass and returns its Report. The returned error
// is non-nil only when the eligibility scan itself fails — per-item outcomes,
// including failures, are carried in the Report so that one bad item cannot
// abort processing of the rest of the snapshot.
func (s *Sweeper) RunOnce(ctx context.Context) (Report, error) {
	start := time.Now()

	ids, err := s.lister.ListEligibleIDs(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("eligibility scan: %w", err)
	}

	var report Report
	for _, id := range ids {
		outcome, err := s.manager.ClaimAndBill(ctx, id)
		s.metrics.observeItem(outcome)
		switch outcome {
		case claim.Sent:
			report.Sent++
		case claim.AlreadyHandled:
			report.AlreadyHandled++
			s.log.Debug("item already handled", "item_id", id)
		case claim.Contended:
			report.Contended++
			s.log.Debug("item contended, skipping", "item_id", id)
		case claim.Failed:
			report.Failed++
			report.Failures = append(report.Failures, ItemFailure{ID: id, Err: err})
			s.log.Error("item failed", "item_id", id, "error", err)
		}
	}

	s.metrics.observePass(time.Since(start))
	s.log.Info("sweep pass complete",
		"eligible", len(ids),
		"sent", report.Sent,
		"already_handled", report.AlreadyHandled,
		"contended", report.Contended,
		"failed", report.Failed,
		"duration", time.Since(start),
	)
	return report, nil
}
