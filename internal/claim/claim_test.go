// ABOUTME: Integration tests for the claim manager: outcome classification and
// ABOUTME: mutual exclusion between concurrent claims on the same row.
package claim_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aturkewi/billsweep/internal/claim"
	"github.com/aturkewi/billsweep/internal/store"
	"github.com/aturkewi/billsweep/internal/testutil"
)

func TestClaimAndBill_Sent(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestDB(t)
	ctx := context.Background()

	item, err := s.InsertItem(ctx, "cust-sent", 2000)
	if err != nil {
		t.Fatalf("InsertItem: %v", err)
	}

	var billed atomic.Int32
	m := claim.NewManager(s, claim.BillerFunc(func(_ context.Context, it store.Item) error {
		billed.Add(1)
		if it.CustomerID != "cust-sent" {
			t.Errorf("biller saw customer %q, want cust-sent", it.CustomerID)
		}
		return nil
	}))

	outcome, err := m.ClaimAndBill(ctx, item.ID)
	if err != nil {
		t.Fatalf("ClaimAndBill: %v", err)
	}
	if outcome != claim.Sent {
		t.Errorf("outcome = %v, want Sent", outcome)
	}
	if n := billed.Load(); n != 1 {
		t.Errorf("biller called %d times, want 1", n)
	}

	got, _ := s.GetItem(ctx, item.ID)
	if got.Pending {
		t.Error("item still pending after Sent")
	}
}

func TestClaimAndBill_AlreadyHandled(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestDB(t)
	ctx := context.Background()

	item, err := s.InsertItem(ctx, "cust-handled", 2000)
	if err != nil {
		t.Fatalf("InsertItem: %v", err)
	}

	m := claim.NewManager(s, claim.BillerFunc(func(context.Context, store.Item) error {
		return nil
	}))
	if _, err := m.ClaimAndBill(ctx, item.ID); err != nil {
		t.Fatalf("first ClaimAndBill: %v", err)
	}

	outcome, err := m.ClaimAndBill(ctx, item.ID)
	if err != nil {
		t.Fatalf("second ClaimAndBill: %v", err)
	}
	if outcome != claim.AlreadyHandled {
		t.Errorf("outcome = %v, want AlreadyHandled", outcome)
	}
}

func TestClaimAndBill_FailedKeepsItemPending(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestDB(t)
	ctx := context.Background()

	item, err := s.InsertItem(ctx, "cust-failed", 2000)
	if err != nil {
		t.Fatalf("InsertItem: %v", err)
	}

	boom := errors.New("card declined upstream")
	m := claim.NewManager(s, claim.BillerFunc(func(context.Context, store.Item) error {
		return boom
	}))

	outcome, err := m.ClaimAndBill(ctx, item.ID)
	if outcome != claim.Failed {
		t.Errorf("outcome = %v, want Failed", outcome)
	}
	if !errors.Is(err, boom) {
		t.Errorf("error = %v, want the billing cause", err)
	}
	if err != nil && !strings.Contains(err.Error(), item.ID.String()) {
		t.Errorf("error %q does not identify the item", err)
	}

	got, _ := s.GetItem(ctx, item.ID)
	if !got.Pending {
		t.Error("item not pending after Failed — rollback did not happen")
	}
}

// TestClaimAndBill_MutualExclusion races two claims on the same row. The
// biller blocks long enough that the loser attempts its lock while the winner
// holds it, so exactly one claim may bill; the loser must observe Contended
// (or AlreadyHandled if it arrives after the winner's commit).
func TestClaimAndBill_MutualExclusion(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestDB(t)
	ctx := context.Background()

	item, err := s.InsertItem(ctx, "cust-race", 2000)
	if err != nil {
		t.Fatalf("InsertItem: %v", err)
	}

	var billed atomic.Int32
	m := claim.NewManager(s, claim.BillerFunc(func(context.Context, store.Item) error {
		billed.Add(1)
		time.Sleep(300 * time.Millisecond) // widen the lock-held window
		return nil
	}))

	start := make(chan struct{})
	outcomes := make([]claim.Outcome, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			outcome, err := m.ClaimAndBill(ctx, item.ID)
			if err != nil {
				t.Errorf("worker %d: ClaimAndBill: %v", i, err)
			}
			outcomes[i] = outcome
		}(i)
	}
	close(start)
	wg.Wait()

	if n := billed.Load(); n != 1 {
		t.Errorf("biller called %d times, want exactly 1", n)
	}
	sent := 0
	for _, o := range outcomes {
		switch o {
		case claim.Sent:
			sent++
		case claim.Contended, claim.AlreadyHandled:
			// expected for the loser
		default:
			t.Errorf("unexpected outcome %v", o)
		}
	}
	if sent != 1 {
		t.Errorf("Sent outcomes = %d, want exactly 1 (got %v)", sent, outcomes)
	}
}

func TestOutcome_String(t *testing.T) {
	t.Parallel()
	cases := map[claim.Outcome]string{
		claim.Sent:           "sent",
		claim.AlreadyHandled: "already_handled",
		claim.Contended:      "contended",
		claim.Failed:         "failed",
	}
	for outcome, want := range cases {
		if got := outcome.String(); got != want {
			t.Errorf("Outcome(%d).String() = %q, want %q", int(outcome), got, want)
		}
	}
}
