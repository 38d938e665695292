// ABOUTME: Integration test for the interval runner: immediate first pass and
// ABOUTME: clean shutdown on context cancellation.
package sweep_test

import (
	"context"
	"testing"
	"time"

	"github.com/aturkewi/billsweep/internal/sweep"
	"github.com/aturkewi/billsweep/internal/testutil"
)

func TestRunner_ImmediatePassAndCleanStop(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestDB(t)

	if _, err := s.InsertItem(context.Background(), "cust-runner", 1000); err != nil {
		t.Fatalf("InsertItem: %v", err)
	}

	biller := newCountingBiller()
	// Long interval: only the immediate pass should run before cancellation.
	runner := sweep.NewRunner(newSweeper(s, biller), time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		runner.Start(ctx)
		close(done)
	}()

	// The immediate pass must charge the seeded item.
	deadline := time.After(10 * time.Second)
	for biller.total() == 0 {
		select {
		case <-deadline:
			t.Fatal("immediate pass did not bill the seeded item within 10s")
		case <-time.After(50 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop after context cancellation")
	}

	if n := biller.total(); n != 1 {
		t.Errorf("billing calls = %d, want 1", n)
	}
}
