package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestApplyDonationAndFundedTransition(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	c, err := s.CreateCase(ctx, "patient-1", "surgery", "knee surgery", 10000)
	if err != nil {
		t.Fatal(err)
	}

	d, updated, err := s.ApplyDonation(ctx, c.ID, "donor-1", 4000)
	if err != nil {
		t.Fatal(err)
	}
	if d.Amount != 4000 || updated.CurrentAmount != 4000 {
		t.Fatalf("unexpected amounts: donation=%d current=%d", d.Amount, updated.CurrentAmount)
	}
	if updated.Status != StatusOpen {
		t.Fatalf("case should stay open below goal, got %s", updated.Status)
	}

	_, updated, err = s.ApplyDonation(ctx, c.ID, "donor-2", 6000)
	if err != nil {
		t.Fatal(err)
	}
	if updated.Status != StatusFunded {
		t.Fatalf("case should be funded at exact goal, got %s", updated.Status)
	}
	if updated.CurrentAmount != updated.GoalAmount {
		t.Fatalf("funded case must have current == goal, got %d != %d", updated.CurrentAmount, updated.GoalAmount)
	}
}

func TestApplyDonationPreconditionOrder(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	c, _ := s.CreateCase(ctx, "patient-1", "therapy", "", 5000)

	if _, _, err := s.ApplyDonation(ctx, c.ID, "donor-1", 0); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, _, err := s.ApplyDonation(ctx, c.ID, "donor-1", -50); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, _, err := s.ApplyDonation(ctx, "missing", "donor-1", 100); !errors.Is(err, ErrCaseNotFound) {
		t.Fatalf("expected ErrCaseNotFound, got %v", err)
	}
	if _, _, err := s.ApplyDonation(ctx, c.ID, "donor-1", 5001); !errors.Is(err, ErrGoalExceeded) {
		t.Fatalf("expected ErrGoalExceeded, got %v", err)
	}
	// a failed donation leaves the case untouched
	got, _ := s.GetCase(ctx, c.ID)
	if got.CurrentAmount != 0 {
		t.Fatalf("rejected donations must not mutate, current=%d", got.CurrentAmount)
	}
}

func TestClosedCaseRejectsDonations(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	c, _ := s.CreateCase(ctx, "patient-1", "meds", "", 5000)
	if _, _, err := s.ApplyDonation(ctx, c.ID, "donor-1", 1000); err != nil {
		t.Fatal(err)
	}
	if _, err := s.CloseCase(ctx, c.ID); err != nil {
		t.Fatal(err)
	}

	// closed wins over the goal check even when the amount would fit
	if _, _, err := s.ApplyDonation(ctx, c.ID, "donor-1", 100); !errors.Is(err, ErrCaseClosed) {
		t.Fatalf("expected ErrCaseClosed, got %v", err)
	}
	got, _ := s.GetCase(ctx, c.ID)
	if got.CurrentAmount != 1000 {
		t.Fatalf("closed case amount must be frozen, got %d", got.CurrentAmount)
	}
	if _, err := s.CloseCase(ctx, c.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("closed is terminal, got %v", err)
	}
}

func TestCloseFundedCase(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	c, _ := s.CreateCase(ctx, "patient-1", "scan", "", 300)
	if _, _, err := s.ApplyDonation(ctx, c.ID, "donor-1", 300); err != nil {
		t.Fatal(err)
	}
	closed, err := s.CloseCase(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if closed.Status != StatusClosed {
		t.Fatalf("expected closed, got %s", closed.Status)
	}
}

func TestConcurrentDonationsNeverExceedGoal(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	c, _ := s.CreateCase(ctx, "patient-1", "icu", "", 10000)

	var wg sync.WaitGroup
	N := 50
	for i := 0; i < N; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, _ = s.ApplyDonation(ctx, c.ID, "donor", 300)
		}()
	}
	wg.Wait()

	got, _ := s.GetCase(ctx, c.ID)
	if got.CurrentAmount > got.GoalAmount {
		t.Fatalf("goal exceeded under concurrency: %d > %d", got.CurrentAmount, got.GoalAmount)
	}
	total, _ := s.TotalDonated(ctx, c.ID)
	if total != got.CurrentAmount {
		t.Fatalf("donation sum %d != current %d", total, got.CurrentAmount)
	}
	donations, _ := s.DonationsForCase(ctx, c.ID)
	var sum int64
	for _, d := range donations {
		sum += d.Amount
	}
	if sum != got.CurrentAmount {
		t.Fatalf("history sum %d != current %d", sum, got.CurrentAmount)
	}
}

func TestCompetingDonationsAtGoalBoundary(t *testing.T) {
	// goal 10000, donations 6000 and 5000 submitted concurrently:
	// at most one commits and the total never reaches 11000
	for round := 0; round < 20; round++ {
		s := NewInMemory()
		ctx := context.Background()
		c, _ := s.CreateCase(ctx, "patient-1", "transplant", "", 10000)

		errs := make(chan error, 2)
		var wg sync.WaitGroup
		for _, amount := range []int64{6000, 5000} {
			wg.Add(1)
			go func(amt int64) {
				defer wg.Done()
				_, _, err := s.ApplyDonation(ctx, c.ID, "donor", amt)
				errs <- err
			}(amount)
		}
		wg.Wait()
		close(errs)

		var failures int
		for err := range errs {
			if err != nil {
				if !errors.Is(err, ErrGoalExceeded) {
					t.Fatalf("unexpected failure: %v", err)
				}
				failures++
			}
		}
		if failures != 1 {
			t.Fatalf("expected exactly one GoalExceeded, got %d", failures)
		}
		got, _ := s.GetCase(ctx, c.ID)
		if got.CurrentAmount != 6000 && got.CurrentAmount != 5000 {
			t.Fatalf("surviving amount must be 6000 or 5000, got %d", got.CurrentAmount)
		}
	}
}

func TestCreateCaseValidation(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	if _, err := s.CreateCase(ctx, "patient-1", "x", "", 0); !errors.Is(err, ErrInvalidGoal) {
		t.Fatalf("zero goal must fail, got %v", err)
	}
	if _, err := s.CreateCase(ctx, "", "x", "", 100); !errors.Is(err, ErrInvalidGoal) {
		t.Fatalf("missing patient must fail, got %v", err)
	}
	if _, err := s.CreateCase(ctx, "patient-1", "", "", 100); !errors.Is(err, ErrInvalidGoal) {
		t.Fatalf("missing title must fail, got %v", err)
	}
}

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to CaseStatus
		ok       bool
	}{
		{StatusOpen, StatusFunded, true},
		{StatusOpen, StatusClosed, true},
		{StatusFunded, StatusClosed, true},
		{StatusFunded, StatusOpen, false},
		{StatusClosed, StatusOpen, false},
		{StatusClosed, StatusFunded, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.ok {
			t.Fatalf("%s -> %s: expected %v", tc.from, tc.to, tc.ok)
		}
	}
}
