package ledger

import (
	"errors"
	"time"
)

// All monetary values are integers in minor currency units (e.g. cents).
// Floats never touch the goal/current comparison.

// CaseStatus is the funding lifecycle of a medical case. Transitions only
// move forward: open -> funded, open -> closed, funded -> closed.
type CaseStatus string

const (
	StatusOpen   CaseStatus = "open"
	StatusFunded CaseStatus = "funded"
	StatusClosed CaseStatus = "closed"
)

// CanTransition reports whether moving from s to next is permitted.
func (s CaseStatus) CanTransition(next CaseStatus) bool {
	switch s {
	case StatusOpen:
		return next == StatusFunded || next == StatusClosed
	case StatusFunded:
		return next == StatusClosed
	default:
		return false
	}
}

// Case is a fundable medical case. Invariant: 0 <= CurrentAmount <=
// GoalAmount, and Status == funded exactly when CurrentAmount == GoalAmount.
// Once closed, CurrentAmount is frozen.
type Case struct {
	ID            string     `json:"id"`
	PatientID     string     `json:"patient_id"`
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	GoalAmount    int64      `json:"goal_amount"`
	CurrentAmount int64      `json:"current_amount"`
	Status        CaseStatus `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Donation is an append-only ledger entry. The sum of a case's donations
// always equals that case's CurrentAmount.
type Donation struct {
	ID        string    `json:"id"`
	CaseID    string    `json:"case_id"`
	DonorID   string    `json:"donor_id"`
	Amount    int64     `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
}

var (
	ErrInvalidAmount       = errors.New("ledger: amount must be > 0")
	ErrInvalidGoal         = errors.New("ledger: goal must be > 0")
	ErrCaseNotFound        = errors.New("ledger: case not found")
	ErrCaseClosed          = errors.New("ledger: case is closed")
	ErrGoalExceeded        = errors.New("ledger: donation exceeds goal amount")
	ErrInvalidTransition   = errors.New("ledger: invalid status transition")
	ErrConcurrencyConflict = errors.New("ledger: concurrent update conflict")
)
