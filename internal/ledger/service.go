package ledger

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"healthpal.org/internal/ids"
)

// Service owns a case's monetary state and its append-only donation
// history. ApplyDonation is the single mutating ledger operation; CloseCase
// drives the explicit administrative transition.
type Service interface {
	CreateCase(ctx context.Context, patientID, title, description string, goalAmount int64) (Case, error)
	GetCase(ctx context.Context, id string) (Case, error)
	ListCases(ctx context.Context) ([]Case, error)
	ApplyDonation(ctx context.Context, caseID, donorID string, amount int64) (Donation, Case, error)
	CloseCase(ctx context.Context, id string) (Case, error)
	DonationsForCase(ctx context.Context, caseID string) ([]Donation, error)
	TotalDonated(ctx context.Context, caseID string) (int64, error)
}

// InMemory implements Service with in-process concurrency safety. Used by
// tests and as the backend when no database DSN is configured.
type InMemory struct {
	mu        sync.RWMutex
	cases     map[string]*Case
	donations map[string][]Donation // caseID -> entries
	now       func() time.Time
}

// NewInMemory creates a fresh ledger.
func NewInMemory() *InMemory {
	return &InMemory{
		cases:     make(map[string]*Case),
		donations: make(map[string][]Donation),
		now:       time.Now,
	}
}

func (s *InMemory) CreateCase(ctx context.Context, patientID, title, description string, goalAmount int64) (Case, error) {
	if goalAmount <= 0 {
		return Case{}, ErrInvalidGoal
	}
	if strings.TrimSpace(patientID) == "" || strings.TrimSpace(title) == "" {
		return Case{}, ErrInvalidGoal
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	c := &Case{
		ID:          ids.New(),
		PatientID:   patientID,
		Title:       title,
		Description: description,
		GoalAmount:  goalAmount,
		Status:      StatusOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.cases[c.ID] = c
	return *c, nil
}

func (s *InMemory) GetCase(ctx context.Context, id string) (Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cases[id]
	if !ok {
		return Case{}, ErrCaseNotFound
	}
	return *c, nil
}

func (s *InMemory) ListCases(ctx context.Context) ([]Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Case, 0, len(s.cases))
	for _, c := range s.cases {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ApplyDonation checks preconditions in order (amount, existence, closed,
// goal) and applies the mutation under the ledger lock, so two donations
// validated against the same stale read can never both commit.
func (s *InMemory) ApplyDonation(ctx context.Context, caseID, donorID string, amount int64) (Donation, Case, error) {
	if amount <= 0 {
		return Donation{}, Case{}, ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.cases[caseID]
	if !ok {
		return Donation{}, Case{}, ErrCaseNotFound
	}
	if c.Status == StatusClosed {
		return Donation{}, Case{}, ErrCaseClosed
	}
	if c.CurrentAmount+amount > c.GoalAmount {
		return Donation{}, Case{}, ErrGoalExceeded
	}

	now := s.now().UTC()
	d := Donation{
		ID:        ids.New(),
		CaseID:    caseID,
		DonorID:   donorID,
		Amount:    amount,
		CreatedAt: now,
	}
	s.donations[caseID] = append(s.donations[caseID], d)
	c.CurrentAmount += amount
	c.UpdatedAt = now
	if c.CurrentAmount == c.GoalAmount {
		c.Status = StatusFunded
	}
	return d, *c, nil
}

func (s *InMemory) CloseCase(ctx context.Context, id string) (Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cases[id]
	if !ok {
		return Case{}, ErrCaseNotFound
	}
	if !c.Status.CanTransition(StatusClosed) {
		return Case{}, ErrInvalidTransition
	}
	c.Status = StatusClosed
	c.UpdatedAt = s.now().UTC()
	return *c, nil
}

func (s *InMemory) DonationsForCase(ctx context.Context, caseID string) ([]Donation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.cases[caseID]; !ok {
		return nil, ErrCaseNotFound
	}
	src := s.donations[caseID]
	out := make([]Donation, len(src))
	copy(out, src)
	return out, nil
}

func (s *InMemory) TotalDonated(ctx context.Context, caseID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cases[caseID]
	if !ok {
		return 0, ErrCaseNotFound
	}
	return c.CurrentAmount, nil
}
