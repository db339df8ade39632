// Package report builds the public transparency view of a case. It consumes
// only the ledger's read-only query surface and never touches the write
// path.
package report

import (
	"context"
	"math"
	"time"

	"healthpal.org/internal/ledger"
)

// Transparency is the aggregated public view of a case's funding.
type Transparency struct {
	CaseID          string            `json:"case_id"`
	Title           string            `json:"title"`
	Description     string            `json:"description"`
	Status          ledger.CaseStatus `json:"status"`
	GoalAmount      int64             `json:"goal_amount"`
	TotalDonated    int64             `json:"total_donated"`
	Remaining       int64             `json:"remaining"`
	ProgressBps     int64             `json:"progress_bps"` // basis points, 10000 == fully funded
	DonationCount   int               `json:"donation_count"`
	Donations       []ledger.Donation `json:"donations"`
	GeneratedAtUTC  time.Time         `json:"generated_at"`
}

// Projector aggregates ledger records into transparency reports.
type Projector struct {
	ledger ledger.Service
	now    func() time.Time
}

// New constructs a Projector over the ledger query surface.
func New(l ledger.Service) *Projector {
	return &Projector{ledger: l, now: time.Now}
}

// Build assembles the report for one case. Fails with the ledger's
// not-found error when the case is absent.
func (p *Projector) Build(ctx context.Context, caseID string) (Transparency, error) {
	c, err := p.ledger.GetCase(ctx, caseID)
	if err != nil {
		return Transparency{}, err
	}
	donations, err := p.ledger.DonationsForCase(ctx, caseID)
	if err != nil {
		return Transparency{}, err
	}
	total, err := p.ledger.TotalDonated(ctx, caseID)
	if err != nil {
		return Transparency{}, err
	}

	progress := progressBasisPoints(total, c.GoalAmount)

	return Transparency{
		CaseID:         c.ID,
		Title:          c.Title,
		Description:    c.Description,
		Status:         c.Status,
		GoalAmount:     c.GoalAmount,
		TotalDonated:   total,
		Remaining:      c.GoalAmount - total,
		ProgressBps:    progress,
		DonationCount:  len(donations),
		Donations:      donations,
		GeneratedAtUTC: p.now().UTC(),
	}, nil
}

// progressBasisPoints computes total/goal in integer basis points. The goal
// is always > 0 by construction; the multiply is skipped for totals large
// enough to overflow int64 (goals above ~9.2e14 minor units).
func progressBasisPoints(total, goal int64) int64 {
	if total <= math.MaxInt64/10000 {
		return total * 10000 / goal
	}
	// total > MaxInt64/10000 implies goal/10000 > 0
	return total / (goal / 10000)
}
