package ledger

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"healthpal.org/internal/ids"
)

const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"

	donationRetries = 3
)

var _ Service = (*PGStore)(nil)

// PGStore implements Service against PostgreSQL. The donation path locks
// the case row, so the goal check and the mutation commit as one unit;
// donations to different cases never contend.
type PGStore struct {
	db *sql.DB
}

// Open connects to PostgreSQL and tunes the pool.
func Open(dsn string) (*PGStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &PGStore{db: db}, nil
}

// NewPGStore wraps an existing database handle.
func NewPGStore(db *sql.DB) *PGStore { return &PGStore{db: db} }

func (s *PGStore) Close() error { return s.db.Close() }

// DB exposes the handle for readiness probes and the identity store.
func (s *PGStore) DB() *sql.DB { return s.db }

func (s *PGStore) CreateCase(ctx context.Context, patientID, title, description string, goalAmount int64) (Case, error) {
	if goalAmount <= 0 {
		return Case{}, ErrInvalidGoal
	}
	if strings.TrimSpace(patientID) == "" || strings.TrimSpace(title) == "" {
		return Case{}, ErrInvalidGoal
	}
	id := ids.New()
	var c Case
	err := s.db.QueryRowContext(ctx, `
		insert into cases(id, patient_id, title, description, goal_amount, current_amount, status)
		values ($1,$2,$3,$4,$5,0,'open')
		returning id, patient_id, title, description, goal_amount, current_amount, status, created_at, updated_at
	`, id, patientID, title, description, goalAmount).Scan(
		&c.ID, &c.PatientID, &c.Title, &c.Description, &c.GoalAmount, &c.CurrentAmount, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return Case{}, err
	}
	return c, nil
}

func (s *PGStore) GetCase(ctx context.Context, id string) (Case, error) {
	var c Case
	err := s.db.QueryRowContext(ctx, `
		select id, patient_id, title, description, goal_amount, current_amount, status, created_at, updated_at
		from cases where id=$1
	`, id).Scan(&c.ID, &c.PatientID, &c.Title, &c.Description, &c.GoalAmount, &c.CurrentAmount, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Case{}, ErrCaseNotFound
	}
	if err != nil {
		return Case{}, err
	}
	return c, nil
}

func (s *PGStore) ListCases(ctx context.Context) ([]Case, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, patient_id, title, description, goal_amount, current_amount, status, created_at, updated_at
		from cases order by created_at asc
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Case
	for rows.Next() {
		var c Case
		if err := rows.Scan(&c.ID, &c.PatientID, &c.Title, &c.Description, &c.GoalAmount, &c.CurrentAmount, &c.Status, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ApplyDonation inserts the donation and increments the case total in one
// transaction, with the goal check re-evaluated against the locked row.
// Serialization failures are retried with a fresh read a bounded number of
// times before surfacing ErrConcurrencyConflict.
func (s *PGStore) ApplyDonation(ctx context.Context, caseID, donorID string, amount int64) (Donation, Case, error) {
	if amount <= 0 {
		return Donation{}, Case{}, ErrInvalidAmount
	}

	for attempt := 0; attempt <= donationRetries; attempt++ {
		d, c, err := s.applyDonationOnce(ctx, caseID, donorID, amount)
		if err == nil {
			return d, c, nil
		}
		if !isRetryable(err) {
			return Donation{}, Case{}, err
		}
	}
	return Donation{}, Case{}, ErrConcurrencyConflict
}

func (s *PGStore) applyDonationOnce(ctx context.Context, caseID, donorID string, amount int64) (Donation, Case, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Donation{}, Case{}, err
	}
	defer func() { _ = tx.Rollback() }()

	// Lock the case row; concurrent donations to the same case serialize
	// here, donations to other cases pass untouched.
	var c Case
	err = tx.QueryRowContext(ctx, `
		select id, patient_id, title, description, goal_amount, current_amount, status, created_at, updated_at
		from cases where id=$1 for update
	`, caseID).Scan(&c.ID, &c.PatientID, &c.Title, &c.Description, &c.GoalAmount, &c.CurrentAmount, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Donation{}, Case{}, ErrCaseNotFound
	}
	if err != nil {
		return Donation{}, Case{}, err
	}
	if c.Status == StatusClosed {
		return Donation{}, Case{}, ErrCaseClosed
	}
	if c.CurrentAmount+amount > c.GoalAmount {
		return Donation{}, Case{}, ErrGoalExceeded
	}

	newAmount := c.CurrentAmount + amount
	newStatus := c.Status
	if newAmount == c.GoalAmount {
		newStatus = StatusFunded
	}

	id := ids.New()
	var d Donation
	if err := tx.QueryRowContext(ctx, `
		insert into donations(id, case_id, donor_id, amount)
		values ($1,$2,$3,$4)
		returning id, case_id, donor_id, amount, created_at
	`, id, caseID, donorID, amount).Scan(&d.ID, &d.CaseID, &d.DonorID, &d.Amount, &d.CreatedAt); err != nil {
		return Donation{}, Case{}, err
	}

	if err := tx.QueryRowContext(ctx, `
		update cases set current_amount=$2, status=$3, updated_at=now()
		where id=$1 and current_amount + $4 <= goal_amount and status <> 'closed'
		returning updated_at
	`, caseID, newAmount, string(newStatus), amount).Scan(&c.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// the guarded update found the row changed underneath us
			return Donation{}, Case{}, ErrConcurrencyConflict
		}
		return Donation{}, Case{}, err
	}

	if err := tx.Commit(); err != nil {
		return Donation{}, Case{}, err
	}

	c.CurrentAmount = newAmount
	c.Status = newStatus
	return d, c, nil
}

func (s *PGStore) CloseCase(ctx context.Context, id string) (Case, error) {
	var c Case
	err := s.db.QueryRowContext(ctx, `
		update cases set status='closed', updated_at=now()
		where id=$1 and status <> 'closed'
		returning id, patient_id, title, description, goal_amount, current_amount, status, created_at, updated_at
	`, id).Scan(&c.ID, &c.PatientID, &c.Title, &c.Description, &c.GoalAmount, &c.CurrentAmount, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		// either absent or already closed; one probe distinguishes them
		if _, probeErr := s.GetCase(ctx, id); probeErr != nil {
			return Case{}, probeErr
		}
		return Case{}, ErrInvalidTransition
	}
	if err != nil {
		return Case{}, err
	}
	return c, nil
}

func (s *PGStore) DonationsForCase(ctx context.Context, caseID string) ([]Donation, error) {
	if _, err := s.GetCase(ctx, caseID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, case_id, donor_id, amount, created_at
		from donations where case_id=$1 order by created_at desc
	`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Donation
	for rows.Next() {
		var d Donation
		if err := rows.Scan(&d.ID, &d.CaseID, &d.DonorID, &d.Amount, &d.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *PGStore) TotalDonated(ctx context.Context, caseID string) (int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx, `
		select coalesce(sum(amount),0) from donations where case_id=$1
	`, caseID).Scan(&total)
	if err != nil {
		return 0, err
	}
	return total, nil
}

func isRetryable(err error) bool {
	if errors.Is(err, ErrConcurrencyConflict) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgSerializationFailure || pgErr.Code == pgDeadlockDetected
	}
	return false
}
