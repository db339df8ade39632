package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const pgUniqueViolation = "23505"

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL. Accounts, role rows and role
// profiles are written in one transaction so a half-created sign-up can
// never be observed.
type PGStore struct {
	db *sql.DB
}

// NewPGStore wraps an existing database handle.
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Create(ctx context.Context, acc *Account, profiles map[Role]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		insert into accounts(id, username, email, full_name, phone, password_hash, active, email_verified, phone_verified)
		values ($1,$2,lower($3),$4,$5,$6,$7,$8,$9)
	`, acc.ID, acc.Username, acc.Email, acc.FullName, acc.Phone, acc.PasswordHash, acc.Active, acc.EmailVerified, acc.PhoneVerified)
	if err != nil {
		return mapPGError(err)
	}

	for _, role := range acc.Roles {
		if _, err := tx.ExecContext(ctx, `
			insert into account_roles(account_id, role) values ($1,$2)
		`, acc.ID, string(role)); err != nil {
			return mapPGError(err)
		}
	}

	for role, profileID := range profiles {
		table, err := profileTable(role)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
			insert into %s(id, account_id) values ($1,$2)
		`, table), profileID, acc.ID); err != nil {
			return mapPGError(err)
		}
	}

	return tx.Commit()
}

func (s *PGStore) Find(ctx context.Context, id string) (*Account, error) {
	return s.findBy(ctx, `id = $1`, id)
}

func (s *PGStore) FindByEmail(ctx context.Context, email string) (*Account, error) {
	return s.findBy(ctx, `email = lower($1)`, strings.TrimSpace(email))
}

func (s *PGStore) findBy(ctx context.Context, where string, arg any) (*Account, error) {
	var acc Account
	err := s.db.QueryRowContext(ctx, `
		select id, username, email, full_name, phone, password_hash, active, email_verified, phone_verified, created_at, updated_at
		from accounts where `+where, arg,
	).Scan(&acc.ID, &acc.Username, &acc.Email, &acc.FullName, &acc.Phone, &acc.PasswordHash,
		&acc.Active, &acc.EmailVerified, &acc.PhoneVerified, &acc.CreatedAt, &acc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `select role from account_roles where account_id=$1 order by role`, acc.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		role, err := ParseRole(raw)
		if err != nil {
			// unknown role rows are skipped rather than failing the lookup
			continue
		}
		acc.Roles = append(acc.Roles, role)
	}
	return &acc, rows.Err()
}

func (s *PGStore) Profiles(ctx context.Context, accountID string) (map[Role]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		select 'patient' as role, id from patients where account_id=$1
		union all
		select 'doctor', id from doctors where account_id=$1
		union all
		select 'ngo', id from ngos where account_id=$1
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[Role]string)
	for rows.Next() {
		var raw, id string
		if err := rows.Scan(&raw, &id); err != nil {
			return nil, err
		}
		role, err := ParseRole(raw)
		if err != nil {
			continue
		}
		out[role] = id
	}
	return out, rows.Err()
}

func (s *PGStore) SetActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx, `
		update accounts set active=$2, updated_at=now() where id=$1
	`, id, active)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *PGStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from accounts where id=$1`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func profileTable(role Role) (string, error) {
	switch role {
	case RolePatient:
		return "patients", nil
	case RoleDoctor:
		return "doctors", nil
	case RoleNGO:
		return "ngos", nil
	default:
		return "", fmt.Errorf("identity: role %s has no profile table", role)
	}
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func mapPGError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return ErrDuplicate
	}
	return err
}
