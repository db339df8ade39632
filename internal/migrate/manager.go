// Package migrate applies the SQL schema and seed files shipped with the
// service. Migrations are .up.sql/.down.sql pairs run in file-name order;
// seeds run once each and hold bootstrap data such as the initial admin
// account.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"healthpal.org/internal/obs"
)

// journal names the bookkeeping table that records applied files.
type journal string

const (
	migrationJournal journal = "schema_migrations"
	seedJournal      journal = "schema_seeds"
)

// Manager runs migrations and seeds against one database handle.
type Manager struct {
	db            *sql.DB
	migrationsDir string
	seedsDir      string
}

// NewManager constructs a Manager reading SQL files from the given
// directories.
func NewManager(db *sql.DB, migrationsDir, seedsDir string) *Manager {
	return &Manager{db: db, migrationsDir: migrationsDir, seedsDir: seedsDir}
}

// Up applies every pending .up.sql migration in order.
func (m *Manager) Up(ctx context.Context) error {
	return m.run(ctx, migrationJournal, m.migrationsDir, ".up.sql")
}

// Seed runs each pending seed file once.
func (m *Manager) Seed(ctx context.Context) error {
	return m.run(ctx, seedJournal, m.seedsDir, ".sql")
}

// Down rolls back the most recently applied migration using its .down.sql
// counterpart.
func (m *Manager) Down(ctx context.Context) error {
	if err := m.ensureJournals(ctx); err != nil {
		return err
	}
	names, err := m.appliedNames(ctx, migrationJournal)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		return errors.New("migrate: nothing to roll back")
	}
	last := names[len(names)-1]
	down := strings.TrimSuffix(last, ".up.sql") + ".down.sql"
	if err := m.runFile(ctx, filepath.Join(m.migrationsDir, down)); err != nil {
		return fmt.Errorf("migrate: roll back %s: %w", last, err)
	}
	if _, err := m.db.ExecContext(ctx,
		fmt.Sprintf(`delete from %s where name = $1`, migrationJournal), last); err != nil {
		return err
	}
	obs.Log("info", "migration rolled back", map[string]any{"name": last})
	return nil
}

// Status lists applied migrations followed by pending ones.
func (m *Manager) Status(ctx context.Context) ([]string, error) {
	if err := m.ensureJournals(ctx); err != nil {
		return nil, err
	}
	names, err := m.appliedNames(ctx, migrationJournal)
	if err != nil {
		return nil, err
	}
	done := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		done[name] = true
		out = append(out, name+"\tapplied")
	}
	files, err := listSQL(m.migrationsDir, ".up.sql")
	if err != nil {
		return nil, err
	}
	for _, f := range files {
		if !done[f] {
			out = append(out, f+"\tpending")
		}
	}
	return out, nil
}

func (m *Manager) run(ctx context.Context, j journal, dir, suffix string) error {
	if err := m.ensureJournals(ctx); err != nil {
		return err
	}
	names, err := m.appliedNames(ctx, j)
	if err != nil {
		return err
	}
	done := make(map[string]bool, len(names))
	for _, name := range names {
		done[name] = true
	}
	files, err := listSQL(dir, suffix)
	if err != nil {
		return err
	}
	for _, name := range files {
		if done[name] {
			continue
		}
		if err := m.runFile(ctx, filepath.Join(dir, name)); err != nil {
			return fmt.Errorf("migrate: apply %s: %w", name, err)
		}
		if _, err := m.db.ExecContext(ctx,
			fmt.Sprintf(`insert into %s(name) values ($1)`, j), name); err != nil {
			return err
		}
		obs.Log("info", "migration applied", map[string]any{"name": name})
	}
	return nil
}

// runFile executes every statement of one SQL file inside a single
// transaction, so a file either applies fully or not at all.
func (m *Manager) runFile(ctx context.Context, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range splitStatements(string(raw)) {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (m *Manager) ensureJournals(ctx context.Context) error {
	for _, j := range []journal{migrationJournal, seedJournal} {
		ddl := fmt.Sprintf(`
			create table if not exists %s (
				name text primary key,
				applied_at timestamptz not null default now()
			);`, j)
		if _, err := m.db.ExecContext(ctx, ddl); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) appliedNames(ctx context.Context, j journal) ([]string, error) {
	rows, err := m.db.QueryContext(ctx,
		fmt.Sprintf(`select name from %s order by applied_at asc, name asc`, j))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// listSQL returns matching file names in dir, sorted. A missing directory is
// treated as empty.
func listSQL(dir, suffix string) ([]string, error) {
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		out = append(out, e.Name())
	}
	sort.Strings(out)
	return out, nil
}

// splitStatements splits SQL on semicolons outside single-quoted strings,
// which is enough for the DDL and seed files this repo ships.
func splitStatements(sql string) []string {
	var stmts []string
	var cur strings.Builder
	inString := false
	for _, r := range sql {
		cur.WriteRune(r)
		switch r {
		case '\'':
			inString = !inString
		case ';':
			if !inString {
				stmts = append(stmts, cur.String())
				cur.Reset()
			}
		}
	}
	if strings.TrimSpace(cur.String()) != "" {
		stmts = append(stmts, cur.String())
	}
	return stmts
}
