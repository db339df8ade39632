// Command migrate applies the schema and seed files under migrations/ and
// seeds/ against the configured PostgreSQL database.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"healthpal.org/internal/migrate"
)

const usage = `usage: migrate [flags] <command>

commands:
  up      apply pending migrations
  down    roll back the last applied migration
  seed    run pending seed files (admin bootstrap lives here)
  status  list applied and pending migrations
`

type options struct {
	dsn            string
	migrationsPath string
	seedsPath      string
	command        string
}

func main() {
	log.SetFlags(0)
	opts, err := parseArgs(os.Args[1:])
	if err != nil {
		log.Fatal(err)
	}
	if err := run(opts); err != nil {
		log.Fatalf("migrate %s: %v", opts.command, err)
	}
}

func parseArgs(args []string) (options, error) {
	var opts options
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	fs.StringVar(&opts.dsn, "dsn", os.Getenv("HP_PG_DSN"), "PostgreSQL DSN (defaults to HP_PG_DSN)")
	fs.StringVar(&opts.migrationsPath, "migrations", "migrations", "directory holding .up.sql/.down.sql files")
	fs.StringVar(&opts.seedsPath, "seeds", "seeds", "directory holding seed .sql files")
	fs.Usage = func() {
		fmt.Fprint(fs.Output(), usage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if opts.dsn == "" {
		return options{}, fmt.Errorf("missing DSN: provide -dsn or set HP_PG_DSN")
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return options{}, fmt.Errorf("expected exactly one command")
	}
	opts.command = fs.Arg(0)
	return opts, nil
}

func run(opts options) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := sql.Open("pgx", opts.dsn)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	mgr := migrate.NewManager(db, opts.migrationsPath, opts.seedsPath)
	switch opts.command {
	case "up":
		return mgr.Up(ctx)
	case "down":
		return mgr.Down(ctx)
	case "seed":
		return mgr.Seed(ctx)
	case "status":
		lines, err := mgr.Status(ctx)
		if err != nil {
			return err
		}
		for _, line := range lines {
			fmt.Println(line)
		}
		return nil
	default:
		return fmt.Errorf("unknown command %q", opts.command)
	}
}
