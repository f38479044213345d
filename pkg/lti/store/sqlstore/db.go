// pkg/lti/store/sqlstore/db.go
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

/*
database/sql plumbing for the SQL-backed store. Drivers supported:
postgres (jackc/pgx stdlib) and sqlite (modernc.org/sqlite). The driver
must be imported by the main package:

	_ "github.com/jackc/pgx/v5/stdlib"   // registers "pgx"
	_ "modernc.org/sqlite"               // registers "sqlite"
*/

// Connect opens the database, tunes the pool, applies SQLite pragmas
// where relevant, and verifies connectivity.
func Connect(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	if strings.TrimSpace(driver) == "" {
		return nil, errors.New("sqlstore: driver is required")
	}
	db, err := sql.Open(sqlDriverName(driver), dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open: %w", err)
	}
	tunePool(normalizeDriver(driver), db)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlstore: ping: %w", err)
	}
	if isSQLite(driver) {
		if err := applySQLitePragmas(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return db, nil
}

// withTx runs fn in a transaction, committing on nil and rolling back on
// error or panic.
func withTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlstore: begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		if e := tx.Commit(); e != nil {
			err = fmt.Errorf("sqlstore: commit: %w", e)
		}
	}()
	err = fn(tx)
	return
}

func tunePool(driver string, db *sql.DB) {
	maxOpen, maxIdle := 20, 10
	connLife, idleLife := 45*time.Minute, 15*time.Minute
	if driver == "sqlite" {
		// Single writer; a tiny pool avoids SQLITE_BUSY churn.
		maxOpen, maxIdle = 1, 1
		connLife, idleLife = 0, 0
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(connLife)
	db.SetConnMaxIdleTime(idleLife)
}

func applySQLitePragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA foreign_keys = ON;",
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		"PRAGMA busy_timeout = 5000;",
		"PRAGMA temp_store = MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("sqlstore: sqlite pragma %q: %w", p, err)
		}
	}
	return nil
}

func normalizeDriver(d string) string {
	d = strings.ToLower(strings.TrimSpace(d))
	switch d {
	case "pg", "pgsql", "pgx":
		return "postgres"
	case "sqlite3":
		return "sqlite"
	default:
		return d
	}
}

// sqlDriverName maps the configured driver to the name registered with
// database/sql by the driver import.
func sqlDriverName(d string) string {
	switch normalizeDriver(d) {
	case "postgres":
		return "pgx"
	case "sqlite":
		return "sqlite"
	default:
		return d
	}
}

func isSQLite(d string) bool { return normalizeDriver(d) == "sqlite" }
