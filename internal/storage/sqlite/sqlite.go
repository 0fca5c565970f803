// Package sqlite provides a SQLite-backed implementation of storage.Ledger.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"tombola/internal/models"
	"tombola/internal/storage"
)

// Ensure Ledger implements storage.Ledger
var _ storage.Ledger = (*Ledger)(nil)

// Ledger implements storage.Ledger using SQLite.
type Ledger struct {
	db   *sql.DB
	lock *flock.Flock
}

const lockFileSuffix = ".lock"

// lockRetryDelay is how often a waiting Lock polls the lock file.
const lockRetryDelay = 100 * time.Millisecond

// New opens the ledger at dbPath, creating parent directories and running
// migrations.
func New(dbPath string) (*Ledger, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := "file:" + dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer; the draw session serializes access anyway.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	absPath, err := filepath.Abs(dbPath)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("could not get absolute db path: %w", err)
	}

	return &Ledger{db: db, lock: flock.New(absPath + lockFileSuffix)}, nil
}

// Lock acquires the ledger lock, waiting if another process holds it.
func (l *Ledger) Lock(ctx context.Context) error {
	locked, err := l.lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire lock on %s: %w", l.lock.Path(), err)
	}
	if locked {
		return nil
	}

	fmt.Fprintf(os.Stderr, "Another tombola session is drawing on %s, waiting for it to finish...\n", l.lock.Path())
	if _, err := l.lock.TryLockContext(ctx, lockRetryDelay); err != nil {
		return fmt.Errorf("failed to acquire lock on %s after waiting: %w", l.lock.Path(), err)
	}
	return nil
}

// Unlock releases the ledger lock.
func (l *Ledger) Unlock() error {
	if err := l.lock.Unlock(); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to release lock on %s: %w", l.lock.Path(), err)
	}
	return nil
}

// Close releases the lock and closes the database connection.
func (l *Ledger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return errors.Join(l.Unlock(), l.db.Close())
}

// Append inserts results and stores the checkpoint in one transaction. The
// cursor moves only if it still equals from.
func (l *Ledger) Append(ctx context.Context, from int, results []models.Result, cp storage.Checkpoint) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Writing first takes the database write lock before the cursor is compared.
	now := time.Now().UnixMilli()
	_, err = tx.ExecContext(ctx,
		"INSERT INTO session_state (id, cursor, updated_at) VALUES (1, 0, ?) ON CONFLICT(id) DO NOTHING",
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to init cursor: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		"UPDATE session_state SET cursor = ?, updated_at = ? WHERE id = 1 AND cursor = ?",
		cp.Cursor, now, from,
	)
	if err != nil {
		return fmt.Errorf("failed to store cursor: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("failed to store cursor: %w", err)
	} else if n != 1 {
		return fmt.Errorf("%w: results drawn at lot %d", storage.ErrStaleCheckpoint, from)
	}

	for _, r := range results {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO results (batch_id, lot_number, first_name, last_name, lot, sponsor, email, ticket_id, person_key, drawn_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.BatchID, r.LotNumber, r.FirstName, r.LastName, r.Lot, r.Sponsor, r.Email, r.TicketID, r.PersonKey, r.DrawnAt.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert result for ticket %s: %w", r.TicketID, err)
		}
	}

	if _, err = tx.ExecContext(ctx, "DELETE FROM restrictions"); err != nil {
		return fmt.Errorf("failed to clear restrictions: %w", err)
	}
	for lot, persons := range cp.Restrictions {
		for _, person := range persons {
			_, err = tx.ExecContext(ctx,
				"INSERT INTO restrictions (lot_key, person_key) VALUES (?, ?)",
				lot, person,
			)
			if err != nil {
				return fmt.Errorf("failed to insert restriction: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// LoadAll returns results in insertion order with the stored checkpoint.
func (l *Ledger) LoadAll(ctx context.Context) ([]models.Result, storage.Checkpoint, error) {
	cp := storage.Checkpoint{Restrictions: make(map[string][]string)}

	rows, err := l.db.QueryContext(ctx,
		`SELECT batch_id, lot_number, first_name, last_name, lot, sponsor, email, ticket_id, person_key, drawn_at
		 FROM results ORDER BY seq`,
	)
	if err != nil {
		return nil, cp, fmt.Errorf("failed to get results: %w", err)
	}
	defer rows.Close()

	var results []models.Result
	for rows.Next() {
		var (
			r       models.Result
			drawnAt int64
		)
		if err := rows.Scan(&r.BatchID, &r.LotNumber, &r.FirstName, &r.LastName, &r.Lot, &r.Sponsor, &r.Email, &r.TicketID, &r.PersonKey, &drawnAt); err != nil {
			return nil, cp, fmt.Errorf("failed to scan result: %w", err)
		}
		r.DrawnAt = time.UnixMilli(drawnAt)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, cp, fmt.Errorf("failed to iterate results: %w", err)
	}

	err = l.db.QueryRowContext(ctx, "SELECT cursor FROM session_state WHERE id = 1").Scan(&cp.Cursor)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, cp, fmt.Errorf("failed to get cursor: %w", err)
	}

	restrictionRows, err := l.db.QueryContext(ctx, "SELECT lot_key, person_key FROM restrictions")
	if err != nil {
		return nil, cp, fmt.Errorf("failed to get restrictions: %w", err)
	}
	defer restrictionRows.Close()

	for restrictionRows.Next() {
		var lot, person string
		if err := restrictionRows.Scan(&lot, &person); err != nil {
			return nil, cp, fmt.Errorf("failed to scan restriction: %w", err)
		}
		cp.Restrictions[lot] = append(cp.Restrictions[lot], person)
	}
	if err := restrictionRows.Err(); err != nil {
		return nil, cp, fmt.Errorf("failed to iterate restrictions: %w", err)
	}
	for _, persons := range cp.Restrictions {
		sort.Strings(persons)
	}

	return results, cp, nil
}

// Clear deletes all results, the cursor and the restriction sets.
func (l *Ledger) Clear(ctx context.Context) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"results", "session_state", "restrictions"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
