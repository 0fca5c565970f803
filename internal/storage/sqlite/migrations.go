package sqlite

import "database/sql"

// schema runs on startup to ensure tables exist.
const schema = `
CREATE TABLE IF NOT EXISTS results (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    batch_id TEXT NOT NULL,
    lot_number TEXT NOT NULL,
    first_name TEXT NOT NULL,
    last_name TEXT NOT NULL,
    lot TEXT NOT NULL,
    sponsor TEXT NOT NULL,
    email TEXT NOT NULL DEFAULT '',
    ticket_id TEXT NOT NULL UNIQUE,
    person_key TEXT NOT NULL,
    drawn_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS session_state (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    cursor INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS restrictions (
    lot_key TEXT NOT NULL,
    person_key TEXT NOT NULL,
    PRIMARY KEY (lot_key, person_key)
);

CREATE INDEX IF NOT EXISTS idx_results_batch_id ON results(batch_id);
`

// runMigrations executes the schema setup.
func runMigrations(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}
