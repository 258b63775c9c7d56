// Package sessionjournal persists a local record of update sessions this
// client has opened. A crash mid-transfer leaves an ACTIVE session on the
// server; the journal is how `libctl session ls` finds those orphans so
// they can be reclaimed instead of pinning the item until server-side
// expiry.
package sessionjournal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".
)

// walJournalSizeLimit caps the WAL file at 64 MiB.
const walJournalSizeLimit = 67108864

// Record is one journaled session.
type Record struct {
	SessionID string
	ItemID    string
	ItemName  string
	CreatedAt time.Time
}

// Journal is a SQLite-backed session journal. Safe for concurrent use
// within one process; the database is opened in WAL mode.
type Journal struct {
	db     *sql.DB
	logger *slog.Logger

	recordStmt *sql.Stmt
	removeStmt *sql.Stmt
	listStmt   *sql.Stmt
}

// Open opens (creating if needed) the journal database at dbPath, applying
// schema migrations. Use ":memory:" for tests.
func Open(dbPath string, logger *slog.Logger) (*Journal, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Debug("opening session journal", slog.String("path", dbPath))

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sessionjournal: open sqlite: %w", err)
	}

	ctx := context.Background()

	if err := setPragmas(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	j := &Journal{db: db, logger: logger}

	if err := j.prepareStatements(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sessionjournal: prepare statements: %w", err)
	}

	return j, nil
}

// setPragmas configures SQLite for WAL mode and safety.
func setPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA foreign_keys = ON",
		fmt.Sprintf("PRAGMA journal_size_limit = %d", walJournalSizeLimit),
	}

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("sessionjournal: set pragma %q: %w", p, err)
		}
	}

	return nil
}

func (j *Journal) prepareStatements(ctx context.Context) error {
	var err error

	j.recordStmt, err = j.db.PrepareContext(ctx,
		`INSERT OR REPLACE INTO sessions (session_id, item_id, item_name, created_at)
		 VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}

	j.removeStmt, err = j.db.PrepareContext(ctx,
		`DELETE FROM sessions WHERE session_id = ?`)
	if err != nil {
		return err
	}

	j.listStmt, err = j.db.PrepareContext(ctx,
		`SELECT session_id, item_id, item_name, created_at
		 FROM sessions ORDER BY created_at`)

	return err
}

// Record journals a newly opened session.
func (j *Journal) Record(ctx context.Context, sessionID, itemID, itemName string) error {
	_, err := j.recordStmt.ExecContext(ctx, sessionID, itemID, itemName, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("sessionjournal: record session %s: %w", sessionID, err)
	}

	return nil
}

// Remove drops a session from the journal. Removing an absent session is
// not an error.
func (j *Journal) Remove(ctx context.Context, sessionID string) error {
	if _, err := j.removeStmt.ExecContext(ctx, sessionID); err != nil {
		return fmt.Errorf("sessionjournal: remove session %s: %w", sessionID, err)
	}

	return nil
}

// List returns all journaled sessions, oldest first.
func (j *Journal) List(ctx context.Context) ([]Record, error) {
	rows, err := j.listStmt.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("sessionjournal: list sessions: %w", err)
	}
	defer rows.Close()

	var recs []Record

	for rows.Next() {
		var rec Record
		var created string

		if err := rows.Scan(&rec.SessionID, &rec.ItemID, &rec.ItemName, &created); err != nil {
			return nil, fmt.Errorf("sessionjournal: scan session row: %w", err)
		}

		t, parseErr := time.Parse(time.RFC3339, created)
		if parseErr != nil {
			j.logger.Warn("invalid created_at in journal",
				slog.String("session_id", rec.SessionID),
				slog.String("raw", created),
			)
		} else {
			rec.CreatedAt = t
		}

		recs = append(recs, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sessionjournal: iterating session rows: %w", err)
	}

	return recs, nil
}

// Close releases the prepared statements and the database handle.
func (j *Journal) Close() error {
	for _, stmt := range []*sql.Stmt{j.recordStmt, j.removeStmt, j.listStmt} {
		if stmt != nil {
			stmt.Close()
		}
	}

	if err := j.db.Close(); err != nil {
		return fmt.Errorf("sessionjournal: close database: %w", err)
	}

	return nil
}
