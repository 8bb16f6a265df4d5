package relay

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// DefaultHistoryDepth is how many lines per target the history keeps.
const DefaultHistoryDepth = 500

// HistoryStore persists the recent log tail per target in SQLite so the
// console can seed history before its live stream opens. The store is the
// backing for GET /service/{id}/logLines.
type HistoryStore struct {
	db    *sql.DB
	depth int
}

// OpenHistory opens (and if needed initializes) the history database at
// path. ":memory:" works for tests. depth <= 0 uses DefaultHistoryDepth.
func OpenHistory(path string, depth int) (*HistoryStore, error) {
	if depth <= 0 {
		depth = DefaultHistoryDepth
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening history db: %w", err)
	}
	// One writer; the modernc driver serializes poorly across connections.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS log_lines (
		id     INTEGER PRIMARY KEY AUTOINCREMENT,
		target TEXT NOT NULL,
		line   TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS log_lines_target ON log_lines(target, id)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing history schema: %w", err)
	}

	return &HistoryStore{db: db, depth: depth}, nil
}

// Record appends one line to the target's history and trims the target to
// the configured depth.
func (h *HistoryStore) Record(ctx context.Context, target, line string) error {
	if _, err := h.db.ExecContext(ctx,
		`INSERT INTO log_lines (target, line) VALUES (?, ?)`, target, line); err != nil {
		return fmt.Errorf("recording line: %w", err)
	}
	_, err := h.db.ExecContext(ctx,
		`DELETE FROM log_lines WHERE target = ? AND id NOT IN (
			SELECT id FROM log_lines WHERE target = ? ORDER BY id DESC LIMIT ?
		)`, target, target, h.depth)
	if err != nil {
		return fmt.Errorf("trimming history: %w", err)
	}
	return nil
}

// Tail returns the target's stored lines, oldest first.
func (h *HistoryStore) Tail(ctx context.Context, target string) ([]string, error) {
	rows, err := h.db.QueryContext(ctx,
		`SELECT line FROM log_lines WHERE target = ? ORDER BY id ASC`, target)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var lines []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return nil, fmt.Errorf("scanning history line: %w", err)
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

// Close shuts the database down.
func (h *HistoryStore) Close() error {
	return h.db.Close()
}
