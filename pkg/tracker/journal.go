package tracker

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pario-ai/relay/pkg/models"
)

// SQLiteJournal persists cost records to a SQLite database so spend can be
// inspected across sessions.
type SQLiteJournal struct {
	db *sql.DB
}

const createCostTable = `
CREATE TABLE IF NOT EXISTS cost_records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	model TEXT NOT NULL,
	input_tokens INTEGER NOT NULL,
	output_tokens INTEGER NOT NULL,
	cost_usd REAL NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_cost_session ON cost_records(session_id);
CREATE INDEX IF NOT EXISTS idx_cost_time ON cost_records(created_at);
`

// OpenJournal opens (or creates) a SQLiteJournal and runs auto-migration.
func OpenJournal(dbPath string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open journal db: %w", err)
	}

	if _, err := db.Exec(createCostTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate journal db: %w", err)
	}

	return &SQLiteJournal{db: db}, nil
}

// Append stores a cost record.
func (j *SQLiteJournal) Append(ctx context.Context, rec models.CostRecord) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO cost_records (session_id, model, input_tokens, output_tokens, cost_usd, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.SessionID, rec.Model, rec.InputTokens, rec.OutputTokens, rec.CostUSD, rec.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("append cost record: %w", err)
	}
	return nil
}

// Query returns records since a given time, newest first, optionally filtered
// by session. A non-positive limit returns every match.
func (j *SQLiteJournal) Query(ctx context.Context, since time.Time, sessionID string, limit int) ([]models.CostRecord, error) {
	query := `SELECT id, session_id, model, input_tokens, output_tokens, cost_usd, created_at
		 FROM cost_records WHERE created_at >= ?`
	args := []any{since.UTC()}
	if sessionID != "" {
		query += ` AND session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query cost records: %w", err)
	}
	defer rows.Close()

	var records []models.CostRecord
	for rows.Next() {
		var r models.CostRecord
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Model, &r.InputTokens, &r.OutputTokens, &r.CostUSD, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("scan cost record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// TotalSince returns journaled spend since a given time.
func (j *SQLiteJournal) TotalSince(ctx context.Context, since time.Time) (float64, error) {
	var total float64
	err := j.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(cost_usd), 0) FROM cost_records WHERE created_at >= ?`,
		since.UTC(),
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("total cost: %w", err)
	}
	return total, nil
}

// Summary returns journaled spend grouped by session and model.
func (j *SQLiteJournal) Summary(ctx context.Context, since time.Time) ([]models.JournalSummary, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT session_id, model, COUNT(*), SUM(input_tokens), SUM(output_tokens), SUM(cost_usd),
		        MIN(created_at), MAX(created_at)
		 FROM cost_records WHERE created_at >= ?
		 GROUP BY session_id, model ORDER BY MIN(created_at), model`,
		since.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("journal summary: %w", err)
	}
	defer rows.Close()

	var out []models.JournalSummary
	for rows.Next() {
		var s models.JournalSummary
		var first, last string
		if err := rows.Scan(&s.SessionID, &s.Model, &s.Queries, &s.InputTokens, &s.OutputTokens, &s.CostUSD, &first, &last); err != nil {
			return nil, fmt.Errorf("scan journal summary: %w", err)
		}
		s.FirstSeen = parseSQLiteTime(first)
		s.LastSeen = parseSQLiteTime(last)
		out = append(out, s)
	}
	return out, rows.Err()
}

// Prune deletes records older than before and returns how many were removed.
func (j *SQLiteJournal) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := j.db.ExecContext(ctx, `DELETE FROM cost_records WHERE created_at < ?`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune journal: %w", err)
	}
	return res.RowsAffected()
}

// Close releases the database connection.
func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}

// parseSQLiteTime parses the text form aggregate functions return for
// DATETIME columns. Unparseable values yield the zero time.
func parseSQLiteTime(s string) time.Time {
	for _, layout := range []string{
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02T15:04:05.999999999-07:00",
		"2006-01-02 15:04:05.999999999 -0700 MST",
		"2006-01-02 15:04:05",
		time.RFC3339Nano,
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
