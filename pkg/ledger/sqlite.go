package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// DefaultSQLiteName is the database file created inside the state directory.
const DefaultSQLiteName = "health-agent.db"

// SQLite keeps one row per active condition in a local database file.
type SQLite struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// NewSQLite opens (and creates when missing) the database at path. An empty
// path selects DefaultSQLiteName inside os.TempDir().
func NewSQLite(path string) (*SQLite, error) {
	cleaned := strings.TrimSpace(path)
	if cleaned == "" {
		cleaned = filepath.Join(os.TempDir(), DefaultSQLiteName)
	}
	if err := os.MkdirAll(filepath.Dir(cleaned), 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	db, err := sql.Open("sqlite", cleaned)
	if err != nil {
		return nil, fmt.Errorf("open alert database: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set sqlite busy timeout: %w", err)
	}
	const schema = `
CREATE TABLE IF NOT EXISTS alerts (
	id TEXT PRIMARY KEY,
	condition TEXT NOT NULL DEFAULT '',
	marked_at TEXT NOT NULL
)`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create alerts table: %w", err)
	}
	return &SQLite{db: db, path: cleaned, now: time.Now}, nil
}

// Path returns the database file.
func (s *SQLite) Path() string {
	return s.path
}

// Close releases the database handle.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Exists implements Ledger.
func (s *SQLite) Exists(ctx context.Context, id string) (bool, error) {
	if err := validateID(id); err != nil {
		return false, err
	}
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM alerts WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read alert record: %w", err)
	}
	return true, nil
}

// Mark implements Ledger. An existing row keeps its original timestamp.
func (s *SQLite) Mark(ctx context.Context, id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO alerts (id, condition, marked_at) VALUES (?, ?, ?)`,
		id, ConditionOf(id), s.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("write alert record: %w", err)
	}
	return nil
}

// Clear implements Ledger.
func (s *SQLite) Clear(ctx context.Context, id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM alerts WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete alert record: %w", err)
	}
	return nil
}

// List implements Lister.
func (s *SQLite) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM alerts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list alert records: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan alert record: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list alert records: %w", err)
	}
	return ids, nil
}

var (
	_ Ledger = (*SQLite)(nil)
	_ Lister = (*SQLite)(nil)
)
