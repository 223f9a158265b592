// Package sqlite implements the local session store on an embedded
// SQLite database. Records are keyed by their composed session id and
// stored as JSON, mirroring the per-scope tables the correlation
// pipeline reads and writes on every browser event.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/surftrail/surftrail/internal/domain/policy"
	"github.com/surftrail/surftrail/internal/domain/session"
)

const schema = `
CREATE TABLE IF NOT EXISTS window_sessions (
	window_session_id TEXT PRIMARY KEY,
	data              TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS tab_sessions (
	tab_session_id TEXT PRIMARY KEY,
	data           TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS domain_sessions (
	domain_session_id TEXT PRIMARY KEY,
	data              TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS closed_windows (
	window_session_id TEXT PRIMARY KEY,
	data              TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS host_rules (
	id       INTEGER PRIMARY KEY,
	hostname TEXT NOT NULL,
	data     TEXT NOT NULL
);
`

// Store is a SQLite-backed session.Store that also caches the synced
// host rules between daemon restarts.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ session.Store = (*Store)(nil)

// Open opens (or creates) the database at path and applies the schema.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// The daemon is the only writer; a single connection avoids
	// SQLITE_BUSY from concurrent handler goroutines.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	logger.Debug("session store opened", "path", path)
	return &Store{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) get(ctx context.Context, table, keyCol, key string, out any) error {
	query := fmt.Sprintf(`SELECT data FROM %s WHERE %s = ?`, table, keyCol)
	var data []byte
	err := s.db.QueryRowContext(ctx, query, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return session.ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("query %s: %w", table, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s record: %w", table, err)
	}
	return nil
}

func (s *Store) put(ctx context.Context, table, keyCol, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s record: %w", table, err)
	}
	query := fmt.Sprintf(
		`INSERT INTO %s (%s, data) VALUES (?, ?) ON CONFLICT(%s) DO UPDATE SET data = excluded.data`,
		table, keyCol, keyCol)
	if _, err := s.db.ExecContext(ctx, query, key, data); err != nil {
		return fmt.Errorf("upsert %s: %w", table, err)
	}
	return nil
}

func (s *Store) delete(ctx context.Context, table, keyCol, key string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE %s = ?`, table, keyCol)
	if _, err := s.db.ExecContext(ctx, query, key); err != nil {
		return fmt.Errorf("delete from %s: %w", table, err)
	}
	return nil
}

// GetWindow returns the window session stored under the composed id.
func (s *Store) GetWindow(ctx context.Context, windowSessionID string) (*session.WindowSession, error) {
	var ws session.WindowSession
	if err := s.get(ctx, "window_sessions", "window_session_id", windowSessionID, &ws); err != nil {
		return nil, err
	}
	return &ws, nil
}

// PutWindow stores or replaces a window session record.
func (s *Store) PutWindow(ctx context.Context, ws *session.WindowSession) error {
	return s.put(ctx, "window_sessions", "window_session_id", ws.WindowSessionID, ws)
}

// DeleteWindow removes a window session record. Absent records are a no-op.
func (s *Store) DeleteWindow(ctx context.Context, windowSessionID string) error {
	return s.delete(ctx, "window_sessions", "window_session_id", windowSessionID)
}

// GetTab returns the tab session stored under the composed id.
func (s *Store) GetTab(ctx context.Context, tabSessionID string) (*session.TabSession, error) {
	var ts session.TabSession
	if err := s.get(ctx, "tab_sessions", "tab_session_id", tabSessionID, &ts); err != nil {
		return nil, err
	}
	return &ts, nil
}

// PutTab stores or replaces a tab session record.
func (s *Store) PutTab(ctx context.Context, ts *session.TabSession) error {
	return s.put(ctx, "tab_sessions", "tab_session_id", ts.TabSessionID, ts)
}

// DeleteTab removes a tab session record. Absent records are a no-op.
func (s *Store) DeleteTab(ctx context.Context, tabSessionID string) error {
	return s.delete(ctx, "tab_sessions", "tab_session_id", tabSessionID)
}

// GetDomain returns the domain session stored under the composed id.
func (s *Store) GetDomain(ctx context.Context, domainSessionID string) (*session.DomainSession, error) {
	var ds session.DomainSession
	if err := s.get(ctx, "domain_sessions", "domain_session_id", domainSessionID, &ds); err != nil {
		return nil, err
	}
	return &ds, nil
}

// PutDomain stores or replaces a domain session record.
func (s *Store) PutDomain(ctx context.Context, ds *session.DomainSession) error {
	return s.put(ctx, "domain_sessions", "domain_session_id", ds.DomainSessionID, ds)
}

// DeleteDomain removes a domain session record. Absent records are a no-op.
func (s *Store) DeleteDomain(ctx context.Context, domainSessionID string) error {
	return s.delete(ctx, "domain_sessions", "domain_session_id", domainSessionID)
}

// PutClosedWindow records a window session whose remote close failed so
// the close can be retried on a later startup.
func (s *Store) PutClosedWindow(ctx context.Context, ws *session.WindowSession) error {
	return s.put(ctx, "closed_windows", "window_session_id", ws.WindowSessionID, ws)
}

// TakeClosedWindows drains the retry backlog and returns its contents.
func (s *Store) TakeClosedWindows(ctx context.Context) ([]*session.WindowSession, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM closed_windows`)
	if err != nil {
		return nil, fmt.Errorf("query closed_windows: %w", err)
	}
	defer rows.Close()

	var out []*session.WindowSession
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan closed_windows: %w", err)
		}
		var ws session.WindowSession
		if err := json.Unmarshal(data, &ws); err != nil {
			return nil, fmt.Errorf("decode closed_windows record: %w", err)
		}
		out = append(out, &ws)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate closed_windows: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM closed_windows`); err != nil {
		return nil, fmt.Errorf("drain closed_windows: %w", err)
	}
	return out, nil
}

// ReplaceHostRules swaps the cached rule set for a freshly synced one.
func (s *Store) ReplaceHostRules(ctx context.Context, rules []policy.HostRule) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin host rule replace: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM host_rules`); err != nil {
		return fmt.Errorf("clear host_rules: %w", err)
	}
	for _, rule := range rules {
		data, err := json.Marshal(rule)
		if err != nil {
			return fmt.Errorf("encode host rule: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO host_rules (id, hostname, data) VALUES (?, ?, ?)`,
			rule.ID, rule.Hostname, data); err != nil {
			return fmt.Errorf("insert host rule: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit host rule replace: %w", err)
	}
	return nil
}

// HostRules returns the cached rule set.
func (s *Store) HostRules(ctx context.Context) ([]policy.HostRule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM host_rules ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query host_rules: %w", err)
	}
	defer rows.Close()

	var out []policy.HostRule
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan host_rules: %w", err)
		}
		var rule policy.HostRule
		if err := json.Unmarshal(data, &rule); err != nil {
			return nil, fmt.Errorf("decode host rule: %w", err)
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

// HostRuleCount returns how many rules are cached locally.
func (s *Store) HostRuleCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM host_rules`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count host_rules: %w", err)
	}
	return n, nil
}
