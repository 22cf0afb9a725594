// Package storage is the SQLite backend of the signaling store. Several
// clients may share one database file; watchers poll a global revision kept
// in _meta, so changes made by another process are picked up too.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
	_ "modernc.org/sqlite"
)

var log = logging.Logger("storage")

// FileName is the database file created inside the data directory.
const FileName = "calls.db"

// DefaultPollInterval is how often watchers look for new revisions.
const DefaultPollInterval = 200 * time.Millisecond

// DB wraps the SQLite database shared by the clients of one host.
type DB struct {
	db   *sql.DB
	path string
	mu   sync.RWMutex

	poll time.Duration
	now  func() time.Time
}

// Open opens or creates the database in dir.
func Open(dir string) (*DB, error) {
	return OpenFile(filepath.Join(dir, FileName))
}

// OpenFile opens or creates the database at path.
func OpenFile(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	// Pragmas go in the DSN so every pooled connection gets them.
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	log.Debugw("database opened", "path", path)
	return &DB{db: db, path: path, poll: DefaultPollInterval, now: time.Now}, nil
}

func migrate(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS _meta (
			key   TEXT PRIMARY KEY,
			value TEXT
		);
		INSERT OR IGNORE INTO _meta (key, value) VALUES ('rev', '0');
	`); err != nil {
		return fmt.Errorf("create meta table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS calls (
			id              TEXT PRIMARY KEY,
			caller_id       TEXT NOT NULL,
			caller_name     TEXT DEFAULT '',
			caller_avatar   TEXT DEFAULT '',
			receiver_id     TEXT NOT NULL,
			receiver_name   TEXT DEFAULT '',
			receiver_avatar TEXT DEFAULT '',
			conversation_id TEXT DEFAULT '',
			type            TEXT NOT NULL,
			status          TEXT NOT NULL,
			created_at      INTEGER NOT NULL,
			offer           TEXT,
			answer          TEXT,
			rev             INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS calls_receiver_rev ON calls (receiver_id, rev);
	`); err != nil {
		return fmt.Errorf("create calls table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS call_candidates (
			seq               INTEGER PRIMARY KEY AUTOINCREMENT,
			id                TEXT NOT NULL UNIQUE,
			call_id           TEXT NOT NULL REFERENCES calls (id) ON DELETE CASCADE,
			candidate         TEXT NOT NULL,
			sdp_mid           TEXT,
			sdp_mline_index   INTEGER,
			username_fragment TEXT,
			sender            TEXT NOT NULL,
			created_at        INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS call_candidates_call ON call_candidates (call_id, seq);
	`); err != nil {
		return fmt.Errorf("create candidates table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS conversation_messages (
			seq             INTEGER PRIMARY KEY AUTOINCREMENT,
			id              TEXT NOT NULL UNIQUE,
			conversation_id TEXT NOT NULL,
			kind            TEXT NOT NULL,
			content         TEXT NOT NULL,
			created_at      INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS conversation_messages_conv ON conversation_messages (conversation_id, seq);
	`); err != nil {
		return fmt.Errorf("create messages table: %w", err)
	}
	return nil
}

// Close closes the database
func (d *DB) Close() error {
	return d.db.Close()
}

// Path returns the database file path
func (d *DB) Path() string {
	return d.path
}

// SetPollInterval changes how often watchers poll for changes.
func (d *DB) SetPollInterval(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	d.mu.Lock()
	d.poll = interval
	d.mu.Unlock()
}

// SetClock overrides the time source used for default timestamps.
func (d *DB) SetClock(now func() time.Time) {
	d.mu.Lock()
	d.now = now
	d.mu.Unlock()
}

func (d *DB) pollInterval() time.Duration {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.poll
}

func (d *DB) clock() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.now()
}

// Exec executes a query without returning rows
func (d *DB) Exec(query string, args ...any) (sql.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.db.Exec(query, args...)
}

func (d *DB) queryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.db.QueryContext(ctx, query, args...)
}

// write runs fn in a transaction that also bumps the global revision, and
// hands fn the new revision.
func (d *DB) write(ctx context.Context, fn func(tx *sql.Tx, rev int64) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE _meta SET value = CAST(value AS INTEGER) + 1 WHERE key = 'rev'`); err != nil {
		return fmt.Errorf("bump revision: %w", err)
	}
	var rev int64
	if err := tx.QueryRowContext(ctx, `SELECT CAST(value AS INTEGER) FROM _meta WHERE key = 'rev'`).Scan(&rev); err != nil {
		return fmt.Errorf("read revision: %w", err)
	}
	if err := fn(tx, rev); err != nil {
		return err
	}
	return tx.Commit()
}

// Revision returns the current global revision.
func (d *DB) Revision(ctx context.Context) (int64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var rev int64
	err := d.db.QueryRowContext(ctx, `SELECT CAST(value AS INTEGER) FROM _meta WHERE key = 'rev'`).Scan(&rev)
	return rev, err
}

func toNanos(t time.Time) int64 { return t.UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n) }
