// Package sqlite implements a store.Backend on a SQLite database file.
//
// Two drivers are supported: "sqlite" (modernc.org/sqlite, pure Go) and
// "sqlite3" (github.com/mattn/go-sqlite3, cgo). Rules are stored as their
// canonical protobuf encoding, one row per rule id.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"mercator-hq/rules/pkg/config"
	"mercator-hq/rules/pkg/rules"
	"mercator-hq/rules/pkg/store"

	_ "github.com/mattn/go-sqlite3" // SQLite driver (cgo)
	_ "modernc.org/sqlite"          // SQLite driver (pure Go)
)

// Driver names accepted in config.SQLiteConfig.Driver.
const (
	DriverModernc = "sqlite"
	DriverMattn   = "sqlite3"
)

// schemaVersion is bumped whenever the table layout changes.
const schemaVersion = 1

// Backend stores rules in SQLite.
type Backend struct {
	db     *sql.DB
	path   string
	driver string

	mu     sync.RWMutex
	closed bool

	saveStmt   *sql.Stmt
	deleteStmt *sql.Stmt
	loadStmt   *sql.Stmt
}

// Open opens (creating if needed) the database described by cfg and
// prepares the schema. A nil cfg uses the defaults.
func Open(ctx context.Context, cfg *config.SQLiteConfig) (*Backend, error) {
	c := config.SQLiteConfig{}
	if cfg != nil {
		c = *cfg
	}
	if c.Path == "" {
		c.Path = config.DefaultSQLitePath
	}
	if c.Driver == "" {
		c.Driver = config.DefaultSQLiteDriver
	}
	if c.BusyTimeout == 0 {
		c.BusyTimeout = config.DefaultSQLiteBusyTimeout
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = config.DefaultSQLiteMaxOpenConns
	}

	dsn, err := DSN(c.Driver, c.Path, c.BusyTimeout)
	if err != nil {
		return nil, err
	}

	if dir := filepath.Dir(c.Path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, store.Unavailable(store.BackendSQLite, "open", err)
		}
	}

	db, err := sql.Open(c.Driver, dsn)
	if err != nil {
		return nil, store.Unavailable(store.BackendSQLite, "open", err)
	}
	db.SetMaxOpenConns(c.MaxOpenConns)
	db.SetMaxIdleConns(c.MaxOpenConns)
	db.SetConnMaxLifetime(0)

	b := &Backend{db: db, path: c.Path, driver: c.Driver}

	if err := b.initSchema(ctx); err != nil {
		db.Close()
		return nil, store.Unavailable(store.BackendSQLite, "init schema", err)
	}
	if err := b.prepareStatements(ctx); err != nil {
		db.Close()
		return nil, store.Unavailable(store.BackendSQLite, "prepare", err)
	}
	return b, nil
}

// DSN builds the data source name for driver. The two drivers spell their
// connection pragmas differently.
func DSN(driver, path string, busyTimeout time.Duration) (string, error) {
	ms := busyTimeout.Milliseconds()
	switch driver {
	case DriverModernc:
		return fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)", path, ms), nil
	case DriverMattn:
		return fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL&_synchronous=NORMAL", path, ms), nil
	default:
		return "", fmt.Errorf("unsupported sqlite driver %q", driver)
	}
}

func (b *Backend) initSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS rules (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		payload BLOB NOT NULL,
		last_modified INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_rules_kind ON rules(kind);
	`
	if _, err := b.db.ExecContext(ctx, schema); err != nil {
		return err
	}

	var current int
	err := b.db.QueryRowContext(ctx, `SELECT version FROM schema_version LIMIT 1`).Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = b.db.ExecContext(ctx, `INSERT INTO schema_version (version) VALUES (?)`, schemaVersion)
		return err
	case err != nil:
		return err
	case current > schemaVersion:
		return fmt.Errorf("database schema version %d is newer than supported version %d", current, schemaVersion)
	}
	return nil
}

func (b *Backend) prepareStatements(ctx context.Context) error {
	var err error

	b.saveStmt, err = b.db.PrepareContext(ctx, `
		INSERT INTO rules (id, kind, payload, last_modified)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			kind = excluded.kind,
			payload = excluded.payload,
			last_modified = excluded.last_modified
	`)
	if err != nil {
		return fmt.Errorf("prepare save: %w", err)
	}

	b.deleteStmt, err = b.db.PrepareContext(ctx, `DELETE FROM rules WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("prepare delete: %w", err)
	}

	b.loadStmt, err = b.db.PrepareContext(ctx, `SELECT id, payload FROM rules ORDER BY id`)
	if err != nil {
		return fmt.Errorf("prepare load: %w", err)
	}
	return nil
}

// LoadAll returns every stored rule, sorted by id. Rows that fail to
// decode are reported as *store.CorruptRecordError alongside the rules
// that did decode.
func (b *Backend) LoadAll(ctx context.Context) ([]*rules.Rule, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, store.Unavailable(store.BackendSQLite, "load", store.ErrClosed)
	}

	rows, err := b.loadStmt.QueryContext(ctx)
	if err != nil {
		return nil, store.Unavailable(store.BackendSQLite, "load", err)
	}
	defer rows.Close()

	payloads := make(map[string][]byte)
	for rows.Next() {
		var id string
		var payload []byte
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, store.Unavailable(store.BackendSQLite, "load", err)
		}
		payloads[id] = payload
	}
	if err := rows.Err(); err != nil {
		return nil, store.Unavailable(store.BackendSQLite, "load", err)
	}
	return store.DecodeAll(payloads)
}

// Save inserts or replaces r.
func (b *Backend) Save(ctx context.Context, r *rules.Rule) error {
	payload, err := rules.Marshal(r)
	if err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return store.Unavailable(store.BackendSQLite, "save", store.ErrClosed)
	}

	_, err = b.saveStmt.ExecContext(ctx, r.ID, string(r.Kind()), payload, r.LastModified.UnixNano())
	return store.Unavailable(store.BackendSQLite, "save", err)
}

// Delete removes the rule with id.
func (b *Backend) Delete(ctx context.Context, id string) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return store.Unavailable(store.BackendSQLite, "delete", store.ErrClosed)
	}

	_, err := b.deleteStmt.ExecContext(ctx, id)
	return store.Unavailable(store.BackendSQLite, "delete", err)
}

// Ping checks the database connection.
func (b *Backend) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return store.Unavailable(store.BackendSQLite, "ping", store.ErrClosed)
	}
	return store.Unavailable(store.BackendSQLite, "ping", b.db.PingContext(ctx))
}

// Close closes prepared statements and the database. It is safe to call
// more than once.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	for _, stmt := range []*sql.Stmt{b.saveStmt, b.deleteStmt, b.loadStmt} {
		if stmt != nil {
			stmt.Close()
		}
	}
	return b.db.Close()
}

// Path returns the database file path.
func (b *Backend) Path() string {
	return b.path
}

// Driver returns the database/sql driver name in use.
func (b *Backend) Driver() string {
	return b.driver
}

var _ store.Backend = (*Backend)(nil)
