package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"mercator-hq/rules/pkg/config"
	sqlstore "mercator-hq/rules/pkg/store/sqlite"
)

const auditSchema = `
CREATE TABLE IF NOT EXISTS decisions (
	id TEXT PRIMARY KEY,
	recorded_at INTEGER NOT NULL,
	request_id TEXT NOT NULL,
	transaction_hash TEXT NOT NULL,
	kinds TEXT NOT NULL,
	snapshot_version INTEGER NOT NULL,
	snapshot_digest TEXT NOT NULL,
	matched TEXT NOT NULL,
	failed TEXT NOT NULL,
	primary_processor TEXT NOT NULL,
	fraud_score REAL NOT NULL,
	fraud_action TEXT NOT NULL,
	blocked INTEGER NOT NULL,
	blocked_by TEXT NOT NULL,
	discount REAL NOT NULL,
	elapsed_us INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_decisions_recorded_at ON decisions(recorded_at);

CREATE TABLE IF NOT EXISTS decision_rules (
	decision_id TEXT NOT NULL,
	rule_id TEXT NOT NULL,
	PRIMARY KEY (decision_id, rule_id)
);

CREATE INDEX IF NOT EXISTS idx_decision_rules_rule ON decision_rules(rule_id);
`

const decisionColumns = `id, recorded_at, request_id, transaction_hash, kinds,
	snapshot_version, snapshot_digest, matched, failed, primary_processor,
	fraud_score, fraud_action, blocked, blocked_by, discount, elapsed_us`

// SQLiteStorage keeps records in a SQLite database.
type SQLiteStorage struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// OpenSQLite opens (creating if needed) the audit database described by
// cfg. The driver and pragmas match the rule store's.
func OpenSQLite(ctx context.Context, cfg *config.SQLiteConfig, logger *slog.Logger) (*SQLiteStorage, error) {
	c := *cfg
	if c.Path == "" {
		c.Path = config.DefaultAuditSQLitePath
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
	if logger == nil {
		logger = slog.Default()
	}

	dsn, err := sqlstore.DSN(c.Driver, c.Path, c.BusyTimeout)
	if err != nil {
		return nil, &StorageError{Backend: BackendSQLite, Op: "open", Err: err}
	}
	if dir := filepath.Dir(c.Path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &StorageError{Backend: BackendSQLite, Op: "open", Err: err}
		}
	}

	db, err := sql.Open(c.Driver, dsn)
	if err != nil {
		return nil, &StorageError{Backend: BackendSQLite, Op: "open", Err: err}
	}
	db.SetMaxOpenConns(c.MaxOpenConns)
	db.SetMaxIdleConns(c.MaxOpenConns)

	if _, err := db.ExecContext(ctx, auditSchema); err != nil {
		db.Close()
		return nil, &StorageError{Backend: BackendSQLite, Op: "create schema", Err: err}
	}

	logger.Info("audit database opened", "path", c.Path, "driver", c.Driver)
	return &SQLiteStorage{db: db, path: c.Path, logger: logger}, nil
}

// Store implements Storage.
func (s *SQLiteStorage) Store(ctx context.Context, r *Record) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &StorageError{Backend: BackendSQLite, Op: "store", Err: err}
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	blocked := 0
	if r.Blocked {
		blocked = 1
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO decisions (`+decisionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.RecordedAt.UnixNano(), r.RequestID, r.TransactionHash, encodeList(r.Kinds),
		int64(r.SnapshotVersion), r.SnapshotDigest, encodeList(r.Matched), encodeList(r.Failed), r.Primary,
		r.FraudScore, r.FraudAction, blocked, r.BlockedBy, r.Discount, r.ElapsedMicros,
	)
	if err != nil {
		return &StorageError{Backend: BackendSQLite, Op: "store", Err: err}
	}

	for _, ids := range [][]string{r.Matched, r.Failed} {
		for _, id := range ids {
			_, err = tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO decision_rules (decision_id, rule_id) VALUES (?, ?)`, r.ID, id)
			if err != nil {
				return &StorageError{Backend: BackendSQLite, Op: "store", Err: err}
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return &StorageError{Backend: BackendSQLite, Op: "store", Err: err}
	}
	return nil
}

// Query implements Storage.
func (s *SQLiteStorage) Query(ctx context.Context, q Query) ([]*Record, error) {
	var (
		where []string
		args  []any
	)
	if q.RuleID != "" {
		where = append(where, "id IN (SELECT decision_id FROM decision_rules WHERE rule_id = ?)")
		args = append(args, q.RuleID)
	}
	if !q.Since.IsZero() {
		where = append(where, "recorded_at >= ?")
		args = append(args, q.Since.UnixNano())
	}
	if !q.Until.IsZero() {
		where = append(where, "recorded_at <= ?")
		args = append(args, q.Until.UnixNano())
	}
	if q.Blocked != nil {
		b := 0
		if *q.Blocked {
			b = 1
		}
		where = append(where, "blocked = ?")
		args = append(args, b)
	}

	query := "SELECT " + decisionColumns + " FROM decisions"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	query += " ORDER BY recorded_at DESC, id LIMIT ? OFFSET ?"
	args = append(args, limit, q.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &StorageError{Backend: BackendSQLite, Op: "query", Err: err}
	}
	defer rows.Close()

	out := []*Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, &StorageError{Backend: BackendSQLite, Op: "scan", Err: err}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Backend: BackendSQLite, Op: "query", Err: err}
	}
	return out, nil
}

func scanRecord(rows *sql.Rows) (*Record, error) {
	var (
		r                      Record
		recordedAt, version    int64
		blocked                int
		kinds, matched, failed string
	)
	err := rows.Scan(&r.ID, &recordedAt, &r.RequestID, &r.TransactionHash, &kinds,
		&version, &r.SnapshotDigest, &matched, &failed, &r.Primary,
		&r.FraudScore, &r.FraudAction, &blocked, &r.BlockedBy, &r.Discount, &r.ElapsedMicros)
	if err != nil {
		return nil, err
	}
	r.RecordedAt = time.Unix(0, recordedAt).UTC()
	r.SnapshotVersion = uint64(version)
	r.Blocked = blocked != 0
	if r.Kinds, err = decodeList(kinds); err != nil {
		return nil, err
	}
	if r.Matched, err = decodeList(matched); err != nil {
		return nil, err
	}
	if r.Failed, err = decodeList(failed); err != nil {
		return nil, err
	}
	return &r, nil
}

// Count implements Storage.
func (s *SQLiteStorage) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM decisions`).Scan(&n); err != nil {
		return 0, &StorageError{Backend: BackendSQLite, Op: "count", Err: err}
	}
	return n, nil
}

// DeleteBefore implements Storage.
func (s *SQLiteStorage) DeleteBefore(ctx context.Context, t time.Time) (int64, error) {
	return s.deleteWhere(ctx, "delete before",
		`SELECT id FROM decisions WHERE recorded_at < ?`, t.UnixNano())
}

// DeleteOldest implements Storage.
func (s *SQLiteStorage) DeleteOldest(ctx context.Context, n int64) (int64, error) {
	if n <= 0 {
		return 0, nil
	}
	return s.deleteWhere(ctx, "delete oldest",
		`SELECT id FROM decisions ORDER BY recorded_at ASC, id LIMIT ?`, n)
}

func (s *SQLiteStorage) deleteWhere(ctx context.Context, op, ids string, arg any) (n int64, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, &StorageError{Backend: BackendSQLite, Op: op, Err: err}
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM decision_rules WHERE decision_id IN (`+ids+`)`, arg); err != nil {
		return 0, &StorageError{Backend: BackendSQLite, Op: op, Err: err}
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM decisions WHERE id IN (`+ids+`)`, arg)
	if err != nil {
		return 0, &StorageError{Backend: BackendSQLite, Op: op, Err: err}
	}
	if n, err = res.RowsAffected(); err != nil {
		return 0, &StorageError{Backend: BackendSQLite, Op: op, Err: err}
	}
	if err = tx.Commit(); err != nil {
		return 0, &StorageError{Backend: BackendSQLite, Op: op, Err: err}
	}
	return n, nil
}

// Close implements Storage.
func (s *SQLiteStorage) Close() error {
	if err := s.db.Close(); err != nil {
		return &StorageError{Backend: BackendSQLite, Op: "close", Err: err}
	}
	return nil
}

// Path returns the database file path.
func (s *SQLiteStorage) Path() string {
	return s.path
}

func encodeList(v []string) string {
	if len(v) == 0 {
		return "[]"
	}
	data, _ := json.Marshal(v)
	return string(data)
}

func decodeList(s string) ([]string, error) {
	var v []string
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, err
	}
	if len(v) == 0 {
		return nil, nil
	}
	return v, nil
}
