package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolchat/pkg/metricskey"
	"github.com/effective-security/xlog"

	_ "modernc.org/sqlite" // registers the sqlite driver
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	thread_id  TEXT PRIMARY KEY,
	version    INTEGER NOT NULL,
	data       TEXT NOT NULL,
	updated_at TEXT NOT NULL
)`

type sqliteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the SQLite database at dbPath
// and enables WAL mode.
func NewSQLiteStore(dbPath string) (Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "failed to create db directory")
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	// one writer at a time, the version check runs in the same statement
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "failed to enable WAL mode")
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "failed to create schema")
	}

	logger.KV(xlog.DEBUG, "status", "opened", "backend", "sqlite", "path", dbPath)
	return &sqliteStore{db: db}, nil
}

func (s *sqliteStore) Get(ctx context.Context, threadID string) (*Checkpoint, error) {
	if threadID == "" {
		return nil, errors.WithStack(ErrInvalidThreadID)
	}

	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM checkpoints WHERE thread_id = ?`, threadID).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Empty(threadID), nil
		}
		return nil, errors.Wrap(err, "failed to query checkpoint")
	}

	cp := new(Checkpoint)
	if err := json.Unmarshal([]byte(data), cp); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal checkpoint")
	}
	return cp, nil
}

func (s *sqliteStore) Put(ctx context.Context, cp *Checkpoint) (*Checkpoint, error) {
	if err := validate(cp); err != nil {
		return nil, err
	}
	defer metricskey.PerfCheckpointWrite.MeasureSince(time.Now(), "sqlite")

	n := next(cp, time.Now().UTC())
	data, err := json.Marshal(n)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal checkpoint")
	}
	updatedAt := n.UpdatedAt.Format(time.RFC3339Nano)

	var res sql.Result
	if cp.Version == 0 {
		res, err = s.db.ExecContext(ctx, `
			INSERT INTO checkpoints (thread_id, version, data, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(thread_id) DO NOTHING`,
			n.ThreadID, n.Version, string(data), updatedAt)
	} else {
		res, err = s.db.ExecContext(ctx, `
			UPDATE checkpoints SET version = ?, data = ?, updated_at = ?
			WHERE thread_id = ? AND version = ?`,
			n.Version, string(data), updatedAt, n.ThreadID, cp.Version)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to store checkpoint")
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, errors.Wrap(err, "failed to store checkpoint")
	}
	if affected == 0 {
		metricskey.StatsCheckpointConflicts.IncrCounter(1, "sqlite")
		var stored uint64
		_ = s.db.QueryRowContext(ctx, `SELECT version FROM checkpoints WHERE thread_id = ?`, cp.ThreadID).Scan(&stored)
		return nil, conflict("sqlite", cp.ThreadID, stored, cp.Version)
	}
	return n, nil
}

func (s *sqliteStore) Delete(ctx context.Context, threadID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE thread_id = ?`, threadID)
	if err != nil {
		return errors.Wrap(err, "failed to delete checkpoint")
	}
	return nil
}

func (s *sqliteStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT thread_id FROM checkpoints ORDER BY thread_id`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query threads")
	}
	defer rows.Close()

	var list []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "failed to scan thread row")
		}
		list = append(list, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate thread rows")
	}
	return list, nil
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}
