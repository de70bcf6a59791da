package storage

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"

	"github.com/httprunner/AppAgent"
	"github.com/httprunner/AppAgent/internal/config"
	pkgerrors "github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

const (
	// EnvRunDBPath points the sqlite run recorder at its database file.
	// Empty disables persistence.
	EnvRunDBPath = "RUN_STORAGE_DB_PATH"

	runsTableName = "device_runs"
)

// SQLiteRecorder persists engine run snapshots into a local sqlite file, one
// row per device serial.
type SQLiteRecorder struct {
	db *sql.DB
}

var _ appagent.RunRecorder = (*SQLiteRecorder)(nil)

// NewRecorderFromEnv opens the recorder named by RUN_STORAGE_DB_PATH, or
// returns (nil, nil) when persistence is disabled.
func NewRecorderFromEnv() (*SQLiteRecorder, error) {
	path := config.String(EnvRunDBPath, "")
	if path == "" {
		return nil, nil
	}
	return Open(path)
}

// Open creates (if needed) and configures the run database at path.
func Open(path string) (*SQLiteRecorder, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, pkgerrors.Wrap(err, "storage: create run db directory")
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "storage: open run db")
	}
	if err := configureRunDB(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := ensureRunsTable(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteRecorder{db: db}, nil
}

func configureRunDB(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=60000;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return pkgerrors.Wrapf(err, "storage: execute %s", pragma)
		}
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return nil
}

func ensureRunsTable(db *sql.DB) error {
	createTable := `CREATE TABLE IF NOT EXISTS ` + runsTableName + ` (
		device_serial    TEXT PRIMARY KEY,
		device_name      TEXT,
		stage            TEXT,
		os_type          TEXT,
		os_version       TEXT,
		is_root          TEXT,
		videos_processed INTEGER NOT NULL DEFAULT 0,
		likes_given      INTEGER NOT NULL DEFAULT 0,
		comments_posted  INTEGER NOT NULL DEFAULT 0,
		error_count      INTEGER NOT NULL DEFAULT 0,
		restarts         INTEGER NOT NULL DEFAULT 0,
		last_error       TEXT,
		agent_version    TEXT,
		last_seen_at     TIMESTAMP
	)`
	if _, err := db.Exec(createTable); err != nil {
		return pkgerrors.Wrap(err, "storage: create device_runs table")
	}
	return nil
}

// UpsertRuns writes one row per device, replacing previous snapshots.
func (r *SQLiteRecorder) UpsertRuns(ctx context.Context, updates []appagent.RunUpdate) error {
	if r == nil || r.db == nil {
		return pkgerrors.New("storage: run recorder is not open")
	}
	if len(updates) == 0 {
		return nil
	}
	const upsert = `INSERT INTO ` + runsTableName + ` (
		device_serial, device_name, stage, os_type, os_version, is_root,
		videos_processed, likes_given, comments_posted, error_count,
		restarts, last_error, agent_version, last_seen_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(device_serial) DO UPDATE SET
		device_name      = excluded.device_name,
		stage            = excluded.stage,
		os_type          = excluded.os_type,
		os_version       = excluded.os_version,
		is_root          = excluded.is_root,
		videos_processed = excluded.videos_processed,
		likes_given      = excluded.likes_given,
		comments_posted  = excluded.comments_posted,
		error_count      = excluded.error_count,
		restarts         = excluded.restarts,
		last_error       = excluded.last_error,
		agent_version    = excluded.agent_version,
		last_seen_at     = excluded.last_seen_at`

	for _, update := range updates {
		if update.DeviceSerial == "" {
			continue
		}
		if _, err := r.db.ExecContext(ctx, upsert,
			update.DeviceSerial, update.DeviceName, update.Stage,
			update.OSType, update.OSVersion, update.IsRoot,
			update.VideosProcessed, update.LikesGiven, update.CommentsPosted,
			update.ErrorCount, update.Restarts, update.LastError,
			update.AgentVersion, update.LastSeenAt,
		); err != nil {
			return pkgerrors.Wrapf(err, "storage: upsert run for %s", update.DeviceSerial)
		}
	}
	return nil
}

// Close releases the underlying database handle.
func (r *SQLiteRecorder) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}
