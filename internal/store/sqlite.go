package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/calibration-cli/internal/model"
)

// sqliteTime is a fixed-width UTC layout so stored timestamps sort as text.
const sqliteTime = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS calibration_sessions (
	id              TEXT PRIMARY KEY,
	equipment_id    TEXT NOT NULL,
	equipment_class TEXT NOT NULL,
	state           TEXT NOT NULL,
	verdict         TEXT,
	score           INTEGER,
	degraded        INTEGER NOT NULL DEFAULT 0,
	overridden      INTEGER NOT NULL DEFAULT 0,
	source          TEXT,
	snapshot        TEXT NOT NULL,
	opened_at       TEXT NOT NULL,
	closed_at       TEXT,
	updated_at      TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_calibration_sessions_equipment ON calibration_sessions(equipment_id);
CREATE INDEX IF NOT EXISTS idx_calibration_sessions_state ON calibration_sessions(state);
CREATE INDEX IF NOT EXISTS idx_calibration_sessions_opened_at ON calibration_sessions(opened_at);
`

const sqliteUpsert = `INSERT INTO calibration_sessions
	(id, equipment_id, equipment_class, state, verdict, score, degraded, overridden, source, snapshot, opened_at, closed_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
		state = excluded.state, verdict = excluded.verdict, score = excluded.score,
		degraded = excluded.degraded, overridden = excluded.overridden, source = excluded.source,
		snapshot = excluded.snapshot, closed_at = excluded.closed_at, updated_at = excluded.updated_at`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLiteStore) SaveSession(ctx context.Context, snap model.SessionSnapshot) error {
	return saveSQLite(ctx, s.db, snap, time.Now().UTC())
}

func saveSQLite(ctx context.Context, ex execer, snap model.SessionSnapshot, now time.Time) error {
	row, err := toRow(snap)
	if err != nil {
		return err
	}
	var closedAt *string
	if row.ClosedAt != nil {
		v := row.ClosedAt.Format(sqliteTime)
		closedAt = &v
	}
	res, err := ex.ExecContext(ctx, sqliteUpsert,
		row.ID, row.EquipmentID, row.EquipmentClass, row.State,
		row.Verdict, row.Score, row.Degraded, row.Overridden, row.Source,
		string(row.Snapshot), row.OpenedAt.Format(sqliteTime), closedAt, now.Format(sqliteTime),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: save session %s", snap.ID)
	}
	return checkRowsAffected(res, "session", snap.ID)
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*model.SessionSnapshot, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT snapshot FROM calibration_sessions WHERE id = ?`, id,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.SessionNotFound(id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get session %s", id)
	}
	return fromSnapshotJSON(id, []byte(data))
}

func (s *SQLiteStore) ListSessions(ctx context.Context, filter SessionFilter) ([]model.SessionSnapshot, error) {
	query := `SELECT id, snapshot FROM calibration_sessions WHERE 1=1`
	args := []any{}

	if filter.State != "" {
		query += ` AND state = ?`
		args = append(args, string(filter.State))
	}
	if filter.EquipmentID != "" {
		query += ` AND equipment_id = ?`
		args = append(args, filter.EquipmentID)
	}
	if filter.Verdict != "" {
		query += ` AND verdict = ?`
		args = append(args, string(filter.Verdict))
	}
	if !filter.Since.IsZero() {
		query += ` AND opened_at >= ?`
		args = append(args, filter.Since.UTC().Format(sqliteTime))
	}
	query += ` ORDER BY opened_at DESC, id LIMIT ?`
	args = append(args, listLimit(filter))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list sessions")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.SessionSnapshot
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan session")
		}
		snap, err := fromSnapshotJSON(id, []byte(data))
		if err != nil {
			return nil, err
		}
		out = append(out, *snap)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate sessions")
}

// ImportSessions upserts all snapshots in one transaction.
func (s *SQLiteStore) ImportSessions(ctx context.Context, snaps []model.SessionSnapshot) (int64, error) {
	if len(snaps) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin import")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	for _, snap := range snaps {
		if err := saveSQLite(ctx, tx, snap, now); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit import")
	}
	return int64(len(snaps)), nil
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not written: %s", entity, id)
	}
	return nil
}
