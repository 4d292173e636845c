package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/calibration-cli/internal/db"
	"github.com/sells-group/calibration-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const (
	upsertSessionSQL = `INSERT INTO calibration_sessions
	(id, equipment_id, equipment_class, state, verdict, score, degraded, overridden, source, snapshot, opened_at, closed_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	ON CONFLICT (id) DO UPDATE SET
		state = EXCLUDED.state, verdict = EXCLUDED.verdict, score = EXCLUDED.score,
		degraded = EXCLUDED.degraded, overridden = EXCLUDED.overridden, source = EXCLUDED.source,
		snapshot = EXCLUDED.snapshot, closed_at = EXCLUDED.closed_at, updated_at = EXCLUDED.updated_at`
	getSessionSQL = `SELECT snapshot FROM calibration_sessions WHERE id = $1`
)

// preparedStatements are prepared on each new connection.
var preparedStatements = map[string]string{
	"upsert_session": upsertSessionSQL,
	"get_session":    getSessionSQL,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS calibration_sessions (
	id              TEXT PRIMARY KEY,
	equipment_id    TEXT NOT NULL,
	equipment_class TEXT NOT NULL,
	state           TEXT NOT NULL,
	verdict         TEXT,
	score           INTEGER,
	degraded        BOOLEAN NOT NULL DEFAULT false,
	overridden      BOOLEAN NOT NULL DEFAULT false,
	source          TEXT,
	snapshot        JSONB NOT NULL,
	opened_at       TIMESTAMPTZ NOT NULL,
	closed_at       TIMESTAMPTZ,
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_calibration_sessions_equipment ON calibration_sessions(equipment_id);
CREATE INDEX IF NOT EXISTS idx_calibration_sessions_state ON calibration_sessions(state);
CREATE INDEX IF NOT EXISTS idx_calibration_sessions_verdict ON calibration_sessions(verdict);
CREATE INDEX IF NOT EXISTS idx_calibration_sessions_opened_at ON calibration_sessions(opened_at DESC);
`

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) SaveSession(ctx context.Context, snap model.SessionSnapshot) error {
	row, err := toRow(snap)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, upsertSessionSQL, row.args(time.Now().UTC())...)
	return eris.Wrapf(err, "postgres: save session %s", snap.ID)
}

func (s *PostgresStore) GetSession(ctx context.Context, id string) (*model.SessionSnapshot, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, getSessionSQL, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.SessionNotFound(id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get session %s", id)
	}
	return fromSnapshotJSON(id, data)
}

func (s *PostgresStore) ListSessions(ctx context.Context, filter SessionFilter) ([]model.SessionSnapshot, error) {
	query := `SELECT id, snapshot FROM calibration_sessions WHERE true`
	args := []any{}
	argIdx := 1

	if filter.State != "" {
		query += fmt.Sprintf(` AND state = $%d`, argIdx)
		args = append(args, string(filter.State))
		argIdx++
	}
	if filter.EquipmentID != "" {
		query += fmt.Sprintf(` AND equipment_id = $%d`, argIdx)
		args = append(args, filter.EquipmentID)
		argIdx++
	}
	if filter.Verdict != "" {
		query += fmt.Sprintf(` AND verdict = $%d`, argIdx)
		args = append(args, string(filter.Verdict))
		argIdx++
	}
	if !filter.Since.IsZero() {
		query += fmt.Sprintf(` AND opened_at >= $%d`, argIdx)
		args = append(args, filter.Since.UTC())
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY opened_at DESC, id LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list sessions")
	}
	defer rows.Close()

	var out []model.SessionSnapshot
	for rows.Next() {
		var id string
		var data []byte
		if err := rows.Scan(&id, &data); err != nil {
			return nil, eris.Wrap(err, "postgres: scan session")
		}
		snap, err := fromSnapshotJSON(id, data)
		if err != nil {
			return nil, err
		}
		out = append(out, *snap)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate sessions")
}

// ImportSessions loads snapshots with COPY through db.BulkUpsert.
func (s *PostgresStore) ImportSessions(ctx context.Context, snaps []model.SessionSnapshot) (int64, error) {
	now := time.Now().UTC()
	rows := make([][]any, 0, len(snaps))
	for _, snap := range snaps {
		row, err := toRow(snap)
		if err != nil {
			return 0, err
		}
		rows = append(rows, row.args(now))
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "calibration_sessions",
		Columns:      sessionColumns,
		ConflictKeys: []string{"id"},
	}, rows)
	return n, eris.Wrap(err, "postgres: import sessions")
}

func (r sessionRow) args(updatedAt time.Time) []any {
	return []any{
		r.ID, r.EquipmentID, r.EquipmentClass, r.State,
		r.Verdict, r.Score, r.Degraded, r.Overridden, r.Source,
		r.Snapshot, r.OpenedAt, r.ClosedAt, updatedAt,
	}
}
