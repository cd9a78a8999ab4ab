package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/mops-cli/internal/db"
	"github.com/sells-group/mops-cli/internal/model"
)

// PostgresStore implements Ledger using pgxpool.
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
	pgUpsertSession = `INSERT INTO sessions (id, company_id, year, strict_mode, rule_version, success, total_bytes, result, started_at, finished_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (id) DO UPDATE SET success = EXCLUDED.success, total_bytes = EXCLUDED.total_bytes, result = EXCLUDED.result, finished_at = EXCLUDED.finished_at`
	pgDeleteOutcomes = `DELETE FROM quarter_outcomes WHERE session_id = $1`
	pgGetSession     = `SELECT result FROM sessions WHERE id = $1`
	pgListOutcomes   = `SELECT quarter, success, state, error_kind, reason, retry_count, tier, source_url, strategy, file_path, bytes, reused FROM quarter_outcomes WHERE session_id = $1 ORDER BY quarter`
)

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(4)
	minConns := int32(1)
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

// NewPostgresWithPool wraps an existing pool. The caller owns its lifecycle.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS sessions (
	id           TEXT PRIMARY KEY,
	company_id   TEXT NOT NULL,
	year         INTEGER NOT NULL,
	strict_mode  BOOLEAN NOT NULL DEFAULT false,
	rule_version TEXT NOT NULL,
	success      BOOLEAN NOT NULL DEFAULT false,
	total_bytes  BIGINT NOT NULL DEFAULT 0,
	result       JSONB NOT NULL,
	started_at   TIMESTAMPTZ NOT NULL,
	finished_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS quarter_outcomes (
	session_id  TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	quarter     SMALLINT NOT NULL,
	success     BOOLEAN NOT NULL,
	state       TEXT NOT NULL,
	error_kind  TEXT NOT NULL DEFAULT '',
	reason      TEXT NOT NULL DEFAULT '',
	retry_count INTEGER NOT NULL DEFAULT 0,
	tier        TEXT NOT NULL DEFAULT '',
	source_url  TEXT NOT NULL DEFAULT '',
	strategy    TEXT NOT NULL DEFAULT '',
	file_path   TEXT NOT NULL DEFAULT '',
	bytes       BIGINT NOT NULL DEFAULT 0,
	reused      BOOLEAN NOT NULL DEFAULT false,
	PRIMARY KEY (session_id, quarter)
);

CREATE INDEX IF NOT EXISTS idx_sessions_company_year ON sessions(company_id, year);
CREATE INDEX IF NOT EXISTS idx_sessions_started_at ON sessions(started_at DESC);
`

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

// SaveSession upserts the session row and replaces its quarter rows via COPY.
func (s *PostgresStore) SaveSession(ctx context.Context, res *model.SessionResult) error {
	raw, err := encodeResult(res)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, pgUpsertSession,
		res.SessionID, res.CompanyID, res.Year, res.StrictMode, res.RuleVersion, res.Success, res.TotalBytes,
		raw, res.StartedAt.UTC(), res.FinishedAt.UTC(),
	); err != nil {
		return eris.Wrapf(err, "postgres: upsert session %s", res.SessionID)
	}
	if _, err := tx.Exec(ctx, pgDeleteOutcomes, res.SessionID); err != nil {
		return eris.Wrapf(err, "postgres: clear outcomes %s", res.SessionID)
	}

	rows := make([][]any, 0, len(res.Outcomes))
	for _, o := range res.Outcomes {
		rows = append(rows, outcomeRow(res.SessionID, o))
	}
	if _, err := db.CopyFrom(ctx, tx, "quarter_outcomes", outcomeColumns, rows); err != nil {
		return eris.Wrapf(err, "postgres: insert outcomes %s", res.SessionID)
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit session")
}

func (s *PostgresStore) GetSession(ctx context.Context, id string) (*model.SessionResult, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, pgGetSession, id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get session %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get session %s", id)
	}
	return decodeResult(raw)
}

func (s *PostgresStore) ListSessions(ctx context.Context, filter SessionFilter) ([]model.SessionResult, error) {
	query := `SELECT result FROM sessions WHERE true`
	args := []any{}
	argIdx := 1

	if filter.CompanyID != "" {
		query += fmt.Sprintf(` AND company_id = $%d`, argIdx)
		args = append(args, filter.CompanyID)
		argIdx++
	}
	if filter.Year > 0 {
		query += fmt.Sprintf(` AND year = $%d`, argIdx)
		args = append(args, filter.Year)
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY started_at DESC, id LIMIT $%d`, argIdx)
	args = append(args, limitOf(filter))
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list sessions")
	}
	defer rows.Close()

	var out []model.SessionResult
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, eris.Wrap(err, "postgres: scan session")
		}
		res, err := decodeResult(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, *res)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list sessions iterate")
}

func (s *PostgresStore) Outcomes(ctx context.Context, sessionID string) ([]model.DownloadOutcome, error) {
	rows, err := s.pool.Query(ctx, pgListOutcomes, sessionID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list outcomes %s", sessionID)
	}
	defer rows.Close()

	var out []model.DownloadOutcome
	for rows.Next() {
		var (
			o                 model.DownloadOutcome
			state, kind, tier string
		)
		if err := rows.Scan(&o.Quarter, &o.Success, &state, &kind, &o.Reason, &o.RetryCount,
			&tier, &o.SourceURL, &o.Strategy, &o.FilePath, &o.Bytes, &o.Reused); err != nil {
			return nil, eris.Wrap(err, "postgres: scan outcome")
		}
		o.State, o.ErrorKind, o.Tier = model.JobState(state), model.ErrorKind(kind), model.Tier(tier)
		out = append(out, o)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list outcomes iterate")
}
