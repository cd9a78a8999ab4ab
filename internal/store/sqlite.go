package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/mops-cli/internal/model"
)

// SQLiteStore implements Ledger using modernc.org/sqlite.
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
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS sessions (
	id           TEXT PRIMARY KEY,
	company_id   TEXT NOT NULL,
	year         INTEGER NOT NULL,
	strict_mode  INTEGER NOT NULL DEFAULT 0,
	rule_version TEXT NOT NULL,
	success      INTEGER NOT NULL DEFAULT 0,
	total_bytes  INTEGER NOT NULL DEFAULT 0,
	result       TEXT NOT NULL,
	started_at   DATETIME NOT NULL,
	finished_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS quarter_outcomes (
	session_id  TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	quarter     INTEGER NOT NULL,
	success     INTEGER NOT NULL,
	state       TEXT NOT NULL,
	error_kind  TEXT NOT NULL DEFAULT '',
	reason      TEXT NOT NULL DEFAULT '',
	retry_count INTEGER NOT NULL DEFAULT 0,
	tier        TEXT NOT NULL DEFAULT '',
	source_url  TEXT NOT NULL DEFAULT '',
	strategy    TEXT NOT NULL DEFAULT '',
	file_path   TEXT NOT NULL DEFAULT '',
	bytes       INTEGER NOT NULL DEFAULT 0,
	reused      INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (session_id, quarter)
);

CREATE INDEX IF NOT EXISTS idx_sessions_company_year ON sessions(company_id, year);
CREATE INDEX IF NOT EXISTS idx_sessions_started_at ON sessions(started_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveSession writes the session and replaces its quarter rows in one
// transaction. Saving the same session twice overwrites it.
func (s *SQLiteStore) SaveSession(ctx context.Context, res *model.SessionResult) error {
	raw, err := encodeResult(res)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO sessions (id, company_id, year, strict_mode, rule_version, success, total_bytes, result, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			success = excluded.success,
			total_bytes = excluded.total_bytes,
			result = excluded.result,
			finished_at = excluded.finished_at`,
		res.SessionID, res.CompanyID, res.Year, res.StrictMode, res.RuleVersion, res.Success, res.TotalBytes,
		string(raw), res.StartedAt.UTC(), res.FinishedAt.UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: upsert session %s", res.SessionID)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM quarter_outcomes WHERE session_id = ?`, res.SessionID); err != nil {
		return eris.Wrapf(err, "sqlite: clear outcomes %s", res.SessionID)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO quarter_outcomes (session_id, quarter, success, state, error_kind, reason, retry_count, tier, source_url, strategy, file_path, bytes, reused)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare outcome insert")
	}
	defer stmt.Close() //nolint:errcheck

	for _, o := range res.Outcomes {
		if _, err := stmt.ExecContext(ctx, outcomeRow(res.SessionID, o)...); err != nil {
			return eris.Wrapf(err, "sqlite: insert outcome %s Q%d", res.SessionID, o.Quarter)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit session")
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*model.SessionResult, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT result FROM sessions WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: get session %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get session %s", id)
	}
	return decodeResult([]byte(raw))
}

func (s *SQLiteStore) ListSessions(ctx context.Context, filter SessionFilter) ([]model.SessionResult, error) {
	query := `SELECT result FROM sessions WHERE 1=1`
	var args []any

	if filter.CompanyID != "" {
		query += ` AND company_id = ?`
		args = append(args, filter.CompanyID)
	}
	if filter.Year > 0 {
		query += ` AND year = ?`
		args = append(args, filter.Year)
	}
	query += ` ORDER BY started_at DESC, id LIMIT ?`
	args = append(args, limitOf(filter))

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list sessions")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.SessionResult
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan session")
		}
		res, err := decodeResult([]byte(raw))
		if err != nil {
			return nil, err
		}
		out = append(out, *res)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list sessions iterate")
}

func (s *SQLiteStore) Outcomes(ctx context.Context, sessionID string) ([]model.DownloadOutcome, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT quarter, success, state, error_kind, reason, retry_count, tier, source_url, strategy, file_path, bytes, reused
		 FROM quarter_outcomes WHERE session_id = ? ORDER BY quarter`, sessionID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list outcomes %s", sessionID)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.DownloadOutcome
	for rows.Next() {
		var (
			o                 model.DownloadOutcome
			state, kind, tier string
		)
		if err := rows.Scan(&o.Quarter, &o.Success, &state, &kind, &o.Reason, &o.RetryCount,
			&tier, &o.SourceURL, &o.Strategy, &o.FilePath, &o.Bytes, &o.Reused); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan outcome")
		}
		o.State, o.ErrorKind, o.Tier = model.JobState(state), model.ErrorKind(kind), model.Tier(tier)
		out = append(out, o)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list outcomes iterate")
}
