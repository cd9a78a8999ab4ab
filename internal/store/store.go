// Package store keeps a ledger of past download sessions so that history and
// the HTTP API can report what was fetched and what is still missing.
package store

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/sells-group/mops-cli/internal/model"
)

// Ledger drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverNone     = "none"
)

const defaultListLimit = 100

// ErrNotFound is returned when a session id is unknown.
var ErrNotFound = eris.New("store: session not found")

// SessionFilter narrows ListSessions.
type SessionFilter struct {
	CompanyID string `json:"company_id,omitempty"`
	Year      int    `json:"year,omitempty"`
	Limit     int    `json:"limit,omitempty"`
	Offset    int    `json:"offset,omitempty"`
}

// Ledger persists session results and their per-quarter outcomes.
type Ledger interface {
	SaveSession(ctx context.Context, res *model.SessionResult) error
	GetSession(ctx context.Context, id string) (*model.SessionResult, error)
	ListSessions(ctx context.Context, filter SessionFilter) ([]model.SessionResult, error)
	// Outcomes returns the stored quarter rows of one session ordered by
	// quarter.
	Outcomes(ctx context.Context, sessionID string) ([]model.DownloadOutcome, error)

	Migrate(ctx context.Context) error
	Close() error
}

// Open returns a migrated ledger for driver. DriverNone yields a ledger that
// discards everything.
func Open(ctx context.Context, driver, dsn string) (Ledger, error) {
	var (
		l   Ledger
		err error
	)
	switch driver {
	case DriverSQLite:
		l, err = NewSQLite(dsn)
	case DriverPostgres:
		l, err = NewPostgres(ctx, dsn, nil)
	case DriverNone, "":
		return Nop{}, nil
	default:
		return nil, model.Errorf(model.ErrConfiguration, "store: unknown driver %q", driver)
	}
	if err != nil {
		return nil, err
	}
	if err := l.Migrate(ctx); err != nil {
		l.Close() //nolint:errcheck
		return nil, err
	}
	return l, nil
}

// Nop is a Ledger that stores nothing.
type Nop struct{}

func (Nop) SaveSession(context.Context, *model.SessionResult) error { return nil }
func (Nop) GetSession(context.Context, string) (*model.SessionResult, error) {
	return nil, ErrNotFound
}
func (Nop) ListSessions(context.Context, SessionFilter) ([]model.SessionResult, error) {
	return nil, nil
}
func (Nop) Outcomes(context.Context, string) ([]model.DownloadOutcome, error) { return nil, nil }
func (Nop) Migrate(context.Context) error                                     { return nil }
func (Nop) Close() error                                                      { return nil }

func encodeResult(res *model.SessionResult) ([]byte, error) {
	if res == nil || res.SessionID == "" {
		return nil, eris.New("store: session result has no id")
	}
	b, err := json.Marshal(res)
	return b, eris.Wrap(err, "store: marshal session")
}

func decodeResult(b []byte) (*model.SessionResult, error) {
	var res model.SessionResult
	if err := json.Unmarshal(b, &res); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal session")
	}
	return &res, nil
}

func limitOf(f SessionFilter) int {
	if f.Limit <= 0 {
		return defaultListLimit
	}
	return f.Limit
}

var outcomeColumns = []string{
	"session_id", "quarter", "success", "state", "error_kind", "reason", "retry_count",
	"tier", "source_url", "strategy", "file_path", "bytes", "reused",
}

func outcomeRow(sessionID string, o model.DownloadOutcome) []any {
	return []any{
		sessionID, o.Quarter, o.Success, string(o.State), string(o.ErrorKind), o.Reason, o.RetryCount,
		string(o.Tier), o.SourceURL, o.Strategy, o.FilePath, o.Bytes, o.Reused,
	}
}
