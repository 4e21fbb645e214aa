package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/dshills/abigate/internal/review"
)

// ErrNotFound is returned for unknown requests.
var ErrNotFound = errors.New("request not found")

const schema = `
CREATE TABLE IF NOT EXISTS request (
  id TEXT PRIMARY KEY,
  state TEXT NOT NULL,
  result TEXT,
  created TIMESTAMP WITH TIME ZONE NOT NULL,
  updated TIMESTAMP WITH TIME ZONE NOT NULL
);
CREATE TABLE IF NOT EXISTS log (
  id SERIAL PRIMARY KEY,
  request_id TEXT NOT NULL,
  line TEXT NOT NULL,
  created TIMESTAMP WITH TIME ZONE NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_log_request_id ON log (request_id);
CREATE TABLE IF NOT EXISTS abicheck (
  id SERIAL PRIMARY KEY,
  request_id TEXT NOT NULL REFERENCES request (id) ON DELETE CASCADE,
  src_project TEXT NOT NULL,
  src_package TEXT NOT NULL,
  src_rev TEXT,
  dst_project TEXT NOT NULL,
  dst_package TEXT NOT NULL,
  result BOOLEAN,
  created TIMESTAMP WITH TIME ZONE NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_abicheck_request_id ON abicheck (request_id);
CREATE TABLE IF NOT EXISTS libreport (
  id SERIAL PRIMARY KEY,
  abicheck_id INTEGER NOT NULL REFERENCES abicheck (id) ON DELETE CASCADE,
  src_repo TEXT NOT NULL,
  src_lib TEXT NOT NULL,
  dst_repo TEXT NOT NULL,
  dst_lib TEXT NOT NULL,
  arch TEXT NOT NULL,
  htmlreport TEXT NOT NULL,
  result BOOLEAN NOT NULL,
  created TIMESTAMP WITH TIME ZONE NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_libreport_abicheck_id ON libreport (abicheck_id);
`

const (
	queryState         = `SELECT state FROM request WHERE id = $1`
	queryUpsertRequest = `INSERT INTO request (id, state, result, created, updated) VALUES ($1, $2, $3, $4, $4)
ON CONFLICT (id) DO UPDATE SET state = EXCLUDED.state, result = EXCLUDED.result, updated = EXCLUDED.updated`
	queryDeleteChecks = `DELETE FROM abicheck WHERE request_id = $1`
	queryInsertCheck  = `INSERT INTO abicheck (request_id, src_project, src_package, src_rev, dst_project, dst_package, result, created)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`
	queryInsertLib = `INSERT INTO libreport (abicheck_id, src_repo, src_lib, dst_repo, dst_lib, arch, htmlreport, result, created)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`
	queryInsertLog    = `INSERT INTO log (request_id, line, created) VALUES ($1, $2, $3)`
	queryListRequests = `SELECT id, state, result, created, updated FROM request ORDER BY updated DESC`
	queryListByState  = `SELECT id, state, result, created, updated FROM request WHERE state = $1 ORDER BY updated DESC`
	queryLog          = `SELECT line, created FROM log WHERE request_id = $1 ORDER BY id`
	queryChecks       = `SELECT id, src_project, src_package, src_rev, dst_project, dst_package, result FROM abicheck WHERE request_id = $1 ORDER BY id`
	queryLibs         = `SELECT id, src_repo, src_lib, dst_repo, dst_lib, arch, htmlreport, result FROM libreport WHERE abicheck_id = $1 ORDER BY id`
	queryDeleteLog    = `DELETE FROM log WHERE request_id = $1`
	queryDelete       = `DELETE FROM request WHERE id = $1`
	queryRecheck      = `UPDATE request SET state = $2, result = NULL, updated = $3 WHERE id = $1`
	queryStale        = `SELECT id FROM request WHERE updated < $1 ORDER BY id`
	queryReports      = `SELECT l.htmlreport FROM libreport l JOIN abicheck a ON a.id = l.abicheck_id WHERE a.request_id = $1 ORDER BY l.id`
)

// Store keeps request states, check reports and per-request logs in
// PostgreSQL.
type Store struct {
	db  *sql.DB
	now func() time.Time

	schemaOnce sync.Once
	schemaErr  error
}

// Open connects to the database at dsn.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", strings.TrimSpace(dsn))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	return New(db), nil
}

// New wraps an open database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection and the schema.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return err
	}
	return s.ensureSchema(ctx)
}

func (s *Store) ensureSchema(ctx context.Context) error {
	s.schemaOnce.Do(func() {
		if _, err := s.db.ExecContext(ctx, schema); err != nil {
			s.schemaErr = fmt.Errorf("creating schema: %w", err)
		}
	})
	return s.schemaErr
}

// IsDone reports whether request id reached a final state.
func (s *Store) IsDone(ctx context.Context, id string) (bool, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return false, err
	}
	var state string
	err := s.db.QueryRowContext(ctx, queryState, id).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading request %s: %w", id, err)
	}
	return state == string(review.StateDone), nil
}

// Save records the state of a request and replaces its stored reports in
// one transaction. It returns the libreport ids in report order.
func (s *Store) Save(ctx context.Context, rec review.Record) ([][]int64, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, queryUpsertRequest, rec.RequestID, string(rec.State), resultValue(rec.Result), now); err != nil {
		return nil, fmt.Errorf("storing request %s: %w", rec.RequestID, err)
	}
	// Reports of earlier passes go away with their libreports.
	if _, err := tx.ExecContext(ctx, queryDeleteChecks, rec.RequestID); err != nil {
		return nil, fmt.Errorf("removing old reports of %s: %w", rec.RequestID, err)
	}

	ids := make([][]int64, len(rec.Reports))
	for i, r := range rec.Reports {
		var checkID int64
		err := tx.QueryRowContext(ctx, queryInsertCheck,
			rec.RequestID, r.SrcProject, r.SrcPackage, nullString(r.SrcRev),
			r.DstProject, r.DstPackage, verdictValue(r.Overall), now,
		).Scan(&checkID)
		if err != nil {
			return nil, fmt.Errorf("storing report of %s/%s: %w", r.DstProject, r.DstPackage, err)
		}
		for _, lr := range r.LibResults {
			var libID int64
			err := tx.QueryRowContext(ctx, queryInsertLib,
				checkID, lr.SrcRepo, lr.SrcLib, lr.DstRepo, lr.DstLib, lr.Arch, lr.Report, lr.Compatible, now,
			).Scan(&libID)
			if err != nil {
				return nil, fmt.Errorf("storing library report %s: %w", lr.DstLib, err)
			}
			ids[i] = append(ids[i], libID)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing reports of %s: %w", rec.RequestID, err)
	}
	return ids, nil
}

// AppendLog adds one log line to request id.
func (s *Store) AppendLog(ctx context.Context, id string, t time.Time, line string) error {
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, queryInsertLog, id, line, t.UTC())
	return err
}

// LogLine is a logging sink that stores lines of the request carried by
// ctx. Lines outside of request processing are dropped.
func (s *Store) LogLine(ctx context.Context, t time.Time, line string) {
	id := review.RequestID(ctx)
	if id == "" {
		return
	}
	_ = s.AppendLog(context.WithoutCancel(ctx), id, t, line)
}

// Request is a stored request row.
type Request struct {
	ID      string    `json:"id"`
	State   string    `json:"state"`
	Result  string    `json:"result,omitempty"`
	Created time.Time `json:"created"`
	Updated time.Time `json:"updated"`
}

// List returns the stored requests, newest first. An empty state lists all.
func (s *Store) List(ctx context.Context, state string) ([]Request, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	var (
		rows *sql.Rows
		err  error
	)
	if state == "" {
		rows, err = s.db.QueryContext(ctx, queryListRequests)
	} else {
		rows, err = s.db.QueryContext(ctx, queryListByState, state)
	}
	if err != nil {
		return nil, fmt.Errorf("listing requests: %w", err)
	}
	defer rows.Close()

	var out []Request
	for rows.Next() {
		var r Request
		var result sql.NullString
		if err := rows.Scan(&r.ID, &r.State, &result, &r.Created, &r.Updated); err != nil {
			return nil, fmt.Errorf("reading request row: %w", err)
		}
		r.Result = result.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// LogEntry is a stored log line.
type LogEntry struct {
	Line    string    `json:"line"`
	Created time.Time `json:"created"`
}

// Log returns the log of request id in insertion order.
func (s *Store) Log(ctx context.Context, id string) ([]LogEntry, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, queryLog, id)
	if err != nil {
		return nil, fmt.Errorf("reading log of %s: %w", id, err)
	}
	defer rows.Close()

	var out []LogEntry
	for rows.Next() {
		var e LogEntry
		if err := rows.Scan(&e.Line, &e.Created); err != nil {
			return nil, fmt.Errorf("reading log row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Reports returns the stored reports of request id.
func (s *Store) Reports(ctx context.Context, id string) ([]*review.Report, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, queryChecks, id)
	if err != nil {
		return nil, fmt.Errorf("reading reports of %s: %w", id, err)
	}
	var (
		checkIDs []int64
		out      []*review.Report
	)
	for rows.Next() {
		var (
			checkID int64
			rev     sql.NullString
			result  sql.NullBool
			r       review.Report
		)
		if err := rows.Scan(&checkID, &r.SrcProject, &r.SrcPackage, &rev, &r.DstProject, &r.DstPackage, &result); err != nil {
			rows.Close()
			return nil, fmt.Errorf("reading report row: %w", err)
		}
		r.SrcRev = rev.String
		r.Overall = verdictFrom(result)
		checkIDs = append(checkIDs, checkID)
		out = append(out, &r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, checkID := range checkIDs {
		libs, err := s.libReports(ctx, checkID)
		if err != nil {
			return nil, err
		}
		out[i].LibResults = libs
	}
	return out, nil
}

func (s *Store) libReports(ctx context.Context, checkID int64) ([]review.LibResult, error) {
	rows, err := s.db.QueryContext(ctx, queryLibs, checkID)
	if err != nil {
		return nil, fmt.Errorf("reading library reports: %w", err)
	}
	defer rows.Close()
	var out []review.LibResult
	for rows.Next() {
		var (
			id int64
			lr review.LibResult
		)
		if err := rows.Scan(&id, &lr.SrcRepo, &lr.SrcLib, &lr.DstRepo, &lr.DstLib, &lr.Arch, &lr.Report, &lr.Compatible); err != nil {
			return nil, fmt.Errorf("reading library report row: %w", err)
		}
		out = append(out, lr)
	}
	return out, rows.Err()
}

// Delete removes request id with its reports and log.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := deleteRequest(ctx, tx, id); err != nil {
		return err
	}
	return tx.Commit()
}

func deleteRequest(ctx context.Context, tx *sql.Tx, id string) error {
	if _, err := tx.ExecContext(ctx, queryDeleteLog, id); err != nil {
		return fmt.Errorf("removing log of %s: %w", id, err)
	}
	res, err := tx.ExecContext(ctx, queryDelete, id)
	if err != nil {
		return fmt.Errorf("removing request %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return nil
}

// Recheck puts request id back into state seen so the next pass checks it
// again.
func (s *Store) Recheck(ctx context.Context, id string) error {
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, queryRecheck, id, string(review.StateSeen), s.now().UTC())
	if err != nil {
		return fmt.Errorf("updating request %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return nil
}

// Pruned lists what Prune removed.
type Pruned struct {
	Requests []string `json:"requests"`
	// Reports are the HTML report names of the removed requests.
	Reports map[string][]string `json:"reports"`
}

// Prune removes requests not updated since before.
func (s *Store) Prune(ctx context.Context, before time.Time) (*Pruned, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	ids, err := queryStrings(ctx, tx, queryStale, before.UTC())
	if err != nil {
		return nil, fmt.Errorf("finding stale requests: %w", err)
	}
	out := &Pruned{Requests: ids, Reports: map[string][]string{}}
	for _, id := range ids {
		reports, err := queryStrings(ctx, tx, queryReports, id)
		if err != nil {
			return nil, fmt.Errorf("reading reports of %s: %w", id, err)
		}
		if len(reports) > 0 {
			out.Reports[id] = reports
		}
		if err := deleteRequest(ctx, tx, id); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing prune: %w", err)
	}
	return out, nil
}

func queryStrings(ctx context.Context, tx *sql.Tx, query string, args ...any) ([]string, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func resultValue(d review.Decision) any {
	if d == review.Pending {
		return nil
	}
	return d.String()
}

func verdictValue(v review.Verdict) any {
	switch v {
	case review.Compatible:
		return true
	case review.Incompatible:
		return false
	}
	return nil
}

func verdictFrom(b sql.NullBool) review.Verdict {
	switch {
	case !b.Valid:
		return review.Unknown
	case b.Bool:
		return review.Compatible
	}
	return review.Incompatible
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
