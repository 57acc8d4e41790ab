// Package history persists every request through a single embedded SQLite
// database, per spec §6. The teacher has no persistence layer of its own
// (history.Store is new domain infrastructure introduced for this spec),
// so the driver choice - modernc.org/sqlite, a pure-Go implementation
// needing no cgo - follows the rest of the pack's preference for
// dependency-light, statically-linkable Go services, and database/sql is
// used the idiomatic standard-library way on top of it. The single-writer
// discipline from spec §5 ("the database has one writer queue") is
// enforced by capping the write handle to one open connection.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ccproxy/ccproxy/internal/apperr"
)

const schema = `
CREATE TABLE IF NOT EXISTS history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ts TEXT NOT NULL,
	claimed_model TEXT NOT NULL,
	concrete_model TEXT NOT NULL DEFAULT '',
	provider TEXT NOT NULL DEFAULT '',
	is_streaming INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'pending',
	input_tokens INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	total_tokens INTEGER NOT NULL DEFAULT 0,
	stop_reason TEXT NOT NULL DEFAULT '',
	request_json TEXT NOT NULL DEFAULT '',
	openai_request_json TEXT NOT NULL DEFAULT '',
	response_json TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_history_ts ON history(ts);
CREATE INDEX IF NOT EXISTS idx_history_concrete_model ON history(concrete_model);

CREATE TABLE IF NOT EXISTS config (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// Store is the single embedded-database handle threaded through the
// orchestrator and the config API, per the Design Note "Global
// configuration -> passed context" ("the only truly global resource is
// the history store handle").
type Store struct {
	writeDB *sql.DB // single connection: serializes every write transaction
	readDB  *sql.DB // a small pool for concurrent reads
}

// Open creates (if needed) and opens the SQLite file at path.
func Open(path string) (*Store, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"

	writeDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("history: opening write handle: %w", err)
	}
	writeDB.SetMaxOpenConns(1)

	readDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		writeDB.Close()
		return nil, fmt.Errorf("history: opening read handle: %w", err)
	}
	readDB.SetMaxOpenConns(4)

	if _, err := writeDB.Exec(schema); err != nil {
		writeDB.Close()
		readDB.Close()
		return nil, fmt.Errorf("history: applying schema: %w", err)
	}

	return &Store{writeDB: writeDB, readDB: readDB}, nil
}

func (s *Store) Close() error {
	werr := s.writeDB.Close()
	rerr := s.readDB.Close()
	if werr != nil {
		return werr
	}
	return rerr
}

// PendingRow is the state known when a request is first accepted, before
// routing or translation, per spec §4.5 step 2.
type PendingRow struct {
	ClaimedModel string
	IsStreaming  bool
	RequestJSON  string
}

// InsertPending records a new request, returning its row id.
func (s *Store) InsertPending(ctx context.Context, row PendingRow) (int64, error) {
	res, err := s.writeDB.ExecContext(ctx,
		`INSERT INTO history (ts, claimed_model, is_streaming, status, request_json) VALUES (?, ?, ?, 'pending', ?)`,
		time.Now().UTC().Format(time.RFC3339Nano), row.ClaimedModel, boolToInt(row.IsStreaming), row.RequestJSON,
	)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindInternal, err, "inserting pending history row")
	}
	return res.LastInsertId()
}

// SetRouted tags the row with its resolved provider and concrete model,
// per spec §4.5 step 3, and optionally the translated OpenAI request body.
func (s *Store) SetRouted(ctx context.Context, id int64, provider, concreteModel, openaiRequestJSON string) error {
	_, err := s.writeDB.ExecContext(ctx,
		`UPDATE history SET provider = ?, concrete_model = ?, openai_request_json = ? WHERE id = ?`,
		provider, concreteModel, openaiRequestJSON, id,
	)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, err, "recording routed model")
	}
	return nil
}

// Completion is the terminal state recorded once a request finishes.
type Completion struct {
	Status       string // "completed", "partial", or "error"
	InputTokens  int
	OutputTokens int
	StopReason   string
	ResponseJSON string
	Error        string
}

// Complete writes the terminal state for a row, per spec §4.5 steps 7-8.
func (s *Store) Complete(ctx context.Context, id int64, c Completion) error {
	_, err := s.writeDB.ExecContext(ctx,
		`UPDATE history SET status = ?, input_tokens = ?, output_tokens = ?, total_tokens = ?, stop_reason = ?, response_json = ?, error = ? WHERE id = ?`,
		c.Status, c.InputTokens, c.OutputTokens, c.InputTokens+c.OutputTokens, c.StopReason, c.ResponseJSON, c.Error, id,
	)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, err, "recording completed history row")
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// GetConfig reads a persisted current-selection value, per spec §6's
// config(key, value) table.
func (s *Store) GetConfig(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.readDB.QueryRowContext(ctx, `SELECT value FROM config WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, apperr.Wrap(apperr.KindInternal, err, "reading config key "+key)
	}
	return value, true, nil
}

// SetConfig upserts a persisted current-selection value.
func (s *Store) SetConfig(ctx context.Context, key, value string) error {
	_, err := s.writeDB.ExecContext(ctx,
		`INSERT INTO config (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, err, "persisting config key "+key)
	}
	return nil
}
