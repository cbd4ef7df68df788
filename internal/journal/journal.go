package journal

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/scripthost/internal/ir"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - Initial journal schema
const currentSchemaVersion = 1

// MemoryPath opens a private in-memory journal.
const MemoryPath = ":memory:"

// TickSource reports the current host tick.
type TickSource interface {
	Current() int64
}

// Journal is an append-only record log. It implements ir.Recorder.
type Journal struct {
	db     *sql.DB
	runID  string
	ticks  TickSource
	logger *slog.Logger

	// mu serializes seq assignment with the insert so seq order is
	// insertion order.
	mu      sync.Mutex
	lastSeq int64
}

// Option configures a Journal.
type Option func(*Journal)

// WithTickSource stamps records with the current tick.
func WithTickSource(ts TickSource) Option {
	return func(j *Journal) {
		j.ticks = ts
	}
}

// WithLogger sets the logger used when a write fails inside Record.
func WithLogger(logger *slog.Logger) Option {
	return func(j *Journal) {
		j.logger = logger
	}
}

// WithRunID overrides the generated run id.
func WithRunID(id string) Option {
	return func(j *Journal) {
		j.runID = id
	}
}

// Open creates or opens a journal at path. An empty path or MemoryPath
// opens an in-memory journal.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
func Open(path string, opts ...Option) (*Journal, error) {
	if path == "" {
		path = MemoryPath
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to journal: %w", err)
	}

	// SQLite allows one writer; an in-memory database also lives on a
	// single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	j := &Journal{
		db:     db,
		runID:  uuid.Must(uuid.NewV7()).String(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(j)
	}

	if err := db.QueryRow("SELECT COALESCE(MAX(seq), 0) FROM records").Scan(&j.lastSeq); err != nil {
		db.Close()
		return nil, fmt.Errorf("read last seq: %w", err)
	}
	return j, nil
}

// Close closes the database connection.
func (j *Journal) Close() error {
	if j.db == nil {
		return nil
	}
	return j.db.Close()
}

// RunID identifies this process run in the journal.
func (j *Journal) RunID() string {
	return j.runID
}

// Append stamps rec with seq and tick and stores it.
func (j *Journal) Append(ctx context.Context, rec ir.Record) (ir.Record, error) {
	detail := "{}"
	if len(rec.Detail) > 0 {
		data, err := ir.MarshalCanonical(rec.Detail)
		if err != nil {
			return rec, fmt.Errorf("append %s: marshal detail: %w", rec.Kind, err)
		}
		detail = string(data)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	rec.Seq = j.lastSeq + 1
	if rec.Tick == 0 && j.ticks != nil {
		rec.Tick = j.ticks.Current()
	}

	_, err := j.db.ExecContext(ctx, `
		INSERT INTO records
		(seq, run_id, tick, kind, script_id, category, fanout, task, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.Seq,
		j.runID,
		rec.Tick,
		string(rec.Kind),
		rec.ScriptID,
		rec.Category,
		rec.Fanout,
		int64(rec.Task),
		detail,
	)
	if err != nil {
		return rec, fmt.Errorf("append %s: %w", rec.Kind, err)
	}
	j.lastSeq = rec.Seq
	return rec, nil
}

// Record implements ir.Recorder. Write failures are logged, never returned:
// the journal must not change script behaviour.
func (j *Journal) Record(ctx context.Context, rec ir.Record) {
	if ctx.Err() != nil {
		ctx = context.WithoutCancel(ctx)
	}
	if _, err := j.Append(ctx, rec); err != nil {
		j.logger.Error("journal write failed", "kind", rec.Kind, "script", rec.ScriptID, "error", err)
	}
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and records the version.
// This function is idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("journal schema version %d is newer than supported %d", version, currentSchemaVersion)
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}
