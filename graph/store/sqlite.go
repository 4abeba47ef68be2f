package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite implementation of Store[S].
//
// It stores step history and checkpoints in a single-file database.
// Designed for:
//   - Development and testing with zero setup
//   - Single-replica deployments that must survive restarts
//
// Features:
//   - Single file database (e.g., "./coach.db")
//   - Auto-migration on first use
//   - WAL mode for concurrent reads
//
// Schema:
//   - thread_steps: Step-by-step execution history
//   - thread_checkpoints: One checkpoint per thread
//
// Type parameter S is the state type to persist (must be JSON-serializable).
type SQLiteStore[S any] struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	path   string
}

// NewSQLiteStore creates a new SQLite-backed store.
//
// The path parameter specifies the database file location:
//   - "./coach.db" - file in current directory
//   - "/var/lib/coachd/threads.db" - absolute path
//   - ":memory:" - in-memory database (data lost on close)
//
// Example:
//
//	st, err := store.NewSQLiteStore[coach.State]("./coach.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer st.Close()
func NewSQLiteStore[S any](path string) (*SQLiteStore[S], error) {
	db, err := OpenSQLite(path)
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore[S]{
		db:   db,
		path: path,
	}

	if err := store.createTables(context.Background()); err != nil {
		_ = db.Close() // Ignore close error when returning table creation error
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return store, nil
}

// OpenSQLite opens a SQLite database with the pragmas every coachgraph
// SQLite component uses: WAL journal, foreign keys, a 5 second busy timeout
// and a single connection.
func OpenSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	db.SetMaxOpenConns(1)    // SQLite supports one writer at a time
	db.SetMaxIdleConns(1)    // Keep connection open (required for :memory:)
	db.SetConnMaxLifetime(0) // No max lifetime for SQLite

	ctx := context.Background()
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close() // Ignore close error when returning pragma error
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	return db, nil
}

// createTables creates the required database schema if it doesn't exist.
func (s *SQLiteStore[S]) createTables(ctx context.Context) error {
	stepsTable := `
		CREATE TABLE IF NOT EXISTS thread_steps (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			thread_id TEXT NOT NULL,
			step INTEGER NOT NULL,
			node_id TEXT NOT NULL,
			state TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(thread_id, step)
		)
	`
	if _, err := s.db.ExecContext(ctx, stepsTable); err != nil {
		return fmt.Errorf("failed to create thread_steps table: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_steps_thread_step ON thread_steps(thread_id, step)"); err != nil {
		return fmt.Errorf("failed to create idx_steps_thread_step: %w", err)
	}

	checkpointsTable := `
		CREATE TABLE IF NOT EXISTS thread_checkpoints (
			thread_id TEXT NOT NULL PRIMARY KEY,
			step INTEGER NOT NULL,
			state TEXT NOT NULL,
			cursor TEXT NOT NULL,
			halted INTEGER NOT NULL DEFAULT 0,
			updated_at TIMESTAMP NOT NULL
		)
	`
	if _, err := s.db.ExecContext(ctx, checkpointsTable); err != nil {
		return fmt.Errorf("failed to create thread_checkpoints table: %w", err)
	}

	return nil
}

func (s *SQLiteStore[S]) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// SaveStep persists a thread execution step (implements Store interface).
//
// If a step with the same threadID and step number already exists, it is replaced.
func (s *SQLiteStore[S]) SaveStep(ctx context.Context, threadID string, step int, nodeID string, state S) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	query := `
		INSERT INTO thread_steps (thread_id, step, node_id, state)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(thread_id, step) DO UPDATE SET
			node_id = excluded.node_id,
			state = excluded.state
	`

	if _, err := s.db.ExecContext(ctx, query, threadID, step, nodeID, string(stateJSON)); err != nil {
		return fmt.Errorf("failed to save step: %w", err)
	}

	return nil
}

// LoadLatest retrieves the most recent step for a thread (implements Store interface).
func (s *SQLiteStore[S]) LoadLatest(ctx context.Context, threadID string) (state S, step int, err error) {
	var zero S
	if err := s.checkOpen(); err != nil {
		return zero, 0, err
	}

	query := `
		SELECT step, state
		FROM thread_steps
		WHERE thread_id = ?
		ORDER BY step DESC
		LIMIT 1
	`

	var stateJSON string
	err = s.db.QueryRowContext(ctx, query, threadID).Scan(&step, &stateJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return zero, 0, ErrNotFound
	}
	if err != nil {
		return zero, 0, fmt.Errorf("failed to load latest step: %w", err)
	}

	if err := json.Unmarshal([]byte(stateJSON), &state); err != nil {
		return zero, 0, fmt.Errorf("failed to unmarshal state: %w", err)
	}

	return state, step, nil
}

// SaveCheckpoint upserts the thread checkpoint (implements Store interface).
func (s *SQLiteStore[S]) SaveCheckpoint(ctx context.Context, cp Checkpoint[S]) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if cp.ThreadID == "" {
		return fmt.Errorf("checkpoint thread ID cannot be empty")
	}

	stateJSON, err := json.Marshal(cp.State)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	cursorJSON, err := json.Marshal(cp.Cursor)
	if err != nil {
		return fmt.Errorf("failed to marshal cursor: %w", err)
	}
	updated := cp.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}

	query := `
		INSERT INTO thread_checkpoints (thread_id, step, state, cursor, halted, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(thread_id) DO UPDATE SET
			step = excluded.step,
			state = excluded.state,
			cursor = excluded.cursor,
			halted = excluded.halted,
			updated_at = excluded.updated_at
	`

	if _, err := s.db.ExecContext(ctx, query,
		cp.ThreadID, cp.Step, string(stateJSON), string(cursorJSON), cp.Halted, updated.UTC().Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}

	return nil
}

// LoadCheckpoint retrieves the thread checkpoint (implements Store interface).
//
// Returns ErrNotFound if the thread doesn't exist.
func (s *SQLiteStore[S]) LoadCheckpoint(ctx context.Context, threadID string) (Checkpoint[S], error) {
	if err := s.checkOpen(); err != nil {
		return Checkpoint[S]{}, err
	}

	query := `
		SELECT step, state, cursor, halted, updated_at
		FROM thread_checkpoints
		WHERE thread_id = ?
	`

	var (
		cp         = Checkpoint[S]{ThreadID: threadID}
		stateJSON  string
		cursorJSON string
		updatedAt  string
	)
	err := s.db.QueryRowContext(ctx, query, threadID).Scan(&cp.Step, &stateJSON, &cursorJSON, &cp.Halted, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Checkpoint[S]{}, ErrNotFound
	}
	if err != nil {
		return Checkpoint[S]{}, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	if err := json.Unmarshal([]byte(stateJSON), &cp.State); err != nil {
		return Checkpoint[S]{}, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	if err := json.Unmarshal([]byte(cursorJSON), &cp.Cursor); err != nil {
		return Checkpoint[S]{}, fmt.Errorf("failed to unmarshal cursor: %w", err)
	}
	if ts, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		cp.UpdatedAt = ts
	}

	return cp, nil
}

// ListThreads returns all thread IDs with a checkpoint, sorted.
func (s *SQLiteStore[S]) ListThreads(ctx context.Context) ([]string, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, "SELECT thread_id FROM thread_checkpoints ORDER BY thread_id")
	if err != nil {
		return nil, fmt.Errorf("failed to list threads: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan thread id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close closes the database connection.
// Subsequent operations return ErrClosed. Closing twice is a no-op.
func (s *SQLiteStore[S]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Path returns the database file path this store was opened with.
func (s *SQLiteStore[S]) Path() string {
	return s.path
}
