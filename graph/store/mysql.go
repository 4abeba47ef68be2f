package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore is a MySQL/MariaDB implementation of Store[S].
//
// It is the store to use when several coachd replicas serve the same
// threads. Per-thread serialization still has to come from a distributed
// Locker such as RedisLocker.
//
// Schema:
//   - thread_steps: Step-by-step execution history
//   - thread_checkpoints: One checkpoint per thread
//
// Type parameter S is the state type to persist (must be JSON-serializable).
type MySQLStore[S any] struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewMySQLStore creates a new MySQL-backed store.
//
// The DSN (Data Source Name) format is:
//
//	[username[:password]@][protocol[(address)]]/dbname[?param1=value1&...&paramN=valueN]
//
// Example DSNs:
//
//	coach:secret@tcp(localhost:3306)/coach
//	coach:secret@tcp(127.0.0.1:3306)/coach?parseTime=true
//
// Credentials belong in configuration or the environment, never in code.
func NewMySQLStore[S any](dsn string) (*MySQLStore[S], error) {
	db, err := OpenMySQL(dsn)
	if err != nil {
		return nil, err
	}

	store := &MySQLStore[S]{db: db}

	if err := store.createTables(context.Background()); err != nil {
		_ = db.Close() // Ignore close error when returning table creation error
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return store, nil
}

// OpenMySQL opens and pings a MySQL connection pool.
func OpenMySQL(dsn string) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close() // Ignore close error when returning ping error
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}
	return db, nil
}

func (m *MySQLStore[S]) createTables(ctx context.Context) error {
	stepsTable := `
		CREATE TABLE IF NOT EXISTS thread_steps (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			thread_id VARCHAR(255) NOT NULL,
			step INT NOT NULL,
			node_id VARCHAR(255) NOT NULL,
			state JSON NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			INDEX idx_thread_id (thread_id),
			UNIQUE KEY unique_thread_step (thread_id, step)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := m.db.ExecContext(ctx, stepsTable); err != nil {
		return fmt.Errorf("failed to create thread_steps table: %w", err)
	}

	checkpointsTable := `
		CREATE TABLE IF NOT EXISTS thread_checkpoints (
			thread_id VARCHAR(255) NOT NULL PRIMARY KEY,
			step INT NOT NULL,
			state JSON NOT NULL,
			cursor_json JSON NOT NULL,
			halted BOOLEAN NOT NULL DEFAULT FALSE,
			updated_at DATETIME(6) NOT NULL
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := m.db.ExecContext(ctx, checkpointsTable); err != nil {
		return fmt.Errorf("failed to create thread_checkpoints table: %w", err)
	}

	return nil
}

func (m *MySQLStore[S]) checkOpen() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

// SaveStep persists a thread execution step (implements Store interface).
func (m *MySQLStore[S]) SaveStep(ctx context.Context, threadID string, step int, nodeID string, state S) error {
	if err := m.checkOpen(); err != nil {
		return err
	}

	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	query := `
		INSERT INTO thread_steps (thread_id, step, node_id, state)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			node_id = VALUES(node_id),
			state = VALUES(state)
	`
	if _, err := m.db.ExecContext(ctx, query, threadID, step, nodeID, stateJSON); err != nil {
		return fmt.Errorf("failed to save step: %w", err)
	}
	return nil
}

// LoadLatest retrieves the most recent step for a thread (implements Store interface).
func (m *MySQLStore[S]) LoadLatest(ctx context.Context, threadID string) (state S, step int, err error) {
	var zero S
	if err := m.checkOpen(); err != nil {
		return zero, 0, err
	}

	query := `
		SELECT step, state
		FROM thread_steps
		WHERE thread_id = ?
		ORDER BY step DESC
		LIMIT 1
	`

	var stateJSON []byte
	err = m.db.QueryRowContext(ctx, query, threadID).Scan(&step, &stateJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return zero, 0, ErrNotFound
	}
	if err != nil {
		return zero, 0, fmt.Errorf("failed to load latest step: %w", err)
	}

	if err := json.Unmarshal(stateJSON, &state); err != nil {
		return zero, 0, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return state, step, nil
}

// SaveCheckpoint upserts the thread checkpoint (implements Store interface).
func (m *MySQLStore[S]) SaveCheckpoint(ctx context.Context, cp Checkpoint[S]) error {
	if err := m.checkOpen(); err != nil {
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
		updated = time.Now()
	}

	query := `
		INSERT INTO thread_checkpoints (thread_id, step, state, cursor_json, halted, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			step = VALUES(step),
			state = VALUES(state),
			cursor_json = VALUES(cursor_json),
			halted = VALUES(halted),
			updated_at = VALUES(updated_at)
	`
	if _, err := m.db.ExecContext(ctx, query,
		cp.ThreadID, cp.Step, stateJSON, cursorJSON, cp.Halted, updated.UTC(),
	); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint retrieves the thread checkpoint (implements Store interface).
//
// The DSN must set parseTime=true for UpdatedAt to be populated.
func (m *MySQLStore[S]) LoadCheckpoint(ctx context.Context, threadID string) (Checkpoint[S], error) {
	if err := m.checkOpen(); err != nil {
		return Checkpoint[S]{}, err
	}

	query := `
		SELECT step, state, cursor_json, halted, updated_at
		FROM thread_checkpoints
		WHERE thread_id = ?
	`

	var (
		cp         = Checkpoint[S]{ThreadID: threadID}
		stateJSON  []byte
		cursorJSON []byte
		updatedAt  sql.NullTime
	)
	err := m.db.QueryRowContext(ctx, query, threadID).Scan(&cp.Step, &stateJSON, &cursorJSON, &cp.Halted, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Checkpoint[S]{}, ErrNotFound
	}
	if err != nil {
		return Checkpoint[S]{}, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	if err := json.Unmarshal(stateJSON, &cp.State); err != nil {
		return Checkpoint[S]{}, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	if err := json.Unmarshal(cursorJSON, &cp.Cursor); err != nil {
		return Checkpoint[S]{}, fmt.Errorf("failed to unmarshal cursor: %w", err)
	}
	if updatedAt.Valid {
		cp.UpdatedAt = updatedAt.Time
	}
	return cp, nil
}

// ListThreads returns all thread IDs with a checkpoint, sorted.
func (m *MySQLStore[S]) ListThreads(ctx context.Context) ([]string, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := m.db.QueryContext(ctx, "SELECT thread_id FROM thread_checkpoints ORDER BY thread_id")
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

// DB exposes the underlying pool, for example to share it with the
// conversation recorder.
func (m *MySQLStore[S]) DB() *sql.DB {
	return m.db
}

// Ping verifies the database connection is still alive.
func (m *MySQLStore[S]) Ping(ctx context.Context) error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	return m.db.PingContext(ctx)
}

// Close closes the database connection pool.
func (m *MySQLStore[S]) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	return m.db.Close()
}
