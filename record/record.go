// Package record persists what coaching conversations establish: the chat
// transcript, moods, commitments and reminders. It implements
// coach.Recorder on SQLite or MySQL.
package record

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dshills/coachgraph/coach"
	"github.com/dshills/coachgraph/graph/store"
)

// MaxActiveCommitments bounds the open commitments of one user.
const MaxActiveCommitments = 5

// ErrCommitmentLimit is returned when a user already has
// MaxActiveCommitments active commitments.
var ErrCommitmentLimit = errors.New("active commitment limit reached")

// ErrClosed is returned by every method after Close.
var ErrClosed = errors.New("recorder is closed")

// Dialect selects the SQL flavour.
type Dialect int

const (
	SQLite Dialect = iota
	MySQL
)

// SQLRecorder is a coach.Recorder backed by database/sql.
//
// Every write is keyed by thread and episode, so recording the same state
// twice is harmless.
type SQLRecorder struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time

	mu     sync.RWMutex
	closed bool
}

var _ coach.Recorder = (*SQLRecorder)(nil)

// NewSQLite opens a recorder on the SQLite file at path.
func NewSQLite(path string) (*SQLRecorder, error) {
	db, err := store.OpenSQLite(path)
	if err != nil {
		return nil, err
	}
	return New(db, SQLite)
}

// NewMySQL opens a recorder on the MySQL database at dsn.
func NewMySQL(dsn string) (*SQLRecorder, error) {
	db, err := store.OpenMySQL(dsn)
	if err != nil {
		return nil, err
	}
	return New(db, MySQL)
}

// New creates the tables if needed and returns a recorder over db. The
// recorder owns db from then on.
func New(db *sql.DB, dialect Dialect) (*SQLRecorder, error) {
	r := &SQLRecorder{db: db, dialect: dialect, now: time.Now}
	if err := r.createTables(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create record tables: %w", err)
	}
	return r, nil
}

func (r *SQLRecorder) createTables(ctx context.Context) error {
	for _, ddl := range r.schema() {
		if _, err := r.db.ExecContext(ctx, ddl); err != nil {
			return err
		}
	}
	return nil
}

func (r *SQLRecorder) schema() []string {
	if r.dialect == MySQL {
		const suffix = ` ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`
		return []string{
			`CREATE TABLE IF NOT EXISTS chat_logs (
				thread_id VARCHAR(255) NOT NULL PRIMARY KEY,
				user_id VARCHAR(255) NOT NULL,
				messages JSON NOT NULL,
				updated_at DATETIME(6) NOT NULL
			)` + suffix,
			`CREATE TABLE IF NOT EXISTS moods (
				thread_id VARCHAR(255) NOT NULL,
				episode INT NOT NULL,
				user_id VARCHAR(255) NOT NULL,
				mood TEXT NOT NULL,
				created_at DATETIME(6) NOT NULL,
				PRIMARY KEY (thread_id, episode),
				INDEX idx_moods_user (user_id)
			)` + suffix,
			`CREATE TABLE IF NOT EXISTS commitments (
				thread_id VARCHAR(255) NOT NULL,
				episode INT NOT NULL,
				user_id VARCHAR(255) NOT NULL,
				commitment TEXT NOT NULL,
				status VARCHAR(32) NOT NULL DEFAULT 'active',
				created_at DATETIME(6) NOT NULL,
				PRIMARY KEY (thread_id, episode),
				INDEX idx_commitments_user (user_id, status)
			)` + suffix,
			`CREATE TABLE IF NOT EXISTS reminders (
				thread_id VARCHAR(255) NOT NULL,
				episode INT NOT NULL,
				user_id VARCHAR(255) NOT NULL,
				frequency VARCHAR(32) NOT NULL DEFAULT '',
				reminder_date VARCHAR(10) NOT NULL DEFAULT '',
				reminder_time VARCHAR(5) NOT NULL,
				timezone VARCHAR(64) NOT NULL,
				created_at DATETIME(6) NOT NULL,
				PRIMARY KEY (thread_id, episode)
			)` + suffix,
		}
	}
	return []string{
		`CREATE TABLE IF NOT EXISTS chat_logs (
			thread_id TEXT NOT NULL PRIMARY KEY,
			user_id TEXT NOT NULL,
			messages TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS moods (
			thread_id TEXT NOT NULL,
			episode INTEGER NOT NULL,
			user_id TEXT NOT NULL,
			mood TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			PRIMARY KEY (thread_id, episode)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_moods_user ON moods(user_id)`,
		`CREATE TABLE IF NOT EXISTS commitments (
			thread_id TEXT NOT NULL,
			episode INTEGER NOT NULL,
			user_id TEXT NOT NULL,
			commitment TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'active',
			created_at TIMESTAMP NOT NULL,
			PRIMARY KEY (thread_id, episode)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_commitments_user ON commitments(user_id, status)`,
		`CREATE TABLE IF NOT EXISTS reminders (
			thread_id TEXT NOT NULL,
			episode INTEGER NOT NULL,
			user_id TEXT NOT NULL,
			frequency TEXT NOT NULL DEFAULT '',
			reminder_date TEXT NOT NULL DEFAULT '',
			reminder_time TEXT NOT NULL,
			timezone TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			PRIMARY KEY (thread_id, episode)
		)`,
	}
}

// insertIgnore is the dialect's insert that skips duplicate keys.
func (r *SQLRecorder) insertIgnore() string {
	if r.dialect == MySQL {
		return "INSERT IGNORE INTO"
	}
	return "INSERT OR IGNORE INTO"
}

func (r *SQLRecorder) checkOpen() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return ErrClosed
	}
	return nil
}

func userOf(st coach.State) string {
	if st.Identity != nil && st.Identity.UserID != "" {
		return st.Identity.UserID
	}
	return st.ThreadID
}

// RecordTurn upserts the thread's transcript.
func (r *SQLRecorder) RecordTurn(ctx context.Context, st coach.State) error {
	if err := r.checkOpen(); err != nil {
		return err
	}
	messages, err := json.Marshal(st.Messages)
	if err != nil {
		return fmt.Errorf("failed to marshal transcript: %w", err)
	}

	query := `
		INSERT INTO chat_logs (thread_id, user_id, messages, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(thread_id) DO UPDATE SET
			messages = excluded.messages,
			updated_at = excluded.updated_at
	`
	if r.dialect == MySQL {
		query = `
			INSERT INTO chat_logs (thread_id, user_id, messages, updated_at)
			VALUES (?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE
				messages = VALUES(messages),
				updated_at = VALUES(updated_at)
		`
	}
	if _, err := r.db.ExecContext(ctx, query, st.ThreadID, userOf(st), string(messages), r.now().UTC()); err != nil {
		return fmt.Errorf("failed to save transcript: %w", err)
	}
	return nil
}

// RecordMood saves the episode's mood.
func (r *SQLRecorder) RecordMood(ctx context.Context, st coach.State) error {
	if err := r.checkOpen(); err != nil {
		return err
	}
	if st.Facts.Mood == "" {
		return nil
	}
	query := r.insertIgnore() + ` moods (thread_id, episode, user_id, mood, created_at) VALUES (?, ?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query, st.ThreadID, st.Episode, userOf(st), st.Facts.Mood, r.now().UTC()); err != nil {
		return fmt.Errorf("failed to save mood: %w", err)
	}
	return nil
}

// RecordCommitment saves the episode's commitment as active.
//
// Returns ErrCommitmentLimit when the user already has
// MaxActiveCommitments active commitments from other episodes.
func (r *SQLRecorder) RecordCommitment(ctx context.Context, st coach.State) error {
	if err := r.checkOpen(); err != nil {
		return err
	}
	if st.Facts.Commitment == "" {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM commitments WHERE thread_id = ? AND episode = ?`,
		st.ThreadID, st.Episode,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to look up commitment: %w", err)
	}
	if exists > 0 {
		return nil
	}

	var active int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM commitments WHERE user_id = ? AND status = 'active'`,
		userOf(st),
	).Scan(&active)
	if err != nil {
		return fmt.Errorf("failed to count commitments: %w", err)
	}
	if active >= MaxActiveCommitments {
		return fmt.Errorf("%w: user %s has %d", ErrCommitmentLimit, userOf(st), active)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO commitments (thread_id, episode, user_id, commitment, status, created_at) VALUES (?, ?, ?, ?, 'active', ?)`,
		st.ThreadID, st.Episode, userOf(st), st.Facts.Commitment, r.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save commitment: %w", err)
	}
	return tx.Commit()
}

// RecordReminder saves the episode's reminder.
func (r *SQLRecorder) RecordReminder(ctx context.Context, st coach.State) error {
	if err := r.checkOpen(); err != nil {
		return err
	}
	rem := st.Facts.Reminder
	if rem == nil {
		return nil
	}
	query := r.insertIgnore() + ` reminders
		(thread_id, episode, user_id, frequency, reminder_date, reminder_time, timezone, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		st.ThreadID, st.Episode, userOf(st), rem.Frequency, rem.Date, rem.Time, rem.Timezone, r.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save reminder: %w", err)
	}
	return nil
}

// Commitment is one recorded commitment.
type Commitment struct {
	ThreadID   string `json:"thread_id"`
	Episode    int    `json:"episode"`
	Commitment string `json:"commitment"`
	Status     string `json:"status"`
}

// CompleteCommitment marks the user's commitment from the thread episode as
// done, which frees a slot under the active limit. Returns
// store.ErrNotFound when the user has no active commitment there.
func (r *SQLRecorder) CompleteCommitment(ctx context.Context, userID, threadID string, episode int) error {
	if err := r.checkOpen(); err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE commitments SET status = 'completed' WHERE user_id = ? AND thread_id = ? AND episode = ? AND status = 'active'`,
		userID, threadID, episode)
	if err != nil {
		return fmt.Errorf("failed to complete commitment: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ActiveCommitments returns the user's active commitments, oldest first.
func (r *SQLRecorder) ActiveCommitments(ctx context.Context, userID string) ([]Commitment, error) {
	if err := r.checkOpen(); err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT thread_id, episode, commitment, status FROM commitments
		WHERE user_id = ? AND status = 'active' ORDER BY created_at, thread_id, episode`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query commitments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Commitment
	for rows.Next() {
		var c Commitment
		if err := rows.Scan(&c.ThreadID, &c.Episode, &c.Commitment, &c.Status); err != nil {
			return nil, fmt.Errorf("failed to scan commitment: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Moods returns the user's recorded moods, oldest first.
func (r *SQLRecorder) Moods(ctx context.Context, userID string) ([]string, error) {
	if err := r.checkOpen(); err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT mood FROM moods WHERE user_id = ? ORDER BY created_at, thread_id, episode`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query moods: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, fmt.Errorf("failed to scan mood: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Transcript returns the saved transcript of a thread.
func (r *SQLRecorder) Transcript(ctx context.Context, threadID string) ([]coach.Turn, error) {
	if err := r.checkOpen(); err != nil {
		return nil, err
	}
	var raw string
	err := r.db.QueryRowContext(ctx, `SELECT messages FROM chat_logs WHERE thread_id = ?`, threadID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load transcript: %w", err)
	}
	var log coach.MessageLog
	if err := json.Unmarshal([]byte(raw), &log); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transcript: %w", err)
	}
	return log.Turns(), nil
}

// Reminders returns the user's reminders.
func (r *SQLRecorder) Reminders(ctx context.Context, userID string) ([]coach.Reminder, error) {
	if err := r.checkOpen(); err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT frequency, reminder_date, reminder_time, timezone FROM reminders WHERE user_id = ? ORDER BY created_at, thread_id, episode`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query reminders: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []coach.Reminder
	for rows.Next() {
		var rem coach.Reminder
		if err := rows.Scan(&rem.Frequency, &rem.Date, &rem.Time, &rem.Timezone); err != nil {
			return nil, fmt.Errorf("failed to scan reminder: %w", err)
		}
		out = append(out, rem)
	}
	return out, rows.Err()
}

// Close closes the database.
func (r *SQLRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.db.Close()
}
