package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Arize-ai/chat-to-purchase-router-agent/internal/domain"
)

// SQLiteSessionStore implements agent.SessionStore backed by SQLite. Sessions
// survive restarts; the sliding window and session cap are enforced on write.
type SQLiteSessionStore struct {
	db          *DB
	maxTurns    int
	maxSessions int
	now         func() time.Time
}

// NewSQLiteSessionStore creates a session store using the given database.
// maxTurns bounds the stored history per session; maxSessions bounds the
// number of sessions kept after an eviction sweep. Zero disables a bound.
func NewSQLiteSessionStore(db *DB, maxTurns, maxSessions int) *SQLiteSessionStore {
	return &SQLiteSessionStore{
		db:          db,
		maxTurns:    maxTurns,
		maxSessions: maxSessions,
		now:         time.Now,
	}
}

// GetOrCreate loads a session, creating it on first reference, and marks it
// as accessed.
func (s *SQLiteSessionStore) GetOrCreate(ctx context.Context, id string) (*domain.Session, bool, error) {
	now := s.now()
	tx, err := s.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO sessions (id, created_at, last_access) VALUES (?, ?, ?)`,
		id, now.UnixNano(), now.UnixNano(),
	)
	if err != nil {
		return nil, false, fmt.Errorf("creating session: %w", err)
	}
	n, _ := res.RowsAffected()
	created := n > 0

	if !created {
		if _, err := tx.ExecContext(ctx, `UPDATE sessions SET last_access = ? WHERE id = ?`, now.UnixNano(), id); err != nil {
			return nil, false, fmt.Errorf("touching session: %w", err)
		}
	}

	sess, err := loadSession(ctx, tx, id)
	if err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit: %w", err)
	}
	if created {
		s.db.log.Debug().Str("session", id).Msg("session created")
	}
	return sess, created, nil
}

// Get returns a session by ID, or nil if not found. It does not count as an
// access.
func (s *SQLiteSessionStore) Get(ctx context.Context, id string) (*domain.Session, error) {
	tx, err := s.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	sess, err := loadSession(ctx, tx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return sess, err
}

// Append writes a finished turn: new turns, the window trim, and the
// candidate and filter context for follow-up requests.
func (s *SQLiteSessionStore) Append(ctx context.Context, id string, update domain.TurnUpdate) error {
	now := s.now()
	tx, err := s.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO sessions (id, created_at, last_access) VALUES (?, ?, ?)`,
		id, now.UnixNano(), now.UnixNano(),
	); err != nil {
		return fmt.Errorf("ensuring session: %w", err)
	}

	for _, t := range update.Turns {
		ts := t.Timestamp
		if ts.IsZero() {
			ts = now
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO turns (session_id, role, content, timestamp) VALUES (?, ?, ?, ?)`,
			id, t.Role, t.Content, ts.UnixNano(),
		); err != nil {
			return fmt.Errorf("appending turn: %w", err)
		}
	}

	if s.maxTurns > 0 {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM turns WHERE session_id = ? AND id NOT IN (
				SELECT id FROM turns WHERE session_id = ? ORDER BY id DESC LIMIT ?
			)`, id, id, s.maxTurns,
		); err != nil {
			return fmt.Errorf("trimming turns: %w", err)
		}
	}

	if len(update.Candidates) > 0 {
		data, err := json.Marshal(update.Candidates)
		if err != nil {
			return fmt.Errorf("encoding candidates: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE sessions SET last_candidates = ? WHERE id = ?`, string(data), id); err != nil {
			return fmt.Errorf("storing candidates: %w", err)
		}
	}
	if update.Filter != nil {
		data, err := json.Marshal(update.Filter)
		if err != nil {
			return fmt.Errorf("encoding filter: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE sessions SET last_filter = ? WHERE id = ?`, string(data), id); err != nil {
			return fmt.Errorf("storing filter: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET last_access = ? WHERE id = ?`, now.UnixNano(), id); err != nil {
		return fmt.Errorf("touching session: %w", err)
	}
	return tx.Commit()
}

// Delete removes a session and its turns.
func (s *SQLiteSessionStore) Delete(ctx context.Context, id string) error {
	tx, err := s.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()
	if err := deleteSession(ctx, tx, id); err != nil {
		return err
	}
	return tx.Commit()
}

// deleteSession removes turns explicitly: PRAGMA foreign_keys is
// per-connection, so ON DELETE CASCADE is not guaranteed on pooled handles.
func deleteSession(ctx context.Context, tx *sql.Tx, id string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM turns WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("deleting turns of %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting session %s: %w", id, err)
	}
	return nil
}

// EvictIdle deletes sessions not accessed since cutoff, then the least
// recently used sessions beyond the cap. It returns the evicted ids.
func (s *SQLiteSessionStore) EvictIdle(ctx context.Context, cutoff time.Time) ([]string, error) {
	tx, err := s.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	evicted, err := collectIDs(ctx, tx, `SELECT id FROM sessions WHERE last_access < ?`, cutoff.UnixNano())
	if err != nil {
		return nil, err
	}
	if s.maxSessions > 0 {
		over, err := collectIDs(ctx, tx,
			`SELECT id FROM sessions WHERE last_access >= ? ORDER BY last_access DESC LIMIT -1 OFFSET ?`,
			cutoff.UnixNano(), s.maxSessions,
		)
		if err != nil {
			return nil, err
		}
		evicted = append(evicted, over...)
	}

	for _, id := range evicted {
		if err := deleteSession(ctx, tx, id); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	if len(evicted) > 0 {
		s.db.log.Info().Int("count", len(evicted)).Msg("evicted idle sessions")
	}
	return evicted, nil
}

// List returns all session IDs, most recently used first.
func (s *SQLiteSessionStore) List(ctx context.Context) ([]string, error) {
	return collectIDs(ctx, s.db.sql, `SELECT id FROM sessions ORDER BY last_access DESC`)
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func collectIDs(ctx context.Context, q queryer, query string, args ...any) ([]string, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// loadSession reads the session row and its turns. Returns sql.ErrNoRows
// when the session does not exist.
func loadSession(ctx context.Context, q queryer, id string) (*domain.Session, error) {
	var (
		createdAt, lastAccess int64
		candidates, filter    sql.NullString
	)
	err := q.QueryRowContext(ctx,
		`SELECT created_at, last_access, last_candidates, last_filter FROM sessions WHERE id = ?`, id,
	).Scan(&createdAt, &lastAccess, &candidates, &filter)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("loading session: %w", err)
	}

	sess := &domain.Session{
		ID:         id,
		CreatedAt:  time.Unix(0, createdAt),
		LastAccess: time.Unix(0, lastAccess),
	}
	if candidates.Valid && candidates.String != "" {
		if err := json.Unmarshal([]byte(candidates.String), &sess.LastCandidates); err != nil {
			return nil, fmt.Errorf("decoding candidates: %w", err)
		}
	}
	if filter.Valid && filter.String != "" {
		var f domain.FilterSpec
		if err := json.Unmarshal([]byte(filter.String), &f); err != nil {
			return nil, fmt.Errorf("decoding filter: %w", err)
		}
		sess.LastFilter = &f
	}

	rows, err := q.QueryContext(ctx,
		`SELECT role, content, timestamp FROM turns WHERE session_id = ? ORDER BY id`, id,
	)
	if err != nil {
		return nil, fmt.Errorf("loading turns: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var t domain.Turn
		var ts int64
		if err := rows.Scan(&t.Role, &t.Content, &ts); err != nil {
			return nil, err
		}
		t.Timestamp = time.Unix(0, ts)
		sess.Turns = append(sess.Turns, t)
	}
	return sess, rows.Err()
}
