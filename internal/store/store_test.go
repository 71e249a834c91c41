package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/Arize-ai/chat-to-purchase-router-agent/internal/domain"
	"github.com/Arize-ai/chat-to-purchase-router-agent/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(":memory:", logging.New(nil, "silent"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// --- DB/Migration tests ---

func TestOpen_InMemory(t *testing.T) {
	db := testDB(t)
	assert.NotNil(t, db)
	assert.NotNil(t, db.SQL())
	assert.Equal(t, 1, db.SQL().Stats().MaxOpenConnections)

	db.SetMaxOpenConns(5)
	assert.Equal(t, 1, db.SQL().Stats().MaxOpenConnections)
}

func TestOpen_File(t *testing.T) {
	path := t.TempDir() + "/nested/chat.db"
	db, err := Open(path, logging.New(nil, "silent"))
	require.NoError(t, err)
	defer db.Close()

	db.SetMaxOpenConns(3)
	assert.Equal(t, 3, db.SQL().Stats().MaxOpenConnections)
}

func TestMigrations_Applied(t *testing.T) {
	db := testDB(t)

	var count int
	err := db.sql.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, len(migrations), count)
}

func TestMigrations_Idempotent(t *testing.T) {
	db := testDB(t)
	require.NoError(t, db.migrate())

	var count int
	err := db.sql.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, len(migrations), count)
}

func TestSchema_TablesExist(t *testing.T) {
	db := testDB(t)

	for _, table := range []string{"sessions", "turns", "products"} {
		var name string
		err := db.sql.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		require.NoError(t, err, "table %s should exist", table)
	}
}

func TestSchema_ProductConstraints(t *testing.T) {
	db := testDB(t)

	_, err := db.sql.Exec(`INSERT INTO products (name, price, rating) VALUES ('Bad', -1, 3)`)
	assert.Error(t, err, "negative price must be rejected")

	_, err = db.sql.Exec(`INSERT INTO products (name, price, rating) VALUES ('Bad', 10, 6)`)
	assert.Error(t, err, "rating above 5 must be rejected")
}

// --- Session store tests ---

func testSessions(t *testing.T, maxTurns, maxSessions int) *SQLiteSessionStore {
	t.Helper()
	return NewSQLiteSessionStore(testDB(t), maxTurns, maxSessions)
}

func userTurn(content string) domain.Turn {
	return domain.Turn{Role: domain.RoleUser, Content: content, Timestamp: time.Now()}
}

func TestSessionStore_GetOrCreate(t *testing.T) {
	s := testSessions(t, 10, 0)
	ctx := context.Background()

	sess, created, err := s.GetOrCreate(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "s1", sess.ID)
	assert.Empty(t, sess.Turns)
	assert.False(t, sess.CreatedAt.IsZero())

	again, created, err := s.GetOrCreate(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, sess.CreatedAt.UnixNano(), again.CreatedAt.UnixNano())
}

func TestSessionStore_Get_NotFound(t *testing.T) {
	s := testSessions(t, 10, 0)
	sess, err := s.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, sess)
}

func TestSessionStore_Append(t *testing.T) {
	s := testSessions(t, 10, 0)
	ctx := context.Background()

	_, _, err := s.GetOrCreate(ctx, "s1")
	require.NoError(t, err)

	candidates := domain.CandidateSet{{ID: 1, Name: "Shoe A", Price: 79.99}}
	filter := &domain.FilterSpec{PriceMax: domain.Float(100), Keywords: []string{"running"}}
	err = s.Append(ctx, "s1", domain.TurnUpdate{
		Turns: []domain.Turn{
			userTurn("running shoes under $100"),
			{Role: domain.RoleAssistant, Content: "1. Shoe A - $79.99"},
		},
		Candidates: candidates,
		Filter:     filter,
	})
	require.NoError(t, err)

	sess, err := s.Get(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, sess.Turns, 2)
	assert.Equal(t, domain.RoleUser, sess.Turns[0].Role)
	assert.Equal(t, "1. Shoe A - $79.99", sess.Turns[1].Content)
	assert.Equal(t, candidates, sess.LastCandidates)
	require.NotNil(t, sess.LastFilter)
	assert.Equal(t, 100.0, *sess.LastFilter.PriceMax)
}

func TestSessionStore_Append_EmptyCandidatesKeepPrevious(t *testing.T) {
	s := testSessions(t, 10, 0)
	ctx := context.Background()

	first := domain.CandidateSet{{ID: 7, Name: "Boot"}}
	require.NoError(t, s.Append(ctx, "s1", domain.TurnUpdate{Turns: []domain.Turn{userTurn("boots")}, Candidates: first}))
	require.NoError(t, s.Append(ctx, "s1", domain.TurnUpdate{Turns: []domain.Turn{userTurn("thanks")}}))

	sess, err := s.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, first, sess.LastCandidates)
}

func TestSessionStore_SlidingWindow(t *testing.T) {
	s := testSessions(t, 4, 0)
	ctx := context.Background()

	for i := range 6 {
		require.NoError(t, s.Append(ctx, "s1", domain.TurnUpdate{Turns: []domain.Turn{userTurn(fmt.Sprintf("msg %d", i))}}))
	}

	sess, err := s.Get(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, sess.Turns, 4)
	assert.Equal(t, "msg 2", sess.Turns[0].Content)
	assert.Equal(t, "msg 5", sess.Turns[3].Content)
}

func TestSessionStore_Isolation(t *testing.T) {
	s := testSessions(t, 10, 0)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, "a", domain.TurnUpdate{Turns: []domain.Turn{userTurn("for a")}}))
	require.NoError(t, s.Append(ctx, "b", domain.TurnUpdate{Turns: []domain.Turn{userTurn("for b")}}))

	a, err := s.Get(ctx, "a")
	require.NoError(t, err)
	require.Len(t, a.Turns, 1)
	assert.Equal(t, "for a", a.Turns[0].Content)
}

func TestSessionStore_Delete(t *testing.T) {
	s := testSessions(t, 10, 0)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, "s1", domain.TurnUpdate{Turns: []domain.Turn{userTurn("hi")}}))
	require.NoError(t, s.Delete(ctx, "s1"))

	sess, err := s.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, sess)

	var turns int
	require.NoError(t, s.db.sql.QueryRow(`SELECT COUNT(*) FROM turns`).Scan(&turns))
	assert.Zero(t, turns)
}

func TestSessionStore_EvictIdle(t *testing.T) {
	s := testSessions(t, 10, 0)
	ctx := context.Background()

	base := time.Now()
	s.now = func() time.Time { return base.Add(-2 * time.Hour) }
	_, _, err := s.GetOrCreate(ctx, "old")
	require.NoError(t, err)

	s.now = func() time.Time { return base }
	_, _, err = s.GetOrCreate(ctx, "fresh")
	require.NoError(t, err)

	evicted, err := s.EvictIdle(ctx, base.Add(-30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []string{"old"}, evicted)

	ids, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"fresh"}, ids)
}

func TestSessionStore_EvictOverCap(t *testing.T) {
	s := testSessions(t, 10, 2)
	ctx := context.Background()

	base := time.Now()
	for i, id := range []string{"s1", "s2", "s3"} {
		s.now = func() time.Time { return base.Add(time.Duration(i) * time.Second) }
		_, _, err := s.GetOrCreate(ctx, id)
		require.NoError(t, err)
	}

	evicted, err := s.EvictIdle(ctx, base.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, evicted)

	ids, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"s3", "s2"}, ids)
}
