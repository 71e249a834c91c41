// Package redisstore keeps chat sessions in Redis so several gateway
// replicas can share them. Idle sessions expire through key TTLs.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Arize-ai/chat-to-purchase-router-agent/internal/domain"
	"github.com/Arize-ai/chat-to-purchase-router-agent/internal/logging"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix  = "c2p:session:"
	maxTxTries = 5
)

// Store implements agent.SessionStore on Redis. Each session is one JSON
// value whose TTL is refreshed on every access.
type Store struct {
	client   *redis.Client
	maxTurns int
	idleTTL  time.Duration
	log      *logging.Logger
	now      func() time.Time
}

// Dial connects to Redis and verifies the connection.
func Dial(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", addr, err)
	}
	return client, nil
}

// New creates a Store. maxTurns bounds the stored history and idleTTL is
// how long an untouched session lives; zero disables either bound.
func New(client *redis.Client, maxTurns int, idleTTL time.Duration, log *logging.Logger) *Store {
	return &Store{
		client:   client,
		maxTurns: maxTurns,
		idleTTL:  idleTTL,
		log:      log.Sub("redis.sessions"),
		now:      time.Now,
	}
}

func key(id string) string { return keyPrefix + id }

// GetOrCreate loads a session, creating it on first reference.
func (s *Store) GetOrCreate(ctx context.Context, id string) (*domain.Session, bool, error) {
	var (
		sess    *domain.Session
		created bool
	)
	err := s.update(ctx, id, func(cur *domain.Session, now time.Time) *domain.Session {
		created = cur == nil
		if cur == nil {
			cur = &domain.Session{ID: id, CreatedAt: now}
		}
		cur.LastAccess = now
		sess = cur
		return cur
	})
	if err != nil {
		return nil, false, err
	}
	if created {
		s.log.Debug().Str("session", id).Msg("session created")
	}
	return sess.Clone(), created, nil
}

// Get returns a session by ID, or nil if not found.
func (s *Store) Get(ctx context.Context, id string) (*domain.Session, error) {
	raw, err := s.client.Get(ctx, key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading session %s: %w", id, err)
	}
	return decode(raw)
}

// Append records turns and follow-up context for a session.
func (s *Store) Append(ctx context.Context, id string, u domain.TurnUpdate) error {
	return s.update(ctx, id, func(cur *domain.Session, now time.Time) *domain.Session {
		if cur == nil {
			cur = &domain.Session{ID: id, CreatedAt: now}
		}
		cur.Apply(u, s.maxTurns, now)
		return cur
	})
}

// Delete removes a session.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, key(id)).Err(); err != nil {
		return fmt.Errorf("deleting session %s: %w", id, err)
	}
	return nil
}

// EvictIdle is a no-op: Redis expires idle sessions itself.
func (s *Store) EvictIdle(context.Context, time.Time) ([]string, error) {
	return nil, nil
}

// update runs a read-modify-write of one session under WATCH, retrying
// when another writer wins the race.
func (s *Store) update(ctx context.Context, id string, fn func(cur *domain.Session, now time.Time) *domain.Session) error {
	k := key(id)
	txf := func(tx *redis.Tx) error {
		var cur *domain.Session
		raw, err := tx.Get(ctx, k).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			if cur, err = decode(raw); err != nil {
				return err
			}
		}

		next := fn(cur, s.now())
		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encoding session: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, k, data, s.idleTTL)
			return nil
		})
		return err
	}

	for range maxTxTries {
		err := s.client.Watch(ctx, txf, k)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("updating session %s: %w", id, err)
		}
		return nil
	}
	return fmt.Errorf("updating session %s: too much contention", id)
}

func decode(raw []byte) (*domain.Session, error) {
	var sess domain.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("decoding session: %w", err)
	}
	return &sess, nil
}
