package agent

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/Arize-ai/chat-to-purchase-router-agent/internal/domain"
)

// SessionStore manages conversation sessions. Implementations live here
// (memory), in internal/store (SQLite) and internal/store/redisstore.
type SessionStore interface {
	// GetOrCreate loads a session, creating it on first reference. The bool
	// reports whether it was created. Either way it counts as an access.
	GetOrCreate(ctx context.Context, id string) (*domain.Session, bool, error)

	// Get returns a session by ID, or nil if not found.
	Get(ctx context.Context, id string) (*domain.Session, error)

	// Append records turns and follow-up context for a session.
	Append(ctx context.Context, id string, update domain.TurnUpdate) error

	// Delete removes a session.
	Delete(ctx context.Context, id string) error

	// EvictIdle drops sessions last accessed before cutoff, plus the least
	// recently used ones beyond the store's cap, and returns their ids.
	EvictIdle(ctx context.Context, cutoff time.Time) ([]string, error)
}

// MemorySessionStore is an in-memory SessionStore with a sliding turn
// window and an LRU cap on the number of sessions.
type MemorySessionStore struct {
	mu          sync.Mutex
	sessions    map[string]*list.Element // id → element holding *domain.Session
	lru         *list.List               // front is most recently used
	maxTurns    int
	maxSessions int
	now         func() time.Time
}

// NewMemorySessionStore creates an in-memory session store. Zero disables
// the corresponding bound.
func NewMemorySessionStore(maxTurns, maxSessions int) *MemorySessionStore {
	return &MemorySessionStore{
		sessions:    make(map[string]*list.Element),
		lru:         list.New(),
		maxTurns:    maxTurns,
		maxSessions: maxSessions,
		now:         time.Now,
	}
}

func (s *MemorySessionStore) GetOrCreate(_ context.Context, id string) (*domain.Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if el, ok := s.sessions[id]; ok {
		sess := el.Value.(*domain.Session)
		sess.LastAccess = now
		s.lru.MoveToFront(el)
		return sess.Clone(), false, nil
	}

	sess := s.create(id, now)
	return sess.Clone(), true, nil
}

// create inserts a new session, evicting the least recently used one when
// the cap is reached. Callers hold s.mu.
func (s *MemorySessionStore) create(id string, now time.Time) *domain.Session {
	if s.maxSessions > 0 {
		for s.lru.Len() >= s.maxSessions {
			oldest := s.lru.Back()
			s.lru.Remove(oldest)
			delete(s.sessions, oldest.Value.(*domain.Session).ID)
		}
	}
	sess := &domain.Session{ID: id, CreatedAt: now, LastAccess: now}
	s.sessions[id] = s.lru.PushFront(sess)
	return sess
}

func (s *MemorySessionStore) Get(_ context.Context, id string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.sessions[id]; ok {
		return el.Value.(*domain.Session).Clone(), nil
	}
	return nil, nil
}

func (s *MemorySessionStore) Append(_ context.Context, id string, update domain.TurnUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var sess *domain.Session
	if el, ok := s.sessions[id]; ok {
		sess = el.Value.(*domain.Session)
		s.lru.MoveToFront(el)
	} else {
		sess = s.create(id, now)
	}

	sess.Apply(update, s.maxTurns, now)
	return nil
}

func (s *MemorySessionStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.sessions[id]; ok {
		s.lru.Remove(el)
		delete(s.sessions, id)
	}
	return nil
}

func (s *MemorySessionStore) EvictIdle(_ context.Context, cutoff time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var evicted []string
	for el := s.lru.Back(); el != nil; {
		prev := el.Prev()
		sess := el.Value.(*domain.Session)
		over := s.maxSessions > 0 && s.lru.Len() > s.maxSessions
		if over || sess.LastAccess.Before(cutoff) {
			s.lru.Remove(el)
			delete(s.sessions, sess.ID)
			evicted = append(evicted, sess.ID)
		}
		el = prev
	}
	return evicted, nil
}

// Len returns the number of live sessions.
func (s *MemorySessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Len()
}
