package domain

import "time"

// Turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is a single user or assistant message in a session.
type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Session tracks one shopper's conversation with the agent.
type Session struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"createdAt"`
	LastAccess time.Time `json:"lastAccess"`
	Turns      []Turn    `json:"turns,omitempty"`

	// LastCandidates is the most recent non-empty candidate set, used to
	// resolve references such as "the second one" in a later turn.
	LastCandidates CandidateSet `json:"lastCandidates,omitempty"`

	// LastFilter is the filter behind LastCandidates, used for follow-ups
	// like "cheaper ones".
	LastFilter *FilterSpec `json:"lastFilter,omitempty"`
}

// Clone returns a deep copy so callers can read a session without holding
// the store's lock.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Turns = append([]Turn(nil), s.Turns...)
	c.LastCandidates = append(CandidateSet(nil), s.LastCandidates...)
	if s.LastFilter != nil {
		f := *s.LastFilter
		f.Keywords = append([]string(nil), s.LastFilter.Keywords...)
		f.Notes = append([]string(nil), s.LastFilter.Notes...)
		c.LastFilter = &f
	}
	return &c
}

// TurnUpdate is everything a finished turn writes back to its session.
type TurnUpdate struct {
	Turns      []Turn
	Candidates CandidateSet
	Filter     *FilterSpec
}

// Apply folds u into s: turns are appended and trimmed to the last maxTurns
// (zero keeps all), and non-empty follow-up context replaces the stored one.
func (s *Session) Apply(u TurnUpdate, maxTurns int, now time.Time) {
	for _, t := range u.Turns {
		if t.Timestamp.IsZero() {
			t.Timestamp = now
		}
		s.Turns = append(s.Turns, t)
	}
	if maxTurns > 0 && len(s.Turns) > maxTurns {
		s.Turns = append([]Turn(nil), s.Turns[len(s.Turns)-maxTurns:]...)
	}
	if len(u.Candidates) > 0 {
		s.LastCandidates = append(CandidateSet(nil), u.Candidates...)
	}
	if u.Filter != nil {
		f := *u.Filter
		f.Keywords = append([]string(nil), u.Filter.Keywords...)
		s.LastFilter = &f
	}
	s.LastAccess = now
}
