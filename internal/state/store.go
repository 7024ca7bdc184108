// Package state holds the client's synchronized view of conversations,
// presence and chat history. The store is session-scoped: constructed at
// startup, seeded by the bootstrap, mutated only by the dispatcher, and
// thrown away on exit.
package state

import (
	"sync"
	"time"
)

// Conversation is a durable, operator-opened messaging relationship with a
// peer. Once opened it is never deleted by presence traffic; a disconnect
// only flips Online.
type Conversation struct {
	ID     string
	Name   string
	Online bool
}

// Entry is one chat message within a conversation's history. A zero ID and
// zero Time mark a locally echoed entry the server has not acknowledged;
// the protocol carries no correlation id, so they are never backfilled.
type Entry struct {
	ID             string
	ConversationID string
	Message        string
	FromSelf       bool
	Time           time.Time
}

// Store maps conversation ids to conversations and to their append-only
// history sequences. Mutators report whether a visible change occurred so
// callers can skip redundant render work. All operations are total: an
// unknown id degrades to a no-op or a not-found result, never a panic.
type Store struct {
	mu            sync.RWMutex
	conversations map[string]Conversation
	histories     map[string][]Entry
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		conversations: make(map[string]Conversation),
		histories:     make(map[string][]Entry),
	}
}

// Upsert inserts or replaces a conversation by id.
func (s *Store) Upsert(c Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[c.ID] = c
}

// SetOnline flips a conversation's presence flag. It reports false when the
// id is unknown or the flag already held that value.
func (s *Store) SetOnline(id string, online bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok || c.Online == online {
		return false
	}
	c.Online = online
	s.conversations[id] = c
	return true
}

// Append adds an entry to the end of a conversation's history, creating the
// sequence first if none exists. Append never fails.
func (s *Store) Append(id string, e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.histories[id] = append(s.histories[id], e)
}

// Seed installs a conversation's initial history. Seeding with no entries
// still marks the history as loaded, which is how a failed fetch degrades to
// an empty conversation instead of a perpetually pending one.
func (s *Store) Seed(id string, entries []Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := make([]Entry, len(entries))
	copy(h, entries)
	s.histories[id] = h
}

// Remove deletes a conversation and its history. Only the promote-rollback
// path uses it; presence traffic never removes a durable conversation.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conversations, id)
	delete(s.histories, id)
}

// History returns a copy of a conversation's history in arrival order. The
// second result is false when no history has been loaded for the id, which
// callers surface as a pending state rather than an empty one.
func (s *Store) History(id string) ([]Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.histories[id]
	if !ok {
		return nil, false
	}
	out := make([]Entry, len(h))
	copy(out, h)
	return out, true
}

// Conversation looks up a conversation by id.
func (s *Store) Conversation(id string) (Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	return c, ok
}

// Conversations returns a snapshot of all known conversations.
func (s *Store) Conversations() []Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		out = append(out, c)
	}
	return out
}

// Len returns the number of known conversations.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conversations)
}
