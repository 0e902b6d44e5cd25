// Package identity persists the anonymous visitor id and the current
// conversation id across runs.
package identity

import (
	"sync"

	"github.com/google/uuid"

	"github.com/soyeahso/widgetchat/internal/domain"
	"github.com/soyeahso/widgetchat/internal/logging"
	"github.com/soyeahso/widgetchat/internal/store"
)

// Storage keys.
const (
	KeyAnonymousID    = "draz_anonymous_id"
	KeyConversationID = "draz_conversation_id"
)

// Store reads and writes the identity pair. Backend failures never reach
// callers: the first one switches the store to an in-memory map for the
// rest of the process.
type Store struct {
	mu       sync.Mutex
	kv       store.KV
	backing  store.KV
	degraded bool
	log      *logging.Logger
}

// New wraps kv. Closing the Store closes kv.
func New(kv store.KV, log *logging.Logger) *Store {
	return &Store{kv: kv, backing: kv, log: log.Sub("identity")}
}

// AnonymousID returns the persisted anonymous id, creating and persisting
// "user-<uuid>" on first use.
func (s *Store) AnonymousID() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id := s.get(KeyAnonymousID); id != "" {
		return id
	}
	id := "user-" + uuid.NewString()
	s.set(KeyAnonymousID, id)
	s.log.Debug().Str("anonymousId", id).Msg("created anonymous id")
	return id
}

// ConversationID returns the stored conversation id, "" when none.
func (s *Store) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(KeyConversationID)
}

// SetConversationID persists id; "" clears it.
func (s *Store) SetConversationID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == "" {
		s.del(KeyConversationID)
		return
	}
	s.set(KeyConversationID, id)
}

func (s *Store) ClearConversationID() {
	s.SetConversationID("")
}

// Identity returns both ids, creating the anonymous id if needed.
func (s *Store) Identity() domain.Identity {
	return domain.Identity{AnonymousID: s.AnonymousID(), ConversationID: s.ConversationID()}
}

// Reset forgets both ids.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.del(KeyConversationID)
	s.del(KeyAnonymousID)
}

// Degraded reports whether the store has fallen back to memory.
func (s *Store) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

func (s *Store) Close() error {
	return s.backing.Close()
}

func (s *Store) get(key string) string {
	v, ok, err := s.kv.Get(key)
	if err != nil {
		s.degrade(err)
		v, ok, _ = s.kv.Get(key)
	}
	if !ok {
		return ""
	}
	return v
}

func (s *Store) set(key, value string) {
	if err := s.kv.Set(key, value); err != nil {
		s.degrade(err)
		_ = s.kv.Set(key, value)
	}
}

func (s *Store) del(key string) {
	if err := s.kv.Delete(key); err != nil {
		s.degrade(err)
		_ = s.kv.Delete(key)
	}
}

// degrade must be called with s.mu held.
func (s *Store) degrade(err error) {
	if s.degraded {
		return
	}
	s.log.Warn().Err(err).Msg("identity storage unavailable, falling back to memory")
	s.kv = store.NewMemoryKV()
	s.degraded = true
}
