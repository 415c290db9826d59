package session

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/basinworks/toolplane/internal/call"
)

var (
	// ErrNotFound is returned when a session ID does not resolve.
	ErrNotFound = errors.New("session not found")

	// ErrResultNotFound is returned when a result key is absent from a
	// session's result store.
	ErrResultNotFound = errors.New("result not found")
)

// DefaultIdentity is used when a session is created without one: a
// read-only analyst with no organization.
var DefaultIdentity = Identity{
	UserID:      "anonymous",
	Role:        "analyst",
	Permissions: []string{"read:data"},
}

// Store is an in-memory session arena keyed by session ID. The arena map
// is guarded by an RWMutex for insert, delete, and lookup; each entry has
// its own mutex so concurrent mutation of one session never blocks another.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*lockedEntry

	defaultIdentity Identity

	// now is injectable for testing. Defaults to time.Now.
	now func() time.Time
}

type lockedEntry struct {
	mu sync.Mutex
	e  entry
}

// NewStore creates a ready-to-use session store.
func NewStore() *Store {
	return &Store{
		sessions:        make(map[string]*lockedEntry),
		defaultIdentity: DefaultIdentity,
		now:             time.Now,
	}
}

// SetDefaultIdentity overrides the identity used for sessions created
// without one.
func (s *Store) SetDefaultIdentity(id Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defaultIdentity = id
}

// DefaultIdentity returns the identity used for sessions created without
// one.
func (s *Store) DefaultIdentity() Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.defaultIdentity
}

// SetNow overrides the clock. Only for testing; call before the store is
// shared between goroutines.
func (s *Store) SetNow(now func() time.Time) {
	s.now = now
}

// Create allocates a new session. A nil identity falls back to the
// configured default read-only identity.
func (s *Store) Create(identity *Identity, preferences map[string]any) Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.defaultIdentity
	if identity != nil {
		id = *identity
	}

	prefs := make(map[string]any, len(preferences))
	for k, v := range preferences {
		prefs[k] = v
	}

	now := s.now()
	le := &lockedEntry{e: entry{
		id:           uuid.NewString(),
		identity:     id,
		preferences:  prefs,
		results:      make(map[string]call.Response),
		createdAt:    now,
		lastActivity: now,
	}}
	s.sessions[le.e.id] = le
	return snapshot(&le.e)
}

// Get returns a snapshot of the session, or ErrNotFound.
func (s *Store) Get(id string) (Session, error) {
	le, err := s.lookup(id)
	if err != nil {
		return Session{}, err
	}
	le.mu.Lock()
	defer le.mu.Unlock()
	return snapshot(&le.e), nil
}

// StoreResult saves a response under the given key, scoped to the session.
func (s *Store) StoreResult(id, key string, resp call.Response) error {
	le, err := s.lookup(id)
	if err != nil {
		return err
	}
	le.mu.Lock()
	defer le.mu.Unlock()
	le.e.results[key] = resp
	le.e.lastActivity = s.clock()
	return nil
}

// GetResult returns the response stored under key for the session.
func (s *Store) GetResult(id, key string) (call.Response, error) {
	le, err := s.lookup(id)
	if err != nil {
		return call.Response{}, err
	}
	le.mu.Lock()
	defer le.mu.Unlock()
	resp, ok := le.e.results[key]
	if !ok {
		return call.Response{}, fmt.Errorf("%w: %s", ErrResultNotFound, key)
	}
	return resp, nil
}

// InjectedContext builds the call context derived from the session:
// identity, timestamp, timezone, preferences, and available result keys.
func (s *Store) InjectedContext(id string) (Context, error) {
	le, err := s.lookup(id)
	if err != nil {
		return Context{}, err
	}
	le.mu.Lock()
	defer le.mu.Unlock()

	now := s.clock()
	prefs := make(map[string]any, len(le.e.preferences))
	for k, v := range le.e.preferences {
		prefs[k] = v
	}
	return Context{
		UserID:              le.e.identity.UserID,
		Role:                le.e.identity.Role,
		SessionID:           le.e.id,
		Timestamp:           now,
		Timezone:            now.Location().String(),
		Preferences:         prefs,
		AvailableResultKeys: resultKeys(&le.e),
	}, nil
}

// Touch updates the session's last-activity timestamp.
func (s *Store) Touch(id string) {
	le, err := s.lookup(id)
	if err != nil {
		return
	}
	le.mu.Lock()
	defer le.mu.Unlock()
	le.e.lastActivity = s.clock()
}

// Destroy releases all session state immediately. Destroying an unknown
// session returns ErrNotFound.
func (s *Store) Destroy(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(s.sessions, id)
	return nil
}

// Prune removes sessions idle longer than maxIdle and returns how many
// were removed. A maxIdle of zero disables pruning.
func (s *Store) Prune(maxIdle time.Duration) int {
	if maxIdle <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-maxIdle)
	var pruned int
	for id, le := range s.sessions {
		le.mu.Lock()
		idle := le.e.lastActivity.Before(cutoff)
		le.mu.Unlock()
		if idle {
			delete(s.sessions, id)
			pruned++
		}
	}
	return pruned
}

// Len returns the number of active sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *Store) lookup(id string) (*lockedEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	le, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return le, nil
}

// clock never takes the arena lock: callers may hold an entry lock, and
// Prune acquires entry locks while holding the arena lock.
func (s *Store) clock() time.Time {
	return s.now()
}

func snapshot(e *entry) Session {
	prefs := make(map[string]any, len(e.preferences))
	for k, v := range e.preferences {
		prefs[k] = v
	}
	return Session{
		ID:           e.id,
		Identity:     e.identity,
		Preferences:  prefs,
		CreatedAt:    e.createdAt,
		LastActivity: e.lastActivity,
		ResultKeys:   resultKeys(e),
	}
}

func resultKeys(e *entry) []string {
	if len(e.results) == 0 {
		return nil
	}
	keys := make([]string, 0, len(e.results))
	for k := range e.results {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
