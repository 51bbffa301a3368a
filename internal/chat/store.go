package chat

import (
	"context"
	"sync"
	"time"

	"github.com/suPer8Hu/medchat/internal/agent"
	"github.com/suPer8Hu/medchat/internal/common"
)

// Store owns the conversation sessions of one client runtime. It is safe for
// concurrent use; all getters return copies.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	order    []string // creation order
	activeID string
	// gens counts clears per session; a turn only appends its reply into
	// the generation it started in
	gens map[string]uint64

	persister Persister
	flushMu   sync.Mutex
	now       func() time.Time
}

type StoreOption func(*Store)

func WithPersister(p Persister) StoreOption {
	return func(s *Store) { s.persister = p }
}

func WithStoreClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		sessions: make(map[string]*Session),
		gens:     make(map[string]uint64),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) CreateSession(kind agent.Kind) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLocked(kind)
}

func (s *Store) createLocked(kind agent.Kind) string {
	id := common.NewULID()
	for s.sessions[id] != nil {
		id = common.NewULID()
	}
	s.sessions[id] = &Session{
		ID:        id,
		Type:      kind,
		Messages:  []Message{},
		CreatedAt: s.now(),
	}
	s.order = append(s.order, id)
	return id
}

// SetActive selects id. Unknown ids are ignored.
func (s *Store) SetActive(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; ok {
		s.activeID = id
	}
}

func (s *Store) ActiveID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeID
}

func (s *Store) Active() (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[s.activeID]
	if !ok {
		return Session{}, false
	}
	return sess.clone(), true
}

func (s *Store) Get(id string) (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, false
	}
	return sess.clone(), true
}

func (s *Store) Exists(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.sessions[id]
	return ok
}

// List returns all sessions in creation order.
func (s *Store) List() []Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Session, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.sessions[id].clone())
	}
	return out
}

// AddMessage stamps m with an id and creation time and appends it. It reports
// false, and does nothing, when the session does not exist.
func (s *Store) AddMessage(sessionID string, m Message) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addLocked(sessionID, m)
}

// AddMessageIfEmpty appends m only when the session has no messages yet.
func (s *Store) AddMessageIfEmpty(sessionID string, m Message) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok || len(sess.Messages) > 0 {
		return Message{}, false
	}
	return s.addLocked(sessionID, m)
}

// AddMessageGen is AddMessage that also reports the session's current
// generation, for a later AddMessageIfGen.
func (s *Store) AddMessageGen(sessionID string, m Message) (Message, uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out, ok := s.addLocked(sessionID, m)
	return out, s.gens[sessionID], ok
}

// AddMessageIfGen appends m only if the session has not been cleared since
// gen was observed.
func (s *Store) AddMessageIfGen(sessionID string, gen uint64, m Message) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gens[sessionID] != gen {
		return Message{}, false
	}
	return s.addLocked(sessionID, m)
}

func (s *Store) addLocked(sessionID string, m Message) (Message, bool) {
	sess, ok := s.sessions[sessionID]
	if !ok {
		return Message{}, false
	}
	m = m.clone()
	m.ID = common.NewUUID()
	m.CreatedAt = s.now()
	sess.Messages = append(sess.Messages, m)
	return m.clone(), true
}

// ClearSession drops every message but keeps the session itself.
func (s *Store) ClearSession(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return false
	}
	sess.Messages = []Message{}
	s.gens[id]++
	return true
}

func (s *Store) DeleteSession(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return false
	}
	delete(s.sessions, id)
	delete(s.gens, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	if s.activeID == id {
		s.activeID = ""
	}
	return true
}

// Resolve picks the session a view of the given kind should show and makes
// it active: the requested id if it exists, otherwise the oldest session of
// that kind, otherwise a new one.
func (s *Store) Resolve(kind agent.Kind, requestedID string) (id string, created bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if requestedID != "" {
		if _, ok := s.sessions[requestedID]; ok {
			s.activeID = requestedID
			return requestedID, false
		}
	}
	for _, oid := range s.order {
		if s.sessions[oid].Type == kind {
			s.activeID = oid
			return oid, false
		}
	}
	id = s.createLocked(kind)
	s.activeID = id
	return id, true
}

func (s *Store) Snapshot() []Session {
	return s.List()
}

// Restore replaces the store's contents with sessions, keeping their order.
func (s *Store) Restore(sessions []Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bumpAllLocked()
	s.sessions = make(map[string]*Session, len(sessions))
	s.order = s.order[:0]
	for i := range sessions {
		sess := sessions[i].clone()
		if _, dup := s.sessions[sess.ID]; dup || sess.ID == "" {
			continue
		}
		s.sessions[sess.ID] = &sess
		s.order = append(s.order, sess.ID)
	}
	if _, ok := s.sessions[s.activeID]; !ok {
		s.activeID = ""
	}
}

// Reset empties the store, as on logout.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bumpAllLocked()
	s.sessions = make(map[string]*Session)
	s.order = nil
	s.activeID = ""
}

// bumpAllLocked invalidates in-flight replies for every current session.
func (s *Store) bumpAllLocked() {
	for id := range s.sessions {
		s.gens[id]++
	}
}

// Load restores from the configured persister. Without one it is a no-op.
func (s *Store) Load(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}
	sessions, err := s.persister.Load(ctx)
	if err != nil {
		return err
	}
	s.Restore(sessions)
	return nil
}

// Flush writes a snapshot to the configured persister.
func (s *Store) Flush(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}
	// snapshot under flushMu so a later flush never saves older state
	s.flushMu.Lock()
	defer s.flushMu.Unlock()
	return s.persister.Save(ctx, s.Snapshot())
}
