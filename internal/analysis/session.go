package analysis

import (
	"errors"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"gptqual/internal/domain"
	"gptqual/internal/table"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionBusy     = errors.New("session has an analysis in progress")
)

const defaultSessionTTL = 60 * time.Minute

// Session is one uploaded dataset and the state that lives as long as it does.
type Session struct {
	ID        string
	FileName  string
	Table     *table.Table
	CreatedAt time.Time

	// run allows one analysis at a time per session.
	run sync.Mutex

	clock func() time.Time

	mu         sync.Mutex
	lastSeen   time.Time
	analyzed   *table.Table
	categories []domain.CategoryCount
	apiKey     string
}

// Analyzed returns the most recent augmented table, or nil before the first run.
func (s *Session) Analyzed() *table.Table {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.analyzed
}

// record keeps the outcome of a finished run. Only Categorize runs replace
// the category summary.
func (s *Session) record(o *Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.analyzed = o.Table
	if o.Categories != nil {
		s.categories = append([]domain.CategoryCount(nil), o.Categories...)
	}
}

// APIKey is the user-supplied model key remembered for this session.
func (s *Session) APIKey() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apiKey
}

func (s *Session) SetAPIKey(key string) {
	if key == "" {
		return
	}
	s.mu.Lock()
	s.apiKey = key
	s.mu.Unlock()
}

// begin claims the session for one analysis. It fails instead of queueing.
func (s *Session) begin() bool {
	return s.run.TryLock()
}

func (s *Session) end() {
	s.run.Unlock()
}

// busy reports whether an analysis currently holds the session.
func (s *Session) busy() bool {
	if s.run.TryLock() {
		s.run.Unlock()
		return false
	}
	return true
}

// ResetCategories clears the category summary shown for this session.
func (s *Session) ResetCategories() {
	s.mu.Lock()
	s.categories = nil
	s.mu.Unlock()
}

// Categories is the category summary of the last finished Categorize run.
func (s *Session) Categories() []domain.CategoryCount {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.CategoryCount(nil), s.categories...)
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// Sessions is the in-memory session store. Entries idle longer than the TTL
// are dropped on access and by Sweep, unless an analysis is still running.
type Sessions struct {
	mu    sync.RWMutex
	items map[string]*Session
	ttl   time.Duration
	now   func() time.Time
}

func NewSessions(ttl time.Duration) *Sessions {
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &Sessions{
		items: make(map[string]*Session),
		ttl:   ttl,
		now:   time.Now,
	}
}

func (s *Sessions) Create(fileName string, t *table.Table) *Session {
	now := s.now()
	sess := &Session{
		ID:        ulid.Make().String(),
		FileName:  fileName,
		Table:     t,
		CreatedAt: now,
		clock:     func() time.Time { return s.now() },
		lastSeen:  now,
	}
	s.mu.Lock()
	s.items[sess.ID] = sess
	s.mu.Unlock()
	return sess
}

func (s *Sessions) Get(id string) (*Session, error) {
	s.mu.RLock()
	sess, ok := s.items[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	now := s.now()
	if s.expired(sess, now) {
		s.Delete(id)
		return nil, ErrSessionNotFound
	}
	sess.touch(now)
	return sess, nil
}

func (s *Sessions) Delete(id string) {
	s.mu.Lock()
	delete(s.items, id)
	s.mu.Unlock()
}

func (s *Sessions) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Sweep removes expired sessions and returns how many were dropped.
func (s *Sessions) Sweep() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, sess := range s.items {
		if s.expired(sess, now) {
			delete(s.items, id)
			removed++
		}
	}
	return removed
}

func (s *Sessions) expired(sess *Session, now time.Time) bool {
	return now.Sub(sess.idleSince()) > s.ttl && !sess.busy()
}
