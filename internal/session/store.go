package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrStoreUnavailable wraps any failure talking to the backing store.
	ErrStoreUnavailable = errors.New("session store unavailable")
	// ErrMalformedSession is returned by Load together with a fresh session
	// when the persisted record fails shape validation.
	ErrMalformedSession = errors.New("malformed session")
	// ErrVersionConflict means another writer saved the session since it was loaded.
	ErrVersionConflict = errors.New("session version conflict")
)

// Store loads and saves sessions. Load returns a new session for unknown users.
type Store interface {
	Load(ctx context.Context, userID string) (*Session, error)
	Save(ctx context.Context, s *Session) error
}

func encode(s *Session) ([]byte, error) {
	return json.Marshal(s)
}

// decode parses a stored body. On any shape problem it returns a fresh session
// that keeps the user id and store version, along with ErrMalformedSession.
func decode(userID string, version int, raw []byte) (*Session, error) {
	var s Session
	err := json.Unmarshal(raw, &s)
	if err == nil && s.UserID != userID {
		err = fmt.Errorf("record belongs to %q", s.UserID)
	}
	if err == nil {
		err = s.Validate()
	}
	if err != nil {
		fresh := New(userID)
		fresh.Version = version
		return fresh, fmt.Errorf("%w: %v", ErrMalformedSession, err)
	}
	if s.History == nil {
		s.History = []Turn{}
	}
	s.Version = version
	return &s, nil
}

type memoryRecord struct {
	version int
	body    []byte
}

// MemoryStore keeps sessions in process memory. Used in development and tests.
type MemoryStore struct {
	mu   sync.Mutex
	recs map[string]memoryRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{recs: make(map[string]memoryRecord)}
}

func (m *MemoryStore) Load(ctx context.Context, userID string) (*Session, error) {
	m.mu.Lock()
	rec, ok := m.recs[userID]
	m.mu.Unlock()
	if !ok {
		return New(userID), nil
	}
	return decode(userID, rec.version, rec.body)
}

func (m *MemoryStore) Save(ctx context.Context, s *Session) error {
	s.UpdatedAt = time.Now()
	body, err := encode(s)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recs[s.UserID].version != s.Version {
		return ErrVersionConflict
	}
	m.recs[s.UserID] = memoryRecord{version: s.Version + 1, body: body}
	s.Version++
	return nil
}

// PutRaw stores an arbitrary body for a user. Tests use it to simulate corrupt records.
func (m *MemoryStore) PutRaw(userID string, body []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.recs[userID]
	m.recs[userID] = memoryRecord{version: rec.version + 1, body: body}
}
