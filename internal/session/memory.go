package session

import (
	"context"
	"sync"
)

// MemoryStore is a Store kept in process memory. It backs the "memory"
// storage driver and doubles as the test fake: FailWith makes writes fail.
type MemoryStore struct {
	mu      sync.Mutex
	users   map[int64]UserSession
	pending map[int64]AdminPending
	admins  []AdminRecord
	failErr error
	saves   int
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:   make(map[int64]UserSession),
		pending: make(map[int64]AdminPending),
	}
}

// FailWith makes every following write return err; nil restores normal behaviour.
func (s *MemoryStore) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failErr = err
}

// Saves returns how many writes succeeded.
func (s *MemoryStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

// StoredUser returns the persisted copy of a user, bypassing any cache.
func (s *MemoryStore) StoredUser(id int64) (UserSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return UserSession{}, false
	}
	return u.Clone(), true
}

func (s *MemoryStore) Load(_ context.Context) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		Users:    make(map[int64]UserSession, len(s.users)),
		Pending:  make(map[int64]AdminPending, len(s.pending)),
		AdminSet: append([]AdminRecord(nil), s.admins...),
	}
	for id, u := range s.users {
		snap.Users[id] = u.Clone()
	}
	for id, p := range s.pending {
		snap.Pending[id] = p
	}
	return snap, nil
}

func (s *MemoryStore) SaveUser(_ context.Context, id int64, u UserSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}
	s.users[id] = u.Clone()
	s.saves++
	return nil
}

func (s *MemoryStore) SaveAdmin(_ context.Context, id int64, p AdminPending) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}
	s.pending[id] = p
	s.saves++
	return nil
}

func (s *MemoryStore) AddAdmin(_ context.Context, rec AdminRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}
	for _, a := range s.admins {
		if a.ID == rec.ID {
			return nil
		}
	}
	s.admins = append(s.admins, rec)
	s.saves++
	return nil
}
