package persistence

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// MemoryStore keeps users in a process-local map. State is lost on restart.
type MemoryStore struct {
	mu      sync.RWMutex
	users   map[string]*User
	byEmail map[string]string
	closed  bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:   make(map[string]*User),
		byEmail: make(map[string]string),
	}
}

var errClosed = errors.New("store closed")

func (s *MemoryStore) Create(ctx context.Context, u *User) error {
	if u == nil || u.ID == "" {
		return fmt.Errorf("create user: missing id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	if _, ok := s.users[u.ID]; ok {
		return fmt.Errorf("create user %s: %w", u.ID, ErrConflict)
	}
	c := u.Clone()
	stamp(c, true)
	if c.Kind == KindMember && c.Email != "" {
		if _, ok := s.byEmail[c.Email]; ok {
			return fmt.Errorf("create user %s: %w", c.Email, ErrConflict)
		}
		s.byEmail[c.Email] = c.ID
	}
	s.users[c.ID] = c
	*u = *c.Clone()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed
	}
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return u.Clone(), nil
}

func (s *MemoryStore) GetByEmail(ctx context.Context, email string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed
	}
	id, ok := s.byEmail[NormalizeEmail(email)]
	if !ok {
		return nil, ErrNotFound
	}
	return s.users[id].Clone(), nil
}

func (s *MemoryStore) Update(ctx context.Context, id string, fn func(*User) error) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errClosed
	}
	cur, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.ID = cur.ID
	stamp(next, false)
	if next.Email != cur.Email && cur.Kind == KindMember {
		if other, taken := s.byEmail[next.Email]; taken && other != id {
			return nil, fmt.Errorf("update user %s: %w", next.Email, ErrConflict)
		}
		delete(s.byEmail, cur.Email)
		if next.Email != "" {
			s.byEmail[next.Email] = id
		}
	}
	s.users[id] = next
	return next.Clone(), nil
}

func (s *MemoryStore) List(ctx context.Context, filter ListFilter) ([]*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed
	}
	out := make([]*User, 0, len(s.users))
	for _, u := range s.users {
		if filter.match(u) {
			out = append(out, u.Clone())
		}
	}
	sortByCreated(out)
	return out, nil
}

func (s *MemoryStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, errClosed
	}
	return len(s.users), nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errClosed
	}
	return ctx.Err()
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ Store = (*MemoryStore)(nil)
