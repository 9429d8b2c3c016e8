// Package persistence stores one document per user. Two drivers implement
// Store: an in-process map and SQLite.
package persistence

import (
	"context"
	"errors"
	"sort"
	"time"
)

var (
	// ErrNotFound is returned when no user matches the lookup.
	ErrNotFound = errors.New("user not found")
	// ErrConflict is returned when a create collides with an existing ID or
	// member email.
	ErrConflict = errors.New("user already exists")
)

// ListFilter narrows List results. The zero value matches every user.
type ListFilter struct {
	Kind UserKind
}

func (f ListFilter) match(u *User) bool {
	return f.Kind == "" || u.Kind == f.Kind
}

// Store is the user document collection. Every returned *User is a copy
// owned by the caller.
type Store interface {
	Create(ctx context.Context, u *User) error
	Get(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	// Update loads the user, runs fn on a copy and persists the copy when fn
	// returns nil. It is atomic per user. The stored result is returned.
	Update(ctx context.Context, id string, fn func(*User) error) (*User, error)
	List(ctx context.Context, filter ListFilter) ([]*User, error)
	Count(ctx context.Context) (int, error)
	Ping(ctx context.Context) error
	Close() error
}

// nowFunc is swapped in tests.
var nowFunc = func() time.Time { return time.Now().UTC() }

func sortByCreated(users []*User) {
	sort.SliceStable(users, func(i, j int) bool {
		if users[i].CreatedAt.Equal(users[j].CreatedAt) {
			return users[i].ID < users[j].ID
		}
		return users[i].CreatedAt.Before(users[j].CreatedAt)
	})
}

func stamp(u *User, created bool) {
	now := nowFunc()
	if created && u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	u.Email = NormalizeEmail(u.Email)
}
