package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/basket/wolfpack/internal/config"
	"github.com/basket/wolfpack/internal/persistence"
)

// SeedCandidates upserts the catalog candidates and the mentor as
// candidate users. Profile fields follow the catalog; ratings and packs
// already collected are kept.
func (s *Service) SeedCandidates(ctx context.Context) (int, error) {
	cat := s.Catalog()
	seeds := append([]config.Candidate(nil), cat.Candidates...)
	if cat.Mentor.ID != "" {
		seeds = append(seeds, cat.Mentor)
	}
	n := 0
	for _, c := range seeds {
		apply := func(u *persistence.User) error {
			u.Name = c.Name
			u.Role = c.Role
			u.City = c.City
			u.Skills = append([]string(nil), c.Skills...)
			u.Bio = c.Bio
			return nil
		}
		_, err := s.store.Update(ctx, c.ID, apply)
		if errors.Is(err, persistence.ErrNotFound) {
			u := &persistence.User{
				ID:       c.ID,
				Kind:     persistence.KindCandidate,
				Tasks:    []persistence.Task{},
				Wolfpack: []string{},
				Events:   []persistence.Event{},
			}
			_ = apply(u)
			err = s.store.Create(ctx, u)
		}
		if err != nil {
			return n, fmt.Errorf("seed candidate %s: %w", c.ID, err)
		}
		n++
	}
	s.log(ctx).Info("candidates seeded", "count", n, "catalog_version", cat.Version)
	return n, nil
}

// SweepOverdue appends one task_overdue event for every unfinished task
// whose deadline is before now. Each task is flagged so it fires once.
func (s *Service) SweepOverdue(ctx context.Context, now time.Time) (int, error) {
	members, err := s.store.List(ctx, persistence.ListFilter{Kind: persistence.KindMember})
	if err != nil {
		return 0, err
	}
	total := 0
	for _, m := range members {
		if !hasOverdue(m, now) {
			continue
		}
		flagged := 0
		_, err := s.mutate(ctx, m.ID, func(u *persistence.User, f *feed) error {
			flagged = 0
			for i := range u.Tasks {
				t := &u.Tasks[i]
				if !isOverdue(t, now) {
					continue
				}
				t.OverdueNotified = true
				flagged++
				f.add(u, s.maxEvents, s.event("task_overdue", t.ID, 0,
					"%q is past its deadline.", t.Title))
			}
			return nil
		})
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return total, err
		}
		total += flagged
	}
	if total > 0 {
		s.metrics.RecordOverdue(ctx, total)
		s.log(ctx).Info("overdue sweep", "flagged", total)
	}
	return total, nil
}

func hasOverdue(u *persistence.User, now time.Time) bool {
	for i := range u.Tasks {
		if isOverdue(&u.Tasks[i], now) {
			return true
		}
	}
	return false
}

func isOverdue(t *persistence.Task, now time.Time) bool {
	return t.Status != persistence.TaskStatusDone && !t.OverdueNotified &&
		t.Deadline != nil && t.Deadline.Before(now)
}

// Stats is the JSON body of GET /metrics.
type Stats struct {
	Members        int                            `json:"members"`
	Candidates     int                            `json:"candidates"`
	TasksByStatus  map[persistence.TaskStatus]int `json:"tasksByStatus"`
	TotalIVP       int                            `json:"totalIvp"`
	MembersByRole  map[persistence.Role]int       `json:"membersByRole"`
	CatalogVersion string                         `json:"catalogVersion"`
}

// Stats aggregates counters across every stored user.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	users, err := s.store.List(ctx, persistence.ListFilter{})
	if err != nil {
		return nil, err
	}
	st := &Stats{
		TasksByStatus: map[persistence.TaskStatus]int{
			persistence.TaskStatusTodo:       0,
			persistence.TaskStatusInProgress: 0,
			persistence.TaskStatusDone:       0,
		},
		MembersByRole:  map[persistence.Role]int{},
		CatalogVersion: s.Catalog().Version,
	}
	for _, u := range users {
		if u.Kind == persistence.KindCandidate {
			st.Candidates++
			continue
		}
		st.Members++
		st.TotalIVP += u.IVP
		if u.Role != "" {
			st.MembersByRole[u.Role]++
		}
		for _, t := range u.Tasks {
			st.TasksByStatus[t.Status]++
		}
	}
	return st, nil
}
