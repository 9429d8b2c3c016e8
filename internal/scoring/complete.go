package scoring

import (
	"time"

	"github.com/basket/wolfpack/internal/persistence"
)

// Transition classifies a status change.
type Transition int

const (
	TransitionNone Transition = iota
	TransitionComplete
	TransitionReopen
)

// Outcome describes the scoring effect of a status change. Points is
// positive for completions and negative for reopens.
type Outcome struct {
	Transition  Transition
	Role        persistence.Role
	Stat        persistence.Stat
	StatValue   float64
	Points      int
	Kills       int
	Efficiency  int
	Early       *bool
	UnderBudget *bool
}

// CompletionPoints scores a completion at now. The deadline rule applies
// only when a deadline is set and the budget rule only when budget > 0.
// Completing on the deadline counts as early.
func (r Rules) CompletionPoints(t *persistence.Task, now time.Time) (points int, early, underBudget *bool) {
	points = r.CompletionBase
	if t.Deadline != nil {
		ok := !now.After(*t.Deadline)
		early = &ok
		if ok {
			points += r.DeadlineBonus
		} else {
			points -= r.DeadlinePenalty
		}
	}
	if t.Budget > 0 {
		ok := t.ActualCost <= t.Budget
		underBudget = &ok
		if ok {
			points += r.BudgetBonus
		} else {
			points -= r.BudgetPenalty
		}
	}
	return points, early, underBudget
}

// SetStatus moves a task to status and applies completion or reopen
// scoring when the move crosses the done boundary. Moves that stay on the
// same side of done only change the status.
func (r Rules) SetStatus(u *persistence.User, taskID string, status persistence.TaskStatus, now time.Time) (Outcome, error) {
	t, err := taskAt(u, taskID)
	if err != nil {
		return Outcome{}, err
	}
	wasDone := t.Status == persistence.TaskStatusDone
	isDone := status == persistence.TaskStatusDone
	switch {
	case !wasDone && isDone:
		return r.complete(u, t, now)
	case wasDone && !isDone:
		return r.reopen(u, t, status)
	default:
		t.Status = status
		return Outcome{Transition: TransitionNone}, nil
	}
}

func (r Rules) complete(u *persistence.User, t *persistence.Task, now time.Time) (Outcome, error) {
	role, err := ResolveRole(u, t)
	if err != nil {
		return Outcome{}, err
	}
	points, early, under := r.CompletionPoints(t, now)

	rec := u.RoleHistory.For(role)
	rec.Kill++
	rec.Efficiency = Efficiency(rec.Kill, rec.Grind)

	stat := persistence.StatForRole(role)
	u.PublicStats.Set(stat, r.CompletionStat(*rec))
	u.IVP += points

	completedAt := now
	t.Status = persistence.TaskStatusDone
	t.AwardedIVP = points
	t.ScoredRole = role
	t.CompletedAt = &completedAt

	return Outcome{
		Transition:  TransitionComplete,
		Role:        role,
		Stat:        stat,
		StatValue:   u.PublicStats.Get(stat),
		Points:      points,
		Kills:       rec.Kill,
		Efficiency:  rec.Efficiency,
		Early:       early,
		UnderBudget: under,
	}, nil
}

// reopen reverses a completion. The points recorded on the task are
// subtracted; tasks completed before points were recorded give back the
// base bonus.
func (r Rules) reopen(u *persistence.User, t *persistence.Task, status persistence.TaskStatus) (Outcome, error) {
	role := t.ScoredRole
	if !role.IsValid() {
		var err error
		if role, err = ResolveRole(u, t); err != nil {
			return Outcome{}, err
		}
	}
	points := t.AwardedIVP
	if points == 0 && t.ScoredRole == "" {
		points = r.CompletionBase
	}

	rec := u.RoleHistory.For(role)
	rec.Kill = max(0, rec.Kill-1)
	rec.Efficiency = Efficiency(rec.Kill, rec.Grind)

	stat := persistence.StatForRole(role)
	u.PublicStats.Set(stat, r.CompletionStat(*rec))
	u.IVP -= points

	t.Status = status
	t.AwardedIVP = 0
	t.ScoredRole = ""
	t.CompletedAt = nil

	return Outcome{
		Transition: TransitionReopen,
		Role:       role,
		Stat:       stat,
		StatValue:  u.PublicStats.Get(stat),
		Points:     -points,
		Kills:      rec.Kill,
		Efficiency: rec.Efficiency,
	}, nil
}
