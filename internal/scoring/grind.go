package scoring

import (
	"math"

	"github.com/basket/wolfpack/internal/persistence"
)

// GrindResult describes the effect of one grind.
type GrindResult struct {
	Role       persistence.Role
	Stat       persistence.Stat
	StatValue  float64
	GrindCount int
	Efficiency int
	Started    bool
}

// Grind records one unit of effort on a task. A todo task moves to
// in_progress. The mapped public stat creeps up until it reaches the grind
// cap.
func (r Rules) Grind(u *persistence.User, taskID string) (GrindResult, error) {
	t, err := taskAt(u, taskID)
	if err != nil {
		return GrindResult{}, err
	}
	if t.Status == persistence.TaskStatusDone {
		return GrindResult{}, ErrTaskDone
	}
	role, err := ResolveRole(u, t)
	if err != nil {
		return GrindResult{}, err
	}

	res := GrindResult{Role: role, Stat: persistence.StatForRole(role)}
	t.GrindCount++
	if t.Status == persistence.TaskStatusTodo || t.Status == "" {
		t.Status = persistence.TaskStatusInProgress
		res.Started = true
	}

	rec := u.RoleHistory.For(role)
	rec.Grind++
	rec.Efficiency = Efficiency(rec.Kill, rec.Grind)

	cur := u.PublicStats.Get(res.Stat)
	if cur < r.GrindStatCap {
		u.PublicStats.Set(res.Stat, math.Min(r.GrindStatCap, cur+r.GrindStatStep))
	}

	res.StatValue = u.PublicStats.Get(res.Stat)
	res.GrindCount = t.GrindCount
	res.Efficiency = rec.Efficiency
	return res, nil
}
