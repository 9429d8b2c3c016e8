// Package scoring implements Wolf Math: the deterministic point and stat
// rules applied when a task is ground, completed or reopened, plus peer
// rating averages. Functions mutate the user document they are given and
// never touch storage.
package scoring

import (
	"errors"
	"math"

	"github.com/basket/wolfpack/internal/persistence"
)

var (
	ErrTaskDone    = errors.New("task already done")
	ErrNoRole      = errors.New("task has no role to score")
	ErrScoreRange  = errors.New("score must be between 1 and 5")
	ErrUnknownTask = errors.New("task not found")
)

// Rules holds the scoring constants.
type Rules struct {
	CompletionBase   int
	DeadlineBonus    int
	DeadlinePenalty  int
	BudgetBonus      int
	BudgetPenalty    int
	GrindStatStep    float64
	GrindStatCap     float64
	KillBonusPerKill int
	KillBonusCap     int
	StatCap          float64
}

func DefaultRules() Rules {
	return Rules{
		CompletionBase:   100,
		DeadlineBonus:    20,
		DeadlinePenalty:  20,
		BudgetBonus:      30,
		BudgetPenalty:    20,
		GrindStatStep:    0.5,
		GrindStatCap:     50,
		KillBonusPerKill: 2,
		KillBonusCap:     20,
		StatCap:          100,
	}
}

// Overrides replaces individual constants. Nil fields keep the current
// value, so an explicit zero is honored.
type Overrides struct {
	CompletionBase   *int
	DeadlineBonus    *int
	DeadlinePenalty  *int
	BudgetBonus      *int
	BudgetPenalty    *int
	GrindStatStep    *float64
	GrindStatCap     *float64
	KillBonusPerKill *int
	KillBonusCap     *int
	StatCap          *float64
}

// With returns r with every set field of o applied.
func (r Rules) With(o Overrides) Rules {
	setInt := func(dst *int, v *int) {
		if v != nil {
			*dst = *v
		}
	}
	setFloat := func(dst *float64, v *float64) {
		if v != nil {
			*dst = *v
		}
	}
	setInt(&r.CompletionBase, o.CompletionBase)
	setInt(&r.DeadlineBonus, o.DeadlineBonus)
	setInt(&r.DeadlinePenalty, o.DeadlinePenalty)
	setInt(&r.BudgetBonus, o.BudgetBonus)
	setInt(&r.BudgetPenalty, o.BudgetPenalty)
	setFloat(&r.GrindStatStep, o.GrindStatStep)
	setFloat(&r.GrindStatCap, o.GrindStatCap)
	setInt(&r.KillBonusPerKill, o.KillBonusPerKill)
	setInt(&r.KillBonusCap, o.KillBonusCap)
	setFloat(&r.StatCap, o.StatCap)
	return r
}

// Efficiency is round(kill / max(1, grind) * 100).
func Efficiency(kill, grind int) int {
	return int(math.Round(float64(kill) / float64(max(1, grind)) * 100))
}

// CompletionStat is min(cap, efficiency + min(killCap, kills*perKill)).
func (r Rules) CompletionStat(rec persistence.RoleRecord) float64 {
	bonus := min(r.KillBonusCap, rec.Kill*r.KillBonusPerKill)
	return math.Min(r.StatCap, float64(rec.Efficiency+bonus))
}

// ResolveRole picks the role a task is scored against: its assignee, else
// the owner's role.
func ResolveRole(u *persistence.User, t *persistence.Task) (persistence.Role, error) {
	if t.AssignedTo.IsValid() {
		return t.AssignedTo, nil
	}
	if u.Role.IsValid() {
		return u.Role, nil
	}
	return "", ErrNoRole
}

func taskAt(u *persistence.User, taskID string) (*persistence.Task, error) {
	i := u.TaskIndex(taskID)
	if i < 0 {
		return nil, ErrUnknownTask
	}
	return &u.Tasks[i], nil
}
