package persistence

import (
	"encoding/json"
	"math"
	"slices"
	"strings"
	"time"
)

// Role is a player's business role, chosen through a role card.
type Role string

const (
	RoleLabor   Role = "labor"
	RoleFinance Role = "finance"
	RoleSales   Role = "sales"
)

// Roles lists every valid role in display order.
var Roles = []Role{RoleLabor, RoleFinance, RoleSales}

func (r Role) IsValid() bool {
	switch r {
	case RoleLabor, RoleFinance, RoleSales:
		return true
	default:
		return false
	}
}

// Stat names a public or self-assessed stat.
type Stat string

const (
	StatBuild   Stat = "build"
	StatFund    Stat = "fund"
	StatConnect Stat = "connect"
)

// StatForRole maps a role to the public stat it feeds.
func StatForRole(r Role) Stat {
	switch r {
	case RoleFinance:
		return StatFund
	case RoleSales:
		return StatConnect
	default:
		return StatBuild
	}
}

// TaskStatus is a Kanban column.
type TaskStatus string

const (
	TaskStatusTodo       TaskStatus = "todo"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusDone       TaskStatus = "done"
)

// ParseTaskStatus normalizes client input. "doing" is accepted as an alias of
// in_progress.
func ParseTaskStatus(raw string) (TaskStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "todo":
		return TaskStatusTodo, true
	case "in_progress", "doing", "in-progress":
		return TaskStatusInProgress, true
	case "done":
		return TaskStatusDone, true
	default:
		return "", false
	}
}

// UserKind separates registered members from catalog-seeded candidates.
type UserKind string

const (
	KindMember    UserKind = "member"
	KindCandidate UserKind = "candidate"
)

// Task is one card on a user's board.
type Task struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Status     TaskStatus `json:"status"`
	AssignedTo Role       `json:"assignedTo,omitempty"`
	Method     string     `json:"method,omitempty"`
	Budget     float64    `json:"budget"`
	ActualCost float64    `json:"actualCost"`
	Deadline   *time.Time `json:"deadline,omitempty"`
	GrindCount int        `json:"grindCount"`

	// Bookkeeping for reversible scoring.
	AwardedIVP      int        `json:"awardedIvp,omitempty"`
	ScoredRole      Role       `json:"scoredRole,omitempty"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
	OverdueNotified bool       `json:"overdueNotified,omitempty"`
}

// RoleRecord tracks effort and completions for one role.
type RoleRecord struct {
	Grind      int `json:"grind"`
	Kill       int `json:"kill"`
	Efficiency int `json:"efficiency"`
}

// RoleHistory holds a RoleRecord per role.
type RoleHistory struct {
	Labor   RoleRecord `json:"labor"`
	Finance RoleRecord `json:"finance"`
	Sales   RoleRecord `json:"sales"`
}

// For returns the record for r. Unknown roles resolve to labor.
func (h *RoleHistory) For(r Role) *RoleRecord {
	switch r {
	case RoleFinance:
		return &h.Finance
	case RoleSales:
		return &h.Sales
	default:
		return &h.Labor
	}
}

// Stats is the build/fund/connect triple.
type Stats struct {
	Build   float64 `json:"build"`
	Fund    float64 `json:"fund"`
	Connect float64 `json:"connect"`
}

func (s *Stats) Get(st Stat) float64 {
	return *s.ptr(st)
}

func (s *Stats) Set(st Stat, v float64) {
	*s.ptr(st) = v
}

func (s *Stats) ptr(st Stat) *float64 {
	switch st {
	case StatFund:
		return &s.Fund
	case StatConnect:
		return &s.Connect
	default:
		return &s.Build
	}
}

// Event is an entry in a user's activity feed.
type Event struct {
	ID      string    `json:"id"`
	Type    string    `json:"type"`
	Message string    `json:"message"`
	TaskID  string    `json:"taskId,omitempty"`
	Delta   int       `json:"delta,omitempty"`
	At      time.Time `json:"at"`
}

// Rating is the mean of peer scores. Sum and Count are authoritative;
// Average is kept unrounded and only rounded when encoded.
type Rating struct {
	Average float64 `json:"average"`
	Count   int     `json:"count"`
	Sum     int     `json:"sum"`
}

func (r Rating) MarshalJSON() ([]byte, error) {
	type plain Rating
	p := plain(r)
	p.Average = math.Round(p.Average*100) / 100
	return json.Marshal(p)
}

// User is the per-user document every handler reads and mutates.
type User struct {
	ID                string      `json:"id"`
	Kind              UserKind    `json:"kind"`
	Email             string      `json:"email,omitempty"`
	Name              string      `json:"name"`
	City              string      `json:"city,omitempty"`
	Skills            []string    `json:"skills,omitempty"`
	Bio               string      `json:"bio,omitempty"`
	PasswordHash      string      `json:"passwordHash,omitempty"`
	Role              Role        `json:"role,omitempty"`
	SelectedCardID    string      `json:"selected_card_id,omitempty"`
	SelectedProductID string      `json:"selected_product_id,omitempty"`
	IVP               int         `json:"ivp"`
	Tasks             []Task      `json:"tasks"`
	RoleHistory       RoleHistory `json:"roleHistory"`
	PublicStats       Stats       `json:"publicStats"`
	SelfStats         Stats       `json:"selfStats"`
	Wolfpack          []string    `json:"wolfpack"`
	Events            []Event     `json:"events"`
	OnboardingStep    int         `json:"onboardingStep"`
	Rating            Rating      `json:"rating"`
	CreatedAt         time.Time   `json:"createdAt"`
	UpdatedAt         time.Time   `json:"updatedAt"`
}

// TaskIndex returns the index of the task with the given id, or -1.
func (u *User) TaskIndex(id string) int {
	for i := range u.Tasks {
		if u.Tasks[i].ID == id {
			return i
		}
	}
	return -1
}

// InPack reports whether wolfID is in the user's wolfpack.
func (u *User) InPack(wolfID string) bool {
	for _, id := range u.Wolfpack {
		if id == wolfID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so store callers never share mutable state.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	c.Skills = slices.Clone(u.Skills)
	c.Wolfpack = slices.Clone(u.Wolfpack)
	c.Events = slices.Clone(u.Events)
	c.Tasks = slices.Clone(u.Tasks)
	for i, t := range c.Tasks {
		if t.Deadline != nil {
			d := *t.Deadline
			c.Tasks[i].Deadline = &d
		}
		if t.CompletedAt != nil {
			d := *t.CompletedAt
			c.Tasks[i].CompletedAt = &d
		}
	}
	return &c
}

// Public returns a copy safe to serialize to clients.
func (u *User) Public() *User {
	c := u.Clone()
	if c != nil {
		c.PasswordHash = ""
	}
	return c
}

// NormalizeEmail lower-cases and trims an email address for lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
