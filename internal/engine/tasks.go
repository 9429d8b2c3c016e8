package engine

import (
	"context"
	"strings"
	"time"

	otelPkg "github.com/basket/wolfpack/internal/otel"
	"github.com/basket/wolfpack/internal/persistence"
	"github.com/basket/wolfpack/internal/scoring"
)

// TaskUpdate is a partial task edit. Nil fields are left unchanged.
type TaskUpdate struct {
	TaskID     string   `json:"taskId"`
	Status     *string  `json:"status,omitempty"`
	AssignedTo *string  `json:"assignedTo,omitempty"`
	Method     *string  `json:"method,omitempty"`
	Budget     *float64 `json:"budget,omitempty"`
	ActualCost *float64 `json:"actualCost,omitempty"`
	// Deadline is RFC 3339. An empty string clears it.
	Deadline *string `json:"deadline,omitempty"`
}

// TaskResult is returned by task mutations.
type TaskResult struct {
	Task  persistence.Task  `json:"task"`
	Delta int               `json:"delta"`
	User  *persistence.User `json:"user"`
}

// Tasks lists the caller's tasks, optionally filtered by status.
func (s *Service) Tasks(ctx context.Context, userID, status string) ([]persistence.Task, error) {
	u, err := s.get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(status) == "" {
		return u.Tasks, nil
	}
	want, ok := persistence.ParseTaskStatus(status)
	if !ok {
		return nil, invalidf("unknown status %q", status)
	}
	out := make([]persistence.Task, 0, len(u.Tasks))
	for _, t := range u.Tasks {
		if t.Status == want {
			out = append(out, t)
		}
	}
	return out, nil
}

// Grind records effort on a task.
func (s *Service) Grind(ctx context.Context, userID, taskID string) (_ *TaskResult, err error) {
	ctx, span := s.startSpan(ctx, "grind", userID, otelPkg.AttrTaskID.String(taskID))
	defer func() { otelPkg.EndSpan(span, err) }()

	var res scoring.GrindResult
	u, err := s.mutate(ctx, userID, func(u *persistence.User, f *feed) error {
		var gerr error
		res, gerr = s.rules.Grind(u, taskID)
		if gerr != nil {
			return gerr
		}
		t := u.Tasks[u.TaskIndex(taskID)]
		f.add(u, s.maxEvents, s.event("task_grind", taskID, 0,
			"Ground on %q (%d so far).", t.Title, t.GrindCount))
		return nil
	})
	if err != nil {
		return nil, err
	}
	span.SetAttributes(otelPkg.AttrRole.String(string(res.Role)))
	s.metrics.RecordGrind(ctx, string(res.Role))
	return &TaskResult{Task: u.Tasks[u.TaskIndex(taskID)], User: u.Public()}, nil
}

// UpdateTask applies metadata edits first and then the status change, so a
// cost submitted together with completion is scored.
func (s *Service) UpdateTask(ctx context.Context, userID string, upd TaskUpdate) (_ *TaskResult, err error) {
	ctx, span := s.startSpan(ctx, "update_task", userID, otelPkg.AttrTaskID.String(upd.TaskID))
	defer func() { otelPkg.EndSpan(span, err) }()

	var status persistence.TaskStatus
	if upd.Status != nil {
		var ok bool
		if status, ok = persistence.ParseTaskStatus(*upd.Status); !ok {
			return nil, invalidf("unknown status %q", *upd.Status)
		}
	}
	var role persistence.Role
	if upd.AssignedTo != nil {
		role = persistence.Role(strings.ToLower(strings.TrimSpace(*upd.AssignedTo)))
		if role != "" && !role.IsValid() {
			return nil, invalidf("unknown role %q", *upd.AssignedTo)
		}
	}
	if upd.Budget != nil && *upd.Budget < 0 {
		return nil, invalidf("budget must be >= 0")
	}
	if upd.ActualCost != nil && *upd.ActualCost < 0 {
		return nil, invalidf("actualCost must be >= 0")
	}
	var deadline *time.Time
	if upd.Deadline != nil && strings.TrimSpace(*upd.Deadline) != "" {
		d, perr := time.Parse(time.RFC3339, strings.TrimSpace(*upd.Deadline))
		if perr != nil {
			return nil, invalidf("deadline must be RFC 3339")
		}
		d = d.UTC()
		deadline = &d
	}

	var out scoring.Outcome
	u, err := s.mutate(ctx, userID, func(u *persistence.User, f *feed) error {
		i := u.TaskIndex(upd.TaskID)
		if i < 0 {
			return notFoundf("task %q", upd.TaskID)
		}
		t := &u.Tasks[i]
		if upd.AssignedTo != nil {
			t.AssignedTo = role
		}
		if upd.Method != nil {
			t.Method = strings.TrimSpace(*upd.Method)
		}
		if upd.Budget != nil {
			t.Budget = *upd.Budget
		}
		if upd.ActualCost != nil {
			t.ActualCost = *upd.ActualCost
		}
		if upd.Deadline != nil {
			t.Deadline = deadline
			t.OverdueNotified = false
		}
		if upd.Status == nil {
			out = scoring.Outcome{}
			return nil
		}

		var serr error
		out, serr = s.rules.SetStatus(u, upd.TaskID, status, s.now())
		if serr != nil {
			return serr
		}
		title := u.Tasks[i].Title
		switch out.Transition {
		case scoring.TransitionComplete:
			f.add(u, s.maxEvents, s.event("task_completed", upd.TaskID, out.Points,
				"Killed %q for %+d IVP.", title, out.Points))
		case scoring.TransitionReopen:
			f.add(u, s.maxEvents, s.event("task_reopened", upd.TaskID, out.Points,
				"Reopened %q (%+d IVP).", title, out.Points))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	switch out.Transition {
	case scoring.TransitionComplete:
		s.metrics.RecordKill(ctx, string(out.Role), out.Points)
	case scoring.TransitionReopen:
		s.metrics.RecordReopen(ctx, string(out.Role), -out.Points)
	}
	if out.Transition != scoring.TransitionNone {
		span.SetAttributes(otelPkg.AttrRole.String(string(out.Role)), otelPkg.AttrIVPDelta.Int(out.Points))
		s.log(ctx).Info("task scored", "user_id", userID, "task_id", upd.TaskID, "delta", out.Points)
	}
	return &TaskResult{Task: u.Tasks[u.TaskIndex(upd.TaskID)], Delta: out.Points, User: u.Public()}, nil
}
