// Package ui renders a member's Kanban board for the terminal.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/basket/wolfpack/internal/persistence"
)

var (
	cPrimary = lipgloss.Color("63")  // blue
	cAccent  = lipgloss.Color("205") // magenta
	cGood    = lipgloss.Color("42")  // green
	cWarn    = lipgloss.Color("214") // orange
	cBad     = lipgloss.Color("196") // red
	cMuted   = lipgloss.Color("244") // gray
	cGold    = lipgloss.Color("220") // gold
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(cAccent)
	keyStyle    = lipgloss.NewStyle().Bold(true).Foreground(cPrimary)
	mutedStyle  = lipgloss.NewStyle().Foreground(cMuted)
	goldStyle   = lipgloss.NewStyle().Bold(true).Foreground(cGold)
	overdueText = lipgloss.NewStyle().Bold(true).Foreground(cBad)
	panelStyle  = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(cMuted).Padding(0, 1).Width(columnWidth)

	columnTitle = map[persistence.TaskStatus]lipgloss.Style{
		persistence.TaskStatusTodo:       lipgloss.NewStyle().Bold(true).Foreground(cWarn),
		persistence.TaskStatusInProgress: lipgloss.NewStyle().Bold(true).Foreground(cPrimary),
		persistence.TaskStatusDone:       lipgloss.NewStyle().Bold(true).Foreground(cGood),
	}
)

const columnWidth = 30

var columns = []struct {
	status persistence.TaskStatus
	label  string
}{
	{persistence.TaskStatusTodo, "TODO"},
	{persistence.TaskStatusInProgress, "IN PROGRESS"},
	{persistence.TaskStatusDone, "DONE"},
}

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Options controls board rendering.
type Options struct {
	// Color enables lipgloss styling. Plain text is used otherwise.
	Color bool
	// Events is how many recent feed entries to show. 0 hides the feed.
	Events int
	Now    time.Time
}

// RenderBoard renders u's header, task columns and recent activity.
func RenderBoard(u *persistence.User, opts Options) string {
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}
	if !opts.Color {
		return renderPlain(u, opts)
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(displayName(u)))
	b.WriteString("\n")
	b.WriteString(headerLine(u, keyStyle.Render, goldStyle.Render))
	b.WriteString("\n\n")

	panels := make([]string, 0, len(columns))
	for _, col := range columns {
		var lines []string
		lines = append(lines, columnTitle[col.status].Render(col.label))
		tasks := tasksIn(u, col.status)
		if len(tasks) == 0 {
			lines = append(lines, mutedStyle.Render("(empty)"))
		}
		for _, t := range tasks {
			line := "• " + t.Title
			if meta := taskMeta(t, opts.Now); meta != "" {
				line += "\n  " + mutedStyle.Render(meta)
			}
			if isOverdue(t, opts.Now) {
				line += " " + overdueText.Render("OVERDUE")
			}
			lines = append(lines, line)
		}
		panels = append(panels, panelStyle.Render(strings.Join(lines, "\n")))
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, panels...))
	b.WriteString("\n")

	if events := recentEvents(u, opts.Events); len(events) > 0 {
		b.WriteString("\n")
		b.WriteString(keyStyle.Render("Recent activity"))
		b.WriteString("\n")
		for _, ev := range events {
			fmt.Fprintf(&b, "%s %s\n", mutedStyle.Render(ev.At.Format("Jan 02 15:04")), ev.Message)
		}
	}
	return b.String()
}

func renderPlain(u *persistence.User, opts Options) string {
	identity := func(s ...string) string { return strings.Join(s, " ") }

	var b strings.Builder
	b.WriteString(displayName(u))
	b.WriteString("\n")
	b.WriteString(headerLine(u, identity, identity))
	b.WriteString("\n")
	for _, col := range columns {
		tasks := tasksIn(u, col.status)
		fmt.Fprintf(&b, "\n%s (%d)\n", col.label, len(tasks))
		for _, t := range tasks {
			line := "  - " + t.Title
			if meta := taskMeta(t, opts.Now); meta != "" {
				line += " [" + meta + "]"
			}
			if isOverdue(t, opts.Now) {
				line += " OVERDUE"
			}
			b.WriteString(line)
			b.WriteString("\n")
		}
	}
	if events := recentEvents(u, opts.Events); len(events) > 0 {
		b.WriteString("\nRecent activity\n")
		for _, ev := range events {
			fmt.Fprintf(&b, "  %s %s\n", ev.At.Format("Jan 02 15:04"), ev.Message)
		}
	}
	return b.String()
}

func displayName(u *persistence.User) string {
	if u.Name != "" {
		return u.Name
	}
	return u.Email
}

func headerLine(u *persistence.User, key, gold func(...string) string) string {
	role := string(u.Role)
	if role == "" {
		role = "unassigned"
	}
	rec := u.RoleHistory
	return fmt.Sprintf("%s %s  %s %s  %s %.1f (%d)  %s L%d%% F%d%% S%d%%",
		key("role:"), role,
		key("ivp:"), gold(fmt.Sprint(u.IVP)),
		key("rating:"), u.Rating.Average, u.Rating.Count,
		key("efficiency:"), rec.Labor.Efficiency, rec.Finance.Efficiency, rec.Sales.Efficiency,
	)
}

func tasksIn(u *persistence.User, status persistence.TaskStatus) []persistence.Task {
	var out []persistence.Task
	for _, t := range u.Tasks {
		if t.Status == status {
			out = append(out, t)
		}
	}
	return out
}

func taskMeta(t persistence.Task, now time.Time) string {
	var parts []string
	if t.AssignedTo != "" {
		parts = append(parts, string(t.AssignedTo))
	}
	if t.GrindCount > 0 {
		parts = append(parts, fmt.Sprintf("grind %d", t.GrindCount))
	}
	if t.Status == persistence.TaskStatusDone {
		if t.AwardedIVP != 0 {
			parts = append(parts, fmt.Sprintf("%+d ivp", t.AwardedIVP))
		}
	} else if t.Deadline != nil {
		parts = append(parts, "due "+t.Deadline.In(now.Location()).Format("Jan 02"))
	}
	return strings.Join(parts, ", ")
}

func isOverdue(t persistence.Task, now time.Time) bool {
	return t.Status != persistence.TaskStatusDone && t.Deadline != nil && t.Deadline.Before(now)
}

// recentEvents returns the newest n events, newest first.
func recentEvents(u *persistence.User, n int) []persistence.Event {
	if n <= 0 || len(u.Events) == 0 {
		return nil
	}
	n = min(n, len(u.Events))
	out := make([]persistence.Event, 0, n)
	for i := len(u.Events) - 1; i >= len(u.Events)-n; i-- {
		out = append(out, u.Events[i])
	}
	return out
}
