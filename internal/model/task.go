// Package model defines the domain types shared by the sync layer: tasks,
// family members and their closed enums. Parsers are tolerant by design so a
// partially migrated remote schema never takes down a batch load.
package model

import (
	"time"

	"github.com/google/uuid"
)

// Recurrence describes how often a task repeats.
type Recurrence string

const (
	// RecurrenceOnce means the task runs a single time.
	RecurrenceOnce Recurrence = "once"

	// RecurrenceDaily means the task is reset every day.
	RecurrenceDaily Recurrence = "daily"

	// RecurrenceWeekly means the task is reset every week.
	RecurrenceWeekly Recurrence = "weekly"

	// RecurrenceMonthly means the task is reset every month.
	RecurrenceMonthly Recurrence = "monthly"
)

// ParseRecurrence maps a raw string onto the closed recurrence set.
// Unknown values return false rather than an error; callers treat the
// enclosing record as absent.
func ParseRecurrence(raw string) (Recurrence, bool) {
	switch r := Recurrence(raw); r {
	case RecurrenceOnce, RecurrenceDaily, RecurrenceWeekly, RecurrenceMonthly:
		return r, true
	default:
		return "", false
	}
}

// Task is a single to-do item on the shared family list.
type Task struct {
	ID         uuid.UUID
	Title      string
	AssignedTo *uuid.UUID
	DueDate    *time.Time
	Done       bool
	Recurrence Recurrence
	CreatedAt  time.Time
	Deadline   *time.Time
}

// NewTask creates a task with a fresh identifier and creation timestamp.
func NewTask(title string, assignedTo *uuid.UUID, recurrence Recurrence, deadline *time.Time) Task {
	return Task{
		ID:         uuid.New(),
		Title:      title,
		AssignedTo: assignedTo,
		Recurrence: recurrence,
		CreatedAt:  time.Now().UTC().Truncate(time.Millisecond),
		Deadline:   deadline,
	}
}

// Equal compares all task fields, including optional ones.
func (t Task) Equal(other Task) bool {
	return t.ID == other.ID &&
		t.Title == other.Title &&
		uuidPtrEqual(t.AssignedTo, other.AssignedTo) &&
		timePtrEqual(t.DueDate, other.DueDate) &&
		t.Done == other.Done &&
		t.Recurrence == other.Recurrence &&
		t.CreatedAt.Equal(other.CreatedAt) &&
		timePtrEqual(t.Deadline, other.Deadline)
}

func uuidPtrEqual(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// DefaultTasks is the fixed set re-seeded after every daily reset. The
// assignee is the first child member, or the first member when no child
// exists; nil leaves the tasks unassigned.
func DefaultTasks(assignee *uuid.UUID) []Task {
	return []Task{
		NewTask("Do the dishes", assignee, RecurrenceDaily, nil),
		NewTask("Take out trash", assignee, RecurrenceDaily, nil),
		NewTask("Clean your room", assignee, RecurrenceWeekly, nil),
	}
}
