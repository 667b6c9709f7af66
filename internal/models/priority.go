package models

import "strings"

// Priority is the urgency of a task. The repository stores any value it is
// given; only the presentation boundary restricts it to the known levels.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Priorities lists the known levels from most to least urgent.
var Priorities = []Priority{PriorityHigh, PriorityMedium, PriorityLow}

// ParsePriority normalises user input ("High", " low ") to a Priority.
// The boolean reports whether the value is one of the known levels.
func ParsePriority(s string) (Priority, bool) {
	p := Priority(strings.ToLower(strings.TrimSpace(s)))
	return p, p.Valid()
}

// Valid reports whether p is one of the known levels.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Order returns a numeric value for sorting by priority.
// Lower numbers indicate higher priority.
func (p Priority) Order() int {
	switch p {
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	default:
		return 99
	}
}

// Class is the style key used by the renderers ("priority-high", ...).
func (p Priority) Class() string {
	if !p.Valid() {
		return "priority-unknown"
	}
	return "priority-" + string(p)
}

func (p Priority) String() string {
	return string(p)
}
