package models

import (
	"slices"
	"strings"

	"github.com/google/uuid"
)

// Task represents one tracked work item.
type Task struct {
	ID       int64    `json:"id" yaml:"id"`
	Title    string   `json:"title" yaml:"title"`
	Stages   []Stage  `json:"stages" yaml:"stages"`
	Priority Priority `json:"priority" yaml:"priority"`
}

// Stage is one sub-step of a task. The JSON key for the label stays "stage"
// so collections written by earlier versions still decode.
type Stage struct {
	ID       string `json:"id" yaml:"id"`
	Label    string `json:"stage" yaml:"stage"`
	Complete bool   `json:"complete" yaml:"complete"`
}

// NewStage creates an incomplete stage with a fresh identifier.
func NewStage(label string) Stage {
	return Stage{ID: uuid.NewString(), Label: label}
}

// NewStages creates incomplete stages for the given labels, preserving order.
func NewStages(labels []string) []Stage {
	stages := make([]Stage, 0, len(labels))
	for _, label := range labels {
		stages = append(stages, NewStage(label))
	}
	return stages
}

// Clone returns a deep copy so stages are never shared between tasks.
func (t Task) Clone() Task {
	c := t
	if t.Stages != nil {
		c.Stages = make([]Stage, len(t.Stages))
		copy(c.Stages, t.Stages)
	}
	return c
}

// Equal reports whether both tasks have the same fields and stages.
func (t Task) Equal(o Task) bool {
	return t.ID == o.ID && t.Title == o.Title && t.Priority == o.Priority &&
		slices.Equal(t.Stages, o.Stages)
}

// Stage returns the index of the stage with the given id, or -1.
func (t *Task) Stage(id string) int {
	for i := range t.Stages {
		if t.Stages[i].ID == id {
			return i
		}
	}
	return -1
}

// StageByLabel returns the index of the first stage whose label equals the
// trimmed label, or -1. Duplicate labels resolve to the first match.
func (t *Task) StageByLabel(label string) int {
	label = strings.TrimSpace(label)
	for i := range t.Stages {
		if strings.TrimSpace(t.Stages[i].Label) == label {
			return i
		}
	}
	return -1
}

// Progress returns the number of completed stages and the total.
func (t *Task) Progress() (done, total int) {
	for _, s := range t.Stages {
		if s.Complete {
			done++
		}
	}
	return done, len(t.Stages)
}

// Done reports whether the task has stages and all of them are complete.
func (t *Task) Done() bool {
	done, total := t.Progress()
	return total > 0 && done == total
}

// Labels returns the stage labels in order.
func (t *Task) Labels() []string {
	labels := make([]string, len(t.Stages))
	for i, s := range t.Stages {
		labels[i] = s.Label
	}
	return labels
}
