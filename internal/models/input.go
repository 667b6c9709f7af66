package models

import (
	"sort"
	"strings"
)

// MaxStageLabel bounds a single stage label.
const MaxStageLabel = 255

// TaskInput is the payload collected from an entry form. Title and Priority
// are required; Stages is optional.
type TaskInput struct {
	Title    string
	Priority string
	Stages   []string
}

// FieldErrors maps a form field name to a user-facing message.
type FieldErrors map[string]string

// Error joins the messages in field order so output is stable.
func (fe FieldErrors) Error() string {
	fields := make([]string, 0, len(fe))
	for f := range fe {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	msgs := make([]string, 0, len(fields))
	for _, f := range fields {
		msgs = append(msgs, fe[f])
	}
	return strings.Join(msgs, "; ")
}

// Validate returns nil when the input can be submitted, or the per-field
// messages to show inline.
func (in TaskInput) Validate() FieldErrors {
	errs := FieldErrors{}

	if strings.TrimSpace(in.Title) == "" {
		errs["title"] = "title is required"
	}

	if strings.TrimSpace(in.Priority) == "" {
		errs["priority"] = "priority is required"
	} else if _, ok := ParsePriority(in.Priority); !ok {
		errs["priority"] = "priority must be 'high', 'medium', or 'low'"
	}

	for _, s := range in.Stages {
		if len(strings.TrimSpace(s)) > MaxStageLabel {
			errs["stages"] = "stages must be 255 characters or fewer"
			break
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}

// CleanTitle is the trimmed title.
func (in TaskInput) CleanTitle() string {
	return strings.TrimSpace(in.Title)
}

// CleanPriority is the normalised priority.
func (in TaskInput) CleanPriority() Priority {
	p, _ := ParsePriority(in.Priority)
	return p
}

// CleanStages trims labels and drops blank entries, keeping order.
func (in TaskInput) CleanStages() []string {
	labels := make([]string, 0, len(in.Stages))
	for _, s := range in.Stages {
		if s = strings.TrimSpace(s); s != "" {
			labels = append(labels, s)
		}
	}
	return labels
}

// InputFromTask fills a form payload from an existing task (edit mode).
func InputFromTask(t Task) TaskInput {
	return TaskInput{
		Title:    t.Title,
		Priority: string(t.Priority),
		Stages:   t.Labels(),
	}
}
