// Package events describes repository changes and delivers them to
// interested parties (browsers, other processes).
package events

import (
	"context"
	"errors"
	"time"
)

// Type names a kind of repository change.
type Type string

const (
	TaskAdded    Type = "task.added"
	TaskUpdated  Type = "task.updated"
	TaskDeleted  Type = "task.deleted"
	StageToggled Type = "stage.toggled"
	Reloaded     Type = "tasks.reloaded"
)

// Event is one repository change.
type Event struct {
	Type    Type      `json:"type"`
	TaskID  int64     `json:"task_id"`
	StageID string    `json:"stage_id,omitempty"`
	At      time.Time `json:"at"`

	// Source identifies the publishing process on shared transports.
	Source string `json:"source,omitempty"`
}

// New stamps an event with the current time.
func New(t Type, taskID int64) Event {
	return Event{Type: t, TaskID: taskID, At: time.Now().UTC()}
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Noop discards events.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }

// Multi fans an event out to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, e Event) error

func (f PublisherFunc) Publish(ctx context.Context, e Event) error { return f(ctx, e) }
