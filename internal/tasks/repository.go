// Package tasks holds the Repository: the in-memory owner of the task list
// for a process, kept in step with the persisted collection.
//
// Every mutating operation writes the store first and only then changes the
// in-memory list, so a failed write leaves both sides as they were. Callers
// never perform the two writes themselves.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"stagetasks/internal/events"
	"stagetasks/internal/models"
	"stagetasks/internal/store"
	"stagetasks/internal/telemetry"
)

var (
	// ErrTaskNotFound is returned when no task has the requested id.
	ErrTaskNotFound = errors.New("task not found")

	// ErrStageNotFound is returned when the task has no matching stage.
	ErrStageNotFound = errors.New("stage not found")
)

// Option configures a Repository.
type Option func(*Repository)

// WithLogger sets the logger; the default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Repository) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithPublisher sets where change events go.
func WithPublisher(p events.Publisher) Option {
	return func(r *Repository) {
		if p != nil {
			r.events = p
		}
	}
}

// WithInstruments enables operation metrics.
func WithInstruments(i *telemetry.Instruments) Option {
	return func(r *Repository) {
		r.metrics = i
	}
}

// Repository is the single source of truth for the task set during a session.
// It is safe for concurrent use; operations are serialised. Events are
// published after the lock is released, so two concurrent operations may
// publish in either order.
type Repository struct {
	mu      sync.Mutex
	tasks   []models.Task
	current *int64
	nextID  int64

	store   *store.Adapter
	logger  *slog.Logger
	events  events.Publisher
	metrics *telemetry.Instruments
	tracer  trace.Tracer
}

// New creates a repository and loads the persisted collection. A corrupt
// collection is backed up and the repository starts empty.
func New(ctx context.Context, adapter *store.Adapter, opts ...Option) (*Repository, error) {
	r := &Repository{
		store:  adapter,
		logger: slog.Default(),
		events: events.Noop{},
		tracer: telemetry.Tracer(),
	}
	for _, opt := range opts {
		opt(r)
	}

	if err := r.load(ctx, true); err != nil {
		return nil, err
	}
	return r, nil
}

// List returns every task in creation order.
func (r *Repository) List() []models.Task {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]models.Task, len(r.tasks))
	for i, t := range r.tasks {
		out[i] = t.Clone()
	}
	return out
}

// Get returns the task with id.
func (r *Repository) Get(id int64) (models.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexOf(id)
	if i < 0 {
		return models.Task{}, fmt.Errorf("task %d: %w", id, ErrTaskNotFound)
	}
	return r.tasks[i].Clone(), nil
}

// Add creates a task with incomplete stages and the next id. Title and
// priority are stored as given.
func (r *Repository) Add(ctx context.Context, title string, stages []string, priority models.Priority) (task models.Task, err error) {
	ctx, end := r.begin(ctx, "add")
	defer func() { end(err) }()

	r.mu.Lock()
	task, err = r.addLocked(ctx, title, stages, priority)
	r.mu.Unlock()
	if err != nil {
		return models.Task{}, err
	}

	r.publish(ctx, events.New(events.TaskAdded, task.ID))
	return task, nil
}

func (r *Repository) addLocked(ctx context.Context, title string, stages []string, priority models.Priority) (models.Task, error) {
	task := models.Task{
		ID:       r.nextID,
		Title:    title,
		Stages:   models.NewStages(stages),
		Priority: priority,
	}

	err := r.store.Append(ctx, task)
	if errors.Is(err, store.ErrDuplicateID) {
		// Another process took this id; pick up its tasks and id mark, retry once.
		r.logger.Info("task id taken in store, reloading", "task_id", task.ID)
		if err = r.load(ctx, false); err != nil {
			return models.Task{}, err
		}
		task.ID = r.nextID
		err = r.store.Append(ctx, task)
	}
	if err != nil {
		return models.Task{}, fmt.Errorf("failed to add task: %w", err)
	}

	r.tasks = append(r.tasks, task)
	r.nextID = task.ID + 1
	r.metrics.AddTasks(ctx, 1)

	r.logger.Debug("task added", "task_id", task.ID, "stages", len(task.Stages))
	return task.Clone(), nil
}

// SelectCurrent marks the task with id as the current selection. When no task
// matches, the selection is left unchanged.
func (r *Repository) SelectCurrent(id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.indexOf(id) < 0 {
		return fmt.Errorf("task %d: %w", id, ErrTaskNotFound)
	}
	r.current = &id
	return nil
}

// Current returns the selected task, if any.
func (r *Repository) Current() (models.Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current == nil {
		return models.Task{}, false
	}
	i := r.indexOf(*r.current)
	if i < 0 {
		r.current = nil
		return models.Task{}, false
	}
	return r.tasks[i].Clone(), true
}

// ClearCurrent drops the selection.
func (r *Repository) ClearCurrent() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = nil
}

// Update replaces the title, stages and priority of the task with id. A stage
// label that matches an unused existing stage keeps that stage's id and
// completion; other labels become new incomplete stages.
func (r *Repository) Update(ctx context.Context, id int64, title string, stages []string, priority models.Priority) (err error) {
	ctx, end := r.begin(ctx, "update", attribute.Int64("task.id", id))
	defer func() { end(err) }()

	r.mu.Lock()
	err = r.updateLocked(ctx, id, title, stages, priority)
	r.mu.Unlock()
	if err != nil {
		return err
	}

	r.publish(ctx, events.New(events.TaskUpdated, id))
	return nil
}

func (r *Repository) updateLocked(ctx context.Context, id int64, title string, stages []string, priority models.Priority) error {
	i := r.indexOf(id)
	if i < 0 {
		return fmt.Errorf("task %d: %w", id, ErrTaskNotFound)
	}

	newStages := mergeStages(r.tasks[i].Stages, stages)
	err := r.store.Replace(ctx, id, store.TaskFields{
		Title:    &title,
		Priority: &priority,
		Stages:   newStages,
	})
	if err != nil {
		return r.storeFailed(ctx, id, "update", err)
	}

	r.tasks[i].Title = title
	r.tasks[i].Priority = priority
	r.tasks[i].Stages = newStages
	return nil
}

// Delete removes the task with id. Remaining tasks keep their ids and order.
func (r *Repository) Delete(ctx context.Context, id int64) (err error) {
	ctx, end := r.begin(ctx, "delete", attribute.Int64("task.id", id))
	defer func() { end(err) }()

	r.mu.Lock()
	err = r.deleteLocked(ctx, id)
	r.mu.Unlock()
	if err != nil {
		return err
	}

	r.publish(ctx, events.New(events.TaskDeleted, id))
	return nil
}

func (r *Repository) deleteLocked(ctx context.Context, id int64) error {
	i := r.indexOf(id)
	if i < 0 {
		return fmt.Errorf("task %d: %w", id, ErrTaskNotFound)
	}

	if err := r.store.Remove(ctx, id); err != nil {
		return fmt.Errorf("failed to delete task %d: %w", id, err)
	}

	r.tasks = append(r.tasks[:i], r.tasks[i+1:]...)
	if r.current != nil && *r.current == id {
		r.current = nil
	}
	r.metrics.AddTasks(ctx, -1)
	return nil
}

// ToggleStage flips the completion flag of the stage with stageID and returns
// the updated stage.
func (r *Repository) ToggleStage(ctx context.Context, taskID int64, stageID string) (stage models.Stage, err error) {
	ctx, end := r.begin(ctx, "toggle_stage", attribute.Int64("task.id", taskID))
	defer func() { end(err) }()

	return r.toggle(ctx, taskID, func(t *models.Task) int { return t.Stage(stageID) })
}

// ToggleStageByLabel flips the first stage whose trimmed label equals label.
// Stages sharing a label cannot be told apart this way; prefer ToggleStage.
func (r *Repository) ToggleStageByLabel(ctx context.Context, taskID int64, label string) (stage models.Stage, err error) {
	ctx, end := r.begin(ctx, "toggle_stage_by_label", attribute.Int64("task.id", taskID))
	defer func() { end(err) }()

	return r.toggle(ctx, taskID, func(t *models.Task) int { return t.StageByLabel(label) })
}

// Reload replaces the in-memory list with the persisted collection, for
// example after another process changed it. The reloaded event is published
// only when the list actually changed, so reloads after this process's own
// writes stay silent.
func (r *Repository) Reload(ctx context.Context) (err error) {
	ctx, end := r.begin(ctx, "reload")
	defer func() { end(err) }()

	r.mu.Lock()
	before := r.tasks
	err = r.load(ctx, false)
	changed := !slices.EqualFunc(before, r.tasks, models.Task.Equal)
	r.mu.Unlock()
	if err != nil || !changed {
		return err
	}

	r.publish(ctx, events.New(events.Reloaded, -1))
	return nil
}

func (r *Repository) toggle(ctx context.Context, taskID int64, find func(*models.Task) int) (models.Stage, error) {
	r.mu.Lock()
	stage, err := r.toggleLocked(ctx, taskID, find)
	r.mu.Unlock()
	if err != nil {
		return models.Stage{}, err
	}

	e := events.New(events.StageToggled, taskID)
	e.StageID = stage.ID
	r.publish(ctx, e)
	return stage, nil
}

func (r *Repository) toggleLocked(ctx context.Context, taskID int64, find func(*models.Task) int) (models.Stage, error) {
	i := r.indexOf(taskID)
	if i < 0 {
		return models.Stage{}, fmt.Errorf("task %d: %w", taskID, ErrTaskNotFound)
	}

	task := &r.tasks[i]
	si := find(task)
	if si < 0 {
		return models.Stage{}, fmt.Errorf("task %d: %w", taskID, ErrStageNotFound)
	}
	stageID := task.Stages[si].ID

	if err := r.store.ToggleStage(ctx, taskID, stageID); err != nil {
		return models.Stage{}, r.storeFailed(ctx, taskID, "toggle stage", err)
	}

	task.Stages[si].Complete = !task.Stages[si].Complete
	return task.Stages[si], nil
}

// load rehydrates from the store. Must be called with mu held (or before the
// repository is shared). On startup a corrupt collection is recoverable.
func (r *Repository) load(ctx context.Context, startup bool) error {
	res, err := r.store.Load(ctx)
	if errors.Is(err, store.ErrCorrupt) && startup {
		res = store.LoadResult{Tasks: []models.Task{}}
		backup, berr := r.store.Backup(ctx)
		if berr != nil {
			// Without a backup the value is left in place; writes keep failing.
			r.logger.Error("persisted tasks are unreadable and could not be backed up",
				"err", err, "backup_err", berr)
			err = nil
		} else {
			r.logger.Warn("persisted tasks are unreadable, starting empty",
				"err", err, "backup_key", backup)
			err = r.store.Save(ctx, res.Tasks)
		}
	}
	if err != nil {
		return fmt.Errorf("failed to load tasks: %w", err)
	}

	if res.Migrated {
		if err := r.store.Save(ctx, res.Tasks); err != nil {
			return fmt.Errorf("failed to rewrite migrated tasks: %w", err)
		}
		r.logger.Info("rewrote persisted tasks in the current layout", "tasks", len(res.Tasks))
	}

	next := nextIDFor(res.Tasks)
	if mark, ok, err := r.store.NextID(ctx); err != nil {
		return err
	} else if ok && mark > next {
		next = mark
	}
	if r.nextID > next {
		next = r.nextID
	}

	r.metrics.AddTasks(ctx, int64(len(res.Tasks)-len(r.tasks)))
	r.tasks = res.Tasks
	r.nextID = next
	return nil
}

// storeFailed wraps a failed durable write. When the store no longer has the
// task, memory is stale: reload so the next render shows what is persisted.
func (r *Repository) storeFailed(ctx context.Context, id int64, op string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		r.logger.Warn("task missing from store, reloading", "task_id", id, "op", op)
		if lerr := r.load(ctx, false); lerr != nil {
			r.logger.Error("reload failed", "err", lerr)
		}
		if r.indexOf(id) < 0 {
			return fmt.Errorf("task %d: %w", id, ErrTaskNotFound)
		}
		return fmt.Errorf("task %d: %w", id, ErrStageNotFound)
	}
	return fmt.Errorf("failed to %s task %d: %w", op, id, err)
}

func (r *Repository) indexOf(id int64) int {
	for i := range r.tasks {
		if r.tasks[i].ID == id {
			return i
		}
	}
	return -1
}

// publish is called without mu held.
func (r *Repository) publish(ctx context.Context, e events.Event) {
	if err := r.events.Publish(ctx, e); err != nil {
		r.logger.Warn("failed to publish event", "type", e.Type, "task_id", e.TaskID, "err", err)
	}
}

// begin starts a span for op and returns a function that ends it and records
// the outcome.
func (r *Repository) begin(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	ctx, span := r.tracer.Start(ctx, "tasks."+op, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		r.metrics.RecordOp(ctx, op, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

// nextIDFor is one past the highest id, or 0 for an empty list.
func nextIDFor(tasks []models.Task) int64 {
	if len(tasks) == 0 {
		return 0
	}
	max := tasks[0].ID
	for _, t := range tasks[1:] {
		if t.ID > max {
			max = t.ID
		}
	}
	return max + 1
}

// mergeStages builds the stage list for labels, reusing existing stages with
// the same trimmed label in order.
func mergeStages(existing []models.Stage, labels []string) []models.Stage {
	used := make([]bool, len(existing))
	out := make([]models.Stage, 0, len(labels))

	for _, label := range labels {
		reused := false
		for j, s := range existing {
			if !used[j] && strings.TrimSpace(s.Label) == strings.TrimSpace(label) {
				used[j] = true
				s.Label = label
				out = append(out, s)
				reused = true
				break
			}
		}
		if !reused {
			out = append(out, models.NewStage(label))
		}
	}
	return out
}
