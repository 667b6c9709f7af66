package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"stagetasks/internal/models"
)

// DefaultKey is the key holding the serialized task collection.
const DefaultKey = "items"

// ErrDuplicateID is returned by Append when the id was already handed out:
// the collection holds it, or the persisted mark has moved past it.
var ErrDuplicateID = errors.New("task id already exists in store")

// Adapter mirrors the task collection into a KV under a single key. Every
// mutation is a read-modify-write of the whole collection through KV.Update.
type Adapter struct {
	kv  KV
	key string
}

// NewAdapter creates an adapter for key; an empty key uses DefaultKey.
func NewAdapter(kv KV, key string) *Adapter {
	if key == "" {
		key = DefaultKey
	}
	return &Adapter{kv: kv, key: key}
}

// Key is the key holding the collection.
func (a *Adapter) Key() string {
	return a.key
}

func (a *Adapter) seqKey() string {
	return a.key + ":next_id"
}

// TaskFields lists the fields Replace overwrites; nil fields are left alone.
type TaskFields struct {
	Title    *string
	Priority *models.Priority
	Stages   []models.Stage
}

// LoadResult is the rehydrated collection. Migrated is set when the stored
// value used an older layout and should be written back with Save.
type LoadResult struct {
	Tasks    []models.Task
	Migrated bool
}

// Load reads the collection. A missing key yields an empty collection; an
// unreadable value yields an error wrapping ErrCorrupt.
func (a *Adapter) Load(ctx context.Context) (LoadResult, error) {
	data, err := a.kv.Get(ctx, a.key)
	if errors.Is(err, ErrKeyNotFound) {
		return LoadResult{Tasks: []models.Task{}}, nil
	}
	if err != nil {
		return LoadResult{}, fmt.Errorf("failed to load tasks: %w", err)
	}

	tasks, migrated, err := decodeTasks(data)
	if err != nil {
		return LoadResult{}, err
	}
	return LoadResult{Tasks: tasks, Migrated: migrated}, nil
}

// Save replaces the whole collection.
func (a *Adapter) Save(ctx context.Context, tasks []models.Task) error {
	data, err := encodeTasks(tasks)
	if err != nil {
		return err
	}
	if err := a.kv.Set(ctx, a.key, data); err != nil {
		return fmt.Errorf("failed to save tasks: %w", err)
	}
	return nil
}

// Append claims task's id against the persisted mark and adds the task to
// the end of the collection. An id below the mark was assigned before, even
// if that task has since been deleted, and is rejected with ErrDuplicateID.
func (a *Adapter) Append(ctx context.Context, task models.Task) error {
	if err := a.claimID(ctx, task.ID); err != nil {
		return err
	}

	return a.mutate(ctx, func(tasks []models.Task) ([]models.Task, error) {
		for _, t := range tasks {
			if t.ID == task.ID {
				return nil, fmt.Errorf("%w: %d", ErrDuplicateID, task.ID)
			}
		}
		return append(tasks, task.Clone()), nil
	})
}

// Replace overwrites the given fields of the task with id.
func (a *Adapter) Replace(ctx context.Context, id int64, fields TaskFields) error {
	return a.mutate(ctx, func(tasks []models.Task) ([]models.Task, error) {
		for i := range tasks {
			if tasks[i].ID != id {
				continue
			}
			if fields.Title != nil {
				tasks[i].Title = *fields.Title
			}
			if fields.Priority != nil {
				tasks[i].Priority = *fields.Priority
			}
			if fields.Stages != nil {
				tasks[i].Stages = append([]models.Stage{}, fields.Stages...)
			}
			return tasks, nil
		}
		return nil, fmt.Errorf("task %d: %w", id, ErrNotFound)
	})
}

// Remove drops the task with id. Removing a missing id is a no-op.
func (a *Adapter) Remove(ctx context.Context, id int64) error {
	return a.mutate(ctx, func(tasks []models.Task) ([]models.Task, error) {
		kept := tasks[:0]
		for _, t := range tasks {
			if t.ID != id {
				kept = append(kept, t)
			}
		}
		return kept, nil
	})
}

// ToggleStage flips the completion flag of one stage.
func (a *Adapter) ToggleStage(ctx context.Context, taskID int64, stageID string) error {
	return a.mutate(ctx, func(tasks []models.Task) ([]models.Task, error) {
		for i := range tasks {
			if tasks[i].ID != taskID {
				continue
			}
			idx := tasks[i].Stage(stageID)
			if idx < 0 {
				return nil, fmt.Errorf("stage %s of task %d: %w", stageID, taskID, ErrNotFound)
			}
			tasks[i].Stages[idx].Complete = !tasks[i].Stages[idx].Complete
			return tasks, nil
		}
		return nil, fmt.Errorf("task %d: %w", taskID, ErrNotFound)
	})
}

// NextID returns the persisted id mark. ok is false when none was recorded.
func (a *Adapter) NextID(ctx context.Context) (next int64, ok bool, err error) {
	data, err := a.kv.Get(ctx, a.seqKey())
	if errors.Is(err, ErrKeyNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read id mark: %w", err)
	}

	next, err = strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		// An unreadable mark is recomputed from the collection.
		return 0, false, nil
	}
	return next, true, nil
}

// Backup copies the raw stored value to a timestamped key and returns it.
func (a *Adapter) Backup(ctx context.Context) (string, error) {
	data, err := a.kv.Get(ctx, a.key)
	if err != nil {
		return "", fmt.Errorf("failed to read tasks for backup: %w", err)
	}

	backupKey := fmt.Sprintf("%s:corrupt:%d", a.key, time.Now().Unix())
	if err := a.kv.Set(ctx, backupKey, data); err != nil {
		return "", fmt.Errorf("failed to write backup: %w", err)
	}
	return backupKey, nil
}

// claimID moves the mark to id+1 in one atomic update, so two writers can
// never both take the same id.
func (a *Adapter) claimID(ctx context.Context, id int64) error {
	err := a.kv.Update(ctx, a.seqKey(), func(cur []byte, exists bool) ([]byte, error) {
		if exists {
			if n, err := strconv.ParseInt(string(cur), 10, 64); err == nil && n > id {
				return nil, fmt.Errorf("%w: %d (next is %d)", ErrDuplicateID, id, n)
			}
		}
		return []byte(strconv.FormatInt(id+1, 10)), nil
	})
	if err != nil && !errors.Is(err, ErrDuplicateID) {
		return fmt.Errorf("failed to record id mark: %w", err)
	}
	return err
}

// mutate decodes the current collection, applies fn and writes the result
// back atomically.
func (a *Adapter) mutate(ctx context.Context, fn func([]models.Task) ([]models.Task, error)) error {
	return a.kv.Update(ctx, a.key, func(cur []byte, exists bool) ([]byte, error) {
		tasks := []models.Task{}
		if exists {
			var err error
			tasks, _, err = decodeTasks(cur)
			if err != nil {
				return nil, err
			}
		}

		next, err := fn(tasks)
		if err != nil {
			return nil, err
		}
		return encodeTasks(next)
	})
}
