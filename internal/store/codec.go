package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"stagetasks/internal/models"
)

// storedTask is the persisted record. The first layout kept three fixed stage
// fields; those are read so old collections still load.
type storedTask struct {
	ID       int64           `json:"id"`
	Title    string          `json:"title"`
	Stages   []models.Stage  `json:"stages"`
	Priority models.Priority `json:"priority"`

	Stage1 *string `json:"stage1,omitempty"`
	Stage2 *string `json:"stage2,omitempty"`
	Stage3 *string `json:"stage3,omitempty"`
}

// decodeTasks parses a persisted collection. migrated reports that the result
// differs from the stored bytes (legacy records converted, stage ids assigned)
// and should be written back.
func decodeTasks(data []byte) (tasks []models.Task, migrated bool, err error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return []models.Task{}, false, nil
	}

	var records []storedTask
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	tasks = make([]models.Task, 0, len(records))
	for _, r := range records {
		task := models.Task{
			ID:       r.ID,
			Title:    r.Title,
			Stages:   r.Stages,
			Priority: r.Priority,
		}

		if r.Stages == nil && (r.Stage1 != nil || r.Stage2 != nil || r.Stage3 != nil) {
			task.Stages = legacyStages(r.Stage1, r.Stage2, r.Stage3)
			if p, ok := models.ParsePriority(string(r.Priority)); ok {
				task.Priority = p
			}
			migrated = true
		}
		if task.Stages == nil {
			task.Stages = []models.Stage{}
		}

		for i := range task.Stages {
			if task.Stages[i].ID == "" {
				task.Stages[i].ID = uuid.NewString()
				migrated = true
			}
		}

		tasks = append(tasks, task)
	}

	return tasks, migrated, nil
}

func legacyStages(fields ...*string) []models.Stage {
	stages := []models.Stage{}
	for _, f := range fields {
		if f == nil || strings.TrimSpace(*f) == "" {
			continue
		}
		stages = append(stages, models.NewStage(*f))
	}
	return stages
}

// encodeTasks writes the collection; stages are always an array, never null.
func encodeTasks(tasks []models.Task) ([]byte, error) {
	out := make([]models.Task, len(tasks))
	for i, t := range tasks {
		out[i] = t
		if out[i].Stages == nil {
			out[i].Stages = []models.Stage{}
		}
	}

	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tasks: %w", err)
	}
	return data, nil
}
