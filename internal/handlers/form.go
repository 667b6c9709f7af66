package handlers

import (
	"fmt"

	"stagetasks/internal/models"
)

// FormMode is the state of the entry form.
type FormMode int

const (
	AddMode FormMode = iota
	EditMode
)

func (m FormMode) String() string {
	if m == EditMode {
		return "edit"
	}
	return "add"
}

// Form is the task entry form. It starts in add mode, enters edit mode
// through Edit, and returns to add mode through Reset after every submit.
type Form struct {
	Mode   FormMode
	Open   bool
	TaskID int64
	Input  models.TaskInput
	Errors models.FieldErrors
}

// NewForm returns a closed form in add mode with one blank stage field.
func NewForm() *Form {
	f := &Form{}
	f.Reset()
	return f
}

// Edit switches to edit mode, populated from task.
func (f *Form) Edit(task models.Task) {
	f.Mode = EditMode
	f.Open = true
	f.TaskID = task.ID
	f.Input = models.InputFromTask(task)
	f.Errors = nil
	if len(f.Input.Stages) == 0 {
		f.Input.Stages = []string{""}
	}
}

// Reset clears the fields and returns to add mode.
func (f *Form) Reset() {
	*f = Form{
		Mode:  AddMode,
		Input: models.TaskInput{Stages: []string{""}},
	}
}

// AddStageField appends one blank stage input.
func (f *Form) AddStageField() {
	f.Input.Stages = append(f.Input.Stages, "")
}

func (f *Form) Editing() bool {
	return f.Mode == EditMode
}

// Action is the URL the form posts to.
func (f *Form) Action() string {
	if f.Editing() {
		return fmt.Sprintf("/tasks/%d", f.TaskID)
	}
	return "/tasks"
}

func (f *Form) Heading() string {
	if f.Editing() {
		return "Edit Task"
	}
	return "Add Task"
}

func (f *Form) SubmitLabel() string {
	if f.Editing() {
		return "Update Task"
	}
	return "Add Task"
}

// Priorities lists the choices for the priority select.
func (f *Form) Priorities() []models.Priority {
	return models.Priorities
}

// Error returns the inline message for field, if any.
func (f *Form) Error(field string) string {
	return f.Errors[field]
}
