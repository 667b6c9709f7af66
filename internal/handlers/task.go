package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"stagetasks/internal/models"
)

// parseTaskForm reads the entry form fields. Stage inputs share the name
// "stage" and keep their order.
func parseTaskForm(r *http.Request) models.TaskInput {
	return models.TaskInput{
		Title:    r.FormValue("title"),
		Priority: r.FormValue("priority"),
		Stages:   r.Form["stage"],
	}
}

// rerenderForm shows the open form again with the submitted values, for
// validation failures and add-stage requests.
func (h *Handlers) rerenderForm(w http.ResponseWriter, code int, form *Form) {
	form.Open = true
	if len(form.Input.Stages) == 0 {
		form.Input.Stages = []string{""}
	}
	h.renderStatus(w, code, "home.html", h.homeData(form))
}

// CreateTask handles the add form.
func (h *Handlers) CreateTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := r.ParseForm(); err != nil {
		respondError(w, http.StatusBadRequest, "invalid form data")
		return
	}

	form := NewForm()
	form.Input = parseTaskForm(r)

	if r.FormValue("action") == "add-stage" {
		form.AddStageField()
		h.rerenderForm(w, http.StatusOK, form)
		return
	}

	if errs := form.Input.Validate(); errs != nil {
		form.Errors = errs
		h.rerenderForm(w, http.StatusUnprocessableEntity, form)
		return
	}

	task, err := h.repo.Add(ctx, form.Input.CleanTitle(), form.Input.CleanStages(), form.Input.CleanPriority())
	if err != nil {
		h.respondServerError(w, err)
		return
	}
	h.logger.Info("task created", "task_id", task.ID)

	form.Reset()
	redirectHome(w, r)
}

// EditTaskForm selects the task and opens the form in edit mode.
func (h *Handlers) EditTaskForm(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid task id")
		return
	}

	if err := h.repo.SelectCurrent(id); err != nil {
		h.respondRepoError(w, err)
		return
	}

	task, ok := h.repo.Current()
	if !ok {
		respondError(w, http.StatusNotFound, "task not found")
		return
	}

	form := NewForm()
	form.Edit(task)
	h.render(w, "home.html", h.homeData(form))
}

// UpdateTask handles the edit form.
func (h *Handlers) UpdateTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := parseID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid task id")
		return
	}

	if err := r.ParseForm(); err != nil {
		respondError(w, http.StatusBadRequest, "invalid form data")
		return
	}

	form := NewForm()
	form.Mode = EditMode
	form.TaskID = id
	form.Input = parseTaskForm(r)

	if r.FormValue("action") == "add-stage" {
		form.AddStageField()
		h.rerenderForm(w, http.StatusOK, form)
		return
	}

	if errs := form.Input.Validate(); errs != nil {
		form.Errors = errs
		h.rerenderForm(w, http.StatusUnprocessableEntity, form)
		return
	}

	err = h.repo.Update(ctx, id, form.Input.CleanTitle(), form.Input.CleanStages(), form.Input.CleanPriority())
	if err != nil {
		h.respondRepoError(w, err)
		return
	}

	h.repo.ClearCurrent()
	form.Reset()
	redirectHome(w, r)
}

// DeleteTask removes a task.
func (h *Handlers) DeleteTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := parseID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid task id")
		return
	}

	if err := h.repo.Delete(ctx, id); err != nil {
		h.respondRepoError(w, err)
		return
	}

	h.repo.ClearCurrent()
	redirectHome(w, r)
}

// ToggleStage flips one stage's completion flag.
func (h *Handlers) ToggleStage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := parseID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid task id")
		return
	}

	stageID := chi.URLParam(r, "stageID")
	if stageID == "" {
		respondError(w, http.StatusBadRequest, "invalid stage id")
		return
	}

	if _, err := h.repo.ToggleStage(ctx, id, stageID); err != nil {
		h.respondRepoError(w, err)
		return
	}

	redirectHome(w, r)
}
