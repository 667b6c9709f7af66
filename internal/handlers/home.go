package handlers

import (
	"net/http"

	"stagetasks/internal/models"
)

// TaskView is one task block on the home page.
type TaskView struct {
	models.Task
	StagesDone  int
	StagesTotal int
	Complete    bool
	Current     bool
}

// HomeData holds data for the home page template.
type HomeData struct {
	Title string
	Tasks []TaskView
	Form  *Form
}

func (h *Handlers) homeData(form *Form) HomeData {
	current, hasCurrent := h.repo.Current()

	list := h.repo.List()
	views := make([]TaskView, 0, len(list))
	for _, t := range list {
		done, total := t.Progress()
		views = append(views, TaskView{
			Task:        t,
			StagesDone:  done,
			StagesTotal: total,
			Complete:    t.Done(),
			Current:     hasCurrent && current.ID == t.ID,
		})
	}

	return HomeData{
		Title: "Stage Tasks",
		Tasks: views,
		Form:  form,
	}
}

// Home renders every task and the entry form, closed.
func (h *Handlers) Home(w http.ResponseWriter, r *http.Request) {
	h.render(w, "home.html", h.homeData(NewForm()))
}

// NewTaskForm opens the form in add mode.
func (h *Handlers) NewTaskForm(w http.ResponseWriter, r *http.Request) {
	h.repo.ClearCurrent()

	form := NewForm()
	form.Open = true
	h.render(w, "home.html", h.homeData(form))
}

// CloseForm drops any selection and returns to the list.
func (h *Handlers) CloseForm(w http.ResponseWriter, r *http.Request) {
	h.repo.ClearCurrent()
	redirectHome(w, r)
}
