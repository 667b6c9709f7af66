package handlers

import (
	"io/fs"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Routes builds the router. static serves /static/*; live, when set, serves
// the websocket channel at /ws.
func (h *Handlers) Routes(static fs.FS, live http.Handler) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	if live != nil {
		r.Handle("/ws", live)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Compress(5))

		if static != nil {
			r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(static))))
		}

		// Page routes
		r.Get("/", h.Home)
		r.Get("/tasks/new", h.NewTaskForm)
		r.Get("/tasks/close", h.CloseForm)
		r.Post("/tasks", h.CreateTask)
		r.Get("/tasks/{id}/edit", h.EditTaskForm)
		r.Post("/tasks/{id}", h.UpdateTask)
		r.Post("/tasks/{id}/delete", h.DeleteTask)
		r.Post("/tasks/{id}/stages/{stageID}/toggle", h.ToggleStage)

		// Read API
		r.Get("/api/tasks", h.ListTasks)
		r.Get("/api/tasks/{id}", h.GetTask)
		r.Get("/export", h.Export)
		r.Get("/healthz", h.Healthz)
	})

	return r
}
