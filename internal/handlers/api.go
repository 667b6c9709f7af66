package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"stagetasks/internal/export"
)

// ListTasks returns every task as JSON.
func (h *Handlers) ListTasks(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.repo.List())
}

// GetTask returns one task as JSON.
func (h *Handlers) GetTask(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid task id")
		return
	}

	task, err := h.repo.Get(id)
	if err != nil {
		h.respondRepoError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, task)
}

// Export downloads the task list; format defaults to json.
func (h *Handlers) Export(w http.ResponseWriter, r *http.Request) {
	format := strings.ToLower(r.URL.Query().Get("format"))
	if format == "" {
		format = "json"
	}

	data, err := export.Export(h.repo.List(), format)
	if err != nil {
		respondError(w, http.StatusBadRequest,
			fmt.Sprintf("format must be one of %s", strings.Join(export.Formats, ", ")))
		return
	}

	w.Header().Set("Content-Type", export.ContentType(format))
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="tasks.%s"`, format))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// Healthz reports liveness.
func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
