package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"path"
	"strconv"

	"github.com/go-chi/chi/v5"

	"stagetasks/internal/tasks"
)

// Handlers holds the HTTP handlers and their dependencies.
type Handlers struct {
	repo      *tasks.Repository
	templates *template.Template
	logger    *slog.Logger
}

// New creates a new Handlers instance.
func New(repo *tasks.Repository, tmpl *template.Template, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		repo:      repo,
		templates: tmpl,
		logger:    logger,
	}
}

// ParseTemplates parses templates/*.html and templates/partials/*.html from
// fsys. Each template is named by its base file name.
func ParseTemplates(fsys fs.FS) (*template.Template, error) {
	funcMap := template.FuncMap{
		"dict": func(values ...interface{}) map[string]interface{} {
			if len(values)%2 != 0 {
				return nil
			}
			dict := make(map[string]interface{}, len(values)/2)
			for i := 0; i < len(values); i += 2 {
				key, ok := values[i].(string)
				if !ok {
					continue
				}
				dict[key] = values[i+1]
			}
			return dict
		},
	}

	tmpl := template.New("").Funcs(funcMap)

	patterns := []string{
		"templates/*.html",
		"templates/partials/*.html",
	}

	for _, pattern := range patterns {
		matches, err := fs.Glob(fsys, pattern)
		if err != nil {
			return nil, fmt.Errorf("failed to glob pattern %s: %w", pattern, err)
		}

		for _, match := range matches {
			content, err := fs.ReadFile(fsys, match)
			if err != nil {
				return nil, fmt.Errorf("failed to read template %s: %w", match, err)
			}

			name := path.Base(match)
			if _, err := tmpl.New(name).Parse(string(content)); err != nil {
				return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
			}
		}
	}

	return tmpl, nil
}

// parseID extracts and parses an integer ID from URL parameters.
func parseID(r *http.Request, param string) (int64, error) {
	idStr := chi.URLParam(r, param)
	return strconv.ParseInt(idStr, 10, 64)
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, code int, message string) {
	w.WriteHeader(code)
	w.Write([]byte(message))
}

func (h *Handlers) respondServerError(w http.ResponseWriter, err error) {
	h.logger.Error("internal server error", "err", err)
	respondError(w, http.StatusInternalServerError, "internal server error")
}

// respondRepoError maps repository errors to status codes.
func (h *Handlers) respondRepoError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, tasks.ErrTaskNotFound):
		respondError(w, http.StatusNotFound, "task not found")
	case errors.Is(err, tasks.ErrStageNotFound):
		respondError(w, http.StatusNotFound, "stage not found")
	default:
		h.respondServerError(w, err)
	}
}

// redirectHome answers a successful form post so a reload does not resubmit.
func redirectHome(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *Handlers) render(w http.ResponseWriter, name string, data interface{}) {
	h.renderStatus(w, http.StatusOK, name, data)
}

// renderStatus executes into a buffer first so a template error still yields
// a clean 500.
func (h *Handlers) renderStatus(w http.ResponseWriter, code int, name string, data interface{}) {
	if h.templates == nil {
		// For testing without templates
		w.WriteHeader(code)
		return
	}

	var buf bytes.Buffer
	if err := h.templates.ExecuteTemplate(&buf, name, data); err != nil {
		h.respondServerError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(code)
	buf.WriteTo(w)
}

func (h *Handlers) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		h.respondServerError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(data)
}
