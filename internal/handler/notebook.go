package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/execserver/internal/apperror"
	"github.com/sakif/execserver/internal/auth"
	"github.com/sakif/execserver/internal/model"
	"github.com/sakif/execserver/internal/service"
)

// NotebookHandler exposes saved notebooks under /api/notebooks.
type NotebookHandler struct {
	svc    *service.NotebookService
	logger *slog.Logger
}

// NewNotebookHandler creates a NotebookHandler.
func NewNotebookHandler(svc *service.NotebookService, logger *slog.Logger) *NotebookHandler {
	return &NotebookHandler{svc: svc, logger: logger}
}

type cellRequest struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

type notebookRequest struct {
	Title string         `json:"title"`
	Cells *[]cellRequest `json:"cells"`
}

// cells returns nil when the request omitted the field.
func (req notebookRequest) cells() []model.Cell {
	if req.Cells == nil {
		return nil
	}
	out := make([]model.Cell, len(*req.Cells))
	for i, c := range *req.Cells {
		out[i] = model.Cell{ID: c.ID, Content: c.Content}
	}
	return out
}

type notebookList struct {
	Notebooks []model.Notebook `json:"notebooks"`
	Limit     int              `json:"limit"`
	Offset    int              `json:"offset"`
}

// Routes mounts the notebook endpoints on r.
func (h *NotebookHandler) Routes(r chi.Router) {
	r.Get("/", h.HandleList)
	r.Post("/", h.HandleCreate)
	r.Get("/{id}", h.HandleGet)
	r.Put("/{id}", h.HandleUpdate)
	r.Delete("/{id}", h.HandleDelete)
	r.Post("/{id}/run", h.HandleRun)
}

// owner is the authenticated subject, or "" when auth is disabled.
func owner(r *http.Request) string {
	subject, _ := auth.SubjectFromContext(r.Context())
	return subject
}

func (h *NotebookHandler) decode(w http.ResponseWriter, r *http.Request) (notebookRequest, bool) {
	var req notebookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("invalid notebook JSON", slog.String("error", err.Error()))
		writeError(w, apperror.ValidationFailed("body", "Invalid JSON body"))
		return req, false
	}
	return req, true
}

// HandleList handles GET /api/notebooks?limit=&offset=.
func (h *NotebookHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", service.DefaultListLimit)
	if err != nil {
		writeError(w, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeError(w, err)
		return
	}
	if limit == 0 {
		limit = service.DefaultListLimit
	}
	limit = min(limit, service.MaxListLimit)

	notebooks, err := h.svc.List(r.Context(), owner(r), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, notebookList{Notebooks: notebooks, Limit: limit, Offset: offset})
}

// HandleCreate handles POST /api/notebooks.
func (h *NotebookHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	notebook, err := h.svc.Create(r.Context(), owner(r), req.Title, req.cells())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, notebook)
}

// HandleGet handles GET /api/notebooks/{id}.
func (h *NotebookHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	notebook, err := h.svc.GetByID(r.Context(), owner(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, notebook)
}

// HandleUpdate handles PUT /api/notebooks/{id}. Omitted fields are kept.
func (h *NotebookHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	notebook, err := h.svc.Update(r.Context(), owner(r), chi.URLParam(r, "id"), req.Title, req.cells())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, notebook)
}

// HandleDelete handles DELETE /api/notebooks/{id}.
func (h *NotebookHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), owner(r), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleRun handles POST /api/notebooks/{id}/run.
func (h *NotebookHandler) HandleRun(w http.ResponseWriter, r *http.Request) {
	notebook, err := h.svc.Run(r.Context(), owner(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, notebook)
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperror.ValidationFailed(name, name+" must be a non-negative integer")
	}
	return n, nil
}
