package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/notely/notely-go/internal/middleware"
	"github.com/notely/notely-go/internal/model"
	"github.com/notely/notely-go/internal/service"
)

// NoteHandler handles HTTP requests for the authenticated user's notes.
type NoteHandler struct {
	service *service.NoteService
}

// NewNoteHandler creates a new NoteHandler.
func NewNoteHandler(svc *service.NoteService) *NoteHandler {
	return &NoteHandler{service: svc}
}

// HandleCreate handles POST /notes requests.
func (h *NoteHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse("unauthorized"))
		return
	}

	var req model.NoteRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	resp, err := h.service.Create(r.Context(), userID, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// HandleList handles GET /notes requests.
func (h *NoteHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse("unauthorized"))
		return
	}

	q, err := parseNoteQuery(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	resp, err := h.service.List(r.Context(), userID, q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleUpdate handles PUT /notes/{id} requests.
func (h *NoteHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	userID, id, ok := noteTarget(w, r)
	if !ok {
		return
	}

	var req model.NoteRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	resp, err := h.service.Update(r.Context(), userID, id, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleTogglePin handles PATCH /notes/{id}/pin requests.
func (h *NoteHandler) HandleTogglePin(w http.ResponseWriter, r *http.Request) {
	userID, id, ok := noteTarget(w, r)
	if !ok {
		return
	}

	resp, err := h.service.TogglePin(r.Context(), userID, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleDelete handles DELETE /notes/{id} requests.
func (h *NoteHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	userID, id, ok := noteTarget(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), userID, id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func noteTarget(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse("unauthorized"))
		return 0, 0, false
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid note id"))
		return 0, 0, false
	}
	return userID, id, true
}

var (
	errInvalidPage  = errors.New("page must be a number")
	errInvalidLimit = errors.New("limit must be a number")
)

// parseNoteQuery reads search, categories, sortBy, sortOrder, page and limit.
// Categories may be comma separated, repeated, or both. The result is
// normalised later by the service.
func parseNoteQuery(r *http.Request) (model.NoteQuery, error) {
	v := r.URL.Query()
	q := model.NoteQuery{
		Search:   v.Get("search"),
		SortBy:   v.Get("sortBy"),
		SortDesc: !strings.EqualFold(v.Get("sortOrder"), "asc"),
	}

	for _, raw := range v["categories"] {
		q.Categories = append(q.Categories, strings.Split(raw, ",")...)
	}

	var err error
	if q.Page, err = intParam(v.Get("page")); err != nil {
		return q, errInvalidPage
	}
	if q.Limit, err = intParam(v.Get("limit")); err != nil {
		return q, errInvalidLimit
	}
	return q, nil
}

func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}
