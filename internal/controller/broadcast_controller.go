package controller

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	appErrors "github.com/unclebandit/voicecast-backend/internal/errors"
	"github.com/unclebandit/voicecast-backend/internal/service"
)

type BroadcastController struct {
	BroadcastService *service.BroadcastService
}

// Start handles POST /broadcast/start: create, materialize audio,
// enqueue calls, register the dispatcher.
func (c *BroadcastController) Start(w http.ResponseWriter, r *http.Request) {
	var req service.CreateBroadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, appErrors.NewValidation("invalid request body"))
		return
	}

	result, err := c.BroadcastService.Create(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"success":        true,
		"id":             result.ID,
		"name":           result.Name,
		"status":         result.Status,
		"total_contacts": result.TotalContacts,
	})
}

// Status handles GET /broadcast/status/{id}.
func (c *BroadcastController) Status(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	details, err := c.BroadcastService.GetDetails(id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"broadcast": details,
	})
}

// Cancel handles POST /broadcast/{id}/cancel.
func (c *BroadcastController) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := c.BroadcastService.Cancel(id); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// Calls handles GET /broadcast/{id}/calls?status&page&limit.
func (c *BroadcastController) Calls(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	status := r.URL.Query().Get("status")

	calls, pagination, err := c.BroadcastService.ListCalls(id, page, limit, status)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"calls":      calls,
		"pagination": pagination,
	})
}

// List handles GET /broadcast/list?status&page&limit.
func (c *BroadcastController) List(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	status := r.URL.Query().Get("status")
	ownerID := r.URL.Query().Get("owner_id")

	broadcasts, pagination, err := c.BroadcastService.List(page, limit, status, ownerID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"broadcasts": broadcasts,
		"pagination": pagination,
	})
}

// Delete handles DELETE /broadcast/{id}.
func (c *BroadcastController) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := c.BroadcastService.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// ====================== helpers ======================

func urlID(r *http.Request) (int, error) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id < 1 {
		return 0, appErrors.NewValidation("invalid broadcast id")
	}
	return id, nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeError maps the error taxonomy onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := "internal"

	var validation *appErrors.ErrValidation
	var conflict *appErrors.ErrConflict
	var tts *appErrors.ErrTTSUnavailable
	var cdnErr *appErrors.ErrCDNUnavailable

	switch {
	case errors.As(err, &validation):
		status, code = http.StatusBadRequest, "validation"
	case appErrors.IsNotFound(err):
		status, code = http.StatusNotFound, "not_found"
	case errors.As(err, &conflict):
		status, code = http.StatusConflict, "conflict"
	case errors.As(err, &tts):
		status, code = http.StatusInternalServerError, "tts_unavailable"
	case errors.As(err, &cdnErr):
		status, code = http.StatusInternalServerError, "cdn_unavailable"
	}

	if status == http.StatusInternalServerError {
		log.Println("❌ request failed:", err)
	}
	writeJSON(w, status, map[string]any{
		"success": false,
		"error":   code,
		"message": err.Error(),
	})
}
