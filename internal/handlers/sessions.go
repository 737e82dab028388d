package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/webterm/webterm/internal/bridge"
	"github.com/webterm/webterm/internal/database"
)

// ListSessions returns all live bridges.
// GET /api/v1/sessions
func ListSessions(w http.ResponseWriter, r *http.Request) {
	if Mgr == nil {
		writeError(w, http.StatusServiceUnavailable, "Bridge manager not initialized")
		return
	}
	sessions := Mgr.List()
	if sessions == nil {
		sessions = []bridge.Info{}
	}
	writeJSON(w, http.StatusOK, map[string][]bridge.Info{"sessions": sessions})
}

// CloseSession force-closes a live bridge.
// DELETE /api/v1/sessions/{id}
func CloseSession(w http.ResponseWriter, r *http.Request) {
	if Mgr == nil {
		writeError(w, http.StatusServiceUnavailable, "Bridge manager not initialized")
		return
	}
	id := chi.URLParam(r, "id")
	if err := Mgr.CloseBridge(id); err != nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

// SessionHistory returns past session records, newest first.
// GET /api/v1/sessions/history
// Query parameters:
//   - limit (optional): entries per page, default 100, max 1000
//   - offset (optional): pagination offset
func SessionHistory(w http.ResponseWriter, r *http.Request) {
	if database.DB == nil {
		writeError(w, http.StatusServiceUnavailable, "Session history not configured")
		return
	}

	limit := 100
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		n, err := strconv.Atoi(limitStr)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		if n > 1000 {
			n = 1000
		}
		limit = n
	}

	offset := 0
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		n, err := strconv.Atoi(offsetStr)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid offset")
			return
		}
		offset = n
	}

	var total int64
	if err := database.DB.Model(&database.SessionRecord{}).Count(&total).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to query session history")
		return
	}

	var entries []database.SessionRecord
	err := database.DB.
		Order("connected_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&entries).Error
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to query session history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"total":   total,
	})
}
