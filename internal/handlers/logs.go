package handlers

import (
	"net/http"
	"strconv"

	"github.com/webterm/webterm/internal/logging"
)

// ServerLogs returns the tail of the server log file.
// GET /api/v1/logs?lines=N (default 200, max 5000)
func ServerLogs(w http.ResponseWriter, r *http.Request) {
	lines := 200
	if linesStr := r.URL.Query().Get("lines"); linesStr != "" {
		n, err := strconv.Atoi(linesStr)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "Invalid lines")
			return
		}
		if n > 5000 {
			n = 5000
		}
		lines = n
	}

	tail, err := logging.ReadTail(lines)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read logs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"logs": tail})
}

// ClearServerLogs truncates the server log file.
// DELETE /api/v1/logs
func ClearServerLogs(w http.ResponseWriter, r *http.Request) {
	if err := logging.Clear(); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to clear logs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}
