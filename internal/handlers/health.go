package handlers

import "net/http"

// HealthCheck reports liveness and the number of open bridges.
// GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	count := 0
	if Mgr != nil {
		count = Mgr.Count()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"bridges": count,
	})
}
