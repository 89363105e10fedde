package api

import "net/http"

// handleRestart serves POST /api/restart. Callers must treat a
// connection-reset during this request as success: Restart triggers the
// supervisor's shutdown path, and this process may exit before the
// response flushes.
func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "restarting"})
	s.restarter.Restart()
}
