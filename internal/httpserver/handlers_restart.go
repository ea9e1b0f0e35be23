package httpserver

import "net/http"

// handleRestart responds immediately, then spawns a detached successor in
// the project directory and schedules this process's graceful shutdown.
func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	if err := s.app.SpawnSuccessor(); err != nil {
		writeError(w, http.StatusInternalServerError, "restart failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"restarting": true})
}
