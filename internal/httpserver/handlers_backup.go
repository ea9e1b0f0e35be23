package httpserver

import (
	"context"
	"net/http"
	"time"
)

func (s *Server) handleBackupStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.app.GetBackupStatus())
}

type backupCreateRequest struct {
	IncludeActivities bool `json:"include_activities"`
}

func (s *Server) handleBackupCreate(w http.ResponseWriter, r *http.Request) {
	var req backupCreateRequest
	if r.ContentLength != 0 {
		if !decodeBody(w, r, &req) {
			return
		}
	}
	path, err := s.app.CreateBackup(req.IncludeActivities)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "backup failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"path": path, "created": true})
}

type backupRestoreRequest struct {
	Path string `json:"path"`
}

// restoreTimeout bounds how long a restore may run before the route gives
// up with 504.
const restoreTimeout = 2 * time.Minute

func (s *Server) handleBackupRestore(w http.ResponseWriter, r *http.Request) {
	var req backupRestoreRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "path must not be empty")
		return
	}

	type result struct {
		imported int
		err      error
	}
	done := make(chan result, 1)
	go func() {
		n, err := s.app.RestoreBackup(req.Path)
		done <- result{imported: n, err: err}
	}()

	ctx, cancel := context.WithTimeout(r.Context(), restoreTimeout)
	defer cancel()
	select {
	case res := <-done:
		if res.err != nil {
			writeError(w, http.StatusInternalServerError, "restore failed: "+res.err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"imported": res.imported, "restored": true})
	case <-ctx.Done():
		writeError(w, http.StatusGatewayTimeout, "restore timed out")
	}
}
