package httpserver

import (
	"errors"
	"net/http"

	"github.com/oak-dev/cid/internal/cloudrelay"
)

func (s *Server) handleCloudPreflight(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.app.CloudRelay.Preflight(r.Context()))
}

func (s *Server) handleCloudStart(w http.ResponseWriter, r *http.Request) {
	settings, err := s.app.CloudRelay.Start(r.Context())
	if err != nil {
		var step *cloudrelay.StepError
		if errors.As(err, &step) {
			writeStepError(w, http.StatusBadGateway, step.Phase, step.Detail, step.Suggestion)
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.app.CORS.Add(settings.RelayURL)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"relay_url": settings.RelayURL,
	})
}

func (s *Server) handleCloudStop(w http.ResponseWriter, r *http.Request) {
	if settings, err := s.app.CloudRelay.LoadSettings(); err == nil && settings.RelayURL != "" {
		s.app.CORS.Remove(settings.RelayURL)
	}
	s.app.CloudRelay.Stop()
	writeJSON(w, http.StatusOK, map[string]any{"stopped": true})
}

func (s *Server) handleCloudGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.app.CloudRelay.LoadSettings()
	if err != nil {
		writeError(w, http.StatusNotFound, "no relay settings persisted yet")
		return
	}
	// Never echo the token back in full.
	if len(settings.AuthToken) > 8 {
		settings.AuthToken = settings.AuthToken[:4] + "****"
	} else if settings.AuthToken != "" {
		settings.AuthToken = "****"
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handleCloudPutSettings(w http.ResponseWriter, r *http.Request) {
	var settings cloudrelay.Settings
	if !decodeBody(w, r, &settings) {
		return
	}
	if err := s.app.CloudRelay.SaveSettings(settings); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to persist settings")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"updated": true})
}

func (s *Server) handleCloudStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.app.CloudRelay.Status())
}

func (s *Server) handleCloudConnect(w http.ResponseWriter, r *http.Request) {
	settings, err := s.app.CloudRelay.LoadSettings()
	if err != nil || settings.RelayURL == "" {
		writeError(w, http.StatusBadRequest, "no relay deployed; run /api/cloud/start first")
		return
	}
	if err := s.app.CloudRelay.Connect(r.Context(), settings.RelayURL); err != nil {
		writeStepError(w, http.StatusBadGateway, "connect", err.Error(), "")
		return
	}
	s.app.CORS.Add(settings.RelayURL)
	writeJSON(w, http.StatusOK, map[string]any{"connected": true})
}

func (s *Server) handleCloudDisconnect(w http.ResponseWriter, r *http.Request) {
	s.app.CloudRelay.Disconnect()
	writeJSON(w, http.StatusOK, map[string]any{"disconnected": true})
}
