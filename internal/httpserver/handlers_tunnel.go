package httpserver

import (
	"net"
	"net/http"
	"strconv"
)

func (s *Server) handleTunnelStart(w http.ResponseWriter, r *http.Request) {
	bind := s.app.Config.Get().API.Bind
	port := 8787
	if _, p, err := net.SplitHostPort(bind); err == nil {
		if n, err := strconv.Atoi(p); err == nil {
			port = n
		}
	}

	url, err := s.app.Tunnel.Start(r.Context(), port)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.app.CORS.Add(url)
	writeJSON(w, http.StatusOK, map[string]any{"public_url": url, "running": true})
}

func (s *Server) handleTunnelStop(w http.ResponseWriter, r *http.Request) {
	url, err := s.app.Tunnel.Stop()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if url != "" {
		s.app.CORS.Remove(url)
	}
	writeJSON(w, http.StatusOK, map[string]any{"stopped": true})
}

func (s *Server) handleTunnelStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.app.Tunnel.Status())
}
