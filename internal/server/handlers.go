package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/conneroisu/bloxciting/internal/version"
)

// handleHealth returns the server health status for health checks
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status, code := "healthy", http.StatusOK
	if s.isShutdown.Load() {
		status, code = "shutting_down", http.StatusServiceUnavailable
	}

	s.writeJSON(w, r, code, map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"version":   version.GetShortVersion(),
		"checks": map[string]interface{}{
			"watcher":   map[string]interface{}{"status": status, "root": s.watcher.Root()},
			"cache":     map[string]interface{}{"status": "healthy", "entries": s.cache.Len()},
			"websocket": map[string]interface{}{"status": "healthy", "clients": s.hub.Clients()},
		},
	})
}

// handleStatus reports cache, pipeline and websocket counters.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	metrics := s.pipeline.Metrics().GetSnapshot()
	var uptime time.Duration
	if !s.startedAt.IsZero() {
		uptime = time.Since(s.startedAt)
	}

	s.writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"build":  version.GetBuildInfo(),
		"uptime": uptime.Round(time.Second).String(),
		"cache": map[string]interface{}{
			"stats":    s.cache.Stats(),
			"hit_rate": s.cache.HitRate(),
		},
		"pipeline": map[string]interface{}{
			"metrics":      &metrics,
			"success_rate": s.pipeline.Metrics().SuccessRate(),
			"in_flight":    s.scheduler.InFlight(),
		},
		"websocket": s.hub.Stats(),
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(code)
	if r.Method == http.MethodHead {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn(r.Context(), err, "Failed to encode response", "path", r.URL.Path)
	}
}
