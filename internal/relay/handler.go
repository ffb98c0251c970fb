package relay

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// OriginHeader carries the writer's origin on HTTP writes.
const OriginHeader = "X-Milestep-Origin"

// maxBody caps HTTP write payloads.
const maxBody = 8 << 20

// handleGet serves GET /v1/<path>. A path that was never written answers
// with a JSON null. GET /v1/ lists stored paths, filtered by ?prefix=.
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	path := r.PathValue("path")
	if path == "" {
		s.handleList(w, r)
		return
	}
	value, err := s.Get(r.Context(), path)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if value == nil {
		value = json.RawMessage("null")
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(value)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	paths, err := s.Paths(r.Context(), r.URL.Query().Get("prefix"))
	if err != nil {
		s.logger.Printf("Failed to list paths: %v", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"paths": paths})
}

// handlePut serves PUT /v1/<path> with the whole new value as the body.
func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	path := r.PathValue("path")
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("failed to read body: %w", err))
		return
	}
	if !json.Valid(body) {
		writeError(w, http.StatusBadRequest, fmt.Errorf("body is not valid JSON"))
		return
	}

	origin := r.Header.Get(OriginHeader)
	if origin == "" {
		origin = "http"
	}
	if err := s.Set(r.Context(), path, body, origin); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"status": "ok", "path": path})
}

// handleHealth returns server health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	keys, err := s.db.Count(r.Context())
	status := "ok"
	if err != nil {
		s.logger.Printf("Health check failed: %v", err)
		status = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  status,
		"clients": s.ClientCount(),
		"keys":    keys,
	})
}

// handleRoot returns basic server information.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>Milestep Relay</title>
</head>
<body>
    <h1>Milestep Relay</h1>
    <p>WebSocket endpoint: <code>ws://%s/ws</code></p>
    <p>HTTP access: <code>GET|PUT /v1/activities/&lt;CODE&gt;</code></p>
    <p>Health check: <a href="/health">/health</a></p>
</body>
</html>`, r.Host)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
