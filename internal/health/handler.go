package health

import (
	"encoding/json"
	"net/http"
)

// overview is the JSON response body for the health endpoint.
type overview struct {
	Status   string          `json:"status"`
	Services []ServiceHealth `json:"services"`
}

// HandleHealth serves the health overview. The response is 200 while no
// service is FAILED and 503 otherwise; the body always carries the full
// per-service detail.
func (m *Monitor) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	res := overview{Status: "ok", Services: m.Snapshot()}
	status := http.StatusOK
	if !m.Healthy() {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// HandleReset clears the failure state of the service named in the path.
// Responds 404 for unknown services.
func (m *Monitor) HandleReset(w http.ResponseWriter, r *http.Request) {
	serviceID := r.PathValue("service")
	if !m.Reset(serviceID) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "unknown service: " + serviceID,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"service": serviceID,
		"state":   string(StateHealthy),
	})
}

// RegisterRoutes adds the health routes to mux.
func (m *Monitor) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", m.HandleHealth)
	mux.HandleFunc("POST /health/reset/{service}", m.HandleReset)
}

// writeJSON encodes v as JSON and writes it with the given status code. On
// encoding failure it falls back to a plain-text 500 response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
