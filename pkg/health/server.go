// Package health serves the bridge daemon's self-observability HTTP
// endpoints: a liveness check and a readiness check derived from how
// recently the worker last wrote its heartbeat, plus the Prometheus
// scrape endpoint.
package health

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/fleetbridge/bridge/pkg/metrics"
)

// Server serves /healthz, /readyz, and /metrics for one worker.
type Server struct {
	mux            *http.ServeMux
	lastHeartbeat  func() (time.Time, bool)
	readyThreshold time.Duration
}

// NewServer builds a health server. lastHeartbeat returns the timestamp
// of the worker's most recent heartbeat write and whether one has
// happened yet; readyThreshold is the maximum age before /readyz reports
// not-ready.
func NewServer(lastHeartbeat func() (time.Time, bool), readyThreshold time.Duration) *Server {
	mux := http.NewServeMux()
	hs := &Server{mux: mux, lastHeartbeat: lastHeartbeat, readyThreshold: readyThreshold}

	mux.HandleFunc("/healthz", hs.healthzHandler)
	mux.HandleFunc("/readyz", hs.readyzHandler)
	mux.Handle("/metrics", metrics.Handler())

	return hs
}

// Handler returns the combined HTTP handler for embedding in a server.
func (hs *Server) Handler() http.Handler {
	return hs.mux
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// healthzHandler is a pure liveness check: 200 if this process is
// answering requests at all.
func (hs *Server) healthzHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(healthResponse{Status: "alive", Timestamp: time.Now()})
}

type readyResponse struct {
	Status        string    `json:"status"`
	Timestamp     time.Time `json:"timestamp"`
	HeartbeatAge  string    `json:"heartbeatAge,omitempty"`
	Message       string    `json:"message,omitempty"`
}

// readyzHandler reports not-ready if the bridge loop has never written a
// heartbeat, or if its last heartbeat is older than readyThreshold (the
// loop may be wedged on a hung CLI invocation or stuck in an outer-guard
// retry storm).
func (hs *Server) readyzHandler(w http.ResponseWriter, r *http.Request) {
	last, ok := hs.lastHeartbeat()
	if !ok {
		writeReady(w, false, 0, "no heartbeat written yet")
		return
	}
	age := time.Since(last)
	metrics.HeartbeatAgeSeconds.Set(age.Seconds())
	if age > hs.readyThreshold {
		writeReady(w, false, age, "heartbeat stale")
		return
	}
	writeReady(w, true, age, "")
}

func writeReady(w http.ResponseWriter, ready bool, age time.Duration, message string) {
	status := "ready"
	code := http.StatusOK
	if !ready {
		status = "not ready"
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(readyResponse{
		Status:       status,
		Timestamp:    time.Now(),
		HeartbeatAge: age.String(),
		Message:      message,
	})
}
