package server

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/joshp123/apsystems-local/internal/core"
)

type entryHealth struct {
	EntryID string `json:"entry_id"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type healthResponse struct {
	Status  string        `json:"status"`
	Entries []entryHealth `json:"entries"`
}

// HealthHandler reports liveness plus per-entry health. It answers 200 while
// at least one entry is not in error, 503 otherwise.
func HealthHandler(entries []core.Entry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		resp := healthResponse{Status: "ok", Entries: make([]entryHealth, 0, len(entries))}
		failed := 0
		for _, e := range entries {
			status := e.Health()
			if status == core.HealthError {
				failed++
			}
			resp.Entries = append(resp.Entries, entryHealth{
				EntryID: e.ID(),
				Status:  string(status),
				Message: e.HealthMessage(),
			})
		}
		code := http.StatusOK
		if len(entries) > 0 && failed == len(entries) {
			resp.Status = "error"
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(resp)
	})
}

// MetricsHandler exposes the Prometheus registry.
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
}

// DashboardsHandler serves dashboard JSON from an in-memory map.
func DashboardsHandler(dashboards map[string][]byte) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if data, ok := dashboards[r.URL.Path]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(data)
			return
		}
		http.NotFound(w, r)
	})
}

// Routes are the handlers mounted by NewMux.
type Routes struct {
	Entries []core.Entry
	Metrics *prometheus.Registry
	States  http.Handler
	Extra   []core.HTTPRegistrant
}

func NewMux(routes Routes) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/health", HealthHandler(routes.Entries))
	mux.Handle("/metrics", MetricsHandler(routes.Metrics))
	mux.Handle("/dashboards/", DashboardsHandler(core.DashboardsMap(routes.Entries)))
	if routes.States != nil {
		mux.Handle("/api/states", routes.States)
		mux.Handle("/api/states/", routes.States)
	}
	for _, r := range routes.Extra {
		r.RegisterHTTP(mux)
	}
	return mux
}
