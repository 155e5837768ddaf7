package server

import (
	"encoding/json"
	"net/http"

	"edge-router/internal/circuitbreaker"
	"edge-router/internal/routing"
)

type handlers struct {
	table    *routing.Table
	breakers *circuitbreaker.Manager
}

// routeView is the admin API representation of one route.
type routeView struct {
	ID         string `json:"id"`
	Host       string `json:"host"`
	PathPrefix string `json:"path_prefix,omitempty"`
	Service    string `json:"service"`
	EntryPoint string `json:"entrypoint,omitempty"`
}

// backendView is the admin API representation of one backend instance.
type backendView struct {
	Service string `json:"service"`
	Address string `json:"address"`
	Weight  int    `json:"weight"`
	Health  string `json:"health"`
	Breaker string `json:"breaker,omitempty"`
}

// GetRoutes returns the routes of the current snapshot in declaration
// order.
func (h *handlers) GetRoutes(w http.ResponseWriter, r *http.Request) {
	snapshot := h.table.Current()

	views := make([]routeView, 0, len(snapshot.Routes()))
	for _, route := range snapshot.Routes() {
		views = append(views, routeView{
			ID:         route.ID,
			Host:       route.Host,
			PathPrefix: route.PathPrefix,
			Service:    route.Service,
			EntryPoint: route.EntryPoint,
		})
	}

	writeJSON(w, map[string]interface{}{
		"revision": snapshot.Revision(),
		"routes":   views,
	})
}

// GetBackends returns all backend instances of the current snapshot with
// their health and breaker states.
func (h *handlers) GetBackends(w http.ResponseWriter, r *http.Request) {
	snapshot := h.table.Current()
	breakerStates := h.breakers.States()

	views := make([]backendView, 0)
	for _, service := range snapshot.Services() {
		for _, backend := range snapshot.Backends(service) {
			views = append(views, backendView{
				Service: service,
				Address: backend.Address,
				Weight:  backend.Weight,
				Health:  backend.Health.String(),
				Breaker: breakerStates[backend.Address],
			})
		}
	}

	writeJSON(w, map[string]interface{}{
		"revision": snapshot.Revision(),
		"backends": views,
	})
}

// HealthCheck reports liveness of the router itself.
func (h *handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding error", http.StatusInternalServerError)
	}
}
