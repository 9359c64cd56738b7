package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/daostar/grants-aggregator/internal/grants"
	"github.com/daostar/grants-aggregator/internal/store"
)

func Health() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
}

// Ready reports storage connectivity. The service runs without storage, so
// a nil store is always ready.
func Ready(s *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if s != nil {
			if err := s.Ping(r.Context()); err != nil {
				http.Error(w, `{"status":"not ready"}`, http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	}
}

// SystemHealth probes every adapter plus storage; ?refresh=true bypasses
// the monitor's short-lived cache.
func SystemHealth(m *grants.HealthMonitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		force := r.URL.Query().Get("refresh") == "true"
		health := m.SystemHealth(r.Context(), force)
		writeHealth(w, health)
	}
}

func AdapterHealth(m *grants.HealthMonitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "adapter")
		health, ok := m.AdapterHealth(r.Context(), name)
		if !ok {
			http.Error(w, `{"error":"unknown adapter"}`, http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(health)
	}
}

// QuickHealth returns the last computed status without probing anything.
func QuickHealth(m *grants.HealthMonitor) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeHealth(w, m.QuickHealth())
	}
}

func writeHealth(w http.ResponseWriter, health *grants.SystemHealth) {
	w.Header().Set("Content-Type", "application/json")
	if health.Status == grants.StatusDown {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(health)
}
