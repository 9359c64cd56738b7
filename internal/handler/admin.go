package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/daostar/grants-aggregator/internal/store"
)

func CreateAPIKey(s *store.Store) http.HandlerFunc {
	type request struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
		if req.Name == "" {
			http.Error(w, `{"error":"name required"}`, http.StatusBadRequest)
			return
		}

		key, err := s.CreateAPIKey(r.Context(), req.Name, req.Email)
		if err != nil {
			http.Error(w, `{"error":"failed to create key"}`, http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(key)
	}
}

func ListAPIKeys(s *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		keys, err := s.ListAPIKeys(r.Context())
		if err != nil {
			http.Error(w, `{"error":"failed to list keys"}`, http.StatusInternalServerError)
			return
		}
		if keys == nil {
			keys = []store.APIKey{}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(keys)
	}
}

func RevokeAPIKey(s *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			http.Error(w, `{"error":"invalid key id"}`, http.StatusBadRequest)
			return
		}

		if err := s.RevokeAPIKey(r.Context(), id); err != nil {
			http.Error(w, `{"error":"key not found"}`, http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// UsageStats reports traffic totals plus per-key breakdown over a trailing
// window, default 24h, capped at 30 days.
func UsageStats(s *store.Store) http.HandlerFunc {
	type response struct {
		WindowHours int                 `json:"window_hours"`
		Traffic     *store.TrafficStats `json:"traffic"`
		ByKey       []store.KeyUsage    `json:"by_key"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		hours := 24
		if v := r.URL.Query().Get("hours"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 24*30 {
				hours = n
			}
		}
		window := time.Duration(hours) * time.Hour

		traffic, err := s.TrafficStatsSince(r.Context(), window)
		if err != nil {
			http.Error(w, `{"error":"failed to compute stats"}`, http.StatusInternalServerError)
			return
		}
		byKey, err := s.UsageByKey(r.Context(), window)
		if err != nil {
			http.Error(w, `{"error":"failed to compute stats"}`, http.StatusInternalServerError)
			return
		}
		if byKey == nil {
			byKey = []store.KeyUsage{}
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response{
			WindowHours: hours,
			Traffic:     traffic,
			ByKey:       byKey,
		})
	}
}
