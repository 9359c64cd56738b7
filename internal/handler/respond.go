// Package handler exposes the aggregated grants data over HTTP. Collection
// responses wrap their payload in a JSON-LD envelope with pagination
// metadata; single-item responses carry the envelope without pagination.
package handler

import (
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/daostar/grants-aggregator/internal/model"
)

type envelope struct {
	Context    string            `json:"@context"`
	Data       any               `json:"data"`
	Pagination *model.Pagination `json:"pagination,omitempty"`
}

func writeCollection(w http.ResponseWriter, data any, p model.Pagination) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(envelope{
		Context:    model.Context,
		Data:       data,
		Pagination: &p,
	})
}

func writeItem(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(envelope{Context: model.Context, Data: data})
}

// pathID extracts a route parameter, unescaping it so CAIP-10 identifiers
// with embedded query-ish characters survive the round trip.
func pathID(r *http.Request, name string) string {
	raw := chi.URLParam(r, name)
	if id, err := url.PathUnescape(raw); err == nil {
		return id
	}
	return raw
}
