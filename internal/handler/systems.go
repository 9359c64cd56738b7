package handler

import (
	"errors"
	"net/http"

	"github.com/daostar/grants-aggregator/internal/grants"
	"github.com/daostar/grants-aggregator/internal/model"
)

func ListSystems(agg *grants.Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f := parseFilter(r)
		data, total, err := agg.ListSystems(r.Context(), r.URL.Query().Get("system"), f)
		if err != nil {
			if errors.Is(err, grants.ErrUnknownSystem) {
				http.Error(w, `{"error":"unknown system"}`, http.StatusBadRequest)
				return
			}
			http.Error(w, `{"error":"failed to list systems"}`, http.StatusInternalServerError)
			return
		}
		writeCollection(w, data, model.NewPagination(total, f.Limit, f.Offset))
	}
}

func GetSystem(agg *grants.Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sys, err := agg.GetSystem(r.Context(), r.URL.Query().Get("system"), pathID(r, "id"))
		if err != nil {
			if errors.Is(err, grants.ErrUnknownSystem) {
				http.Error(w, `{"error":"unknown system"}`, http.StatusBadRequest)
				return
			}
			http.Error(w, `{"error":"failed to fetch system"}`, http.StatusInternalServerError)
			return
		}
		if sys == nil {
			http.Error(w, `{"error":"system not found"}`, http.StatusNotFound)
			return
		}
		writeItem(w, sys)
	}
}
