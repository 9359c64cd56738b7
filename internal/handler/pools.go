package handler

import (
	"errors"
	"net/http"

	"github.com/daostar/grants-aggregator/internal/grants"
	"github.com/daostar/grants-aggregator/internal/model"
)

func ListPools(agg *grants.Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f := parseFilter(r)
		data, total, err := agg.ListPools(r.Context(), r.URL.Query().Get("system"), f)
		if err != nil {
			if errors.Is(err, grants.ErrUnknownSystem) {
				http.Error(w, `{"error":"unknown system"}`, http.StatusBadRequest)
				return
			}
			http.Error(w, `{"error":"failed to list pools"}`, http.StatusInternalServerError)
			return
		}
		writeCollection(w, data, model.NewPagination(total, f.Limit, f.Offset))
	}
}

func GetPool(agg *grants.Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pool, err := agg.GetPool(r.Context(), r.URL.Query().Get("system"), pathID(r, "id"))
		if err != nil {
			if errors.Is(err, grants.ErrUnknownSystem) {
				http.Error(w, `{"error":"unknown system"}`, http.StatusBadRequest)
				return
			}
			http.Error(w, `{"error":"failed to fetch pool"}`, http.StatusInternalServerError)
			return
		}
		if pool == nil {
			http.Error(w, `{"error":"pool not found"}`, http.StatusNotFound)
			return
		}
		writeItem(w, pool)
	}
}
