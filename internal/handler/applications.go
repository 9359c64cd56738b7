package handler

import (
	"errors"
	"net/http"

	"github.com/daostar/grants-aggregator/internal/grants"
	"github.com/daostar/grants-aggregator/internal/model"
)

func ListApplications(agg *grants.Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f := parseFilter(r)
		data, total, err := agg.ListApplications(r.Context(), r.URL.Query().Get("system"), f)
		if err != nil {
			if errors.Is(err, grants.ErrUnknownSystem) {
				http.Error(w, `{"error":"unknown system"}`, http.StatusBadRequest)
				return
			}
			http.Error(w, `{"error":"failed to list applications"}`, http.StatusInternalServerError)
			return
		}
		writeCollection(w, data, model.NewPagination(total, f.Limit, f.Offset))
	}
}

func GetApplication(agg *grants.Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		app, err := agg.GetApplication(r.Context(), r.URL.Query().Get("system"), pathID(r, "id"))
		if err != nil {
			if errors.Is(err, grants.ErrUnknownSystem) {
				http.Error(w, `{"error":"unknown system"}`, http.StatusBadRequest)
				return
			}
			http.Error(w, `{"error":"failed to fetch application"}`, http.StatusInternalServerError)
			return
		}
		if app == nil {
			http.Error(w, `{"error":"application not found"}`, http.StatusNotFound)
			return
		}
		writeItem(w, app)
	}
}
