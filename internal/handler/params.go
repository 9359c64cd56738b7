package handler

import (
	"net/http"
	"strconv"

	"github.com/daostar/grants-aggregator/internal/grants"
	"github.com/daostar/grants-aggregator/internal/model"
)

// parseFilter reads the recognized query options. Invalid pagination values
// are clamped rather than rejected; `page` is 1-based and, when present,
// wins over `offset`.
func parseFilter(r *http.Request) grants.Filter {
	q := r.URL.Query()

	f := grants.Filter{
		Mechanism: q.Get("mechanism"),
		Search:    q.Get("search"),
		Status:    q.Get("status"),
		PoolID:    q.Get("poolId"),
		ProjectID: q.Get("projectId"),
	}

	f.Limit = model.ClampLimit(intQuery(q.Get("limit")))
	if page := intQuery(q.Get("page")); page > 0 {
		f.Offset = model.OffsetFromPage(page, f.Limit)
	} else {
		f.Offset = model.ClampOffset(intQuery(q.Get("offset")))
	}

	if v := q.Get("isOpen"); v != "" {
		if open, err := strconv.ParseBool(v); err == nil {
			f.IsOpen = &open
		}
	}
	return f
}

func intQuery(v string) int {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}
