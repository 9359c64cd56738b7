package model

const (
	DefaultLimit = 10
	MaxLimit     = 100
)

// Pagination is the metadata block attached to collection responses.
type Pagination struct {
	TotalCount  int  `json:"totalCount"`
	Limit       int  `json:"limit"`
	Offset      int  `json:"offset"`
	TotalPages  int  `json:"totalPages"`
	CurrentPage int  `json:"currentPage"`
	HasNext     bool `json:"hasNext"`
	HasPrevious bool `json:"hasPrevious"`
}

// NewPagination computes pagination metadata from a total count and the
// requested window. Limit and offset are assumed already clamped.
func NewPagination(total, limit, offset int) Pagination {
	if limit < 1 {
		limit = DefaultLimit
	}
	if offset < 0 {
		offset = 0
	}
	totalPages := (total + limit - 1) / limit
	return Pagination{
		TotalCount:  total,
		Limit:       limit,
		Offset:      offset,
		TotalPages:  totalPages,
		CurrentPage: offset/limit + 1,
		HasNext:     offset+limit < total,
		HasPrevious: offset > 0,
	}
}

// ClampLimit bounds a requested page size to [1, MaxLimit], falling back to
// the default when unset or invalid.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// ClampOffset bounds a requested offset to >= 0.
func ClampOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}

// OffsetFromPage translates a 1-based page number into an offset.
func OffsetFromPage(page, limit int) int {
	if page < 1 {
		page = 1
	}
	return (page - 1) * limit
}
