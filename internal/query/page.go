package query

import (
	"strings"

	"github.com/synesthesie/imagemeta/internal/apperr"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Sortable asset columns.
const (
	SortCreatedAt = "createdAt"
	SortUpdatedAt = "updatedAt"
)

// Sort orders search results. Ties are always broken by asset id.
type Sort struct {
	Field string `json:"field"`
	Desc  bool   `json:"desc"`
}

// DefaultSort lists the newest assets first.
var DefaultSort = Sort{Field: SortCreatedAt, Desc: true}

// ParseSort reads "createdAt", "-createdAt", "updatedAt" or "-updatedAt".
// An empty string yields DefaultSort.
func ParseSort(s string) (Sort, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultSort, nil
	}
	out := Sort{}
	if strings.HasPrefix(s, "-") {
		out.Desc = true
		s = s[1:]
	}
	switch s {
	case SortCreatedAt, SortUpdatedAt:
		out.Field = s
		return out, nil
	}
	return Sort{}, apperr.InvalidRequest.New("unsupported sort %q", s)
}

// String is the inverse of ParseSort.
func (s Sort) String() string {
	if s.Desc {
		return "-" + s.Field
	}
	return s.Field
}

// Page selects a window of search results.
type Page struct {
	Limit  int  `json:"limit"`
	Offset int  `json:"offset"`
	Sort   Sort `json:"sort"`
}

// NewPage clamps limit and offset into their valid ranges.
func NewPage(limit, offset int, sort Sort) Page {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if offset < 0 {
		offset = 0
	}
	if sort.Field == "" {
		sort = DefaultSort
	}
	return Page{Limit: limit, Offset: offset, Sort: sort}
}
