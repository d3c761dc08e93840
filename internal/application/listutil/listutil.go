// Package listutil parses list query parameters and pages in-memory results.
package listutil

import (
	"net/url"
	"slices"
	"strconv"
)

// PageParams carries pagination parameters parsed from a request.
type PageParams struct {
	Page    int // 1-indexed
	PerPage int
}

// SortParams carries sorting parameters parsed from a request.
type SortParams struct {
	Sort string // column name, empty for the default order
	Dir  string // "asc" or "desc"
}

// FilterParams carries search and filter parameters.
type FilterParams struct {
	Search  string            // free-text search
	Filters map[string]string // exact-match filters, e.g. grupoPequeno=true
}

// ListParams combines all list parameters.
type ListParams struct {
	PageParams
	SortParams
	FilterParams
}

// PageInfo carries pagination metadata for the response.
type PageInfo struct {
	Page       int `json:"page"`
	PerPage    int `json:"perPage"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// DefaultPerPage is the page size used when none or an invalid one is given.
const DefaultPerPage = 50

// PerPageOptions are the allowed page sizes.
var PerPageOptions = []int{20, 50, 100, 200}

// ParseListParams parses page, sort and filter parameters from URL query values.
// PRE: none
// POST: Page >= 1, PerPage is one of PerPageOptions, Sort is allowed or empty,
// Dir is "asc" or "desc", Filters holds only filterKeys
func ParseListParams(q url.Values, allowedSortCols []string, filterKeys []string) ListParams {
	page, _ := strconv.Atoi(q.Get("page"))
	if page < 1 {
		page = 1
	}
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	if !slices.Contains(PerPageOptions, perPage) {
		perPage = DefaultPerPage
	}

	sort := q.Get("sort")
	if !slices.Contains(allowedSortCols, sort) {
		sort = ""
	}
	dir := q.Get("dir")
	if dir != "desc" {
		dir = "asc"
	}

	filters := make(map[string]string)
	for _, key := range filterKeys {
		if v := q.Get(key); v != "" {
			filters[key] = v
		}
	}

	return ListParams{
		PageParams:   PageParams{Page: page, PerPage: perPage},
		SortParams:   SortParams{Sort: sort, Dir: dir},
		FilterParams: FilterParams{Search: q.Get("q"), Filters: filters},
	}
}

// NewPageInfo computes pagination metadata.
// PRE: total >= 0
// POST: TotalPages >= 1; Page is clamped to [1, TotalPages]
func NewPageInfo(page, perPage, total int) PageInfo {
	if perPage < 1 {
		perPage = DefaultPerPage
	}
	totalPages := max((total+perPage-1)/perPage, 1)
	page = min(max(page, 1), totalPages)
	return PageInfo{Page: page, PerPage: perPage, Total: total, TotalPages: totalPages}
}

// Offset returns the index of the first item on the current page.
func (p PageInfo) Offset() int {
	return (p.Page - 1) * p.PerPage
}

// Paginate returns the slice of items on the page described by p.
// PRE: p was built by NewPageInfo with total == len(items)
// POST: Returns at most p.PerPage items
func Paginate[T any](items []T, p PageInfo) []T {
	start := min(p.Offset(), len(items))
	end := min(start+p.PerPage, len(items))
	return items[start:end]
}
